package api

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/matheus3301/confchat/internal/debounce"
	"github.com/matheus3301/confchat/internal/messaging"
	"github.com/matheus3301/confchat/internal/model"
	"github.com/matheus3301/confchat/internal/status"
	"github.com/matheus3301/confchat/internal/store"
)

// Search scopes.
const (
	ScopeContacts = "contacts"
	ScopeAll      = "all"
	ScopeMessages = "messages"
)

// Coordinator is the messaging surface served by the daemon.
type Coordinator interface {
	LoadContacts(ctx context.Context) error
	SelectContact(ctx context.Context, contact model.Contact) error
	SendMessage(ctx context.Context, content string, typ model.MessageType) (model.Message, error)
	SearchContacts(ctx context.Context, query string) error
	SearchAllUsers(ctx context.Context, query string) error
	ResetSearch(ctx context.Context) error
	MarkAsRead(ctx context.Context, messageID string) error
	Contacts() []model.Contact
	Messages() []model.Message
	Selected() (model.Contact, bool)
	SessionID() int64
	Phase() status.State
	Err() error
}

// Socket is the realtime connection surface served by the daemon.
type Socket interface {
	State() status.State
	Attempts() int
	Err() error
	Reconnect(ctx context.Context) error
}

// Service implements MessagingServer.
type Service struct {
	profile   string
	startedAt time.Time
	coord     Coordinator
	socket    Socket
	db        *store.DB
	search    *debounce.Executor[*structpb.Struct]
	logger    *zap.Logger
}

// NewService creates the control service. Searches are debounced through search.
func NewService(profile string, coord Coordinator, socket Socket, db *store.DB, search *debounce.Executor[*structpb.Struct], logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		profile:   profile,
		startedAt: time.Now(),
		coord:     coord,
		socket:    socket,
		db:        db,
		search:    search,
		logger:    logger,
	}
}

func (s *Service) Status(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	resp := map[string]any{
		"profile":            s.profile,
		"uptime_ms":          time.Since(s.startedAt).Milliseconds(),
		"socket_state":       string(s.socket.State()),
		"reconnect_attempts": s.socket.Attempts(),
		"phase":              string(s.coord.Phase()),
		"session_id":         s.coord.SessionID(),
		"search_loading":     s.search.IsLoading(),
	}
	if err := s.socket.Err(); err != nil {
		resp["socket_error"] = err.Error()
	}
	if err := s.coord.Err(); err != nil {
		resp["last_error"] = err.Error()
	}
	if c, ok := s.coord.Selected(); ok {
		resp["selected_contact"] = contactToMap(c)
	}
	if s.db != nil {
		if n, err := s.db.MessageCount(); err == nil {
			resp["cached_messages"] = n
		}
		if pending, err := s.db.PendingOutbox(); err == nil {
			resp["pending_outbox"] = len(pending)
		}
	}
	return reply(resp)
}

func (s *Service) ListContacts(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	contacts := s.coord.Contacts()
	if flag(in, "refresh") || len(contacts) == 0 {
		if err := s.coord.LoadContacts(ctx); err != nil && len(s.coord.Contacts()) == 0 {
			return nil, toStatus("load contacts", err)
		}
		contacts = s.coord.Contacts()
	}
	return reply(map[string]any{"contacts": contactList(contacts)})
}

func (s *Service) SelectContact(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id := num(in, "contact_id")
	if id == 0 {
		return nil, grpcstatus.Error(codes.InvalidArgument, "contact_id is required")
	}

	var contact *model.Contact
	for _, c := range s.coord.Contacts() {
		if c.ID == id {
			contact = &c
			break
		}
	}
	if contact == nil {
		return nil, grpcstatus.Errorf(codes.NotFound, "contact %d not in the current list", id)
	}

	if err := s.coord.SelectContact(ctx, *contact); err != nil {
		return nil, toStatus("select contact", err)
	}
	resp := map[string]any{
		"session_id": s.coord.SessionID(),
		"messages":   messageList(s.coord.Messages()),
	}
	if err := s.coord.Err(); err != nil {
		resp["warning"] = err.Error()
	}
	return reply(resp)
}

func (s *Service) SendMessage(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	content := str(in, "content")
	typ := model.MessageType(str(in, "type"))
	if typ != "" && !typ.Valid() {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "unknown message type %q", typ)
	}
	if strings.TrimSpace(content) == "" {
		return reply(map[string]any{"sent": false, "queued": false})
	}

	msg, err := s.coord.SendMessage(ctx, content, typ)
	switch {
	case errors.Is(err, messaging.ErrQueued):
		return reply(map[string]any{"sent": false, "queued": true})
	case err != nil:
		return nil, toStatus("send message", err)
	}
	return reply(map[string]any{"sent": true, "queued": false, "message": messageToMap(msg)})
}

// Search runs a debounced search. A search replaced by a newer one before
// the quiet period ends fails with codes.Aborted.
func (s *Service) Search(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	query := str(in, "query")
	scope := str(in, "scope")
	if scope == "" {
		scope = ScopeContacts
	}

	var op debounce.Op[*structpb.Struct]
	switch scope {
	case ScopeContacts, ScopeAll:
		op = func(ctx context.Context) (*structpb.Struct, error) {
			var err error
			if scope == ScopeAll {
				err = s.coord.SearchAllUsers(ctx, query)
			} else {
				err = s.coord.SearchContacts(ctx, query)
			}
			if err != nil {
				return nil, err
			}
			return reply(map[string]any{"contacts": contactList(s.coord.Contacts())})
		}
	case ScopeMessages:
		if s.db == nil {
			return nil, grpcstatus.Error(codes.Unavailable, "message cache not available")
		}
		sessionID := num(in, "session_id")
		limit := int(num(in, "limit"))
		op = func(context.Context) (*structpb.Struct, error) {
			if strings.TrimSpace(query) == "" {
				return reply(map[string]any{"messages": []any{}})
			}
			msgs, err := s.db.SearchMessages(query, sessionID, limit)
			if err != nil {
				return nil, err
			}
			return reply(map[string]any{"messages": messageList(msgs)})
		}
	default:
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "unknown search scope %q", scope)
	}

	resp, err := s.search.Execute(ctx, op)
	if err != nil {
		s.logger.Debug("search did not complete", zap.String("query", query), zap.Error(err))
		return nil, toStatus("search", err)
	}
	return resp, nil
}

func (s *Service) ResetSearch(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	s.search.Cancel()
	s.search.ClearError()
	if err := s.coord.ResetSearch(ctx); err != nil {
		return nil, toStatus("reset search", err)
	}
	return reply(map[string]any{"contacts": contactList(s.coord.Contacts())})
}

func (s *Service) ListMessages(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	limit := int(num(in, "limit"))
	if limit <= 0 {
		limit = 50
	}
	sessionID := num(in, "session_id")
	active := s.coord.SessionID()
	if sessionID == 0 {
		sessionID = active
	}
	if sessionID == 0 {
		return nil, toStatus("list messages", messaging.ErrNoSession)
	}

	var msgs []model.Message
	if sessionID == active && !flag(in, "cached") && num(in, "before_unix_ms") == 0 {
		msgs = s.coord.Messages()
		if len(msgs) > limit {
			msgs = msgs[len(msgs)-limit:]
		}
	} else {
		if s.db == nil {
			return nil, grpcstatus.Error(codes.Unavailable, "message cache not available")
		}
		var before time.Time
		if ms := num(in, "before_unix_ms"); ms > 0 {
			before = time.UnixMilli(ms)
		}
		var err error
		msgs, err = s.db.ListMessages(sessionID, before, limit)
		if err != nil {
			return nil, grpcstatus.Errorf(codes.Internal, "list messages: %v", err)
		}
	}
	return reply(map[string]any{
		"session_id": sessionID,
		"messages":   messageList(msgs),
		"has_more":   len(msgs) == limit,
	})
}

func (s *Service) MarkRead(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id := str(in, "message_id")
	if id == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "message_id is required")
	}
	if err := s.coord.MarkAsRead(ctx, id); err != nil {
		return nil, toStatus("mark read", err)
	}
	return reply(map[string]any{"message_id": id, "is_read": true})
}

func (s *Service) Reconnect(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if err := s.socket.Reconnect(ctx); err != nil {
		return nil, toStatus("reconnect", err)
	}
	return reply(map[string]any{"socket_state": string(s.socket.State())})
}
