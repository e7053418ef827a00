// Package outbox delivers messages that could not be posted because the
// backend was unreachable.
package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matheus3301/confchat/internal/bus"
	"github.com/matheus3301/confchat/internal/httpapi"
	"github.com/matheus3301/confchat/internal/model"
	"github.com/matheus3301/confchat/internal/status"
	"github.com/matheus3301/confchat/internal/store"
)

// Poster posts one message to the backend.
type Poster interface {
	SendMessage(ctx context.Context, req model.SendRequest) (model.Message, error)
}

// Queued is the payload of message.queued.
type Queued struct {
	ClientMsgID string
	Request     model.SendRequest
}

// Ack is the payload of message.send_ack.
type Ack struct {
	ClientMsgID string
	Message     model.Message
}

// Failure is the payload of message.send_failed.
type Failure struct {
	ClientMsgID string
	SessionID   int64
	Err         string
}

// Config tunes the sender. Zero values take defaults.
type Config struct {
	PollInterval time.Duration // default 500ms
	MaxAttempts  int           // default 5
}

// Sender drains the outbox through the serialized REST client. It polls on
// a ticker and also flushes as soon as the socket reports CONNECTED.
type Sender struct {
	db     *store.DB
	poster Poster
	bus    *bus.Bus
	cfg    Config
	logger *zap.Logger
	cancel context.CancelFunc
	done   chan struct{}
	wake   chan struct{}
	// flushMu keeps one drain pass at a time.
	flushMu sync.Mutex
}

// NewSender creates a new outbox sender.
func NewSender(db *store.DB, poster Poster, b *bus.Bus, cfg Config, logger *zap.Logger) *Sender {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		db:     db,
		poster: poster,
		bus:    b,
		cfg:    cfg,
		logger: logger,
		wake:   make(chan struct{}, 1),
	}
}

// Enqueue stores req for delivery and returns its client message id.
func (s *Sender) Enqueue(req model.SendRequest) (string, error) {
	if req.Type == "" {
		req.Type = model.TypeText
	}
	id := uuid.NewString()
	err := s.db.QueueOutbox(store.OutboxEntry{
		ClientMsgID: id,
		SessionID:   req.SessionID,
		AttendeeID:  req.AttendeeID,
		Content:     req.Content,
		MessageType: string(req.Type),
	})
	if err != nil {
		return "", err
	}
	s.logger.Info("message queued", zap.String("client_msg_id", id), zap.Int64("session_id", req.SessionID))
	s.bus.Publish(bus.NewEvent(bus.KindMessageQueued, Queued{ClientMsgID: id, Request: req}))
	s.Wake()
	return id, nil
}

// Wake requests a drain pass without waiting for the next tick.
func (s *Sender) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Start begins polling the outbox for pending messages.
func (s *Sender) Start(ctx context.Context) {
	if n, err := s.db.ResetStaleSending(); err != nil {
		s.logger.Error("failed to reset stale outbox entries", zap.Error(err))
	} else if n > 0 {
		s.logger.Info("requeued stale outbox entries", zap.Int64("count", n))
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	states, unsub := s.bus.Subscribe(bus.KindSocketStateChanged, 8)
	go func() {
		defer close(s.done)
		defer unsub()
		s.loop(ctx, states)
	}()
}

// Stop stops the sender loop and waits for an in-flight drain pass to
// return, so the store can be closed afterwards.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
		s.cancel = nil
	}
}

func (s *Sender) loop(ctx context.Context, states <-chan bus.Event) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.ProcessPending(ctx)
		case <-s.wake:
			s.ProcessPending(ctx)
		case evt := <-states:
			if change, ok := evt.Payload.(status.StatusChange); ok && change.To == status.Connected {
				s.ProcessPending(ctx)
			}
		case <-ctx.Done():
			return
		}
	}
}

// ProcessPending posts queued entries in order. A transport failure stops
// the pass so later entries are not posted ahead of earlier ones.
func (s *Sender) ProcessPending(ctx context.Context) {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	pending, err := s.db.PendingOutbox()
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return
	}

	for _, entry := range pending {
		if ctx.Err() != nil {
			return
		}
		if err := s.db.MarkOutboxSending(entry.ClientMsgID); err != nil {
			s.logger.Error("failed to mark sending", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
			continue
		}

		msg, err := s.poster.SendMessage(ctx, model.SendRequest{
			SessionID:  entry.SessionID,
			Content:    entry.Content,
			Type:       model.MessageType(entry.MessageType),
			AttendeeID: entry.AttendeeID,
		})
		if err != nil {
			attempts := entry.Attempts + 1
			if httpapi.IsNetworkError(err) && attempts < s.cfg.MaxAttempts {
				s.logger.Warn("outbox send deferred", zap.Error(err),
					zap.String("client_msg_id", entry.ClientMsgID), zap.Int("attempts", attempts))
				_ = s.db.RequeueOutbox(entry.ClientMsgID, err.Error())
				return
			}
			s.fail(entry, err)
			continue
		}

		if err := s.db.MarkOutboxSent(entry.ClientMsgID, msg.ID); err != nil {
			s.logger.Error("failed to mark sent", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
		}
		s.logger.Info("message sent", zap.String("client_msg_id", entry.ClientMsgID), zap.String("server_msg_id", msg.ID))
		s.bus.Publish(bus.NewEvent(bus.KindMessageSendAck, Ack{ClientMsgID: entry.ClientMsgID, Message: msg}))
	}
}

func (s *Sender) fail(entry store.OutboxEntry, err error) {
	s.logger.Error("failed to send message", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
	_ = s.db.MarkOutboxFailed(entry.ClientMsgID, err.Error())
	s.bus.Publish(bus.NewEvent(bus.KindMessageSendFailed, Failure{
		ClientMsgID: entry.ClientMsgID,
		SessionID:   entry.SessionID,
		Err:         err.Error(),
	}))
}
