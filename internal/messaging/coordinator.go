// Package messaging keeps one active conversation in sync: the contact list,
// the selected session and its messages, merged from REST history and live
// socket pushes.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matheus3301/confchat/internal/bus"
	"github.com/matheus3301/confchat/internal/clock"
	"github.com/matheus3301/confchat/internal/httpapi"
	"github.com/matheus3301/confchat/internal/model"
	"github.com/matheus3301/confchat/internal/outbox"
	"github.com/matheus3301/confchat/internal/realtime"
	"github.com/matheus3301/confchat/internal/status"
)

var (
	// ErrNoSession is returned by operations that need a selected contact.
	ErrNoSession = errors.New("no active conversation")
	// ErrQueued means the backend was unreachable and the message was
	// stored for later delivery.
	ErrQueued = errors.New("message queued for delivery")
	// ErrStale means a newer selection replaced this one before it finished.
	ErrStale = errors.New("selection superseded")
)

// TempIDPrefix marks ids assigned locally when the backend returned none.
const TempIDPrefix = "temp-"

// FallbackSessionOffset derives a placeholder session id from the contact id
// when the backend cannot resolve one.
const FallbackSessionOffset = 1000

// API is the subset of the REST client the coordinator needs.
type API interface {
	UsersWithMessages(ctx context.Context, conferenceID int64) ([]model.Contact, error)
	UsersByCategory(ctx context.Context, conferenceID int64) ([]model.Contact, error)
	GetOrCreateSession(ctx context.Context, conferenceID, user1, user2 int64) (int64, error)
	ConversationMessages(ctx context.Context, sessionID int64, limit, offset int) ([]model.Message, error)
	SendMessage(ctx context.Context, req model.SendRequest) (model.Message, error)
	MarkMessageRead(ctx context.Context, messageID string) error
}

// Socket is the subset of the realtime client the coordinator needs.
type Socket interface {
	IsConnected() bool
	JoinRoom(room string) error
	LeaveRoom(room string) error
	Emit(event string, data any) error
	JoinConversation(sessionID, userID int64) error
	LeaveConversation(sessionID, userID int64) error
	SetTyping(sessionID, userID int64, typing bool) error
	StopTyping(sessionID, userID int64) error
	MarkMessageRead(messageID string, userID int64) error
}

// Cache serves history and contacts when the backend is unavailable.
type Cache interface {
	ListMessages(sessionID int64, before time.Time, limit int) ([]model.Message, error)
	ListContacts(conferenceID int64) ([]model.Contact, error)
}

// Outbox stores messages that could not be posted.
type Outbox interface {
	Enqueue(req model.SendRequest) (string, error)
}

// Config scopes the coordinator to one user in one conference.
type Config struct {
	ConferenceID int64
	UserID       int64
	HistoryLimit int // default 50
}

// Options carries optional collaborators.
type Options struct {
	Cache  Cache
	Outbox Outbox
	Clock  clock.Clock
}

// SessionRoom returns the room name that carries a session's live messages.
func SessionRoom(sessionID int64) string {
	return fmt.Sprintf("session:%d", sessionID)
}

// Coordinator owns the working contact list and at most one active session.
type Coordinator struct {
	cfg    Config
	api    API
	socket Socket
	bus    *bus.Bus
	cache  Cache
	outbox Outbox
	clock  clock.Clock
	log    *zap.Logger
	phase  *status.Machine

	mu        sync.Mutex
	gen       uint64
	contacts  []model.Contact
	selected  *model.Contact
	sessionID int64
	messages  []model.Message
	typing    map[int64]struct{}
	isTyping  bool
	searching bool
	err       error

	// roomMu orders room leaves and joins across concurrent selections.
	roomMu sync.Mutex
	joined int64

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a coordinator. Call Start to receive live events.
func New(cfg Config, api API, socket Socket, b *bus.Bus, logger *zap.Logger, opts Options) *Coordinator {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 50
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		cfg:    cfg,
		api:    api,
		socket: socket,
		bus:    b,
		cache:  opts.Cache,
		outbox: opts.Outbox,
		clock:  clock.OrReal(opts.Clock),
		log:    logger.Named("messaging"),
		phase:  status.NewConversationMachine(b),
		typing: make(map[int64]struct{}),
	}
}

// Start subscribes to socket pushes and outbox results.
func (c *Coordinator) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	rt, unsubRT := c.bus.Subscribe(bus.NamespaceRealtime, 256)
	results, unsubResults := c.bus.Subscribe(bus.NamespaceMessage, 64)

	go func() {
		defer close(c.done)
		defer unsubRT()
		defer unsubResults()
		for {
			select {
			case evt := <-rt:
				c.handleEvent(evt)
			case evt := <-results:
				c.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Close leaves the active session's room and returns to IDLE. The socket
// keeps its own connection state.
func (c *Coordinator) Close() {
	if c.cancel != nil {
		c.cancel()
		<-c.done
		c.cancel = nil
	}

	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.selected = nil
	c.sessionID = 0
	c.messages = nil
	c.typing = make(map[int64]struct{})
	c.isTyping = false
	c.mu.Unlock()

	c.leaveJoined(gen)
	if !c.phase.Is(status.Idle) {
		_ = c.phase.Transition(status.Idle)
	}
}

// LoadContacts replaces the working contact set with the conference's
// contacts. On failure the previous set is kept, or the cached set is used
// when there was none.
func (c *Coordinator) LoadContacts(ctx context.Context) error {
	contacts, err := c.api.UsersWithMessages(ctx, c.cfg.ConferenceID)
	if err != nil {
		c.log.Warn("failed to load contacts", zap.Error(err))
		c.setErr(fmt.Errorf("load contacts: %w", err))
		c.fallbackContacts()
		return err
	}

	snap := cloneContacts(contacts)
	c.mu.Lock()
	c.contacts = contacts
	c.mu.Unlock()

	c.bus.Publish(bus.NewEvent(bus.KindContactsLoaded, ContactsLoaded{
		ConferenceID: c.cfg.ConferenceID,
		Contacts:     snap,
	}))
	return nil
}

func (c *Coordinator) fallbackContacts() {
	if c.cache == nil {
		return
	}
	c.mu.Lock()
	empty := len(c.contacts) == 0
	c.mu.Unlock()
	if !empty {
		return
	}
	cached, err := c.cache.ListContacts(c.cfg.ConferenceID)
	if err != nil || len(cached) == 0 {
		return
	}
	c.mu.Lock()
	if len(c.contacts) == 0 {
		c.contacts = cached
	}
	c.mu.Unlock()
}

// SearchContacts filters the conference's contacts by name or email. An
// empty query leaves the current results alone.
func (c *Coordinator) SearchContacts(ctx context.Context, query string) error {
	return c.search(ctx, query, c.api.UsersWithMessages)
}

// SearchAllUsers filters every user reachable in the conference by name or
// email. An empty query leaves the current results alone.
func (c *Coordinator) SearchAllUsers(ctx context.Context, query string) error {
	return c.search(ctx, query, c.api.UsersByCategory)
}

func (c *Coordinator) search(ctx context.Context, query string, list func(context.Context, int64) ([]model.Contact, error)) error {
	if strings.TrimSpace(query) == "" {
		return nil
	}

	c.mu.Lock()
	c.searching = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.searching = false
		c.mu.Unlock()
	}()

	all, err := list(ctx, c.cfg.ConferenceID)
	if err != nil {
		c.setErr(fmt.Errorf("search contacts: %w", err))
		return err
	}
	var found []model.Contact
	for _, ct := range all {
		if ct.Matches(query) {
			found = append(found, ct)
		}
	}

	c.mu.Lock()
	c.contacts = found
	c.mu.Unlock()
	return nil
}

// ResetSearch restores the unfiltered contact list.
func (c *Coordinator) ResetSearch(ctx context.Context) error {
	c.mu.Lock()
	c.searching = false
	c.mu.Unlock()
	return c.LoadContacts(ctx)
}

// SelectContact makes contact the active conversation: it resolves the
// session id, moves the live subscription to the session's room and loads
// its history. A failed resolution falls back to a placeholder session id.
func (c *Coordinator) SelectContact(ctx context.Context, contact model.Contact) error {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	selected := contact
	c.selected = &selected
	c.sessionID = 0
	c.messages = nil
	c.typing = make(map[int64]struct{})
	c.isTyping = false
	_ = c.phase.Transition(status.Resolving)
	c.mu.Unlock()

	c.leaveJoined(gen)

	sid, err := c.api.GetOrCreateSession(ctx, c.cfg.ConferenceID, c.cfg.UserID, contact.ID)
	if err != nil {
		sid = contact.ID + FallbackSessionOffset
		c.log.Warn("session resolution failed, using placeholder",
			zap.Error(err), zap.Int64("contact_id", contact.ID), zap.Int64("session_id", sid))
	}

	if !c.joinSession(gen, sid) {
		return ErrStale
	}

	msgs, fromAPI, err := c.loadHistory(ctx, sid)

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return ErrStale
	}
	c.messages = msgs
	snap := cloneMessages(msgs)
	_ = c.phase.Transition(status.Ready)
	c.mu.Unlock()

	if fromAPI {
		c.bus.Publish(bus.NewEvent(bus.KindHistoryLoaded, HistoryLoaded{SessionID: sid, Messages: snap}))
	}
	if err != nil {
		c.setErr(fmt.Errorf("load messages: %w", err))
	}
	return nil
}

// joinSession records sid as the active session and joins its room, unless
// a newer selection has started.
func (c *Coordinator) joinSession(gen uint64, sid int64) bool {
	c.roomMu.Lock()
	defer c.roomMu.Unlock()

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return false
	}
	c.sessionID = sid
	_ = c.phase.Transition(status.Loading)
	c.mu.Unlock()

	if c.joined != 0 && c.joined != sid {
		c.leaveLocked(c.joined)
	}
	if err := c.socket.JoinRoom(SessionRoom(sid)); err != nil {
		c.log.Warn("join room failed", zap.Error(err), zap.Int64("session_id", sid))
	}
	if c.socket.IsConnected() {
		_ = c.socket.JoinConversation(sid, c.cfg.UserID)
	}
	c.joined = sid
	return true
}

// leaveJoined leaves the joined room on behalf of selection gen. A newer
// selection owns the room by then and is left alone.
func (c *Coordinator) leaveJoined(gen uint64) {
	c.roomMu.Lock()
	defer c.roomMu.Unlock()
	c.mu.Lock()
	stale := gen != c.gen
	c.mu.Unlock()
	if stale {
		return
	}
	if c.joined != 0 {
		c.leaveLocked(c.joined)
		c.joined = 0
	}
}

func (c *Coordinator) leaveLocked(sid int64) {
	if err := c.socket.LeaveRoom(SessionRoom(sid)); err != nil {
		c.log.Warn("leave room failed", zap.Error(err), zap.Int64("session_id", sid))
	}
	if c.socket.IsConnected() {
		_ = c.socket.LeaveConversation(sid, c.cfg.UserID)
	}
}

// loadHistory fetches a session's latest messages, falling back to the
// local cache. fromAPI reports whether the backend answered.
func (c *Coordinator) loadHistory(ctx context.Context, sid int64) (msgs []model.Message, fromAPI bool, err error) {
	msgs, err = c.api.ConversationMessages(ctx, sid, c.cfg.HistoryLimit, 0)
	if err == nil {
		for i := range msgs {
			msgs[i] = c.normalize(msgs[i], sid)
		}
		return msgs, true, nil
	}

	c.log.Warn("failed to load messages", zap.Error(err), zap.Int64("session_id", sid))
	if c.cache != nil {
		if cached, cerr := c.cache.ListMessages(sid, time.Time{}, c.cfg.HistoryLimit); cerr == nil {
			for i := range cached {
				cached[i] = c.normalize(cached[i], sid)
			}
			return cached, false, err
		}
	}
	return nil, false, err
}

// normalize fills a missing session id and maps the current user's own
// sender id to 0.
func (c *Coordinator) normalize(m model.Message, sid int64) model.Message {
	if m.SessionID == 0 {
		m.SessionID = sid
	}
	if c.cfg.UserID != 0 && m.SenderID == c.cfg.UserID {
		m.SenderID = 0
	}
	if m.Type == "" {
		m.Type = model.TypeText
	}
	return m
}

// SendMessage posts content to the active session and appends the confirmed
// message. Blank content is ignored. When the backend is unreachable and an
// outbox is configured the message is queued and ErrQueued is returned.
func (c *Coordinator) SendMessage(ctx context.Context, content string, typ model.MessageType) (model.Message, error) {
	if strings.TrimSpace(content) == "" {
		return model.Message{}, nil
	}
	if typ == "" {
		typ = model.TypeText
	}

	c.mu.Lock()
	sid := c.sessionID
	var contactID int64
	if c.selected != nil {
		contactID = c.selected.ID
	}
	c.mu.Unlock()
	if sid == 0 {
		return model.Message{}, ErrNoSession
	}

	req := model.SendRequest{SessionID: sid, Content: content, Type: typ, AttendeeID: contactID}
	sent, err := c.api.SendMessage(ctx, req)
	if err != nil {
		if c.outbox != nil && httpapi.IsNetworkError(err) {
			if _, qerr := c.outbox.Enqueue(req); qerr == nil {
				c.log.Info("backend unreachable, message queued", zap.Int64("session_id", sid))
				return model.Message{}, ErrQueued
			}
		}
		c.setErr(fmt.Errorf("send message: %w", err))
		return model.Message{}, err
	}

	if sent.ID == "" {
		sent.ID = TempIDPrefix + uuid.NewString()
	}
	if sent.Timestamp.IsZero() {
		sent.Timestamp = c.clock.Now()
	}
	sent.Content = content
	sent.Type = typ
	sent.AttendeeID = contactID
	sent = c.normalize(sent, sid)
	sent.SenderID = 0

	if c.socket.IsConnected() {
		_ = c.socket.Emit(realtime.EventSendMessage, map[string]any{
			"sessionId":  sid,
			"content":    content,
			"type":       typ,
			"attendeeId": contactID,
			"senderId":   c.cfg.UserID,
		})
	}

	c.mu.Lock()
	if c.sessionID == sid {
		c.appendLocked(sent)
	}
	c.updateContactLocked(contactID, func(ct *model.Contact) {
		ct.LastMessage = content
		ct.UnreadCount = 0
	})
	c.mu.Unlock()

	c.bus.Publish(bus.NewEvent(bus.KindMessageSent, Sent{Message: sent}))
	return sent, nil
}

// MarkAsRead marks a message read on the backend and notifies the sender.
func (c *Coordinator) MarkAsRead(ctx context.Context, messageID string) error {
	if err := c.api.MarkMessageRead(ctx, messageID); err != nil {
		c.log.Warn("failed to mark message read", zap.Error(err), zap.String("msg_id", messageID))
		return err
	}
	if c.cfg.UserID != 0 && c.socket.IsConnected() {
		_ = c.socket.MarkMessageRead(messageID, c.cfg.UserID)
	}
	c.mu.Lock()
	c.markReadLocked(messageID)
	c.mu.Unlock()
	return nil
}

// StartTyping announces that the user is typing in the active session.
func (c *Coordinator) StartTyping() error {
	c.mu.Lock()
	sid := c.sessionID
	if sid == 0 || c.cfg.UserID == 0 || c.isTyping {
		c.mu.Unlock()
		return nil
	}
	c.isTyping = true
	c.mu.Unlock()
	return c.socket.SetTyping(sid, c.cfg.UserID, true)
}

// StopTyping clears the typing indicator set by StartTyping.
func (c *Coordinator) StopTyping() error {
	c.mu.Lock()
	sid := c.sessionID
	if sid == 0 || c.cfg.UserID == 0 || !c.isTyping {
		c.mu.Unlock()
		return nil
	}
	c.isTyping = false
	c.mu.Unlock()
	return c.socket.StopTyping(sid, c.cfg.UserID)
}

func (c *Coordinator) handleEvent(evt bus.Event) {
	switch p := evt.Payload.(type) {
	case realtime.NewMessage:
		c.mergeLive(p.Message)
	case realtime.UserTyping:
		c.setTyping(p.SessionID, p.UserID, p.IsTyping)
	case realtime.UserStoppedTyping:
		c.setTyping(p.SessionID, p.UserID, false)
	case realtime.MessageRead:
		c.mu.Lock()
		c.markReadLocked(p.MessageID)
		c.mu.Unlock()
	case realtime.Connected:
		// Rooms are rejoined by the socket client; conversations are not.
		c.roomMu.Lock()
		if c.joined != 0 {
			_ = c.socket.JoinConversation(c.joined, c.cfg.UserID)
		}
		c.roomMu.Unlock()
	case outbox.Ack:
		c.mu.Lock()
		if p.Message.SessionID == c.sessionID && c.sessionID != 0 {
			m := c.normalize(p.Message, c.sessionID)
			m.SenderID = 0
			c.appendLocked(m)
			if c.selected != nil {
				c.updateContactLocked(c.selected.ID, func(ct *model.Contact) { ct.LastMessage = m.Content })
			}
		}
		c.mu.Unlock()
	case outbox.Failure:
		c.mu.Lock()
		if p.SessionID == c.sessionID {
			c.err = fmt.Errorf("send message: %s", p.Err)
		}
		c.mu.Unlock()
	}
}

// mergeLive appends a pushed message to the active session. Messages for
// any other session are dropped; untagged ones belong to the active session.
func (c *Coordinator) mergeLive(m model.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sessionID == 0 {
		return
	}
	if m.SessionID != 0 && m.SessionID != c.sessionID {
		c.log.Debug("dropping message for inactive session",
			zap.Int64("session_id", m.SessionID), zap.Int64("active", c.sessionID))
		return
	}
	m = c.normalize(m, c.sessionID)
	if !c.appendLocked(m) {
		return
	}
	if c.selected != nil && (m.AttendeeID == c.selected.ID || m.SenderID == c.selected.ID) {
		c.updateContactLocked(c.selected.ID, func(ct *model.Contact) { ct.LastMessage = m.Content })
	}
}

// appendLocked appends m unless an equivalent message is already present.
func (c *Coordinator) appendLocked(m model.Message) bool {
	for _, existing := range c.messages {
		if existing.SameAs(m) {
			return false
		}
	}
	c.messages = append(c.messages, m)
	return true
}

func (c *Coordinator) markReadLocked(messageID string) {
	for i := range c.messages {
		if c.messages[i].ID == messageID {
			c.messages[i].IsRead = true
		}
	}
}

func (c *Coordinator) updateContactLocked(id int64, fn func(*model.Contact)) {
	for i := range c.contacts {
		if c.contacts[i].ID == id {
			fn(&c.contacts[i])
		}
	}
	if c.selected != nil && c.selected.ID == id {
		fn(c.selected)
	}
}

func (c *Coordinator) setTyping(sessionID, userID int64, typing bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sessionID != c.sessionID || c.sessionID == 0 || userID == c.cfg.UserID {
		return
	}
	if typing {
		c.typing[userID] = struct{}{}
	} else {
		delete(c.typing, userID)
	}
}

func (c *Coordinator) setErr(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

// Contacts returns a copy of the working contact set.
func (c *Coordinator) Contacts() []model.Contact {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneContacts(c.contacts)
}

// Messages returns a copy of the active session's messages, oldest first.
func (c *Coordinator) Messages() []model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneMessages(c.messages)
}

// Selected returns the active contact, if any.
func (c *Coordinator) Selected() (model.Contact, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.selected == nil {
		return model.Contact{}, false
	}
	return *c.selected, true
}

// SessionID returns the active session id, or 0 while none is resolved.
func (c *Coordinator) SessionID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Phase returns the conversation phase.
func (c *Coordinator) Phase() status.State { return c.phase.Current() }

// Err returns the last recorded error.
func (c *Coordinator) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Coordinator) ClearError() {
	c.mu.Lock()
	c.err = nil
	c.mu.Unlock()
}

// TypingUsers returns the ids of other users typing in the active session.
func (c *Coordinator) TypingUsers() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]int64, 0, len(c.typing))
	for id := range c.typing {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// IsSearching reports whether a contact search is in flight.
func (c *Coordinator) IsSearching() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.searching
}

func cloneContacts(in []model.Contact) []model.Contact {
	if in == nil {
		return nil
	}
	return append([]model.Contact(nil), in...)
}

func cloneMessages(in []model.Message) []model.Message {
	if in == nil {
		return nil
	}
	return append([]model.Message(nil), in...)
}
