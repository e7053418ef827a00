package messaging

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/confchat/internal/model"
)

type fakeAPI struct {
	mu          sync.Mutex
	contacts    []model.Contact
	all         []model.Contact
	contactsErr error
	sessionErr  error
	block       map[int64]chan struct{}
	history     map[int64][]model.Message
	historyErr  error
	sendErr     error
	sent        []model.SendRequest
	listCalls   int
	read        []string
}

func (f *fakeAPI) UsersWithMessages(context.Context, int64) ([]model.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.contactsErr != nil {
		return nil, f.contactsErr
	}
	return append([]model.Contact(nil), f.contacts...), nil
}

func (f *fakeAPI) UsersByCategory(context.Context, int64) ([]model.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	return append([]model.Contact(nil), f.all...), nil
}

func (f *fakeAPI) GetOrCreateSession(_ context.Context, _, _, user2 int64) (int64, error) {
	f.mu.Lock()
	ch := f.block[user2]
	err := f.sessionErr
	f.mu.Unlock()
	if ch != nil {
		<-ch
	}
	if err != nil {
		return 0, err
	}
	return 100 + user2, nil
}

func (f *fakeAPI) ConversationMessages(_ context.Context, sessionID int64, _, _ int) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	return append([]model.Message(nil), f.history[sessionID]...), nil
}

func (f *fakeAPI) SendMessage(_ context.Context, req model.SendRequest) (model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, req)
	if f.sendErr != nil {
		return model.Message{}, f.sendErr
	}
	return model.Message{ID: fmt.Sprintf("%d", 500+len(f.sent)), SessionID: req.SessionID, SenderID: 7, Content: req.Content, Type: req.Type}, nil
}

func (f *fakeAPI) MarkMessageRead(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.read = append(f.read, id)
	return nil
}

func (f *fakeAPI) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// fakeSocket records every call as "<op> <args>".
type fakeSocket struct {
	mu        sync.Mutex
	connected bool
	calls     []string
}

func (s *fakeSocket) record(format string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, fmt.Sprintf(format, args...))
	return nil
}

func (s *fakeSocket) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *fakeSocket) JoinRoom(room string) error  { return s.record("join-room %s", room) }
func (s *fakeSocket) LeaveRoom(room string) error { return s.record("leave-room %s", room) }
func (s *fakeSocket) Emit(event string, _ any) error {
	return s.record("%s", event)
}
func (s *fakeSocket) JoinConversation(sid, uid int64) error {
	return s.record("join-conversation %d %d", sid, uid)
}
func (s *fakeSocket) LeaveConversation(sid, uid int64) error {
	return s.record("leave-conversation %d %d", sid, uid)
}
func (s *fakeSocket) SetTyping(sid, uid int64, typing bool) error {
	return s.record("typing %d %d %v", sid, uid, typing)
}
func (s *fakeSocket) StopTyping(sid, uid int64) error {
	return s.record("stop-typing %d %d", sid, uid)
}
func (s *fakeSocket) MarkMessageRead(id string, uid int64) error {
	return s.record("mark-message-read %s %d", id, uid)
}

func (s *fakeSocket) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

type fakeCache struct {
	messages map[int64][]model.Message
	contacts []model.Contact
}

func (c *fakeCache) ListMessages(sessionID int64, _ time.Time, _ int) ([]model.Message, error) {
	return append([]model.Message(nil), c.messages[sessionID]...), nil
}

func (c *fakeCache) ListContacts(int64) ([]model.Contact, error) {
	return append([]model.Contact(nil), c.contacts...), nil
}

type fakeOutbox struct {
	mu     sync.Mutex
	queued []model.SendRequest
}

func (o *fakeOutbox) Enqueue(req model.SendRequest) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.queued = append(o.queued, req)
	return fmt.Sprintf("c%d", len(o.queued)), nil
}
