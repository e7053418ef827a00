package messaging

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/confchat/internal/bus"
	"github.com/matheus3301/confchat/internal/clock"
	"github.com/matheus3301/confchat/internal/model"
	"github.com/matheus3301/confchat/internal/outbox"
	"github.com/matheus3301/confchat/internal/realtime"
	"github.com/matheus3301/confchat/internal/status"
)

const userID = 7

var (
	alice = model.Contact{ID: 1, Name: "Alice Nguyen", Email: "alice@conf.vn"}
	bob   = model.Contact{ID: 2, Name: "Bob Tran", Email: "bob@conf.vn"}
	carol = model.Contact{ID: 3, Name: "Carol Le", Email: "carol@example.com"}
)

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestCoordinator(t *testing.T, api *fakeAPI, sock *fakeSocket, opts Options) (*Coordinator, *bus.Bus) {
	t.Helper()
	b := bus.New()
	if opts.Clock == nil {
		opts.Clock = clock.NewFake(base)
	}
	c := New(Config{ConferenceID: 1, UserID: userID}, api, sock, b, zap.NewNop(), opts)
	c.Start(context.Background())
	t.Cleanup(c.Close)
	return c, b
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func indexOf(calls []string, call string) int {
	return slices.Index(calls, call)
}

func TestSelectContactSwitchesRooms(t *testing.T) {
	api := &fakeAPI{}
	sock := &fakeSocket{connected: true}
	c, _ := newTestCoordinator(t, api, sock, Options{})

	if err := c.SelectContact(context.Background(), alice); err != nil {
		t.Fatal(err)
	}
	if c.SessionID() != 101 {
		t.Fatalf("session = %d, want 101", c.SessionID())
	}
	if err := c.SelectContact(context.Background(), bob); err != nil {
		t.Fatal(err)
	}

	calls := sock.snapshot()
	leaveA := indexOf(calls, "leave-room session:101")
	joinB := indexOf(calls, "join-room session:102")
	if leaveA < 0 || joinB < 0 || leaveA > joinB {
		t.Errorf("calls = %v, want leave session:101 before join session:102", calls)
	}
	if indexOf(calls, "leave-conversation 101 7") < 0 || indexOf(calls, "join-conversation 102 7") < 0 {
		t.Errorf("calls = %v, want conversation leave/join emits", calls)
	}
	if c.Phase() != status.Ready {
		t.Errorf("phase = %s, want READY", c.Phase())
	}
}

func TestSelectContactDisconnectedSkipsConversationEmits(t *testing.T) {
	api := &fakeAPI{}
	sock := &fakeSocket{}
	c, _ := newTestCoordinator(t, api, sock, Options{})

	if err := c.SelectContact(context.Background(), alice); err != nil {
		t.Fatal(err)
	}
	calls := sock.snapshot()
	if !slices.Equal(calls, []string{"join-room session:101"}) {
		t.Errorf("calls = %v, want only the tracked room join", calls)
	}
}

func TestCrossSessionMessageDropped(t *testing.T) {
	api := &fakeAPI{}
	sock := &fakeSocket{connected: true}
	c, b := newTestCoordinator(t, api, sock, Options{})

	_ = c.SelectContact(context.Background(), alice)
	_ = c.SelectContact(context.Background(), bob)

	b.Publish(bus.NewEvent(realtime.KindNewMessage, realtime.NewMessage{
		Message: model.Message{ID: "1", SessionID: 101, SenderID: 1, Content: "for alice", Timestamp: base},
	}))
	b.Publish(bus.NewEvent(realtime.KindNewMessage, realtime.NewMessage{
		Message: model.Message{ID: "2", SessionID: 102, SenderID: 2, Content: "for bob", Timestamp: base},
	}))

	eventually(t, func() bool { return len(c.Messages()) > 0 }, "live message not merged")
	msgs := c.Messages()
	if len(msgs) != 1 || msgs[0].Content != "for bob" {
		t.Errorf("messages = %+v, want only the bob message", msgs)
	}
}

func TestUntaggedMessageBelongsToActiveSession(t *testing.T) {
	api := &fakeAPI{contacts: []model.Contact{alice}}
	sock := &fakeSocket{connected: true}
	c, b := newTestCoordinator(t, api, sock, Options{})
	_ = c.LoadContacts(context.Background())
	_ = c.SelectContact(context.Background(), alice)

	b.Publish(bus.NewEvent(realtime.KindNewMessage, realtime.NewMessage{
		Message: model.Message{ID: "9", SenderID: 1, Content: "hello", Timestamp: base},
	}))

	eventually(t, func() bool { return len(c.Messages()) == 1 }, "untagged message not merged")
	if m := c.Messages()[0]; m.SessionID != 101 {
		t.Errorf("session = %d, want 101", m.SessionID)
	}
	if got := c.Contacts()[0].LastMessage; got != "hello" {
		t.Errorf("preview = %q, want hello", got)
	}
}

func TestSendMessageBlankIsNoop(t *testing.T) {
	api := &fakeAPI{}
	c, _ := newTestCoordinator(t, api, &fakeSocket{}, Options{})
	_ = c.SelectContact(context.Background(), alice)

	for _, content := range []string{"", "   "} {
		msg, err := c.SendMessage(context.Background(), content, model.TypeText)
		if err != nil || msg.ID != "" {
			t.Errorf("SendMessage(%q) = %+v, %v", content, msg, err)
		}
	}
	if api.sentCount() != 0 {
		t.Errorf("sent = %d, want 0", api.sentCount())
	}
	if len(c.Messages()) != 0 {
		t.Errorf("messages = %+v, want none", c.Messages())
	}
}

func TestSendMessageWithoutSession(t *testing.T) {
	api := &fakeAPI{}
	c, _ := newTestCoordinator(t, api, &fakeSocket{}, Options{})

	if _, err := c.SendMessage(context.Background(), "hi", ""); !errors.Is(err, ErrNoSession) {
		t.Errorf("err = %v, want ErrNoSession", err)
	}
	if api.sentCount() != 0 {
		t.Error("no request expected")
	}
}

func TestSendMessageAppendsAndUpdatesPreview(t *testing.T) {
	api := &fakeAPI{contacts: []model.Contact{alice, bob}}
	sock := &fakeSocket{connected: true}
	c, _ := newTestCoordinator(t, api, sock, Options{})
	_ = c.LoadContacts(context.Background())
	_ = c.SelectContact(context.Background(), alice)

	msg, err := c.SendMessage(context.Background(), "xin chao", "")
	if err != nil {
		t.Fatal(err)
	}
	if msg.SenderID != 0 || msg.Type != model.TypeText || msg.AttendeeID != 1 {
		t.Errorf("msg = %+v", msg)
	}
	if !msg.Timestamp.Equal(base) {
		t.Errorf("timestamp = %v, want clock time", msg.Timestamp)
	}
	if got := api.sent[0]; got.SessionID != 101 || got.AttendeeID != 1 {
		t.Errorf("request = %+v", got)
	}
	if indexOf(sock.snapshot(), realtime.EventSendMessage) < 0 {
		t.Error("send-message not emitted")
	}
	if len(c.Messages()) != 1 {
		t.Errorf("messages = %d, want 1", len(c.Messages()))
	}
	if ct := c.Contacts()[0]; ct.LastMessage != "xin chao" || ct.UnreadCount != 0 {
		t.Errorf("contact = %+v", ct)
	}
}

func TestLoadContactsConcurrentWithSend(t *testing.T) {
	api := &fakeAPI{contacts: []model.Contact{alice, bob}}
	sock := &fakeSocket{connected: true}
	c, b := newTestCoordinator(t, api, sock, Options{})
	_ = c.LoadContacts(context.Background())
	_ = c.SelectContact(context.Background(), alice)

	events, unsub := b.Subscribe(bus.KindContactsLoaded, 64)
	defer unsub()
	stop := make(chan struct{})
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			select {
			case evt := <-events:
				for _, ct := range evt.Payload.(ContactsLoaded).Contacts {
					_ = ct.LastMessage
				}
			case <-stop:
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = c.LoadContacts(context.Background())
		}()
		go func() {
			defer wg.Done()
			if _, err := c.SendMessage(context.Background(), fmt.Sprintf("m%d", i), model.TypeText); err != nil {
				t.Errorf("SendMessage() error = %v", err)
			}
		}()
	}
	wg.Wait()
	close(stop)
	<-readerDone

	if n := len(c.Messages()); n != 20 {
		t.Errorf("messages = %d, want 20", n)
	}
	if len(c.Contacts()) != 2 {
		t.Errorf("contacts = %+v", c.Contacts())
	}
}

func TestLiveMergeSuppressesDuplicates(t *testing.T) {
	api := &fakeAPI{}
	c, b := newTestCoordinator(t, api, &fakeSocket{connected: true}, Options{})
	_ = c.SelectContact(context.Background(), alice)

	sent, err := c.SendMessage(context.Background(), "ping", model.TypeText)
	if err != nil {
		t.Fatal(err)
	}

	// Same id.
	b.Publish(bus.NewEvent(realtime.KindNewMessage, realtime.NewMessage{
		Message: model.Message{ID: sent.ID, SessionID: 101, SenderID: userID, Content: "ping", Timestamp: base},
	}))
	// Same content and sender within a second.
	b.Publish(bus.NewEvent(realtime.KindNewMessage, realtime.NewMessage{
		Message: model.Message{ID: "other", SessionID: 101, SenderID: userID, Content: "ping", Timestamp: base.Add(300 * time.Millisecond)},
	}))
	b.Publish(bus.NewEvent(realtime.KindNewMessage, realtime.NewMessage{
		Message: model.Message{ID: "pong", SessionID: 101, SenderID: 1, Content: "pong", Timestamp: base.Add(time.Second)},
	}))

	eventually(t, func() bool { return len(c.Messages()) >= 2 }, "reply not merged")
	msgs := c.Messages()
	if len(msgs) != 2 || msgs[1].Content != "pong" {
		t.Errorf("messages = %+v, want ping then pong", msgs)
	}
}

func TestSendMessageQueuesWhenOffline(t *testing.T) {
	api := &fakeAPI{sendErr: &url.Error{Op: "Post", URL: "http://conf/api", Err: errors.New("connection refused")}}
	ob := &fakeOutbox{}
	c, _ := newTestCoordinator(t, api, &fakeSocket{}, Options{Outbox: ob})
	_ = c.SelectContact(context.Background(), alice)

	_, err := c.SendMessage(context.Background(), "later", model.TypeText)
	if !errors.Is(err, ErrQueued) {
		t.Fatalf("err = %v, want ErrQueued", err)
	}
	if len(ob.queued) != 1 || ob.queued[0].SessionID != 101 || ob.queued[0].Content != "later" {
		t.Errorf("queued = %+v", ob.queued)
	}
	if c.Err() != nil {
		t.Errorf("Err = %v, want nil for queued sends", c.Err())
	}
}

func TestOutboxAckAppendsToActiveSession(t *testing.T) {
	c, b := newTestCoordinator(t, &fakeAPI{}, &fakeSocket{}, Options{})
	_ = c.SelectContact(context.Background(), alice)

	b.Publish(bus.NewEvent(bus.KindMessageSendAck, outbox.Ack{
		ClientMsgID: "c1",
		Message:     model.Message{ID: "77", SessionID: 102, Content: "other session", Timestamp: base},
	}))
	b.Publish(bus.NewEvent(bus.KindMessageSendAck, outbox.Ack{
		ClientMsgID: "c2",
		Message:     model.Message{ID: "78", SessionID: 101, SenderID: userID, Content: "delivered", Timestamp: base},
	}))

	eventually(t, func() bool { return len(c.Messages()) == 1 }, "ack not merged")
	if m := c.Messages()[0]; m.ID != "78" || m.SenderID != 0 {
		t.Errorf("message = %+v", m)
	}
}

func TestSendMessageAPIErrorRecorded(t *testing.T) {
	api := &fakeAPI{sendErr: errors.New("boom")}
	c, _ := newTestCoordinator(t, api, &fakeSocket{}, Options{Outbox: &fakeOutbox{}})
	_ = c.SelectContact(context.Background(), alice)

	if _, err := c.SendMessage(context.Background(), "x", ""); err == nil {
		t.Fatal("expected error")
	}
	if c.Err() == nil {
		t.Error("Err not recorded")
	}
	c.ClearError()
	if c.Err() != nil {
		t.Error("ClearError did not clear")
	}
}

func TestSelectContactFallbackSession(t *testing.T) {
	api := &fakeAPI{sessionErr: errors.New("503")}
	sock := &fakeSocket{connected: true}
	c, _ := newTestCoordinator(t, api, sock, Options{})

	eve := model.Contact{ID: 5, Name: "Eve"}
	if err := c.SelectContact(context.Background(), eve); err != nil {
		t.Fatal(err)
	}
	if c.SessionID() != 1005 {
		t.Errorf("session = %d, want 1005", c.SessionID())
	}
	if indexOf(sock.snapshot(), "join-room session:1005") < 0 {
		t.Errorf("calls = %v", sock.snapshot())
	}
}

func TestSelectContactStaleResultDiscarded(t *testing.T) {
	release := make(chan struct{})
	api := &fakeAPI{block: map[int64]chan struct{}{1: release}}
	sock := &fakeSocket{connected: true}
	c, _ := newTestCoordinator(t, api, sock, Options{})

	errc := make(chan error, 1)
	go func() { errc <- c.SelectContact(context.Background(), alice) }()

	eventually(t, func() bool { return c.Phase() == status.Resolving }, "first selection did not start")
	if err := c.SelectContact(context.Background(), bob); err != nil {
		t.Fatal(err)
	}
	close(release)

	if err := <-errc; !errors.Is(err, ErrStale) {
		t.Errorf("first selection err = %v, want ErrStale", err)
	}
	if c.SessionID() != 102 {
		t.Errorf("session = %d, want 102", c.SessionID())
	}
	if sel, _ := c.Selected(); sel.ID != bob.ID {
		t.Errorf("selected = %+v, want bob", sel)
	}
	if indexOf(sock.snapshot(), "join-room session:101") >= 0 {
		t.Errorf("stale selection joined its room: %v", sock.snapshot())
	}
}

func TestStaleSelectionKeepsNewerRoom(t *testing.T) {
	api := &fakeAPI{}
	sock := &fakeSocket{connected: true}
	c, _ := newTestCoordinator(t, api, sock, Options{})

	if err := c.SelectContact(context.Background(), alice); err != nil {
		t.Fatal(err)
	}
	c.mu.Lock()
	older := c.gen
	c.mu.Unlock()
	if err := c.SelectContact(context.Background(), bob); err != nil {
		t.Fatal(err)
	}

	c.leaveJoined(older)

	if indexOf(sock.snapshot(), "leave-room session:102") >= 0 {
		t.Errorf("older selection left the newer room: %v", sock.snapshot())
	}
	c.roomMu.Lock()
	joined := c.joined
	c.roomMu.Unlock()
	if joined != 102 {
		t.Errorf("joined = %d, want 102", joined)
	}
}

func TestSelectContactHistory(t *testing.T) {
	api := &fakeAPI{history: map[int64][]model.Message{
		101: {
			{ID: "1", SenderID: userID, Content: "mine", Timestamp: base},
			{ID: "2", SenderID: 1, Content: "theirs", Timestamp: base.Add(time.Minute)},
		},
	}}
	c, b := newTestCoordinator(t, api, &fakeSocket{}, Options{})
	loaded, unsub := b.Subscribe(bus.KindHistoryLoaded, 4)
	defer unsub()

	if err := c.SelectContact(context.Background(), alice); err != nil {
		t.Fatal(err)
	}
	msgs := c.Messages()
	if len(msgs) != 2 || msgs[0].SenderID != 0 || msgs[0].SessionID != 101 {
		t.Errorf("messages = %+v", msgs)
	}
	select {
	case evt := <-loaded:
		if h := evt.Payload.(HistoryLoaded); h.SessionID != 101 || len(h.Messages) != 2 {
			t.Errorf("history = %+v", h)
		}
	default:
		t.Error("history_loaded not published")
	}
}

func TestSelectContactHistoryFallsBackToCache(t *testing.T) {
	api := &fakeAPI{historyErr: errors.New("timeout")}
	cache := &fakeCache{messages: map[int64][]model.Message{
		101: {{ID: "1", SessionID: 101, Content: "cached", Timestamp: base}},
	}}
	c, _ := newTestCoordinator(t, api, &fakeSocket{}, Options{Cache: cache})

	if err := c.SelectContact(context.Background(), alice); err != nil {
		t.Fatal(err)
	}
	if msgs := c.Messages(); len(msgs) != 1 || msgs[0].Content != "cached" {
		t.Errorf("messages = %+v", msgs)
	}
	if c.Err() == nil {
		t.Error("history error not recorded")
	}
	if c.Phase() != status.Ready {
		t.Errorf("phase = %s", c.Phase())
	}
}

func TestLoadContactsFailureKeepsPrevious(t *testing.T) {
	api := &fakeAPI{contacts: []model.Contact{alice, bob}}
	c, _ := newTestCoordinator(t, api, &fakeSocket{}, Options{})

	if err := c.LoadContacts(context.Background()); err != nil {
		t.Fatal(err)
	}
	api.contactsErr = errors.New("down")
	if err := c.LoadContacts(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if got := c.Contacts(); len(got) != 2 {
		t.Errorf("contacts = %+v, want previous two", got)
	}
	if c.Err() == nil {
		t.Error("error not recorded")
	}
}

func TestLoadContactsFallsBackToCache(t *testing.T) {
	api := &fakeAPI{contactsErr: errors.New("down")}
	cache := &fakeCache{contacts: []model.Contact{carol}}
	c, _ := newTestCoordinator(t, api, &fakeSocket{}, Options{Cache: cache})

	_ = c.LoadContacts(context.Background())
	if got := c.Contacts(); len(got) != 1 || got[0].ID != carol.ID {
		t.Errorf("contacts = %+v", got)
	}
}

func TestSearch(t *testing.T) {
	api := &fakeAPI{
		contacts: []model.Contact{alice, bob},
		all:      []model.Contact{alice, bob, carol},
	}
	c, _ := newTestCoordinator(t, api, &fakeSocket{}, Options{})
	_ = c.LoadContacts(context.Background())

	if err := c.SearchContacts(context.Background(), "nguyen"); err != nil {
		t.Fatal(err)
	}
	if got := c.Contacts(); len(got) != 1 || got[0].ID != alice.ID {
		t.Errorf("search contacts = %+v", got)
	}

	calls := api.listCalls
	for _, q := range []string{"", "   "} {
		_ = c.SearchContacts(context.Background(), q)
		_ = c.SearchAllUsers(context.Background(), q)
	}
	if api.listCalls != calls {
		t.Error("empty query issued a request")
	}
	if got := c.Contacts(); len(got) != 1 {
		t.Errorf("empty query changed results: %+v", got)
	}

	if err := c.SearchAllUsers(context.Background(), "EXAMPLE.COM"); err != nil {
		t.Fatal(err)
	}
	if got := c.Contacts(); len(got) != 1 || got[0].ID != carol.ID {
		t.Errorf("search all = %+v", got)
	}
	if c.IsSearching() {
		t.Error("IsSearching after search finished")
	}

	if err := c.ResetSearch(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := c.Contacts(); len(got) != 2 {
		t.Errorf("after reset = %+v", got)
	}
}

func TestTypingAndReadEvents(t *testing.T) {
	api := &fakeAPI{history: map[int64][]model.Message{101: {{ID: "5", SenderID: 1, Content: "hi", Timestamp: base}}}}
	sock := &fakeSocket{connected: true}
	c, b := newTestCoordinator(t, api, sock, Options{})
	_ = c.SelectContact(context.Background(), alice)

	b.Publish(bus.NewEvent(realtime.KindUserTyping, realtime.UserTyping{SessionID: 101, UserID: 1, IsTyping: true}))
	b.Publish(bus.NewEvent(realtime.KindUserTyping, realtime.UserTyping{SessionID: 101, UserID: userID, IsTyping: true}))
	b.Publish(bus.NewEvent(realtime.KindUserTyping, realtime.UserTyping{SessionID: 999, UserID: 3, IsTyping: true}))
	eventually(t, func() bool { return len(c.TypingUsers()) == 1 }, "typing not tracked")
	if got := c.TypingUsers(); got[0] != 1 {
		t.Errorf("typing = %v", got)
	}

	b.Publish(bus.NewEvent(realtime.KindUserStoppedTyping, realtime.UserStoppedTyping{SessionID: 101, UserID: 1}))
	b.Publish(bus.NewEvent(realtime.KindMessageRead, realtime.MessageRead{MessageID: "5", UserID: 1}))
	eventually(t, func() bool { return len(c.TypingUsers()) == 0 && c.Messages()[0].IsRead }, "stop-typing or read not applied")
}

func TestStartStopTyping(t *testing.T) {
	sock := &fakeSocket{connected: true}
	c, _ := newTestCoordinator(t, &fakeAPI{}, sock, Options{})

	_ = c.StartTyping() // no session yet
	_ = c.SelectContact(context.Background(), alice)
	_ = c.StartTyping()
	_ = c.StartTyping()
	_ = c.StopTyping()
	_ = c.StopTyping()

	var typing []string
	for _, call := range sock.snapshot() {
		if call == "typing 101 7 true" || call == "stop-typing 101 7" {
			typing = append(typing, call)
		}
	}
	if !slices.Equal(typing, []string{"typing 101 7 true", "stop-typing 101 7"}) {
		t.Errorf("typing emits = %v", typing)
	}
}

func TestMarkAsRead(t *testing.T) {
	api := &fakeAPI{history: map[int64][]model.Message{101: {{ID: "5", SenderID: 1, Content: "hi", Timestamp: base}}}}
	sock := &fakeSocket{connected: true}
	c, _ := newTestCoordinator(t, api, sock, Options{})
	_ = c.SelectContact(context.Background(), alice)

	if err := c.MarkAsRead(context.Background(), "5"); err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(api.read, []string{"5"}) {
		t.Errorf("api read = %v", api.read)
	}
	if indexOf(sock.snapshot(), "mark-message-read 5 7") < 0 {
		t.Errorf("calls = %v", sock.snapshot())
	}
	if !c.Messages()[0].IsRead {
		t.Error("local message not marked read")
	}
}

func TestReconnectRejoinsConversation(t *testing.T) {
	sock := &fakeSocket{connected: true}
	c, b := newTestCoordinator(t, &fakeAPI{}, sock, Options{})
	_ = c.SelectContact(context.Background(), alice)

	b.Publish(bus.NewEvent(realtime.KindConnected, realtime.Connected{}))
	eventually(t, func() bool {
		n := 0
		for _, call := range sock.snapshot() {
			if call == "join-conversation 101 7" {
				n++
			}
		}
		return n == 2
	}, "conversation not rejoined after reconnect")
}

func TestCloseLeavesRoom(t *testing.T) {
	sock := &fakeSocket{connected: true}
	b := bus.New()
	c := New(Config{ConferenceID: 1, UserID: userID}, &fakeAPI{}, sock, b, nil, Options{})
	c.Start(context.Background())
	_ = c.SelectContact(context.Background(), alice)

	c.Close()

	if indexOf(sock.snapshot(), "leave-room session:101") < 0 {
		t.Errorf("calls = %v", sock.snapshot())
	}
	if c.Phase() != status.Idle || c.SessionID() != 0 {
		t.Errorf("phase = %s session = %d", c.Phase(), c.SessionID())
	}
}
