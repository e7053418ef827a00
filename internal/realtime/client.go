// Package realtime maintains the conference socket connection: one
// authenticated connection per client, re-established automatically within
// a bounded number of attempts, with room-scoped subscriptions.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/confchat/internal/bus"
	"github.com/matheus3301/confchat/internal/clock"
	"github.com/matheus3301/confchat/internal/credential"
	"github.com/matheus3301/confchat/internal/status"
)

var (
	// ErrNotConnected is returned by emits while the socket is down.
	ErrNotConnected = errors.New("socket not connected")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("socket client closed")
	// ErrReconnectExhausted is reported once automatic reconnection gives up.
	ErrReconnectExhausted = errors.New("max reconnect attempts reached")
)

// Config configures a Client.
type Config struct {
	URL string
	// MaxReconnectAttempts bounds automatic reconnects after a drop or a
	// failed dial. Default 5.
	MaxReconnectAttempts int
	// ReconnectDelay is the wait before the first reconnect. Default 1s.
	ReconnectDelay time.Duration
	// BackoffMultiplier scales the delay of each further attempt. Default 1.
	BackoffMultiplier float64
	// AutoConnect starts connecting from New when a token is available.
	AutoConnect bool
	Hooks       Hooks
}

// Hooks are optional callbacks, invoked without internal locks held.
type Hooks struct {
	OnConnect    func()
	OnDisconnect func(err error)
	OnError      func(err error)
}

// Client is the reconnecting socket client.
type Client struct {
	cfg    Config
	dialer Dialer
	creds  credential.Provider
	bus    *bus.Bus
	clock  clock.Clock
	log    *zap.Logger

	machine *status.Machine
	ctx     context.Context
	cancel  context.CancelFunc

	mu        sync.Mutex
	conn      Conn
	gen       uint64
	attempts  int
	reconnect bool
	closed    bool
	timer     clock.Timer
	lastErr   error
	rooms     []string

	writeMu sync.Mutex
}

// New creates a client in DISCONNECTED. With cfg.AutoConnect and a token
// available it starts connecting in the background.
func New(cfg Config, dialer Dialer, creds credential.Provider, b *bus.Bus, clk clock.Clock, logger *zap.Logger) *Client {
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 5
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = time.Second
	}
	if cfg.BackoffMultiplier < 1 {
		cfg.BackoffMultiplier = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if creds == nil {
		creds = credential.Static{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:     cfg,
		dialer:  dialer,
		creds:   creds,
		bus:     b,
		clock:   clock.OrReal(clk),
		log:     logger,
		machine: status.NewConnectionMachine(b),
		ctx:     ctx,
		cancel:  cancel,
	}
	if cfg.AutoConnect {
		if _, err := creds.Token(ctx); err == nil {
			go func() { _ = c.Connect(ctx) }()
		}
	}
	return c
}

// State returns the connection state.
func (c *Client) State() status.State { return c.machine.Current() }

// IsConnected reports whether the socket is open.
func (c *Client) IsConnected() bool { return c.machine.Is(status.Connected) }

// Err returns the last connection error, cleared on a successful connect.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Attempts returns the number of reconnects scheduled since the last
// successful connect.
func (c *Client) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Connect opens the socket. It is a no-op while connecting or connected.
// Dial failures are returned and also schedule a reconnect.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if !c.machine.Is(status.Disconnected) {
		c.mu.Unlock()
		return nil
	}
	c.reconnect = true
	c.stopTimerLocked()
	gen := c.beginLocked()
	c.mu.Unlock()

	return c.dial(ctx, gen)
}

// Disconnect closes the socket and cancels any scheduled reconnect. The
// client stays down until Connect or Reconnect.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.reconnect = false
	c.stopTimerLocked()
	c.attempts = 0
	c.gen++
	conn := c.conn
	c.conn = nil
	wasUp := !c.machine.Is(status.Disconnected)
	if wasUp {
		_ = c.machine.Transition(status.Disconnected)
	}
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if wasUp {
		c.log.Info("socket disconnected by client")
		c.emitEvent(Disconnected{Requested: true})
		if h := c.cfg.Hooks.OnDisconnect; h != nil {
			h(nil)
		}
	}
}

// Reconnect resets the attempt counter and connects again.
func (c *Client) Reconnect(ctx context.Context) error {
	c.Disconnect()
	return c.Connect(ctx)
}

// Close disconnects and releases the client. It cannot be reused.
func (c *Client) Close() error {
	c.Disconnect()
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()
	return nil
}

// JoinRoom subscribes to room now if connected, and again after every
// reconnect until LeaveRoom.
func (c *Client) JoinRoom(room string) error {
	c.mu.Lock()
	tracked := false
	for _, r := range c.rooms {
		if r == room {
			tracked = true
			break
		}
	}
	if !tracked {
		c.rooms = append(c.rooms, room)
	}
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return c.write(conn, EventJoinRoom, room)
}

// LeaveRoom stops tracking room and leaves it if connected.
func (c *Client) LeaveRoom(room string) error {
	c.mu.Lock()
	for i, r := range c.rooms {
		if r == room {
			c.rooms = append(c.rooms[:i], c.rooms[i+1:]...)
			break
		}
	}
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return c.write(conn, EventLeaveRoom, room)
}

// Rooms returns the tracked rooms in join order.
func (c *Client) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.rooms...)
}

// Emit sends an event. Emits are not buffered while disconnected.
func (c *Client) Emit(event string, data any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		c.log.Warn("dropping emit while disconnected", zap.String("event", event))
		return ErrNotConnected
	}
	return c.write(conn, event, data)
}

type sessionUser struct {
	SessionID int64 `json:"sessionId"`
	UserID    int64 `json:"userId"`
}

func (c *Client) JoinConversation(sessionID, userID int64) error {
	return c.Emit(EventJoinConversation, sessionUser{sessionID, userID})
}

func (c *Client) LeaveConversation(sessionID, userID int64) error {
	return c.Emit(EventLeaveConversation, sessionUser{sessionID, userID})
}

// SetTyping emits a typing indicator for the session.
func (c *Client) SetTyping(sessionID, userID int64, typing bool) error {
	return c.Emit(EventTyping, struct {
		SessionID int64 `json:"sessionId"`
		UserID    int64 `json:"userId"`
		IsTyping  bool  `json:"isTyping"`
	}{sessionID, userID, typing})
}

func (c *Client) StopTyping(sessionID, userID int64) error {
	return c.Emit(EventStopTyping, sessionUser{sessionID, userID})
}

func (c *Client) MarkMessageRead(messageID string, userID int64) error {
	return c.Emit(EventMarkMessageRead, map[string]any{
		"messageId": messageRef(messageID),
		"userId":    userID,
	})
}

func (c *Client) beginLocked() uint64 {
	_ = c.machine.Transition(status.Connecting)
	c.gen++
	return c.gen
}

func (c *Client) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Client) dial(ctx context.Context, gen uint64) error {
	token, err := c.creds.Token(ctx)
	if err != nil {
		// Without a token every attempt would be rejected the same way.
		err = fmt.Errorf("socket token: %w", err)
		c.fail(gen, err, false)
		return err
	}

	c.log.Info("connecting socket", zap.String("url", c.cfg.URL))
	conn, err := c.dialer.Dial(ctx, c.cfg.URL, token)
	if err != nil {
		c.fail(gen, err, true)
		return err
	}

	c.mu.Lock()
	if gen != c.gen || !c.reconnect {
		c.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	c.conn = conn
	c.attempts = 0
	c.lastErr = nil
	_ = c.machine.Transition(status.Connected)
	rooms := append([]string(nil), c.rooms...)
	c.mu.Unlock()

	c.log.Info("socket connected", zap.Int("rooms", len(rooms)))
	go c.readLoop(gen, conn)

	if id, err := c.creds.Identity(ctx); err == nil && id.ID != 0 {
		if err := c.write(conn, EventJoinRoom, "user:"+strconv.FormatInt(id.ID, 10)); err != nil {
			c.log.Warn("join user room failed", zap.Error(err))
		}
	}
	for _, room := range rooms {
		if err := c.write(conn, EventJoinRoom, room); err != nil {
			c.log.Warn("rejoin room failed", zap.String("room", room), zap.Error(err))
		}
	}

	c.emitEvent(Connected{})
	if h := c.cfg.Hooks.OnConnect; h != nil {
		h()
	}
	return nil
}

// fail records a failed dial of generation gen.
func (c *Client) fail(gen uint64, err error, retry bool) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.lastErr = err
	_ = c.machine.Transition(status.Disconnected)
	attempt := c.attempts
	c.mu.Unlock()

	c.log.Warn("socket connect failed", zap.Int("attempt", attempt), zap.Error(err))
	c.emitEvent(ConnectError{Err: err, Attempt: attempt})
	if h := c.cfg.Hooks.OnError; h != nil {
		h(err)
	}
	if retry {
		c.scheduleReconnect(gen)
	}
}

func (c *Client) readLoop(gen uint64, conn Conn) {
	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			c.dropped(gen, conn, err)
			return
		}
		c.emitEvent(decodeFrame(f))
	}
}

// dropped handles the end of a read loop. Drops after Disconnect or a
// newer connection are ignored.
func (c *Client) dropped(gen uint64, conn Conn, err error) {
	c.mu.Lock()
	if gen != c.gen || c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.lastErr = err
	_ = c.machine.Transition(status.Disconnected)
	c.mu.Unlock()

	_ = conn.Close()
	c.log.Warn("socket dropped", zap.Error(err))
	c.emitEvent(Disconnected{Err: err})
	if h := c.cfg.Hooks.OnDisconnect; h != nil {
		h(err)
	}
	c.scheduleReconnect(gen)
}

func (c *Client) backoff(attempt int) time.Duration {
	d := float64(c.cfg.ReconnectDelay) * math.Pow(c.cfg.BackoffMultiplier, float64(attempt-1))
	return time.Duration(d)
}

func (c *Client) scheduleReconnect(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || !c.reconnect || c.closed {
		c.mu.Unlock()
		return
	}
	if c.attempts >= c.cfg.MaxReconnectAttempts {
		attempts := c.attempts
		c.reconnect = false
		c.lastErr = fmt.Errorf("%w (%d)", ErrReconnectExhausted, attempts)
		err := c.lastErr
		c.mu.Unlock()

		c.log.Warn("giving up on socket reconnect", zap.Int("attempts", attempts))
		c.emitEvent(ReconnectFailed{Attempts: attempts, Err: err})
		if h := c.cfg.Hooks.OnError; h != nil {
			h(err)
		}
		return
	}
	c.attempts++
	attempt := c.attempts
	delay := c.backoff(attempt)
	c.timer = c.clock.AfterFunc(delay, func() { c.reconnectNow(gen) })
	c.mu.Unlock()

	c.log.Info("socket reconnect scheduled",
		zap.Int("attempt", attempt),
		zap.Int("max", c.cfg.MaxReconnectAttempts),
		zap.Duration("delay", delay),
	)
}

func (c *Client) reconnectNow(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || !c.reconnect || c.closed || !c.machine.Is(status.Disconnected) {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	next := c.beginLocked()
	c.mu.Unlock()

	_ = c.dial(c.ctx, next)
}

func (c *Client) write(conn Conn, event string, data any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteJSON(outFrame{Event: event, Data: data}); err != nil {
		return fmt.Errorf("emit %s: %w", event, err)
	}
	return nil
}

func (c *Client) emitEvent(evt Event) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(bus.NewEvent(evt.Kind(), evt))
}
