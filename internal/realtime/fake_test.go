package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"
)

type fakeConn struct {
	in        chan Frame
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	written []Frame
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan Frame, 16), closed: make(chan struct{})}
}

func (f *fakeConn) ReadJSON(v any) error {
	select {
	case fr, ok := <-f.in:
		if !ok {
			return io.EOF
		}
		*(v.(*Frame)) = fr
		return nil
	case <-f.closed:
		return net.ErrClosed
	}
}

func (f *fakeConn) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var fr Frame
	if err := json.Unmarshal(data, &fr); err != nil {
		return err
	}
	f.mu.Lock()
	f.written = append(f.written, fr)
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

// serverDrop simulates the server closing the connection.
func (f *fakeConn) serverDrop() { close(f.in) }

// joined returns the room names of every join-room frame written.
func (f *fakeConn) joined() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var rooms []string
	for _, fr := range f.written {
		if fr.Event == EventJoinRoom {
			var room string
			_ = json.Unmarshal(fr.Data, &room)
			rooms = append(rooms, room)
		}
	}
	return rooms
}

func (f *fakeConn) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for _, fr := range f.written {
		names = append(names, fr.Event)
	}
	return names
}

var errRefused = errors.New("connection refused")

type fakeDialer struct {
	mu     sync.Mutex
	fail   bool
	dials  int
	tokens []string
	conns  []*fakeConn
}

func (d *fakeDialer) Dial(_ context.Context, _ string, token string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	d.tokens = append(d.tokens, token)
	if d.fail {
		return nil, errRefused
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) setFail(v bool) {
	d.mu.Lock()
	d.fail = v
	d.mu.Unlock()
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}
