package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/confchat/internal/bus"
)

// State represents a runtime state of a connection or conversation.
type State string

// Connection states of the realtime socket client.
const (
	Disconnected State = "DISCONNECTED"
	Connecting   State = "CONNECTING"
	Connected    State = "CONNECTED"
)

// Conversation phases of the messaging coordinator.
const (
	Idle      State = "IDLE"
	Resolving State = "RESOLVING"
	Loading   State = "LOADING"
	Ready     State = "READY"
)

// Table lists the allowed target states for every source state.
type Table map[State][]State

// ConnectionTransitions is the socket connection lifecycle.
// A drop from CONNECTED always passes through DISCONNECTED before the next
// CONNECTING, so observers see every disconnection.
var ConnectionTransitions = Table{
	Disconnected: {Connecting},
	Connecting:   {Connected, Disconnected},
	Connected:    {Disconnected},
}

// ConversationTransitions is the coordinator's selection lifecycle.
// Selecting another contact from any phase restarts at RESOLVING.
var ConversationTransitions = Table{
	Idle:      {Resolving},
	Resolving: {Loading, Resolving, Idle},
	Loading:   {Ready, Resolving, Idle},
	Ready:     {Resolving, Idle},
}

// Machine tracks and enforces state transitions against a table.
type Machine struct {
	mu      sync.RWMutex
	current State
	table   Table
	kind    string
	bus     *bus.Bus
}

// NewMachine creates a machine starting in initial. Every successful
// transition is published on b (when non-nil) under the given event kind.
func NewMachine(initial State, table Table, kind string, b *bus.Bus) *Machine {
	return &Machine{
		current: initial,
		table:   table,
		kind:    kind,
		bus:     b,
	}
}

// NewConnectionMachine creates a socket connection machine starting DISCONNECTED.
func NewConnectionMachine(b *bus.Bus) *Machine {
	return NewMachine(Disconnected, ConnectionTransitions, bus.KindSocketStateChanged, b)
}

// NewConversationMachine creates a coordinator machine starting IDLE.
func NewConversationMachine(b *bus.Bus) *Machine {
	return NewMachine(Idle, ConversationTransitions, bus.KindConversationChanged, b)
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Is reports whether the machine is currently in s.
func (m *Machine) Is(s State) bool {
	return m.Current() == s
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !slices.Contains(m.table[m.current], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      m.kind,
			Timestamp: time.Now(),
			Payload: StatusChange{
				From: from,
				To:   to,
			},
		})
	}
	return nil
}

// StatusChange is the payload for state change events.
type StatusChange struct {
	From State
	To   State
}
