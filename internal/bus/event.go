package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds shared across packages. Namespaces end with a dot so they can
// be passed straight to Subscribe.
const (
	NamespaceSocket    = "socket."
	NamespaceRealtime  = "realtime."
	NamespaceMessaging = "messaging."
	NamespaceMessage   = "message."
	NamespaceCache     = "cache."

	KindSocketStateChanged  = "socket.state_changed"
	KindConversationChanged = "messaging.phase_changed"
	KindHistoryLoaded       = "messaging.history_loaded"
	KindContactsLoaded      = "messaging.contacts_loaded"
	KindMessageSent         = "message.sent"
	KindMessageSendAck      = "message.send_ack"
	KindMessageSendFailed   = "message.send_failed"
	KindMessageQueued       = "message.queued"
	KindCacheUpdated        = "cache.updated"
)

// NewEvent stamps an event with the current time.
func NewEvent(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}
