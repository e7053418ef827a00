package realtime

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/matheus3301/confchat/internal/bus"
	"github.com/matheus3301/confchat/internal/model"
)

// Wire event names.
const (
	EventJoinRoom          = "join-room"
	EventLeaveRoom         = "leave-room"
	EventJoinConversation  = "join-conversation"
	EventLeaveConversation = "leave-conversation"
	EventSendMessage       = "send-message"
	EventTyping            = "typing"
	EventStopTyping        = "stop-typing"
	EventMarkMessageRead   = "mark-message-read"

	EventRoleChanged        = "role-changed"
	EventPermissionsUpdated = "permissions-updated"
	EventNotification       = "notification"
	EventNewMessage         = "new-message"
	EventUserTyping         = "user-typing"
	EventUserStoppedTyping  = "user-stopped-typing"
	EventMessageRead        = "message-read"
)

// Bus kinds published by the client.
const (
	KindConnected          = bus.NamespaceRealtime + "connected"
	KindDisconnected       = bus.NamespaceRealtime + "disconnected"
	KindConnectError       = bus.NamespaceRealtime + "connect_error"
	KindReconnectFailed    = bus.NamespaceRealtime + "reconnect_failed"
	KindRoleChanged        = bus.NamespaceRealtime + EventRoleChanged
	KindPermissionsUpdated = bus.NamespaceRealtime + EventPermissionsUpdated
	KindNotification       = bus.NamespaceRealtime + EventNotification
	KindNewMessage         = bus.NamespaceRealtime + EventNewMessage
	KindUserTyping         = bus.NamespaceRealtime + EventUserTyping
	KindUserStoppedTyping  = bus.NamespaceRealtime + EventUserStoppedTyping
	KindMessageRead        = bus.NamespaceRealtime + EventMessageRead
	KindUnknown            = bus.NamespaceRealtime + "unknown"
)

// Frame is one message on the wire.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Event is published on the bus as the payload of every realtime.* kind.
type Event interface {
	Kind() string
	isEvent()
}

type Connected struct{}

type Disconnected struct {
	Err error
	// Requested is true when Disconnect or Close caused the drop.
	Requested bool
}

type ConnectError struct {
	Err     error
	Attempt int
}

type ReconnectFailed struct {
	Attempts int
	Err      error
}

type RoleChanged struct{ Data json.RawMessage }

type PermissionsUpdated struct{ Data json.RawMessage }

type Notification struct{ Data json.RawMessage }

type NewMessage struct{ Message model.Message }

type UserTyping struct {
	SessionID int64
	UserID    int64
	IsTyping  bool
}

type UserStoppedTyping struct {
	SessionID int64
	UserID    int64
}

type MessageRead struct {
	MessageID string
	UserID    int64
}

// Unknown carries frames with an unrecognized event name.
type Unknown struct {
	Name string
	Data json.RawMessage
}

func (Connected) Kind() string          { return KindConnected }
func (Disconnected) Kind() string       { return KindDisconnected }
func (ConnectError) Kind() string       { return KindConnectError }
func (ReconnectFailed) Kind() string    { return KindReconnectFailed }
func (RoleChanged) Kind() string        { return KindRoleChanged }
func (PermissionsUpdated) Kind() string { return KindPermissionsUpdated }
func (Notification) Kind() string       { return KindNotification }
func (NewMessage) Kind() string         { return KindNewMessage }
func (UserTyping) Kind() string         { return KindUserTyping }
func (UserStoppedTyping) Kind() string  { return KindUserStoppedTyping }
func (MessageRead) Kind() string        { return KindMessageRead }
func (Unknown) Kind() string            { return KindUnknown }

func (Connected) isEvent()          {}
func (Disconnected) isEvent()       {}
func (ConnectError) isEvent()       {}
func (ReconnectFailed) isEvent()    {}
func (RoleChanged) isEvent()        {}
func (PermissionsUpdated) isEvent() {}
func (Notification) isEvent()       {}
func (NewMessage) isEvent()         {}
func (UserTyping) isEvent()         {}
func (UserStoppedTyping) isEvent()  {}
func (MessageRead) isEvent()        {}
func (Unknown) isEvent()            {}

// flexID decodes ids sent either as numbers or numeric strings.
type flexID int64

func (id *flexID) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || string(data) == "null" {
		*id = 0
		return nil
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return err
	}
	*id = flexID(n)
	return nil
}

// decodeFrame maps a server frame to its event. Frames whose payload does
// not match the expected shape come back as Unknown.
func decodeFrame(f Frame) Event {
	switch f.Event {
	case EventRoleChanged:
		return RoleChanged{Data: f.Data}
	case EventPermissionsUpdated:
		return PermissionsUpdated{Data: f.Data}
	case EventNotification:
		return Notification{Data: f.Data}
	case EventNewMessage:
		var m model.Message
		if err := json.Unmarshal(f.Data, &m); err == nil {
			return NewMessage{Message: m}
		}
	case EventUserTyping:
		var p struct {
			SessionID flexID `json:"sessionId"`
			UserID    flexID `json:"userId"`
			IsTyping  *bool  `json:"isTyping"`
		}
		if err := json.Unmarshal(f.Data, &p); err == nil {
			typing := p.IsTyping == nil || *p.IsTyping
			return UserTyping{SessionID: int64(p.SessionID), UserID: int64(p.UserID), IsTyping: typing}
		}
	case EventUserStoppedTyping:
		var p struct {
			SessionID flexID `json:"sessionId"`
			UserID    flexID `json:"userId"`
		}
		if err := json.Unmarshal(f.Data, &p); err == nil {
			return UserStoppedTyping{SessionID: int64(p.SessionID), UserID: int64(p.UserID)}
		}
	case EventMessageRead:
		var p struct {
			MessageID json.RawMessage `json:"messageId"`
			UserID    flexID          `json:"userId"`
		}
		if err := json.Unmarshal(f.Data, &p); err == nil && len(p.MessageID) > 0 {
			return MessageRead{MessageID: string(bytes.Trim(p.MessageID, `"`)), UserID: int64(p.UserID)}
		}
	}
	return Unknown{Name: f.Event, Data: f.Data}
}

// messageRef renders a message id the way the server stores it: numeric
// ids as numbers, anything else as a string.
func messageRef(id string) any {
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		return n
	}
	return id
}
