package messaging

import "github.com/matheus3301/confchat/internal/model"

// HistoryLoaded is the payload of messaging.history_loaded, published after
// a session's history was fetched from the backend.
type HistoryLoaded struct {
	SessionID int64
	Messages  []model.Message
}

// ContactsLoaded is the payload of messaging.contacts_loaded, published after
// the unfiltered contact list was fetched from the backend.
type ContactsLoaded struct {
	ConferenceID int64
	Contacts     []model.Contact
}

// Sent is the payload of message.sent, published after a direct post
// succeeded.
type Sent struct {
	Message model.Message
}
