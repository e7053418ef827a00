// Package model holds the data shapes exchanged with the conference backend.
package model

import (
	"fmt"
	"strings"
	"time"
)

// MessageType is the content type of a message.
type MessageType string

const (
	TypeText  MessageType = "text"
	TypeImage MessageType = "image"
	TypeFile  MessageType = "file"
)

// Valid reports whether t is a known content type.
func (t MessageType) Valid() bool {
	switch t {
	case TypeText, TypeImage, TypeFile:
		return true
	}
	return false
}

// Message is one entry of a conversation. Messages are immutable once
// created; only IsRead is flipped by read receipts.
type Message struct {
	ID        string `json:"id"`
	SessionID int64  `json:"sessionId"`
	// SenderID is zero when the current user sent the message.
	SenderID   int64       `json:"senderId,omitempty"`
	AttendeeID int64       `json:"attendeeId,omitempty"`
	Content    string      `json:"content"`
	Type       MessageType `json:"type"`
	Timestamp  time.Time   `json:"timestamp"`
	IsRead     bool        `json:"isRead"`
}

// UnmarshalJSON accepts both the backend's column-style keys and camelCase.
func (m *Message) UnmarshalJSON(data []byte) error {
	f, err := decodeFields(data)
	if err != nil {
		return err
	}
	var out Message
	out.ID = f.str("ID", "id")
	if out.SessionID, err = f.int64("SESSION_ID", "sessionId"); err != nil {
		return err
	}
	if out.SenderID, err = f.int64("SENDER_ID", "senderId"); err != nil {
		return err
	}
	if out.AttendeeID, err = f.int64("ATTENDEE_ID", "attendeeId"); err != nil {
		return err
	}
	out.Content = f.str("CONTENT", "content")
	out.Type = MessageType(f.str("MESSAGE_TYPE", "messageType", "TYPE", "type"))
	if out.Type == "" {
		out.Type = TypeText
	}
	if out.Timestamp, err = f.time("CREATED_AT", "createdAt", "TS", "timestamp"); err != nil {
		return fmt.Errorf("decode message timestamp: %w", err)
	}
	out.IsRead = f.bool("IS_READ", "isRead")
	*m = out
	return nil
}

// SameAs reports whether other is the same message delivered twice: equal
// ids, or equal content from the same sender less than a second apart.
func (m Message) SameAs(other Message) bool {
	if m.ID != "" && m.ID == other.ID {
		return true
	}
	if m.Content != other.Content || m.SenderID != other.SenderID {
		return false
	}
	d := m.Timestamp.Sub(other.Timestamp)
	if d < 0 {
		d = -d
	}
	return d < time.Second
}

// SendRequest is the body of a message post.
type SendRequest struct {
	SessionID  int64       `json:"sessionId"`
	Content    string      `json:"content"`
	Type       MessageType `json:"messageType"`
	AttendeeID int64       `json:"attendeeId,omitempty"`
}

// Contact is a conversation participant shown in the messaging sidebar.
type Contact struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	Phone        string `json:"phone,omitempty"`
	Company      string `json:"company,omitempty"`
	Position     string `json:"position,omitempty"`
	Avatar       string `json:"avatar,omitempty"`
	IsOnline     bool   `json:"isOnline"`
	LastSeen     string `json:"lastSeen,omitempty"`
	LastMessage  string `json:"lastMessage,omitempty"`
	UnreadCount  int    `json:"unreadCount"`
	ConferenceID int64  `json:"conferenceId,omitempty"`
}

// UnmarshalJSON accepts user rows and attendee rows in either key style.
func (c *Contact) UnmarshalJSON(data []byte) error {
	f, err := decodeFields(data)
	if err != nil {
		return err
	}
	var out Contact
	if out.ID, err = f.int64("ID", "id"); err != nil {
		return err
	}
	out.Name = f.str("NAME", "name")
	out.Email = f.str("EMAIL", "email")
	out.Phone = f.str("PHONE", "phone")
	out.Company = f.str("COMPANY", "company")
	out.Position = f.str("POSITION", "position")
	out.Avatar = f.str("AVATAR_URL", "avatar", "avatarUrl")
	out.IsOnline = f.bool("IS_ONLINE", "isOnline")
	out.LastSeen = f.str("LAST_SEEN", "lastSeen", "lastLogin")
	out.LastMessage = f.str("LAST_MESSAGE", "lastMessage")
	unread, err := f.int64("UNREAD_COUNT", "unreadCount")
	if err != nil {
		return err
	}
	out.UnreadCount = int(unread)
	if out.ConferenceID, err = f.int64("CONFERENCE_ID", "conferenceId"); err != nil {
		return err
	}
	*c = out
	return nil
}

// Matches reports whether the contact's name or email contains query,
// case-insensitively.
func (c Contact) Matches(query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	return strings.Contains(strings.ToLower(c.Name), q) ||
		strings.Contains(strings.ToLower(c.Email), q)
}
