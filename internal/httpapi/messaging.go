package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/matheus3301/confchat/internal/model"
)

// MessagingAPI wraps the /messaging endpoints.
type MessagingAPI struct {
	c *Client
}

func NewMessagingAPI(c *Client) *MessagingAPI {
	return &MessagingAPI{c: c}
}

func conferenceQuery(conferenceID int64) url.Values {
	v := url.Values{}
	if conferenceID > 0 {
		v.Set("conferenceId", strconv.FormatInt(conferenceID, 10))
	}
	return v
}

// UsersWithMessages lists users the current user has conversations with.
func (m *MessagingAPI) UsersWithMessages(ctx context.Context, conferenceID int64) ([]model.Contact, error) {
	return fetch[[]model.Contact](ctx, m.c, http.MethodGet,
		withQuery("/messaging/users-with-messages", conferenceQuery(conferenceID)), nil)
}

// UsersByCategory lists every user registered for the conference.
func (m *MessagingAPI) UsersByCategory(ctx context.Context, conferenceID int64) ([]model.Contact, error) {
	return fetch[[]model.Contact](ctx, m.c, http.MethodGet,
		withQuery("/messaging/users-by-category", conferenceQuery(conferenceID)), nil)
}

// GetOrCreateSession returns the id of the conversation between two users.
func (m *MessagingAPI) GetOrCreateSession(ctx context.Context, conferenceID, user1, user2 int64) (int64, error) {
	body := map[string]int64{
		"conferenceId": conferenceID,
		"user1Id":      user1,
		"user2Id":      user2,
	}
	type session struct {
		SessionID int64 `json:"sessionId"`
		ID        int64 `json:"id"`
	}
	s, err := fetch[session](ctx, m.c, http.MethodPost, "/messaging/sessions", body)
	if err != nil {
		return 0, err
	}
	switch {
	case s.SessionID != 0:
		return s.SessionID, nil
	case s.ID != 0:
		return s.ID, nil
	}
	return 0, errors.New("session response carried no id")
}

// ConversationMessages returns one page of a session's history, oldest first.
func (m *MessagingAPI) ConversationMessages(ctx context.Context, sessionID int64, limit, offset int) ([]model.Message, error) {
	v := url.Values{}
	if limit > 0 {
		v.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		v.Set("offset", strconv.Itoa(offset))
	}
	msgs, err := fetch[[]model.Message](ctx, m.c, http.MethodGet,
		withQuery(fmt.Sprintf("/messaging/sessions/%d/messages", sessionID), v), nil)
	if err != nil {
		return nil, err
	}
	for i := range msgs {
		if msgs[i].SessionID == 0 {
			msgs[i].SessionID = sessionID
		}
	}
	return msgs, nil
}

// SendMessage posts a message and returns the stored copy.
func (m *MessagingAPI) SendMessage(ctx context.Context, req model.SendRequest) (model.Message, error) {
	if req.Type == "" {
		req.Type = model.TypeText
	}
	msg, err := fetch[model.Message](ctx, m.c, http.MethodPost, "/messaging/messages", req)
	if err != nil {
		return model.Message{}, err
	}
	if msg.SessionID == 0 {
		msg.SessionID = req.SessionID
	}
	if msg.Content == "" {
		msg.Content = req.Content
	}
	return msg, nil
}

// MarkMessageRead flags a message as read.
func (m *MessagingAPI) MarkMessageRead(ctx context.Context, messageID string) error {
	return m.c.Do(ctx, http.MethodPut, "/messaging/messages/"+url.PathEscape(messageID)+"/read", nil, nil)
}
