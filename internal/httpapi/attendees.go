package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/matheus3301/confchat/internal/model"
)

// AttendeesAPI wraps the /attendees endpoints.
type AttendeesAPI struct {
	c *Client
}

func NewAttendeesAPI(c *Client) *AttendeesAPI {
	return &AttendeesAPI{c: c}
}

func (a *AttendeesAPI) List(ctx context.Context, p ListParams) (model.Page[model.Attendee], error) {
	var page model.Page[model.Attendee]
	err := a.c.Do(ctx, http.MethodGet, withQuery("/attendees", p.values()), nil, &page)
	return page, err
}

func (a *AttendeesAPI) Get(ctx context.Context, id int64) (model.Attendee, error) {
	return fetch[model.Attendee](ctx, a.c, http.MethodGet, fmt.Sprintf("/attendees/%d", id), nil)
}

func (a *AttendeesAPI) Search(ctx context.Context, query string, limit int) ([]model.Attendee, error) {
	v := url.Values{"q": {query}}
	if limit > 0 {
		v.Set("limit", strconv.Itoa(limit))
	}
	return fetch[[]model.Attendee](ctx, a.c, http.MethodGet, withQuery("/attendees/search", v), nil)
}

// ConferencesAPI wraps the /conferences endpoints.
type ConferencesAPI struct {
	c *Client
}

func NewConferencesAPI(c *Client) *ConferencesAPI {
	return &ConferencesAPI{c: c}
}

func (a *ConferencesAPI) List(ctx context.Context, p ListParams) (model.Page[model.Conference], error) {
	var page model.Page[model.Conference]
	err := a.c.Do(ctx, http.MethodGet, withQuery("/conferences", p.values()), nil, &page)
	return page, err
}

func (a *ConferencesAPI) Get(ctx context.Context, id int64) (model.Conference, error) {
	return fetch[model.Conference](ctx, a.c, http.MethodGet, fmt.Sprintf("/conferences/%d", id), nil)
}
