package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
)

// envelope is the backend's {"data": ..., "meta": ...} response wrapper.
type envelope struct {
	Data json.RawMessage `json:"data"`
}

// fetch performs a request and decodes the envelope's data field into T.
// Bodies without a data field are decoded as T directly.
func fetch[T any](ctx context.Context, c *Client, method, endpoint string, body any) (T, error) {
	var (
		raw json.RawMessage
		out T
	)
	if err := c.Do(ctx, method, endpoint, body, &raw); err != nil {
		return out, err
	}
	payload := raw
	if bytes.HasPrefix(bytes.TrimSpace(raw), []byte("{")) {
		var env envelope
		if err := json.Unmarshal(raw, &env); err == nil && len(env.Data) > 0 {
			payload = env.Data
		}
	}
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		return out, nil
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return out, fmt.Errorf("decode %s data: %w", endpoint, err)
	}
	return out, nil
}

// ListParams are the pagination and filter parameters shared by list endpoints.
type ListParams struct {
	Page    int
	Limit   int
	Search  string
	Filters map[string]string
}

func (p ListParams) values() url.Values {
	v := url.Values{}
	if p.Page > 0 {
		v.Set("page", strconv.Itoa(p.Page))
	}
	if p.Limit > 0 {
		v.Set("limit", strconv.Itoa(p.Limit))
	}
	if p.Search != "" {
		v.Set("search", p.Search)
	}
	for k, val := range p.Filters {
		if val != "" {
			v.Set("filters["+k+"]", val)
		}
	}
	return v
}

func withQuery(path string, v url.Values) string {
	if len(v) == 0 {
		return path
	}
	return path + "?" + v.Encode()
}
