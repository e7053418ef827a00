package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// APIError is a non-2xx response from the backend.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// Temporary reports whether the request may succeed if retried.
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500
}

// parseAPIError extracts a message from body, which is usually
// {"message": "..."} or {"error": "..."} or {"error": {"message": "..."}}.
func parseAPIError(status int, body []byte) *APIError {
	e := &APIError{StatusCode: status}

	var payload struct {
		Message string          `json:"message"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		e.Message = payload.Message
		if e.Message == "" && len(payload.Error) > 0 {
			var s string
			var nested struct {
				Message string `json:"message"`
			}
			if json.Unmarshal(payload.Error, &s) == nil {
				e.Message = s
			} else if json.Unmarshal(payload.Error, &nested) == nil {
				e.Message = nested.Message
			}
		}
	}
	if strings.TrimSpace(e.Message) == "" {
		e.Message = fmt.Sprintf("http status %d", status)
	}
	return e
}

// IsNetworkError reports whether err is a transport failure: the request
// never produced an HTTP response and the caller did not cancel it.
func IsNetworkError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return false
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

func retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return IsNetworkError(err)
}
