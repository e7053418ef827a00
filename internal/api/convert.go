package api

import (
	"context"
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/matheus3301/confchat/internal/credential"
	"github.com/matheus3301/confchat/internal/debounce"
	"github.com/matheus3301/confchat/internal/httpapi"
	"github.com/matheus3301/confchat/internal/messaging"
	"github.com/matheus3301/confchat/internal/model"
)

func contactToMap(c model.Contact) map[string]any {
	return map[string]any{
		"id":            c.ID,
		"name":          c.Name,
		"email":         c.Email,
		"company":       c.Company,
		"position":      c.Position,
		"is_online":     c.IsOnline,
		"last_message":  c.LastMessage,
		"unread_count":  c.UnreadCount,
		"conference_id": c.ConferenceID,
	}
}

func messageToMap(m model.Message) map[string]any {
	return map[string]any{
		"id":                m.ID,
		"session_id":        m.SessionID,
		"sender_id":         m.SenderID,
		"attendee_id":       m.AttendeeID,
		"content":           m.Content,
		"type":              string(m.Type),
		"timestamp_unix_ms": m.Timestamp.UnixMilli(),
		"is_read":           m.IsRead,
		"from_me":           m.SenderID == 0,
	}
}

func contactList(cs []model.Contact) []any {
	out := make([]any, 0, len(cs))
	for _, c := range cs {
		out = append(out, contactToMap(c))
	}
	return out
}

func messageList(ms []model.Message) []any {
	out := make([]any, 0, len(ms))
	for _, m := range ms {
		out = append(out, messageToMap(m))
	}
	return out
}

// reply builds a response struct; encoding failures become codes.Internal.
func reply(fields map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode response: %v", err)
	}
	return s, nil
}

func str(in *structpb.Struct, key string) string {
	return in.GetFields()[key].GetStringValue()
}

func num(in *structpb.Struct, key string) int64 {
	return int64(in.GetFields()[key].GetNumberValue())
}

func flag(in *structpb.Struct, key string) bool {
	return in.GetFields()[key].GetBoolValue()
}

// toStatus maps domain errors onto gRPC status codes.
func toStatus(op string, err error) error {
	if err == nil {
		return nil
	}
	code := codes.Internal
	var apiErr *httpapi.APIError
	switch {
	case errors.Is(err, messaging.ErrNoSession):
		code = codes.FailedPrecondition
	case errors.Is(err, messaging.ErrStale), errors.Is(err, debounce.ErrSuperseded):
		code = codes.Aborted
	case errors.Is(err, debounce.ErrCancelled), errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, credential.ErrNoToken):
		code = codes.Unauthenticated
	case errors.As(err, &apiErr):
		code = httpCode(apiErr.StatusCode)
	case httpapi.IsNetworkError(err):
		code = codes.Unavailable
	}
	return grpcstatus.Errorf(code, "%s: %v", op, err)
}

func httpCode(status int) codes.Code {
	switch status {
	case http.StatusBadRequest:
		return codes.InvalidArgument
	case http.StatusUnauthorized:
		return codes.Unauthenticated
	case http.StatusForbidden:
		return codes.PermissionDenied
	case http.StatusNotFound:
		return codes.NotFound
	case http.StatusConflict:
		return codes.AlreadyExists
	case http.StatusTooManyRequests:
		return codes.ResourceExhausted
	}
	if status >= 500 {
		return codes.Unavailable
	}
	return codes.Unknown
}
