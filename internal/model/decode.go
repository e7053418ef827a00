package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// fields is a decoded JSON object whose keys may come in either the
// backend's column style (SESSION_ID) or camelCase (sessionId).
type fields map[string]json.RawMessage

func decodeFields(data []byte) (fields, error) {
	var f fields
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return f, nil
}

func (f fields) raw(keys ...string) (json.RawMessage, bool) {
	for _, k := range keys {
		if v, ok := f[k]; ok && !bytes.Equal(v, []byte("null")) {
			return v, true
		}
	}
	return nil, false
}

func (f fields) str(keys ...string) string {
	v, ok := f.raw(keys...)
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	// Numbers are kept verbatim.
	return strings.TrimSpace(string(v))
}

func (f fields) int64(keys ...string) (int64, error) {
	v, ok := f.raw(keys...)
	if !ok {
		return 0, nil
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err == nil {
		return n.Int64()
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return 0, fmt.Errorf("decode %s: %w", keys[0], err)
	}
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

func (f fields) bool(keys ...string) bool {
	v, ok := f.raw(keys...)
	if !ok {
		return false
	}
	var b bool
	if err := json.Unmarshal(v, &b); err == nil {
		return b
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err == nil {
		i, _ := n.Int64()
		return i != 0
	}
	return false
}

// time accepts RFC 3339 strings or unix milliseconds.
func (f fields) time(keys ...string) (time.Time, error) {
	v, ok := f.raw(keys...)
	if !ok {
		return time.Time{}, nil
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		if s == "" {
			return time.Time{}, nil
		}
		return time.Parse(time.RFC3339Nano, s)
	}
	var ms int64
	if err := json.Unmarshal(v, &ms); err != nil {
		return time.Time{}, fmt.Errorf("decode %s: %w", keys[0], err)
	}
	return time.UnixMilli(ms), nil
}
