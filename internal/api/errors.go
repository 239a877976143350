package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Sentinel errors matched against *Error with errors.Is
var (
	ErrUnauthorized = errors.New("authentication required")
	ErrForbidden    = errors.New("access denied")
	ErrNotFound     = errors.New("not found")
)

// Error is a non-success response from the backend
type Error struct {
	StatusCode int
	Message    string
	Fields     map[string][]string // per-field validation messages
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("api: %d: %s", e.StatusCode, msg)
}

// Is maps status codes onto the package sentinels
func (e *Error) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	case ErrForbidden:
		return e.StatusCode == http.StatusForbidden
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	}
	return false
}

// ValidationError is a request rejected before it was sent
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// parseError builds an *Error from an error body. The backend answers with
// either {"detail": ...}, the response envelope with "message" and "errors",
// or a bare serializer error map.
func parseError(status int, body []byte) *Error {
	e := &Error{StatusCode: status}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		e.Message = strings.TrimSpace(string(body))
		if len(e.Message) > 200 {
			e.Message = e.Message[:200]
		}
		return e
	}

	for _, key := range []string{"detail", "message", "error"} {
		var s string
		if v, ok := raw[key]; ok && json.Unmarshal(v, &s) == nil && s != "" {
			e.Message = s
			break
		}
	}

	fields := raw
	if v, ok := raw["errors"]; ok {
		var nested map[string]json.RawMessage
		if json.Unmarshal(v, &nested) == nil {
			fields = nested
		}
	}
	for key, v := range fields {
		var msgs []string
		if json.Unmarshal(v, &msgs) != nil || len(msgs) == 0 {
			continue
		}
		if e.Fields == nil {
			e.Fields = make(map[string][]string)
		}
		e.Fields[key] = msgs
	}

	if e.Message == "" && len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		e.Message = keys[0] + ": " + e.Fields[keys[0]][0]
	}
	return e
}
