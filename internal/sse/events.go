package sse

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// EventType identifies the kind of upload pipeline event
type EventType string

const (
	EventStatus            EventType = "status"
	EventProcessingStarted EventType = "processing_started"
	EventTextProgress      EventType = "text_progress"
	EventAudioStarted      EventType = "audio_started"
	EventAudioProgress     EventType = "audio_progress"
	EventCompleted         EventType = "completed"
	EventError             EventType = "error"
)

// Older backend builds emit these names for the same payloads
var eventAliases = map[string]EventType{
	"page_progress":            EventTextProgress,
	"audio_generation_started": EventAudioStarted,
}

// Known reports whether t is one of the pipeline event types
func (t EventType) Known() bool {
	switch t {
	case EventStatus, EventProcessingStarted, EventTextProgress,
		EventAudioStarted, EventAudioProgress, EventCompleted, EventError:
		return true
	}
	return false
}

// AudioPageStatus is the per-page state carried by audio_progress
type AudioPageStatus string

const (
	AudioPageGenerating AudioPageStatus = "generating"
	AudioPageCompleted  AudioPageStatus = "completed"
	AudioPageSkipped    AudioPageStatus = "skipped"
	AudioPageFailed     AudioPageStatus = "failed"
)

// Event is one decoded frame. Payload holds the typed variant for Type and is
// nil for unrecognised types; Raw keeps the JSON object as received.
type Event struct {
	Type    EventType
	Raw     map[string]any
	Payload Payload
}

// Payload is implemented by the typed per-event payloads
type Payload interface {
	EventType() EventType
}

// StatusPayload is a generic preparatory message
type StatusPayload struct {
	Message string
}

// ProcessingStartedPayload opens the text extraction stage
type ProcessingStartedPayload struct {
	TotalPages int
	Message    string
}

// TextProgressPayload reports one extracted page
type TextProgressPayload struct {
	CurrentPage    int
	TotalPages     int
	ExtractedChars int
	Message        string
}

// AudioStartedPayload opens the audio generation stage
type AudioStartedPayload struct {
	TotalPages int
	Message    string
}

// AudioProgressPayload reports the audio state of one page
type AudioProgressPayload struct {
	CurrentPage int
	TotalPages  int
	Status      AudioPageStatus
	Duration    float64 // seconds, set for completed pages
	Message     string
}

// CompletedPayload ends a successful upload. Pointer fields are nil when the
// backend omitted them.
type CompletedPayload struct {
	BookID         int64
	Title          string
	Author         string
	TotalPages     int
	AudioGenerated *int
	TotalDuration  *float64
	Message        string
}

// ErrorPayload ends a failed upload
type ErrorPayload struct {
	Error   string
	Details string
}

func (StatusPayload) EventType() EventType            { return EventStatus }
func (ProcessingStartedPayload) EventType() EventType { return EventProcessingStarted }
func (TextProgressPayload) EventType() EventType      { return EventTextProgress }
func (AudioStartedPayload) EventType() EventType      { return EventAudioStarted }
func (AudioProgressPayload) EventType() EventType     { return EventAudioProgress }
func (CompletedPayload) EventType() EventType         { return EventCompleted }
func (ErrorPayload) EventType() EventType             { return EventError }

// DecodeEvent converts a frame into an Event. Only invalid JSON is an error;
// missing or mistyped fields fall back to zero values.
func DecodeEvent(f Frame) (Event, error) {
	data := strings.TrimSpace(f.Data)
	if data == "" {
		return Event{}, errors.New("frame has no data")
	}
	if !json.Valid([]byte(data)) {
		return Event{}, fmt.Errorf("invalid JSON payload: %.80s", data)
	}

	raw := map[string]any{}
	if err := json.Unmarshal([]byte(data), &raw); err != nil || raw == nil {
		// Valid JSON but not an object: all fields take their defaults
		raw = map[string]any{}
	}

	t := EventType(f.Event)
	if alias, ok := eventAliases[f.Event]; ok {
		t = alias
	}

	return Event{
		Type:    t,
		Raw:     raw,
		Payload: decodePayload(t, raw),
	}, nil
}

func decodePayload(t EventType, raw map[string]any) Payload {
	switch t {
	case EventStatus:
		return StatusPayload{Message: str(raw, "message")}
	case EventProcessingStarted:
		return ProcessingStartedPayload{
			TotalPages: integer(raw, "total_pages", "total"),
			Message:    str(raw, "message"),
		}
	case EventTextProgress:
		return TextProgressPayload{
			CurrentPage:    integer(raw, "current_page", "current"),
			TotalPages:     integer(raw, "total_pages", "total"),
			ExtractedChars: integer(raw, "extracted_chars"),
			Message:        str(raw, "message"),
		}
	case EventAudioStarted:
		return AudioStartedPayload{
			TotalPages: integer(raw, "total_pages", "total"),
			Message:    str(raw, "message"),
		}
	case EventAudioProgress:
		return AudioProgressPayload{
			CurrentPage: integer(raw, "current_page", "current"),
			TotalPages:  integer(raw, "total_pages", "total"),
			Status:      AudioPageStatus(str(raw, "status")),
			Duration:    number(raw, "duration"),
			Message:     str(raw, "message"),
		}
	case EventCompleted:
		p := CompletedPayload{
			BookID:     int64(number(raw, "book_id")),
			Title:      str(raw, "title"),
			Author:     str(raw, "author"),
			TotalPages: integer(raw, "total_pages"),
			Message:    str(raw, "message"),
		}
		if has(raw, "audio_generated") {
			n := integer(raw, "audio_generated")
			p.AudioGenerated = &n
		}
		if has(raw, "total_duration") {
			d := number(raw, "total_duration")
			p.TotalDuration = &d
		}
		return p
	case EventError:
		return ErrorPayload{
			Error:   str(raw, "error"),
			Details: str(raw, "details"),
		}
	}
	return nil
}

// CompletedFromRaw reads a completion payload back out of an event's raw
// fields, as handed to completion callbacks
func CompletedFromRaw(raw map[string]any) CompletedPayload {
	return decodePayload(EventCompleted, raw).(CompletedPayload)
}

func has(raw map[string]any, key string) bool {
	v, ok := raw[key]
	return ok && v != nil
}

// str returns the first present key as a string
func str(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := raw[k].(type) {
		case string:
			return v
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

// number returns the first present numeric key. Numeric strings are accepted.
func number(raw map[string]any, keys ...string) float64 {
	for _, k := range keys {
		var f float64
		var err error
		switch v := raw[k].(type) {
		case float64:
			f = v
		case json.Number:
			f, err = v.Float64()
		case string:
			f, err = strconv.ParseFloat(strings.TrimSpace(v), 64)
		default:
			continue
		}
		if err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return f
		}
	}
	return 0
}

func integer(raw map[string]any, keys ...string) int {
	n := int(number(raw, keys...))
	if n < 0 {
		return 0
	}
	return n
}
