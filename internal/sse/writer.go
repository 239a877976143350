package sse

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// WriteFrame writes one frame. Strings, byte slices and json.RawMessage are
// written verbatim; anything else is JSON encoded.
func WriteFrame(w io.Writer, event string, data any) error {
	var payload string
	switch v := data.(type) {
	case string:
		payload = v
	case []byte:
		payload = string(v)
	case json.RawMessage:
		payload = string(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode %s frame: %w", event, err)
		}
		payload = string(b)
	}

	// A newline in data would split the frame on the wire
	payload = strings.ReplaceAll(payload, "\n", " ")

	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	return err
}
