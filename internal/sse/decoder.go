// Package sse decodes the upload endpoint's Server-Sent Events stream into
// typed events, and encodes frames in the same wire format.
package sse

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log"
	"strings"
)

const (
	frameSeparator = "\n\n"
	readChunkSize  = 4096

	// DefaultEventType is used for frames without an event: line
	DefaultEventType = "message"
)

// ErrPartialFrame is reported when the stream ends in the middle of a frame
var ErrPartialFrame = errors.New("stream ended inside an unterminated frame")

// Frame is one raw event:/data: block
type Frame struct {
	Event string
	Data  string
}

// Decoder reads frames from a byte stream. It is lazy, finite and not restartable.
type Decoder struct {
	r       io.Reader
	chunk   []byte
	buf     []byte
	pending []Frame
	err     error

	// OnFrameError is called for every frame that is dropped. Defaults to log.Printf.
	OnFrameError func(f Frame, err error)
}

// NewDecoder creates a decoder over r
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{
		r:     r,
		chunk: make([]byte, readChunkSize),
	}
}

// Next returns the next decoded event. Frames whose payload is not valid JSON
// are reported through OnFrameError and skipped. Returns io.EOF at end of stream.
func (d *Decoder) Next() (Event, error) {
	for {
		f, err := d.NextFrame()
		if err != nil {
			return Event{}, err
		}

		ev, err := DecodeEvent(f)
		if err != nil {
			d.report(f, err)
			continue
		}
		return ev, nil
	}
}

// NextFrame returns the next non-blank frame without decoding its payload
func (d *Decoder) NextFrame() (Frame, error) {
	for {
		if len(d.pending) > 0 {
			f := d.pending[0]
			d.pending = d.pending[1:]
			return f, nil
		}
		if d.err != nil {
			return Frame{}, d.err
		}

		n, err := d.r.Read(d.chunk)
		if n > 0 {
			d.buf = append(d.buf, d.chunk[:n]...)
			d.split()
		}
		if err != nil {
			d.finish(err)
		}
	}
}

// Events exposes the decoded stream as an iterator. Iteration stops at end of
// stream, on the first read error, or once ctx is done.
func (d *Decoder) Events(ctx context.Context) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		for {
			if err := ctx.Err(); err != nil {
				yield(Event{}, err)
				return
			}

			ev, err := d.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(Event{}, err)
				return
			}
			if !yield(ev, nil) {
				return
			}
		}
	}
}

// split moves every separator-terminated segment of the buffer into pending.
// Splitting happens on bytes, so a multi-byte character cut by a chunk
// boundary stays intact in the retained tail.
func (d *Decoder) split() {
	for {
		i := bytes.Index(d.buf, []byte(frameSeparator))
		if i < 0 {
			return
		}
		segment := string(d.buf[:i])
		d.buf = d.buf[i+len(frameSeparator):]

		if f, ok := ParseFrame(segment); ok {
			d.pending = append(d.pending, f)
		}
	}
}

func (d *Decoder) finish(err error) {
	if !errors.Is(err, io.EOF) {
		d.err = fmt.Errorf("failed to read event stream: %w", err)
		return
	}

	// Unterminated trailing data is dropped, never completed synthetically
	if len(bytes.TrimSpace(d.buf)) > 0 {
		f, _ := ParseFrame(string(d.buf))
		d.report(f, ErrPartialFrame)
	}
	d.buf = nil
	d.err = io.EOF
}

func (d *Decoder) report(f Frame, err error) {
	if d.OnFrameError != nil {
		d.OnFrameError(f, err)
		return
	}
	log.Printf("sse: dropping %q frame: %v", f.Event, err)
}

// ParseFrame parses one separator-free segment. Returns false for blank segments.
func ParseFrame(segment string) (Frame, bool) {
	if strings.TrimSpace(segment) == "" {
		return Frame{}, false
	}

	f := Frame{Event: DefaultEventType}
	for _, line := range strings.Split(segment, "\n") {
		line = strings.TrimSuffix(line, "\r")

		if strings.HasPrefix(line, "event:") {
			f.Event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		} else if strings.HasPrefix(line, "data:") {
			f.Data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
		// id:, retry: and comment lines are ignored
	}
	return f, true
}
