// Package uploader drives one streaming upload: it opens the request, decodes
// the event stream, reduces it into snapshots and reports the outcome.
package uploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/lyallcooper/kitaabse/internal/api"
	"github.com/lyallcooper/kitaabse/internal/progress"
	"github.com/lyallcooper/kitaabse/internal/sse"
	"github.com/lyallcooper/kitaabse/internal/types"
)

// ErrStreamEnded is reported when the stream closes without a completed or error event
var ErrStreamEnded = errors.New("upload stream ended before completion")

// UploadError is a failure reported by the backend through an error event
type UploadError struct {
	Message string
	Details string
}

func (e *UploadError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "upload failed"
	}
	if e.Details != "" && e.Details != msg {
		return msg + ": " + e.Details
	}
	return msg
}

// Streamer opens the upload request and returns the event stream body.
// *api.Client satisfies it.
type Streamer interface {
	OpenUploadStream(ctx context.Context, r api.UploadRequest) (io.ReadCloser, error)
}

// Callbacks receive the outcome of one upload. Any of them may be nil.
// OnProgress fires for every snapshot, terminal ones included, followed by
// exactly one of OnCompleted or OnError.
type Callbacks struct {
	OnProgress  func(p types.UploadProgress)
	OnCompleted func(raw map[string]any)
	OnError     func(err error)
}

func (cb Callbacks) progress(p types.UploadProgress) {
	if cb.OnProgress != nil {
		cb.OnProgress(p)
	}
}

func (cb Callbacks) completed(raw map[string]any) {
	if cb.OnCompleted != nil {
		cb.OnCompleted(raw)
	}
}

func (cb Callbacks) fail(err error) {
	if cb.OnError != nil {
		cb.OnError(err)
	}
}

// Uploader runs uploads against a Streamer
type Uploader struct {
	streamer Streamer

	// OnFrameError is passed to each stream decoder; nil logs dropped frames
	OnFrameError func(f sse.Frame, err error)
}

// New creates an uploader
func New(streamer Streamer) *Uploader {
	return &Uploader{streamer: streamer}
}

// Upload sends req and consumes its event stream on the calling goroutine.
// It returns the last snapshot and nil on completion, *UploadError for an
// error event, ErrStreamEnded, a transport error, or ctx.Err() once the
// context is done. No callback fires after cancellation is observed.
func (u *Uploader) Upload(ctx context.Context, req api.UploadRequest, cb Callbacks) (types.UploadProgress, error) {
	var last types.UploadProgress

	body, err := u.streamer.OpenUploadStream(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return last, ctx.Err()
		}
		cb.fail(err)
		return last, err
	}
	defer body.Close()

	// Closing the body unblocks a pending read when ctx is cancelled
	stop := context.AfterFunc(ctx, func() { body.Close() })
	defer stop()

	tally := progress.NewTally()
	dec := sse.NewDecoder(body)
	dec.OnFrameError = u.OnFrameError

	for ev, err := range dec.Events(ctx) {
		if ctx.Err() != nil {
			return last, ctx.Err()
		}
		if err != nil {
			err = fmt.Errorf("upload stream interrupted: %w", err)
			cb.fail(err)
			return last, err
		}

		snap, ok := progress.Reduce(ev, tally)
		if !ok {
			log.Printf("uploader: ignoring %q event", ev.Type)
			continue
		}
		last = snap
		cb.progress(snap)

		switch p := ev.Payload.(type) {
		case sse.CompletedPayload:
			cb.completed(ev.Raw)
			return last, nil
		case sse.ErrorPayload:
			uerr := &UploadError{Message: p.Error, Details: p.Details}
			cb.fail(uerr)
			return last, uerr
		}
	}

	if ctx.Err() != nil {
		return last, ctx.Err()
	}
	cb.fail(ErrStreamEnded)
	return last, ErrStreamEnded
}
