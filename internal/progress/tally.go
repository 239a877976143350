// Package progress maps decoded upload events onto UploadProgress snapshots.
package progress

import (
	"github.com/lyallcooper/kitaabse/internal/sse"
	"github.com/lyallcooper/kitaabse/internal/types"
)

// Tally accumulates audio generation results for a single upload.
// Each upload owns its own Tally; it is never shared between uploads.
type Tally struct {
	Generated     int
	Failed        int
	Skipped       int
	TotalDuration float64

	audioStarted bool
}

// NewTally returns a zeroed tally
func NewTally() *Tally {
	return &Tally{}
}

// Reset zeroes the tally at the start of a processing session
func (t *Tally) Reset() {
	*t = Tally{}
}

// Apply records one audio_progress status. Repeated statuses for the same
// page are counted again; there is no per-page dedup.
func (t *Tally) Apply(status sse.AudioPageStatus, duration float64) {
	switch status {
	case sse.AudioPageCompleted:
		t.Generated++
		if duration > 0 {
			t.TotalDuration += duration
		}
	case sse.AudioPageSkipped:
		t.Skipped++
	case sse.AudioPageFailed:
		t.Failed++
	}
}

// Stats returns a snapshot copy safe to hand to callers
func (t *Tally) Stats() *types.AudioStats {
	d := t.TotalDuration
	return &types.AudioStats{
		Generated:       t.Generated,
		Failed:          t.Failed,
		Skipped:         t.Skipped,
		CurrentDuration: &d,
	}
}
