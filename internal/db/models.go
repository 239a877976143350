package db

import (
	"time"

	"github.com/lyallcooper/kitaabse/internal/types"
)

// Setting keys
const (
	SettingRetentionDays = "retention_days"
	SettingAccessToken   = "access_token"
	SettingRefreshToken  = "refresh_token"
	SettingUser          = "user"
)

// UploadRunStatus represents the status of an upload run
type UploadRunStatus string

const (
	UploadRunStatusRunning   UploadRunStatus = "running"
	UploadRunStatusCompleted UploadRunStatus = "completed"
	UploadRunStatusFailed    UploadRunStatus = "failed"
	UploadRunStatusCancelled UploadRunStatus = "cancelled"
)

// UploadRun represents a single upload invocation and its last known snapshot
type UploadRun struct {
	ID             string
	Title          string
	FileName       string
	Status         UploadRunStatus
	Stage          types.UploadStage
	Progress       int
	Message        string
	CurrentPage    int
	TotalPages     int
	AudioGenerated int
	AudioFailed    int
	AudioSkipped   int
	AudioDuration  float64 // seconds
	BookID         *int64
	ErrorMessage   *string
	StartedAt      time.Time
	CompletedAt    *time.Time
}

// Snapshot rebuilds the progress snapshot stored for the run
func (r *UploadRun) Snapshot() types.UploadProgress {
	p := types.UploadProgress{
		CurrentPage: r.CurrentPage,
		TotalPages:  r.TotalPages,
		Progress:    r.Progress,
		Message:     r.Message,
		Status:      r.Stage,
	}
	if r.AudioGenerated+r.AudioFailed+r.AudioSkipped > 0 || r.AudioDuration > 0 {
		d := r.AudioDuration
		p.AudioStats = &types.AudioStats{
			Generated:       r.AudioGenerated,
			Failed:          r.AudioFailed,
			Skipped:         r.AudioSkipped,
			CurrentDuration: &d,
		}
	}
	return p
}

// ListeningProgress is the local listening position for one book.
// ListenedTime is listening not yet pushed to the backend, which adds it to
// its own total. Revision increases on every save so a sync only marks the
// row it pushed.
type ListeningProgress struct {
	BookID       int64
	PageNumber   int
	Position     float64 // seconds into the page
	ListenedTime float64 // seconds, pending
	Volume       float64
	Revision     int64
	Synced       bool
	UpdatedAt    time.Time
}
