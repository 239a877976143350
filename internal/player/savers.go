package player

import (
	"context"

	"github.com/lyallcooper/kitaabse/internal/api"
	"github.com/lyallcooper/kitaabse/internal/db"
)

// ProgressUpdater is the backend call RemoteSaver makes; *api.Client satisfies it
type ProgressUpdater interface {
	UpdateProgress(ctx context.Context, bookID int64, u api.ProgressUpdate) (*api.Progress, error)
}

// RemoteSaver pushes every save straight to the backend
type RemoteSaver struct {
	Client ProgressUpdater
}

func (s RemoteSaver) SaveProgress(ctx context.Context, bookID int64, u api.ProgressUpdate) error {
	_, err := s.Client.UpdateProgress(ctx, bookID, u)
	return err
}

// LocalSaver records saves in the local store; the scheduler's sync job
// pushes them later. Volume, when set, is stored with each save.
type LocalSaver struct {
	DB     *db.DB
	Volume func() float64
}

func (s LocalSaver) SaveProgress(_ context.Context, bookID int64, u api.ProgressUpdate) error {
	volume := 1.0
	if s.Volume != nil {
		volume = s.Volume()
	}
	return s.DB.SaveListeningProgress(&db.ListeningProgress{
		BookID:       bookID,
		PageNumber:   u.PageNumber,
		Position:     float64(u.Position),
		ListenedTime: float64(u.ListenedTime),
		Volume:       volume,
	})
}
