package db

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/lyallcooper/kitaabse/internal/types"
)

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

// Settings queries

// GetSetting returns the value for key, or "" when unset
func (db *DB) GetSetting(key string) (string, error) {
	var value string
	err := db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// SetSetting inserts or replaces a setting
func (db *DB) SetSetting(key, value string) error {
	_, err := db.Exec(`
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

// DeleteSettings removes the given keys
func (db *DB) DeleteSettings(keys ...string) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	for _, key := range keys {
		if _, err := tx.Exec("DELETE FROM settings WHERE key = ?", key); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// UploadRun queries

const uploadRunColumns = `id, title, file_name, status, stage, progress, message,
	current_page, total_pages, audio_generated, audio_failed, audio_skipped, audio_duration,
	book_id, error_message, started_at, completed_at`

// CreateUploadRun records a new running upload with a fresh UUID
func (db *DB) CreateUploadRun(title, fileName string) (*UploadRun, error) {
	id := uuid.NewString()
	_, err := db.Exec(`
		INSERT INTO upload_runs (id, title, file_name, status, stage, started_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, title, fileName, UploadRunStatusRunning, types.StageIdle, time.Now().UTC(),
	)
	if err != nil {
		return nil, err
	}
	return db.GetUploadRun(id)
}

// GetUploadRun retrieves an upload run by ID
func (db *DB) GetUploadRun(id string) (*UploadRun, error) {
	row := db.QueryRow("SELECT "+uploadRunColumns+" FROM upload_runs WHERE id = ?", id)
	return scanUploadRun(row)
}

// ListUploadRuns returns upload runs, newest first
func (db *DB) ListUploadRuns(limit, offset int) ([]*UploadRun, error) {
	rows, err := db.Query("SELECT "+uploadRunColumns+`
		FROM upload_runs ORDER BY started_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*UploadRun
	for rows.Next() {
		r, err := scanUploadRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// UpdateUploadRunProgress stores the latest snapshot for a run
func (db *DB) UpdateUploadRunProgress(id string, p types.UploadProgress) error {
	var generated, failed, skipped int
	var duration float64
	if p.AudioStats != nil {
		generated, failed, skipped = p.AudioStats.Generated, p.AudioStats.Failed, p.AudioStats.Skipped
		duration = p.AudioStats.Duration()
	}
	_, err := db.Exec(`
		UPDATE upload_runs SET
			stage = ?, progress = ?, message = ?, current_page = ?, total_pages = ?,
			audio_generated = ?, audio_failed = ?, audio_skipped = ?, audio_duration = ?
		WHERE id = ?`,
		p.Status, p.Progress, p.Message, p.CurrentPage, p.TotalPages,
		generated, failed, skipped, duration, id,
	)
	return err
}

// CompleteUploadRun marks an upload run as finished
func (db *DB) CompleteUploadRun(id string, status UploadRunStatus, bookID *int64, errorMsg *string) error {
	_, err := db.Exec(`
		UPDATE upload_runs SET status = ?, book_id = ?, error_message = ?, completed_at = ?
		WHERE id = ?`,
		status, bookID, errorMsg, time.Now().UTC(), id,
	)
	return err
}

// FailInterruptedRuns marks runs left running by a previous process as failed
func (db *DB) FailInterruptedRuns() (int64, error) {
	result, err := db.Exec(`
		UPDATE upload_runs SET status = ?, error_message = ?, completed_at = ?
		WHERE status = ?`,
		UploadRunStatusFailed, "interrupted", time.Now().UTC(), UploadRunStatusRunning,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func scanUploadRun(row rowScanner) (*UploadRun, error) {
	var r UploadRun
	var bookID sql.NullInt64
	var errorMsg sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(&r.ID, &r.Title, &r.FileName, &r.Status, &r.Stage, &r.Progress, &r.Message,
		&r.CurrentPage, &r.TotalPages, &r.AudioGenerated, &r.AudioFailed, &r.AudioSkipped, &r.AudioDuration,
		&bookID, &errorMsg, &r.StartedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	if bookID.Valid {
		r.BookID = &bookID.Int64
	}
	if errorMsg.Valid {
		r.ErrorMessage = &errorMsg.String
	}
	if completedAt.Valid {
		r.CompletedAt = &completedAt.Time
	}
	return &r, nil
}

// ListeningProgress queries

const listeningProgressColumns = `book_id, page_number, position, listened_time, volume, revision, synced, updated_at`

// SaveListeningProgress upserts the local position for a book and marks it
// pending sync. p.ListenedTime is added to the pending listened time; the
// stored total and revision are written back into p.
func (db *DB) SaveListeningProgress(p *ListeningProgress) error {
	now := time.Now().UTC()
	err := db.QueryRow(`
		INSERT INTO listening_progress (book_id, page_number, position, listened_time, volume, revision, synced, updated_at)
		VALUES (?, ?, ?, ?, ?, 1, 0, ?)
		ON CONFLICT(book_id) DO UPDATE SET
			page_number = excluded.page_number,
			position = excluded.position,
			listened_time = listening_progress.listened_time + excluded.listened_time,
			volume = excluded.volume,
			revision = listening_progress.revision + 1,
			synced = 0,
			updated_at = excluded.updated_at
		RETURNING revision, listened_time`,
		p.BookID, p.PageNumber, p.Position, p.ListenedTime, p.Volume, now,
	).Scan(&p.Revision, &p.ListenedTime)
	if err != nil {
		return err
	}
	p.Synced = false
	p.UpdatedAt = now
	return nil
}

// GetListeningProgress returns the local position for a book
func (db *DB) GetListeningProgress(bookID int64) (*ListeningProgress, error) {
	row := db.QueryRow("SELECT "+listeningProgressColumns+" FROM listening_progress WHERE book_id = ?", bookID)
	return scanListeningProgress(row)
}

// ListListeningProgress returns all local positions, most recent first
func (db *DB) ListListeningProgress() ([]*ListeningProgress, error) {
	return db.queryListeningProgress("SELECT " + listeningProgressColumns + " FROM listening_progress ORDER BY updated_at DESC")
}

// ListUnsyncedProgress returns positions not yet pushed to the backend
func (db *DB) ListUnsyncedProgress() ([]*ListeningProgress, error) {
	return db.queryListeningProgress("SELECT " + listeningProgressColumns + " FROM listening_progress WHERE synced = 0 ORDER BY updated_at")
}

// MarkProgressSynced records that the row read at revision was pushed with
// listened seconds. The pushed seconds leave the pending total either way;
// the row is flagged synced only if it was not saved again since. Reports
// whether it was flagged.
func (db *DB) MarkProgressSynced(bookID, revision int64, listened float64) (bool, error) {
	var synced bool
	err := db.QueryRow(`
		UPDATE listening_progress SET
			listened_time = MAX(listened_time - ?, 0),
			synced = (revision = ?)
		WHERE book_id = ?
		RETURNING synced`,
		listened, revision, bookID,
	).Scan(&synced)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return synced, err
}

func (db *DB) queryListeningProgress(query string, args ...any) ([]*ListeningProgress, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ListeningProgress
	for rows.Next() {
		p, err := scanListeningProgress(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanListeningProgress(row rowScanner) (*ListeningProgress, error) {
	var p ListeningProgress
	err := row.Scan(&p.BookID, &p.PageNumber, &p.Position, &p.ListenedTime, &p.Volume,
		&p.Revision, &p.Synced, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CleanupOldData removes data older than the retention period
func (db *DB) CleanupOldData(retentionDays int) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)

	_, err := db.Exec("DELETE FROM upload_runs WHERE completed_at < ? AND status != ?", cutoff, UploadRunStatusRunning)
	if err != nil {
		return err
	}

	// Pending rows are kept until the sync job pushes them
	_, err = db.Exec("DELETE FROM listening_progress WHERE synced = 1 AND updated_at < ?", cutoff)
	return err
}
