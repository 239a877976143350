package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/lyallcooper/kitaabse/internal/api"
	"github.com/lyallcooper/kitaabse/internal/db"
)

// CleanupSchedule runs retention cleanup daily at 03:00
const CleanupSchedule = "0 3 * * *"

// ProgressPusher sends a listening position to the backend; *api.Client satisfies it
type ProgressPusher interface {
	UpdateProgress(ctx context.Context, bookID int64, u api.ProgressUpdate) (*api.Progress, error)
}

// job is one recurring task
type job struct {
	name     string
	schedule cron.Schedule
	nextRun  time.Time
	running  bool
	run      func(ctx context.Context) error
}

// Scheduler runs the progress sync and retention cleanup jobs
type Scheduler struct {
	db            *db.DB
	pusher        ProgressPusher
	parser        cron.Parser
	retentionDays int
	tick          time.Duration
	now           func() time.Time

	mu       sync.RWMutex
	jobs     []*job
	running  bool
	stopChan chan struct{}
	cancel   context.CancelFunc // Cancel function for running jobs
	wg       sync.WaitGroup     // Tracks spawned job goroutines
}

// New creates a scheduler. syncSchedule is a five-field cron expression;
// retentionDays is the fallback when the retention setting is unset.
func New(database *db.DB, pusher ProgressPusher, syncSchedule string, retentionDays int) (*Scheduler, error) {
	s := &Scheduler{
		db:            database,
		pusher:        pusher,
		parser:        cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		retentionDays: retentionDays,
		tick:          time.Minute,
		now:           time.Now,
	}
	if err := s.addJob("progress sync", syncSchedule, s.syncJob); err != nil {
		return nil, err
	}
	if err := s.addJob("cleanup", CleanupSchedule, s.cleanupJob); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) addJob(name, expr string, run func(ctx context.Context) error) error {
	schedule, err := s.parser.Parse(expr)
	if err != nil {
		return fmt.Errorf("invalid cron expression for %s: %w", name, err)
	}
	s.jobs = append(s.jobs, &job{
		name:     name,
		schedule: schedule,
		nextRun:  schedule.Next(s.now()),
		run:      run,
	})
	return nil
}

// NextRun returns when the named job runs next
func (s *Scheduler) NextRun(name string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, j := range s.jobs {
		if j.name == name {
			return j.nextRun, true
		}
	}
	return time.Time{}, false
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopChan = make(chan struct{})

	// Create cancellable context for all spawned jobs
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()

	go s.run(ctx)
}

// Stop stops the scheduler and waits for running jobs to complete
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopChan)

	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	s.wg.Wait()
}

// run is the main scheduler loop
func (s *Scheduler) run(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	s.mu.RLock()
	stop := s.stopChan
	s.mu.RUnlock()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.checkJobs(ctx)
		}
	}
}

// checkJobs starts every due job that is not already running
func (s *Scheduler) checkJobs(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, j := range s.jobs {
		if j.running || now.Before(j.nextRun) {
			continue
		}
		j.running = true
		j.nextRun = j.schedule.Next(now)
		s.wg.Add(1)
		go s.runJob(ctx, j)
	}
}

func (s *Scheduler) runJob(ctx context.Context, j *job) {
	defer func() {
		s.mu.Lock()
		j.running = false
		s.mu.Unlock()
		s.wg.Done()
	}()

	if ctx.Err() != nil {
		log.Printf("scheduler: %s cancelled before start", j.name)
		return
	}
	if err := j.run(ctx); err != nil {
		log.Printf("scheduler: %s failed: %v", j.name, err)
	}
}

func (s *Scheduler) syncJob(ctx context.Context) error {
	_, err := SyncProgress(ctx, s.db, s.pusher)
	return err
}

func (s *Scheduler) cleanupJob(ctx context.Context) error {
	days := RetentionDays(s.db, s.retentionDays)
	log.Printf("scheduler: running cleanup (retention: %d days)", days)
	return s.db.CleanupOldData(days)
}

// RetentionDays returns the retention setting stored in the database, or
// fallback when it is unset or out of range
func RetentionDays(database *db.DB, fallback int) int {
	val, err := database.GetSetting(db.SettingRetentionDays)
	if err != nil || val == "" {
		return fallback
	}
	days, err := strconv.Atoi(val)
	if err != nil || days < 1 || days > 365 {
		return fallback
	}
	return days
}

// SyncProgress pushes every pending listening position to the backend and
// returns how many rows were marked synced. Positions for books the backend
// no longer has are dropped. An authentication failure stops the sync.
func SyncProgress(ctx context.Context, database *db.DB, pusher ProgressPusher) (int, error) {
	pending, err := database.ListUnsyncedProgress()
	if err != nil {
		return 0, fmt.Errorf("failed to list pending progress: %w", err)
	}

	var synced int
	var errs []error
	for _, p := range pending {
		if ctx.Err() != nil {
			return synced, ctx.Err()
		}

		u := api.ProgressUpdate{
			PageNumber:   max(p.PageNumber, 1),
			Position:     int(p.Position),
			ListenedTime: int(p.ListenedTime),
		}
		_, err := pusher.UpdateProgress(ctx, p.BookID, u)
		switch {
		case errors.Is(err, api.ErrUnauthorized):
			return synced, fmt.Errorf("progress sync stopped: %w", err)
		case errors.Is(err, api.ErrNotFound):
			log.Printf("scheduler: book %d no longer exists, dropping its progress", p.BookID)
		case err != nil:
			errs = append(errs, fmt.Errorf("book %d: %w", p.BookID, err))
			continue
		}

		marked, err := database.MarkProgressSynced(p.BookID, p.Revision, float64(u.ListenedTime))
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to mark book %d synced: %w", p.BookID, err))
			continue
		}
		if marked {
			synced++
		}
	}

	if len(pending) > 0 {
		log.Printf("scheduler: synced %d of %d pending positions", synced, len(pending))
	}
	return synced, errors.Join(errs...)
}
