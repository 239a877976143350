package uploader

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/lyallcooper/kitaabse/internal/api"
	"github.com/lyallcooper/kitaabse/internal/db"
	"github.com/lyallcooper/kitaabse/internal/publish"
	"github.com/lyallcooper/kitaabse/internal/sse"
	"github.com/lyallcooper/kitaabse/internal/types"
)

const subscriberBuffer = 16

// subscriber wraps a channel with safe close handling
type subscriber struct {
	mu     sync.Mutex
	ch     chan types.UploadProgress
	closed bool
}

func (sub *subscriber) close() {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
}

// send never blocks; a slow subscriber misses snapshots
func (sub *subscriber) send(p types.UploadProgress) bool {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		return false
	}
	select {
	case sub.ch <- p:
		return true
	default:
		return false
	}
}

// Service runs uploads in the background, records them as upload runs and
// fans their snapshots out to subscribers and sinks
type Service struct {
	db       *db.DB
	uploader *Uploader
	sink     publish.Sink
	timeout  time.Duration

	mu     sync.RWMutex
	active map[string]context.CancelFunc
	wg     sync.WaitGroup

	subMu       sync.RWMutex
	subscribers map[string][]*subscriber
}

// NewService creates the background upload service. Snapshots are always
// stored on the run row; extra receives them as well when non-nil. A zero
// timeout leaves uploads without a deadline.
func NewService(database *db.DB, up *Uploader, extra publish.Sink, timeout time.Duration) *Service {
	sinks := publish.Multi{publish.DBSink{Store: database}}
	if extra != nil {
		sinks = append(sinks, extra)
	}
	return &Service{
		db:          database,
		uploader:    up,
		sink:        sinks,
		timeout:     timeout,
		active:      make(map[string]context.CancelFunc),
		subscribers: make(map[string][]*subscriber),
	}
}

// Subscribe subscribes to snapshots of a run. The channel is closed when the run ends.
func (s *Service) Subscribe(runID string) <-chan types.UploadProgress {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	sub := &subscriber{ch: make(chan types.UploadProgress, subscriberBuffer)}
	s.subscribers[runID] = append(s.subscribers[runID], sub)
	return sub.ch
}

// Unsubscribe removes a subscriber
func (s *Service) Unsubscribe(runID string, ch <-chan types.UploadProgress) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	subs := s.subscribers[runID]
	for i, sub := range subs {
		if sub.ch == ch {
			s.subscribers[runID] = append(subs[:i], subs[i+1:]...)
			sub.close()
			break
		}
	}
	if len(s.subscribers[runID]) == 0 {
		delete(s.subscribers, runID)
	}
}

func (s *Service) broadcast(runID string, p types.UploadProgress) {
	s.subMu.RLock()
	subs := make([]*subscriber, len(s.subscribers[runID]))
	copy(subs, s.subscribers[runID])
	s.subMu.RUnlock()

	for _, sub := range subs {
		sub.send(p)
	}
}

func (s *Service) closeSubscribers(runID string) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for _, sub := range s.subscribers[runID] {
		sub.close()
	}
	delete(s.subscribers, runID)
}

// Start records a new upload run and uploads req in the background. token,
// when set, is used as the bearer token instead of the client's own session.
// req's readers must stay valid until the run ends.
func (s *Service) Start(req api.UploadRequest, token string) (*db.UploadRun, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	run, err := s.db.CreateUploadRun(req.Title, req.PDF.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload run: %w", err)
	}

	var ctx context.Context
	var cancel context.CancelFunc
	if s.timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), s.timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	if token != "" {
		ctx = api.WithBearer(ctx, token)
	}

	s.mu.Lock()
	s.active[run.ID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(ctx, run.ID, req)

	return run, nil
}

func (s *Service) run(ctx context.Context, runID string, req api.UploadRequest) {
	defer func() {
		s.mu.Lock()
		if cancel, ok := s.active[runID]; ok {
			cancel()
			delete(s.active, runID)
		}
		s.mu.Unlock()
		s.closeSubscribers(runID)
		s.wg.Done()
	}()

	// Sinks outlive cancellation so the final snapshot is still recorded
	sinkCtx := context.WithoutCancel(ctx)
	emit := func(p types.UploadProgress) {
		if err := s.sink.Publish(sinkCtx, runID, p); err != nil {
			log.Printf("uploader: %v", err)
		}
		s.broadcast(runID, p)
	}

	var bookID *int64
	cb := Callbacks{
		OnProgress: emit,
		OnCompleted: func(raw map[string]any) {
			if id := sse.CompletedFromRaw(raw).BookID; id > 0 {
				bookID = &id
			}
		},
	}

	log.Printf("uploader: run %s: uploading %q", runID, req.Title)
	final, err := s.uploader.Upload(ctx, req, cb)

	status := db.UploadRunStatusCompleted
	var errMsg *string
	switch {
	case err == nil:
		log.Printf("uploader: run %s: completed", runID)
	case ctx.Err() != nil:
		status = db.UploadRunStatusCancelled
		msg := "Upload cancelled"
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			status = db.UploadRunStatusFailed
			msg = "Upload timed out"
		}
		errMsg = &msg
		emit(types.UploadProgress{
			CurrentPage: final.CurrentPage,
			TotalPages:  final.TotalPages,
			Message:     msg,
			Status:      types.StageError,
			AudioStats:  final.AudioStats,
		})
		log.Printf("uploader: run %s: %s", runID, msg)
	default:
		status = db.UploadRunStatusFailed
		msg := err.Error()
		errMsg = &msg
		// Transport failures and truncated streams have no error snapshot yet
		if final.Status != types.StageError {
			emit(types.UploadProgress{
				CurrentPage: final.CurrentPage,
				TotalPages:  final.TotalPages,
				Message:     msg,
				Status:      types.StageError,
				AudioStats:  final.AudioStats,
			})
		}
		log.Printf("uploader: run %s: failed: %v", runID, err)
	}

	if err := s.db.CompleteUploadRun(runID, status, bookID, errMsg); err != nil {
		log.Printf("uploader: run %s: failed to record outcome: %v", runID, err)
	}
}

// Active reports whether a run is still uploading
func (s *Service) Active(runID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.active[runID]
	return ok
}

// Cancel cancels an active run. Returns false if the run is not active.
func (s *Service) Cancel(runID string) bool {
	s.mu.RLock()
	cancel, ok := s.active[runID]
	s.mu.RUnlock()

	if ok {
		cancel()
	}
	return ok
}

// Shutdown cancels every active run and waits for them to finish or ctx to end
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	for _, cancel := range s.active {
		cancel()
	}
	s.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
