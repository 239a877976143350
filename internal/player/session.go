// Package player tracks a listening session over a book's page audio and
// persists the listener's position. It does not decode or play audio.
package player

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/lyallcooper/kitaabse/internal/api"
)

// DefaultSaveInterval throttles saves while playing
const DefaultSaveInterval = 10 * time.Second

var (
	// ErrNoAudio is returned when the current page has no playable audio
	ErrNoAudio = errors.New("page audio is not ready")
	// ErrNoPage is returned when there is no playable page in the requested direction
	ErrNoPage = errors.New("no playable page")
)

// Saver persists a listening position. ListenedTime in the update is the
// listening since the previous successful save.
type Saver interface {
	SaveProgress(ctx context.Context, bookID int64, u api.ProgressUpdate) error
}

// Options tunes a session
type Options struct {
	SaveInterval time.Duration    // zero means DefaultSaveInterval
	Volume       *float64         // nil means full volume
	Now          func() time.Time // clock, for tests
}

// State is a point-in-time view of the session
type State struct {
	Page                 int
	TotalPages           int
	Position             float64 // seconds into the page
	Duration             float64 // seconds of page audio
	Volume               float64
	Playing              bool
	Finished             bool
	CompletionPercentage int
	Completed            bool
}

// Session is safe for concurrent use. Saver calls are made while the session
// is locked, so a slow saver delays other calls.
type Session struct {
	mu sync.Mutex

	bookID     int64
	totalPages int
	pages      []api.Page
	index      int

	position float64
	volume   float64
	playing  bool
	finished bool

	listened float64 // seconds since the last save
	lastSave time.Time

	saver    Saver
	interval time.Duration
	now      func() time.Time
}

// New starts a paused session at start's page and position. Pages are
// ordered by page number; a start page that is missing falls back to the
// first page with audio.
func New(book *api.BookPages, start api.Progress, saver Saver, opts Options) (*Session, error) {
	if book == nil || len(book.Pages) == 0 {
		return nil, errors.New("book has no pages")
	}

	pages := make([]api.Page, len(book.Pages))
	copy(pages, book.Pages)
	sort.Slice(pages, func(i, j int) bool { return pages[i].PageNumber < pages[j].PageNumber })

	s := &Session{
		bookID:     book.Book.ID,
		totalPages: book.Book.TotalPages,
		pages:      pages,
		index:      -1,
		volume:     1,
		saver:      saver,
		interval:   opts.SaveInterval,
		now:        opts.Now,
	}
	if s.totalPages <= 0 {
		s.totalPages = pages[len(pages)-1].PageNumber
	}
	if s.interval <= 0 {
		s.interval = DefaultSaveInterval
	}
	if s.now == nil {
		s.now = time.Now
	}
	if opts.Volume != nil {
		s.volume = clamp(*opts.Volume, 0, 1)
	}

	for i, p := range pages {
		if p.PageNumber == start.CurrentPage {
			s.index = i
			s.position = clamp(float64(start.CurrentPosition), 0, float64(p.AudioDuration))
			break
		}
	}
	if s.index < 0 {
		s.index = s.nextPlayable(-1, 1)
		if s.index < 0 {
			s.index = 0
		}
	}
	s.lastSave = s.now()
	return s, nil
}

// State returns the current state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	page := s.pages[s.index]
	pct := api.CompletionPercentage(page.PageNumber, s.totalPages)
	return State{
		Page:                 page.PageNumber,
		TotalPages:           s.totalPages,
		Position:             s.position,
		Duration:             float64(page.AudioDuration),
		Volume:               s.volume,
		Playing:              s.playing,
		Finished:             s.finished,
		CompletionPercentage: pct,
		Completed:            pct >= api.CompletionThreshold,
	}
}

// Volume returns the current volume
func (s *Session) Volume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

// Play resumes playback of the current page
func (s *Session) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.pages[s.index].HasAudio() {
		return fmt.Errorf("page %d: %w", s.pages[s.index].PageNumber, ErrNoAudio)
	}
	s.playing = true
	s.finished = false
	return nil
}

// Pause stops playback and saves the position
func (s *Session) Pause(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.playing {
		return nil
	}
	s.playing = false
	return s.save(ctx)
}

// Seek moves within the current page, clamped to the page audio
func (s *Session) Seek(seconds float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.position = clamp(seconds, 0, float64(s.pages[s.index].AudioDuration))
}

// SetVolume sets the volume, clamped to [0, 1]
func (s *Session) SetVolume(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volume = clamp(v, 0, 1)
}

// Tick advances a playing session by elapsed. At the end of a page playback
// moves to the next page with audio, or finishes at the last one.
func (s *Session) Tick(ctx context.Context, elapsed time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.playing || elapsed <= 0 {
		return nil
	}

	duration := float64(s.pages[s.index].AudioDuration)
	step := math.Min(elapsed.Seconds(), duration-s.position)
	s.position += step
	s.listened += step

	if s.position >= duration {
		next := s.nextPlayable(s.index, 1)
		if next < 0 {
			s.playing = false
			s.finished = true
			return s.save(ctx)
		}
		s.index = next
		s.position = 0
		return s.save(ctx)
	}

	if s.now().Sub(s.lastSave) >= s.interval {
		return s.save(ctx)
	}
	return nil
}

// NextPage moves to the start of the next page with audio
func (s *Session) NextPage(ctx context.Context) error {
	return s.turn(ctx, 1)
}

// PrevPage moves to the start of the previous page with audio
func (s *Session) PrevPage(ctx context.Context) error {
	return s.turn(ctx, -1)
}

func (s *Session) turn(ctx context.Context, dir int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.nextPlayable(s.index, dir)
	if next < 0 {
		return ErrNoPage
	}
	s.index = next
	s.position = 0
	s.finished = false
	return s.save(ctx)
}

// Close stops playback and saves the final position
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.playing = false
	return s.save(ctx)
}

// save pushes the position and the whole seconds listened since the last
// save. The fractional remainder carries over to the next save.
func (s *Session) save(ctx context.Context) error {
	s.lastSave = s.now()
	if s.saver == nil {
		return nil
	}

	delta := math.Floor(s.listened)
	u := api.ProgressUpdate{
		PageNumber:   s.pages[s.index].PageNumber,
		Position:     int(s.position),
		ListenedTime: int(delta),
	}
	if err := s.saver.SaveProgress(ctx, s.bookID, u); err != nil {
		return fmt.Errorf("failed to save progress: %w", err)
	}
	s.listened -= delta
	return nil
}

// nextPlayable returns the index of the first page with audio after from in
// direction dir, or -1
func (s *Session) nextPlayable(from, dir int) int {
	for i := from + dir; i >= 0 && i < len(s.pages); i += dir {
		if s.pages[i].HasAudio() {
			return i
		}
	}
	return -1
}

func clamp(v, lo, hi float64) float64 {
	if hi < lo {
		hi = lo
	}
	return math.Max(lo, math.Min(v, hi))
}
