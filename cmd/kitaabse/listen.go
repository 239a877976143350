package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/lyallcooper/kitaabse/internal/api"
	"github.com/lyallcooper/kitaabse/internal/player"
	"github.com/lyallcooper/kitaabse/internal/progress"
)

// cmdListen runs a listening session without audio output: position and
// listened time advance in real time (scaled by -speed) and are saved the
// same way a player saves them.
func cmdListen(ctx context.Context, e *env, args []string) error {
	fs := e.newFlagSet("listen")
	length := fs.Duration("for", time.Minute, "listening time to simulate")
	speed := fs.Float64("speed", 1, "simulated seconds per real second")
	volume := fs.Float64("volume", -1, "volume from 0 to 1 (default: last used)")
	remote := fs.Bool("remote", false, "save straight to the backend instead of queueing for sync")
	tick := fs.Duration("tick", time.Second, "real time between updates")
	if err := fs.Parse(args); err != nil {
		return err
	}
	id, err := bookID(fs)
	if err != nil {
		return err
	}
	if *speed <= 0 || *tick <= 0 {
		return &api.ValidationError{Field: "speed", Message: "speed and tick must be positive"}
	}

	book, err := e.Client.BookPages(ctx, id)
	if err != nil {
		return err
	}

	start, vol := startPosition(ctx, e, id)
	if *volume >= 0 {
		vol = *volume
	}

	var saver player.Saver = player.LocalSaver{DB: e.Database, Volume: func() float64 { return vol }}
	if *remote {
		saver = player.RemoteSaver{Client: e.Client}
	}
	sess, err := player.New(book, start, saver, player.Options{
		SaveInterval: e.Config.SaveInterval,
		Volume:       &vol,
	})
	if err != nil {
		return err
	}
	if err := sess.Play(); err != nil {
		return fmt.Errorf("page %d: %w", sess.State().Page, err)
	}

	fmt.Fprintf(e.out, "Listening to %q from page %d\n", book.Book.Title, sess.State().Page)

	ticker := time.NewTicker(*tick)
	defer ticker.Stop()
	step := time.Duration(float64(*tick) * *speed)
	var listened time.Duration
	page := sess.State().Page

loop:
	for listened < *length {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
		}

		if err := sess.Tick(ctx, min(step, *length-listened)); err != nil {
			log.Printf("kitaabse: failed to save progress: %v", err)
		}
		listened += step

		st := sess.State()
		if st.Page != page {
			page = st.Page
			e.printListenState(st, true)
		} else {
			e.printListenState(st, false)
		}
		if st.Finished {
			break
		}
	}
	if e.terminal {
		fmt.Fprintln(e.out)
	}

	// The final save must happen even after an interrupt
	if err := sess.Close(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("failed to save progress: %w", err)
	}

	st := sess.State()
	if st.Finished {
		fmt.Fprintln(e.out, "Finished the book")
	} else {
		fmt.Fprintf(e.out, "Stopped on page %d of %d at %s (%d%%)\n", st.Page, st.TotalPages,
			progress.FormatDuration(st.Position), st.CompletionPercentage)
	}
	if !*remote {
		fmt.Fprintln(e.out, "Progress saved locally; it is pushed by `kitaabse sync` or the relay")
	}
	return nil
}

// startPosition resumes from the local position when one is waiting to be
// synced, otherwise from the backend's
func startPosition(ctx context.Context, e *env, bookID int64) (api.Progress, float64) {
	vol := 1.0
	if local, err := e.Database.GetListeningProgress(bookID); err == nil {
		vol = local.Volume
		if !local.Synced {
			return api.Progress{CurrentPage: local.PageNumber, CurrentPosition: int(local.Position)}, vol
		}
	}

	p, err := e.Client.GetProgress(ctx, bookID)
	if err != nil {
		if !errors.Is(err, api.ErrNotFound) {
			log.Printf("kitaabse: starting from the first page: %v", err)
		}
		return api.Progress{}, vol
	}
	return *p, vol
}

// printListenState redraws the status line on a terminal; otherwise it only
// prints page changes
func (e *env) printListenState(st player.State, pageChanged bool) {
	line := fmt.Sprintf("Page %d/%d  %s / %s  %d%%", st.Page, st.TotalPages,
		progress.FormatDuration(st.Position), progress.FormatDuration(st.Duration), st.CompletionPercentage)
	switch {
	case e.terminal:
		fmt.Fprintf(e.out, "\r\033[K%s", line)
	case pageChanged:
		fmt.Fprintln(e.out, line)
	}
}
