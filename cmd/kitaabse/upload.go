package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/lyallcooper/kitaabse/internal/api"
	"github.com/lyallcooper/kitaabse/internal/db"
	"github.com/lyallcooper/kitaabse/internal/publish"
	"github.com/lyallcooper/kitaabse/internal/render"
	"github.com/lyallcooper/kitaabse/internal/scheduler"
	"github.com/lyallcooper/kitaabse/internal/sse"
	"github.com/lyallcooper/kitaabse/internal/types"
	"github.com/lyallcooper/kitaabse/internal/uploader"
)

const historyPageSize = 20

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func cmdUpload(ctx context.Context, e *env, args []string) error {
	fs := e.newFlagSet("upload")
	title := fs.String("title", "", "book title")
	author := fs.String("author", "", "author")
	description := fs.String("description", "", "description")
	language := fs.String("language", "", "language of the text")
	genre := fs.String("genre", "", "genre")
	private := fs.Bool("private", false, "keep the book out of the public catalog")
	cover := fs.String("cover", "", "JPEG or PNG cover image")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return &api.ValidationError{Field: "pdf_file", Message: "exactly one PDF is required"}
	}

	pdf, err := api.OpenFile(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("failed to open PDF: %w", err)
	}
	defer pdf.Close()

	req := api.UploadRequest{
		Title:       *title,
		Author:      *author,
		Description: *description,
		Language:    *language,
		Genre:       *genre,
		IsPublic:    !*private,
		PDF:         pdf,
	}
	if *cover != "" {
		img, err := api.OpenFile(*cover)
		if err != nil {
			return fmt.Errorf("failed to open cover: %w", err)
		}
		defer img.Close()
		req.Cover = &img
	}
	if err := req.Validate(); err != nil {
		return err
	}

	run, err := e.Database.CreateUploadRun(req.Title, req.PDF.Name)
	if err != nil {
		return fmt.Errorf("failed to record upload: %w", err)
	}
	history := publish.DBSink{Store: e.Database}
	bar := render.New(e.out, e.terminal)

	var bookID *int64
	final, err := uploader.New(e.Client).Upload(ctx, req, uploader.Callbacks{
		OnProgress: func(p types.UploadProgress) {
			bar.Progress(p)
			if err := history.Publish(ctx, run.ID, p); err != nil {
				log.Printf("kitaabse: %v", err)
			}
		},
		OnCompleted: func(raw map[string]any) {
			if id := sse.CompletedFromRaw(raw).BookID; id > 0 {
				bookID = &id
			}
		},
	})
	bar.Done()

	status := db.UploadRunStatusCompleted
	var errMsg *string
	if err != nil {
		status = db.UploadRunStatusFailed
		if errors.Is(err, context.Canceled) {
			status = db.UploadRunStatusCancelled
		}
		msg := err.Error()
		errMsg = &msg
	}
	if err := e.Database.CompleteUploadRun(run.ID, status, bookID, errMsg); err != nil {
		log.Printf("kitaabse: failed to record upload outcome: %v", err)
	}

	if summary := render.Summary(final); summary != "" {
		fmt.Fprintln(e.out, summary)
	}
	if err != nil {
		return err
	}
	if bookID != nil {
		fmt.Fprintf(e.out, "Uploaded %q as book %d\n", req.Title, *bookID)
	} else {
		fmt.Fprintf(e.out, "Uploaded %q\n", req.Title)
	}
	return nil
}

func cmdHistory(ctx context.Context, e *env, args []string) error {
	fs := e.newFlagSet("history")
	page := fs.Int("page", 1, "page number")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *page < 1 {
		*page = 1
	}

	runs, err := e.Database.ListUploadRuns(historyPageSize+1, (*page-1)*historyPageSize)
	if err != nil {
		return fmt.Errorf("failed to list uploads: %w", err)
	}
	if len(runs) == 0 {
		fmt.Fprintln(e.out, "No uploads")
		return nil
	}
	hasMore := len(runs) > historyPageSize
	if hasMore {
		runs = runs[:historyPageSize]
	}

	tw := tabwriter.NewWriter(e.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tTITLE\tSTATUS\tPROGRESS\tBOOK\tDETAIL")
	for _, r := range runs {
		book := "-"
		if r.BookID != nil {
			book = fmt.Sprint(*r.BookID)
		}
		detail := r.Message
		if r.ErrorMessage != nil {
			detail = *r.ErrorMessage
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d%%\t%s\t%s\n", r.StartedAt.Local().Format(time.DateTime),
			r.Title, r.Status, r.Progress, book, excerpt(detail, 60))
	}
	tw.Flush()

	if hasMore {
		fmt.Fprintf(e.out, "\nMore with -page %d\n", *page+1)
	}
	return nil
}

func cmdSync(ctx context.Context, e *env, args []string) error {
	fs := e.newFlagSet("sync")
	if err := fs.Parse(args); err != nil {
		return err
	}

	n, err := scheduler.SyncProgress(ctx, e.Database, e.Client)
	fmt.Fprintf(e.out, "Synced %d listening positions\n", n)
	return err
}
