package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/lyallcooper/kitaabse/internal/api"
	"github.com/lyallcooper/kitaabse/internal/auth"
	"github.com/lyallcooper/kitaabse/internal/progress"
)

// Account

func cmdSignup(ctx context.Context, e *env, args []string) error {
	fs := e.newFlagSet("signup")
	name := fs.String("name", "", "display name")
	email := fs.String("email", "", "email address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	detail, err := e.Client.Signup(ctx, *name, *email)
	if err != nil {
		return err
	}
	fmt.Fprintln(e.out, detail)
	fmt.Fprintf(e.out, "Check your email, then run: kitaabse verify -email %s -otp CODE\n", *email)
	return nil
}

func cmdVerify(ctx context.Context, e *env, args []string) error {
	return signIn(ctx, e, "verify", args, e.Client.VerifyOTP)
}

func cmdLogin(ctx context.Context, e *env, args []string) error {
	return signIn(ctx, e, "login", args, e.Client.Login)
}

func signIn(ctx context.Context, e *env, name string, args []string,
	exchange func(ctx context.Context, email, otp string) (*api.AuthResponse, error)) error {
	fs := e.newFlagSet(name)
	email := fs.String("email", "", "email address")
	otp := fs.String("otp", "", "code from the email")
	if err := fs.Parse(args); err != nil {
		return err
	}

	resp, err := exchange(ctx, *email, *otp)
	if err != nil {
		return err
	}
	if err := e.Session.Save(resp); err != nil {
		return err
	}

	who := *email
	if u := e.Session.User(); u != nil && u.Name != "" {
		who = u.Name
	}
	fmt.Fprintf(e.out, "Logged in as %s\n", who)
	return nil
}

func cmdLogout(ctx context.Context, e *env, args []string) error {
	if !e.Session.LoggedIn() {
		fmt.Fprintln(e.out, "Not logged in")
		return nil
	}
	if err := e.Session.Clear(); err != nil {
		return err
	}
	fmt.Fprintln(e.out, "Logged out")
	return nil
}

func cmdWhoami(ctx context.Context, e *env, args []string) error {
	if !e.Session.LoggedIn() {
		fmt.Fprintln(e.out, "Not logged in")
		return nil
	}

	if u := e.Session.User(); u != nil {
		switch {
		case u.Name != "" && u.Email != "":
			fmt.Fprintf(e.out, "%s <%s> (user %d)\n", u.Name, u.Email, u.ID)
		default:
			fmt.Fprintf(e.out, "user %d\n", u.ID)
		}
	}

	c, err := auth.Claims(e.Session.Token())
	switch {
	case err != nil:
		fmt.Fprintf(e.out, "Token unreadable: %v\n", err)
	case c.ExpiresAt.IsZero():
		fmt.Fprintln(e.out, "Token does not expire")
	case e.Session.Expired(time.Now()):
		fmt.Fprintf(e.out, "Token expired at %s\n", c.ExpiresAt.Local().Format(time.DateTime))
	default:
		fmt.Fprintf(e.out, "Token valid until %s\n", c.ExpiresAt.Local().Format(time.DateTime))
	}
	return nil
}

// Catalog

func cmdBooks(ctx context.Context, e *env, args []string) error {
	fs := e.newFlagSet("books")
	var q api.BookQuery
	fs.StringVar(&q.Search, "search", "", "search title, author and description")
	fs.StringVar(&q.Language, "language", "", "filter by language")
	fs.StringVar(&q.Genre, "genre", "", "filter by genre")
	fs.StringVar(&q.Status, "status", "", "filter by processing status")
	fs.IntVar(&q.Page, "page", 1, "page number")
	if err := fs.Parse(args); err != nil {
		return err
	}

	page, err := e.Client.ListBooks(ctx, q)
	if err != nil {
		return err
	}
	printBooks(e, page.Results)
	if page.Next != nil {
		fmt.Fprintf(e.out, "\n%d books; more with -page %d\n", page.Count, max(q.Page, 1)+1)
	}
	return nil
}

func cmdMy(ctx context.Context, e *env, args []string) error {
	fs := e.newFlagSet("my")
	status := fs.String("status", "", "filter by processing status")
	if err := fs.Parse(args); err != nil {
		return err
	}

	books, err := e.Client.MyBooks(ctx, *status)
	if err != nil {
		return err
	}
	printBooks(e, books)
	return nil
}

func printBooks(e *env, books []api.Book) {
	if len(books) == 0 {
		fmt.Fprintln(e.out, "No books")
		return
	}
	tw := tabwriter.NewWriter(e.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tAUTHOR\tLANGUAGE\tPAGES\tDURATION\tSTATUS")
	for _, b := range books {
		status := b.ProcessingStatus
		if b.ProcessingStatus == api.BookProcessing {
			status = fmt.Sprintf("%s %d%%", status, b.ProcessingProgress)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\t%s\n", b.ID, b.Title, b.Author, b.Language,
			b.TotalPages, progress.FormatDuration(float64(b.TotalDuration)), status)
	}
	tw.Flush()
}

func cmdShow(ctx context.Context, e *env, args []string) error {
	fs := e.newFlagSet("show")
	if err := fs.Parse(args); err != nil {
		return err
	}
	id, err := bookID(fs)
	if err != nil {
		return err
	}

	b, err := e.Client.GetBook(ctx, id)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(e.out, 0, 0, 2, ' ', 0)
	row := func(k string, v any) { fmt.Fprintf(tw, "%s:\t%v\n", k, v) }
	row("Title", b.Title)
	if b.Author != "" {
		row("Author", b.Author)
	}
	row("Language", b.Language)
	if b.Genre != "" {
		row("Genre", b.Genre)
	}
	row("Pages", b.TotalPages)
	row("Duration", progress.FormatDuration(float64(b.TotalDuration)))
	row("Status", b.ProcessingStatus)
	if b.ProcessingError != "" {
		row("Error", b.ProcessingError)
	}
	row("Public", b.IsPublic)
	row("Listens", b.ListenCount)
	row("Favorites", b.FavoriteCount)
	if b.Uploader != nil {
		row("Uploaded by", b.Uploader.Name)
	}
	row("Uploaded", b.UploadedAt.Local().Format(time.DateTime))
	if b.UserProgress != nil {
		row("Your progress", fmt.Sprintf("page %d, %d%%", b.UserProgress.CurrentPage, b.UserProgress.CompletionPercentage))
	}
	tw.Flush()

	if b.Description != "" {
		fmt.Fprintf(e.out, "\n%s\n", b.Description)
	}
	return nil
}

func cmdEdit(ctx context.Context, e *env, args []string) error {
	fs := e.newFlagSet("edit")
	title := fs.String("title", "", "new title")
	author := fs.String("author", "", "new author")
	description := fs.String("description", "", "new description")
	genre := fs.String("genre", "", "new genre")
	public := fs.Bool("public", true, "list the book in the public catalog")
	if err := fs.Parse(args); err != nil {
		return err
	}
	id, err := bookID(fs)
	if err != nil {
		return err
	}

	// Only flags given on the command line are sent
	var u api.BookUpdate
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "title":
			u.Title = title
		case "author":
			u.Author = author
		case "description":
			u.Description = description
		case "genre":
			u.Genre = genre
		case "public":
			u.IsPublic = public
		}
	})

	b, err := e.Client.UpdateBook(ctx, id, u)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "Updated %q\n", b.Title)
	return nil
}

func cmdDelete(ctx context.Context, e *env, args []string) error {
	fs := e.newFlagSet("delete")
	yes := fs.Bool("yes", false, "confirm the deletion")
	if err := fs.Parse(args); err != nil {
		return err
	}
	id, err := bookID(fs)
	if err != nil {
		return err
	}
	if !*yes {
		return errors.New("deleting a book can't be undone; pass -yes to confirm")
	}

	if err := e.Client.DeleteBook(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "Deleted book %d\n", id)
	return nil
}

func cmdPages(ctx context.Context, e *env, args []string) error {
	fs := e.newFlagSet("pages")
	if err := fs.Parse(args); err != nil {
		return err
	}
	id, err := bookID(fs)
	if err != nil {
		return err
	}

	bp, err := e.Client.BookPages(ctx, id)
	if err != nil {
		return err
	}

	fmt.Fprintf(e.out, "%s (%s)\n\n", bp.Book.Title, bp.Book.ProcessingStatus)
	tw := tabwriter.NewWriter(e.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PAGE\tAUDIO\tSTATUS\tTEXT")
	for _, p := range bp.Pages {
		audio := "-"
		if p.HasAudio() {
			audio = progress.FormatDuration(float64(p.AudioDuration))
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", p.PageNumber, audio, p.ProcessingStatus, excerpt(p.TextContent, 48))
	}
	return tw.Flush()
}

// excerpt returns the first n runes of s on one line
func excerpt(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// Listening progress and library

func cmdProgress(ctx context.Context, e *env, args []string) error {
	fs := e.newFlagSet("progress")
	filter := fs.String("filter", "", "in_progress or completed")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if fs.NArg() > 0 {
		id, err := bookID(fs)
		if err != nil {
			return err
		}
		p, err := e.Client.GetProgress(ctx, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(e.out, "Page %d at %s, %d%% complete, %s listened\n", p.CurrentPage,
			progress.FormatDuration(float64(p.CurrentPosition)), p.CompletionPercentage,
			progress.FormatDuration(float64(p.TotalListenedTime)))
		if local, err := e.Database.GetListeningProgress(id); err == nil && !local.Synced {
			fmt.Fprintf(e.out, "Local: page %d, %s pending sync\n", local.PageNumber,
				progress.FormatDuration(local.ListenedTime))
		}
		return nil
	}

	f := api.ProgressFilter(*filter)
	if f != api.ProgressAll && f != api.ProgressInProgress && f != api.ProgressCompleted {
		return &api.ValidationError{Field: "filter", Message: "must be in_progress or completed"}
	}
	entries, err := e.Client.MyProgress(ctx, f)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(e.out, "Nothing listened to yet")
		return nil
	}

	tw := tabwriter.NewWriter(e.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tPAGE\tCOMPLETE\tLISTENED")
	for _, p := range entries {
		done := fmt.Sprintf("%d%%", p.CompletionPercentage)
		if p.IsCompleted {
			done = "done"
		}
		fmt.Fprintf(tw, "%d\t%s\t%d/%d\t%s\t%s\n", p.Book.ID, p.Book.Title, p.CurrentPage, p.Book.TotalPages,
			done, progress.FormatDuration(float64(p.TotalListenedTime)))
	}
	return tw.Flush()
}

func cmdLibrary(ctx context.Context, e *env, args []string) error {
	fs := e.newFlagSet("library")
	favorites := fs.Bool("favorites", false, "only favorites")
	if err := fs.Parse(args); err != nil {
		return err
	}

	items, err := e.Client.Library(ctx, *favorites)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Fprintln(e.out, "Library is empty")
		return nil
	}

	tw := tabwriter.NewWriter(e.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tAUTHOR\tFAVORITE\tADDED")
	for _, it := range items {
		fav := ""
		if it.IsFavorite {
			fav = "★"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", it.Book.ID, it.Book.Title, it.Book.Author, fav,
			it.AddedAt.Local().Format(time.DateOnly))
	}
	return tw.Flush()
}

func cmdAdd(ctx context.Context, e *env, args []string) error {
	return libraryAction(ctx, e, "add", args, func(id int64) (string, error) {
		return "Added to library", e.Client.AddToLibrary(ctx, id)
	})
}

func cmdRemove(ctx context.Context, e *env, args []string) error {
	return libraryAction(ctx, e, "remove", args, func(id int64) (string, error) {
		return "Removed from library", e.Client.RemoveFromLibrary(ctx, id)
	})
}

func cmdFavorite(ctx context.Context, e *env, args []string) error {
	return libraryAction(ctx, e, "favorite", args, func(id int64) (string, error) {
		res, err := e.Client.ToggleFavorite(ctx, id)
		if err != nil {
			return "", err
		}
		if res.Message != "" {
			return res.Message, nil
		}
		if res.IsFavorite {
			return "Added to favorites", nil
		}
		return "Removed from favorites", nil
	})
}

func libraryAction(ctx context.Context, e *env, name string, args []string, do func(id int64) (string, error)) error {
	fs := e.newFlagSet(name)
	if err := fs.Parse(args); err != nil {
		return err
	}
	id, err := bookID(fs)
	if err != nil {
		return err
	}
	msg, err := do(id)
	if err != nil {
		return err
	}
	fmt.Fprintln(e.out, msg)
	return nil
}
