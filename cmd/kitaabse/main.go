// Command kitaabse is the command-line client for the KitaabSe audiobook
// backend.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"

	"github.com/lyallcooper/kitaabse/internal/api"
	"github.com/lyallcooper/kitaabse/internal/app"
	"github.com/lyallcooper/kitaabse/internal/config"
)

// Version info - injected at build time via ldflags
var (
	version = "dev"
	commit  = "unknown"
)

// env is what a command runs against
type env struct {
	*app.Core
	out      io.Writer
	errOut   io.Writer
	terminal bool
}

type command struct {
	usage string
	auth  bool // needs a signed-in session
	run   func(ctx context.Context, e *env, args []string) error
}

// commands is filled in init since commands print their own usage
var commands map[string]command

func init() {
	commands = map[string]command{
		"signup":   {"signup -name NAME -email EMAIL", false, cmdSignup},
		"verify":   {"verify -email EMAIL -otp CODE", false, cmdVerify},
		"login":    {"login -email EMAIL -otp CODE", false, cmdLogin},
		"logout":   {"logout", false, cmdLogout},
		"whoami":   {"whoami", false, cmdWhoami},
		"books":    {"books [-search Q] [-language L] [-genre G] [-status S] [-page N]", false, cmdBooks},
		"my":       {"my [-status S]", true, cmdMy},
		"show":     {"show BOOK_ID", false, cmdShow},
		"edit":     {"edit [-title T] [-author A] [-description D] [-genre G] [-public BOOL] BOOK_ID", true, cmdEdit},
		"delete":   {"delete [-yes] BOOK_ID", true, cmdDelete},
		"pages":    {"pages BOOK_ID", false, cmdPages},
		"upload":   {"upload -title T -language L [-author A] [-description D] [-genre G] [-private] [-cover IMAGE] FILE.pdf", true, cmdUpload},
		"progress": {"progress [-filter in_progress|completed] [BOOK_ID]", true, cmdProgress},
		"library":  {"library [-favorites]", true, cmdLibrary},
		"add":      {"add BOOK_ID", true, cmdAdd},
		"remove":   {"remove BOOK_ID", true, cmdRemove},
		"favorite": {"favorite BOOK_ID", true, cmdFavorite},
		"listen":   {"listen [-for DURATION] [-speed X] [-volume V] [-remote] BOOK_ID", true, cmdListen},
		"history":  {"history [-page N]", false, cmdHistory},
		"sync":     {"sync", true, cmdSync},
		"version":  {"version", false, cmdVersion},
	}
}

func main() {
	log.SetFlags(0)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

// run executes one command and returns the process exit code
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		usage(stderr)
		return 2
	}
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(stderr, "kitaabse: unknown command %q\n\n", args[0])
		usage(stderr)
		return 2
	}

	if err := config.LoadEnvFiles(".env"); err != nil {
		fmt.Fprintf(stderr, "kitaabse: %v\n", err)
		return 1
	}
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "kitaabse: %v\n", err)
		return 1
	}

	core, err := app.Open(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "kitaabse: %v\n", err)
		return 1
	}
	defer core.Close()

	e := &env{Core: core, out: stdout, errOut: stderr, terminal: isTerminal(stdout)}
	if cmd.auth && !core.Session.LoggedIn() {
		fmt.Fprintln(stderr, "kitaabse: not logged in; run `kitaabse login` first")
		return 1
	}

	if err := cmd.run(ctx, e, args[1:]); err != nil {
		return report(stderr, err)
	}
	return 0
}

// report prints err and picks the exit code
func report(w io.Writer, err error) int {
	var verr *api.ValidationError
	var aerr *api.Error
	switch {
	case errors.Is(err, flag.ErrHelp):
		return 2
	case errors.As(err, &verr):
		fmt.Fprintf(w, "kitaabse: %v\n", verr)
		return 2
	case errors.Is(err, api.ErrUnauthorized):
		fmt.Fprintln(w, "kitaabse: session expired; run `kitaabse login` again")
	case errors.As(err, &aerr) && len(aerr.Fields) > 0:
		fmt.Fprintf(w, "kitaabse: %s\n", aerr.Message)
		fields := make([]string, 0, len(aerr.Fields))
		for f := range aerr.Fields {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		for _, f := range fields {
			for _, msg := range aerr.Fields[f] {
				fmt.Fprintf(w, "  %s: %s\n", f, msg)
			}
		}
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(w, "kitaabse: interrupted")
		return 130
	default:
		fmt.Fprintf(w, "kitaabse: %v\n", err)
	}
	return 1
}

func usage(w io.Writer) {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintln(w, "usage: kitaabse COMMAND [flags] [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "commands:")
	for _, name := range names {
		fmt.Fprintf(w, "  %s\n", commands[name].usage)
	}
}

// newFlagSet creates a subcommand flag set that reports errors instead of exiting
func (e *env) newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(e.errOut)
	fs.Usage = func() {
		fmt.Fprintf(e.errOut, "usage: kitaabse %s\n", commands[name].usage)
		fs.PrintDefaults()
	}
	return fs
}

// bookID parses the single positional BOOK_ID argument
func bookID(fs *flag.FlagSet) (int64, error) {
	if fs.NArg() != 1 {
		fs.Usage()
		return 0, &api.ValidationError{Field: "BOOK_ID", Message: "exactly one book id is required"}
	}
	id, err := strconv.ParseInt(fs.Arg(0), 10, 64)
	if err != nil || id <= 0 {
		return 0, &api.ValidationError{Field: "BOOK_ID", Message: fmt.Sprintf("%q is not a book id", fs.Arg(0))}
	}
	return id, nil
}

func cmdVersion(ctx context.Context, e *env, args []string) error {
	fmt.Fprintf(e.out, "kitaabse %s (%s)\n", version, commit)
	return nil
}
