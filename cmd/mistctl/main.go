// mistctl is a small command-line client for a mistbook server. It signs a
// player in, lists their characters and adventures, and handles joining and
// leaving adventures by code.
//
// The session token is kept in ~/.mistbook/config.json (or $MISTCTL_CONFIG).
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"

	"github.com/spf13/pflag"

	"github.com/meur/mistbook/internal/client"
	"github.com/meur/mistbook/internal/editor"
	"github.com/meur/mistbook/internal/remote"
	"github.com/meur/mistbook/internal/session"
)

type command struct {
	summary string
	run     func(ctx context.Context, a *app, args []string) error
}

var commands = map[string]command{
	"login":      {"sign in and remember the session", runLogin},
	"signup":     {"create an account and sign in", runSignUp},
	"logout":     {"sign out and forget the session", runLogout},
	"whoami":     {"show the signed-in player", runWhoami},
	"landing":    {"print the character the app would open first", runLanding},
	"characters": {"list characters, newest first (--new NAME creates one)", runCharacters},
	"adventures": {"list adventures you own or play in", runAdventures},
	"join":       {"enroll a character with a four-letter join code", runJoin},
	"leave":      {"take a character out of its adventure", runLeave},
	"roster":     {"list the characters playing an adventure", runRoster},
	"quit":       {"release all your characters from an adventure", runQuit},
}

// app carries what every command needs.
type app struct {
	out    io.Writer
	cfg    cliConfig
	holder *session.Holder
	client *client.Client
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(argv []string, out io.Writer) error {
	var server string
	var verbose bool

	flagSet := pflag.NewFlagSet("mistctl", pflag.ContinueOnError)
	flagSet.StringVar(&server, "server", "", "server base URL (default from config, then "+defaultServer+")")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "log client diagnostics to stderr")
	flagSet.SetInterspersed(false)
	flagSet.Usage = func() { printHelp(out, flagSet) }

	if err := flagSet.Parse(argv); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	args := flagSet.Args()
	if len(args) == 0 {
		printHelp(out, flagSet)
		return nil
	}
	cmd, ok := commands[args[0]]
	if !ok {
		return fmt.Errorf("unknown command %q (run mistctl --help)", args[0])
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if server != "" {
		cfg.Server = server
	}

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	holder := &session.Holder{}
	c := client.New(cfg.Server, holder, client.Options{
		Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})),
	})
	defer c.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	return cmd.run(ctx, &app{out: out, cfg: cfg, holder: holder, client: c}, args[1:])
}

func printHelp(out io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintln(out, "usage: mistctl [flags] <command> [args]")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "commands:")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "  %-11s %s\n", name, commands[name].summary)
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "flags:")
	fmt.Fprint(out, flagSet.FlagUsages())
}

// signedIn restores the saved session.
func (a *app) signedIn(ctx context.Context) error {
	if a.cfg.Token == "" {
		return errors.New("not signed in (run mistctl login)")
	}
	if _, err := a.client.Restore(ctx, a.cfg.Token); err != nil {
		if remote.IsUnauthorized(err) {
			return errors.New("session expired (run mistctl login)")
		}
		return err
	}
	return nil
}

// deps wires the view-models to the client. Info notices go to out; failures
// come back as errors.
func (a *app) deps() editor.Deps {
	return editor.Deps{
		Backend: a.client,
		Notify: remote.NotifierFunc(func(n remote.Notice) {
			if n.Level == remote.LevelInfo {
				fmt.Fprintln(a.out, n.Title)
			}
		}),
	}
}

func subcommand(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet("mistctl "+name, pflag.ContinueOnError)
	fs.SortFlags = false
	return fs
}

func oneArg(fs *pflag.FlagSet, what string) (string, error) {
	if fs.NArg() != 1 || strings.TrimSpace(fs.Arg(0)) == "" {
		return "", fmt.Errorf("expected exactly one %s", what)
	}
	return strings.TrimSpace(fs.Arg(0)), nil
}
