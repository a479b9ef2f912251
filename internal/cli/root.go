package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/coinsync/internal/api"
	"github.com/roach88/coinsync/internal/config"
	"github.com/roach88/coinsync/internal/engine"
	"github.com/roach88/coinsync/internal/remote"
)

// ErrNoDSN is returned by commands that need the users table when no DSN
// is configured.
var ErrNoDSN = errors.New("no users database configured (set COINSYNC_DSN or --dsn)")

// Remote is the users-table client the commands need.
type Remote interface {
	api.Users
	Close() error
}

// RemoteFactory opens the users table.
type RemoteFactory func(ctx context.Context, dsn string) (Remote, error)

// SourceFactory opens the realtime change feed.
type SourceFactory func(dsn string, logger *slog.Logger) engine.ChangeSource

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose   bool
	Format    string // "json" | "text"
	LogFormat string
	EnvFiles  []string
	CachePath string
	DSN       string

	// Config is loaded before any subcommand runs.
	Config config.Config

	// OpenRemote and OpenSource are replaced in tests.
	OpenRemote RemoteFactory
	OpenSource SourceFactory
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the coinsync CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	if opts.OpenRemote == nil {
		opts.OpenRemote = openPostgres
	}
	if opts.OpenSource == nil {
		opts.OpenSource = openListener
	}

	cmd := &cobra.Command{
		Use:   "coinsync",
		Short: "coinsync - coin balance cache and reconciliation",
		Long: `Keep a local coin balance and pro status in sync with the users table.

Reads go to the remote table with retry; the last confirmed values are kept
in a local SQLite cache so they can be shown when the network is down.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return loadConfig(cmd, opts)
		},
	}

	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.StringVar(&opts.LogFormat, "log-format", "", "log format (text|json)")
	flags.StringSliceVar(&opts.EnvFiles, "env", nil, "env files to load (default .env if present)")
	flags.StringVar(&opts.CachePath, "cache", "", "path to the local cache database")
	flags.StringVar(&opts.DSN, "dsn", "", "Postgres connection string for the users table")

	cmd.AddCommand(NewBalanceCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewProCommand(opts))
	cmd.AddCommand(NewAffordCommand(opts))
	cmd.AddCommand(NewSpendCommand(opts))
	cmd.AddCommand(NewLogoutCommand(opts))
	cmd.AddCommand(NewPacksCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))
	cmd.AddCommand(NewTraceCommand(opts))

	// usage mistakes exit 2 like any other command error
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return WrapExitError(ExitCommandError, "invalid flags", err)
	})
	wrapArgs(cmd)

	return cmd
}

// wrapArgs gives positional argument errors of cmd and its children the
// command-error exit code.
func wrapArgs(cmd *cobra.Command) {
	if validate := cmd.Args; validate != nil {
		cmd.Args = func(c *cobra.Command, args []string) error {
			if err := validate(c, args); err != nil {
				return WrapExitError(ExitCommandError, "invalid arguments", err)
			}
			return nil
		}
	}
	for _, sub := range cmd.Commands() {
		wrapArgs(sub)
	}
}

// loadConfig reads env files and the environment, then applies flags that
// were set explicitly.
func loadConfig(cmd *cobra.Command, opts *RootOptions) error {
	cfg, err := config.Load(opts.EnvFiles...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load configuration", err)
	}

	flags := cmd.Flags()
	if flags.Changed("cache") {
		cfg.CachePath = opts.CachePath
	}
	if flags.Changed("dsn") {
		cfg.DSN = opts.DSN
	}
	if flags.Changed("log-format") {
		cfg.Logs.Format = opts.LogFormat
	}
	if opts.Verbose {
		cfg.Logs.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	opts.Config = cfg
	return nil
}

func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

func openPostgres(ctx context.Context, dsn string) (Remote, error) {
	if dsn == "" {
		return nil, ErrNoDSN
	}
	pg, err := remote.Open(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return pg, nil
}

func openListener(dsn string, logger *slog.Logger) engine.ChangeSource {
	return remote.NewListener(dsn, remote.WithListenerLogger(logger))
}
