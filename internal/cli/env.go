package cli

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/coinsync/internal/cache"
	"github.com/roach88/coinsync/internal/engine"
	"github.com/roach88/coinsync/internal/retry"
	"github.com/roach88/coinsync/internal/store"
)

// env is what a command runs against. Close releases everything opened.
type env struct {
	opts   *RootOptions
	out    *OutputFormatter
	logger *slog.Logger

	store  *store.Store
	cache  cache.Cache
	remote Remote
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// newLogger builds the slog logger from the log settings. Logs go to
// stderr so JSON output on stdout stays clean.
func (o *RootOptions) newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(o.Config.Logs.Level)); err != nil {
		level = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if o.Config.Logs.Format == "json" {
		handler = slog.NewJSONHandler(w, handlerOpts)
	} else {
		handler = slog.NewTextHandler(w, handlerOpts)
	}
	return slog.New(handler)
}

func (o *RootOptions) retryPolicy() retry.Policy {
	p := retry.Default
	p.Attempts = o.Config.Retry.Attempts
	p.Base = o.Config.Retry.Base
	return p
}

// openEnv opens the local cache and, when withRemote is set, the users
// table.
func (o *RootOptions) openEnv(ctx context.Context, cmd *cobra.Command, withRemote bool) (*env, error) {
	e := &env{
		opts:   o,
		out:    o.formatter(cmd),
		logger: o.newLogger(cmd.ErrOrStderr()),
	}

	st, err := store.Open(o.Config.CachePath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open local cache", err)
	}
	e.store = st
	e.cache = cache.NewPersistent(st, cache.WithLogger(e.logger))
	e.out.VerboseLog("local cache: %s", st.Path())

	if withRemote {
		r, err := o.OpenRemote(ctx, o.Config.DSN)
		if err != nil {
			st.Close()
			return nil, WrapExitError(ExitCommandError, "failed to open users table", err)
		}
		e.remote = r
	}
	return e, nil
}

func (e *env) Close() {
	if e.remote != nil {
		if err := e.remote.Close(); err != nil {
			e.logger.Warn("closing users table", "error", err)
		}
	}
	if err := e.store.Close(); err != nil {
		e.logger.Warn("closing local cache", "error", err)
	}
}

// session builds a balance session for uid. The logical clock resumes
// from the balance log so trace output keeps increasing across runs.
func (e *env) session(ctx context.Context, uid string, source engine.ChangeSource, prompter engine.Prompter) *engine.Session {
	startSeq, err := e.store.LastSeq(ctx, uid)
	if err != nil {
		e.logger.Warn("reading last balance seq", "uid", uid, "error", err)
	}
	policy := e.opts.retryPolicy()

	var users engine.UserReader
	if e.remote != nil {
		users = e.remote
	}
	return engine.NewSession(uid, engine.Deps{
		Users:    users,
		Cache:    e.cache,
		Source:   source,
		Recorder: e.store,
		Prompter: prompter,
		Retry:    &policy,
		Logger:   e.logger,
		StartSeq: startSeq,
	})
}

// signalContext is cancelled on SIGINT/SIGTERM or when the command context
// ends.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
