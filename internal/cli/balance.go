package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/coinsync/internal/engine"
)

// BalanceOutput is the result of a balance read.
type BalanceOutput struct {
	UID       string `json:"uid,omitempty"`
	Coins     int64  `json:"coins"`
	Confirmed bool   `json:"confirmed"`
	Attempts  int    `json:"attempts"`
	Error     string `json:"error,omitempty"`
}

// NewBalanceCommand creates the balance command.
func NewBalanceCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "balance [uid]",
		Short: "Fetch the coin balance",
		Long: `Fetch the coin balance of a user from the users table.

When every attempt fails the last known balance from the local cache is
shown instead. Without a uid nothing is fetched and the cached balance is
shown.

Examples:
  coinsync balance 7f1c2a
  coinsync balance 7f1c2a --format json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uid := ""
			if len(args) == 1 {
				uid = args[0]
			}
			return runBalance(opts, uid, cmd)
		},
	}
}

func runBalance(opts *RootOptions, uid string, cmd *cobra.Command) error {
	ctx, cancel := signalContext(cmd)
	defer cancel()

	e, err := opts.openEnv(ctx, cmd, uid != "")
	if err != nil {
		return err
	}
	defer e.Close()

	sess := e.session(ctx, uid, nil, nil)
	defer sess.Close()

	res := sess.Start(ctx)
	out := BalanceOutput{
		UID:       uid,
		Coins:     res.Coins,
		Confirmed: res.Confirmed,
		Attempts:  res.Attempts,
	}
	if res.Err != nil && !errors.Is(res.Err, engine.ErrNoUser) {
		out.Error = res.Err.Error()
	}

	return e.out.Emit(out, func(w io.Writer) {
		switch {
		case uid == "":
			fmt.Fprintf(w, "%d coins (cached, signed out)\n", out.Coins)
		case out.Confirmed:
			fmt.Fprintf(w, "%s: %d coins\n", uid, out.Coins)
		default:
			fmt.Fprintf(w, "%s: %d coins (last known; remote unavailable after %d attempts)\n",
				uid, out.Coins, out.Attempts)
		}
	})
}

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	For time.Duration
}

// UpdateOutput is one applied balance update.
type UpdateOutput struct {
	UID    string `json:"uid"`
	Coins  int64  `json:"coins"`
	Source string `json:"source"`
	Seq    int64  `json:"seq"`
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch <uid>",
		Short: "Follow balance changes in realtime",
		Long: `Fetch the balance, then print every change pushed by the users table
until interrupted.

Each line is one applied update with the source it came from (cache, fetch
or push) and its sequence number.

Examples:
  coinsync watch 7f1c2a
  coinsync watch 7f1c2a --for 30s --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, args[0], cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.For, "for", 0, "stop after this long (0 waits for a signal)")
	return cmd
}

func runWatch(opts *WatchOptions, uid string, cmd *cobra.Command) error {
	ctx, cancel := signalContext(cmd)
	defer cancel()
	if opts.For > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, opts.For)
		defer stop()
	}

	e, err := opts.openEnv(ctx, cmd, true)
	if err != nil {
		return err
	}
	defer e.Close()

	source := opts.OpenSource(opts.Config.DSN, e.logger)
	sess := e.session(ctx, uid, source, nil)
	defer sess.Close()

	// updates arrive from the subscription goroutine
	var mu sync.Mutex
	sess.State().OnChange(func(u engine.Update) {
		mu.Lock()
		defer mu.Unlock()
		out := UpdateOutput{UID: uid, Coins: u.Coins, Source: u.Source.String(), Seq: u.Seq}
		_ = e.out.Emit(out, func(w io.Writer) {
			fmt.Fprintf(w, "%s: %d coins (%s #%d)\n", uid, out.Coins, out.Source, out.Seq)
		})
	})

	res := sess.Start(ctx)
	if res.Err != nil {
		e.logger.Warn("initial balance not confirmed", "uid", uid, "error", res.Err)
	}
	if sess.Subscription() == nil {
		return NewExitError(ExitCommandError, "realtime subscription failed")
	}
	e.out.VerboseLog("watching %s on %s", uid, sess.Subscription().Channel())

	select {
	case <-ctx.Done():
	case <-sess.Subscription().Done():
		e.logger.Warn("realtime feed ended", "uid", uid)
	}
	return nil
}
