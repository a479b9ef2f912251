package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Limit int
}

// TraceEntry is one applied balance update from the local log.
type TraceEntry struct {
	Seq        int64     `json:"seq"`
	UID        string    `json:"uid"`
	Coins      int64     `json:"coins"`
	Source     string    `json:"source"`
	RecordedAt time.Time `json:"recorded_at"`
}

// TraceResult is the trace command output.
type TraceResult struct {
	UID     string       `json:"uid,omitempty"`
	Entries []TraceEntry `json:"entries"`
	Total   int          `json:"total"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace [uid]",
		Short: "Show the local balance log",
		Long: `Show every balance update this device applied, in sequence order.

Each entry names its source: cache (read back at startup), fetch (remote
read) or push (realtime change). Updates that lost to a newer one are not
logged.

Examples:
  coinsync trace 7f1c2a
  coinsync trace --limit 20 --format json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uid := ""
			if len(args) == 1 {
				uid = args[0]
			}
			return runTrace(opts, uid, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "show only the most recent entries (0 shows all)")
	return cmd
}

func runTrace(opts *TraceOptions, uid string, cmd *cobra.Command) error {
	ctx, cancel := signalContext(cmd)
	defer cancel()

	e, err := opts.openEnv(ctx, cmd, false)
	if err != nil {
		return err
	}
	defer e.Close()

	records, err := e.store.ReadBalanceLog(ctx, uid)
	if err != nil {
		_ = e.out.Error(CodeLocal, "failed to read balance log", err.Error())
		return WrapExitError(ExitCommandError, "failed to read balance log", err)
	}

	result := TraceResult{UID: uid, Total: len(records), Entries: []TraceEntry{}}
	if opts.Limit > 0 && len(records) > opts.Limit {
		records = records[len(records)-opts.Limit:]
	}
	for _, r := range records {
		result.Entries = append(result.Entries, TraceEntry{
			Seq:        r.Seq,
			UID:        r.UID,
			Coins:      r.Coins,
			Source:     r.Source.String(),
			RecordedAt: r.RecordedAt.UTC(),
		})
	}

	return e.out.Emit(result, func(w io.Writer) {
		if len(result.Entries) == 0 {
			fmt.Fprintln(w, "No balance updates recorded.")
			return
		}
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SEQ\tUID\tCOINS\tSOURCE\tRECORDED")
		for _, en := range result.Entries {
			fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\n", en.Seq, en.UID, en.Coins, en.Source, en.RecordedAt.Format(time.RFC3339))
		}
		tw.Flush()
		if len(result.Entries) < result.Total {
			fmt.Fprintf(w, "(%d of %d entries)\n", len(result.Entries), result.Total)
		}
	})
}
