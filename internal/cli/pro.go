package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// ProOutput explains the effective pro status.
type ProOutput struct {
	UID       string `json:"uid"`
	Pro       bool   `json:"pro"`
	Remote    bool   `json:"remote"`
	Cached    bool   `json:"cached"`
	Confirmed bool   `json:"confirmed"`
	Attempts  int    `json:"attempts"`
}

// NewProCommand creates the pro command.
func NewProCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pro <uid>",
		Short: "Resolve pro subscription status",
		Long: `Resolve whether a user has pro status.

A user is pro when the users table says so or when the locally cached flag
says so. A failed read never revokes pro; a confirmed false from the table
is cached and takes effect on the next resolve.

Examples:
  coinsync pro 7f1c2a`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPro(opts, args[0], cmd)
		},
	}
}

func runPro(opts *RootOptions, uid string, cmd *cobra.Command) error {
	ctx, cancel := signalContext(cmd)
	defer cancel()

	e, err := opts.openEnv(ctx, cmd, true)
	if err != nil {
		return err
	}
	defer e.Close()

	sess := e.session(ctx, uid, nil, nil)
	defer sess.Close()

	res := sess.ProStatus(ctx)
	out := ProOutput{
		UID:       uid,
		Pro:       res.Active,
		Remote:    res.Remote,
		Cached:    res.Cached,
		Confirmed: res.Confirmed,
		Attempts:  res.Attempts,
	}
	return e.out.Emit(out, func(w io.Writer) {
		status := "free"
		if out.Pro {
			status = "pro"
		}
		if out.Confirmed {
			fmt.Fprintf(w, "%s: %s (remote=%t cached=%t)\n", uid, status, out.Remote, out.Cached)
		} else {
			fmt.Fprintf(w, "%s: %s (cached flag; remote unavailable after %d attempts)\n", uid, status, out.Attempts)
		}
	})
}
