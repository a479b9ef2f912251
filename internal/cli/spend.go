package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/coinsync/internal/engine"
	"github.com/roach88/coinsync/internal/model"
)

// SpendOptions holds flags shared by afford and spend.
type SpendOptions struct {
	*RootOptions
	Choice string // answer to the insufficient-funds prompt; empty asks
}

// DecisionOutput is the result of a guarded balance check.
type DecisionOutput struct {
	UID         string `json:"uid"`
	Required    int64  `json:"required"`
	Balance     int64  `json:"balance"`
	Allowed     bool   `json:"allowed"`
	Verified    bool   `json:"verified"`
	Choice      string `json:"choice,omitempty"`
	RechargeURL string `json:"recharge_url,omitempty"`
}

// SpendOutput is the result of a completed spend.
type SpendOutput struct {
	UID     string `json:"uid"`
	Spent   int64  `json:"spent"`
	Balance int64  `json:"balance"`
}

// NewAffordCommand creates the afford command.
func NewAffordCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SpendOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "afford <uid> <coins>",
		Short: "Check a fresh balance against a cost",
		Long: `Check whether a user can afford an action costing the given coins.

The balance is always read from the users table; the cached balance is
never trusted for this check. When the balance is short the user is asked
to recharge or cancel.

Exit codes:
  0 - affordable
  1 - not affordable or balance could not be verified
  2 - command error

Examples:
  coinsync afford 7f1c2a 50
  coinsync afford 7f1c2a 50 --choice cancel --format json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			coins, err := parseCoins(args[1])
			if err != nil {
				return err
			}
			return runAfford(opts, args[0], coins, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Choice, "choice", "", "answer when short of coins (recharge|cancel)")
	return cmd
}

// NewSpendCommand creates the spend command.
func NewSpendCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SpendOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "spend <uid> <coins>",
		Short: "Deduct coins after a guarded check",
		Long: `Check the fresh balance, then deduct the coins with a single conditional
update on the users table. Two concurrent spends can never take the
balance below zero.

Examples:
  coinsync spend 7f1c2a 10`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			coins, err := parseCoins(args[1])
			if err != nil {
				return err
			}
			return runSpend(opts, args[0], coins, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Choice, "choice", "", "answer when short of coins (recharge|cancel)")
	return cmd
}

func parseCoins(arg string) (int64, error) {
	coins, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || coins < 0 {
		return 0, NewExitError(ExitCommandError, fmt.Sprintf("coins must be a non-negative integer, got %q", arg))
	}
	return coins, nil
}

func (o *SpendOptions) prompter(cmd *cobra.Command) (engine.Prompter, error) {
	switch engine.Choice(o.Choice) {
	case engine.ChoiceRecharge, engine.ChoiceCancel:
		choice := engine.Choice(o.Choice)
		return engine.PrompterFunc(func(context.Context, *engine.InsufficientFundsError) engine.Choice {
			return choice
		}), nil
	case "":
	default:
		return nil, NewExitError(ExitCommandError,
			fmt.Sprintf("invalid choice %q: must be %s or %s", o.Choice, engine.ChoiceRecharge, engine.ChoiceCancel))
	}

	if o.Format == "json" {
		return engine.CancelPrompter, nil
	}
	return &linePrompter{in: bufio.NewReader(cmd.InOrStdin()), out: cmd.OutOrStdout()}, nil
}

// linePrompter asks on the terminal. Anything but r or recharge cancels.
type linePrompter struct {
	in  *bufio.Reader
	out io.Writer
}

func (p *linePrompter) Prompt(_ context.Context, short *engine.InsufficientFundsError) engine.Choice {
	fmt.Fprintf(p.out, "Not enough coins: need %d, have %d. Recharge or cancel? [r/C] ",
		short.Required, short.Balance)
	line, err := p.in.ReadString('\n')
	if err != nil && line == "" {
		fmt.Fprintln(p.out)
		return engine.ChoiceCancel
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "r", "recharge":
		return engine.ChoiceRecharge
	}
	return engine.ChoiceCancel
}

func (o *SpendOptions) decisionOutput(uid string, d engine.Decision) DecisionOutput {
	out := DecisionOutput{
		UID:      uid,
		Required: d.Required,
		Balance:  d.Balance,
		Allowed:  d.Allowed,
		Verified: d.Verified,
		Choice:   string(d.Choice),
	}
	if d.Choice == engine.ChoiceRecharge {
		out.RechargeURL = strings.TrimRight(o.Config.FrontendURL, "/") + "/recharge"
	}
	return out
}

func writeRefusal(w io.Writer, out DecisionOutput) {
	if !out.Verified {
		fmt.Fprintf(w, "%s: balance could not be verified; action cancelled\n", out.UID)
		return
	}
	fmt.Fprintf(w, "%s: cannot afford %d coins (balance %d)\n", out.UID, out.Required, out.Balance)
	if out.RechargeURL != "" {
		fmt.Fprintf(w, "Recharge at %s\n", out.RechargeURL)
	}
}

func runAfford(opts *SpendOptions, uid string, coins int64, cmd *cobra.Command) error {
	ctx, cancel := signalContext(cmd)
	defer cancel()

	prompter, err := opts.prompter(cmd)
	if err != nil {
		return err
	}

	e, err := opts.openEnv(ctx, cmd, true)
	if err != nil {
		return err
	}
	defer e.Close()

	sess := e.session(ctx, uid, nil, prompter)
	defer sess.Close()

	d := sess.Check(ctx, coins)
	out := opts.decisionOutput(uid, d)
	if err := e.out.Emit(out, func(w io.Writer) {
		if out.Allowed {
			fmt.Fprintf(w, "%s: can afford %d coins (balance %d)\n", uid, coins, out.Balance)
			return
		}
		writeRefusal(w, out)
	}); err != nil {
		return err
	}

	if !d.Allowed {
		return WrapExitError(ExitFailure, "not affordable", d.Err(uid))
	}
	return nil
}

func runSpend(opts *SpendOptions, uid string, coins int64, cmd *cobra.Command) error {
	ctx, cancel := signalContext(cmd)
	defer cancel()

	prompter, err := opts.prompter(cmd)
	if err != nil {
		return err
	}

	e, err := opts.openEnv(ctx, cmd, true)
	if err != nil {
		return err
	}
	defer e.Close()

	sess := e.session(ctx, uid, nil, prompter)
	defer sess.Close()

	d := sess.Check(ctx, coins)
	if !d.Allowed {
		out := opts.decisionOutput(uid, d)
		if err := e.out.Emit(out, func(w io.Writer) { writeRefusal(w, out) }); err != nil {
			return err
		}
		return WrapExitError(ExitFailure, "spend refused", d.Err(uid))
	}

	balance, err := e.remote.SpendCoins(ctx, uid, coins)
	switch {
	case errors.Is(err, model.ErrInsufficientCoins):
		// another spend won the race after the check
		_ = e.out.Error(CodeInsufficient, "balance changed before the spend", map[string]any{"uid": uid, "required": coins})
		return WrapExitError(ExitFailure, "spend refused", err)
	case err != nil:
		_ = e.out.Error(CodeRemote, "spend failed", err.Error())
		return WrapExitError(ExitFailure, "spend failed", err)
	}

	sess.State().Set(ctx, balance, model.SourceFetch)

	out := SpendOutput{UID: uid, Spent: coins, Balance: balance}
	return e.out.Emit(out, func(w io.Writer) {
		fmt.Fprintf(w, "%s: spent %d coins, %d left\n", uid, coins, balance)
	})
}
