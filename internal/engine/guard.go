package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/coinsync/internal/model"
	"github.com/roach88/coinsync/internal/retry"
)

// Choice is the user's answer to an insufficient-funds prompt.
type Choice string

const (
	ChoiceRecharge Choice = "recharge"
	ChoiceCancel   Choice = "cancel"
)

// Prompter asks the user what to do when they cannot afford an action.
type Prompter interface {
	Prompt(ctx context.Context, shortfall *InsufficientFundsError) Choice
}

// PrompterFunc adapts a function to Prompter.
type PrompterFunc func(ctx context.Context, shortfall *InsufficientFundsError) Choice

func (f PrompterFunc) Prompt(ctx context.Context, shortfall *InsufficientFundsError) Choice {
	return f(ctx, shortfall)
}

// CancelPrompter always cancels. Used when nobody can be asked.
var CancelPrompter = PrompterFunc(func(context.Context, *InsufficientFundsError) Choice {
	return ChoiceCancel
})

// Decision is the result of a guarded check.
type Decision struct {
	Allowed  bool
	Verified bool
	Balance  int64
	Required int64
	// Choice is set only when a verified balance was short.
	Choice Choice
}

// Err returns nil for an allowed decision, ErrBalanceUnverified (wrapped)
// when the balance could not be read, and an *InsufficientFundsError
// otherwise.
func (d Decision) Err(uid string) error {
	if d.Allowed {
		return nil
	}
	if !d.Verified {
		return fmt.Errorf("check balance for %s: %w", uid, ErrBalanceUnverified)
	}
	return &InsufficientFundsError{UID: uid, Required: d.Required, Balance: d.Balance}
}

// Guard checks a fresh remote balance before a coin-consuming action.
//
// It never reserves or deducts coins. Deduction is a separate atomic
// server-side operation.
type Guard struct {
	users    UserReader
	prompter Prompter
	policy   retry.Policy
	logger   *slog.Logger
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithPrompter sets the prompter used on insufficient funds.
func WithPrompter(p Prompter) GuardOption {
	return func(g *Guard) {
		g.prompter = p
	}
}

// WithGuardPolicy overrides the retry policy.
func WithGuardPolicy(p retry.Policy) GuardOption {
	return func(g *Guard) {
		g.policy = p
	}
}

// WithGuardLogger sets the logger.
func WithGuardLogger(l *slog.Logger) GuardOption {
	return func(g *Guard) {
		g.logger = l
	}
}

// NewGuard creates a guard that cancels when it cannot ask.
func NewGuard(users UserReader, opts ...GuardOption) *Guard {
	g := &Guard{
		users:    users,
		prompter: CancelPrompter,
		policy:   retry.Default,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CanAfford reports whether uid's fresh remote balance covers required.
// An unreadable balance cannot be verified and counts as not affordable.
func (g *Guard) CanAfford(ctx context.Context, uid string, required int64) bool {
	d, _ := g.evaluate(ctx, uid, required)
	return d.Allowed
}

// Check is CanAfford plus the recharge-or-cancel prompt on refusal.
func (g *Guard) Check(ctx context.Context, uid string, required int64) Decision {
	d, err := g.evaluate(ctx, uid, required)
	if d.Allowed {
		return d
	}
	if !d.Verified {
		// an unreadable balance is not a shortfall; recharging would not help
		g.logger.Warn("balance check could not read remote balance", "uid", uid, "error", err)
		return d
	}
	d.Choice = g.prompter.Prompt(ctx, &InsufficientFundsError{UID: uid, Required: required, Balance: d.Balance})
	g.logger.Info("insufficient coins", "uid", uid, "required", required, "balance", d.Balance, "choice", d.Choice)
	return d
}

func (g *Guard) evaluate(ctx context.Context, uid string, required int64) (Decision, error) {
	d := Decision{Required: required}
	if required <= 0 {
		d.Allowed = true
		return d, nil
	}
	if uid == "" {
		return d, ErrNoUser
	}

	var row model.UserRow
	_, err := retry.Do(ctx, g.policy, func(ctx context.Context, attempt int) error {
		got, err := g.users.FetchUser(ctx, uid)
		if err != nil {
			if errors.Is(err, model.ErrUserNotFound) {
				return retry.Permanent(err)
			}
			return err
		}
		row = got
		return nil
	})
	if err != nil {
		return d, fmt.Errorf("check balance for %s: %w", uid, err)
	}

	d.Verified = true
	d.Balance = row.Balance().Coins
	d.Allowed = d.Balance >= required
	return d, nil
}
