package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/coinsync/internal/cache"
	"github.com/roach88/coinsync/internal/model"
	"github.com/roach88/coinsync/internal/retry"
)

// UserReader reads one users row. *remote.Postgres implements it.
type UserReader interface {
	FetchUser(ctx context.Context, uid string) (model.UserRow, error)
}

// FetchResult is the outcome of a balance fetch.
type FetchResult struct {
	Coins     int64
	Confirmed bool
	Attempts  int
	Seq       int64
	Err       error
}

// BalanceFetcher reads the remote balance with retry and writes it through.
type BalanceFetcher struct {
	users  UserReader
	cache  cache.Cache
	state  *BalanceState
	policy retry.Policy
	logger *slog.Logger
}

// FetcherOption configures a BalanceFetcher.
type FetcherOption func(*BalanceFetcher)

// WithFetchPolicy overrides the retry policy.
func WithFetchPolicy(p retry.Policy) FetcherOption {
	return func(f *BalanceFetcher) {
		f.policy = p
	}
}

// WithFetchState routes confirmed values through state instead of writing
// the cache directly. Only fetches for state's uid are routed.
func WithFetchState(s *BalanceState) FetcherOption {
	return func(f *BalanceFetcher) {
		f.state = s
	}
}

// WithFetchLogger sets the logger.
func WithFetchLogger(l *slog.Logger) FetcherOption {
	return func(f *BalanceFetcher) {
		f.logger = l
	}
}

// NewBalanceFetcher creates a fetcher with the default retry policy.
func NewBalanceFetcher(users UserReader, c cache.Cache, opts ...FetcherOption) *BalanceFetcher {
	f := &BalanceFetcher{
		users:  users,
		cache:  c,
		policy: retry.Default,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch returns the freshest balance it can: the remote value, or the
// last-known value when every attempt failed. It never returns an error.
func (f *BalanceFetcher) Fetch(ctx context.Context, uid string) int64 {
	return f.Load(ctx, uid).Coins
}

// Load fetches the balance for uid and reports how it went.
//
// An empty uid makes no remote call and returns the last-known value.
func (f *BalanceFetcher) Load(ctx context.Context, uid string) FetchResult {
	if uid == "" {
		return FetchResult{Coins: f.lastKnown(ctx, uid), Err: ErrNoUser}
	}

	var (
		row model.UserRow
		seq int64
	)
	attempts, err := retry.Do(ctx, f.policy, func(ctx context.Context, attempt int) error {
		r, err := f.users.FetchUser(ctx, uid)
		if err != nil {
			f.logger.Debug("balance fetch attempt failed", "uid", uid, "attempt", attempt+1, "error", err)
			if errors.Is(err, model.ErrUserNotFound) {
				return retry.Permanent(err)
			}
			return err
		}
		row = r
		seq = f.stamp()
		return nil
	})
	if err != nil {
		coins := f.lastKnown(ctx, uid)
		f.logger.Warn("balance fetch failed, showing last known value",
			"uid", uid, "attempts", attempts, "coins", coins, "error", err)
		return FetchResult{
			Coins:    coins,
			Attempts: attempts,
			Err:      fmt.Errorf("fetch balance for %s: %w", uid, err),
		}
	}

	coins := row.Balance().Coins
	f.confirm(ctx, uid, coins, seq)
	return FetchResult{Coins: coins, Confirmed: true, Attempts: attempts, Seq: seq}
}

func (f *BalanceFetcher) routed(uid string) bool {
	return f.state != nil && f.state.UID() == uid
}

func (f *BalanceFetcher) stamp() int64 {
	if f.state != nil {
		return f.state.Stamp()
	}
	return 0
}

func (f *BalanceFetcher) confirm(ctx context.Context, uid string, coins, seq int64) {
	if f.routed(uid) {
		f.state.Apply(ctx, Update{Coins: coins, Source: model.SourceFetch, Seq: seq})
		return
	}
	cache.SetCoins(ctx, f.cache, coins)
}

func (f *BalanceFetcher) lastKnown(ctx context.Context, uid string) int64 {
	if f.routed(uid) {
		if u, ok := f.state.Snapshot(); ok {
			return u.Coins
		}
	}
	coins, _ := cache.Coins(ctx, f.cache)
	return coins
}
