package engine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/roach88/coinsync/internal/cache"
	"github.com/roach88/coinsync/internal/model"
	"github.com/roach88/coinsync/internal/retry"
)

// ProResult explains a pro-status resolution.
type ProResult struct {
	Active    bool
	Remote    bool
	Cached    bool
	Confirmed bool
	Attempts  int
	Err       error
}

// ProStatusResolver computes effective pro status as remote OR cached.
//
// A transient fetch failure therefore never revokes pro. A confirmed
// remote false still overwrites the cache, so a real downgrade shows up
// on the next resolve.
type ProStatusResolver struct {
	users  UserReader
	cache  cache.Cache
	policy retry.Policy
	logger *slog.Logger
}

// ResolverOption configures a ProStatusResolver.
type ResolverOption func(*ProStatusResolver)

// WithResolvePolicy overrides the retry policy.
func WithResolvePolicy(p retry.Policy) ResolverOption {
	return func(r *ProStatusResolver) {
		r.policy = p
	}
}

// WithResolverLogger sets the logger.
func WithResolverLogger(l *slog.Logger) ResolverOption {
	return func(r *ProStatusResolver) {
		r.logger = l
	}
}

// NewProStatusResolver creates a resolver with the default retry policy.
func NewProStatusResolver(users UserReader, c cache.Cache, opts ...ResolverOption) *ProStatusResolver {
	r := &ProStatusResolver{
		users:  users,
		cache:  c,
		policy: retry.Default,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the effective pro status for uid.
func (r *ProStatusResolver) Resolve(ctx context.Context, uid string) bool {
	return r.Load(ctx, uid).Active
}

// Load resolves pro status and reports each input.
func (r *ProStatusResolver) Load(ctx context.Context, uid string) ProResult {
	if uid == "" {
		return ProResult{Err: ErrNoUser}
	}

	// read before fetching; the fetch overwrites it
	cached, _ := cache.ProStatus(ctx, r.cache)

	var row model.UserRow
	attempts, err := retry.Do(ctx, r.policy, func(ctx context.Context, attempt int) error {
		got, err := r.users.FetchUser(ctx, uid)
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
		r.logger.Warn("pro status fetch failed, using cached flag",
			"uid", uid, "attempts", attempts, "cached", cached, "error", err)
		return ProResult{Active: cached, Cached: cached, Attempts: attempts, Err: err}
	}

	remote := row.ProStatus().Active
	cache.SetProStatus(ctx, r.cache, remote)
	return ProResult{
		Active:    remote || cached,
		Remote:    remote,
		Cached:    cached,
		Confirmed: true,
		Attempts:  attempts,
	}
}
