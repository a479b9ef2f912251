package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/roach88/coinsync/internal/cache"
	"github.com/roach88/coinsync/internal/retry"
)

// Deps are the collaborators a Session is built from.
type Deps struct {
	Users  UserReader
	Cache  cache.Cache
	Source ChangeSource // nil disables realtime

	Recorder Recorder
	Prompter Prompter
	Namer    ChannelNamer
	Retry    *retry.Policy
	Logger   *slog.Logger

	// StartSeq resumes the logical clock, typically from the balance log.
	StartSeq int64
}

// Session binds one uid to its balance state and the components that feed
// and read it.
//
// Thread-safety model:
//   - Start/Close/Logout: serialized by mu
//   - everything else: safe from any goroutine
type Session struct {
	uid    string
	cache  cache.Cache
	logger *slog.Logger

	state      *BalanceState
	fetcher    *BalanceFetcher
	subscriber *RealtimeSubscriber
	resolver   *ProStatusResolver
	guard      *Guard

	mu  sync.Mutex
	sub *Subscription
}

// NewSession wires a session for uid. An empty uid is allowed and yields
// the safe defaults: cached or zero coins and no pro status.
func NewSession(uid string, d Deps) *Session {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	policy := retry.Default
	if d.Retry != nil {
		policy = *d.Retry
	}

	stateOpts := []StateOption{
		WithClock(NewClockAt(d.StartSeq)),
		WithStateLogger(logger),
	}
	if d.Recorder != nil {
		stateOpts = append(stateOpts, WithRecorder(d.Recorder))
	}
	state := NewBalanceState(uid, d.Cache, stateOpts...)

	s := &Session{
		uid:    uid,
		cache:  d.Cache,
		logger: logger.With("uid", uid),
		state:  state,
		fetcher: NewBalanceFetcher(d.Users, d.Cache,
			WithFetchState(state),
			WithFetchPolicy(policy),
			WithFetchLogger(logger),
		),
		resolver: NewProStatusResolver(d.Users, d.Cache,
			WithResolvePolicy(policy),
			WithResolverLogger(logger),
		),
	}

	guardOpts := []GuardOption{WithGuardPolicy(policy), WithGuardLogger(logger)}
	if d.Prompter != nil {
		guardOpts = append(guardOpts, WithPrompter(d.Prompter))
	}
	s.guard = NewGuard(d.Users, guardOpts...)

	if d.Source != nil {
		subOpts := []SubscriberOption{WithSubscriberLogger(logger)}
		if d.Namer != nil {
			subOpts = append(subOpts, WithNamer(d.Namer))
		}
		s.subscriber = NewRealtimeSubscriber(d.Source, subOpts...)
	}
	return s
}

// UID returns the session user.
func (s *Session) UID() string {
	return s.uid
}

// State exposes the balance state for observers.
func (s *Session) State() *BalanceState {
	return s.state
}

// Start seeds the state from the cache, subscribes to realtime changes and
// runs the first fetch. Realtime failures are logged, not returned; the
// returned result is the first fetch.
func (s *Session) Start(ctx context.Context) FetchResult {
	s.mu.Lock()
	s.state.Seed(ctx)
	if s.subscriber != nil && s.uid != "" && s.sub == nil {
		sub, err := s.subscriber.Subscribe(ctx, s.uid, s.state)
		if err != nil {
			s.logger.Warn("realtime subscription failed", "error", err)
		} else {
			s.sub = sub
		}
	}
	s.mu.Unlock()

	return s.Refresh(ctx)
}

// Refresh fetches the remote balance.
func (s *Session) Refresh(ctx context.Context) FetchResult {
	res := s.fetcher.Load(ctx, s.uid)
	if res.Err != nil && !errors.Is(res.Err, ErrNoUser) {
		s.logger.Debug("refresh served last known balance", "coins", res.Coins)
	}
	return res
}

// Coins returns the displayed balance.
func (s *Session) Coins() int64 {
	return s.state.Coins()
}

// IsPro resolves effective pro status.
func (s *Session) IsPro(ctx context.Context) bool {
	return s.resolver.Resolve(ctx, s.uid)
}

// ProStatus resolves pro status with details.
func (s *Session) ProStatus(ctx context.Context) ProResult {
	return s.resolver.Load(ctx, s.uid)
}

// CanAfford checks a fresh balance against required.
func (s *Session) CanAfford(ctx context.Context, required int64) bool {
	return s.guard.CanAfford(ctx, s.uid, required)
}

// Check runs the guarded check with the prompt.
func (s *Session) Check(ctx context.Context, required int64) Decision {
	return s.guard.Check(ctx, s.uid, required)
}

// Subscription returns the active realtime subscription, if any.
func (s *Session) Subscription() *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sub
}

// Close unsubscribes and stops the state from accepting updates.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sub != nil {
		s.sub.Close()
		s.sub = nil
	}
	s.state.Close()
}

// Logout closes the session and clears the per-user cache keys.
func (s *Session) Logout(ctx context.Context) {
	s.Close()
	cache.ClearSession(ctx, s.cache)
	s.logger.Info("session cleared")
}
