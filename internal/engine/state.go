package engine

import (
	"context"
	"log/slog"
	"sync"

	"github.com/roach88/coinsync/internal/cache"
	"github.com/roach88/coinsync/internal/model"
)

// Recorder persists applied balance updates. *store.Store implements it.
type Recorder interface {
	RecordBalance(ctx context.Context, rec model.BalanceRecord) error
}

// Update is one balance value from one source, stamped with the seq of its
// completion.
type Update struct {
	Coins  int64
	Source model.Source
	Seq    int64
}

// BalanceState is the in-memory balance of one uid.
//
// INVARIANTS:
//   - the applied seq only increases
//   - once a confirmed update is applied, cache updates are ignored
//   - the cache is written under mu, so it always matches the last applied update
//   - nothing is applied after Close
type BalanceState struct {
	uid      string
	cache    cache.Cache
	clock    *Clock
	recorder Recorder
	logger   *slog.Logger

	mu        sync.Mutex
	current   Update
	has       bool
	confirmed bool
	closed    bool
	listeners []func(Update)
}

// StateOption configures a BalanceState.
type StateOption func(*BalanceState)

// WithRecorder records every applied update.
func WithRecorder(r Recorder) StateOption {
	return func(s *BalanceState) {
		s.recorder = r
	}
}

// WithStateLogger sets the logger.
func WithStateLogger(l *slog.Logger) StateOption {
	return func(s *BalanceState) {
		s.logger = l
	}
}

// WithClock sets the logical clock used to stamp updates.
func WithClock(c *Clock) StateOption {
	return func(s *BalanceState) {
		s.clock = c
	}
}

// NewBalanceState creates an empty state for uid writing through to c.
func NewBalanceState(uid string, c cache.Cache, opts ...StateOption) *BalanceState {
	s := &BalanceState{
		uid:    uid,
		cache:  c,
		clock:  NewClock(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// UID returns the user this state belongs to.
func (s *BalanceState) UID() string {
	return s.uid
}

// Stamp takes the next seq. Call it when the operation producing a value
// completes, then pass the seq to Apply.
func (s *BalanceState) Stamp() int64 {
	return s.clock.Next()
}

// Seed loads the cached balance, if any, as the initial value.
func (s *BalanceState) Seed(ctx context.Context) bool {
	coins, ok := cache.Coins(ctx, s.cache)
	if !ok {
		return false
	}
	return s.Apply(ctx, Update{Coins: coins, Source: model.SourceCache, Seq: s.Stamp()})
}

// Set stamps and applies a value in one step.
func (s *BalanceState) Set(ctx context.Context, coins int64, source model.Source) bool {
	return s.Apply(ctx, Update{Coins: coins, Source: source, Seq: s.Stamp()})
}

// Apply installs u if it is newer than the current update. Reports whether
// u was applied.
func (s *BalanceState) Apply(ctx context.Context, u Update) bool {
	u.Coins = model.ClampCoins(u.Coins)

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.closed:
		s.logger.Debug("balance update after close dropped", "uid", s.uid, "source", u.Source, "seq", u.Seq)
		return false
	case s.has && u.Seq <= s.current.Seq:
		s.logger.Debug("stale balance update dropped",
			"uid", s.uid, "source", u.Source, "seq", u.Seq, "current_seq", s.current.Seq)
		return false
	case s.confirmed && !u.Source.Confirmed():
		s.logger.Debug("cached balance ignored after confirmed value", "uid", s.uid, "seq", u.Seq)
		return false
	}

	s.current = u
	s.has = true
	if u.Source.Confirmed() {
		s.confirmed = true
		cache.SetCoins(ctx, s.cache, u.Coins)
	}

	if s.recorder != nil {
		rec := model.BalanceRecord{UID: s.uid, Coins: u.Coins, Source: u.Source, Seq: u.Seq}
		if err := s.recorder.RecordBalance(ctx, rec); err != nil {
			s.logger.Warn("balance log write failed", "uid", s.uid, "seq", u.Seq, "error", err)
		}
	}

	s.logger.Debug("balance updated", "uid", s.uid, "coins", u.Coins, "source", u.Source, "seq", u.Seq)
	for _, fn := range s.listeners {
		fn(u)
	}
	return true
}

// Snapshot returns the current update. ok is false before the first one.
func (s *BalanceState) Snapshot() (Update, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.has
}

// Coins returns the displayed balance, 0 before the first update.
func (s *BalanceState) Coins() int64 {
	u, _ := s.Snapshot()
	return u.Coins
}

// Confirmed reports whether a remote value has been applied.
func (s *BalanceState) Confirmed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.confirmed
}

// OnChange registers fn to run after each applied update. fn runs with the
// state locked and must not call back into the state.
func (s *BalanceState) OnChange(fn func(Update)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Close stops the state from accepting updates.
func (s *BalanceState) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// Closed reports whether Close was called.
func (s *BalanceState) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
