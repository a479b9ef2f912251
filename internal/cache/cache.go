package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/roach88/coinsync/internal/model"
	"github.com/roach88/coinsync/internal/store"
)

// Keys persisted by the balance subsystem.
const (
	KeyCoinsCount = "coins_count"
	KeyProStatus  = "pro_status"
)

// Cache is the get/set/clear contract shared by every consumer.
type Cache interface {
	// Get returns the stored JSON value. ok is false on a miss or a read error.
	Get(ctx context.Context, key string) (value json.RawMessage, ok bool)
	// Set overwrites key with value encoded as canonical JSON.
	Set(ctx context.Context, key string, value any)
	// Clear removes keys. Missing keys are ignored.
	Clear(ctx context.Context, keys ...string)
}

// KV is the subset of *store.Store used by Persistent.
type KV interface {
	GetEntry(ctx context.Context, key string) (model.CacheEntry, error)
	PutEntry(ctx context.Context, key string, value any) error
	DeleteEntries(ctx context.Context, keys ...string) error
}

var _ KV = (*store.Store)(nil)

// Persistent is a Cache backed by the SQLite store.
type Persistent struct {
	kv     KV
	logger *slog.Logger
}

// Option configures a Persistent cache.
type Option func(*Persistent)

// WithLogger sets the logger used for swallowed storage errors.
func WithLogger(l *slog.Logger) Option {
	return func(p *Persistent) {
		p.logger = l
	}
}

// NewPersistent wraps kv as a Cache.
func NewPersistent(kv KV, opts ...Option) *Persistent {
	p := &Persistent{kv: kv, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Persistent) Get(ctx context.Context, key string) (json.RawMessage, bool) {
	entry, err := p.kv.GetEntry(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false
	}
	if err != nil {
		p.logger.Warn("cache read failed, treating as miss", "key", key, "error", err)
		return nil, false
	}
	return entry.Value, true
}

func (p *Persistent) Set(ctx context.Context, key string, value any) {
	if err := p.kv.PutEntry(ctx, key, value); err != nil {
		p.logger.Warn("cache write failed", "key", key, "error", err)
	}
}

func (p *Persistent) Clear(ctx context.Context, keys ...string) {
	if err := p.kv.DeleteEntries(ctx, keys...); err != nil {
		p.logger.Warn("cache clear failed", "keys", keys, "error", err)
	}
}

// Memory is a process-local Cache. Values are stored in canonical form so
// reads match what Persistent would return.
type Memory struct {
	mu      sync.Mutex
	entries map[string]json.RawMessage
	logger  *slog.Logger
}

// NewMemory returns an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]json.RawMessage),
		logger:  slog.Default(),
	}
}

func (m *Memory) Get(_ context.Context, key string) (json.RawMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.entries[key]
	return v, ok
}

func (m *Memory) Set(_ context.Context, key string, value any) {
	encoded, err := model.MarshalCanonical(value)
	if err != nil {
		m.logger.Warn("cache write failed", "key", key, "error", err)
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = encoded
}

func (m *Memory) Clear(_ context.Context, keys ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.entries, k)
	}
}

// Keys returns the stored keys in sorted order.
func (m *Memory) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Scoped prefixes every key with "<scope>/" so several users can share one
// store. The API server keeps one scope per uid.
type Scoped struct {
	inner Cache
	scope string
}

// WithScope returns a view of c whose keys live under scope.
func WithScope(c Cache, scope string) *Scoped {
	return &Scoped{inner: c, scope: scope}
}

func (s *Scoped) key(k string) string {
	return s.scope + "/" + k
}

func (s *Scoped) Get(ctx context.Context, key string) (json.RawMessage, bool) {
	return s.inner.Get(ctx, s.key(key))
}

func (s *Scoped) Set(ctx context.Context, key string, value any) {
	s.inner.Set(ctx, s.key(key), value)
}

func (s *Scoped) Clear(ctx context.Context, keys ...string) {
	scoped := make([]string, len(keys))
	for i, k := range keys {
		scoped[i] = s.key(k)
	}
	s.inner.Clear(ctx, scoped...)
}
