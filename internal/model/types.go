package model

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Column names of the remote users table.
const (
	ColumnUID                = "uid"
	ColumnUserCoins          = "user_coins"
	ColumnSubscriptionActive = "subscription_active"

	// UsersTable is the remote table that owns balances and pro status.
	UsersTable = "users"
)

// UserRow is the typed schema of a single users row.
type UserRow struct {
	UID                string `json:"uid"`
	UserCoins          int64  `json:"user_coins"`
	SubscriptionActive bool   `json:"subscription_active"`
}

// Validate checks the row at the data-access boundary.
func (r UserRow) Validate() error {
	if r.UID == "" {
		return fmt.Errorf("user row: missing uid")
	}
	return nil
}

// Balance returns the displayable balance. Negative remote values clamp to zero.
func (r UserRow) Balance() UserBalance {
	return UserBalance{UID: r.UID, Coins: ClampCoins(r.UserCoins)}
}

// ProStatus returns the remote pro flag for this row.
func (r UserRow) ProStatus() ProStatusFlag {
	return ProStatusFlag{UID: r.UID, Active: r.SubscriptionActive}
}

// UserBalance is a user's coin balance as shown to the user.
type UserBalance struct {
	UID   string `json:"uid"`
	Coins int64  `json:"coins"`
}

// ProStatusFlag is the pro entitlement of a user.
type ProStatusFlag struct {
	UID    string `json:"uid"`
	Active bool   `json:"active"`
}

// ClampCoins floors a coin amount at zero.
func ClampCoins(coins int64) int64 {
	if coins < 0 {
		return 0
	}
	return coins
}

// CacheEntry is a persisted key/value pair. Value holds raw JSON.
type CacheEntry struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	WrittenAt time.Time       `json:"written_at"`
}

// Source identifies where a balance update came from.
type Source int

const (
	// SourceCache is a value read back from the local cache.
	SourceCache Source = iota + 1
	// SourceFetch is a confirmed value from a remote read.
	SourceFetch
	// SourcePush is a confirmed value from a realtime change event.
	SourcePush
)

// String returns the lowercase name used in logs and traces.
func (s Source) String() string {
	switch s {
	case SourceCache:
		return "cache"
	case SourceFetch:
		return "fetch"
	case SourcePush:
		return "push"
	default:
		return "unknown"
	}
}

// Confirmed reports whether the value came from the remote side.
func (s Source) Confirmed() bool {
	return s == SourceFetch || s == SourcePush
}

// ParseSource converts a name produced by String back to a Source.
func ParseSource(name string) (Source, error) {
	switch name {
	case "cache":
		return SourceCache, nil
	case "fetch":
		return SourceFetch, nil
	case "push":
		return SourcePush, nil
	default:
		return 0, fmt.Errorf("unknown source %q", name)
	}
}

// BalanceRecord is one applied balance update, kept for audit and trace.
type BalanceRecord struct {
	UID        string    `json:"uid"`
	Coins      int64     `json:"coins"`
	Source     Source    `json:"source"`
	Seq        int64     `json:"seq"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Change event types delivered by the realtime channel.
const (
	ChangeInsert = "INSERT"
	ChangeUpdate = "UPDATE"
	ChangeDelete = "DELETE"
)

// ChangeEvent is a realtime row change payload: { type, table, new, old }.
type ChangeEvent struct {
	Type  string         `json:"type"`
	Table string         `json:"table"`
	New   map[string]any `json:"new"`
	Old   map[string]any `json:"old,omitempty"`
}

// Coins extracts new.user_coins. ok is false when the event carries no
// usable coin value (deletes, partial payloads).
func (e ChangeEvent) Coins() (coins int64, ok bool) {
	if e.New == nil {
		return 0, false
	}
	raw, exists := e.New[ColumnUserCoins]
	if !exists {
		return 0, false
	}
	n, ok := toInt64(raw)
	if !ok {
		return 0, false
	}
	return ClampCoins(n), true
}

// UID extracts the row uid from new, falling back to old.
func (e ChangeEvent) UID() string {
	for _, row := range []map[string]any{e.New, e.Old} {
		if s, ok := row[ColumnUID].(string); ok {
			return s
		}
	}
	return ""
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		// 2^63 rounds to MaxInt64 as a float64, so the upper bound is exclusive
		if n < math.MinInt64 || n >= math.MaxInt64 || n != math.Trunc(n) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}
