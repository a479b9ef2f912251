package cache

import (
	"context"
	"encoding/json"
)

// Coins returns the cached coin count. Undecodable or negative values are
// treated as a miss.
func Coins(ctx context.Context, c Cache) (int64, bool) {
	raw, ok := c.Get(ctx, KeyCoinsCount)
	if !ok {
		return 0, false
	}
	var coins int64
	if err := json.Unmarshal(raw, &coins); err != nil || coins < 0 {
		return 0, false
	}
	return coins, true
}

// SetCoins stores the coin count.
func SetCoins(ctx context.Context, c Cache, coins int64) {
	c.Set(ctx, KeyCoinsCount, coins)
}

// ProStatus returns the cached pro flag.
func ProStatus(ctx context.Context, c Cache) (bool, bool) {
	raw, ok := c.Get(ctx, KeyProStatus)
	if !ok {
		return false, false
	}
	var active bool
	if err := json.Unmarshal(raw, &active); err != nil {
		return false, false
	}
	return active, true
}

// SetProStatus stores the pro flag.
func SetProStatus(ctx context.Context, c Cache, active bool) {
	c.Set(ctx, KeyProStatus, active)
}

// ClearSession removes the per-user keys on logout.
func ClearSession(ctx context.Context, c Cache) {
	c.Clear(ctx, KeyProStatus, KeyCoinsCount)
}
