package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/coinsync/internal/cache"
	"github.com/roach88/coinsync/internal/model"
)

func TestBalanceState_SeedFromCache(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemory()
	cache.SetCoins(ctx, c, 50)

	s := NewBalanceState("u1", c)
	require.True(t, s.Seed(ctx))

	u, ok := s.Snapshot()
	require.True(t, ok)
	assert.Equal(t, int64(50), u.Coins)
	assert.Equal(t, model.SourceCache, u.Source)
	assert.False(t, s.Confirmed())
}

func TestBalanceState_SeedEmptyCache(t *testing.T) {
	s := NewBalanceState("u1", cache.NewMemory())
	assert.False(t, s.Seed(context.Background()))
	assert.Equal(t, int64(0), s.Coins())
}

func TestBalanceState_ConfirmedWritesThrough(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemory()
	s := NewBalanceState("u1", c)

	require.True(t, s.Set(ctx, 120, model.SourceFetch))

	coins, ok := cache.Coins(ctx, c)
	require.True(t, ok)
	assert.Equal(t, int64(120), coins)
}

func TestBalanceState_StaleStampDropped(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemory()
	s := NewBalanceState("u1", c)

	early := s.Stamp() // fetch completes first...
	late := s.Stamp()  // ...push completes second

	require.True(t, s.Apply(ctx, Update{Coins: 80, Source: model.SourcePush, Seq: late}))
	assert.False(t, s.Apply(ctx, Update{Coins: 120, Source: model.SourceFetch, Seq: early}),
		"an update that completed earlier must not overwrite a later one")

	assert.Equal(t, int64(80), s.Coins())
	coins, _ := cache.Coins(ctx, c)
	assert.Equal(t, int64(80), coins, "cache matches the displayed value")
}

func TestBalanceState_CacheNeverReplacesConfirmed(t *testing.T) {
	ctx := context.Background()
	s := NewBalanceState("u1", cache.NewMemory())

	require.True(t, s.Set(ctx, 120, model.SourceFetch))
	assert.False(t, s.Set(ctx, 50, model.SourceCache))
	assert.Equal(t, int64(120), s.Coins())
}

func TestBalanceState_ClampsNegative(t *testing.T) {
	ctx := context.Background()
	s := NewBalanceState("u1", cache.NewMemory())

	s.Set(ctx, -7, model.SourcePush)
	assert.Equal(t, int64(0), s.Coins())
}

func TestBalanceState_ClosedDropsUpdates(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemory()
	s := NewBalanceState("u1", c)
	s.Set(ctx, 10, model.SourceFetch)

	s.Close()
	assert.True(t, s.Closed())
	assert.False(t, s.Set(ctx, 99, model.SourcePush))

	assert.Equal(t, int64(10), s.Coins())
	coins, _ := cache.Coins(ctx, c)
	assert.Equal(t, int64(10), coins)
}

func TestBalanceState_RecorderAndListeners(t *testing.T) {
	ctx := context.Background()
	rec := &memRecorder{}
	s := NewBalanceState("u1", cache.NewMemory(), WithRecorder(rec), WithClock(NewClockAt(40)))

	var seen []Update
	s.OnChange(func(u Update) { seen = append(seen, u) })

	s.Set(ctx, 5, model.SourceCache)
	s.Set(ctx, 7, model.SourcePush)

	records := rec.all()
	require.Len(t, records, 2)
	assert.Equal(t, model.BalanceRecord{UID: "u1", Coins: 5, Source: model.SourceCache, Seq: 41}, records[0])
	assert.Equal(t, model.BalanceRecord{UID: "u1", Coins: 7, Source: model.SourcePush, Seq: 42}, records[1])

	require.Len(t, seen, 2)
	assert.Equal(t, int64(7), seen[1].Coins)
}
