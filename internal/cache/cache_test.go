package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/coinsync/internal/model"
	"github.com/roach88/coinsync/internal/store"
)

func newPersistent(t *testing.T) *Persistent {
	t.Helper()
	s, err := store.Open(store.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return NewPersistent(s)
}

func TestCache_GetAfterClear(t *testing.T) {
	ctx := context.Background()
	impls := map[string]Cache{
		"persistent": newPersistent(t),
		"memory":     NewMemory(),
	}

	for name, c := range impls {
		t.Run(name, func(t *testing.T) {
			SetCoins(ctx, c, 42)
			SetProStatus(ctx, c, true)
			c.Set(ctx, "unrelated", "keep")

			ClearSession(ctx, c)

			_, ok := c.Get(ctx, KeyCoinsCount)
			assert.False(t, ok)
			_, ok = c.Get(ctx, KeyProStatus)
			assert.False(t, ok)

			coins, ok := Coins(ctx, c)
			assert.False(t, ok)
			assert.Equal(t, int64(0), coins)

			pro, ok := ProStatus(ctx, c)
			assert.False(t, ok)
			assert.False(t, pro)

			raw, ok := c.Get(ctx, "unrelated")
			assert.True(t, ok)
			assert.Equal(t, `"keep"`, string(raw))
		})
	}
}

func TestCache_TypedRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newPersistent(t)

	SetCoins(ctx, c, 120)
	SetProStatus(ctx, c, false)

	coins, ok := Coins(ctx, c)
	require.True(t, ok)
	assert.Equal(t, int64(120), coins)

	pro, ok := ProStatus(ctx, c)
	require.True(t, ok)
	assert.False(t, pro)

	raw, ok := c.Get(ctx, KeyCoinsCount)
	require.True(t, ok)
	assert.Equal(t, "120", string(raw))
}

func TestCoins_RejectsGarbage(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()

	c.Set(ctx, KeyCoinsCount, "not a number")
	_, ok := Coins(ctx, c)
	assert.False(t, ok)

	c.Set(ctx, KeyCoinsCount, int64(-5))
	_, ok = Coins(ctx, c)
	assert.False(t, ok, "negative cached balance must not be shown")
}

type failingKV struct {
	puts int
}

func (f *failingKV) GetEntry(context.Context, string) (model.CacheEntry, error) {
	return model.CacheEntry{}, errors.New("disk on fire")
}

func (f *failingKV) PutEntry(context.Context, string, any) error {
	f.puts++
	return errors.New("disk on fire")
}

func (f *failingKV) DeleteEntries(context.Context, ...string) error {
	return errors.New("disk on fire")
}

func TestPersistent_ErrorsAreMisses(t *testing.T) {
	ctx := context.Background()
	kv := &failingKV{}
	c := NewPersistent(kv)

	assert.NotPanics(t, func() {
		SetCoins(ctx, c, 10)
		ClearSession(ctx, c)
	})
	assert.Equal(t, 1, kv.puts)

	_, ok := c.Get(ctx, KeyCoinsCount)
	assert.False(t, ok)
}

func TestMemory_Keys(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	SetProStatus(ctx, m, true)
	SetCoins(ctx, m, 1)

	assert.Equal(t, []string{KeyCoinsCount, KeyProStatus}, m.Keys())
}

func TestScoped_IsolatesUsers(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	a := WithScope(m, "u1")
	b := WithScope(m, "u2")

	SetCoins(ctx, a, 10)
	SetCoins(ctx, b, 20)

	got, ok := Coins(ctx, a)
	require.True(t, ok)
	assert.Equal(t, int64(10), got)
	assert.Equal(t, []string{"u1/coins_count", "u2/coins_count"}, m.Keys())

	ClearSession(ctx, a)
	_, ok = Coins(ctx, a)
	assert.False(t, ok)
	got, ok = Coins(ctx, b)
	require.True(t, ok)
	assert.Equal(t, int64(20), got)
}
