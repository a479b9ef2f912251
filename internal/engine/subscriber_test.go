package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/coinsync/internal/cache"
	"github.com/roach88/coinsync/internal/model"
	"github.com/roach88/coinsync/internal/testutil"
)

func waitCoins(t *testing.T, s *BalanceState, want int64) {
	t.Helper()
	require.Eventually(t, func() bool { return s.Coins() == want },
		time.Second, 5*time.Millisecond, "balance never reached %d (have %d)", want, s.Coins())
}

func TestRealtimeSubscriber_AppliesPushes(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemory()
	state := NewBalanceState("u1", c)
	src := NewMemorySource()

	r := NewRealtimeSubscriber(src, WithNamer(NewFixedNamer("m1")))
	sub, err := r.Subscribe(ctx, "u1", state)
	require.NoError(t, err)
	defer sub.Close()

	assert.Equal(t, "u1-m1", sub.Channel())

	src.Publish(coinsEvent("u1", 80))
	waitCoins(t, state, 80)

	coins, ok := cache.Coins(ctx, c)
	require.True(t, ok)
	assert.Equal(t, int64(80), coins, "push writes through to the cache")

	u, _ := state.Snapshot()
	assert.Equal(t, model.SourcePush, u.Source)
}

func TestRealtimeSubscriber_IgnoresEventsWithoutBalance(t *testing.T) {
	ctx := context.Background()
	state := NewBalanceState("u1", cache.NewMemory())
	src := NewMemorySource()

	var seen []model.ChangeEvent
	seenCh := make(chan struct{}, 4)
	r := NewRealtimeSubscriber(src, WithEventHook(func(ev model.ChangeEvent) {
		seen = append(seen, ev)
		seenCh <- struct{}{}
	}))
	sub, err := r.Subscribe(ctx, "u1", state)
	require.NoError(t, err)
	defer sub.Close()

	src.Publish(model.ChangeEvent{
		Type:  model.ChangeDelete,
		Table: model.UsersTable,
		Old:   map[string]any{model.ColumnUID: "u1", model.ColumnUserCoins: int64(5)},
	})
	src.Publish(coinsEvent("u1", 3))

	waitCoins(t, state, 3)
	<-seenCh
	<-seenCh
	assert.Len(t, seen, 2)
	assert.Equal(t, model.ChangeDelete, seen[0].Type)
}

func TestRealtimeSubscriber_CloseReleasesFeed(t *testing.T) {
	ctx := context.Background()
	state := NewBalanceState("u1", cache.NewMemory())
	src := NewMemorySource()

	sub, err := NewRealtimeSubscriber(src).Subscribe(ctx, "u1", state)
	require.NoError(t, err)
	require.Equal(t, 1, src.Active())

	sub.Close()
	sub.Close() // idempotent

	select {
	case <-sub.Done():
	default:
		t.Fatal("subscription not done after Close")
	}
	require.Eventually(t, func() bool { return src.Active() == 0 }, time.Second, 5*time.Millisecond)

	src.Publish(coinsEvent("u1", 77))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(0), state.Coins(), "no updates after unsubscribe")
}

func TestRealtimeSubscriber_UniqueChannelPerMount(t *testing.T) {
	ctx := context.Background()
	src := NewMemorySource()
	r := NewRealtimeSubscriber(src)

	a, err := r.Subscribe(ctx, "u1", NewBalanceState("u1", cache.NewMemory()))
	require.NoError(t, err)
	defer a.Close()
	b, err := r.Subscribe(ctx, "u1", NewBalanceState("u1", cache.NewMemory()))
	require.NoError(t, err)
	defer b.Close()

	assert.NotEqual(t, a.Channel(), b.Channel())
	assert.Equal(t, 2, src.Active(), "consumers are not deduplicated")
	assert.Equal(t, 2, src.Publish(coinsEvent("u1", 1)))
}

func TestSubscription_ResubscribeOnUIDChange(t *testing.T) {
	ctx := context.Background()
	src := NewMemorySource()
	r := NewRealtimeSubscriber(src, WithNamer(NewFixedNamer("a", "b")))

	s1 := NewBalanceState("u1", cache.NewMemory())
	sub, err := r.Subscribe(ctx, "u1", s1)
	require.NoError(t, err)

	s2 := NewBalanceState("u2", cache.NewMemory())
	sub2, err := sub.Resubscribe(ctx, "u2", s2)
	require.NoError(t, err)
	defer sub2.Close()

	assert.Equal(t, "u2-b", sub2.Channel())
	require.Eventually(t, func() bool { return src.Active() == 1 }, time.Second, 5*time.Millisecond)

	src.Publish(coinsEvent("u1", 10))
	src.Publish(coinsEvent("u2", 20))
	waitCoins(t, s2, 20)
	assert.Equal(t, int64(0), s1.Coins())
}

func TestRealtimeSubscriber_Errors(t *testing.T) {
	ctx := context.Background()
	r := NewRealtimeSubscriber(NewMemorySource())

	_, err := r.Subscribe(ctx, "", NewBalanceState("", cache.NewMemory()))
	assert.ErrorIs(t, err, ErrNoUser)

	_, err = r.Subscribe(ctx, "u1", NewBalanceState("u2", cache.NewMemory()))
	assert.Error(t, err)

	closed := NewBalanceState("u1", cache.NewMemory())
	closed.Close()
	_, err = r.Subscribe(ctx, "u1", closed)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRealtimeSubscriber_FeedEndKeepsLastValue(t *testing.T) {
	ctx := context.Background()
	state := NewBalanceState("u1", cache.NewMemory())
	src := NewMemorySource()

	sub, err := NewRealtimeSubscriber(src).Subscribe(ctx, "u1", state)
	require.NoError(t, err)

	src.Publish(coinsEvent("u1", 15))
	waitCoins(t, state, 15)

	src.Shutdown()
	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription did not end with the feed")
	}
	assert.Equal(t, int64(15), state.Coins())
}

// A push arriving while the initial fetch is in flight loses to the fetch
// when the fetch completes later.
func TestRace_PushThenLaterFetchCompletion(t *testing.T) {
	ctx := context.Background()
	users := testutil.NewScriptedUsers(model.UserRow{UID: "u1", UserCoins: 120})
	c := cache.NewMemory()
	state := NewBalanceState("u1", c)
	src := NewMemorySource()

	sub, err := NewRealtimeSubscriber(src).Subscribe(ctx, "u1", state)
	require.NoError(t, err)
	defer sub.Close()

	gate := make(chan struct{})
	users.BlockNext("u1", gate)
	f := NewBalanceFetcher(users, c, WithFetchState(state))

	done := make(chan FetchResult)
	go func() { done <- f.Load(ctx, "u1") }()

	src.Publish(coinsEvent("u1", 80))
	waitCoins(t, state, 80)

	close(gate)
	res := <-done
	require.True(t, res.Confirmed)

	assert.Equal(t, int64(120), state.Coins())
	coins, _ := cache.Coins(ctx, c)
	assert.Equal(t, int64(120), coins)
}

func TestRace_FetchThenLaterPushCompletion(t *testing.T) {
	ctx := context.Background()
	users := testutil.NewScriptedUsers(model.UserRow{UID: "u1", UserCoins: 120})
	c := cache.NewMemory()
	state := NewBalanceState("u1", c)
	src := NewMemorySource()

	sub, err := NewRealtimeSubscriber(src).Subscribe(ctx, "u1", state)
	require.NoError(t, err)
	defer sub.Close()

	f := NewBalanceFetcher(users, c, WithFetchState(state))
	require.Equal(t, int64(120), f.Fetch(ctx, "u1"))

	src.Publish(coinsEvent("u1", 80))
	waitCoins(t, state, 80)

	coins, _ := cache.Coins(ctx, c)
	assert.Equal(t, int64(80), coins)
}

// For fetch, push, fetch completing in any order and arriving in any
// order, the cache ends at the value of the latest completion.
func TestLatestCompletionWins_AllArrivalOrders(t *testing.T) {
	values := []struct {
		coins  int64
		source model.Source
	}{
		{100, model.SourceFetch},
		{80, model.SourcePush},
		{120, model.SourceFetch},
	}

	for _, completion := range permutations(3) {
		for _, arrival := range permutations(3) {
			ctx := context.Background()
			c := cache.NewMemory()
			state := NewBalanceState("u1", c)

			// stamp in completion order
			updates := make([]Update, 3)
			for _, idx := range completion {
				v := values[idx]
				updates[idx] = Update{Coins: v.coins, Source: v.source, Seq: state.Stamp()}
			}
			latest := values[completion[2]].coins

			for _, idx := range arrival {
				state.Apply(ctx, updates[idx])
			}

			coins, _ := cache.Coins(ctx, c)
			assert.Equal(t, latest, coins, "completion=%v arrival=%v", completion, arrival)
			assert.Equal(t, latest, state.Coins(), "completion=%v arrival=%v", completion, arrival)
		}
	}
}

func permutations(n int) [][]int {
	if n == 1 {
		return [][]int{{0}}
	}
	var out [][]int
	for _, p := range permutations(n - 1) {
		for i := 0; i <= len(p); i++ {
			q := make([]int, 0, n)
			q = append(q, p[:i]...)
			q = append(q, n-1)
			q = append(q, p[i:]...)
			out = append(out, q)
		}
	}
	return out
}
