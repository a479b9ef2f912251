package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSleeper struct {
	delays []time.Duration
}

func (r *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func TestDo_TwoFailuresThenSuccess(t *testing.T) {
	sleeper := &recordingSleeper{}
	p := Default
	p.Sleeper = sleeper

	calls := 0
	attempts, err := Do(context.Background(), p, func(context.Context, int) error {
		calls++
		if calls < 3 {
			return errors.New("network down")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeper.delays)
}

func TestDo_Exhausted(t *testing.T) {
	sleeper := &recordingSleeper{}
	p := Default
	p.Sleeper = sleeper
	boom := errors.New("boom")

	attempts, err := Do(context.Background(), p, func(context.Context, int) error {
		return boom
	})

	assert.Equal(t, 3, attempts)
	var ex *ExhaustedError
	require.ErrorAs(t, err, &ex)
	assert.Equal(t, 3, ex.Attempts)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, sleeper.delays, 2, "no sleep after the final attempt")
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeper.delays)
	assert.NotContains(t, sleeper.delays, Default.Delay(2))
}

func TestDo_Permanent(t *testing.T) {
	p := Default
	p.Sleeper = &recordingSleeper{}
	denied := errors.New("not found")

	attempts, err := Do(context.Background(), p, func(context.Context, int) error {
		return Permanent(denied)
	})

	assert.Equal(t, 1, attempts)
	assert.ErrorIs(t, err, denied)
	assert.True(t, IsPermanent(err))
}

func TestDo_ContextCancelledDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Default
	p.Sleeper = SleeperFunc(func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	})

	calls := 0
	attempts, err := Do(ctx, p, func(context.Context, int) error {
		calls++
		return errors.New("fail")
	})

	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, attempts)
	var ex *ExhaustedError
	assert.ErrorAs(t, err, &ex)
}

func TestDo_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), Policy{}, func(context.Context, int) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestPolicy_Delay(t *testing.T) {
	p := Policy{Base: 500 * time.Millisecond, Factor: 3}
	assert.Equal(t, 500*time.Millisecond, p.Delay(0))
	assert.Equal(t, 1500*time.Millisecond, p.Delay(1))
	assert.Equal(t, 4500*time.Millisecond, p.Delay(2))
}

func TestTimerSleeper_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := TimerSleeper{}.Sleep(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}
