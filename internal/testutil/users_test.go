package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/coinsync/internal/model"
)

func TestScriptedUsers_FailThenSucceed(t *testing.T) {
	ctx := context.Background()
	u := NewScriptedUsers(model.UserRow{UID: "u1", UserCoins: 10})
	u.FailNext("u1", 2, nil)

	_, err := u.FetchUser(ctx, "u1")
	assert.ErrorIs(t, err, ErrNetwork)
	_, err = u.FetchUser(ctx, "u1")
	assert.ErrorIs(t, err, ErrNetwork)

	row, err := u.FetchUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), row.UserCoins)
	assert.Equal(t, 3, u.Calls("u1"))
}

func TestScriptedUsers_NotFound(t *testing.T) {
	u := NewScriptedUsers()
	_, err := u.FetchUser(context.Background(), "ghost")
	assert.ErrorIs(t, err, model.ErrUserNotFound)
}

func TestScriptedUsers_BlockNextReadsLatestRow(t *testing.T) {
	u := NewScriptedUsers(model.UserRow{UID: "u1", UserCoins: 1})
	gate := make(chan struct{})
	u.BlockNext("u1", gate)

	done := make(chan model.UserRow)
	go func() {
		row, _ := u.FetchUser(context.Background(), "u1")
		done <- row
	}()

	u.Put(model.UserRow{UID: "u1", UserCoins: 99})
	close(gate)

	select {
	case row := <-done:
		assert.Equal(t, int64(99), row.UserCoins)
	case <-time.After(time.Second):
		t.Fatal("blocked read never returned")
	}
}

func TestScriptedUsers_Spend(t *testing.T) {
	ctx := context.Background()
	u := NewScriptedUsers(model.UserRow{UID: "u1", UserCoins: 5})

	left, err := u.SpendCoins(ctx, "u1", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(2), left)

	_, err = u.SpendCoins(ctx, "u1", 3)
	assert.ErrorIs(t, err, model.ErrInsufficientCoins)

	total, err := u.AddCoins(ctx, "u1", 8)
	require.NoError(t, err)
	assert.Equal(t, int64(10), total)
}

func TestRecordingSleeper(t *testing.T) {
	s := &RecordingSleeper{}
	require.NoError(t, s.Sleep(context.Background(), time.Second))
	require.NoError(t, s.Sleep(context.Background(), 2*time.Second))

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, s.Delays())
	assert.Equal(t, 3*time.Second, s.Total())
}
