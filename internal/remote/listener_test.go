package remote

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/coinsync/internal/filter"
	"github.com/roach88/coinsync/internal/model"
)

func TestDecodeNotification_Update(t *testing.T) {
	payload := `{"type":"UPDATE","table":"users",` +
		`"new":{"uid":"u1","user_coins":80,"subscription_active":false},` +
		`"old":{"uid":"u1","user_coins":120,"subscription_active":false}}`

	ev, match, err := DecodeNotification(payload, filter.Eq("uid", "u1"))
	require.NoError(t, err)
	assert.True(t, match)
	assert.Equal(t, model.ChangeUpdate, ev.Type)

	coins, ok := ev.Coins()
	require.True(t, ok)
	assert.Equal(t, int64(80), coins)
}

func TestDecodeNotification_OtherUser(t *testing.T) {
	payload := `{"type":"UPDATE","table":"users","new":{"uid":"u2","user_coins":5}}`

	_, match, err := DecodeNotification(payload, filter.Eq("uid", "u1"))
	require.NoError(t, err)
	assert.False(t, match)
}

func TestDecodeNotification_DeleteMatchesOld(t *testing.T) {
	payload := `{"type":"DELETE","table":"users","new":null,"old":{"uid":"u1","user_coins":3}}`

	ev, match, err := DecodeNotification(payload, filter.Eq("uid", "u1"))
	require.NoError(t, err)
	assert.True(t, match)

	_, ok := ev.Coins()
	assert.False(t, ok, "deletes carry no new balance")
}

func TestDecodeNotification_OtherTable(t *testing.T) {
	payload := `{"type":"INSERT","table":"games","new":{"uid":"u1"}}`

	_, match, err := DecodeNotification(payload, filter.Eq("uid", "u1"))
	require.NoError(t, err)
	assert.False(t, match)
}

func TestDecodeNotification_Malformed(t *testing.T) {
	_, _, err := DecodeNotification(`{"type":`, filter.Eq("uid", "u1"))
	assert.Error(t, err)
}

func TestNewListener_Options(t *testing.T) {
	l := NewListener("postgres://localhost/x", WithReconnect(1, 2))
	assert.EqualValues(t, 1, l.minReconnect)
	assert.EqualValues(t, 2, l.maxReconnect)
}

func TestSubscribe_InvalidFilter(t *testing.T) {
	l := NewListener("postgres://localhost/x")
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	_, err := l.Subscribe(ctx, "u1-test", filter.Filter{Column: "bad col", Op: filter.OpEq, Values: []string{"x"}})
	assert.Error(t, err)
}
