package catalog

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	c := Default()
	require.NotEmpty(t, c.Packs)

	for _, p := range c.Packs {
		assert.Equal(t, "usd", p.Currency, "currency defaults to usd")
		assert.Positive(t, p.Coins)
		assert.Positive(t, p.PriceCents)
	}

	plus, ok := c.Find("plus")
	require.True(t, ok)
	assert.True(t, plus.Popular)

	starter, ok := c.Find("starter")
	require.True(t, ok)
	assert.False(t, starter.Popular, "popular defaults to false")

	_, ok = c.Find("nope")
	assert.False(t, ok)
}

func TestLoad(t *testing.T) {
	c, err := Load(filepath.Join("testdata", "custom.cue"))
	require.NoError(t, err)

	require.Len(t, c.Packs, 1)
	assert.Equal(t, Pack{
		ID:          "tiny",
		Name:        "Tiny",
		Coins:       10,
		PriceCents:  99,
		Currency:    "eur",
		StripePrice: "price_123",
	}, c.Packs[0])
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join("testdata", "missing.cue"))
	assert.Error(t, err)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"syntax error", `packs: [`},
		{"no packs", `packs: []`},
		{"zero coins", `packs: [{id: "a", name: "A", coins: 0, price_cents: 1}]`},
		{"negative price", `packs: [{id: "a", name: "A", coins: 1, price_cents: -1}]`},
		{"missing name", `packs: [{id: "a", coins: 1, price_cents: 1}]`},
		{"bad id", `packs: [{id: "Bad Id", name: "A", coins: 1, price_cents: 1}]`},
		{"bad currency", `packs: [{id: "a", name: "A", coins: 1, price_cents: 1, currency: "dollars"}]`},
		{"fractional coins", `packs: [{id: "a", name: "A", coins: 1.5, price_cents: 1}]`},
		{"unknown field", `packs: [{id: "a", name: "A", coins: 1, price_cents: 1, bonus: 5}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("test.cue", []byte(tt.src))
			assert.Error(t, err)
		})
	}
}

func TestParse_DuplicateIDs(t *testing.T) {
	src := `packs: [
		{id: "a", name: "A", coins: 1, price_cents: 1},
		{id: "a", name: "B", coins: 2, price_cents: 2},
	]`
	_, err := Parse("dup.cue", []byte(src))

	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "packs[1].id", ce.Field)
}
