package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical_SortsKeys(t *testing.T) {
	out, err := MarshalCanonical(map[string]any{"b": 1, "a": true, "c": "x"})
	require.NoError(t, err)
	assert.Equal(t, `{"a":true,"b":1,"c":"x"}`, string(out))
}

func TestMarshalCanonical_Scalars(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{int64(120), "120"},
		{0, "0"},
		{true, "true"},
		{false, "false"},
		{"a<b>&c", `"a<b>&c"`},
	}
	for _, tt := range tests {
		out, err := MarshalCanonical(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, string(out))
	}
}

func TestMarshalCanonical_NFC(t *testing.T) {
	// "e" + combining acute accent normalizes to U+00E9
	out, err := MarshalCanonical("e\u0301")
	require.NoError(t, err)
	assert.Equal(t, "\"\u00e9\"", string(out))
}

func TestMarshalCanonical_Struct(t *testing.T) {
	out, err := MarshalCanonical(UserBalance{UID: "u1", Coins: 80})
	require.NoError(t, err)
	assert.Equal(t, `{"coins":80,"uid":"u1"}`, string(out))
}

func TestMarshalCanonical_Rejects(t *testing.T) {
	_, err := MarshalCanonical(nil)
	assert.Error(t, err)

	_, err = MarshalCanonical(1.5)
	assert.Error(t, err)

	_, err = MarshalCanonical(map[string]any{"x": nil})
	assert.Error(t, err)
}

func TestMarshalCanonical_Nested(t *testing.T) {
	in := map[string]any{
		"trace": []any{
			map[string]any{"seq": int64(2), "action": "push"},
		},
		"name": "demo",
	}
	out, err := MarshalCanonical(in)
	require.NoError(t, err)
	assert.Equal(t, `{"name":"demo","trace":[{"action":"push","seq":2}]}`, string(out))
}
