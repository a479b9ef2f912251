package engine

import (
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUIDv7Namer_ValidFormat(t *testing.T) {
	name := UUIDv7Namer{}.Generate()

	parsed, err := uuid.Parse(name)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
}

func TestChannelName_UniquePerMount(t *testing.T) {
	const mounts = 500
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]bool, mounts)
	)

	for i := 0; i < mounts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			name := ChannelName("u1", UUIDv7Namer{})
			mu.Lock()
			defer mu.Unlock()
			assert.False(t, seen[name], "channel %s generated twice", name)
			seen[name] = true
		}()
	}
	wg.Wait()

	assert.Len(t, seen, mounts)
	for name := range seen {
		assert.True(t, strings.HasPrefix(name, "u1-"))
	}
}

func TestFixedNamer(t *testing.T) {
	n := NewFixedNamer("a", "b")
	assert.Equal(t, "u1-a", ChannelName("u1", n))
	assert.Equal(t, "u1-b", ChannelName("u1", n))
	assert.Panics(t, func() { n.Generate() })
}
