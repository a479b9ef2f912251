package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClock_StampsInOrder(t *testing.T) {
	c := NewClock()
	assert.Equal(t, int64(0), c.Current())

	first := c.Next()
	second := c.Next()
	assert.Equal(t, int64(1), first)
	assert.Less(t, first, second)
	assert.Equal(t, second, c.Current())
}

func TestClock_ResumesFromBalanceLog(t *testing.T) {
	// the log ended at 41; the next update must sort after it
	c := NewClockAt(41)
	assert.Equal(t, int64(41), c.Current())
	assert.Equal(t, int64(42), c.Next())
}

func TestClock_ConcurrentStampsAreDistinct(t *testing.T) {
	c := NewClockAt(10)
	const writers = 8
	const stamps = 250

	var (
		mu   sync.Mutex
		seen = map[int64]bool{}
		wg   sync.WaitGroup
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < stamps; j++ {
				seq := c.Next()
				mu.Lock()
				seen[seq] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, writers*stamps)
	assert.False(t, seen[10], "resumed clock reissued the start value")
	assert.Equal(t, int64(10+writers*stamps), c.Current())
}
