package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeterministicClock_SequenceAndWallTime(t *testing.T) {
	clock := NewDeterministicClock()
	assert.Equal(t, int64(0), clock.Current())
	assert.Equal(t, Epoch, clock.Now())

	assert.Equal(t, int64(1), clock.Next())
	assert.Equal(t, int64(2), clock.Next())
	assert.Equal(t, Epoch.Add(2*time.Second), clock.Now())
}

func TestDeterministicClock_ResetReplaysTimestamps(t *testing.T) {
	clock := NewDeterministicClock()
	var first []time.Time
	for i := 0; i < 3; i++ {
		clock.Next()
		first = append(first, clock.Now())
	}

	clock.Reset()
	assert.Equal(t, Epoch, clock.Now())
	for i := 0; i < 3; i++ {
		clock.Next()
		assert.Equal(t, first[i], clock.Now())
	}
}

func TestDeterministicClock_ConcurrentNext(t *testing.T) {
	clock := NewDeterministicClock()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				clock.Next()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1000), clock.Current())
}
