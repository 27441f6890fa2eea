package network

import (
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueFIFOAndBounds(t *testing.T) {
	q := NewQueue[int](3)
	assert.Equal(t, 4, q.Cap())

	for i := range 4 {
		require.True(t, q.TryPush(i))
	}
	assert.False(t, q.TryPush(99), "full queue rejects")
	assert.Equal(t, 4, q.Len())

	for i := range 4 {
		v, ok := q.TryPop()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	_, ok := q.TryPop()
	assert.False(t, ok)

	// Wrap around the ring.
	require.True(t, q.TryPush(5))
	buf := make([]int, 8)
	assert.Equal(t, 1, q.DrainTo(buf))
	assert.Equal(t, 5, buf[0])
}

// TestQueueConcurrentProducers checks nothing is lost or duplicated with
// many producers and one consumer.
func TestQueueConcurrentProducers(t *testing.T) {
	const producers, perProducer = 8, 2000
	q := NewQueue[int](1024)

	var wg sync.WaitGroup
	for p := range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perProducer {
				for !q.TryPush(p*perProducer + i) {
					runtime.Gosched()
				}
			}
		}()
	}

	seen := make([]bool, producers*perProducer)
	got := 0
	for got < len(seen) {
		v, ok := q.TryPop()
		if !ok {
			runtime.Gosched()
			continue
		}
		require.False(t, seen[v], "duplicate %d", v)
		seen[v] = true
		got++
	}
	wg.Wait()
	assert.Equal(t, 0, q.Len())
}
