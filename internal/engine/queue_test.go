package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobQueue_FIFO(t *testing.T) {
	q := newJobQueue()
	for i := uint64(1); i <= 3; i++ {
		require.True(t, q.Enqueue(job{seq: i}))
	}
	assert.Equal(t, 3, q.Len())

	for i := uint64(1); i <= 3; i++ {
		j, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, i, j.seq)
	}
	_, ok := q.TryDequeue()
	assert.False(t, ok)
}

func TestJobQueue_CloseRejectsButDrains(t *testing.T) {
	q := newJobQueue()
	q.Enqueue(job{seq: 1})
	q.Close()
	q.Close()

	assert.False(t, q.Enqueue(job{seq: 2}))
	assert.False(t, q.Drained())

	j, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, uint64(1), j.seq)
	assert.True(t, q.Drained())

	select {
	case <-q.Wait():
	default:
		t.Fatal("Wait must not block on a closed queue")
	}
}

func TestJobQueue_WaitSignalsEnqueue(t *testing.T) {
	q := newJobQueue()
	got := make(chan uint64)
	go func() {
		<-q.Wait()
		j, _ := q.TryDequeue()
		got <- j.seq
	}()

	time.Sleep(10 * time.Millisecond)
	q.Enqueue(job{seq: 7})

	select {
	case seq := <-got:
		assert.Equal(t, uint64(7), seq)
	case <-time.After(time.Second):
		t.Fatal("waiter not woken")
	}
}

func TestJobQueue_SeveralConsumersDrainEverything(t *testing.T) {
	q := newJobQueue()
	const n = 500

	var mu sync.Mutex
	seen := make(map[uint64]bool)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if j, ok := q.TryDequeue(); ok {
					mu.Lock()
					seen[j.seq] = true
					mu.Unlock()
					continue
				}
				if q.Drained() {
					return
				}
				<-q.Wait()
			}
		}()
	}

	for i := uint64(1); i <= n; i++ {
		q.Enqueue(job{seq: i})
	}
	q.Close()
	wg.Wait()

	assert.Len(t, seen, n)
}
