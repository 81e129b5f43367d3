package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var epoch = time.Unix(1700000000, 0)

func TestStepClock_FirstReadingIsStart(t *testing.T) {
	clock := NewStepClock(epoch, time.Second)
	assert.Equal(t, epoch, clock.Now())
	assert.Equal(t, int64(1), clock.Calls())
}

func TestStepClock_AdvancesOneStepPerReading(t *testing.T) {
	clock := NewStepClock(epoch, 2*time.Second)

	assert.Equal(t, epoch, clock.Now())
	assert.Equal(t, epoch.Add(2*time.Second), clock.Now())
	assert.Equal(t, epoch.Add(4*time.Second), clock.Now())
	assert.Equal(t, int64(3), clock.Calls())
}

func TestStepClock_ZeroStepIsFrozen(t *testing.T) {
	clock := NewStepClock(epoch, 0)
	for i := 0; i < 5; i++ {
		assert.Equal(t, epoch, clock.Now())
	}
}

func TestStepClock_Reset(t *testing.T) {
	clock := NewStepClock(epoch, time.Minute)
	clock.Now()
	clock.Now()

	clock.Reset()
	assert.Equal(t, int64(0), clock.Calls())
	assert.Equal(t, epoch, clock.Now())
}

func TestStepClock_Concurrent(t *testing.T) {
	clock := NewStepClock(epoch, time.Millisecond)

	const goroutines = 50
	const perGoroutine = 20

	seen := make(chan time.Time, goroutines*perGoroutine)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				seen <- clock.Now()
			}
		}()
	}
	wg.Wait()
	close(seen)

	// No reading is handed out twice.
	unique := make(map[time.Time]bool)
	for ts := range seen {
		assert.False(t, unique[ts], "duplicate reading %v", ts)
		unique[ts] = true
	}
	assert.Len(t, unique, goroutines*perGoroutine)
}
