// Package clock recovers a monotonic logical clock from the search hardware's
// wrapping 48-bit cycle counter.
package clock

import (
	"errors"
	"fmt"
	"sync"
)

// WrapBits is the width of the raw hardware counter.
const WrapBits = 48

// Wrap is the period of the raw hardware counter.
const Wrap uint64 = 1 << WrapBits

const rawMask = Wrap - 1

// DefaultBound is the largest jump Adjust accepts between consecutive readings.
const DefaultBound uint64 = 1 << 46

// ErrClockJump is returned when even the closest wrap candidate is farther
// from the last logical clock than the configured bound. It indicates a stalled
// or desynchronized channel, not a wrap.
var ErrClockJump = errors.New("clock jumps by too much")

// Adjuster maps raw counter readings onto a logical 64-bit clock.
//
// Every reading keeps its low 48 bits and takes its wrap count from whichever
// of c, c-Wrap and c+Wrap lies closest to the previous logical value.
//
// Thread-safety: all methods are safe for concurrent use. One Adjuster is
// shared by everything that reads the hardware so replayed and live clocks
// agree on the wrap count.
type Adjuster struct {
	mu          sync.Mutex
	bound       uint64
	last        uint64
	maxExternal uint64
	started     bool
}

// NewAdjuster creates an adjuster rejecting jumps larger than bound.
// A zero bound selects DefaultBound.
func NewAdjuster(bound uint64) *Adjuster {
	if bound == 0 {
		bound = DefaultBound
	}
	return &Adjuster{bound: bound}
}

// Observe records a logical clock value that is already known, typically from
// log replay. Start places the live clock after the largest observed value.
func (a *Adjuster) Observe(c uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if c > a.maxExternal {
		a.maxExternal = c
	}
}

// Start seeds the adjuster from the first raw reading of a live session and
// returns the resulting logical clock. The wrap count is chosen so the live
// clock lands strictly after every observed clock.
func (a *Adjuster) Start(raw uint64) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.start(raw)
}

func (a *Adjuster) start(raw uint64) uint64 {
	c := (raw & rawMask) + (a.maxExternal &^ rawMask)
	if c <= a.maxExternal {
		c += Wrap
	}
	a.last = c
	a.started = true
	return c
}

// Adjust converts a raw reading into a logical clock. The first reading of
// an adjuster that was never started seeds it as Start would.
func (a *Adjuster) Adjust(raw uint64) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.started {
		return a.start(raw), nil
	}

	c := (raw & rawMask) | (a.last &^ rawMask)

	best, bestDist := c, distance(c, a.last)
	if c >= Wrap {
		if d := distance(c-Wrap, a.last); d < bestDist {
			best, bestDist = c-Wrap, d
		}
	}
	if d := distance(c+Wrap, a.last); d < bestDist {
		best, bestDist = c+Wrap, d
	}

	if bestDist > a.bound {
		return 0, fmt.Errorf("%w: %d -> %d", ErrClockJump, a.last&rawMask, raw&rawMask)
	}

	a.last = best
	return best, nil
}

// Last returns the most recent logical clock.
func (a *Adjuster) Last() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

// Wraps returns the number of whole counter periods in c.
func Wraps(c uint64) uint64 {
	return c >> WrapBits
}

func distance(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}
