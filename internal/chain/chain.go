// Package chain advances hash chains.
//
// A chain is the sequence of states produced by repeatedly applying a
// Transform to a seed. The transform is treated as a black box that cannot be
// inverted or shortcut, so every advance is performed one step at a time.
package chain

import "github.com/roach88/collate/internal/digest"

// Transform is one step of a hash chain.
//
// Step returns the next truncated chain state. Sum returns the untruncated
// hash output computed by the same step; it is only used for diagnostics
// (how many bits two colliding outputs really share).
//
// Implementations must be deterministic and safe for concurrent use.
type Transform interface {
	Step(s digest.State) digest.State
	Sum(s digest.State) []byte
}

// Predicate selects distinguished states.
type Predicate func(s digest.State) bool

// Advance applies t to s exactly n times.
func Advance(t Transform, s digest.State, n uint64) digest.State {
	for ; n > 0; n-- {
		s = t.Step(s)
	}
	return s
}

// AdvanceUntil steps s until pred holds for the new state, returning that
// state and the number of steps taken. At least one step is always taken.
// If limit is non-zero and limit steps pass without pred holding, the state
// reached after limit steps is returned together with limit.
func AdvanceUntil(t Transform, s digest.State, pred Predicate, limit uint64) (digest.State, uint64) {
	var steps uint64
	for {
		s = t.Step(s)
		steps++
		if pred(s) || (limit != 0 && steps >= limit) {
			return s, steps
		}
	}
}

// Distinguished returns the hardware selection predicate: the low distBits
// bits of word 0 are zero and no trigger bit is set.
func Distinguished(distBits uint) Predicate {
	var mask uint32
	if distBits >= digest.WordBits-digest.TriggerBits {
		mask = ^digest.TriggerMask
	} else {
		mask = (uint32(1) << distBits) - 1
	}
	mask |= digest.TriggerMask
	return func(s digest.State) bool {
		return s[0]&mask == 0
	}
}

// Func adapts a plain step function to a Transform. Sum returns the
// little-endian bytes of the stepped state.
type Func func(s digest.State) digest.State

// Step implements Transform.
func (f Func) Step(s digest.State) digest.State {
	return f(s)
}

// Sum implements Transform.
func (f Func) Sum(s digest.State) []byte {
	return stateBytes(f(s))
}

func stateBytes(s digest.State) []byte {
	out := make([]byte, 0, digest.Words*4)
	for _, w := range s {
		out = append(out, byte(w), byte(w>>8), byte(w>>16), byte(w>>24))
	}
	return out
}
