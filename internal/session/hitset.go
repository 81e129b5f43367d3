package session

// HitSet is the set of pairs that already have an outcome in the log.
// Pairs are normalized on the way in, so either orientation finds the same
// entry.
//
// Thread-safety: not safe for concurrent use.
type HitSet struct {
	pairs map[Pair]struct{}
}

// NewHitSet creates an empty set.
func NewHitSet() *HitSet {
	return &HitSet{pairs: make(map[Pair]struct{})}
}

// Add records p. It reports whether p was new.
func (s *HitSet) Add(p Pair) bool {
	p = p.Normalize()
	if _, ok := s.pairs[p]; ok {
		return false
	}
	s.pairs[p] = struct{}{}
	return true
}

// Contains reports whether p has been recorded.
func (s *HitSet) Contains(p Pair) bool {
	_, ok := s.pairs[p.Normalize()]
	return ok
}

// Len returns the number of recorded pairs.
func (s *HitSet) Len() int {
	return len(s.pairs)
}

// PairOf returns the pair named by an outcome record, or false for records
// that do not name one.
func PairOf(rec Record) (Pair, bool) {
	switch r := rec.(type) {
	case Hit:
		return r.Pair, true
	case Error:
		return r.Pair, true
	case Preimage:
		return r.Pair, true
	default:
		return Pair{}, false
	}
}
