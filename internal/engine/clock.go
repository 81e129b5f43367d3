package engine

import "sync/atomic"

// Sequence numbers reconcile jobs in the order their matches were found.
// Log lines and spans carry the number so a job can be followed from match
// to outcome.
//
// Thread-safety: Sequence is safe for concurrent use.
type Sequence struct {
	n atomic.Uint64
}

// Next returns the next number, starting at 1.
func (s *Sequence) Next() uint64 {
	return s.n.Add(1)
}

// Current returns the last number handed out.
func (s *Sequence) Current() uint64 {
	return s.n.Load()
}
