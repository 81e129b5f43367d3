package engine

import (
	"errors"
	"fmt"
)

// HitQuota counts collisions and reports when the configured number has been
// found. A search run with --stop-at-first uses a quota of one.
type HitQuota struct {
	limit   int // zero means unlimited
	current int
}

// NewHitQuota creates a quota that trips after limit collisions.
func NewHitQuota(limit int) *HitQuota {
	return &HitQuota{limit: limit}
}

// Check counts one collision. It returns a HitLimitError once the limit has
// been reached.
func (q *HitQuota) Check() error {
	q.current++
	if q.limit > 0 && q.current >= q.limit {
		return &HitLimitError{Hits: q.current, Limit: q.limit}
	}
	return nil
}

// Current returns the number of collisions counted.
func (q *HitQuota) Current() int {
	return q.current
}

// Limit returns the configured limit, zero for none.
func (q *HitQuota) Limit() int {
	return q.limit
}

// HitLimitError reports that the search found as many collisions as asked.
// It ends the search without being a failure.
type HitLimitError struct {
	Hits  int
	Limit int
}

// Error implements the error interface.
func (e *HitLimitError) Error() string {
	return fmt.Sprintf("collision limit reached: %d of %d", e.Hits, e.Limit)
}

// IsHitLimitError reports whether err is a HitLimitError.
func IsHitLimitError(err error) bool {
	var he *HitLimitError
	return errors.As(err, &he)
}
