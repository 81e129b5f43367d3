package ledger

import (
	"fmt"

	"github.com/roach88/collate/internal/digest"
)

// Handle identifies a Point inside an Arena.
type Handle int32

// NoHandle is the predecessor of a trigger point.
const NoHandle Handle = -1

// Valid reports whether h refers to a point.
func (h Handle) Valid() bool {
	return h >= 0
}

// Point is one observed chain sample.
//
// Points are immutable once created except for Killed, which is set when
// reconciliation finds that re-computing the chain does not reproduce Digest.
type Point struct {
	Clock   uint64
	Pipe    int
	Channel ChannelID
	Digest  digest.State
	// Prev is the previous point on the same channel, or NoHandle for a
	// trigger point that starts a chain.
	Prev Handle
	// Epoch counts the chains started on the channel; all points of one
	// chain share it.
	Epoch  uint64
	Killed bool
}

// Arena owns every point for the life of the process. Predecessor links are
// handles into the arena rather than pointers.
//
// Thread-safety: Arena is not safe for concurrent use; the owner serializes
// access.
type Arena struct {
	points []Point
}

// NewArena creates an empty arena.
func NewArena() *Arena {
	return &Arena{points: make([]Point, 0, 1024)}
}

// Add stores p and returns its handle.
func (a *Arena) Add(p Point) Handle {
	a.points = append(a.points, p)
	return Handle(len(a.points) - 1)
}

// Get returns a copy of the point at h. It panics on an invalid handle, which
// is always a programming error.
func (a *Arena) Get(h Handle) Point {
	if int(h) < 0 || int(h) >= len(a.points) {
		panic(fmt.Sprintf("ledger: invalid handle %d (arena holds %d points)", h, len(a.points)))
	}
	return a.points[h]
}

// Kill marks the point at h as failing verification.
func (a *Arena) Kill(h Handle) {
	a.points[h].Killed = true
}

// Len returns the number of stored points.
func (a *Arena) Len() int {
	return len(a.points)
}
