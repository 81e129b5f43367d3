package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/collate/internal/digest"
	"github.com/roach88/collate/internal/session"
)

// createTestStore creates a new store in a temp dir for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestHit creates a collision record between (clockA, pipeA) and
// (clockB, pipeB).
func createTestHit(clockA uint64, pipeA int, clockB uint64, pipeB int, remaining uint64) session.Hit {
	return session.Hit{
		Pair:      session.Pair{ClockA: clockA, PipeA: pipeA, ClockB: clockB, PipeB: pipeB},
		Remaining: remaining,
		PreA:      digest.State{1, 2, 3},
		PostA:     digest.State{9, 9, 9},
		PreB:      digest.State{4, 5, 6},
		PostB:     digest.State{9, 9, 9},
	}
}
