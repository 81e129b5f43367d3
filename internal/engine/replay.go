package engine

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/collate/internal/ledger"
	"github.com/roach88/collate/internal/session"
)

// ReplayStats summarizes a replayed log.
type ReplayStats struct {
	Records   int
	Results   int
	Hits      int
	Errors    int
	Preimages int
	Sessions  int
	Skipped   int
	// Deferred is the number of table matches found during replay that
	// were not yet known to be resolved when they were found.
	Deferred int
}

// Replay rebuilds the ledger and table from a log.
//
// R records are ingested without being written back, and their clocks are
// observed by the adjuster so live clocks continue after them. H, E and P
// records mark their pairs as resolved. An S record checks the log's topology
// against the configured one and forgets every channel's last point.
//
// Matches found in the table are held back: the outcome of a match is
// usually logged after the points that produced it. CatchUp reconciles the
// ones that turn out to be unresolved.
func (s *Search) Replay(ctx context.Context, r *session.Reader) (ReplayStats, error) {
	var st ReplayStats
	for {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return st, fmt.Errorf("read log: %w", err)
		}
		st.Records++
		if err := s.replayRecord(rec, &st); err != nil {
			return st, err
		}
	}
	st.Skipped = len(r.Diagnostics())

	s.mu.Lock()
	st.Deferred = len(s.deferred)
	s.mu.Unlock()

	s.logger.Info("replay complete",
		"records", st.Records,
		"results", st.Results,
		"hits", st.Hits,
		"errors", st.Errors,
		"preimages", st.Preimages,
		"sessions", st.Sessions,
		"skipped", st.Skipped,
		"deferred", st.Deferred,
	)
	return st, nil
}

func (s *Search) replayRecord(rec session.Record, st *ReplayStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch r := rec.(type) {
	case session.Result:
		st.Results++
		s.adjuster.Observe(r.Clock)
		// Rejected samples are logged by ingestLocked; replay goes on.
		_ = s.ingestLocked(ledger.Sample{Clock: r.Clock, Pipe: r.Pipe, Digest: r.Digest}, true)

	case session.Hit:
		st.Hits++
		s.hits.Add(r.Pair)

	case session.Error:
		st.Errors++
		s.hits.Add(r.Pair)

	case session.Preimage:
		st.Preimages++
		s.hits.Add(r.Pair)

	case session.Session:
		if r.Stages != s.params.Stages || r.Pipes != s.params.Pipes {
			return NewTopologyError(r.Stages, r.Pipes, s.params.Stages, s.params.Pipes)
		}
		st.Sessions++
		s.ledger.ResetChannels()
	}
	return nil
}

// CatchUp reconciles every match found during replay that has no outcome in
// the log, and waits until all of them are persisted. Live points must not be
// admitted before it returns.
func (s *Search) CatchUp(ctx context.Context) (int, error) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return 0, ErrNotStarted
	}
	jobs := s.deferred
	s.deferred = nil
	n := 0
	for _, j := range jobs {
		if s.hits.Contains(j.pair) {
			delete(s.pending, j.pair)
			continue
		}
		s.enqueue(j)
		n++
	}
	s.mu.Unlock()

	if n > 0 {
		s.logger.Info("catching up on unresolved matches", "count", n)
	}

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return n, nil
	case <-ctx.Done():
		return n, ctx.Err()
	}
}
