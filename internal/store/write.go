package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/collate/internal/session"
)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Write indexes one log record written by run runID. Session and outcome
// records are stored; result records are ignored. Uses ON CONFLICT DO NOTHING
// for idempotency - a record already indexed is silently skipped.
func (s *Store) Write(ctx context.Context, runID string, rec session.Record) error {
	return write(ctx, s.db, runID, rec)
}

func write(ctx context.Context, db execer, runID string, rec session.Record) error {
	switch r := rec.(type) {
	case session.Session:
		return writeSession(ctx, db, runID, r)
	case session.Hit:
		return writeOutcome(ctx, db, runID, rec, r.Pair, &r.Remaining)
	case session.Error:
		return writeOutcome(ctx, db, runID, rec, r.Pair, nil)
	case session.Preimage:
		return writeOutcome(ctx, db, runID, rec, r.Pair, nil)
	default:
		return nil
	}
}

func writeSession(ctx context.Context, db execer, runID string, r session.Session) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO sessions (run_id, started, stages, pipes)
		VALUES (?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, runID, r.Unix, r.Stages, r.Pipes)
	if err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

// writeOutcome stores an H, E or P record under its normalized pair.
// remaining is nil for records that carry none.
func writeOutcome(ctx context.Context, db execer, runID string, rec session.Record, p session.Pair, remaining *uint64) error {
	p = p.Normalize()
	var rem any
	if remaining != nil {
		rem = int64(*remaining)
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO outcomes
		(run_id, kind, clock_a, pipe_a, clock_b, pipe_b, remaining, line)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		runID,
		rec.Kind().String(),
		int64(p.ClockA),
		p.PipeA,
		int64(p.ClockB),
		p.PipeB,
		rem,
		rec.Format(),
	)
	if err != nil {
		return fmt.Errorf("write outcome %s: %w", p, err)
	}
	return nil
}

// Import indexes every session and outcome record read from r under runID,
// in one transaction, and returns how many records it offered to the store.
// Damaged lines are skipped by the reader.
func (s *Store) Import(ctx context.Context, runID string, r *session.Reader) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("import: %w", err)
	}
	defer tx.Rollback()

	n := 0
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return n, fmt.Errorf("import: %w", err)
		}
		if rec.Kind() == session.KindResult {
			continue
		}
		if err := write(ctx, tx, runID, rec); err != nil {
			return n, err
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return n, fmt.Errorf("import commit: %w", err)
	}
	return n, nil
}
