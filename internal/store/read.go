package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/collate/internal/session"
)

// Outcome is one indexed H, E or P record.
type Outcome struct {
	Seq       int64
	RunID     string
	Kind      session.Kind
	Pair      session.Pair
	Remaining *uint64
	Line      string
}

// Record parses the stored log line back into its record.
func (o Outcome) Record() (session.Record, error) {
	return session.Parse(o.Line)
}

// SessionRow is one indexed S record.
type SessionRow struct {
	Seq     int64
	RunID   string
	Started int64
	Stages  int
	Pipes   int
}

// Filter narrows an outcome listing. Zero values match everything.
type Filter struct {
	Kind  session.Kind
	RunID string
	Limit int
}

// ListOutcomes returns indexed outcomes in insertion order.
//
// Returns an empty slice (not nil) if nothing matches.
func (s *Store) ListOutcomes(ctx context.Context, f Filter) ([]Outcome, error) {
	query := `
		SELECT seq, run_id, kind, clock_a, pipe_a, clock_b, pipe_b, remaining, line
		FROM outcomes
		WHERE (? = '' OR kind = ?) AND (? = '' OR run_id = ?)
		ORDER BY seq ASC`
	kind := ""
	if f.Kind != 0 {
		kind = f.Kind.String()
	}
	args := []any{kind, kind, f.RunID, f.RunID}
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	outcomes := []Outcome{}
	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			return nil, err
		}
		outcomes = append(outcomes, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcomes: %w", err)
	}
	return outcomes, nil
}

// ReadOutcome returns the outcome for a pair, given in either order.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadOutcome(ctx context.Context, p session.Pair) (Outcome, error) {
	p = p.Normalize()
	row := s.db.QueryRowContext(ctx, `
		SELECT seq, run_id, kind, clock_a, pipe_a, clock_b, pipe_b, remaining, line
		FROM outcomes
		WHERE clock_a = ? AND pipe_a = ? AND clock_b = ? AND pipe_b = ?
	`, int64(p.ClockA), p.PipeA, int64(p.ClockB), p.PipeB)
	return scanOutcome(row)
}

// CountOutcomes returns the number of indexed outcomes per kind.
func (s *Store) CountOutcomes(ctx context.Context) (map[session.Kind]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, COUNT(*) FROM outcomes GROUP BY kind ORDER BY kind
	`)
	if err != nil {
		return nil, fmt.Errorf("count outcomes: %w", err)
	}
	defer rows.Close()

	counts := make(map[session.Kind]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[session.Kind(kind[0])] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate counts: %w", err)
	}
	return counts, nil
}

// ListSessions returns indexed sessions in insertion order.
func (s *Store) ListSessions(ctx context.Context) ([]SessionRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, run_id, started, stages, pipes
		FROM sessions
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []SessionRow{}
	for rows.Next() {
		var r SessionRow
		if err := rows.Scan(&r.Seq, &r.RunID, &r.Started, &r.Stages, &r.Pipes); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanOutcome(sc scanner) (Outcome, error) {
	var (
		o              Outcome
		kind           string
		clockA, clockB int64
		remaining      sql.NullInt64
	)
	err := sc.Scan(&o.Seq, &o.RunID, &kind, &clockA, &o.Pair.PipeA, &clockB, &o.Pair.PipeB, &remaining, &o.Line)
	if err != nil {
		return Outcome{}, err
	}
	o.Kind = session.Kind(kind[0])
	o.Pair.ClockA = uint64(clockA)
	o.Pair.ClockB = uint64(clockB)
	if remaining.Valid {
		r := uint64(remaining.Int64)
		o.Remaining = &r
	}
	return o, nil
}
