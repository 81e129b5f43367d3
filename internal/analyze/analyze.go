// Package analyze reads a finished search log back for offline checks:
// how long each session ran, which published segments are least likely to
// be genuine, and whether every segment still reproduces under the
// transform.
package analyze

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/collate/internal/digest"
	"github.com/roach88/collate/internal/engine"
	"github.com/roach88/collate/internal/ledger"
	"github.com/roach88/collate/internal/session"
)

// Config describes the search that wrote the log.
type Config struct {
	Stages   int
	Pipes    int
	Freq     uint64
	DistBits uint
}

// Segment is the stretch of one chain between a published point and its
// predecessor.
type Segment struct {
	Clock      uint64
	Pipe       int
	Channel    ledger.ChannelID
	PrevClock  uint64
	PrevDigest digest.State
	Digest     digest.State
	Gap        uint64

	// LogProb is filled in by Rank.
	LogProb float64
}

// Span is one session of a log. The span before the first S record has a
// zero Start.
type Span struct {
	Start  int64
	Cycles uint64

	// Empty lists the channels that held no chain when the session ended,
	// if any channel held one.
	Empty []ledger.ChannelID
}

// Report is everything Load learns from a log.
type Report struct {
	Config   Config
	Segments []Segment
	Sessions []Span
	Total    uint64
	Rejected int
	Damaged  int
}

// Load reads a whole log. A session record whose topology disagrees with
// cfg stops the load with an engine topology error.
func Load(r *session.Reader, cfg Config) (*Report, error) {
	l := ledger.New(cfg.Stages, cfg.Pipes)
	rep := &Report{Config: cfg}
	span := Span{}

	closeSpan := func() {
		if l.Seeded() > 0 {
			span.Empty = l.Unseeded()
		}
		rep.Sessions = append(rep.Sessions, span)
	}

	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read log: %w", err)
		}

		switch rec := rec.(type) {
		case session.Result:
			h, published, err := l.Ingest(ledger.Sample{Clock: rec.Clock, Pipe: rec.Pipe, Digest: rec.Digest})
			if err != nil {
				if !errors.Is(err, ledger.ErrPreSeed) {
					rep.Rejected++
					slog.Warn("rejected log point", "clock", rec.Clock, "pipe", rec.Pipe, "error", err)
				}
				continue
			}
			if !published {
				continue
			}
			p := l.Point(h)
			prev := l.Point(p.Prev)
			gap := l.GapOf(h)
			rep.Segments = append(rep.Segments, Segment{
				Clock:      p.Clock,
				Pipe:       p.Pipe,
				Channel:    p.Channel,
				PrevClock:  prev.Clock,
				PrevDigest: prev.Digest,
				Digest:     p.Digest,
				Gap:        gap,
			})
			span.Cycles += gap
			rep.Total += gap

		case session.Session:
			if rec.Stages != cfg.Stages || rec.Pipes != cfg.Pipes {
				return nil, engine.NewTopologyError(rec.Stages, rec.Pipes, cfg.Stages, cfg.Pipes)
			}
			closeSpan()
			l.ResetChannels()
			span = Span{Start: rec.Unix}
		}
	}
	closeSpan()

	rep.Damaged = len(r.Diagnostics())
	return rep, nil
}

// Seconds converts a cycle count into wall time at the configured clock,
// with every pipe stepping once per cycle.
func (c Config) Seconds(cycles uint64) float64 {
	return float64(cycles) / float64(uint64(c.Pipes)*c.Freq)
}
