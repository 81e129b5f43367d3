package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/collate/internal/clock"
	"github.com/roach88/collate/internal/ledger"
)

// DefaultMaxJumps is how many consecutive clock jumps a pipe may report
// before polling gives up on the device.
const DefaultMaxJumps = 8

// ErrDesync is returned by Poll when a pipe keeps reporting clocks the
// adjuster cannot place.
var ErrDesync = errors.New("pipe clock out of step")

// Search is the part of the search the poller feeds.
type Search interface {
	Ingest(s ledger.Sample) error
	Unseeded() []ledger.ChannelID
	KillPipe(pipe int) int
	Adjuster() *clock.Adjuster
}

// Poller drains every pipe's result ring round robin and seeds unseeded
// channels between passes.
//
// Run must be called from exactly one goroutine.
type Poller struct {
	dev      Device
	search   Search
	seeder   *Seeder
	pipes    int
	idle     time.Duration
	maxJumps int

	index []int
	last  []uint64
	jumps []int
	start uint64
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithIdle sets how long the poller sleeps when every channel is seeded and
// no pipe has new results.
func WithIdle(d time.Duration) PollerOption {
	return func(p *Poller) { p.idle = d }
}

// WithMaxJumps sets how many consecutive clock jumps on one pipe Poll
// tolerates before it fails with ErrDesync.
func WithMaxJumps(n int) PollerOption {
	return func(p *Poller) { p.maxJumps = n }
}

// NewPoller creates a poller for pipes pipes.
func NewPoller(dev Device, search Search, seeder *Seeder, pipes int, opts ...PollerOption) *Poller {
	p := &Poller{
		dev:      dev,
		search:   search,
		seeder:   seeder,
		pipes:    pipes,
		idle:     time.Second,
		maxJumps: DefaultMaxJumps,
		index:    make([]int, pipes),
		last:     make([]uint64, pipes),
		jumps:    make([]int, pipes),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start reads the device clock and places the logical clock after everything
// replayed. Results stamped at or before the start clock are drained from the
// rings but never ingested.
func (p *Poller) Start(ctx context.Context) (uint64, error) {
	if id, ok := p.dev.(Identifier); ok {
		code, err := id.ID(ctx)
		if err != nil {
			return 0, fmt.Errorf("read id: %w", err)
		}
		slog.Info("device id", "code", fmt.Sprintf("%08x", code))
	}

	raw, err := p.dev.ReadClock(ctx)
	if err != nil {
		return 0, fmt.Errorf("read clock: %w", err)
	}
	p.start = p.search.Adjuster().Start(raw)
	for i := range p.index {
		p.index[i] = 1
		p.last[i] = 0
		p.jumps[i] = 0
	}
	slog.Info("initial clock", "clock", p.start, "wraps", clock.Wraps(p.start))
	return p.start, nil
}

// Poll reads every new result from every pipe once and returns how many it
// found.
//
// A result whose clock jumps beyond the adjuster's bound is dropped. Its
// stage cannot be known, so every chain on that pipe is killed and reseeded.
// After too many consecutive jumps on one pipe Poll fails with ErrDesync.
func (p *Poller) Poll(ctx context.Context) (int, error) {
	adj := p.search.Adjuster()
	n := 0
	for pipe := 0; pipe < p.pipes; pipe++ {
		for read := 0; read < Slots; read++ {
			raw, d, err := p.dev.ReadPoint(ctx, pipe, p.index[pipe]%Slots)
			if err != nil {
				return n, fmt.Errorf("read pipe %d: %w", pipe, err)
			}
			if raw == 0 {
				// Never written.
				break
			}
			c, err := adj.Adjust(raw)
			if err != nil {
				p.jumps[pipe]++
				slog.Error("dropping result", "pipe", pipe, "slot", p.index[pipe]%Slots, "jumps", p.jumps[pipe], "error", err)
				p.index[pipe]++
				p.search.KillPipe(pipe)
				if p.maxJumps > 0 && p.jumps[pipe] >= p.maxJumps {
					return n, fmt.Errorf("%w: pipe %d: %d consecutive readings: %w", ErrDesync, pipe, p.jumps[pipe], err)
				}
				continue
			}
			if c <= p.last[pipe] {
				break
			}
			p.jumps[pipe] = 0
			p.last[pipe] = c
			p.index[pipe]++
			n++

			if c > p.start {
				// The search logs what it rejects.
				_ = p.search.Ingest(ledger.Sample{Clock: c, Pipe: pipe, Digest: d})
			}
		}
	}
	return n, nil
}

// Run polls until ctx is cancelled. After every pass it seeds up to one
// round of unseeded channels, and sleeps only when the pass found nothing
// and nothing was seeded.
func (p *Poller) Run(ctx context.Context) error {
	if _, err := p.Start(ctx); err != nil {
		return err
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := p.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("poll: %w", err)
		}

		seeded := 0
		if p.seeder != nil {
			if unseeded := p.search.Unseeded(); len(unseeded) > 0 {
				seeded, err = p.seeder.Round(ctx, unseeded)
				if err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					slog.Warn("seeding round failed", "error", err)
				}
			}
		}
		if n > 0 || seeded > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.idle):
		}
	}
}
