package device

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"time"

	"github.com/zeebo/xxh3"

	"github.com/roach88/collate/internal/clock"
	"github.com/roach88/collate/internal/digest"
	"github.com/roach88/collate/internal/ledger"
)

// DefaultPerRound caps the number of channels seeded per round.
const DefaultPerRound = 10

// Seed derives the seed state for a channel from the session time, the flat
// channel index and the injection clock. The trigger marker is always set so
// the device reports the seed as the first point of a new chain.
func Seed(unix uint32, index int, clk uint64) digest.State {
	var buf [16]byte
	binary.LittleEndian.PutUint32(buf[0:], unix)
	binary.LittleEndian.PutUint32(buf[4:], uint32(index))
	binary.LittleEndian.PutUint64(buf[8:], clk)
	h := xxh3.Hash128(buf[:])
	return digest.State{
		uint32(h.Lo) | digest.TriggerMask,
		uint32(h.Lo >> 32),
		uint32(h.Hi),
	}
}

// Seeder injects fresh seeds into unseeded channels.
//
// A channel stays unseeded until its seed is read back from the ring, so the
// seeder remembers when it last injected each channel and leaves it alone
// until that seed is overdue. A Seeder is not safe for concurrent use.
type Seeder struct {
	dev      Device
	adj      *clock.Adjuster
	stages   int
	pipes    int
	freq     uint64
	perRound int
	pause    time.Duration
	now      func() time.Time

	pending map[ledger.ChannelID]uint64
}

// SeederOption configures a Seeder.
type SeederOption func(*Seeder)

// WithFreq sets the pipeline clock used to schedule injections.
func WithFreq(hz uint64) SeederOption {
	return func(s *Seeder) { s.freq = hz }
}

// WithPerRound caps how many channels one Round seeds.
func WithPerRound(n int) SeederOption {
	return func(s *Seeder) { s.perRound = n }
}

// WithPause sets the wait after each injection.
func WithPause(d time.Duration) SeederOption {
	return func(s *Seeder) { s.pause = d }
}

// WithNow replaces the wall clock used in seeds.
func WithNow(now func() time.Time) SeederOption {
	return func(s *Seeder) { s.now = now }
}

// NewSeeder creates a seeder for a device of pipes pipes with stages stages.
// adj must be the adjuster the poller uses.
func NewSeeder(dev Device, adj *clock.Adjuster, stages, pipes int, opts ...SeederOption) *Seeder {
	s := &Seeder{
		dev:      dev,
		adj:      adj,
		stages:   stages,
		pipes:    pipes,
		freq:     DefaultFreq,
		perRound: DefaultPerRound,
		pause:    20 * time.Millisecond,
		now:      time.Now,
		pending:  make(map[ledger.ChannelID]uint64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Round seeds up to the per-round limit of the given channels and returns how
// many were injected. Channels whose last seed is still in flight are skipped
// and do not count against the limit.
//
// Each seed is scheduled a fiftieth of a second ahead of the current clock,
// on the first clock of the channel's stage after that. A seed that has not
// been read back a further fiftieth of a second after its due clock is
// presumed lost and the channel is seeded again.
func (s *Seeder) Round(ctx context.Context, unseeded []ledger.ChannelID) (int, error) {
	tt := uint32(s.now().Unix())
	lead := s.freq / 50

	now, err := s.clock(ctx)
	if err != nil {
		return 0, err
	}
	s.prune(unseeded)

	done := 0
	for _, ch := range unseeded {
		if done >= s.perRound {
			break
		}
		if due, ok := s.pending[ch]; ok && now <= due+lead {
			continue
		}

		c := now + lead
		c -= c % uint64(s.stages)
		c += uint64(ch.Stage)

		seed := Seed(tt, ch.Stage*s.pipes+ch.Pipe, c)
		if err := s.dev.Inject(ctx, ch.Pipe, c, seed); err != nil {
			return done, fmt.Errorf("inject %s: %w", ch, err)
		}
		slog.Debug("seeded channel", "channel", ch.String(), "clock", c, "seed", seed.String())
		s.pending[ch] = c
		done++

		if s.pause > 0 {
			select {
			case <-ctx.Done():
				return done, ctx.Err()
			case <-time.After(s.pause):
			}
			if now, err = s.clock(ctx); err != nil {
				return done, err
			}
		}
	}
	return done, nil
}

func (s *Seeder) clock(ctx context.Context) (uint64, error) {
	raw, err := s.dev.ReadClock(ctx)
	if err != nil {
		return 0, fmt.Errorf("read clock: %w", err)
	}
	c, err := s.adj.Adjust(raw)
	if err != nil {
		return 0, fmt.Errorf("seed: %w", err)
	}
	return c, nil
}

// prune forgets injections for channels that have since been seeded.
func (s *Seeder) prune(unseeded []ledger.ChannelID) {
	if len(s.pending) == 0 {
		return
	}
	want := make(map[ledger.ChannelID]struct{}, len(unseeded))
	for _, ch := range unseeded {
		want[ch] = struct{}{}
	}
	for ch := range s.pending {
		if _, ok := want[ch]; !ok {
			delete(s.pending, ch)
		}
	}
}

// Pending reports how many injected channels have not yet been seen seeded.
func (s *Seeder) Pending() int { return len(s.pending) }
