// Package ledger turns streams of channel samples into linked chain points.
//
// Every physical pipe interleaves stageCount independent chains; the chain a
// sample belongs to is selected by its clock modulo the stage count. Each
// such (pipe, stage) pair is a channel with its own small state machine:
//
//	Unseeded --trigger--> Seeded --sample--> Active --sample--> Active
//	    ^                                       |
//	    +-------------- Kill / Reset -----------+
//
// A trigger sample (digest.IsTrigger) starts a new chain. Every later sample
// on the channel links to the previous one, and the number of transform steps
// between the two is the clock difference divided by the stage count.
package ledger

import (
	"errors"
	"fmt"

	"github.com/roach88/collate/internal/digest"
)

var (
	// ErrPreSeed is returned for a non-trigger sample on an unseeded channel.
	ErrPreSeed = errors.New("sample before channel seed")

	// ErrStale is returned for a sample that is not newer than the channel's
	// last point.
	ErrStale = errors.New("stale sample")

	// ErrMisaligned is returned when the clock distance to the predecessor is
	// not a whole number of steps. The channel is killed.
	ErrMisaligned = errors.New("clock misaligned with channel")

	// ErrBadPipe is returned for a pipe outside the configured topology.
	ErrBadPipe = errors.New("pipe out of range")
)

// ChannelState is the seeding state of one channel.
type ChannelState int

const (
	// Unseeded channels discard samples until a trigger arrives.
	Unseeded ChannelState = iota
	// Seeded channels hold only their trigger point.
	Seeded
	// Active channels have published at least one linked point.
	Active
)

func (s ChannelState) String() string {
	switch s {
	case Unseeded:
		return "unseeded"
	case Seeded:
		return "seeded"
	case Active:
		return "active"
	default:
		return fmt.Sprintf("ChannelState(%d)", int(s))
	}
}

// ChannelID names one logical channel.
type ChannelID struct {
	Pipe  int
	Stage int
}

// String renders the channel the way the search console prints it: pipe
// letter and stage, e.g. "B[125]".
func (c ChannelID) String() string {
	return fmt.Sprintf("%c[%3d]", 'A'+c.Pipe, c.Stage)
}

// Sample is one (clock, digest) reading from a pipe. Clock is already the
// adjusted logical clock.
type Sample struct {
	Clock  uint64
	Pipe   int
	Digest digest.State
}

// Stats are running totals over everything ingested.
type Stats struct {
	Points    uint64 // every accepted sample, trigger points included
	Published uint64 // points with a predecessor
	Steps     uint64 // sum of gaps over published points
}

type channel struct {
	state ChannelState
	last  Handle
	epoch uint64
}

// Ledger tracks the latest point of every channel.
//
// Thread-safety: Ledger is not safe for concurrent use. The search engine
// guards it with the same mutex that guards the distinguished point table so
// that ingest and match detection form one atomic step.
type Ledger struct {
	stages   int
	pipes    int
	arena    *Arena
	channels []channel
	seeded   int
	stats    Stats
}

// New creates a ledger for pipes physical pipes of stages stages each.
func New(stages, pipes int) *Ledger {
	if stages <= 0 || pipes <= 0 {
		panic(fmt.Sprintf("ledger: invalid topology %d stages x %d pipes", stages, pipes))
	}
	l := &Ledger{
		stages:   stages,
		pipes:    pipes,
		arena:    NewArena(),
		channels: make([]channel, stages*pipes),
	}
	for i := range l.channels {
		l.channels[i].last = NoHandle
	}
	return l
}

// Stages returns the configured stage count.
func (l *Ledger) Stages() int { return l.stages }

// Pipes returns the configured pipe count.
func (l *Ledger) Pipes() int { return l.pipes }

// Channels returns the total number of channels.
func (l *Ledger) Channels() int { return len(l.channels) }

// ChannelFor returns the channel a sample at clock on pipe belongs to.
func (l *Ledger) ChannelFor(clock uint64, pipe int) ChannelID {
	return ChannelID{Pipe: pipe, Stage: int(clock % uint64(l.stages))}
}

// ChannelAt returns the channel with flat index i.
func (l *Ledger) ChannelAt(i int) ChannelID {
	return ChannelID{Pipe: i % l.pipes, Stage: i / l.pipes}
}

func (l *Ledger) index(ch ChannelID) int {
	return ch.Stage*l.pipes + ch.Pipe
}

// Ingest records a sample.
//
// It returns the handle of the new point and whether the point is published,
// i.e. has a predecessor and may take part in collision search. Trigger points
// are recorded but never published.
//
// Errors: ErrBadPipe, ErrPreSeed and ErrStale discard the sample and leave the
// channel alone. ErrMisaligned discards the sample and kills the channel.
func (l *Ledger) Ingest(s Sample) (Handle, bool, error) {
	if s.Pipe < 0 || s.Pipe >= l.pipes {
		return NoHandle, false, fmt.Errorf("%w: %d (pipes=%d)", ErrBadPipe, s.Pipe, l.pipes)
	}

	ch := l.ChannelFor(s.Clock, s.Pipe)
	c := &l.channels[l.index(ch)]
	trigger := digest.IsTrigger(s.Digest)

	if c.last == NoHandle && !trigger {
		return NoHandle, false, fmt.Errorf("%w: %s at %d", ErrPreSeed, ch, s.Clock)
	}

	p := Point{
		Clock:   s.Clock,
		Pipe:    s.Pipe,
		Channel: ch,
		Digest:  s.Digest,
		Prev:    NoHandle,
	}

	var gap uint64
	if trigger {
		if c.state == Unseeded {
			l.seeded++
		}
		c.epoch++
		c.state = Seeded
	} else {
		prev := l.arena.Get(c.last)
		g, err := Gap(s.Clock, prev.Clock, l.stages)
		if err != nil {
			if errors.Is(err, ErrMisaligned) {
				l.kill(c)
			}
			return NoHandle, false, fmt.Errorf("%s: %w", ch, err)
		}
		gap = g
		p.Prev = c.last
		c.state = Active
	}
	p.Epoch = c.epoch

	h := l.arena.Add(p)
	c.last = h

	l.stats.Points++
	if p.Prev.Valid() {
		l.stats.Published++
		l.stats.Steps += gap
	}
	return h, p.Prev.Valid(), nil
}

// Gap returns the number of chain steps between a point at clock and its
// predecessor at prevClock.
func Gap(clock, prevClock uint64, stages int) (uint64, error) {
	if clock <= prevClock {
		return 0, fmt.Errorf("%w: %d after %d", ErrStale, clock, prevClock)
	}
	d := clock - prevClock
	if d%uint64(stages) != 0 {
		return 0, fmt.Errorf("%w: distance %d not a multiple of %d", ErrMisaligned, d, stages)
	}
	return d / uint64(stages), nil
}

// GapOf returns the gap between the point at h and its predecessor. Trigger
// points have no gap.
func (l *Ledger) GapOf(h Handle) uint64 {
	p := l.arena.Get(h)
	if !p.Prev.Valid() {
		return 0
	}
	return (p.Clock - l.arena.Get(p.Prev).Clock) / uint64(l.stages)
}

// Point returns the point at h.
func (l *Ledger) Point(h Handle) Point {
	return l.arena.Get(h)
}

// MarkKilled flags the point at h as failing verification.
func (l *Ledger) MarkKilled(h Handle) {
	l.arena.Kill(h)
}

// State returns the state of a channel.
func (l *Ledger) State(ch ChannelID) ChannelState {
	return l.channels[l.index(ch)].state
}

// Last returns the channel's latest point, or NoHandle.
func (l *Ledger) Last(ch ChannelID) Handle {
	return l.channels[l.index(ch)].last
}

// Epoch returns the number of chains started on the channel.
func (l *Ledger) Epoch(ch ChannelID) uint64 {
	return l.channels[l.index(ch)].epoch
}

// NeedsReseed reports whether the channel has no live chain: it never saw a
// trigger, or it was killed or reset since.
func (l *Ledger) NeedsReseed(ch ChannelID) bool {
	return l.channels[l.index(ch)].state == Unseeded
}

// Kill drops the channel's chain if it is still the chain of epoch, forcing a
// reseed. It reports whether the channel was killed; a channel that has been
// reseeded since epoch is left alone.
func (l *Ledger) Kill(ch ChannelID, epoch uint64) bool {
	c := &l.channels[l.index(ch)]
	if c.epoch != epoch || c.state == Unseeded {
		return false
	}
	l.kill(c)
	return true
}

func (l *Ledger) kill(c *channel) {
	if c.state != Unseeded {
		l.seeded--
	}
	c.state = Unseeded
	c.last = NoHandle
}

// KillPipe kills every seeded channel on pipe and returns how many there
// were. It is used when the pipe's clock can no longer be trusted to name a
// stage.
func (l *Ledger) KillPipe(pipe int) int {
	if pipe < 0 || pipe >= l.pipes {
		return 0
	}
	n := 0
	for stage := 0; stage < l.stages; stage++ {
		c := &l.channels[l.index(ChannelID{Pipe: pipe, Stage: stage})]
		if c.state != Unseeded {
			l.kill(c)
			n++
		}
	}
	return n
}

// ResetChannels forgets the latest point of every channel, as at the start of
// a new session. Points already stored stay in the arena.
func (l *Ledger) ResetChannels() {
	for i := range l.channels {
		l.channels[i].state = Unseeded
		l.channels[i].last = NoHandle
	}
	l.seeded = 0
}

// Unseeded returns every channel that needs a reseed, in flat index order.
func (l *Ledger) Unseeded() []ChannelID {
	var out []ChannelID
	for i := range l.channels {
		if l.channels[i].state == Unseeded {
			out = append(out, l.ChannelAt(i))
		}
	}
	return out
}

// Seeded returns the number of channels holding a live chain.
func (l *Ledger) Seeded() int {
	return l.seeded
}

// Stats returns running totals.
func (l *Ledger) Stats() Stats {
	return l.stats
}
