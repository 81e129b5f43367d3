// Package swsim runs search channels in software.
//
// Farm is the production software driver: a fixed set of goroutines, each
// owning a group of channels, advancing chains to their next distinguished
// point and handing each one straight to the search.
//
// Pipeline emulates the FPGA pipelines behind the device.Device interface,
// so the polled hardware path can run without hardware.
package swsim

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/roach88/collate/internal/chain"
	"github.com/roach88/collate/internal/clock"
	"github.com/roach88/collate/internal/digest"
	"github.com/roach88/collate/internal/ledger"
)

// DefaultMaxSteps bounds the walk to one distinguished point. A chain that
// exceeds it is assumed to be caught in a cycle and is reseeded.
const DefaultMaxSteps = 1 << 24

// Search is the part of the search the farm feeds.
type Search interface {
	Ingest(s ledger.Sample) error
	NeedsReseed(ch ledger.ChannelID) bool
	Adjuster() *clock.Adjuster
}

// FarmConfig shapes a software farm.
type FarmConfig struct {
	Stages   int
	Pipes    int
	DistBits uint
	Workers  int
	MaxSteps uint64
	Key      [32]byte
}

// Farm is a pool of software chain workers.
type Farm struct {
	search Search
	t      chain.Transform
	pred   chain.Predicate
	cfg    FarmConfig

	steps  atomic.Uint64
	points atomic.Uint64
}

// NewFarm creates a farm feeding search.
func NewFarm(search Search, t chain.Transform, cfg FarmConfig) *Farm {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.MaxSteps == 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	return &Farm{
		search: search,
		t:      t,
		pred:   chain.Distinguished(cfg.DistBits),
		cfg:    cfg,
	}
}

type lane struct {
	ch        ledger.ChannelID
	clock     uint64
	state     digest.State
	needsSeed bool
}

// Run advances every channel until ctx is cancelled and returns ctx.Err().
// Clocks start after everything the search adjuster has observed.
func (f *Farm) Run(ctx context.Context) error {
	stages := uint64(f.cfg.Stages)
	base := f.search.Adjuster().Start(0)
	base += stages - base%stages

	groups := make([][]*lane, f.cfg.Workers)
	for w, chs := range assignChannels(f.cfg.Stages, f.cfg.Pipes, f.cfg.Workers) {
		for _, ch := range chs {
			groups[w] = append(groups[w], &lane{ch: ch, clock: base + uint64(ch.Stage), needsSeed: true})
		}
	}

	streams := make([]*seedStream, f.cfg.Workers)
	for w := range streams {
		s, err := newSeedStream(f.cfg.Key, w)
		if err != nil {
			return err
		}
		streams[w] = s
	}

	slog.Info("software farm starting",
		"workers", f.cfg.Workers,
		"channels", f.cfg.Stages*f.cfg.Pipes,
		"dist_bits", f.cfg.DistBits,
		"lane_width", laneWidth,
		"base_clock", base,
	)

	var wg sync.WaitGroup
	for w, group := range groups {
		if len(group) == 0 {
			continue
		}
		wg.Add(1)
		go func(lanes []*lane, stream *seedStream) {
			defer wg.Done()
			f.work(ctx, lanes, stream)
		}(group, streams[w])
	}
	wg.Wait()

	slog.Info("software farm stopped", "steps", f.steps.Load(), "points", f.points.Load())
	return ctx.Err()
}

// assignChannels deals channels to workers round robin in pipe-major order,
// so a worker's share spans pipes whenever a pipe has more than one stage.
func assignChannels(stages, pipes, workers int) [][]ledger.ChannelID {
	out := make([][]ledger.ChannelID, workers)
	for i := 0; i < stages*pipes; i++ {
		ch := ledger.ChannelID{Pipe: i / stages, Stage: i % stages}
		out[i%workers] = append(out[i%workers], ch)
	}
	return out
}

func (f *Farm) work(ctx context.Context, lanes []*lane, stream *seedStream) {
	for {
		for i := 0; i < len(lanes); i += laneWidth {
			if ctx.Err() != nil {
				return
			}
			end := min(i+laneWidth, len(lanes))
			for _, l := range lanes[i:end] {
				f.advance(l, stream)
			}
		}
	}
}

// advance moves l to its next reportable point and ingests it.
func (f *Farm) advance(l *lane, stream *seedStream) {
	stages := uint64(f.cfg.Stages)

	if l.needsSeed || f.search.NeedsReseed(l.ch) {
		l.clock += stages
		l.state = stream.Next()
		l.needsSeed = false
		f.ingest(l)
		return
	}

	next, steps := chain.AdvanceUntil(f.t, l.state, f.pred, f.cfg.MaxSteps)
	f.steps.Add(steps)
	l.clock += steps * stages
	l.state = next
	if !f.pred(next) {
		slog.Debug("chain exceeded step limit, reseeding", "channel", l.ch.String(), "steps", steps)
		l.needsSeed = true
		return
	}
	f.ingest(l)
}

func (f *Farm) ingest(l *lane) {
	f.points.Add(1)
	// Rejections are logged by the search; a rejected trigger shows up as
	// NeedsReseed on the next pass.
	_ = f.search.Ingest(ledger.Sample{Clock: l.clock, Pipe: l.ch.Pipe, Digest: l.state})
}

// Steps returns the number of chain steps taken so far.
func (f *Farm) Steps() uint64 { return f.steps.Load() }

// Points returns the number of samples handed to the search.
func (f *Farm) Points() uint64 { return f.points.Load() }
