package swsim

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/collate/internal/chain"
	"github.com/roach88/collate/internal/clock"
	"github.com/roach88/collate/internal/device"
	"github.com/roach88/collate/internal/digest"
)

// DefaultQuantum is the number of device cycles that pass on every register
// access to a Pipeline.
const DefaultQuantum = 1 << 16

// QuantumFor returns a clock quantum at which each pipe reports about a
// sixteenth of its ring per clock read when chains stop every 2^distBits
// steps on average. Pair it with a seeder frequency of 50 times the quantum.
// The matching read quantum lets a ring read consume results about sixteen
// times faster than the pipe produces them.
func QuantumFor(distBits uint) uint64 {
	return uint64(device.Slots/16) << distBits
}

// DefaultIDCode is the id code a Pipeline reports.
const DefaultIDCode uint32 = 0x5eed0001

// PipelineConfig shapes a simulated device.
type PipelineConfig struct {
	Stages   int
	Pipes    int
	DistBits uint
	MaxSteps uint64

	// Start is the device clock at power-on. It may sit just below a wrap.
	Start uint64

	// Quantum is how far the device clock moves per clock read.
	Quantum uint64

	// ReadQuantum is how far it moves per ring read. Zero means Quantum
	// divided by the ring depth, and at least one cycle. A ring read that
	// costs as much as a clock read lets the pipes outrun the poller.
	ReadQuantum uint64

	IDCode uint32
}

type slot struct {
	raw uint64
	d   digest.State
}

type event struct {
	clock uint64
	pipe  int
	stage int
	gen   uint64
	state digest.State
}

type eventHeap []event

func (h eventHeap) Len() int           { return len(h) }
func (h eventHeap) Less(i, j int) bool { return h[i].clock < h[j].clock }
func (h eventHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x any)        { *h = append(*h, x.(event)) }
func (h *eventHeap) Pop() any {
	old := *h
	e := old[len(old)-1]
	*h = old[:len(old)-1]
	return e
}

// Pipeline is a device.Device whose pipelines run in software.
//
// Time is virtual: the device clock advances by the clock quantum on every
// clock read and by the read quantum on every ring read, and every chain
// event due by then is written to its pipe's ring. Each (pipe, stage) lane carries one chain; injecting into a lane
// replaces whatever it was running.
type Pipeline struct {
	mu   sync.Mutex
	t    chain.Transform
	pred chain.Predicate
	cfg  PipelineConfig

	now    uint64
	events eventHeap
	gens   []uint64
	rings  [][device.Slots]slot
	write  []int

	reported uint64
	dark     uint64
}

var (
	_ device.Device     = (*Pipeline)(nil)
	_ device.Identifier = (*Pipeline)(nil)
)

// NewPipeline creates a simulated device running t.
func NewPipeline(t chain.Transform, cfg PipelineConfig) *Pipeline {
	if cfg.Quantum == 0 {
		cfg.Quantum = DefaultQuantum
	}
	if cfg.ReadQuantum == 0 {
		cfg.ReadQuantum = max(cfg.Quantum/device.Slots, 1)
	}
	if cfg.MaxSteps == 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	if cfg.IDCode == 0 {
		cfg.IDCode = DefaultIDCode
	}
	p := &Pipeline{
		t:     t,
		pred:  chain.Distinguished(cfg.DistBits),
		cfg:   cfg,
		now:   cfg.Start,
		gens:  make([]uint64, cfg.Stages*cfg.Pipes),
		rings: make([][device.Slots]slot, cfg.Pipes),
		write: make([]int, cfg.Pipes),
	}
	for i := range p.write {
		p.write[i] = 1
	}
	return p
}

// ID implements device.Identifier.
func (p *Pipeline) ID(ctx context.Context) (uint32, error) {
	return p.cfg.IDCode, ctx.Err()
}

// ReadClock implements device.Device.
func (p *Pipeline) ReadClock(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tick(p.cfg.Quantum)
	return p.now & (clock.Wrap - 1), nil
}

// ReadPoint implements device.Device.
func (p *Pipeline) ReadPoint(ctx context.Context, pipe, idx int) (uint64, digest.State, error) {
	if err := ctx.Err(); err != nil {
		return 0, digest.State{}, err
	}
	if pipe < 0 || pipe >= p.cfg.Pipes || idx < 0 || idx >= device.Slots {
		return 0, digest.State{}, fmt.Errorf("no slot %d on pipe %d", idx, pipe)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tick(p.cfg.ReadQuantum)
	s := p.rings[pipe][idx]
	return s.raw, s.d, nil
}

// Inject implements device.Device. Only the low 48 bits of clk are used; the
// seed enters on the nearest device clock with those bits.
func (p *Pipeline) Inject(ctx context.Context, pipe int, clk uint64, seed digest.State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if pipe < 0 || pipe >= p.cfg.Pipes {
		return fmt.Errorf("no pipe %d", pipe)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	c := p.lift(clk)
	stage := int(c % uint64(p.cfg.Stages))
	lane := stage*p.cfg.Pipes + pipe
	p.gens[lane]++
	heap.Push(&p.events, event{clock: c, pipe: pipe, stage: stage, gen: p.gens[lane], state: seed})
	return nil
}

// Dark returns the number of chains that ran past the step limit without
// reaching a distinguished point. The hardware would walk them forever.
func (p *Pipeline) Dark() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dark
}

// Reported returns the number of results written to the rings.
func (p *Pipeline) Reported() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reported
}

// lift maps a raw 48-bit clock onto the device clock nearest now.
func (p *Pipeline) lift(raw uint64) uint64 {
	c := (raw & (clock.Wrap - 1)) | (p.now &^ (clock.Wrap - 1))
	best := c
	if c >= clock.Wrap && dist(c-clock.Wrap, p.now) < dist(best, p.now) {
		best = c - clock.Wrap
	}
	if dist(c+clock.Wrap, p.now) < dist(best, p.now) {
		best = c + clock.Wrap
	}
	return best
}

func dist(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}

// tick advances the device clock by d and runs every event due by then.
func (p *Pipeline) tick(d uint64) {
	p.now += d
	for len(p.events) > 0 && p.events[0].clock <= p.now {
		e := heap.Pop(&p.events).(event)
		if e.gen != p.gens[e.stage*p.cfg.Pipes+e.pipe] {
			continue
		}
		p.report(e)

		next, steps := chain.AdvanceUntil(p.t, e.state, p.pred, p.cfg.MaxSteps)
		if !p.pred(next) {
			p.dark++
			slog.Debug("simulated chain went dark", "pipe", e.pipe, "stage", e.stage, "steps", steps)
			continue
		}
		e.clock += steps * uint64(p.cfg.Stages)
		e.state = next
		heap.Push(&p.events, e)
	}
}

func (p *Pipeline) report(e event) {
	w := p.write[e.pipe]
	p.rings[e.pipe][w] = slot{raw: e.clock & (clock.Wrap - 1), d: e.state}
	p.write[e.pipe] = (w + 1) % device.Slots
	p.reported++
}
