package device

import (
	"context"
	"errors"
	"sync"

	"github.com/roach88/collate/internal/clock"
	"github.com/roach88/collate/internal/digest"
	"github.com/roach88/collate/internal/ledger"
)

type entry struct {
	raw uint64
	d   digest.State
}

type injection struct {
	pipe  int
	clock uint64
	seed  digest.State
}

type fakeDevice struct {
	mu       sync.Mutex
	clock    uint64
	rings    map[int]map[int]entry
	injected []injection
	failRead bool
}

func newFakeDevice(clk uint64) *fakeDevice {
	return &fakeDevice{clock: clk, rings: make(map[int]map[int]entry)}
}

func (f *fakeDevice) set(pipe, slot int, raw uint64, d digest.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rings[pipe] == nil {
		f.rings[pipe] = make(map[int]entry)
	}
	f.rings[pipe][slot] = entry{raw: raw, d: d}
}

func (f *fakeDevice) ReadClock(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clock, ctx.Err()
}

func (f *fakeDevice) ReadPoint(ctx context.Context, pipe, slot int) (uint64, digest.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRead {
		return 0, digest.State{}, errors.New("cable unplugged")
	}
	e := f.rings[pipe][slot]
	return e.raw, e.d, ctx.Err()
}

func (f *fakeDevice) Inject(ctx context.Context, pipe int, clk uint64, seed digest.State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.injected = append(f.injected, injection{pipe: pipe, clock: clk, seed: seed})
	return ctx.Err()
}

func (f *fakeDevice) setClock(clk uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clock = clk
}

func (f *fakeDevice) injections() []injection {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]injection(nil), f.injected...)
}

type fakeSearch struct {
	mu       sync.Mutex
	adj      *clock.Adjuster
	samples  []ledger.Sample
	unseeded []ledger.ChannelID
	killed   []int
}

func newFakeSearch(unseeded ...ledger.ChannelID) *fakeSearch {
	return &fakeSearch{adj: clock.NewAdjuster(0), unseeded: unseeded}
}

func (f *fakeSearch) Ingest(s ledger.Sample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples = append(f.samples, s)
	return nil
}

// Unseeded hands out its channels once, as if every seed took.
func (f *fakeSearch) Unseeded() []ledger.ChannelID {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.unseeded
	f.unseeded = nil
	return out
}

func (f *fakeSearch) KillPipe(pipe int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed = append(f.killed, pipe)
	return 1
}

func (f *fakeSearch) Adjuster() *clock.Adjuster { return f.adj }

func (f *fakeSearch) killedPipes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.killed...)
}

func (f *fakeSearch) ingested() []ledger.Sample {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ledger.Sample(nil), f.samples...)
}
