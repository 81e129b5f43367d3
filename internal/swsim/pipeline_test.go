package swsim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/collate/internal/chain"
	"github.com/roach88/collate/internal/clock"
	"github.com/roach88/collate/internal/device"
	"github.com/roach88/collate/internal/digest"
	"github.com/roach88/collate/internal/engine"
	"github.com/roach88/collate/internal/ledger"
	"github.com/roach88/collate/internal/reconcile"
)

// counter strips the trigger marker and counts up in word 0. With three
// distinguished bits a seed of 5 reaches 8 after three steps, then every
// eight steps after that.
var counter = chain.Func(func(s digest.State) digest.State {
	return digest.State{(s[0] &^ digest.TriggerMask) + 1, s[1], s[2]}
})

func newTestPipeline(start uint64) *Pipeline {
	return NewPipeline(counter, PipelineConfig{
		Stages:   5,
		Pipes:    1,
		DistBits: 3,
		Start:       start,
		Quantum:     10,
		ReadQuantum: 10,
	})
}

func TestPipeline_ReportsSeedThenDistinguishedPoints(t *testing.T) {
	ctx := context.Background()
	p := newTestPipeline(1000)
	seed := digest.State{digest.TriggerMask | 5, 0, 0}
	require.NoError(t, p.Inject(ctx, 0, 1020, seed))

	raw, _, err := p.ReadPoint(ctx, 0, 1)
	require.NoError(t, err)
	assert.Zero(t, raw, "seed not due yet")

	raw, d, err := p.ReadPoint(ctx, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1020), raw)
	assert.Equal(t, seed, d)

	raw, _, err = p.ReadPoint(ctx, 0, 2)
	require.NoError(t, err)
	assert.Zero(t, raw)

	raw, d, err = p.ReadPoint(ctx, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(1035), raw, "three steps of five stages")
	assert.Equal(t, digest.State{8, 0, 0}, d)

	assert.Equal(t, uint64(2), p.Reported())
}

func TestPipeline_InjectReplacesLane(t *testing.T) {
	ctx := context.Background()
	p := newTestPipeline(1000)
	first := digest.State{digest.TriggerMask | 5, 0, 0}
	second := digest.State{digest.TriggerMask | 1, 0, 0}
	require.NoError(t, p.Inject(ctx, 0, 1020, first))
	require.NoError(t, p.Inject(ctx, 0, 1025, second))

	for i := 0; i < 3; i++ {
		_, err := p.ReadClock(ctx)
		require.NoError(t, err)
	}
	raw, d, err := p.ReadPoint(ctx, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1025), raw)
	assert.Equal(t, second, d)
	assert.Equal(t, uint64(1), p.Reported())
}

func TestPipeline_ClockWraps(t *testing.T) {
	ctx := context.Background()
	p := newTestPipeline(clock.Wrap - 15)
	require.NoError(t, p.Inject(ctx, 0, 5, digest.State{digest.TriggerMask | 5, 0, 0}))

	raw, err := p.ReadClock(ctx)
	require.NoError(t, err)
	assert.Equal(t, clock.Wrap-5, raw)

	raw, _, err = p.ReadPoint(ctx, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), raw, "seed lands after the wrap")
}

func TestPipeline_RejectsBadAddresses(t *testing.T) {
	ctx := context.Background()
	p := newTestPipeline(0)

	_, _, err := p.ReadPoint(ctx, 1, 0)
	assert.Error(t, err)
	_, _, err = p.ReadPoint(ctx, 0, device.Slots)
	assert.Error(t, err)
	assert.Error(t, p.Inject(ctx, 3, 0, digest.State{}))

	id, err := p.ID(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultIDCode, id)
}

func TestQuantumFor(t *testing.T) {
	assert.Equal(t, uint64(16), QuantumFor(0))
	assert.Equal(t, uint64(16<<20), QuantumFor(20))
}

func TestPipeline_ReadQuantumDefault(t *testing.T) {
	p := NewPipeline(counter, PipelineConfig{Stages: 5, Pipes: 1, Quantum: QuantumFor(12)})
	assert.Equal(t, QuantumFor(12)/device.Slots, p.cfg.ReadQuantum)

	p = NewPipeline(counter, PipelineConfig{Stages: 5, Pipes: 1, Quantum: QuantumFor(2)})
	assert.Equal(t, uint64(1), p.cfg.ReadQuantum)
}

// countingSearch accepts every sample.
type countingSearch struct {
	adj *clock.Adjuster
	n   int
}

func (c *countingSearch) Ingest(ledger.Sample) error   { c.n++; return nil }
func (c *countingSearch) Unseeded() []ledger.ChannelID { return nil }
func (c *countingSearch) KillPipe(int) int             { return 0 }
func (c *countingSearch) Adjuster() *clock.Adjuster    { return c.adj }

func TestPipeline_PollerKeepsUpWithRings(t *testing.T) {
	ctx := context.Background()
	const (
		stages = 5
		pipes  = 2
	)
	dev := NewPipeline(counter, PipelineConfig{
		Stages:   stages,
		Pipes:    pipes,
		DistBits: 3,
		Start:    1000,
		Quantum:  QuantumFor(3),
	})
	search := &countingSearch{adj: clock.NewAdjuster(0)}
	poller := device.NewPoller(dev, search, nil, pipes)
	start, err := poller.Start(ctx)
	require.NoError(t, err)

	for pipe := 0; pipe < pipes; pipe++ {
		for stage := 0; stage < stages; stage++ {
			c := start + 200
			c += uint64(stage) - c%stages
			seed := digest.State{digest.TriggerMask | uint32(pipe*100+stage*10), 0, 0}
			require.NoError(t, dev.Inject(ctx, pipe, c, seed))
		}
	}

	total := 0
	for i := 0; i < 2000; i++ {
		// A seeding round reads the clock between passes.
		_, err := dev.ReadClock(ctx)
		require.NoError(t, err)
		n, err := poller.Poll(ctx)
		require.NoError(t, err)
		total += n
	}

	reported := dev.Reported()
	require.Greater(t, reported, uint64(10*device.Slots), "rings wrapped many times")
	assert.Less(t, reported-uint64(total), uint64(4), "no lap of any ring was lost")
	assert.Equal(t, total, search.n)
}

func TestPipeline_FindsCollisionThroughPoller(t *testing.T) {
	if testing.Short() {
		t.Skip("runs a full search")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	const (
		stages = 3
		pipes  = 2
		bits   = 16
	)
	tr := chain.MD5(bits)

	var hits []engine.Outcome
	hook := make(chan engine.Outcome, 64)
	search := engine.New(tr, engine.Params{Stages: stages, Pipes: pipes, Bits: bits},
		engine.WithRunIDGenerator(engine.NewFixedGenerator("sim-1")),
		engine.WithMaxHits(1),
		engine.WithOutcomeHook(func(o engine.Outcome) {
			select {
			case hook <- o:
			default:
			}
		}),
	)
	search.Start(ctx)
	require.NoError(t, search.BeginSession(ctx, time.Unix(1700000000, 0)))

	// The same wiring the search command uses for a simulated device.
	quantum := QuantumFor(2)
	dev := NewPipeline(tr, PipelineConfig{Stages: stages, Pipes: pipes, DistBits: 2, Start: 1 << 20, Quantum: quantum})
	seeder := device.NewSeeder(dev, search.Adjuster(), stages, pipes,
		device.WithFreq(50*quantum),
		device.WithPause(0),
	)
	poller := device.NewPoller(dev, search, seeder, pipes, device.WithIdle(time.Millisecond))

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- poller.Run(runCtx) }()

	select {
	case <-search.Stopped():
	case <-ctx.Done():
		t.Fatal("no collision found")
	}
	stats := search.Stats()
	stop()
	<-done
	require.NoError(t, search.Close())
	assert.Positive(t, stats.Seeded)
	assert.GreaterOrEqual(t, stats.Collisions, 1)
	close(hook)
	for o := range hook {
		hits = append(hits, o)
	}

	var collisions int
	for _, o := range hits {
		assert.NotEqual(t, reconcile.Inconsistent, o.Result.Kind, "simulated chains must verify")
		if o.Result.Kind == reconcile.Collision {
			collisions++
			assert.True(t, digest.MaskEqual(o.Result.PostA, o.Result.PostB, bits))
			assert.NotEqual(t, o.Result.PreA, o.Result.PreB)
		}
	}
	assert.GreaterOrEqual(t, collisions, 1)
}
