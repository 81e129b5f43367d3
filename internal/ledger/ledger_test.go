package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/collate/internal/digest"
)

var trig = digest.State{0xc0000000, 0x1234, 0x5678}

func sample(clock uint64, pipe int, w0 uint32) Sample {
	return Sample{Clock: clock, Pipe: pipe, Digest: digest.State{w0, 0, 0}}
}

func TestIngest_TriggerThenPoint(t *testing.T) {
	l := New(5, 2)

	h0, published, err := l.Ingest(Sample{Clock: 1000, Pipe: 1, Digest: trig})
	require.NoError(t, err)
	assert.False(t, published, "trigger points are never published")

	ch := ChannelID{Pipe: 1, Stage: 0}
	assert.Equal(t, Seeded, l.State(ch))
	assert.Equal(t, h0, l.Last(ch))

	h1, published, err := l.Ingest(sample(1025, 1, 0x40))
	require.NoError(t, err)
	assert.True(t, published)
	assert.Equal(t, uint64(5), l.GapOf(h1))

	p := l.Point(h1)
	assert.Equal(t, h0, p.Prev)
	assert.Equal(t, ch, p.Channel)
	assert.Equal(t, Active, l.State(ch))
	assert.Equal(t, uint64(1), p.Epoch)
}

func TestIngest_PreSeedDiscarded(t *testing.T) {
	l := New(4, 1)
	_, _, err := l.Ingest(sample(100, 0, 7))
	assert.ErrorIs(t, err, ErrPreSeed)
	assert.Equal(t, uint64(0), l.Stats().Points)
	assert.True(t, l.NeedsReseed(ChannelID{Pipe: 0, Stage: 0}))
}

func TestIngest_BadPipe(t *testing.T) {
	l := New(4, 2)
	_, _, err := l.Ingest(Sample{Clock: 8, Pipe: 2, Digest: trig})
	assert.ErrorIs(t, err, ErrBadPipe)
}

func TestIngest_StaleLeavesChannel(t *testing.T) {
	l := New(3, 1)
	_, _, err := l.Ingest(Sample{Clock: 30, Pipe: 0, Digest: trig})
	require.NoError(t, err)
	_, _, err = l.Ingest(sample(60, 0, 1))
	require.NoError(t, err)

	_, _, err = l.Ingest(sample(60, 0, 1))
	assert.ErrorIs(t, err, ErrStale)
	assert.Equal(t, Active, l.State(ChannelID{Pipe: 0, Stage: 0}))
}

func TestGap(t *testing.T) {
	g, err := Gap(1025, 1000, 5)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), g)

	_, err = Gap(1000, 1000, 5)
	assert.ErrorIs(t, err, ErrStale)

	_, err = Gap(1007, 1000, 5)
	assert.ErrorIs(t, err, ErrMisaligned)
}

func TestIngest_GapsSumToClockSpan(t *testing.T) {
	const stages = 7
	l := New(stages, 3)

	start := uint64(7 * 1000)
	_, _, err := l.Ingest(Sample{Clock: start, Pipe: 2, Digest: trig})
	require.NoError(t, err)

	clock := start
	var sum uint64
	var last Handle
	for i, step := range []uint64{1, 4, 2, 9, 30, 1} {
		clock += step * stages
		h, published, err := l.Ingest(sample(clock, 2, uint32(i+1)))
		require.NoError(t, err)
		require.True(t, published)
		sum += l.GapOf(h)
		last = h
	}

	assert.Equal(t, (clock-start)/stages, sum)
	assert.Equal(t, sum, l.Stats().Steps)
	assert.Equal(t, uint64(6), l.Stats().Published)
	assert.Equal(t, uint64(7), l.Stats().Points)

	// Walking predecessors from the last point reaches the trigger.
	hops := 0
	for h := last; l.Point(h).Prev.Valid(); h = l.Point(h).Prev {
		hops++
	}
	assert.Equal(t, 6, hops)
}

func TestIngest_StagesAreIndependent(t *testing.T) {
	l := New(4, 1)
	for stage := uint64(0); stage < 4; stage++ {
		_, _, err := l.Ingest(Sample{Clock: 400 + stage, Pipe: 0, Digest: trig})
		require.NoError(t, err)
	}
	assert.Equal(t, 4, l.Seeded())

	h, _, err := l.Ingest(sample(402+8, 0, 9))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), l.GapOf(h))
	assert.Equal(t, ChannelID{Pipe: 0, Stage: 2}, l.Point(h).Channel)
}

func TestKill_ForcesReseed(t *testing.T) {
	l := New(2, 1)
	ch := ChannelID{Pipe: 0, Stage: 0}

	_, _, err := l.Ingest(Sample{Clock: 10, Pipe: 0, Digest: trig})
	require.NoError(t, err)
	h, _, err := l.Ingest(sample(14, 0, 3))
	require.NoError(t, err)
	epoch := l.Point(h).Epoch

	require.True(t, l.Kill(ch, epoch))
	assert.True(t, l.NeedsReseed(ch))
	assert.Equal(t, 0, l.Seeded())
	assert.False(t, l.Kill(ch, epoch), "already dead")

	_, _, err = l.Ingest(sample(16, 0, 3))
	assert.ErrorIs(t, err, ErrPreSeed)

	_, _, err = l.Ingest(Sample{Clock: 20, Pipe: 0, Digest: trig})
	require.NoError(t, err)
	assert.False(t, l.Kill(ch, epoch), "a reseeded channel is not killed by an old verdict")
	assert.Equal(t, epoch+1, l.Epoch(ch))
}

func TestKillPipe_LeavesOtherPipes(t *testing.T) {
	l := New(3, 2)
	for i := 0; i < 6; i++ {
		_, _, err := l.Ingest(Sample{Clock: uint64(30 + i/2), Pipe: i % 2, Digest: trig})
		require.NoError(t, err)
	}
	require.Equal(t, 6, l.Seeded())

	assert.Equal(t, 3, l.KillPipe(1))
	assert.Equal(t, 3, l.Seeded())
	assert.Equal(t, []ChannelID{{Pipe: 1, Stage: 0}, {Pipe: 1, Stage: 1}, {Pipe: 1, Stage: 2}}, l.Unseeded())
	assert.Zero(t, l.KillPipe(1), "already dead")
	assert.Zero(t, l.KillPipe(7))
}

func TestIngest_MisalignedKills(t *testing.T) {
	l := New(4, 1)
	_, _, err := l.Ingest(Sample{Clock: 8, Pipe: 0, Digest: trig})
	require.NoError(t, err)

	// Corrupt the stored clock so the next sample on the channel sits a
	// fractional number of steps away.
	c := &l.channels[0]
	prev := l.arena.Get(c.last)
	prev.Clock = 9
	l.arena.points[c.last] = prev

	_, _, err = l.Ingest(sample(12, 0, 1))
	assert.ErrorIs(t, err, ErrMisaligned)
	assert.True(t, l.NeedsReseed(ChannelID{Pipe: 0, Stage: 0}))
}

func TestResetChannels(t *testing.T) {
	l := New(3, 2)
	for i := 0; i < 6; i++ {
		_, _, err := l.Ingest(Sample{Clock: uint64(30 + i/2), Pipe: i % 2, Digest: trig})
		require.NoError(t, err)
	}
	assert.Equal(t, 6, l.Seeded())
	assert.Empty(t, l.Unseeded())

	l.ResetChannels()
	assert.Equal(t, 0, l.Seeded())
	assert.Len(t, l.Unseeded(), 6)
	assert.Equal(t, uint64(6), l.Stats().Points, "points survive a reset")
}

func TestChannelAt_RoundTrip(t *testing.T) {
	l := New(5, 3)
	for i := 0; i < l.Channels(); i++ {
		assert.Equal(t, i, l.index(l.ChannelAt(i)))
	}
	assert.Equal(t, "B[  4]", ChannelID{Pipe: 1, Stage: 4}.String())
}

func TestArena_InvalidHandlePanics(t *testing.T) {
	a := NewArena()
	assert.Panics(t, func() { a.Get(NoHandle) })
	h := a.Add(Point{Clock: 1})
	assert.Equal(t, uint64(1), a.Get(h).Clock)
	a.Kill(h)
	assert.True(t, a.Get(h).Killed)
}
