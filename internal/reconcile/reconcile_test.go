package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/collate/internal/chain"
	"github.com/roach88/collate/internal/digest"
)

// merge counts upward in word 0, except that 1005 jumps back to 3 so a chain
// started at 1000 falls onto the chain started at 0.
var merge = chain.Func(func(s digest.State) digest.State {
	if s[0] == 1005 {
		return digest.State{3, 0, 0}
	}
	return digest.State{s[0] + 1, 0, 0}
})

func w(v uint32) digest.State { return digest.State{v, 0, 0} }

func TestReconcile_Collision(t *testing.T) {
	in := Input{
		A:    Endpoint{Clock: 100, Pipe: 0, Anchor: w(0), Gap: 10, Digest: w(10)},
		B:    Endpoint{Clock: 200, Pipe: 1, Anchor: w(1000), Gap: 13, Digest: w(10)},
		Bits: 96,
	}
	out := Reconcile(merge, in)

	require.Equal(t, Collision, out.Kind)
	assert.Equal(t, uint64(10), out.Window)
	assert.Equal(t, uint64(2), out.Step)
	assert.Equal(t, uint64(8), out.Remaining)
	assert.Equal(t, w(2), out.PreA)
	assert.Equal(t, w(1005), out.PreB)
	assert.Equal(t, w(3), out.PostA)
	assert.Equal(t, out.PostA, out.PostB)
	assert.NotEqual(t, out.PreA, out.PreB)
}

func TestReconcile_CollisionIsSymmetric(t *testing.T) {
	a := Endpoint{Clock: 100, Anchor: w(0), Gap: 10, Digest: w(10)}
	b := Endpoint{Clock: 200, Pipe: 1, Anchor: w(1000), Gap: 13, Digest: w(10)}

	ab := Reconcile(merge, Input{A: a, B: b, Bits: 96})
	ba := Reconcile(merge, Input{A: b, B: a, Bits: 96})

	require.Equal(t, Collision, ba.Kind)
	assert.Equal(t, ab.Remaining, ba.Remaining)
	assert.Equal(t, ab.PreA, ba.PreB)
	assert.Equal(t, ab.PreB, ba.PreA)
}

func TestReconcile_Preimage(t *testing.T) {
	in := Input{
		A:    Endpoint{Clock: 100, Anchor: w(0), Gap: 10, Digest: w(10)},
		B:    Endpoint{Clock: 300, Pipe: 1, Anchor: w(4), Gap: 6, Digest: w(10)},
		Bits: 96,
	}
	out := Reconcile(merge, in)
	require.Equal(t, Preimage, out.Kind)
	assert.Equal(t, w(4), out.Aligned)
	assert.Equal(t, uint64(6), out.Window)
}

func TestReconcile_Inconsistent(t *testing.T) {
	in := Input{
		A: Endpoint{Clock: 100, Anchor: w(0), Gap: 10, Digest: w(10)},
		// Recorded as reaching 10 but the chain from 1000 reaches 7.
		B:    Endpoint{Clock: 200, Pipe: 1, Anchor: w(1000), Gap: 10, Digest: w(10)},
		Bits: 96,
	}
	out := Reconcile(merge, in)

	require.Equal(t, Inconsistent, out.Kind)
	assert.Equal(t, w(10), out.FinalA)
	assert.Equal(t, w(7), out.FinalB)
	assert.True(t, out.VerifiedA)
	assert.False(t, out.VerifiedB)
}

func TestReconcile_PartialWidth(t *testing.T) {
	// Two counters that agree only on their low byte once B has wrapped
	// past A by exactly 0x100.
	step := chain.Func(func(s digest.State) digest.State {
		return digest.State{s[0] + 1, 0, 0}
	})
	in := Input{
		A:    Endpoint{Anchor: w(0), Gap: 4, Digest: w(4)},
		B:    Endpoint{Pipe: 1, Anchor: w(0x100), Gap: 4, Digest: w(0x104)},
		Bits: 8,
	}
	out := Reconcile(step, in)
	require.Equal(t, Collision, out.Kind)
	assert.Equal(t, uint64(0), out.Step)
	assert.Equal(t, uint64(4), out.Remaining)
	assert.True(t, digest.MaskEqual(out.PostA, out.PostB, 8))
	assert.False(t, digest.MaskEqual(out.PostA, out.PostB, 9))
}

func TestReconcile_FindsRealTruncatedCollision(t *testing.T) {
	const bits = 16
	tr := chain.MD5(bits)
	pred := chain.Distinguished(4)

	type end struct {
		seed  digest.State
		steps uint64
	}
	ends := make(map[digest.State]end)

	for i := uint32(1); i < 1<<14; i++ {
		seed := w(i)
		e, steps := chain.AdvanceUntil(tr, seed, pred, 1000)
		if !pred(e) {
			continue
		}
		prev, ok := ends[e]
		ends[e] = end{seed: seed, steps: steps}
		if !ok {
			continue
		}

		out := Reconcile(tr, Input{
			A:    Endpoint{Clock: 1, Anchor: prev.seed, Gap: prev.steps, Digest: e},
			B:    Endpoint{Clock: 2, Anchor: seed, Gap: steps, Digest: e},
			Bits: bits,
		})
		require.NotEqual(t, Inconsistent, out.Kind, "honest segments always reconcile")
		if out.Kind != Collision {
			continue
		}
		assert.True(t, digest.MaskEqual(out.PostA, out.PostB, bits))
		assert.NotEqual(t, out.PreA, out.PreB)
		assert.Equal(t, out.PostA, tr.Step(out.PreA))
		assert.GreaterOrEqual(t, out.AgreeBits, bits)
		return
	}
	t.Fatal("no collision found")
}
