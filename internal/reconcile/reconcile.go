// Package reconcile classifies a pair of matching distinguished points.
//
// Two published points whose digests agree at the search width are the ends
// of two chain segments that merged somewhere inside the segments. Reconcile
// re-runs both segments in lockstep from their anchors (the predecessor
// points) to find the first step at which they agree.
package reconcile

import (
	"fmt"

	"github.com/roach88/collate/internal/chain"
	"github.com/roach88/collate/internal/digest"
)

// Kind is the classification of a reconciled pair.
type Kind int

const (
	// Collision: two distinct inputs with outputs agreeing on the search width.
	Collision Kind = iota + 1
	// Preimage: after alignment the anchors are equal, so one chain ran
	// through the other's starting state and no collision lies inside the
	// window.
	Preimage
	// Inconsistent: the walk never agreed, so at least one recorded segment
	// does not reproduce.
	Inconsistent
)

func (k Kind) String() string {
	switch k {
	case Collision:
		return "collision"
	case Preimage:
		return "preimage"
	case Inconsistent:
		return "inconsistent"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Endpoint is one side of a match: a published point together with the
// digest of its predecessor and the number of steps between them.
type Endpoint struct {
	Clock  uint64
	Pipe   int
	Digest digest.State
	Anchor digest.State
	Gap    uint64
}

// Input is a candidate pair.
type Input struct {
	A, B Endpoint
	Bits uint
}

// Outcome is the result of reconciling one pair.
type Outcome struct {
	Kind Kind
	A, B Endpoint

	// Window is the number of lockstep steps available after alignment.
	Window uint64

	// Collision fields. Step is the zero-based lockstep index of the
	// agreeing step and Remaining is Window-Step.
	Step      uint64
	Remaining uint64
	PreA      digest.State
	PostA     digest.State
	PreB      digest.State
	PostB     digest.State
	AgreeBits int

	// Aligned is the common anchor state of a Preimage.
	Aligned digest.State

	// Inconsistent fields. Final is the state each side reached after the
	// full window; Verified is whether it reproduced the recorded digest.
	FinalA    digest.State
	FinalB    digest.State
	VerifiedA bool
	VerifiedB bool
}

// Reconcile aligns the two segments and walks them in lockstep.
//
// The side with the larger gap is advanced by the difference so that both
// sides sit the same number of steps before their endpoints. The walk then
// takes up to min(gapA, gapB) steps on each side.
func Reconcile(t chain.Transform, in Input) Outcome {
	out := Outcome{A: in.A, B: in.B}

	ca, cb := in.A.Anchor, in.B.Anchor
	if in.A.Gap > in.B.Gap {
		ca = chain.Advance(t, ca, in.A.Gap-in.B.Gap)
		out.Window = in.B.Gap
	} else {
		cb = chain.Advance(t, cb, in.B.Gap-in.A.Gap)
		out.Window = in.A.Gap
	}

	if ca == cb {
		out.Kind = Preimage
		out.Aligned = ca
		return out
	}

	for i := uint64(0); i < out.Window; i++ {
		na, nb := t.Step(ca), t.Step(cb)
		if digest.MaskEqual(na, nb, in.Bits) {
			out.Kind = Collision
			out.Step = i
			out.Remaining = out.Window - i
			out.PreA, out.PostA = ca, na
			out.PreB, out.PostB = cb, nb
			out.AgreeBits = digest.AgreeBits(t.Sum(ca), t.Sum(cb))
			return out
		}
		ca, cb = na, nb
	}

	out.Kind = Inconsistent
	out.FinalA, out.FinalB = ca, cb
	out.VerifiedA = ca == in.A.Digest
	out.VerifiedB = cb == in.B.Digest
	return out
}
