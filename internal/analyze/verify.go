package analyze

import (
	"context"
	"runtime"
	"sync"

	"github.com/roach88/collate/internal/chain"
	"github.com/roach88/collate/internal/digest"
	"github.com/roach88/collate/internal/ledger"
)

// checkEvery is how many steps a verification walk takes between
// cancellation checks.
const checkEvery = 1 << 16

// Verification is the outcome of recomputing one segment.
type Verification struct {
	Segment Segment

	// OK reports whether walking Gap steps from PrevDigest reproduced Digest.
	OK bool

	// Got is the state the walk ended on.
	Got digest.State

	// Interior lists distinguished points met before the end of the walk.
	// The device should have reported them, so each one marks a lost result.
	Interior []ledger.Sample
}

// Verify recomputes every segment on workers goroutines and returns the
// results in segment order. Segments not reached before ctx is cancelled are
// left out, and ctx.Err() is returned with the partial results.
func Verify(ctx context.Context, t chain.Transform, segs []Segment, cfg Config, workers int) ([]Verification, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	pred := chain.Distinguished(cfg.DistBits)

	results := make([]Verification, len(segs))
	done := make([]bool, len(segs))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				v, ok := verifyOne(ctx, t, pred, segs[i], uint64(cfg.Stages))
				if ok {
					results[i] = v
					done[i] = true
				}
			}
		}()
	}

feed:
	for i := range segs {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	out := make([]Verification, 0, len(segs))
	for i := range results {
		if done[i] {
			out = append(out, results[i])
		}
	}
	return out, ctx.Err()
}

func verifyOne(ctx context.Context, t chain.Transform, pred chain.Predicate, seg Segment, stages uint64) (Verification, bool) {
	v := Verification{Segment: seg}
	s := seg.PrevDigest
	for k := uint64(1); k <= seg.Gap; k++ {
		if k%checkEvery == 0 && ctx.Err() != nil {
			return v, false
		}
		s = t.Step(s)
		if k < seg.Gap && pred(s) {
			v.Interior = append(v.Interior, ledger.Sample{
				Clock:  seg.PrevClock + k*stages,
				Pipe:   seg.Pipe,
				Digest: s,
			})
		}
	}
	v.Got = s
	v.OK = s == seg.Digest
	return v, true
}
