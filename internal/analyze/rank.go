package analyze

import (
	"math"
	"slices"
)

// Rank fills in LogProb for every segment and sorts the segments from least
// to most likely.
//
// LogProb is the log of the probability that no other chain produced a
// distinguished point while this segment ran, given the distinguished
// point rate. Very negative values flag segments that are suspiciously long
// compared with their neighbours.
func Rank(segs []Segment, cfg Config) {
	rate := 1 / math.Exp2(float64(cfg.DistBits)) / float64(cfg.Stages)
	prob := func(start, end uint64) float64 {
		expect := float64(end-start) * rate
		return math.Log1p(expect) - expect
	}

	slices.SortStableFunc(segs, func(a, b Segment) int {
		return cmpUint(a.Clock, b.Clock)
	})

	channels := cfg.Stages * cfg.Pipes
	seen := make([]bool, channels)
	for i := range segs {
		start, end := segs[i].PrevClock, segs[i].Clock
		clear(seen)
		virgin := channels
		logprob := 0.0

		for j := i - 1; j >= 0 && segs[j].Clock > start; j-- {
			hi := segs[j].Clock
			lo := max(segs[j].PrevClock, start)

			idx := segs[j].Channel.Stage*cfg.Pipes + segs[j].Channel.Pipe
			if !seen[idx] {
				seen[idx] = true
				virgin--
				logprob += prob(hi, end)
			}
			logprob += prob(lo, hi)
		}
		segs[i].LogProb = logprob + float64(virgin)*prob(start, end)
	}

	slices.SortStableFunc(segs, func(a, b Segment) int {
		switch {
		case a.LogProb < b.LogProb:
			return -1
		case a.LogProb > b.LogProb:
			return 1
		default:
			return 0
		}
	})
}

func cmpUint(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
