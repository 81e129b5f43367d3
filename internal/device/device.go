// Package device drives search pipelines that report distinguished points
// through a polled result ring, the way the FPGA search hardware does.
//
// Each pipe interleaves Stages independent chains and keeps its most recent
// results in a ring of Slots entries. A result carries the 48-bit cycle
// counter at which it was produced; the poller turns that into a logical
// clock and hands the sample to the search.
package device

import (
	"context"

	"github.com/roach88/collate/internal/digest"
)

// Slots is the depth of every pipe's result ring.
const Slots = 256

const (
	// DefaultStages is the pipeline depth of the reference hardware.
	DefaultStages = 195

	// DefaultFreq is the pipeline clock in Hz.
	DefaultFreq = 150_000_000
)

// Device is a set of search pipelines.
//
// Clocks read from a device are raw counter values and wrap at 2^48.
// Inject takes the logical clock at which the seed enters its stage; devices
// only look at the low 48 bits.
type Device interface {
	ReadClock(ctx context.Context) (uint64, error)
	ReadPoint(ctx context.Context, pipe, slot int) (raw uint64, d digest.State, err error)
	Inject(ctx context.Context, pipe int, clock uint64, seed digest.State) error
}

// Identifier is implemented by devices that report an id code.
type Identifier interface {
	ID(ctx context.Context) (uint32, error)
}
