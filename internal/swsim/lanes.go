package swsim

import "golang.org/x/sys/cpu"

// laneWidth is the number of channels a farm worker advances per batch
// between cancellation checks. Wider vector units get wider batches.
var laneWidth = featureWidth()

func featureWidth() int {
	switch {
	case cpu.X86.HasAVX512F:
		return 16
	case cpu.X86.HasAVX2, cpu.ARM64.HasASIMD:
		return 8
	default:
		return 4
	}
}
