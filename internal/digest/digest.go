package digest

import (
	"errors"
	"fmt"
	"math/bits"
	"strconv"
)

// Words is the number of machine words in a State.
const Words = 3

// WordBits is the width of one State word.
const WordBits = 32

// Width is the total number of bits carried by a State.
const Width = Words * WordBits

// TriggerBits is the number of high-order bits of word 0 reserved for the
// trigger marker.
const TriggerBits = 2

// TriggerMask selects the trigger marker in word 0. A state with any of these
// bits set is the first point of a freshly seeded chain.
const TriggerMask uint32 = ((1 << TriggerBits) - 1) << (WordBits - TriggerBits)

// ErrMalformed is returned when a textual state cannot be parsed.
var ErrMalformed = errors.New("malformed digest")

// State is a truncated chain state. It is a value type: copies never alias.
type State [Words]uint32

// IsTrigger reports whether s carries the trigger marker.
func IsTrigger(s State) bool {
	return s[0]&TriggerMask != 0
}

// wordMask returns the mask of prefix bits that fall inside word w for a
// prefix of n bits.
func wordMask(w int, n uint) uint32 {
	lo := uint(w) * WordBits
	switch {
	case n >= lo+WordBits:
		return ^uint32(0)
	case n <= lo:
		return 0
	default:
		return (uint32(1) << (n - lo)) - 1
	}
}

// MaskEqual reports whether a and b agree on their first n bits. Words wholly
// inside the prefix compare exactly, the boundary word compares under a mask,
// and words past the prefix are ignored. n larger than Width behaves as full
// equality; n == 0 is always true.
func MaskEqual(a, b State, n uint) bool {
	for w := 0; w < Words; w++ {
		m := wordMask(w, n)
		if m == 0 {
			break
		}
		if (a[w]^b[w])&m != 0 {
			return false
		}
	}
	return true
}

// Trim clears every bit of s outside the first n bits.
func Trim(s State, n uint) State {
	for w := 0; w < Words; w++ {
		s[w] &= wordMask(w, n)
	}
	return s
}

// AgreeBits counts the leading bits on which two hash outputs agree, reading
// each byte from its most significant bit. The shorter input bounds the count.
func AgreeBits(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if x := a[i] ^ b[i]; x != 0 {
			return i*8 + bits.LeadingZeros8(x)
		}
	}
	return n * 8
}

// String renders the state as three zero-padded hex words.
func (s State) String() string {
	return fmt.Sprintf("%08x %08x %08x", s[0], s[1], s[2])
}

// Parse reads a state from exactly Words hex fields.
func Parse(fields []string) (State, error) {
	var s State
	if len(fields) != Words {
		return s, fmt.Errorf("%w: want %d words, got %d", ErrMalformed, Words, len(fields))
	}
	for i, f := range fields {
		v, err := strconv.ParseUint(f, 16, 32)
		if err != nil {
			return s, fmt.Errorf("%w: word %d %q: %v", ErrMalformed, i, f, err)
		}
		s[i] = uint32(v)
	}
	return s, nil
}
