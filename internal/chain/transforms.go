package chain

import (
	"crypto/md5"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/minio/sha256-simd"
	"github.com/zeebo/blake3"

	"github.com/roach88/collate/internal/digest"
)

// ErrUnknownTransform is returned by ByName for an unsupported name.
var ErrUnknownTransform = errors.New("unknown transform")

// Names lists the transforms accepted by ByName.
var Names = []string{"md5", "sha256", "blake3"}

const hexDigits = "0123456789abcdef"

// hashFunc hashes one message block to a full-width output.
type hashFunc func(msg []byte) []byte

// truncated is a Transform that hashes the hex rendering of the first bits
// of its input and truncates the output back to bits.
//
// The message is the lowercase hex of the state, least significant nibble of
// each word first, covering ceil(bits/4) nibbles with the last nibble masked
// to the bits that remain. This is the block the search hardware feeds to its
// MD5 core.
type truncated struct {
	bits uint
	hash hashFunc
}

func (t truncated) message(s digest.State) []byte {
	nibbles := (t.bits + 3) / 4
	msg := make([]byte, nibbles)
	for i := uint(0); i < nibbles; i++ {
		n := (s[i/8] >> ((i % 8) * 4)) & 0xf
		if i == nibbles-1 && t.bits%4 != 0 {
			n &= (1 << (t.bits % 4)) - 1
		}
		msg[i] = hexDigits[n]
	}
	return msg
}

// Step implements Transform.
func (t truncated) Step(s digest.State) digest.State {
	sum := t.hash(t.message(s))
	var out digest.State
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(sum[i*4:])
	}
	return digest.Trim(out, t.bits)
}

// Sum implements Transform.
func (t truncated) Sum(s digest.State) []byte {
	return t.hash(t.message(s))
}

// MD5 returns the transform used by the search hardware: MD5 over the hex
// rendering of the state, truncated to bits.
func MD5(bits uint) Transform {
	return truncated{bits: clampBits(bits), hash: func(msg []byte) []byte {
		sum := md5.Sum(msg)
		return sum[:]
	}}
}

// SHA256 is the MD5 construction with SHA-256 as the compression function.
func SHA256(bits uint) Transform {
	return truncated{bits: clampBits(bits), hash: func(msg []byte) []byte {
		sum := sha256.Sum256(msg)
		return sum[:]
	}}
}

// BLAKE3 is the MD5 construction with BLAKE3-256 as the compression function.
func BLAKE3(bits uint) Transform {
	return truncated{bits: clampBits(bits), hash: func(msg []byte) []byte {
		sum := blake3.Sum256(msg)
		return sum[:]
	}}
}

// ByName returns the named transform truncated to bits.
func ByName(name string, bits uint) (Transform, error) {
	switch name {
	case "md5":
		return MD5(bits), nil
	case "sha256":
		return SHA256(bits), nil
	case "blake3":
		return BLAKE3(bits), nil
	default:
		return nil, fmt.Errorf("%w: %q (want one of %v)", ErrUnknownTransform, name, Names)
	}
}

func clampBits(bits uint) uint {
	if bits == 0 || bits > digest.Width {
		return digest.Width
	}
	return bits
}
