package swsim

import (
	"encoding/binary"
	"fmt"

	"github.com/aead/chacha20/chacha"
	"github.com/zeebo/blake3"

	"github.com/roach88/collate/internal/digest"
)

// seedRounds is the ChaCha round count used for seed streams.
const seedRounds = 8

// KeyFromSeed expands a numeric seed into a stream key.
func KeyFromSeed(seed uint64) [32]byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], seed)
	return blake3.Sum256(b[:])
}

// seedStream produces trigger-marked seed states from a ChaCha key stream.
// Every worker owns one stream, keyed alike and separated by nonce.
type seedStream struct {
	c   *chacha.Cipher
	buf [digest.Words * 4]byte
}

func newSeedStream(key [32]byte, worker int) (*seedStream, error) {
	var nonce [8]byte
	binary.LittleEndian.PutUint64(nonce[:], uint64(worker))
	c, err := chacha.NewCipher(nonce[:], key[:], seedRounds)
	if err != nil {
		return nil, fmt.Errorf("seed stream %d: %w", worker, err)
	}
	return &seedStream{c: c}, nil
}

// Next returns the next seed.
func (s *seedStream) Next() digest.State {
	clear(s.buf[:])
	s.c.XORKeyStream(s.buf[:], s.buf[:])
	return digest.State{
		binary.LittleEndian.Uint32(s.buf[0:]) | digest.TriggerMask,
		binary.LittleEndian.Uint32(s.buf[4:]),
		binary.LittleEndian.Uint32(s.buf[8:]),
	}
}
