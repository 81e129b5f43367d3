// Package session reads and writes the search log.
//
// The log is a line-oriented, append-only text file. Each line starts with a
// single record character:
//
//	R clock pipe w0 w1 w2                              published or trigger point (%x words)
//	H clockA pipeA clockB pipeB remaining CA NA CB NB  collision (12 %08x words)
//	E clockA pipeA clockB pipeB CA CB                  inconsistent pair (6 %08x words)
//	S unix stages pipes                                start of a live session
//	P clockA pipeA clockB pipeB anchor                 preimage (3 %08x words)
//
// The log is the only persistent state of a search; replaying it rebuilds the
// ledger and the distinguished point table.
package session

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/collate/internal/digest"
)

var (
	// ErrUnknownRecord is returned for a line whose leading character is not
	// a known record kind.
	ErrUnknownRecord = errors.New("unknown record")

	// ErrMalformed is returned for a record with missing or unparsable fields.
	ErrMalformed = errors.New("malformed record")
)

// Kind is the leading character of a log line.
type Kind byte

const (
	KindResult   Kind = 'R'
	KindHit      Kind = 'H'
	KindError    Kind = 'E'
	KindSession  Kind = 'S'
	KindPreimage Kind = 'P'
)

func (k Kind) String() string { return string(rune(k)) }

// Record is one log line.
type Record interface {
	Kind() Kind
	Format() string
}

// Pair identifies a reconciled match by its two points.
type Pair struct {
	ClockA uint64
	PipeA  int
	ClockB uint64
	PipeB  int
}

// Normalize orders the pair so (ClockA, PipeA) <= (ClockB, PipeB).
func (p Pair) Normalize() Pair {
	if p.ClockA > p.ClockB || (p.ClockA == p.ClockB && p.PipeA > p.PipeB) {
		return Pair{ClockA: p.ClockB, PipeA: p.PipeB, ClockB: p.ClockA, PipeB: p.PipeA}
	}
	return p
}

func (p Pair) String() string {
	return fmt.Sprintf("%d %d %d %d", p.ClockA, p.PipeA, p.ClockB, p.PipeB)
}

// Result is a point read from a pipe.
type Result struct {
	Clock  uint64
	Pipe   int
	Digest digest.State
}

func (Result) Kind() Kind { return KindResult }

func (r Result) Format() string {
	return fmt.Sprintf("R %d %d %x %x %x", r.Clock, r.Pipe, r.Digest[0], r.Digest[1], r.Digest[2])
}

// Hit is a confirmed collision. Pre states are the distinct inputs and Post
// states the outputs that agree on the search width.
type Hit struct {
	Pair
	Remaining uint64
	PreA      digest.State
	PostA     digest.State
	PreB      digest.State
	PostB     digest.State
}

func (Hit) Kind() Kind { return KindHit }

func (h Hit) Format() string {
	return fmt.Sprintf("H %s %d %s %s %s %s", h.Pair, h.Remaining, h.PreA, h.PostA, h.PreB, h.PostB)
}

// Error is a pair whose segments did not reproduce. Final states are where
// each side ended after the full window.
type Error struct {
	Pair
	FinalA digest.State
	FinalB digest.State
}

func (Error) Kind() Kind { return KindError }

func (e Error) Format() string {
	return fmt.Sprintf("E %s %s %s", e.Pair, e.FinalA, e.FinalB)
}

// Session marks the start of a live run. Stage and pipe counts must match the
// configuration of every later run on the same log.
type Session struct {
	Unix   int64
	Stages int
	Pipes  int
}

func (Session) Kind() Kind { return KindSession }

func (s Session) Format() string {
	return fmt.Sprintf("S %d %d %d", s.Unix, s.Stages, s.Pipes)
}

// Preimage is a pair whose aligned anchors were already equal.
type Preimage struct {
	Pair
	Anchor digest.State
}

func (Preimage) Kind() Kind { return KindPreimage }

func (p Preimage) Format() string {
	return fmt.Sprintf("P %s %s", p.Pair, p.Anchor)
}

func firstField(line string) string {
	if i := strings.IndexAny(line, " \t"); i >= 0 {
		return line[:i]
	}
	return line
}

// Parse decodes one log line. Leading and trailing white space is ignored.
func Parse(line string) (Record, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, fmt.Errorf("%w: empty line", ErrMalformed)
	}
	if len(line) > 1 && line[1] != ' ' && line[1] != '\t' {
		return nil, fmt.Errorf("%w: no space after record kind in %q", ErrMalformed, firstField(line))
	}
	kind := Kind(line[0])
	f := strings.Fields(line[1:])

	switch kind {
	case KindResult:
		if len(f) != 5 {
			return nil, fieldCount(kind, 5, len(f))
		}
		var r Result
		var err error
		if r.Clock, r.Pipe, err = parsePoint(f[0], f[1]); err != nil {
			return nil, err
		}
		if r.Digest, err = parseState(f[2:5]); err != nil {
			return nil, err
		}
		return r, nil

	case KindHit:
		if len(f) != 17 {
			return nil, fieldCount(kind, 17, len(f))
		}
		var h Hit
		var err error
		if h.Pair, err = parsePair(f[:4]); err != nil {
			return nil, err
		}
		if h.Remaining, err = parseUint(f[4]); err != nil {
			return nil, err
		}
		for i, dst := range []*digest.State{&h.PreA, &h.PostA, &h.PreB, &h.PostB} {
			if *dst, err = parseState(f[5+3*i : 8+3*i]); err != nil {
				return nil, err
			}
		}
		return h, nil

	case KindError:
		if len(f) != 10 {
			return nil, fieldCount(kind, 10, len(f))
		}
		var e Error
		var err error
		if e.Pair, err = parsePair(f[:4]); err != nil {
			return nil, err
		}
		if e.FinalA, err = parseState(f[4:7]); err != nil {
			return nil, err
		}
		if e.FinalB, err = parseState(f[7:10]); err != nil {
			return nil, err
		}
		return e, nil

	case KindSession:
		if len(f) != 3 {
			return nil, fieldCount(kind, 3, len(f))
		}
		unix, err := strconv.ParseInt(f[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: time %q", ErrMalformed, f[0])
		}
		stages, err := parseCount(f[1])
		if err != nil {
			return nil, err
		}
		pipes, err := parseCount(f[2])
		if err != nil {
			return nil, err
		}
		return Session{Unix: unix, Stages: stages, Pipes: pipes}, nil

	case KindPreimage:
		if len(f) != 7 {
			return nil, fieldCount(kind, 7, len(f))
		}
		var p Preimage
		var err error
		if p.Pair, err = parsePair(f[:4]); err != nil {
			return nil, err
		}
		if p.Anchor, err = parseState(f[4:7]); err != nil {
			return nil, err
		}
		return p, nil

	default:
		return nil, fmt.Errorf("%w: leading character %q", ErrUnknownRecord, line[0])
	}
}

func fieldCount(k Kind, want, got int) error {
	return fmt.Errorf("%w: %c record wants %d fields, got %d", ErrMalformed, k, want, got)
}

func parseUint(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a count", ErrMalformed, s)
	}
	return v, nil
}

func parseCount(s string) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%w: %q is not a count", ErrMalformed, s)
	}
	return v, nil
}

func parsePoint(clock, pipe string) (uint64, int, error) {
	c, err := parseUint(clock)
	if err != nil {
		return 0, 0, err
	}
	p, err := parseCount(pipe)
	if err != nil {
		return 0, 0, err
	}
	return c, p, nil
}

func parsePair(f []string) (Pair, error) {
	var p Pair
	var err error
	if p.ClockA, p.PipeA, err = parsePoint(f[0], f[1]); err != nil {
		return p, err
	}
	if p.ClockB, p.PipeB, err = parsePoint(f[2], f[3]); err != nil {
		return p, err
	}
	return p, nil
}

func parseState(f []string) (digest.State, error) {
	s, err := digest.Parse(f)
	if err != nil {
		return s, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return s, nil
}
