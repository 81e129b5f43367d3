package session

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/collate/internal/digest"
)

var sampleRecords = []Record{
	Session{Unix: 1700000000, Stages: 5, Pipes: 2},
	Result{Clock: 1000, Pipe: 1, Digest: digest.State{0xc0000000, 0x1234, 0x5678}},
	Result{Clock: 1025, Pipe: 1, Digest: digest.State{0x1a2b, 0, 0xdeadbeef}},
	Hit{
		Pair:      Pair{ClockA: 1025, PipeA: 1, ClockB: 2050, PipeB: 0},
		Remaining: 8,
		PreA:      digest.State{1, 2, 3},
		PostA:     digest.State{0x00400000, 0xabcdef01, 0},
		PreB:      digest.State{4, 5, 6},
		PostB:     digest.State{0x00400000, 0xabcdef01, 0x10},
	},
	Error{
		Pair:   Pair{ClockA: 3000, PipeA: 0, ClockB: 3100, PipeB: 1},
		FinalA: digest.State{0xffffffff, 0, 1},
		FinalB: digest.State{0x12, 0x34, 0x56},
	},
	Preimage{
		Pair:   Pair{ClockA: 10, PipeA: 0, ClockB: 20, PipeB: 1},
		Anchor: digest.State{7, 8, 9},
	},
}

func TestWriter_Golden(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	for _, rec := range sampleRecords {
		require.NoError(t, w.Write(rec))
	}
	assert.Equal(t, len(sampleRecords), w.Lines())

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "records", buf.Bytes())
}

func TestReadAll_DecodesWhatWriterWrote(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	for _, rec := range sampleRecords {
		require.NoError(t, w.Write(rec))
	}

	got, diags, err := ReadAll(&buf)
	require.NoError(t, err)
	assert.Empty(t, diags)
	assert.Equal(t, sampleRecords, got)
}

func TestReader_SkipsBadLines(t *testing.T) {
	input := strings.Join([]string{
		"X something else",
		"R 1 2 3",
		"",
		"R 5 0 1 2 3",
		"H 1 0 2 0 1 zz 0 0 0 0 0 0 0 0 0 0 0",
		"S 100 5",
		"  E 1 0 2 1 1 2 3 4 5 6  ",
	}, "\n")

	rd := NewReader(strings.NewReader(input))
	recs, diags, err := ReadAll(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, Result{Clock: 5, Pipe: 0, Digest: digest.State{1, 2, 3}}, recs[0])
	assert.Equal(t, Error{
		Pair:   Pair{ClockA: 1, PipeA: 0, ClockB: 2, PipeB: 1},
		FinalA: digest.State{1, 2, 3},
		FinalB: digest.State{4, 5, 6},
	}, recs[1])

	require.Len(t, diags, 4)
	assert.Equal(t, []int{1, 2, 5, 6}, []int{diags[0].Line, diags[1].Line, diags[2].Line, diags[3].Line})
	assert.ErrorIs(t, diags[0].Err, ErrUnknownRecord)
	for _, d := range diags[1:] {
		assert.ErrorIs(t, d.Err, ErrMalformed)
	}

	for {
		if _, err := rd.Next(); err != nil {
			break
		}
	}
	assert.Equal(t, 7, rd.Lines())
}

func TestParse_RejectsOversizedWord(t *testing.T) {
	_, err := Parse("R 1 0 100000000 0 0")
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Parse("R 1 -1 0 0 0")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestParse_KindMustStandAlone(t *testing.T) {
	for _, line := range []string{
		"Rxyz 1 2 0 0",
		"R1 0 1 2 3",
		"HS 1 0 2 0 1 0 0 0 0 0 0 0 0 0 0 0 0",
	} {
		_, err := Parse(line)
		assert.ErrorIs(t, err, ErrMalformed, line)
	}

	rec, err := Parse("R\t1 0 1 2 3")
	require.NoError(t, err)
	assert.Equal(t, Result{Clock: 1, Pipe: 0, Digest: digest.State{1, 2, 3}}, rec)
}

func TestPair_Normalize(t *testing.T) {
	p := Pair{ClockA: 20, PipeA: 0, ClockB: 10, PipeB: 1}
	assert.Equal(t, Pair{ClockA: 10, PipeA: 1, ClockB: 20, PipeB: 0}, p.Normalize())

	same := Pair{ClockA: 10, PipeA: 3, ClockB: 10, PipeB: 1}
	assert.Equal(t, Pair{ClockA: 10, PipeA: 1, ClockB: 10, PipeB: 3}, same.Normalize())

	assert.Equal(t, p.Normalize(), p.Normalize().Normalize())
}

func TestHitSet(t *testing.T) {
	s := NewHitSet()
	p := Pair{ClockA: 5, PipeA: 0, ClockB: 9, PipeB: 1}

	assert.True(t, s.Add(p))
	assert.False(t, s.Add(Pair{ClockA: 9, PipeA: 1, ClockB: 5, PipeB: 0}), "reversed pair is the same hit")
	assert.True(t, s.Contains(Pair{ClockA: 9, PipeA: 1, ClockB: 5, PipeB: 0}))
	assert.False(t, s.Contains(Pair{ClockA: 5, PipeA: 1, ClockB: 9, PipeB: 0}))
	assert.Equal(t, 1, s.Len())

	for _, rec := range sampleRecords {
		if pair, ok := PairOf(rec); ok {
			s.Add(pair)
		}
	}
	assert.Equal(t, 4, s.Len())
}

func TestLog_AppendsAfterReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "search.log")

	l, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, l.Write(sampleRecords[0]))
	require.NoError(t, l.Write(sampleRecords[1]))
	require.NoError(t, l.Close())

	l, err = Open(path)
	require.NoError(t, err)
	defer l.Close()

	rd, err := l.Reader()
	require.NoError(t, err)
	var n int
	for {
		if _, err := rd.Next(); err != nil {
			break
		}
		n++
	}
	assert.Equal(t, 2, n)

	require.NoError(t, l.Write(sampleRecords[2]))

	rd, err = l.Reader()
	require.NoError(t, err)
	var recs []Record
	for {
		rec, err := rd.Next()
		if err != nil {
			break
		}
		recs = append(recs, rec)
	}
	assert.Equal(t, sampleRecords[:3], recs)
}

func TestLog_TornTailDoesNotSwallowNextRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "search.log")

	l, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, l.Write(sampleRecords[0]))
	require.NoError(t, l.Write(sampleRecords[1]))
	require.NoError(t, l.Close())

	// Cut the last record short, as a crash mid-write would.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)-6], 0o644))

	l, err = Open(path)
	require.NoError(t, err)
	require.NoError(t, l.Write(sampleRecords[2]))
	require.NoError(t, l.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	recs, diags, err := ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, []Record{sampleRecords[0], sampleRecords[2]}, recs)
	require.Len(t, diags, 1)
	assert.Equal(t, 2, diags[0].Line)
	assert.ErrorIs(t, diags[0].Err, ErrMalformed)

	// Reopening a clean log adds nothing.
	l, err = Open(path)
	require.NoError(t, err)
	require.NoError(t, l.Close())
	again, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(again), sampleRecords[2].Format()+"\n"))
	assert.NotContains(t, string(again), "\n\n")
}

func TestWriter_ConcurrentLinesDoNotInterleave(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				assert.NoError(t, w.Write(Result{Clock: uint64(i*1000 + j), Pipe: i, Digest: digest.State{1, 2, 3}}))
			}
		}(i)
	}
	wg.Wait()

	recs, diags, err := ReadAll(&buf)
	require.NoError(t, err)
	assert.Empty(t, diags)
	assert.Len(t, recs, 400)
}
