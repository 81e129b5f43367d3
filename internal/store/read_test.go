package store

import (
	"context"
	"testing"

	"github.com/roach88/collate/internal/digest"
	"github.com/roach88/collate/internal/session"
)

func seedOutcomes(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	writes := []struct {
		run string
		rec session.Record
	}{
		{"run-1", createTestHit(100, 0, 90, 1, 3)},
		{"run-1", session.Error{Pair: session.Pair{ClockA: 200, ClockB: 150}}},
		{"run-2", createTestHit(300, 1, 250, 0, 7)},
		{"run-2", session.Preimage{Pair: session.Pair{ClockA: 400, ClockB: 350}, Anchor: digest.State{1, 2, 3}}},
	}
	for _, w := range writes {
		if err := s.Write(ctx, w.run, w.rec); err != nil {
			t.Fatalf("Write() failed: %v", err)
		}
	}
}

func TestListOutcomes_Filters(t *testing.T) {
	s := createTestStore(t)
	seedOutcomes(t, s)
	ctx := context.Background()

	tests := []struct {
		name   string
		filter Filter
		want   []int64
	}{
		{"all", Filter{}, []int64{1, 2, 3, 4}},
		{"hits", Filter{Kind: session.KindHit}, []int64{1, 3}},
		{"run", Filter{RunID: "run-2"}, []int64{3, 4}},
		{"kind and run", Filter{Kind: session.KindHit, RunID: "run-2"}, []int64{3}},
		{"limit", Filter{Limit: 2}, []int64{1, 2}},
		{"none", Filter{Kind: session.KindError, RunID: "run-2"}, []int64{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListOutcomes(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListOutcomes() failed: %v", err)
			}
			if got == nil {
				t.Fatal("ListOutcomes() returned nil, want empty slice")
			}
			seqs := make([]int64, len(got))
			for i, o := range got {
				seqs[i] = o.Seq
			}
			if len(seqs) != len(tt.want) {
				t.Fatalf("seqs = %v, want %v", seqs, tt.want)
			}
			for i := range seqs {
				if seqs[i] != tt.want[i] {
					t.Errorf("seqs = %v, want %v", seqs, tt.want)
					break
				}
			}
		})
	}
}

func TestCountOutcomes(t *testing.T) {
	s := createTestStore(t)
	seedOutcomes(t, s)

	counts, err := s.CountOutcomes(context.Background())
	if err != nil {
		t.Fatalf("CountOutcomes() failed: %v", err)
	}
	want := map[session.Kind]int{session.KindHit: 2, session.KindError: 1, session.KindPreimage: 1}
	for k, n := range want {
		if counts[k] != n {
			t.Errorf("counts[%c] = %d, want %d", k, counts[k], n)
		}
	}
}
