package harness

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/collate/internal/chain"
	"github.com/roach88/collate/internal/digest"
	"github.com/roach88/collate/internal/reconcile"
	"github.com/roach88/collate/internal/session"
)

func loadScenario(t *testing.T, name string) *Scenario {
	t.Helper()
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return s
}

func TestRun_Scenarios(t *testing.T) {
	for _, name := range []string{"merge_collision", "preimage", "inconsistent", "distinct_chains"} {
		t.Run(name, func(t *testing.T) {
			result, err := Run(loadScenario(t, name))
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRun_MergeCollisionGolden(t *testing.T) {
	scenario := loadScenario(t, "merge_collision")

	result, err := RunWithGolden(t, scenario)
	require.NoError(t, err)

	require.Len(t, result.Outcomes, 1)
	out := result.Outcomes[0]
	assert.Equal(t, reconcile.Collision, out.Result.Kind)
	assert.Equal(t, session.Pair{ClockA: 20, PipeA: 0, ClockB: 23, PipeB: 1}, out.Pair)
	assert.Equal(t, 1, result.Stats.Collisions)
}

func TestRun_InconsistentRecordsWhereTheChainLeads(t *testing.T) {
	scenario := loadScenario(t, "inconsistent")

	// Without merges the chain seeded at 1000 is at 1010 ten steps later.
	want := chain.Advance(scenario.Transform.Build(), scenario.Samples[2].Sample().Digest, 10)
	require.Equal(t, digest.State{1010, 0, 0}, want)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Contains(t, result.Lines(), fmt.Sprintf("E 20 1 20 0 %s 0000000a 00000000 00000000", want))
}

func TestRun_Deterministic(t *testing.T) {
	scenario := loadScenario(t, "merge_collision")

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	assert.Equal(t, first.Log, second.Log)
}

func TestRun_FailedAssertionIsReported(t *testing.T) {
	scenario := loadScenario(t, "distinct_chains")
	scenario.Assertions = []Assertion{
		{Type: AssertOutcomeCount, Kind: "collision", Count: 1},
		{Type: AssertLogContains, Line: "H 1 0 2 1"},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "Expected: 1 collision outcomes")
	assert.Contains(t, result.Errors[0], "Actual: 0 collision outcomes")
	assert.Contains(t, result.Errors[1], "not found in log")
	assert.Contains(t, result.Errors[1], "[1] R 10 0 c0000000 0 0")
}

func TestRun_StopsAtMaxHits(t *testing.T) {
	scenario := loadScenario(t, "merge_collision")
	scenario.MaxHits = 1

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestCheckResume_Scenarios(t *testing.T) {
	for _, name := range []string{"merge_collision", "preimage", "inconsistent", "distinct_chains"} {
		t.Run(name, func(t *testing.T) {
			scenario := loadScenario(t, name)
			result, err := Run(scenario)
			require.NoError(t, err)
			assert.NoError(t, CheckResume(scenario, result))
		})
	}
}

func TestCheckResume_DetectsLostOutcome(t *testing.T) {
	scenario := loadScenario(t, "merge_collision")
	result, err := Run(scenario)
	require.NoError(t, err)

	// An outcome the live run never logged looks lost to the resumed one.
	result.Log += "H 99 0 98 1 1 00000001 00000000 00000000 00000002 00000000 00000000 00000003 00000000 00000000 00000004 00000000 00000000\n"

	err = CheckResume(scenario, result)
	var resumeErr *ResumeError
	require.ErrorAs(t, err, &resumeErr)
	assert.Equal(t, "truncated log", resumeErr.Stage)
}

func TestResult_AddError(t *testing.T) {
	r := NewResult()
	assert.True(t, r.Pass)

	r.AddError("boom")
	assert.False(t, r.Pass)
	assert.Equal(t, []string{"boom"}, r.Errors)
}

func TestResult_Lines(t *testing.T) {
	assert.Nil(t, (&Result{}).Lines())
	assert.Equal(t, []string{"a", "b"}, (&Result{Log: "a\nb\n"}).Lines())
}
