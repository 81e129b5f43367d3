package harness

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/roach88/collate/internal/engine"
	"github.com/roach88/collate/internal/session"
	"github.com/roach88/collate/internal/testutil"
)

// outcomeLog collects outcomes from the reconcile writer.
type outcomeLog struct {
	mu       sync.Mutex
	outcomes []engine.Outcome
}

func (o *outcomeLog) hook(out engine.Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, out)
}

func (o *outcomeLog) sorted() []engine.Outcome {
	o.mu.Lock()
	defer o.mu.Unlock()
	outs := slices.Clone(o.outcomes)
	slices.SortFunc(outs, func(a, b engine.Outcome) int {
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		}
		return 0
	})
	return outs
}

// newSearch builds the search a scenario runs against, logging into buf.
func newSearch(scenario *Scenario, buf *bytes.Buffer, hook func(engine.Outcome)) *engine.Search {
	workers := scenario.Workers
	if workers == 0 {
		workers = 2
	}
	opts := []engine.Option{
		engine.WithLog(session.NewWriter(buf)),
		engine.WithRunIDGenerator(testutil.NewFixedRunID(scenario.RunID)),
		engine.WithWorkers(workers),
		engine.WithMaxHits(scenario.MaxHits),
	}
	if hook != nil {
		opts = append(opts, engine.WithOutcomeHook(hook))
	}
	params := engine.Params{
		Stages: scenario.Params.Stages,
		Pipes:  scenario.Params.Pipes,
		Bits:   scenario.Params.Bits,
	}
	return engine.New(scenario.Transform.Build(), params, opts...)
}

// Run executes a scenario and returns the result.
//
// Execution flow:
// 1. Start a fresh search on an in-memory log
// 2. Log the session start, if the scenario names one
// 3. Ingest every sample in order, counting rejections
// 4. Close the search, which waits for every match to be persisted
// 5. Evaluate the assertions
//
// The error is non-nil only if the search itself failed; failed assertions
// are reported in the result.
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()
	var buf bytes.Buffer
	outs := &outcomeLog{}

	search := newSearch(scenario, &buf, outs.hook)
	search.Start(ctx)

	if scenario.Session != 0 {
		clock := testutil.NewStepClock(time.Unix(scenario.Session, 0), 0)
		if err := search.BeginSession(ctx, clock.Now()); err != nil {
			_ = search.Close()
			return nil, fmt.Errorf("begin session: %w", err)
		}
	}

	result := NewResult()
	for _, step := range scenario.Samples {
		if err := search.Ingest(step.Sample()); err != nil {
			result.Rejected++
		}
	}

	if err := search.Close(); err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	result.Log = buf.String()
	result.Outcomes = outs.sorted()
	result.Unseeded = search.Unseeded()
	result.Stats = search.Stats()

	for _, assertion := range scenario.Assertions {
		if err := evaluateAssertion(result, assertion); err != nil {
			result.AddError(err.Error())
		}
	}

	return result, nil
}
