package harness

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/collate/internal/session"
)

// ResumeError is returned when a resumed search disagrees with the live one.
type ResumeError struct {
	Scenario string
	Stage    string
	Expected []string
	Actual   []string
}

// Error implements the error interface.
func (e *ResumeError) Error() string {
	return fmt.Sprintf("scenario %q: %s: expected outcomes %q, resumed search logged %q",
		e.Scenario, e.Stage, e.Expected, e.Actual)
}

// CheckResume replays the log of a finished run into fresh searches.
//
// Replaying the whole log must reconcile nothing, since every match already
// has its outcome logged. Replaying the log with the outcome lines removed,
// as if the process died before writing them, must reconcile the same
// outcomes again.
func CheckResume(scenario *Scenario, result *Result) error {
	lines := result.Lines()

	logged, err := resume(scenario, result.Log)
	if err != nil {
		return err
	}
	if len(logged) > 0 {
		return &ResumeError{Scenario: scenario.Name, Stage: "full log", Actual: logged}
	}

	var kept strings.Builder
	var outcomes []string
	for _, line := range lines {
		if isOutcomeLine(line) {
			outcomes = append(outcomes, line)
			continue
		}
		kept.WriteString(line)
		kept.WriteByte('\n')
	}

	logged, err = resume(scenario, kept.String())
	if err != nil {
		return err
	}
	slices.Sort(outcomes)
	slices.Sort(logged)
	if !slices.Equal(outcomes, logged) {
		return &ResumeError{Scenario: scenario.Name, Stage: "truncated log", Expected: outcomes, Actual: logged}
	}
	return nil
}

// resume replays log into a fresh search, catches up and returns every line
// the catch-up appended.
func resume(scenario *Scenario, log string) ([]string, error) {
	ctx := context.Background()
	var buf bytes.Buffer

	search := newSearch(scenario, &buf, nil)
	search.Start(ctx)
	if _, err := search.Replay(ctx, session.NewReader(strings.NewReader(log))); err != nil {
		_ = search.Close()
		return nil, fmt.Errorf("replay: %w", err)
	}
	if _, err := search.CatchUp(ctx); err != nil {
		_ = search.Close()
		return nil, fmt.Errorf("catch up: %w", err)
	}
	if err := search.Close(); err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	return splitLines(buf.String()), nil
}

func isOutcomeLine(line string) bool {
	return strings.HasPrefix(line, "H ") || strings.HasPrefix(line, "E ") || strings.HasPrefix(line, "P ")
}
