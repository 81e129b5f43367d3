package harness

import (
	"fmt"
	"slices"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes the full log to help debug the failure.
type AssertionError struct {
	Type     string   // Assertion type for categorization
	Expected string   // Human-readable expected outcome
	Actual   string   // Human-readable actual outcome
	Log      []string // Full log for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull log:\n")
	for i, line := range e.Log {
		fmt.Fprintf(&buf, "  [%d] %s\n", i+1, line)
	}

	return buf.String()
}

// evaluateAssertion dispatches to the appropriate assertion function.
func evaluateAssertion(result *Result, assertion Assertion) error {
	switch assertion.Type {
	case AssertOutcomeCount:
		return assertOutcomeCount(result, assertion)
	case AssertLogContains:
		return assertLogContains(result, assertion)
	case AssertRecordCount:
		return assertRecordCount(result, assertion)
	case AssertRejected:
		return assertCount(result, assertion, result.Rejected, "rejected samples")
	case AssertUnseeded:
		return assertCount(result, assertion, len(result.Unseeded), "unseeded channels")
	default:
		return fmt.Errorf("unknown assertion type: %s", assertion.Type)
	}
}

// assertOutcomeCount checks the number of reconciled outcomes of one kind.
func assertOutcomeCount(result *Result, assertion Assertion) error {
	count := 0
	for _, out := range result.Outcomes {
		if out.Result.Kind.String() == assertion.Kind {
			count++
		}
	}
	return assertCount(result, assertion, count, assertion.Kind+" outcomes")
}

// assertLogContains checks that a line appears verbatim in the log.
func assertLogContains(result *Result, assertion Assertion) error {
	lines := result.Lines()
	if slices.Contains(lines, assertion.Line) {
		return nil
	}
	return &AssertionError{
		Type:     AssertLogContains,
		Expected: fmt.Sprintf("line %q", assertion.Line),
		Actual:   "not found in log",
		Log:      lines,
	}
}

// assertRecordCount checks how many records of one letter were logged.
func assertRecordCount(result *Result, assertion Assertion) error {
	count := 0
	for _, line := range result.Lines() {
		if strings.HasPrefix(line, assertion.Record+" ") {
			count++
		}
	}
	return assertCount(result, assertion, count, assertion.Record+" records")
}

func assertCount(result *Result, assertion Assertion, got int, what string) error {
	if got == assertion.Count {
		return nil
	}
	return &AssertionError{
		Type:     assertion.Type,
		Expected: fmt.Sprintf("%d %s", assertion.Count, what),
		Actual:   fmt.Sprintf("%d %s", got, what),
		Log:      result.Lines(),
	}
}
