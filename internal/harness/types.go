package harness

import (
	"strings"

	"github.com/roach88/collate/internal/engine"
	"github.com/roach88/collate/internal/ledger"
)

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if all assertions match.
	Pass bool `json:"pass"`

	// Log is the search log exactly as written.
	Log string `json:"log"`

	// Outcomes are the reconciled pairs in the order they were found.
	Outcomes []engine.Outcome `json:"-"`

	// Rejected counts samples the ledger refused.
	Rejected int `json:"rejected"`

	// Unseeded lists the channels waiting for a seed after the search closed.
	Unseeded []ledger.ChannelID `json:"unseeded,omitempty"`

	// Stats is the search's final snapshot.
	Stats engine.Stats `json:"stats"`

	// Errors contains failed assertion messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Lines returns the log split into records, without the final newline.
func (r *Result) Lines() []string {
	return splitLines(r.Log)
}

func splitLines(log string) []string {
	log = strings.TrimSuffix(log, "\n")
	if log == "" {
		return nil
	}
	return strings.Split(log, "\n")
}
