package harness

import (
	"bytes"
	"fmt"
	"maps"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/collate/internal/chain"
	"github.com/roach88/collate/internal/digest"
	"github.com/roach88/collate/internal/ledger"
)

// Scenario is one scripted search.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Params fixes the topology and search width.
	Params Params `yaml:"params"`

	// Transform describes the chains.
	Transform CountingTransform `yaml:"transform"`

	// Session is the unix time of a session start logged before the first
	// sample. Zero logs no S record.
	Session int64 `yaml:"session,omitempty"`

	// RunID is the fixed run id. If empty, defaults to "test-run-default".
	RunID string `yaml:"run_id,omitempty"`

	// Workers sizes the reconcile pool. Zero means two.
	Workers int `yaml:"workers,omitempty"`

	// MaxHits stops the search after that many collisions. Zero never stops.
	MaxHits int `yaml:"max_hits,omitempty"`

	// Samples are the pipe readings, fed in order.
	Samples []SampleStep `yaml:"samples"`

	// Assertions validate what the search did with them.
	Assertions []Assertion `yaml:"assertions"`
}

// Params is the search shape.
type Params struct {
	Stages int  `yaml:"stages"`
	Pipes  int  `yaml:"pipes"`
	Bits   uint `yaml:"bits"`
}

// CountingTransform steps word 0 of the state upward by one, ignoring the
// trigger bits. Merges overrides the successor of individual values.
type CountingTransform struct {
	Merges map[uint32]uint32 `yaml:"merges,omitempty"`
}

// Build returns the transform as a chain.Transform.
func (c CountingTransform) Build() chain.Transform {
	merges := maps.Clone(c.Merges)
	return chain.Func(func(s digest.State) digest.State {
		v := s[0] &^ digest.TriggerMask
		if next, ok := merges[v]; ok {
			return digest.State{next, 0, 0}
		}
		return digest.State{v + 1, 0, 0}
	})
}

// SampleStep is one pipe reading. Value fills word 0 of the digest; Trigger
// sets the trigger bits on top of it.
type SampleStep struct {
	Clock   uint64 `yaml:"clock"`
	Pipe    int    `yaml:"pipe"`
	Value   uint32 `yaml:"value"`
	Trigger bool   `yaml:"trigger,omitempty"`
}

// Sample converts the step into a ledger sample.
func (s SampleStep) Sample() ledger.Sample {
	d := digest.State{s.Value, 0, 0}
	if s.Trigger {
		d[0] |= digest.TriggerMask
	}
	return ledger.Sample{Clock: s.Clock, Pipe: s.Pipe, Digest: d}
}

// Assertion validates the finished search.
type Assertion struct {
	// Type specifies the assertion type:
	// - "outcome_count": Check N outcomes of Kind were reconciled
	// - "log_contains": Check Line appears in the log
	// - "record_count": Check the log has N records starting with Record
	// - "rejected": Check N samples were refused
	// - "unseeded": Check N channels wait for a seed
	Type string `yaml:"type"`

	// Kind is the outcome kind (used by outcome_count).
	Kind string `yaml:"kind,omitempty"`

	// Line is the expected log line (used by log_contains).
	Line string `yaml:"line,omitempty"`

	// Record is the record letter (used by record_count).
	Record string `yaml:"record,omitempty"`

	// Count is the expected number (used by every type except log_contains).
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertOutcomeCount = "outcome_count"
	AssertLogContains  = "log_contains"
	AssertRecordCount  = "record_count"
	AssertRejected     = "rejected"
	AssertUnseeded     = "unseeded"
)

var (
	outcomeKinds = map[string]bool{"collision": true, "preimage": true, "inconsistent": true}
	recordKinds  = map[string]bool{"R": true, "H": true, "E": true, "P": true, "S": true}
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if s.Params.Stages <= 0 || s.Params.Pipes <= 0 {
		return fmt.Errorf("params: stages and pipes must be positive")
	}

	if s.Params.Bits == 0 || s.Params.Bits > digest.Width {
		return fmt.Errorf("params: bits must be in 1..%d", digest.Width)
	}

	if s.Workers < 0 || s.MaxHits < 0 {
		return fmt.Errorf("workers and max_hits must be non-negative")
	}

	if len(s.Samples) == 0 {
		return fmt.Errorf("samples list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Samples {
		if step.Pipe < 0 || step.Pipe >= s.Params.Pipes {
			return fmt.Errorf("samples[%d]: pipe %d out of range", i, step.Pipe)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	if a.Count < 0 {
		return fmt.Errorf("assertions[%d]: count must be non-negative", index)
	}

	switch a.Type {
	case AssertOutcomeCount:
		if !outcomeKinds[a.Kind] {
			return fmt.Errorf("assertions[%d]: unknown outcome kind %q", index, a.Kind)
		}
	case AssertLogContains:
		if a.Line == "" {
			return fmt.Errorf("assertions[%d]: line is required for log_contains", index)
		}
	case AssertRecordCount:
		if !recordKinds[a.Record] {
			return fmt.Errorf("assertions[%d]: unknown record %q", index, a.Record)
		}
	case AssertRejected, AssertUnseeded:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
