package testutil

// FixedRunID names every search run the same.
//
// This enables deterministic test execution and golden snapshot comparison:
// the same scenario run twice with the same FixedRunID produces
// byte-identical logs and outcome rows.
//
// Unlike engine.FixedGenerator, which hands out a list of ids once each,
// this generator never runs out, so a test may build as many searches as it
// likes.
//
// Thread-safety: FixedRunID is stateless and safe for concurrent use.
type FixedRunID struct {
	id string
}

// NewFixedRunID creates a generator returning id. An empty id becomes
// "test-run-default".
func NewFixedRunID(id string) *FixedRunID {
	if id == "" {
		id = "test-run-default"
	}
	return &FixedRunID{id: id}
}

// Generate returns the fixed run id.
//
// Implements engine.RunIDGenerator.
func (g *FixedRunID) Generate() string {
	return g.id
}
