// Package harness runs scripted searches against the search engine.
//
// A scenario feeds a fixed list of pipe readings into a live search whose
// chains follow a counting transform, then checks what the search made of
// them: which outcomes it reconciled, which lines it logged, which samples it
// rejected and which channels it left waiting for a seed.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: merge_collision
//	description: "Two chains merge and the collision is logged"
//	params: { stages: 1, pipes: 2, bits: 96 }
//	transform:
//	  merges: { 1005: 3 }
//	session: 1700000000
//	samples:
//	  - { clock: 10, pipe: 0, value: 0, trigger: true }
//	  - { clock: 20, pipe: 0, value: 10 }
//	assertions:
//	  - type: outcome_count
//	    kind: collision
//	    count: 1
//	  - type: log_contains
//	    line: "R 20 0 a 0 0"
//
// The counting transform adds one to word 0 of the state, ignoring the
// trigger bits, and leaves the other words zero. A merge sends one value to
// another instead, which is how two chains seeded apart are made to meet.
//
// # Assertion Types
//
//   - outcome_count: exactly N outcomes of a kind (collision, preimage,
//     inconsistent)
//   - log_contains: the log holds a line verbatim
//   - record_count: the log holds exactly N records of one letter (R, H, E,
//     P, S)
//   - rejected: exactly N samples were refused by the ledger
//   - unseeded: exactly N channels wait for a seed when the search closes
//
// # Deterministic Testing
//
// Every scenario runs with a fixed run id and, when it names one, a fixed
// session start, so its log can be compared byte for byte against a golden
// file with RunWithGolden. CheckResume replays a scenario's log into a fresh
// search and checks that resuming neither repeats nor loses an outcome.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/merge_collision.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, err := range result.Errors {
//	        log.Println(err)
//	    }
//	}
package harness
