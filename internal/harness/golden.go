package harness

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// Snapshot is what a golden file pins: the step trace and the final
// ledger. Run ids and timestamps are left out; record ids are
// deterministic.
type Snapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Trace        []TraceEvent `json:"trace"`
	Ledger       []LedgerRow  `json:"ledger"`
}

// MarshalSnapshot renders a result the way golden files store it.
func MarshalSnapshot(name string, r *Result) ([]byte, error) {
	data, err := json.MarshalIndent(Snapshot{
		ScenarioName: name,
		Trace:        r.Trace,
		Ledger:       r.Ledger,
	}, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, s *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), s)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, s.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, name string, r *Result) error {
	t.Helper()

	data, err := MarshalSnapshot(name, r)
	if err != nil {
		return err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}
