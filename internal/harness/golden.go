package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/carelog/internal/ir"
)

// TraceSnapshot captures the complete trace for a scenario execution.
// All fields use canonical JSON serialization for deterministic comparison.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Trace        []TraceEvent `json:"trace"`
}

// toCanonicalMap converts a TraceSnapshot to a map[string]any for canonical JSON serialization.
// This is required because ir.MarshalCanonical only handles primitives, maps and slices.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, event := range s.Trace {
		eventMap := map[string]any{
			"step": event.Step,
			"op":   event.Op,
		}
		if event.ID != "" {
			eventMap["id"] = event.ID
		}
		if event.Error != "" {
			eventMap["error"] = event.Error
		}
		if len(event.Writes) > 0 {
			eventMap["writes"] = event.Writes
		}
		traceList[i] = eventMap
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         traceList,
	}
}

// MarshalTrace returns the canonical JSON snapshot of a result's trace.
func MarshalTrace(scenarioName string, result *Result) ([]byte, error) {
	snapshot := TraceSnapshot{ScenarioName: scenarioName, Trace: result.Trace}
	return ir.MarshalCanonical(snapshot.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can also check Pass; returns an error if
// the scenario could not be executed.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares the given result's trace against a golden file.
// This is useful when you've already run a scenario and want to compare
// the result against a golden file without re-running.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	traceJSON, err := MarshalTrace(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)
	return nil
}
