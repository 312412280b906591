package harness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValuesEqual(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		actual   any
		expected any
		want     bool
	}{
		{"int64 vs int", int64(120), 120, true},
		{"int64 vs whole float", int64(120), 120.0, true},
		{"int64 vs fractional float", int64(120), 120.5, false},
		{"int64 vs string", int64(120), "120", false},
		{"bool", true, true, true},
		{"bool vs int", true, 1, false},
		{"string", "2026-03-14", "2026-03-14", true},
		{"time vs RFC 3339", at, "2026-03-14T09:00:00Z", true},
		{"time vs other time", at, "2026-03-14T10:00:00Z", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, valuesEqual(tt.actual, tt.expected))
		})
	}
}

func TestMatchFields_SubsetAndAbsent(t *testing.T) {
	doc := map[string]any{"fluid_sessions": int64(1), "fluid_done": true, "extra": int64(9)}

	assert.Empty(t, matchFields(doc, map[string]any{"fluid_sessions": 1, "missing": nil}))
	assert.Equal(t, "fluid_done=true (want absent)", matchFields(doc, map[string]any{"fluid_done": nil}))
	assert.Equal(t, "a missing, fluid_sessions=1 (want 2)",
		matchFields(doc, map[string]any{"fluid_sessions": 2, "a": 1}))
}

func TestAssertionError_ErrorFormat(t *testing.T) {
	err := &AssertionError{
		Type:     AssertDaily,
		Expected: "{fluid_sessions=2}",
		Actual:   "fluid_sessions=1 (want 2)",
		Trace: []TraceEvent{
			{Step: 0, Op: "log", ID: "s-1"},
			{Step: 1, Op: "remove", ID: "s-2", Error: ExpectValidation},
		},
	}

	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: daily")
	assert.Contains(t, msg, "Expected: {fluid_sessions=2}")
	assert.Contains(t, msg, "Actual: fluid_sessions=1 (want 2)")
	assert.Contains(t, msg, "[1] log s-1")
	assert.Contains(t, msg, "[2] remove s-2 (validation)")
}

func TestEvaluateAssertions_WithoutContext(t *testing.T) {
	errs := EvaluateAssertions(NewResult(), []Assertion{{Type: AssertNoDrift}}, nil)
	assert.Len(t, errs, 1)
}
