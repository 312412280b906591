package harness

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/roach88/carelog/internal/engine"
	"github.com/roach88/carelog/internal/ir"
	"github.com/roach88/carelog/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for i, event := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s %s", i+1, event.Op, event.ID)
		if event.Error != "" {
			fmt.Fprintf(&buf, " (%s)", event.Error)
		}
		buf.WriteByte('\n')
	}
	return buf.String()
}

// AssertionContext is the final state assertions read.
type AssertionContext struct {
	Ctx       context.Context
	Store     *store.Store
	Sessions  *engine.Sessions
	SubjectID string
	Now       time.Time
	Batches   int
}

// EvaluateAssertions checks every assertion and returns the failure
// messages, in assertion order.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(actx, a); err != nil {
			err.Trace = result.Trace
			errs = append(errs, fmt.Sprintf("assertions[%d]: %s", i, err.Error()))
		}
	}
	return errs
}

func evaluate(actx *AssertionContext, a Assertion) *AssertionError {
	if actx == nil {
		return &AssertionError{Type: a.Type, Expected: "assertion context", Actual: "none"}
	}
	switch a.Type {
	case AssertDaily, AssertWeekly:
		return assertDocument(actx, a)
	case AssertMonthly:
		return assertMonthly(actx, a)
	case AssertToday:
		return assertToday(actx, a)
	case AssertLoggedNear:
		return assertLoggedNear(actx, a)
	case AssertSessions:
		return assertSessions(actx, a)
	case AssertBatchCount:
		if *a.Count != actx.Batches {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%d committed batches", *a.Count),
				Actual:   fmt.Sprintf("%d committed batches", actx.Batches),
			}
		}
		return nil
	case AssertState:
		if got := actx.Sessions.Snapshot().State.String(); got != a.State {
			return &AssertionError{Type: a.Type, Expected: a.State, Actual: got}
		}
		return nil
	case AssertNoDrift:
		return assertNoDrift(actx)
	default:
		return &AssertionError{Type: a.Type, Expected: "known assertion type", Actual: a.Type}
	}
}

// assertDocument checks a daily or weekly document as stored.
func assertDocument(actx *AssertionContext, a Assertion) *AssertionError {
	day, err := ir.ParseDateKey(a.Date, actx.Now.Location())
	if err != nil {
		return &AssertionError{Type: a.Type, Expected: "valid date", Actual: err.Error()}
	}
	key := ir.DailyKey(actx.SubjectID, day)
	if a.Type == AssertWeekly {
		key = ir.WeeklyKey(actx.SubjectID, day)
	}
	doc, ok, err := actx.Store.FetchDocument(actx.Ctx, key)
	if err != nil {
		return &AssertionError{Type: a.Type, Expected: "readable document", Actual: err.Error()}
	}
	return matchDocument(a, key, doc, ok)
}

// assertMonthly checks the month's aggregate as read back, rollups
// included. Array entries are addressed as "name.N".
func assertMonthly(actx *AssertionContext, a Assertion) *AssertionError {
	month, err := ir.ParseDateKey(a.Date, actx.Now.Location())
	if err != nil {
		month, err = ir.ParseMonthKey(a.Date, actx.Now.Location())
	}
	if err != nil {
		return &AssertionError{Type: a.Type, Expected: "valid date or month", Actual: err.Error()}
	}
	key := ir.MonthlyKey(actx.SubjectID, month)
	m, err := actx.Store.FetchMonthly(actx.Ctx, actx.SubjectID, month, actx.Now)
	if err != nil {
		return &AssertionError{Type: a.Type, Expected: "readable document", Actual: err.Error()}
	}
	if m == nil {
		return matchDocument(a, key, nil, false)
	}
	doc := make(map[string]any)
	for k, v := range m.Document() {
		arr, ok := v.([]any)
		if !ok {
			doc[k] = v
			continue
		}
		for i, e := range arr {
			doc[ir.IndexedField(k, i)] = e
		}
	}
	return matchDocument(a, key, doc, true)
}

func matchDocument(a Assertion, key ir.DocumentKey, doc map[string]any, ok bool) *AssertionError {
	if a.Absent {
		if ok {
			return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%s absent", key), Actual: formatFields(doc)}
		}
		return nil
	}
	if !ok {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%s %s", key, formatFields(a.Expect)), Actual: "no document"}
	}
	if mismatch := matchFields(doc, a.Expect); mismatch != "" {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%s %s", key, formatFields(a.Expect)), Actual: mismatch}
	}
	return nil
}

// assertToday checks the controller's day cache. Fields are
// fluid_sessions, fluid_volume, date, and "<name>.sessions" or
// "<name>.given" per named treatment.
func assertToday(actx *AssertionContext, a Assertion) *AssertionError {
	today := actx.Sessions.Today()
	doc := map[string]any{
		"date":           today.DateKey(),
		"fluid_sessions": int64(today.FluidSessions),
		"fluid_volume":   int64(math.Round(today.FluidVolume)),
	}
	for name, tally := range today.Treatments {
		doc[name+".sessions"] = int64(tally.Sessions)
		doc[name+".given"] = int64(math.Round(tally.Given))
	}
	if mismatch := matchFields(doc, a.Expect); mismatch != "" {
		return &AssertionError{Type: a.Type, Expected: formatFields(a.Expect), Actual: mismatch}
	}
	return nil
}

func assertLoggedNear(actx *AssertionContext, a Assertion) *AssertionError {
	at, err := resolveTime(a.At, actx.Now)
	if err != nil {
		return &AssertionError{Type: a.Type, Expected: "valid at", Actual: err.Error()}
	}
	var got bool
	if a.Tolerance == "" {
		got = actx.Sessions.HasLoggedNear(a.Name, at)
	} else {
		tol, err := time.ParseDuration(a.Tolerance)
		if err != nil {
			return &AssertionError{Type: a.Type, Expected: "valid tolerance", Actual: err.Error()}
		}
		got = actx.Sessions.HasLoggedWithin(a.Name, at, tol)
	}
	want := a.Want == nil || *a.Want
	if got != want {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("logged near %s at %s = %t", a.Name, at.Format(time.RFC3339), want),
			Actual:   fmt.Sprintf("%t", got),
		}
	}
	return nil
}

func assertSessions(actx *AssertionContext, a Assertion) *AssertionError {
	items := actx.Sessions.Snapshot().Items
	ids := make([]string, len(items))
	for i, e := range items {
		ids[i] = e.ID
	}
	if !slices.Equal(ids, a.IDs) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%v", a.IDs),
			Actual:   fmt.Sprintf("%v", ids),
		}
	}
	return nil
}

// assertNoDrift replays the stored sessions and compares the result with
// the stored aggregates.
func assertNoDrift(actx *AssertionContext) *AssertionError {
	events, err := actx.Store.FetchRecentSessions(actx.Ctx, actx.SubjectID, 0, nil)
	if err != nil {
		return &AssertionError{Type: AssertNoDrift, Expected: "readable sessions", Actual: err.Error()}
	}
	replayed, err := engine.Replay(actx.SubjectID, events)
	if err != nil {
		return &AssertionError{Type: AssertNoDrift, Expected: "replayable sessions", Actual: err.Error()}
	}
	stored, err := actx.Store.Aggregates(actx.Ctx, actx.SubjectID)
	if err != nil {
		return &AssertionError{Type: AssertNoDrift, Expected: "readable aggregates", Actual: err.Error()}
	}
	if drifts := engine.CompareReplay(stored, replayed); len(drifts) > 0 {
		lines := make([]string, len(drifts))
		for i, d := range drifts {
			lines[i] = d.String()
		}
		return &AssertionError{Type: AssertNoDrift, Expected: "no drift", Actual: strings.Join(lines, "; ")}
	}
	return nil
}

// matchFields checks expected against actual with subset semantics and
// returns a description of the first mismatches, or "" on a match.
func matchFields(actual, expected map[string]any) string {
	var mismatches []string
	for _, field := range sortedKeys(expected) {
		want := expected[field]
		got, ok := actual[field]
		switch {
		case want == nil && ok:
			mismatches = append(mismatches, fmt.Sprintf("%s=%v (want absent)", field, got))
		case want == nil:
		case !ok:
			mismatches = append(mismatches, fmt.Sprintf("%s missing", field))
		case !valuesEqual(got, want):
			mismatches = append(mismatches, fmt.Sprintf("%s=%v (want %v)", field, got, want))
		}
	}
	return strings.Join(mismatches, ", ")
}

// valuesEqual compares a stored value with a YAML-decoded expectation.
// Numbers compare by integer value; times compare against RFC 3339.
func valuesEqual(actual, expected any) bool {
	if a, ok := asInt(actual); ok {
		e, ok := asInt(expected)
		return ok && a == e
	}
	switch a := actual.(type) {
	case bool:
		e, ok := expected.(bool)
		return ok && a == e
	case string:
		e, ok := expected.(string)
		return ok && a == e
	case time.Time:
		switch e := expected.(type) {
		case time.Time:
			return a.Equal(e)
		case string:
			t, err := time.Parse(time.RFC3339, e)
			return err == nil && a.Equal(t)
		}
	}
	return false
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n == math.Trunc(n) {
			return int64(n), true
		}
	}
	return 0, false
}

func formatFields(m map[string]any) string {
	parts := make([]string, 0, len(m))
	for _, k := range sortedKeys(m) {
		parts = append(parts, fmt.Sprintf("%s=%v", k, m[k]))
	}
	return "{" + strings.Join(parts, " ") + "}"
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
