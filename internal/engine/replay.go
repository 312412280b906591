package engine

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/roach88/carelog/internal/delta"
	"github.com/roach88/carelog/internal/ir"
)

// Replay and Drift
//
// Aggregates are maintained by increments only, so a lost or doubled
// batch leaves them wrong with nothing to correct them. Replay folds a
// subject's full session log through the same deltas and materialization
// the planner uses, which yields the counters the aggregates should hold.
// Comparing those with the stored documents finds drift, and RepairBatch
// assigns the replayed values back. Replaying twice gives the same
// documents, and a repair batch committed twice changes nothing the
// second time.

// Replay returns the counter documents implied by events, keyed by
// document. Monthly documents keep their per-day entries as "name.N"
// fields, the way the store holds them.
func Replay(subjectID string, events []ir.SessionEvent) (map[ir.DocumentKey]map[string]any, error) {
	ordered := slices.Clone(events)
	slices.SortStableFunc(ordered, func(a, b ir.SessionEvent) int {
		return a.OccurredAt.Compare(b.OccurredAt)
	})

	docs := make(map[ir.DocumentKey]map[string]any)
	for _, e := range ordered {
		if e.SubjectID != subjectID {
			continue
		}
		for _, w := range aggregateWrites(subjectID, e.OccurredAt, delta.FromNewEvent(e, false), time.Time{}) {
			ops := w.Fields.Clone()
			delete(ops, ir.FieldUpdatedAt)
			doc := docs[w.Key]
			if doc == nil {
				doc = make(map[string]any)
				docs[w.Key] = doc
			}
			if err := ir.ApplyOps(doc, ops); err != nil {
				return nil, fmt.Errorf("replay %s: %w", e.ID, err)
			}
		}
	}
	return docs, nil
}

// Drift is one counter whose stored value differs from its replayed one.
type Drift struct {
	Key      ir.DocumentKey
	Field    string
	Stored   any
	Replayed any
}

// String formats the drift for reports.
func (d Drift) String() string {
	return fmt.Sprintf("%s %s: stored %v, replayed %v", d.Key, d.Field, d.Stored, d.Replayed)
}

// CompareReplay returns every counter of the aggregate kinds whose stored
// value differs from replayed, ordered by key and field. Fields that are
// not counters, such as scores and stamps, are ignored.
func CompareReplay(stored, replayed map[ir.DocumentKey]map[string]any) []Drift {
	keys := make(map[ir.DocumentKey]bool)
	for k := range stored {
		keys[k] = true
	}
	for k := range replayed {
		keys[k] = true
	}
	ordered := slices.SortedFunc(maps.Keys(keys), func(a, b ir.DocumentKey) int {
		return strings.Compare(a.String(), b.String())
	})

	var drifts []Drift
	for _, key := range ordered {
		if !isAggregate(key.Kind) {
			continue
		}
		s, r := stored[key], replayed[key]
		fields := make(map[string]bool)
		for f := range s {
			fields[f] = true
		}
		for f := range r {
			fields[f] = true
		}
		for _, f := range slices.Sorted(maps.Keys(fields)) {
			if !isCounterField(key.Kind, f) {
				continue
			}
			sv, rv := normalizeCounter(s[f]), normalizeCounter(r[f])
			// Flags are only ever raised, so a stored flag the log no
			// longer supports is expected. A flag the log raises but the
			// store lacks is drift.
			if latched[f] && rv != true {
				continue
			}
			if sv != rv {
				drifts = append(drifts, Drift{Key: key, Field: f, Stored: sv, Replayed: rv})
			}
		}
	}
	return drifts
}

// RepairBatch returns one batch assigning the replayed value of every
// drifted counter.
func RepairBatch(subjectID string, drifts []Drift, at time.Time) (ir.Batch, error) {
	byKey := make(map[ir.DocumentKey]ir.FieldOps)
	var order []ir.DocumentKey
	for _, d := range drifts {
		ops, ok := byKey[d.Key]
		if !ok {
			ops = ir.FieldOps{ir.FieldUpdatedAt: ir.Stamp(at)}
			byKey[d.Key] = ops
			order = append(order, d.Key)
		}
		switch v := d.Replayed.(type) {
		case int64:
			ops[d.Field] = ir.Assign{Value: ir.Int(v)}
		case bool:
			ops[d.Field] = ir.Assign{Value: ir.Bool(v)}
		default:
			return ir.Batch{}, fmt.Errorf("repair %s %s: unsupported value %T", d.Key, d.Field, d.Replayed)
		}
	}

	writes := make([]ir.DocumentWrite, 0, len(order))
	for _, key := range order {
		writes = append(writes, ir.DocumentWrite{Key: key, Mode: ir.WriteMerge, Fields: byKey[key], At: at})
	}
	return ir.NewBatch(subjectID, writes...)
}

func isAggregate(kind ir.DocumentKind) bool {
	return kind == ir.DocDaily || kind == ir.DocWeekly || kind == ir.DocMonthly
}

var counterFields = map[string]bool{
	ir.FieldDosesGiven:      true,
	ir.FieldDosesScheduled:  true,
	ir.FieldMissed:          true,
	ir.FieldMedicationDone:  true,
	ir.FieldVolumeGiven:     true,
	ir.FieldFluidSessions:   true,
	ir.FieldFluidScheduled:  true,
	ir.FieldFluidDone:       true,
	ir.FieldSymptomCount:    true,
	ir.FieldSymptomSeverity: true,
}

var latched = map[string]bool{
	ir.FieldMedicationDone: true,
	ir.FieldFluidDone:      true,
}

var monthlyCounterFields = map[string]bool{
	ir.FieldTotalVolumeGiven:  true,
	ir.FieldTotalDosesGiven:   true,
	ir.FieldTotalDosesSched:   true,
	ir.FieldTotalFluidSession: true,
}

func isCounterField(kind ir.DocumentKind, field string) bool {
	if kind != ir.DocMonthly {
		return counterFields[field]
	}
	if monthlyCounterFields[field] {
		return true
	}
	// Goals are assigned from the latest session and are not counters.
	name, _, ok := ir.SplitIndexedField(field)
	return ok && name != ir.FieldDailyVolumeGoal && slices.Contains(ir.MonthlyArrayFields, name)
}

// normalizeCounter maps absent values to their zero so an absent field
// and a zero field compare equal.
func normalizeCounter(v any) any {
	switch x := v.(type) {
	case nil:
		return int64(0)
	case int:
		return int64(x)
	case bool:
		if !x {
			return int64(0)
		}
		return true
	default:
		return v
	}
}
