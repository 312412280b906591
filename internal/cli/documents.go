package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/roach88/carelog/internal/aggregate"
	"github.com/roach88/carelog/internal/ir"
)

// decodeDocuments reads a JSON array of documents or a single document.
// Whole numbers become int64 so schema checks see integers.
func decodeDocuments(data []byte) ([]map[string]any, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("empty input")
	}

	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode JSON: %w", err)
	}

	var docs []map[string]any
	switch v := normalizeJSON(raw).(type) {
	case map[string]any:
		docs = append(docs, v)
	case []any:
		for i, e := range v {
			doc, ok := e.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("document %d: expected an object, got %T", i, e)
			}
			docs = append(docs, doc)
		}
	default:
		return nil, fmt.Errorf("expected an object or an array of objects, got %T", v)
	}
	return docs, nil
}

// normalizeJSON turns json.Number into int64 when whole and float64
// otherwise, recursively.
func normalizeJSON(v any) any {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n
		}
		f, err := x.Float64()
		if err != nil {
			return x.String()
		}
		if f == math.Trunc(f) && math.Abs(f) < math.MaxInt64 {
			return int64(f)
		}
		return f
	case map[string]any:
		for k, e := range x {
			x[k] = normalizeJSON(e)
		}
		return x
	case []any:
		for i, e := range x {
			x[i] = normalizeJSON(e)
		}
		return x
	default:
		return v
	}
}

// documentKind infers the aggregate kind of an external document from
// its key field.
func documentKind(doc map[string]any) (ir.DocumentKind, error) {
	has := func(field string) bool {
		_, ok := doc[field]
		return ok
	}
	switch {
	case has(ir.FieldMonth) || has(aggregate.FieldMonthStart):
		return ir.DocMonthly, nil
	case has(ir.FieldWeek):
		return ir.DocWeekly, nil
	case has(ir.FieldDate):
		return ir.DocDaily, nil
	default:
		return "", fmt.Errorf("no %s, %s or %s field", ir.FieldDate, ir.FieldWeek, ir.FieldMonth)
	}
}

// repaired is an external document after repair.
type repaired struct {
	Key      ir.DocumentKey
	Document map[string]any
	Repairs  []aggregate.Repair
}

// repairDocument builds the aggregate of kind from doc, repairing what is
// out of range.
func repairDocument(kind ir.DocumentKind, doc map[string]any, loc *time.Location, asOf time.Time) (repaired, error) {
	switch kind {
	case ir.DocDaily:
		d, repairs, err := aggregate.DailyFromExternal(doc, loc)
		if err != nil {
			return repaired{}, err
		}
		return repaired{Key: d.Key(), Document: d.Document(), Repairs: repairs}, nil
	case ir.DocWeekly:
		w, repairs, err := aggregate.WeeklyFromExternal(doc)
		if err != nil {
			return repaired{}, err
		}
		return repaired{Key: w.Key(), Document: w.Document(), Repairs: repairs}, nil
	case ir.DocMonthly:
		m, repairs, err := aggregate.MonthlyFromExternal(doc, loc, asOf)
		if err != nil {
			return repaired{}, err
		}
		return repaired{Key: m.Key(), Document: m.Document(), Repairs: repairs}, nil
	default:
		return repaired{}, fmt.Errorf("unsupported document kind %q", kind)
	}
}

// externalDocument turns a stored document into the external shape the
// schema describes: key fields as strings, arrays as lists and times as
// Unix milliseconds.
func externalDocument(key ir.DocumentKey, stored map[string]any, loc *time.Location) (map[string]any, error) {
	doc := stored
	if key.Kind == ir.DocMonthly {
		start, err := ir.ParseMonthKey(key.ID, loc)
		if err != nil {
			return nil, err
		}
		doc = ir.ExpandIndexed(stored, ir.DaysInMonth(start.Year(), start.Month()))
	}

	out := make(map[string]any, len(doc)+2)
	for k, v := range doc {
		if t, ok := v.(time.Time); ok {
			out[k] = t.UnixMilli()
			continue
		}
		out[k] = v
	}
	out[ir.FieldSubjectID] = key.SubjectID
	switch key.Kind {
	case ir.DocDaily:
		out[ir.FieldDate] = key.ID
	case ir.DocWeekly:
		out[ir.FieldWeek] = key.ID
	case ir.DocMonthly:
		out[ir.FieldMonth] = key.ID
	}
	return out, nil
}
