package aggregate

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/roach88/carelog/internal/ir"
)

// Entry bounds for monthly per-day arrays.
const (
	MaxVolumeEntry  = ir.MaxFluidVolume
	MaxDoseEntry    = 10
	MaxSessionEntry = 10
)

// RepairReason names why an external value was changed on the way in.
type RepairReason string

const (
	ReasonPadded     RepairReason = "padded"
	ReasonTruncated  RepairReason = "truncated"
	ReasonClamped    RepairReason = "clamped"
	ReasonInvalid    RepairReason = "invalid"
	ReasonFlagged    RepairReason = "flagged"
	ReasonRecomputed RepairReason = "recomputed"
)

// Repair records one change made while reading an external document.
// It is a warning for logs and metrics, never an error.
type Repair struct {
	Kind   ir.DocumentKind `json:"kind"`
	Field  string          `json:"field"`
	Reason RepairReason    `json:"reason"`
	Index  int             `json:"index"` // -1 for scalar fields
	Detail string          `json:"detail"`
}

func (r Repair) String() string {
	if r.Index >= 0 {
		return fmt.Sprintf("%s.%s[%d] %s: %s", r.Kind, r.Field, r.Index, r.Reason, r.Detail)
	}
	return fmt.Sprintf("%s.%s %s: %s", r.Kind, r.Field, r.Reason, r.Detail)
}

// repairLog accumulates repairs for one document kind.
type repairLog struct {
	kind    ir.DocumentKind
	repairs []Repair
}

func (l *repairLog) add(field string, idx int, reason RepairReason, format string, args ...any) {
	l.repairs = append(l.repairs, Repair{
		Kind:   l.kind,
		Field:  field,
		Reason: reason,
		Index:  idx,
		Detail: fmt.Sprintf(format, args...),
	})
}

// count reads a non-negative scalar counter, clamping below at zero.
func (l *repairLog) count(doc map[string]any, field string) int64 {
	raw, ok := doc[field]
	if !ok {
		return 0
	}
	n, ok := toInt64(raw)
	if !ok {
		l.add(field, -1, ReasonInvalid, "not a number: %v", raw)
		return 0
	}
	if n < 0 {
		l.add(field, -1, ReasonClamped, "%d -> 0", n)
		return 0
	}
	return n
}

// bounded reads a scalar and clamps it into [lo, hi].
func (l *repairLog) bounded(doc map[string]any, field string, lo, hi int64) (int64, bool) {
	raw, ok := doc[field]
	if !ok {
		return 0, false
	}
	n, ok := toInt64(raw)
	if !ok {
		l.add(field, -1, ReasonInvalid, "not a number: %v", raw)
		return 0, false
	}
	c := clamp(n, lo, hi)
	if c != n {
		l.add(field, -1, ReasonClamped, "%d -> %d", n, c)
	}
	return c, true
}

func (l *repairLog) flag(doc map[string]any, field string) bool {
	raw, ok := doc[field]
	if !ok {
		return false
	}
	b, ok := raw.(bool)
	if !ok {
		l.add(field, -1, ReasonInvalid, "not a boolean: %v", raw)
		return false
	}
	return b
}

func (l *repairLog) timestamp(doc map[string]any, field string) time.Time {
	raw, ok := doc[field]
	if !ok {
		return time.Time{}
	}
	t, ok := toTime(raw)
	if !ok {
		l.add(field, -1, ReasonInvalid, "not a time: %v", raw)
	}
	return t
}

// array reads a per-day array, padding or truncating it to n entries and
// clamping every entry into [0, hi].
func (l *repairLog) array(doc map[string]any, field string, n int, hi int64) []int64 {
	out := make([]int64, n)
	raw, ok := doc[field]
	if !ok {
		return out
	}
	entries, ok := toSlice(raw)
	if !ok {
		l.add(field, -1, ReasonInvalid, "not an array: %T", raw)
		return out
	}

	switch {
	case len(entries) < n:
		l.add(field, -1, ReasonPadded, "%d -> %d entries", len(entries), n)
	case len(entries) > n:
		l.add(field, -1, ReasonTruncated, "%d -> %d entries", len(entries), n)
		entries = entries[:n]
	}

	for i, e := range entries {
		v, ok := toInt64(e)
		if !ok {
			l.add(field, i, ReasonInvalid, "not a number: %v", e)
			continue
		}
		c := clamp(v, 0, hi)
		if c != v {
			l.add(field, i, ReasonClamped, "%d -> %d", v, c)
		}
		out[i] = c
	}
	return out
}

func clamp(v, lo, hi int64) int64 {
	return max(lo, min(v, hi))
}

// toInt64 accepts the numeric shapes produced by JSON decoding, YAML
// decoding and the store. Floats are rounded to the nearest integer.
func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return math.MaxInt64, true
		}
		return int64(n), true
	case float64:
		return floatToInt64(n)
	case float32:
		return floatToInt64(float64(n))
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return floatToInt64(f)
	default:
		return 0, false
	}
}

func floatToInt64(f float64) (int64, bool) {
	if math.IsNaN(f) {
		return 0, false
	}
	switch {
	case f >= math.MaxInt64:
		return math.MaxInt64, true
	case f <= math.MinInt64:
		return math.MinInt64, true
	}
	return int64(math.Round(f)), true
}

func toSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []int64:
		out := make([]any, len(s))
		for i, n := range s {
			out[i] = n
		}
		return out, true
	case []int:
		out := make([]any, len(s))
		for i, n := range s {
			out[i] = n
		}
		return out, true
	case []float64:
		out := make([]any, len(s))
		for i, n := range s {
			out[i] = n
		}
		return out, true
	default:
		return nil, false
	}
}

// toTime accepts time.Time, RFC 3339 strings and Unix milliseconds.
func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	default:
		ms, ok := toInt64(v)
		if !ok {
			return time.Time{}, false
		}
		return time.UnixMilli(ms), true
	}
}

// dateField reads a date key or RFC 3339 time and normalizes it to local
// midnight in loc.
func dateField(doc map[string]any, field string, loc *time.Location) (time.Time, error) {
	raw, ok := doc[field]
	if !ok {
		return time.Time{}, fmt.Errorf("%s is required", field)
	}
	if s, ok := raw.(string); ok {
		if t, err := ir.ParseDateKey(s, loc); err == nil {
			return t, nil
		}
	}
	t, ok := toTime(raw)
	if !ok {
		return time.Time{}, fmt.Errorf("%s is not a date: %v", field, raw)
	}
	return ir.StartOfDay(t.In(loc)), nil
}

func stringField(doc map[string]any, field string) string {
	s, _ := doc[field].(string)
	return s
}
