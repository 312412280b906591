package ir

import (
	"fmt"
	"slices"
	"time"
)

// Value is a sealed interface for a scalar stored in a merge document.
// Only Int and Bool implement it. There is no float: aggregates count
// doses, sessions and whole milliliters.
type Value interface {
	value() // Sealed
}

// Int is an integer document value.
type Int int64

func (Int) value() {}

// Bool is a boolean document value.
type Bool bool

func (Bool) value() {}

// Op is a sealed interface for a single-field operation in a merge write.
//
// Only Increment, Assign, Unset and Stamp implement it. Increment is applied
// by the store atomically (value = value + n), so a write never needs a
// prior read of the document.
type Op interface {
	op() // Sealed
}

// Increment adds a signed amount to an integer field, creating it at 0.
type Increment int64

func (Increment) op() {}

// Assign overwrites a field with a value.
type Assign struct {
	Value Value
}

func (Assign) op() {}

// Unset removes a field, making it absent.
type Unset struct{}

func (Unset) op() {}

// Stamp records a modification time.
type Stamp time.Time

func (Stamp) op() {}

// Time returns the stamped time.
func (s Stamp) Time() time.Time { return time.Time(s) }

// FieldOps is a sparse set of field operations for one document.
// A field absent from the map is untouched by the write.
type FieldOps map[string]Op

// SortedKeys returns field names in byte order for deterministic iteration.
func (f FieldOps) SortedKeys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Increments returns only the increment operations.
func (f FieldOps) Increments() map[string]int64 {
	out := make(map[string]int64)
	for k, op := range f {
		if inc, ok := op.(Increment); ok {
			out[k] = int64(inc)
		}
	}
	return out
}

// Clone returns a shallow copy; ops are immutable values.
func (f FieldOps) Clone() FieldOps {
	out := make(FieldOps, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// canonical converts the ops to a map accepted by MarshalCanonical.
func (f FieldOps) canonical() (map[string]any, error) {
	out := make(map[string]any, len(f))
	for k, op := range f {
		switch v := op.(type) {
		case Increment:
			out[k] = map[string]any{"inc": int64(v)}
		case Assign:
			switch val := v.Value.(type) {
			case Int:
				out[k] = map[string]any{"set": int64(val)}
			case Bool:
				out[k] = map[string]any{"set": bool(val)}
			default:
				return nil, fmt.Errorf("field %q: unsupported value %T", k, v.Value)
			}
		case Unset:
			out[k] = map[string]any{"unset": true}
		case Stamp:
			out[k] = map[string]any{"stamp": v.Time().UnixMilli()}
		default:
			return nil, fmt.Errorf("field %q: unsupported op %T", k, op)
		}
	}
	return out, nil
}
