package ir

import (
	"encoding/json"
	"errors"
	"fmt"
)

// SymptomKind identifies an observed symptom.
type SymptomKind string

const (
	SymptomVomiting SymptomKind = "vomiting" // counted in episodes
	SymptomDiarrhea SymptomKind = "diarrhea"
	SymptomAppetite SymptomKind = "appetite"
	SymptomLethargy SymptomKind = "lethargy"
)

// symptomScales maps each kind to the raw value shape it is logged with.
var symptomScales = map[SymptomKind]scale{
	SymptomVomiting: scaleCount,
	SymptomDiarrhea: scaleCategory,
	SymptomAppetite: scaleCategory,
	SymptomLethargy: scaleCategory,
}

type scale int

const (
	scaleCount scale = iota + 1
	scaleCategory
)

// MaxSeverity is the top of the severity scale every raw value maps onto.
const MaxSeverity = 3

// RawValue is a sealed interface for a logged symptom value.
// Only Count and Category implement it; which one is valid depends on the
// SymptomKind, and Severity resolves either onto the shared 0..3 scale.
type RawValue interface {
	rawValue() // Sealed
}

// Count is a number of episodes.
type Count int

func (Count) rawValue() {}

// Category is a graded label.
type Category string

func (Category) rawValue() {}

const (
	CategoryNone     Category = "none"
	CategoryMild     Category = "mild"
	CategoryModerate Category = "moderate"
	CategorySevere   Category = "severe"
)

var categorySeverity = map[Category]int{
	CategoryNone:     0,
	CategoryMild:     1,
	CategoryModerate: 2,
	CategorySevere:   3,
}

// Severity maps a raw value onto 0..MaxSeverity for its kind.
// Returns an error when the value shape does not match the kind.
func Severity(kind SymptomKind, v RawValue) (int, error) {
	sc, ok := symptomScales[kind]
	if !ok {
		return 0, fmt.Errorf("unknown symptom %q", kind)
	}
	switch val := v.(type) {
	case Count:
		if sc != scaleCount {
			return 0, fmt.Errorf("symptom %q is graded by category, got count", kind)
		}
		if val < 0 {
			return 0, fmt.Errorf("symptom %q count must be non-negative, got %d", kind, val)
		}
		return min(int(val), MaxSeverity), nil
	case Category:
		if sc != scaleCategory {
			return 0, fmt.Errorf("symptom %q is counted, got category", kind)
		}
		s, ok := categorySeverity[val]
		if !ok {
			return 0, fmt.Errorf("symptom %q has unknown category %q", kind, val)
		}
		return s, nil
	case nil:
		return 0, fmt.Errorf("symptom %q has no value", kind)
	default:
		return 0, fmt.Errorf("unsupported raw value %T", v)
	}
}

// SymptomCheck is the payload of a symptom observation.
type SymptomCheck struct {
	Symptom SymptomKind
	Value   RawValue
}

// Validate reports whether the value shape matches the symptom kind.
func (s SymptomCheck) Validate() error {
	_, err := Severity(s.Symptom, s.Value)
	return err
}

// Severity returns the mapped severity, or 0 for an invalid check.
func (s SymptomCheck) Severity() int {
	sev, err := Severity(s.Symptom, s.Value)
	if err != nil {
		return 0
	}
	return sev
}

type symptomJSON struct {
	Symptom  SymptomKind `json:"symptom"`
	Count    *int        `json:"count,omitempty"`
	Category *string     `json:"category,omitempty"`
}

// MarshalJSON writes the tagged variant as either a count or a category field.
func (s SymptomCheck) MarshalJSON() ([]byte, error) {
	out := symptomJSON{Symptom: s.Symptom}
	switch val := s.Value.(type) {
	case Count:
		n := int(val)
		out.Count = &n
	case Category:
		c := string(val)
		out.Category = &c
	case nil:
	default:
		return nil, fmt.Errorf("unsupported raw value %T", s.Value)
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads the tagged variant written by MarshalJSON.
func (s *SymptomCheck) UnmarshalJSON(data []byte) error {
	var in symptomJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if in.Count != nil && in.Category != nil {
		return errors.New("symptom has both count and category")
	}
	s.Symptom = in.Symptom
	s.Value = nil
	switch {
	case in.Count != nil:
		s.Value = Count(*in.Count)
	case in.Category != nil:
		s.Value = Category(*in.Category)
	}
	return nil
}
