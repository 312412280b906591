package ir

import (
	"errors"
	"fmt"
	"time"
)

// MaxScore is the top of the 0..100 assessment scale.
const MaxScore = 100

// Scores holds precomputed quality-of-life scores. Nil means not answered.
type Scores struct {
	Vitality        *int `json:"vitality,omitempty"`
	Comfort         *int `json:"comfort,omitempty"`
	Emotional       *int `json:"emotional,omitempty"`
	Appetite        *int `json:"appetite,omitempty"`
	TreatmentBurden *int `json:"treatment_burden,omitempty"`
	Overall         *int `json:"overall,omitempty"`
}

// ScoreField names a score in documents.
type ScoreField string

const (
	ScoreVitality        ScoreField = "vitality_score"
	ScoreComfort         ScoreField = "comfort_score"
	ScoreEmotional       ScoreField = "emotional_score"
	ScoreAppetite        ScoreField = "appetite_score"
	ScoreTreatmentBurden ScoreField = "treatment_burden_score"
	ScoreOverall         ScoreField = "overall_score"
)

// ScoreFields lists every score field in a stable order.
var ScoreFields = []ScoreField{
	ScoreVitality,
	ScoreComfort,
	ScoreEmotional,
	ScoreAppetite,
	ScoreTreatmentBurden,
	ScoreOverall,
}

// Ref returns a pointer to the score slot for f.
func (s *Scores) Ref(f ScoreField) **int {
	switch f {
	case ScoreVitality:
		return &s.Vitality
	case ScoreComfort:
		return &s.Comfort
	case ScoreEmotional:
		return &s.Emotional
	case ScoreAppetite:
		return &s.Appetite
	case ScoreTreatmentBurden:
		return &s.TreatmentBurden
	case ScoreOverall:
		return &s.Overall
	}
	panic(fmt.Sprintf("unknown score field %q", f))
}

// Get returns the score for f, or nil.
func (s Scores) Get(f ScoreField) *int {
	return *s.Ref(f)
}

// Any reports whether any score is present.
func (s Scores) Any() bool {
	for _, f := range ScoreFields {
		if s.Get(f) != nil {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (s Scores) Clone() Scores {
	var out Scores
	for _, f := range ScoreFields {
		if v := s.Get(f); v != nil {
			c := *v
			*out.Ref(f) = &c
		}
	}
	return out
}

// Equal compares scores by value.
func (s Scores) Equal(o Scores) bool {
	for _, f := range ScoreFields {
		a, b := s.Get(f), o.Get(f)
		if (a == nil) != (b == nil) {
			return false
		}
		if a != nil && *a != *b {
			return false
		}
	}
	return true
}

// Assessment is a day's precomputed quality-of-life result for a subject.
// There is at most one per subject per day; ID is the date key.
type Assessment struct {
	ID         string     `json:"id"`
	SubjectID  string     `json:"subject_id"`
	Date       time.Time  `json:"date"`
	Scores     Scores     `json:"scores"`
	CreatedAt  time.Time  `json:"created_at"`
	ModifiedAt *time.Time `json:"modified_at,omitempty"`
}

// NewAssessment builds an assessment keyed by the day of date.
func NewAssessment(subjectID string, date time.Time, scores Scores, now time.Time) Assessment {
	day := StartOfDay(date)
	return Assessment{
		ID:        DateKey(day),
		SubjectID: subjectID,
		Date:      day,
		Scores:    scores,
		CreatedAt: now,
	}
}

// EntityID implements engine.Entity.
func (a Assessment) EntityID() string { return a.ID }

// EntityDate implements engine.Entity.
func (a Assessment) EntityDate() time.Time { return a.Date }

// Clone returns a deep copy.
func (a Assessment) Clone() Assessment {
	out := a
	out.Scores = a.Scores.Clone()
	out.ModifiedAt = cloneTime(a.ModifiedAt)
	return out
}

// Validate checks the assessment before it may be saved.
func (a Assessment) Validate() error {
	var errs []error
	if a.SubjectID == "" {
		errs = append(errs, errors.New("subject_id is required"))
	}
	if a.Date.IsZero() {
		errs = append(errs, errors.New("date is required"))
	} else if a.ID != DateKey(a.Date) {
		errs = append(errs, fmt.Errorf("id %q does not match date %s", a.ID, DateKey(a.Date)))
	}
	if !a.Scores.Any() {
		errs = append(errs, errors.New("at least one score is required"))
	}
	for _, f := range ScoreFields {
		if v := a.Scores.Get(f); v != nil && (*v < 0 || *v > MaxScore) {
			errs = append(errs, fmt.Errorf("%s must be within 0..%d, got %d", f, MaxScore, *v))
		}
	}
	return errors.Join(errs...)
}
