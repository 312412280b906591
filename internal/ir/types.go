package ir

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// TreatmentKind identifies which payload a SessionEvent carries.
type TreatmentKind string

const (
	KindMedication TreatmentKind = "medication"
	KindFluid      TreatmentKind = "fluid"
	KindSymptom    TreatmentKind = "symptom"
)

// ValidKinds defines allowed treatment kinds.
var ValidKinds = map[TreatmentKind]bool{
	KindMedication: true,
	KindFluid:      true,
	KindSymptom:    true,
}

// MaxFluidVolume is the largest volume, in ml, a single session or monthly
// array entry may hold.
const MaxFluidVolume = 5000

// SessionEvent is one logged action for a subject.
//
// Exactly one of Medication, Fluid or Symptom is set, matching Kind.
// Events are immutable once created; an edit produces a new value with the
// same ID and a ModifiedAt stamp.
type SessionEvent struct {
	ID         string          `json:"id"`
	SubjectID  string          `json:"subject_id"`
	Kind       TreatmentKind   `json:"kind"`
	OccurredAt time.Time       `json:"occurred_at"`
	Medication *MedicationDose `json:"medication,omitempty"`
	Fluid      *FluidSession   `json:"fluid,omitempty"`
	Symptom    *SymptomCheck   `json:"symptom,omitempty"`
	Note       *string         `json:"note,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	ModifiedAt *time.Time      `json:"modified_at,omitempty"`
}

// MedicationDose is the payload of a medication session.
type MedicationDose struct {
	Name            string     `json:"name"`
	Unit            string     `json:"unit,omitempty"`
	DosageGiven     float64    `json:"dosage_given"`
	DosageScheduled float64    `json:"dosage_scheduled"`
	Completed       bool       `json:"completed"`
	ScheduledAt     *time.Time `json:"scheduled_at,omitempty"`
}

// FluidSession is the payload of a fluid therapy session.
type FluidSession struct {
	VolumeGiven   float64    `json:"volume_given"`
	GoalVolume    *float64   `json:"goal_volume,omitempty"`
	InjectionSite string     `json:"injection_site,omitempty"`
	Completed     bool       `json:"completed"`
	ScheduledAt   *time.Time `json:"scheduled_at,omitempty"`
}

// EntityID implements engine.Entity.
func (e SessionEvent) EntityID() string { return e.ID }

// EntityDate implements engine.Entity.
func (e SessionEvent) EntityDate() time.Time { return e.OccurredAt }

// TreatmentName returns the name used for dedup matching.
// Only medication sessions are named; other kinds return "".
func (e SessionEvent) TreatmentName() string {
	if e.Kind == KindMedication && e.Medication != nil {
		return e.Medication.Name
	}
	return ""
}

// Clone returns a deep copy so callers can hold snapshots safely.
func (e SessionEvent) Clone() SessionEvent {
	out := e
	if e.Medication != nil {
		m := *e.Medication
		m.ScheduledAt = cloneTime(e.Medication.ScheduledAt)
		out.Medication = &m
	}
	if e.Fluid != nil {
		f := *e.Fluid
		f.ScheduledAt = cloneTime(e.Fluid.ScheduledAt)
		if e.Fluid.GoalVolume != nil {
			g := *e.Fluid.GoalVolume
			f.GoalVolume = &g
		}
		out.Fluid = &f
	}
	if e.Symptom != nil {
		s := *e.Symptom
		out.Symptom = &s
	}
	if e.Note != nil {
		n := *e.Note
		out.Note = &n
	}
	out.ModifiedAt = cloneTime(e.ModifiedAt)
	return out
}

// Validate checks the event shape before it may be logged.
// Returns nil or an error joining every violation found.
func (e SessionEvent) Validate() error {
	var errs []error
	if e.ID == "" {
		errs = append(errs, errors.New("id is required"))
	}
	if e.SubjectID == "" {
		errs = append(errs, errors.New("subject_id is required"))
	}
	if e.OccurredAt.IsZero() {
		errs = append(errs, errors.New("occurred_at is required"))
	}
	if !ValidKinds[e.Kind] {
		errs = append(errs, fmt.Errorf("unknown kind %q", e.Kind))
	}

	payloads := 0
	if e.Medication != nil {
		payloads++
	}
	if e.Fluid != nil {
		payloads++
	}
	if e.Symptom != nil {
		payloads++
	}
	if payloads != 1 {
		errs = append(errs, fmt.Errorf("exactly one payload is required, got %d", payloads))
	}

	switch e.Kind {
	case KindMedication:
		if e.Medication == nil {
			errs = append(errs, errors.New("medication payload is required"))
			break
		}
		if e.Medication.Name == "" {
			errs = append(errs, errors.New("medication name is required"))
		}
		if !nonNegative(e.Medication.DosageGiven) {
			errs = append(errs, fmt.Errorf("dosage_given must be a non-negative number, got %v", e.Medication.DosageGiven))
		}
		if !nonNegative(e.Medication.DosageScheduled) {
			errs = append(errs, fmt.Errorf("dosage_scheduled must be a non-negative number, got %v", e.Medication.DosageScheduled))
		}
	case KindFluid:
		if e.Fluid == nil {
			errs = append(errs, errors.New("fluid payload is required"))
			break
		}
		if !nonNegative(e.Fluid.VolumeGiven) || e.Fluid.VolumeGiven > MaxFluidVolume {
			errs = append(errs, fmt.Errorf("volume_given must be within 0..%d ml, got %v", MaxFluidVolume, e.Fluid.VolumeGiven))
		}
		if g := e.Fluid.GoalVolume; g != nil && (!nonNegative(*g) || *g > MaxFluidVolume) {
			errs = append(errs, fmt.Errorf("goal_volume must be within 0..%d ml, got %v", MaxFluidVolume, *g))
		}
	case KindSymptom:
		if e.Symptom == nil {
			errs = append(errs, errors.New("symptom payload is required"))
			break
		}
		if err := e.Symptom.Validate(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// NewSessionID returns a time-sortable UUIDv7 session identifier.
func NewSessionID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// VolumeMilliliters rounds a fluid volume to the whole milliliters stored
// in aggregates.
func VolumeMilliliters(v float64) int64 {
	return int64(math.Round(v))
}

func nonNegative(f float64) bool {
	return f >= 0 && !math.IsInf(f, 0) && !math.IsNaN(f)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
