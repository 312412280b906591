package testutil

import (
	"time"

	"github.com/roach88/carelog/internal/ir"
)

// Subject is the default subject of test events.
const Subject = "pet-1"

// Medication returns a dose event for Subject.
func Medication(id string, at time.Time, name string, completed bool) ir.SessionEvent {
	given := 0.0
	if completed {
		given = 1
	}
	return ir.SessionEvent{
		ID:         id,
		SubjectID:  Subject,
		Kind:       ir.KindMedication,
		OccurredAt: at,
		CreatedAt:  at,
		Medication: &ir.MedicationDose{
			Name:            name,
			DosageGiven:     given,
			DosageScheduled: 1,
			Completed:       completed,
		},
	}
}

// Fluid returns a fluid session event for Subject.
func Fluid(id string, at time.Time, volume float64) ir.SessionEvent {
	return ir.SessionEvent{
		ID:         id,
		SubjectID:  Subject,
		Kind:       ir.KindFluid,
		OccurredAt: at,
		CreatedAt:  at,
		Fluid:      &ir.FluidSession{VolumeGiven: volume, Completed: true},
	}
}

// Symptom returns a counted symptom event for Subject.
func Symptom(id string, at time.Time, kind ir.SymptomKind, count int) ir.SessionEvent {
	return ir.SessionEvent{
		ID:         id,
		SubjectID:  Subject,
		Kind:       ir.KindSymptom,
		OccurredAt: at,
		CreatedAt:  at,
		Symptom:    &ir.SymptomCheck{Symptom: kind, Value: ir.Count(count)},
	}
}

// Assessment returns an assessment for Subject on the day of at with the
// given overall score.
func Assessment(at time.Time, overall int) ir.Assessment {
	return ir.NewAssessment(Subject, at, ir.Scores{Overall: &overall}, at)
}
