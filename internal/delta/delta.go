// Package delta computes signed aggregate increments from session events.
//
// A Delta is sparse: a nil field means "no change" and is never written.
// Materialize turns the set fields into atomic increment operations so a
// store can merge them into daily, weekly and monthly documents without
// reading them first.
package delta

import (
	"time"

	"github.com/roach88/carelog/internal/ir"
)

// Delta holds optional signed changes per aggregate field family.
type Delta struct {
	DosesGiven      *int64 `json:"doses_given_delta,omitempty"`
	DosesScheduled  *int64 `json:"doses_scheduled_delta,omitempty"`
	Missed          *int64 `json:"missed_delta,omitempty"`
	VolumeGiven     *int64 `json:"volume_delta,omitempty"`
	FluidSessions   *int64 `json:"session_count_delta,omitempty"`
	FluidScheduled  *int64 `json:"scheduled_session_delta,omitempty"`
	SymptomCount    *int64 `json:"symptom_count_delta,omitempty"`
	SymptomSeverity *int64 `json:"symptom_severity_delta,omitempty"`

	// Flags are only ever raised. Clearing one would need the other
	// events of the day, which a delta never reads.
	MedicationDone *bool `json:"medication_done,omitempty"`
	FluidDone      *bool `json:"fluid_done,omitempty"`

	// GoalVolume overwrites the day's monthly goal entry.
	GoalVolume *int64 `json:"goal_volume,omitempty"`
}

// contribution is what one event adds to its day when logged.
type contribution struct {
	given, scheduled, missed     int64
	volume, sessions, fluidSched int64
	symptoms, severity           int64
	medDone, fluidDone           bool
	goal                         *int64
}

func contributionOf(e ir.SessionEvent) contribution {
	var c contribution
	switch e.Kind {
	case ir.KindMedication:
		if e.Medication == nil {
			return c
		}
		c.scheduled = 1
		if e.Medication.Completed {
			c.given = 1
			c.medDone = true
		} else {
			c.missed = 1
		}
	case ir.KindFluid:
		if e.Fluid == nil {
			return c
		}
		c.volume = ir.VolumeMilliliters(e.Fluid.VolumeGiven)
		c.sessions = 1
		c.fluidDone = true
		if e.Fluid.ScheduledAt != nil {
			c.fluidSched = 1
		}
		if e.Fluid.GoalVolume != nil {
			g := ir.VolumeMilliliters(*e.Fluid.GoalVolume)
			c.goal = &g
		}
	case ir.KindSymptom:
		if e.Symptom == nil {
			return c
		}
		c.symptoms = 1
		c.severity = int64(e.Symptom.Severity())
	}
	return c
}

// FromNewEvent returns the increments for a newly logged event.
//
// A completed dose yields given +1, scheduled +1, missed 0; a missed dose
// yields given 0, scheduled +1, missed +1. A fluid session yields its volume,
// one session and the done flag. isUpdate suppresses every scheduled
// contribution, since an edit never changes how much was scheduled.
func FromNewEvent(e ir.SessionEvent, isUpdate bool) Delta {
	c := contributionOf(e)
	var d Delta
	switch e.Kind {
	case ir.KindMedication:
		if e.Medication == nil {
			return d
		}
		d.DosesGiven = ptr(c.given)
		d.Missed = ptr(c.missed)
		if !isUpdate {
			d.DosesScheduled = ptr(c.scheduled)
		}
		if c.medDone {
			d.MedicationDone = ptr(true)
		}
	case ir.KindFluid:
		if e.Fluid == nil {
			return d
		}
		d.VolumeGiven = ptr(c.volume)
		d.FluidSessions = ptr(c.sessions)
		d.FluidDone = ptr(true)
		if !isUpdate && c.fluidSched != 0 {
			d.FluidScheduled = ptr(c.fluidSched)
		}
		d.GoalVolume = c.goal
	case ir.KindSymptom:
		if e.Symptom == nil {
			return d
		}
		d.SymptomCount = ptr(c.symptoms)
		d.SymptomSeverity = ptr(c.severity)
	}
	return d
}

// FromEdit returns the difference between the contributions of an event
// before and after an edit. Fields whose contribution did not change stay
// unset, and scheduled counts are always unset.
func FromEdit(before, after ir.SessionEvent) Delta {
	o, n := contributionOf(before), contributionOf(after)
	d := Delta{
		DosesGiven:      diff(o.given, n.given),
		Missed:          diff(o.missed, n.missed),
		VolumeGiven:     diff(o.volume, n.volume),
		FluidSessions:   diff(o.sessions, n.sessions),
		SymptomCount:    diff(o.symptoms, n.symptoms),
		SymptomSeverity: diff(o.severity, n.severity),
	}
	if n.medDone && !o.medDone {
		d.MedicationDone = ptr(true)
	}
	if n.fluidDone && !o.fluidDone {
		d.FluidDone = ptr(true)
	}
	if n.goal != nil && (o.goal == nil || *o.goal != *n.goal) {
		d.GoalVolume = ptr(*n.goal)
	}
	return d
}

// FromRemoval returns the increments that undo an event's contribution,
// scheduled counts included. Done flags are left as they are.
func FromRemoval(e ir.SessionEvent) Delta {
	c := contributionOf(e)
	return Delta{
		DosesGiven:      diff(c.given, 0),
		DosesScheduled:  diff(c.scheduled, 0),
		Missed:          diff(c.missed, 0),
		VolumeGiven:     diff(c.volume, 0),
		FluidSessions:   diff(c.sessions, 0),
		FluidScheduled:  diff(c.fluidSched, 0),
		SymptomCount:    diff(c.symptoms, 0),
		SymptomSeverity: diff(c.severity, 0),
	}
}

// HasUpdates reports whether any field would change an aggregate.
// A set field holding zero changes nothing and does not count.
func (d Delta) HasUpdates() bool {
	for _, v := range d.increments() {
		if v != nil && *v != 0 {
			return true
		}
	}
	return d.MedicationDone != nil || d.FluidDone != nil || d.GoalVolume != nil
}

// increments pairs each counter with its daily field name.
func (d Delta) increments() map[string]*int64 {
	return map[string]*int64{
		ir.FieldDosesGiven:      d.DosesGiven,
		ir.FieldDosesScheduled:  d.DosesScheduled,
		ir.FieldMissed:          d.Missed,
		ir.FieldVolumeGiven:     d.VolumeGiven,
		ir.FieldFluidSessions:   d.FluidSessions,
		ir.FieldFluidScheduled:  d.FluidScheduled,
		ir.FieldSymptomCount:    d.SymptomCount,
		ir.FieldSymptomSeverity: d.SymptomSeverity,
	}
}

// Materialize returns the field operations for a daily or weekly document:
// one atomic increment per set, non-zero field, an assign per raised flag,
// and the updated_at stamp. An empty Delta yields only the stamp.
func (d Delta) Materialize(at time.Time) ir.FieldOps {
	ops := ir.FieldOps{ir.FieldUpdatedAt: ir.Stamp(at)}
	for field, v := range d.increments() {
		if v != nil && *v != 0 {
			ops[field] = ir.Increment(*v)
		}
	}
	if d.MedicationDone != nil {
		ops[ir.FieldMedicationDone] = ir.Assign{Value: ir.Bool(*d.MedicationDone)}
	}
	if d.FluidDone != nil {
		ops[ir.FieldFluidDone] = ir.Assign{Value: ir.Bool(*d.FluidDone)}
	}
	return ops
}

// MaterializeMonthly returns the field operations for the monthly document
// containing day: increments on day's entry of each per-day array, month
// totals, the goal entry when set, and the updated_at stamp.
func (d Delta) MaterializeMonthly(day time.Time, at time.Time) ir.FieldOps {
	idx := ir.DayIndex(day)
	ops := ir.FieldOps{ir.FieldUpdatedAt: ir.Stamp(at)}
	add := func(field string, v *int64) {
		if v != nil && *v != 0 {
			ops[field] = ir.Increment(*v)
		}
	}

	add(ir.IndexedField(ir.FieldDailyVolumeGiven, idx), d.VolumeGiven)
	add(ir.IndexedField(ir.FieldDailyFluidScheduled, idx), d.FluidScheduled)
	add(ir.IndexedField(ir.FieldDailyDosesGiven, idx), d.DosesGiven)
	add(ir.IndexedField(ir.FieldDailyDosesSched, idx), d.DosesScheduled)
	add(ir.FieldTotalVolumeGiven, d.VolumeGiven)
	add(ir.FieldTotalDosesGiven, d.DosesGiven)
	add(ir.FieldTotalDosesSched, d.DosesScheduled)
	add(ir.FieldTotalFluidSession, d.FluidSessions)

	if d.GoalVolume != nil {
		ops[ir.IndexedField(ir.FieldDailyVolumeGoal, idx)] = ir.Assign{Value: ir.Int(*d.GoalVolume)}
	}
	return ops
}

func diff(before, after int64) *int64 {
	if after == before {
		return nil
	}
	return ptr(after - before)
}

func ptr[T any](v T) *T { return &v }
