package aggregate

import (
	"fmt"
	"slices"
	"time"

	"github.com/roach88/carelog/internal/ir"
)

// Rollup field names.
const (
	FieldTreatmentDays           = "treatment_days"
	FieldMissedDays              = "missed_days"
	FieldLongestFluidStreak      = "longest_fluid_streak"
	FieldCurrentFluidStreak      = "current_fluid_streak"
	FieldLongestMedicationStreak = "longest_medication_streak"
	FieldCurrentMedicationStreak = "current_medication_streak"
	FieldAdherence               = "adherence_bp"
	FieldMonthStart              = "month_start"
)

// FullAdherence is 100% in basis points.
const FullAdherence = 10000

// Rollups are scalars derived from the per-day arrays.
type Rollups struct {
	TreatmentDays           int64 `json:"treatment_days"`
	MissedDays              int64 `json:"missed_days"`
	LongestFluidStreak      int64 `json:"longest_fluid_streak"`
	CurrentFluidStreak      int64 `json:"current_fluid_streak"`
	LongestMedicationStreak int64 `json:"longest_medication_streak"`
	CurrentMedicationStreak int64 `json:"current_medication_streak"`
	// AdherenceBP is doses given over doses scheduled in basis points.
	AdherenceBP         int64 `json:"adherence_bp"`
	TotalVolumeGiven    int64 `json:"total_volume_given"`
	TotalDosesGiven     int64 `json:"total_doses_given"`
	TotalDosesScheduled int64 `json:"total_doses_scheduled"`
	TotalFluidSessions  int64 `json:"total_fluid_sessions"`
}

// Adherence returns the adherence ratio in [0, 1].
func (r Rollups) Adherence() float64 {
	return float64(r.AdherenceBP) / FullAdherence
}

func (r Rollups) fields() []struct {
	name string
	v    int64
} {
	return []struct {
		name string
		v    int64
	}{
		{FieldTreatmentDays, r.TreatmentDays},
		{FieldMissedDays, r.MissedDays},
		{FieldLongestFluidStreak, r.LongestFluidStreak},
		{FieldCurrentFluidStreak, r.CurrentFluidStreak},
		{FieldLongestMedicationStreak, r.LongestMedicationStreak},
		{FieldCurrentMedicationStreak, r.CurrentMedicationStreak},
		{FieldAdherence, r.AdherenceBP},
		{ir.FieldTotalVolumeGiven, r.TotalVolumeGiven},
		{ir.FieldTotalDosesGiven, r.TotalDosesGiven},
		{ir.FieldTotalDosesSched, r.TotalDosesScheduled},
		{ir.FieldTotalFluidSession, r.TotalFluidSessions},
	}
}

// Monthly is the rolling summary of one subject's calendar month, with one
// entry per day in each per-day array.
type Monthly struct {
	SubjectID      string    `json:"subject_id"`
	MonthStart     time.Time `json:"month_start"`
	MonthEnd       time.Time `json:"month_end"`
	VolumeGiven    []int64   `json:"daily_volume_given"`
	VolumeGoal     []int64   `json:"daily_volume_goal"`
	FluidScheduled []int64   `json:"daily_fluid_scheduled"`
	DosesGiven     []int64   `json:"daily_doses_given"`
	DosesScheduled []int64   `json:"daily_doses_scheduled"`
	Rollups
	UpdatedAt time.Time `json:"updated_at"`
}

// arrayBound returns the entry bound of a per-day array.
func arrayBound(field string) int64 {
	switch field {
	case ir.FieldDailyVolumeGiven, ir.FieldDailyVolumeGoal:
		return MaxVolumeEntry
	case ir.FieldDailyFluidScheduled:
		return MaxSessionEntry
	default:
		return MaxDoseEntry
	}
}

// NewMonthly returns an empty aggregate for the month of t with
// zero-filled arrays of the month's exact length.
func NewMonthly(subjectID string, t time.Time) Monthly {
	start := ir.StartOfMonth(t)
	n := ir.DaysInMonth(start.Year(), start.Month())
	return Monthly{
		SubjectID:      subjectID,
		MonthStart:     start,
		MonthEnd:       ir.EndOfMonth(start),
		VolumeGiven:    make([]int64, n),
		VolumeGoal:     make([]int64, n),
		FluidScheduled: make([]int64, n),
		DosesGiven:     make([]int64, n),
		DosesScheduled: make([]int64, n),
	}
}

// Key returns the document key of the aggregate.
func (m Monthly) Key() ir.DocumentKey {
	return ir.MonthlyKey(m.SubjectID, m.MonthStart)
}

// Days returns the number of days in the month.
func (m Monthly) Days() int {
	return ir.DaysInMonth(m.MonthStart.Year(), m.MonthStart.Month())
}

// array returns the per-day array stored under field.
func (m *Monthly) array(field string) *[]int64 {
	switch field {
	case ir.FieldDailyVolumeGiven:
		return &m.VolumeGiven
	case ir.FieldDailyVolumeGoal:
		return &m.VolumeGoal
	case ir.FieldDailyFluidScheduled:
		return &m.FluidScheduled
	case ir.FieldDailyDosesGiven:
		return &m.DosesGiven
	case ir.FieldDailyDosesSched:
		return &m.DosesScheduled
	}
	panic(fmt.Sprintf("unknown monthly array %q", field))
}

// MonthlyFromExternal builds a Monthly from an untrusted document.
//
// The month comes from the "month" key ("2006-01") or "month_start". Arrays
// are zero-padded on the right or truncated to the month's length and every
// entry is clamped into its bound. Rollups are recomputed as of asOf, so
// the totals follow the repaired arrays; a stored total that disagrees is
// reported as recomputed. TotalFluidSessions has no array and is kept.
// Only a missing month is an error.
func MonthlyFromExternal(doc map[string]any, loc *time.Location, asOf time.Time) (Monthly, []Repair, error) {
	start, err := monthField(doc, loc)
	if err != nil {
		return Monthly{}, nil, fmt.Errorf("monthly aggregate: %w", err)
	}

	l := &repairLog{kind: ir.DocMonthly}
	m := NewMonthly(stringField(doc, ir.FieldSubjectID), start)
	n := m.Days()
	for _, field := range ir.MonthlyArrayFields {
		*m.array(field) = l.array(doc, field, n, arrayBound(field))
	}
	m.TotalFluidSessions = l.count(doc, ir.FieldTotalFluidSession)
	m.UpdatedAt = l.timestamp(doc, ir.FieldUpdatedAt)

	m.RecomputeRollups(asOf)
	for _, t := range []struct {
		field   string
		derived int64
	}{
		{ir.FieldTotalVolumeGiven, m.TotalVolumeGiven},
		{ir.FieldTotalDosesGiven, m.TotalDosesGiven},
		{ir.FieldTotalDosesSched, m.TotalDosesScheduled},
	} {
		if stored, ok := toInt64(doc[t.field]); ok && stored != t.derived {
			l.add(t.field, -1, ReasonRecomputed, "stored %d, derived %d", stored, t.derived)
		}
	}
	return m, l.repairs, nil
}

func monthField(doc map[string]any, loc *time.Location) (time.Time, error) {
	if key := stringField(doc, ir.FieldMonth); key != "" {
		return ir.ParseMonthKey(key, loc)
	}
	if _, ok := doc[FieldMonthStart]; ok {
		t, err := dateField(doc, FieldMonthStart, loc)
		if err != nil {
			return time.Time{}, err
		}
		return ir.StartOfMonth(t), nil
	}
	return time.Time{}, fmt.Errorf("%s is required", ir.FieldMonth)
}

// RecomputeRollups derives the scalar rollups from the per-day arrays.
//
// Current streaks end at asOf's day when asOf falls inside the month (or the
// day before, while asOf's day is not yet complete) and at the last day for
// past months. TotalFluidSessions has no per-day array and is kept.
func (m *Monthly) RecomputeRollups(asOf time.Time) {
	n := min(len(m.VolumeGiven), len(m.DosesGiven), len(m.DosesScheduled), len(m.FluidScheduled))
	fluidDay := make([]bool, n)
	medDay := make([]bool, n)

	r := Rollups{TotalFluidSessions: m.TotalFluidSessions}
	for i := range n {
		fluidDay[i] = m.VolumeGiven[i] > 0
		medDay[i] = m.DosesScheduled[i] > 0 && m.DosesGiven[i] >= m.DosesScheduled[i]

		if m.VolumeGiven[i] > 0 || m.DosesGiven[i] > 0 {
			r.TreatmentDays++
		}
		missedDose := m.DosesGiven[i] < m.DosesScheduled[i]
		missedFluid := m.FluidScheduled[i] > 0 && m.VolumeGiven[i] == 0
		if missedDose || missedFluid {
			r.MissedDays++
		}
		r.TotalVolumeGiven += m.VolumeGiven[i]
		r.TotalDosesGiven += m.DosesGiven[i]
		r.TotalDosesScheduled += m.DosesScheduled[i]
	}

	last := n - 1
	local := asOf.In(m.MonthStart.Location())
	switch {
	case ir.MonthKey(local) == ir.MonthKey(m.MonthStart):
		last = min(ir.DayIndex(local), n-1)
	case local.Before(m.MonthStart):
		last = -1
	}

	r.LongestFluidStreak = longestRun(fluidDay)
	r.CurrentFluidStreak = currentRun(fluidDay, last)
	r.LongestMedicationStreak = longestRun(medDay)
	r.CurrentMedicationStreak = currentRun(medDay, last)

	if r.TotalDosesScheduled > 0 {
		r.AdherenceBP = min(r.TotalDosesGiven*FullAdherence/r.TotalDosesScheduled, FullAdherence)
	}
	m.Rollups = r
}

func longestRun(days []bool) int64 {
	var best, cur int64
	for _, ok := range days {
		if ok {
			cur++
			best = max(best, cur)
		} else {
			cur = 0
		}
	}
	return best
}

// currentRun counts consecutive true days ending at last. An incomplete
// last day does not break the run; it just is not counted.
func currentRun(days []bool, last int) int64 {
	if last < 0 || last >= len(days) {
		return 0
	}
	i := last
	if !days[i] {
		i--
	}
	var run int64
	for ; i >= 0 && days[i]; i-- {
		run++
	}
	return run
}

// Validate returns every invariant violation as a readable message:
// exact array lengths for the month, entries within bounds and
// non-negative rollups.
func (m Monthly) Validate() []string {
	var errs []string
	if m.SubjectID == "" {
		errs = append(errs, "monthly: subject_id is required")
	}
	if m.MonthStart.IsZero() {
		return append(errs, "monthly: month_start is required")
	}
	if !m.MonthStart.Equal(ir.StartOfMonth(m.MonthStart)) {
		errs = append(errs, fmt.Sprintf("monthly: month_start %s is not the first of the month", m.MonthStart.Format(time.RFC3339)))
	}
	if !m.MonthEnd.Equal(ir.EndOfMonth(m.MonthStart)) {
		errs = append(errs, fmt.Sprintf("monthly: month_end %s is not the last day of %s",
			m.MonthEnd.Format(ir.DateKeyLayout), ir.MonthKey(m.MonthStart)))
	}

	n := m.Days()
	for _, field := range ir.MonthlyArrayFields {
		arr := *m.array(field)
		if len(arr) != n {
			errs = append(errs, fmt.Sprintf("monthly: %s has %d entries, want %d", field, len(arr), n))
		}
		hi := arrayBound(field)
		for i, v := range arr {
			if v < 0 || v > hi {
				errs = append(errs, fmt.Sprintf("monthly: %s[%d] = %d out of range 0..%d", field, i, v, hi))
			}
		}
	}
	for _, f := range m.Rollups.fields() {
		if f.v < 0 {
			errs = append(errs, fmt.Sprintf("monthly: %s must be >= 0, got %d", f.name, f.v))
		}
	}
	if m.AdherenceBP > FullAdherence {
		errs = append(errs, fmt.Sprintf("monthly: %s must be <= %d, got %d", FieldAdherence, FullAdherence, m.AdherenceBP))
	}
	return errs
}

// Document returns the aggregate as a flat document with arrays as
// []any of int64.
func (m Monthly) Document() map[string]any {
	doc := map[string]any{
		ir.FieldSubjectID: m.SubjectID,
		ir.FieldMonth:     ir.MonthKey(m.MonthStart),
	}
	for _, field := range ir.MonthlyArrayFields {
		arr := *m.array(field)
		out := make([]any, len(arr))
		for i, v := range arr {
			out[i] = v
		}
		doc[field] = out
	}
	for _, f := range m.Rollups.fields() {
		doc[f.name] = f.v
	}
	if !m.UpdatedAt.IsZero() {
		doc[ir.FieldUpdatedAt] = m.UpdatedAt.UnixMilli()
	}
	return doc
}

// Fingerprint returns a structural hash over every field.
func (m Monthly) Fingerprint() string {
	return fingerprint(m.Document())
}

// Equal compares two aggregates field by field, array contents included.
func (m Monthly) Equal(o Monthly) bool {
	return m.Fingerprint() == o.Fingerprint()
}

// Clone returns a deep copy.
func (m Monthly) Clone() Monthly {
	out := m
	for _, field := range ir.MonthlyArrayFields {
		*out.array(field) = slices.Clone(*m.array(field))
	}
	return out
}

// MonthlyPatch overrides Monthly fields independently; the zero value keeps
// all. A Clear on an array zero-fills it at the month's length.
type MonthlyPatch struct {
	SubjectID      ir.Patch[string]
	VolumeGiven    ir.Patch[[]int64]
	VolumeGoal     ir.Patch[[]int64]
	FluidScheduled ir.Patch[[]int64]
	DosesGiven     ir.Patch[[]int64]
	DosesScheduled ir.Patch[[]int64]
	Rollups        ir.Patch[Rollups]
	UpdatedAt      ir.Patch[time.Time]
}

// CopyWith returns a copy with the patch applied. Arrays are copied, never
// shared with the patch or the receiver.
func (m Monthly) CopyWith(p MonthlyPatch) Monthly {
	out := m.Clone()
	out.SubjectID = p.SubjectID.Apply(m.SubjectID)
	out.Rollups = p.Rollups.Apply(m.Rollups)
	out.UpdatedAt = p.UpdatedAt.Apply(m.UpdatedAt)

	for field, patch := range map[string]ir.Patch[[]int64]{
		ir.FieldDailyVolumeGiven:    p.VolumeGiven,
		ir.FieldDailyVolumeGoal:     p.VolumeGoal,
		ir.FieldDailyFluidScheduled: p.FluidScheduled,
		ir.FieldDailyDosesGiven:     p.DosesGiven,
		ir.FieldDailyDosesSched:     p.DosesScheduled,
	} {
		switch patch.Op() {
		case ir.PatchSet:
			v, _ := patch.Value()
			*out.array(field) = slices.Clone(v)
		case ir.PatchClear:
			*out.array(field) = make([]int64, m.Days())
		}
	}
	return out
}

// Apply returns the aggregate with monthly field operations merged in, then
// repaired and rolled up as of asOf.
func (m Monthly) Apply(ops ir.FieldOps, asOf time.Time) (Monthly, error) {
	doc := flatten(m.Document())
	if err := ir.ApplyOps(doc, ops); err != nil {
		return Monthly{}, fmt.Errorf("apply to monthly %s: %w", ir.MonthKey(m.MonthStart), err)
	}
	out, _, err := MonthlyFromExternal(ir.ExpandIndexed(doc, m.Days()), m.MonthStart.Location(), asOf)
	if err != nil {
		return Monthly{}, err
	}
	return out, nil
}

// flatten turns array fields into "name.N" entries, the shape increments
// address.
func flatten(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		arr, ok := v.([]any)
		if !ok || !slices.Contains(ir.MonthlyArrayFields, k) {
			out[k] = v
			continue
		}
		for i, e := range arr {
			out[ir.IndexedField(k, i)] = e
		}
	}
	return out
}
