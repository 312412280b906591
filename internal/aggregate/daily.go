// Package aggregate holds the persisted rolling statistics derived from
// session events: one Daily per subject and day, one Weekly per ISO week and
// one Monthly per calendar month.
//
// Aggregates built from materialized increments are valid by construction.
// Aggregates read from external or legacy documents go through the
// FromExternal constructors, which repair rather than reject: arrays are
// padded or truncated, out-of-range values clamped, and every change is
// returned as a Repair for the caller to log.
package aggregate

import (
	"fmt"
	"time"

	"github.com/roach88/carelog/internal/ir"
)

// Counters are the treatment counters shared by daily and weekly aggregates.
type Counters struct {
	DosesGiven      int64 `json:"medication_doses_given"`
	DosesScheduled  int64 `json:"medication_doses_scheduled"`
	Missed          int64 `json:"medication_missed"`
	MedicationDone  bool  `json:"medication_done"`
	VolumeGiven     int64 `json:"fluid_volume_given"`
	FluidSessions   int64 `json:"fluid_sessions"`
	FluidScheduled  int64 `json:"fluid_sessions_scheduled"`
	FluidDone       bool  `json:"fluid_done"`
	SymptomCount    int64 `json:"symptom_count"`
	SymptomSeverity int64 `json:"symptom_severity"`
}

func readCounters(doc map[string]any, l *repairLog) Counters {
	return Counters{
		DosesGiven:      l.count(doc, ir.FieldDosesGiven),
		DosesScheduled:  l.count(doc, ir.FieldDosesScheduled),
		Missed:          l.count(doc, ir.FieldMissed),
		MedicationDone:  l.flag(doc, ir.FieldMedicationDone),
		VolumeGiven:     l.count(doc, ir.FieldVolumeGiven),
		FluidSessions:   l.count(doc, ir.FieldFluidSessions),
		FluidScheduled:  l.count(doc, ir.FieldFluidScheduled),
		FluidDone:       l.flag(doc, ir.FieldFluidDone),
		SymptomCount:    l.count(doc, ir.FieldSymptomCount),
		SymptomSeverity: l.count(doc, ir.FieldSymptomSeverity),
	}
}

func (c Counters) document(doc map[string]any) {
	doc[ir.FieldDosesGiven] = c.DosesGiven
	doc[ir.FieldDosesScheduled] = c.DosesScheduled
	doc[ir.FieldMissed] = c.Missed
	doc[ir.FieldMedicationDone] = c.MedicationDone
	doc[ir.FieldVolumeGiven] = c.VolumeGiven
	doc[ir.FieldFluidSessions] = c.FluidSessions
	doc[ir.FieldFluidScheduled] = c.FluidScheduled
	doc[ir.FieldFluidDone] = c.FluidDone
	doc[ir.FieldSymptomCount] = c.SymptomCount
	doc[ir.FieldSymptomSeverity] = c.SymptomSeverity
}

func (c Counters) validate(prefix string) []string {
	var errs []string
	for _, f := range []struct {
		name string
		v    int64
	}{
		{ir.FieldDosesGiven, c.DosesGiven},
		{ir.FieldDosesScheduled, c.DosesScheduled},
		{ir.FieldMissed, c.Missed},
		{ir.FieldVolumeGiven, c.VolumeGiven},
		{ir.FieldFluidSessions, c.FluidSessions},
		{ir.FieldFluidScheduled, c.FluidScheduled},
		{ir.FieldSymptomCount, c.SymptomCount},
		{ir.FieldSymptomSeverity, c.SymptomSeverity},
	} {
		if f.v < 0 {
			errs = append(errs, fmt.Sprintf("%s: %s must be >= 0, got %d", prefix, f.name, f.v))
		}
	}
	return errs
}

// Active reports whether anything was logged against the counters.
func (c Counters) Active() bool {
	return c.DosesGiven > 0 || c.DosesScheduled > 0 || c.Missed > 0 ||
		c.VolumeGiven > 0 || c.FluidSessions > 0 || c.SymptomCount > 0
}

// Treated reports whether a dose was given or a fluid session logged.
func (c Counters) Treated() bool {
	return c.DosesGiven > 0 || c.FluidSessions > 0
}

// StreakEnding counts the consecutive treated days ending at day. treated
// holds the date keys of treated days, newest first; keys after day are
// skipped. A day that was not treated itself has no streak.
func StreakEnding(day time.Time, treated []string) int64 {
	var n int64
	want := ir.DateKey(day)
	cur := ir.StartOfDay(day)
	for _, key := range treated {
		if key > want {
			continue
		}
		if key != want {
			break
		}
		n++
		cur = cur.AddDate(0, 0, -1)
		want = ir.DateKey(cur)
	}
	return n
}

// Daily is the rolling summary of one subject's calendar day.
type Daily struct {
	SubjectID string    `json:"subject_id"`
	Date      time.Time `json:"date"` // local midnight
	Counters
	// Streak is the run of treated days ending at Date. Stores derive it
	// on read; it is never incremented.
	Streak        int64     `json:"streak"`
	Scores        ir.Scores `json:"scores"`
	HasAssessment bool      `json:"has_assessment"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NewDaily returns an empty aggregate for the day of date.
func NewDaily(subjectID string, date time.Time) Daily {
	return Daily{SubjectID: subjectID, Date: ir.StartOfDay(date)}
}

// Key returns the document key of the aggregate.
func (d Daily) Key() ir.DocumentKey {
	return ir.DailyKey(d.SubjectID, d.Date)
}

// DailyFromExternal builds a Daily from an untrusted document, repairing
// rather than rejecting out-of-range values. Only a missing or unreadable
// date is an error, since the document cannot be placed without it.
func DailyFromExternal(doc map[string]any, loc *time.Location) (Daily, []Repair, error) {
	date, err := dateField(doc, ir.FieldDate, loc)
	if err != nil {
		return Daily{}, nil, fmt.Errorf("daily aggregate: %w", err)
	}

	l := &repairLog{kind: ir.DocDaily}
	d := Daily{
		SubjectID:     stringField(doc, ir.FieldSubjectID),
		Date:          date,
		Counters:      readCounters(doc, l),
		Streak:        l.count(doc, ir.FieldStreak),
		HasAssessment: l.flag(doc, ir.FieldHasAssessment),
		UpdatedAt:     l.timestamp(doc, ir.FieldUpdatedAt),
	}
	for _, f := range ir.ScoreFields {
		if v, ok := l.bounded(doc, string(f), 0, ir.MaxScore); ok {
			n := int(v)
			*d.Scores.Ref(f) = &n
		}
	}
	if d.Scores.Any() && !d.HasAssessment {
		l.add(ir.FieldHasAssessment, -1, ReasonFlagged, "scores present, flag set")
		d.HasAssessment = true
	}
	return d, l.repairs, nil
}

// Validate returns every invariant violation as a readable message.
// An empty result means the aggregate is valid.
func (d Daily) Validate() []string {
	var errs []string
	if d.SubjectID == "" {
		errs = append(errs, "daily: subject_id is required")
	}
	if d.Date.IsZero() {
		errs = append(errs, "daily: date is required")
	} else if !d.Date.Equal(ir.StartOfDay(d.Date)) {
		errs = append(errs, fmt.Sprintf("daily: date %s is not local midnight", d.Date.Format(time.RFC3339)))
	}
	errs = append(errs, d.Counters.validate("daily")...)
	if d.Streak < 0 {
		errs = append(errs, fmt.Sprintf("daily: streak must be >= 0, got %d", d.Streak))
	}
	for _, f := range ir.ScoreFields {
		if v := d.Scores.Get(f); v != nil && (*v < 0 || *v > ir.MaxScore) {
			errs = append(errs, fmt.Sprintf("daily: %s must be within 0..%d, got %d", f, ir.MaxScore, *v))
		}
	}
	if d.Scores.Any() && !d.HasAssessment {
		errs = append(errs, "daily: scores present but has_assessment is false")
	}
	return errs
}

// Document returns the aggregate as a flat document of int64, bool and
// string values. Absent scores are omitted and times are Unix milliseconds.
func (d Daily) Document() map[string]any {
	doc := map[string]any{
		ir.FieldSubjectID:     d.SubjectID,
		ir.FieldDate:          ir.DateKey(d.Date),
		ir.FieldStreak:        d.Streak,
		ir.FieldHasAssessment: d.HasAssessment,
	}
	d.Counters.document(doc)
	for _, f := range ir.ScoreFields {
		if v := d.Scores.Get(f); v != nil {
			doc[string(f)] = int64(*v)
		}
	}
	if !d.UpdatedAt.IsZero() {
		doc[ir.FieldUpdatedAt] = d.UpdatedAt.UnixMilli()
	}
	return doc
}

// Fingerprint returns a structural hash over every field.
func (d Daily) Fingerprint() string {
	return fingerprint(d.Document())
}

// Equal compares two aggregates field by field.
func (d Daily) Equal(o Daily) bool {
	return d.Fingerprint() == o.Fingerprint()
}

// Apply returns the aggregate with field operations merged in, the same way
// a store merges them. Counters that would go negative are clamped at zero.
func (d Daily) Apply(ops ir.FieldOps) (Daily, error) {
	doc := d.Document()
	if err := ir.ApplyOps(doc, ops); err != nil {
		return Daily{}, fmt.Errorf("apply to daily %s: %w", ir.DateKey(d.Date), err)
	}
	out, _, err := DailyFromExternal(doc, d.Date.Location())
	if err != nil {
		return Daily{}, err
	}
	return out, nil
}

// DailyPatch overrides Daily fields independently; the zero value keeps all.
type DailyPatch struct {
	SubjectID       ir.Patch[string]
	Date            ir.Patch[time.Time]
	DosesGiven      ir.Patch[int64]
	DosesScheduled  ir.Patch[int64]
	Missed          ir.Patch[int64]
	MedicationDone  ir.Patch[bool]
	VolumeGiven     ir.Patch[int64]
	FluidSessions   ir.Patch[int64]
	FluidScheduled  ir.Patch[int64]
	FluidDone       ir.Patch[bool]
	SymptomCount    ir.Patch[int64]
	SymptomSeverity ir.Patch[int64]
	Streak          ir.Patch[int64]
	Scores          map[ir.ScoreField]ir.Patch[int]
	HasAssessment   ir.Patch[bool]
	UpdatedAt       ir.Patch[time.Time]
}

// CopyWith returns a copy with the patch applied. A Clear on a score makes
// it absent; a Clear on any other field resets it to its zero value.
func (d Daily) CopyWith(p DailyPatch) Daily {
	out := Daily{
		SubjectID: p.SubjectID.Apply(d.SubjectID),
		Date:      p.Date.Apply(d.Date),
		Counters: Counters{
			DosesGiven:      p.DosesGiven.Apply(d.DosesGiven),
			DosesScheduled:  p.DosesScheduled.Apply(d.DosesScheduled),
			Missed:          p.Missed.Apply(d.Missed),
			MedicationDone:  p.MedicationDone.Apply(d.MedicationDone),
			VolumeGiven:     p.VolumeGiven.Apply(d.VolumeGiven),
			FluidSessions:   p.FluidSessions.Apply(d.FluidSessions),
			FluidScheduled:  p.FluidScheduled.Apply(d.FluidScheduled),
			FluidDone:       p.FluidDone.Apply(d.FluidDone),
			SymptomCount:    p.SymptomCount.Apply(d.SymptomCount),
			SymptomSeverity: p.SymptomSeverity.Apply(d.SymptomSeverity),
		},
		Streak:        p.Streak.Apply(d.Streak),
		Scores:        d.Scores.Clone(),
		HasAssessment: p.HasAssessment.Apply(d.HasAssessment),
		UpdatedAt:     p.UpdatedAt.Apply(d.UpdatedAt),
	}
	for f, sp := range p.Scores {
		ref := out.Scores.Ref(f)
		*ref = sp.ApplyOptional(*ref)
	}
	return out
}

// Weekly is the rolling summary of one subject's ISO week. It receives the
// same increments as the daily aggregates of that week.
type Weekly struct {
	SubjectID string `json:"subject_id"`
	Week      string `json:"week"` // ISO week key, e.g. 2026-W11
	Counters
	UpdatedAt time.Time `json:"updated_at"`
}

// WeeklyFromExternal builds a Weekly from an untrusted document.
func WeeklyFromExternal(doc map[string]any) (Weekly, []Repair, error) {
	week := stringField(doc, ir.FieldWeek)
	if week == "" {
		return Weekly{}, nil, fmt.Errorf("weekly aggregate: %s is required", ir.FieldWeek)
	}
	l := &repairLog{kind: ir.DocWeekly}
	w := Weekly{
		SubjectID: stringField(doc, ir.FieldSubjectID),
		Week:      week,
		Counters:  readCounters(doc, l),
		UpdatedAt: l.timestamp(doc, ir.FieldUpdatedAt),
	}
	return w, l.repairs, nil
}

// Key returns the document key of the aggregate.
func (w Weekly) Key() ir.DocumentKey {
	return ir.DocumentKey{SubjectID: w.SubjectID, Kind: ir.DocWeekly, ID: w.Week}
}

// Validate returns every invariant violation as a readable message.
func (w Weekly) Validate() []string {
	var errs []string
	if w.SubjectID == "" {
		errs = append(errs, "weekly: subject_id is required")
	}
	if w.Week == "" {
		errs = append(errs, "weekly: week is required")
	}
	return append(errs, w.Counters.validate("weekly")...)
}

// Document returns the aggregate as a flat document.
func (w Weekly) Document() map[string]any {
	doc := map[string]any{
		ir.FieldSubjectID: w.SubjectID,
		ir.FieldWeek:      w.Week,
	}
	w.Counters.document(doc)
	if !w.UpdatedAt.IsZero() {
		doc[ir.FieldUpdatedAt] = w.UpdatedAt.UnixMilli()
	}
	return doc
}

// Equal compares two aggregates field by field.
func (w Weekly) Equal(o Weekly) bool {
	return fingerprint(w.Document()) == fingerprint(o.Document())
}

func fingerprint(doc map[string]any) string {
	fp, err := ir.Fingerprint(ir.DomainAggregate, doc)
	if err != nil {
		// Documents hold only strings, int64 and bools.
		panic(fmt.Sprintf("aggregate fingerprint: %v", err))
	}
	return fp
}
