// Package daycache holds the ephemeral per-day view used for dedup checks.
//
// A Cache covers one subject and one calendar day. It is never persisted;
// when lost it is rebuilt from the day's Daily aggregate plus the events
// held in memory. A Cache is not safe for concurrent use; its owner
// serializes access.
package daycache

import (
	"slices"
	"time"

	"github.com/roach88/carelog/internal/aggregate"
	"github.com/roach88/carelog/internal/ir"
)

// DefaultTolerance is the dedup window around a scheduled time.
const DefaultTolerance = 2 * time.Hour

// Tally is the day's record for one named treatment.
type Tally struct {
	Sessions int         `json:"sessions"`
	Given    float64     `json:"given"`
	Times    []time.Time `json:"times"`
}

// Entry is one locally recorded session.
// Name is empty for unnamed sessions; Volume is set for fluid sessions.
type Entry struct {
	Name   string
	Given  float64
	Volume *float64
	At     time.Time
}

// EntryFor maps a session event to its cache entry.
func EntryFor(e ir.SessionEvent) Entry {
	entry := Entry{Name: e.TreatmentName(), At: e.OccurredAt}
	if e.Medication != nil {
		entry.Given = e.Medication.DosageGiven
	}
	if e.Kind == ir.KindFluid && e.Fluid != nil {
		v := e.Fluid.VolumeGiven
		entry.Volume = &v
	}
	return entry
}

// Cache is the day-scoped view of one subject's logged sessions.
type Cache struct {
	SubjectID     string            `json:"subject_id"`
	Day           time.Time         `json:"day"`
	Treatments    map[string]*Tally `json:"treatments"`
	FluidSessions int               `json:"fluid_sessions"`
	FluidVolume   float64           `json:"fluid_volume"`
}

// Empty returns a cache for a day with no activity.
func Empty(subjectID string, day time.Time) *Cache {
	return &Cache{
		SubjectID:  subjectID,
		Day:        ir.StartOfDay(day),
		Treatments: make(map[string]*Tally),
	}
}

// Covers reports whether t falls on the cache's day.
func (c *Cache) Covers(t time.Time) bool {
	return ir.SameDay(c.Day, t)
}

// DateKey returns the day's document key.
func (c *Cache) DateKey() string {
	return ir.DateKey(c.Day)
}

// RecordSession adds one session. A named entry appends its time to the
// name's list; repeated identical times are kept.
func (c *Cache) RecordSession(e Entry) {
	if e.Name != "" {
		t, ok := c.Treatments[e.Name]
		if !ok {
			t = &Tally{}
			c.Treatments[e.Name] = t
		}
		t.Sessions++
		t.Given += e.Given
		t.Times = append(t.Times, e.At)
	}
	if e.Volume != nil {
		c.FluidSessions++
		c.FluidVolume += *e.Volume
	}
}

// RemoveSession undoes RecordSession for the same entry. Only one matching
// time is removed, and a name with no sessions left is dropped.
func (c *Cache) RemoveSession(e Entry) {
	if t, ok := c.Treatments[e.Name]; ok && e.Name != "" {
		t.Sessions--
		t.Given -= e.Given
		if i := slices.IndexFunc(t.Times, e.At.Equal); i >= 0 {
			t.Times = slices.Delete(t.Times, i, i+1)
		}
		if t.Sessions <= 0 {
			delete(c.Treatments, e.Name)
		}
	}
	if e.Volume != nil {
		c.FluidSessions = max(c.FluidSessions-1, 0)
		c.FluidVolume = max(c.FluidVolume-*e.Volume, 0)
	}
}

// HasLoggedNear reports whether name was logged within tolerance of
// scheduledAt, bounds included. Names match exactly and case-sensitively.
func (c *Cache) HasLoggedNear(name string, scheduledAt time.Time, tolerance time.Duration) bool {
	t, ok := c.Treatments[name]
	if !ok {
		return false
	}
	for _, at := range t.Times {
		d := at.Sub(scheduledAt)
		if d < 0 {
			d = -d
		}
		if d <= tolerance {
			return true
		}
	}
	return false
}

// HasAnySessions reports whether anything was logged today.
func (c *Cache) HasAnySessions() bool {
	return c.FluidSessions > 0 || len(c.Treatments) > 0
}

// HasLogged reports whether name was logged today.
func (c *Cache) HasLogged(name string) bool {
	t, ok := c.Treatments[name]
	return ok && t.Sessions > 0
}

// Tally returns a copy of the record for name.
func (c *Cache) Tally(name string) (Tally, bool) {
	t, ok := c.Treatments[name]
	if !ok {
		return Tally{}, false
	}
	return Tally{Sessions: t.Sessions, Given: t.Given, Times: slices.Clone(t.Times)}, true
}

// Clone returns a deep copy.
func (c *Cache) Clone() *Cache {
	out := &Cache{
		SubjectID:     c.SubjectID,
		Day:           c.Day,
		Treatments:    make(map[string]*Tally, len(c.Treatments)),
		FluidSessions: c.FluidSessions,
		FluidVolume:   c.FluidVolume,
	}
	for name := range c.Treatments {
		t, _ := c.Tally(name)
		out.Treatments[name] = &t
	}
	return out
}

// Rebuild reconstructs the cache for day. Fluid totals come from the daily
// aggregate when one is given, since it also counts sessions logged
// elsewhere; named tallies come from the events that fall on day.
func Rebuild(subjectID string, day time.Time, daily *aggregate.Daily, events []ir.SessionEvent) *Cache {
	c := Empty(subjectID, day)
	for _, e := range events {
		if e.SubjectID != subjectID || !c.Covers(e.OccurredAt) {
			continue
		}
		entry := EntryFor(e)
		if daily != nil {
			entry.Volume = nil
		}
		c.RecordSession(entry)
	}
	if daily != nil {
		c.FluidSessions = int(daily.FluidSessions)
		c.FluidVolume = float64(daily.VolumeGiven)
	}
	return c
}
