package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/carelog/internal/ir"
)

// DefaultSubject is the subject a scenario runs for when it names none.
const DefaultSubject = "pet-1"

// Scenario defines a behavioral test of the session engine.
// A scenario seeds stored sessions, drives a Sessions controller through a
// flow of mutations under a fixed clock, and asserts on the resulting
// aggregates, day cache and controller state.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Subject is the subject whose sessions are logged.
	Subject string `yaml:"subject,omitempty"`

	// Now is the scenario clock's start time, RFC 3339.
	Now string `yaml:"now"`

	// Setup holds sessions committed straight to the store before the
	// controller first loads, as if logged from another device.
	Setup []EventSpec `yaml:"setup,omitempty"`

	// Flow holds the controller operations, run in order.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final store and controller state.
	Assertions []Assertion `yaml:"assertions"`
}

// EventSpec describes a session event. Every field but ID and Kind is
// optional; on edit only the fields given change.
type EventSpec struct {
	ID   string `yaml:"id"`
	Kind string `yaml:"kind,omitempty"`

	// At is the occurrence time: RFC 3339, or a duration relative to the
	// scenario clock such as "-2h". Empty means now.
	At   string  `yaml:"at,omitempty"`
	Note *string `yaml:"note,omitempty"`

	// Medication.
	Name        string   `yaml:"name,omitempty"`
	Given       *float64 `yaml:"given,omitempty"`
	Scheduled   *float64 `yaml:"scheduled,omitempty"`
	Missed      *bool    `yaml:"missed,omitempty"`
	ScheduledAt string   `yaml:"scheduled_at,omitempty"` // fluid too

	// Fluid.
	Volume *float64 `yaml:"volume,omitempty"`
	Goal   *float64 `yaml:"goal,omitempty"`
	Site   string   `yaml:"site,omitempty"`

	// Symptom.
	Symptom  string `yaml:"symptom,omitempty"`
	Count    *int   `yaml:"count,omitempty"`
	Category string `yaml:"category,omitempty"`
}

// FlowStep is one controller operation. Exactly one of Log, Edit, Remove,
// Advance or Reload is set.
type FlowStep struct {
	// Log saves a new session.
	Log *EventSpec `yaml:"log,omitempty"`

	// Edit changes a loaded session; ID selects it.
	Edit *EventSpec `yaml:"edit,omitempty"`

	// Remove deletes the loaded session with this ID.
	Remove string `yaml:"remove,omitempty"`

	// Advance moves the scenario clock forward by a duration.
	Advance string `yaml:"advance,omitempty"`

	// Reload loads the controller again; it is forced when true.
	Reload *bool `yaml:"reload,omitempty"`

	// FailCommit makes the store reject this step's commit.
	FailCommit bool `yaml:"fail_commit,omitempty"`

	// Expect specifies the expected outcome. If nil, the step must
	// succeed.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies how a step is expected to end.
type ExpectClause struct {
	// Error is the expected error kind: validation or persistence.
	// Empty means success.
	Error string `yaml:"error"`
}

// Assertion validates the final state.
type Assertion struct {
	// Type specifies the assertion type; see the Assert constants.
	Type string `yaml:"type"`

	// Date selects the day of a daily, weekly or monthly document
	// (YYYY-MM-DD; monthly also accepts YYYY-MM).
	Date string `yaml:"date,omitempty"`

	// Expect holds expected document or cache fields. Subset match; a
	// null value requires the field to be absent.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Absent requires the whole document to be missing.
	Absent bool `yaml:"absent,omitempty"`

	// Name, At, Tolerance and Want drive logged_near.
	Name      string `yaml:"name,omitempty"`
	At        string `yaml:"at,omitempty"`
	Tolerance string `yaml:"tolerance,omitempty"`
	Want      *bool  `yaml:"want,omitempty"`

	// Count is the expected number of committed batches.
	Count *int `yaml:"count,omitempty"`

	// IDs is the expected session order, newest first.
	IDs []string `yaml:"ids,omitempty"`

	// State is the expected controller state name.
	State string `yaml:"state,omitempty"`
}

// Assertion type constants.
const (
	AssertDaily      = "daily"
	AssertWeekly     = "weekly"
	AssertMonthly    = "monthly"
	AssertToday      = "today"
	AssertLoggedNear = "logged_near"
	AssertSessions   = "sessions"
	AssertBatchCount = "batch_count"
	AssertState      = "state"
	AssertNoDrift    = "no_drift"
)

// Expected error kinds.
const (
	ExpectValidation  = "validation"
	ExpectPersistence = "persistence"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Subject == "" {
		scenario.Subject = DefaultSubject
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Now == "" {
		return fmt.Errorf("now is required")
	}
	now, err := time.Parse(time.RFC3339, s.Now)
	if err != nil {
		return fmt.Errorf("now: %w", err)
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, e := range s.Setup {
		if e.ID == "" {
			return fmt.Errorf("setup[%d]: id is required", i)
		}
		if e.Kind == "" {
			return fmt.Errorf("setup[%d]: kind is required", i)
		}
		if _, err := resolveTime(e.At, now); err != nil {
			return fmt.Errorf("setup[%d]: at: %w", i, err)
		}
	}

	for i := range s.Flow {
		if err := validateStep(i, &s.Flow[i], now); err != nil {
			return err
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, step *FlowStep, now time.Time) error {
	actions := 0
	if step.Log != nil {
		actions++
		if step.Log.Kind == "" {
			return fmt.Errorf("flow[%d]: log kind is required", index)
		}
	}
	if step.Edit != nil {
		actions++
		if step.Edit.ID == "" {
			return fmt.Errorf("flow[%d]: edit id is required", index)
		}
	}
	if step.Remove != "" {
		actions++
	}
	if step.Advance != "" {
		actions++
		d, err := time.ParseDuration(step.Advance)
		if err != nil {
			return fmt.Errorf("flow[%d]: advance: %w", index, err)
		}
		if d < 0 {
			return fmt.Errorf("flow[%d]: advance must not be negative", index)
		}
	}
	if step.Reload != nil {
		actions++
	}
	if actions != 1 {
		return fmt.Errorf("flow[%d]: exactly one of log, edit, remove, advance or reload is required, got %d", index, actions)
	}

	for _, e := range []*EventSpec{step.Log, step.Edit} {
		if e == nil {
			continue
		}
		if _, err := resolveTime(e.At, now); err != nil {
			return fmt.Errorf("flow[%d]: at: %w", index, err)
		}
	}

	if step.Expect != nil {
		switch step.Expect.Error {
		case "", ExpectValidation, ExpectPersistence:
		default:
			return fmt.Errorf("flow[%d]: expect.error must be %q or %q, got %q",
				index, ExpectValidation, ExpectPersistence, step.Expect.Error)
		}
	}
	return nil
}

// validateAssertion checks assertion-specific required fields.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case AssertDaily, AssertWeekly, AssertMonthly:
		if a.Date == "" {
			return fmt.Errorf("assertions[%d]: %s requires 'date' field", index, a.Type)
		}
		if len(a.Expect) == 0 && !a.Absent {
			return fmt.Errorf("assertions[%d]: %s requires 'expect' or 'absent'", index, a.Type)
		}
	case AssertToday:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: today requires 'expect' field", index)
		}
	case AssertLoggedNear:
		if a.Name == "" || a.At == "" {
			return fmt.Errorf("assertions[%d]: logged_near requires 'name' and 'at' fields", index)
		}
		if a.Tolerance != "" {
			if _, err := time.ParseDuration(a.Tolerance); err != nil {
				return fmt.Errorf("assertions[%d]: tolerance: %w", index, err)
			}
		}
	case AssertSessions:
		if a.IDs == nil {
			return fmt.Errorf("assertions[%d]: sessions requires 'ids' field", index)
		}
	case AssertBatchCount:
		if a.Count == nil {
			return fmt.Errorf("assertions[%d]: batch_count requires 'count' field", index)
		}
		if *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: batch_count 'count' must be >= 0", index)
		}
	case AssertState:
		if a.State == "" {
			return fmt.Errorf("assertions[%d]: state requires 'state' field", index)
		}
	case AssertNoDrift:
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

// resolveTime parses an RFC 3339 time or a duration relative to now.
func resolveTime(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return now, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(d), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is neither RFC 3339 nor a duration", s)
	}
	return t.In(now.Location()), nil
}

// build returns a new event for e with its kind's defaults: a
// medication dose of 1 given and scheduled, a completed fluid session.
func (e EventSpec) build(subjectID string, now time.Time) (ir.SessionEvent, error) {
	ev := ir.SessionEvent{
		ID:        e.ID,
		SubjectID: subjectID,
		Kind:      ir.TreatmentKind(e.Kind),
		CreatedAt: now,
	}
	switch ev.Kind {
	case ir.KindMedication:
		ev.Medication = &ir.MedicationDose{DosageGiven: 1, DosageScheduled: 1, Completed: true}
	case ir.KindFluid:
		ev.Fluid = &ir.FluidSession{Completed: true}
	case ir.KindSymptom:
		ev.Symptom = &ir.SymptomCheck{}
	}
	if err := e.apply(&ev, now); err != nil {
		return ir.SessionEvent{}, err
	}
	return ev, nil
}

// apply overwrites the fields of ev that e sets. At is applied only
// when given.
func (e EventSpec) apply(ev *ir.SessionEvent, now time.Time) error {
	if e.At != "" || ev.OccurredAt.IsZero() {
		at, err := resolveTime(e.At, now)
		if err != nil {
			return err
		}
		ev.OccurredAt = at
	}
	if e.Note != nil {
		note := *e.Note
		ev.Note = &note
	}

	var scheduledAt *time.Time
	if e.ScheduledAt != "" {
		t, err := resolveTime(e.ScheduledAt, now)
		if err != nil {
			return fmt.Errorf("scheduled_at: %w", err)
		}
		scheduledAt = &t
	}

	if m := ev.Medication; m != nil {
		if e.Name != "" {
			m.Name = e.Name
		}
		if e.Scheduled != nil {
			m.DosageScheduled = *e.Scheduled
		}
		if e.Missed != nil {
			m.Completed = !*e.Missed
			if *e.Missed {
				m.DosageGiven = 0
			} else if m.DosageGiven == 0 {
				m.DosageGiven = m.DosageScheduled
			}
		}
		if e.Given != nil {
			m.DosageGiven = *e.Given
		}
		if scheduledAt != nil {
			m.ScheduledAt = scheduledAt
		}
	}
	if f := ev.Fluid; f != nil {
		if e.Volume != nil {
			f.VolumeGiven = *e.Volume
		}
		if e.Goal != nil {
			g := *e.Goal
			f.GoalVolume = &g
		}
		if e.Site != "" {
			f.InjectionSite = e.Site
		}
		if scheduledAt != nil {
			f.ScheduledAt = scheduledAt
		}
	}
	if s := ev.Symptom; s != nil {
		if e.Symptom != "" {
			s.Symptom = ir.SymptomKind(e.Symptom)
		}
		switch {
		case e.Count != nil:
			s.Value = ir.Count(*e.Count)
		case e.Category != "":
			s.Value = ir.Category(e.Category)
		}
	}
	return nil
}
