package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/carelog/internal/delta"
	"github.com/roach88/carelog/internal/ir"
)

// SessionPlanner plans session mutations: the session document itself plus
// the daily, weekly and monthly increments of its delta.
//
// An edit that keeps the event on its day is planned as the edit delta. An
// edit that moves it to another day removes its contribution from the old
// day and adds it to the new one. A delta with no updates, such as a
// note-only edit, touches no aggregate.
type SessionPlanner struct{}

// Plan implements Planner.
func (SessionPlanner) Plan(subjectID string, m Mutation[ir.SessionEvent], at time.Time) (ir.Batch, error) {
	var writes []ir.DocumentWrite
	switch m.Kind {
	case MutationSave, MutationUpdate:
		if m.After == nil || (m.Kind == MutationUpdate && m.Before == nil) {
			return ir.Batch{}, fmt.Errorf("%s without its events", m.Kind)
		}
		w, err := sessionWrite(subjectID, *m.After, at)
		if err != nil {
			return ir.Batch{}, err
		}
		writes = append(writes, w)
	case MutationDelete:
		if m.Before == nil {
			return ir.Batch{}, errors.New("delete without an event")
		}
		writes = append(writes, ir.DocumentWrite{
			Key:  ir.DocumentKey{SubjectID: subjectID, Kind: ir.DocSession, ID: m.Before.ID},
			Mode: ir.WriteDelete,
			At:   at,
		})
	default:
		return ir.Batch{}, fmt.Errorf("unknown mutation %s", m.Kind)
	}
	for _, dd := range sessionDeltas(m) {
		writes = append(writes, aggregateWrites(subjectID, dd.day, dd.delta, at)...)
	}
	return ir.NewBatch(subjectID, writes...)
}

// dayDelta is a delta bound to the day it applies to.
type dayDelta struct {
	day   time.Time
	delta delta.Delta
}

// sessionDeltas returns the aggregate deltas of a session mutation, at most
// one per affected day.
func sessionDeltas(m Mutation[ir.SessionEvent]) []dayDelta {
	switch m.Kind {
	case MutationSave:
		return []dayDelta{{m.After.OccurredAt, delta.FromNewEvent(*m.After, false)}}
	case MutationUpdate:
		before, after := *m.Before, *m.After
		if ir.SameDay(before.OccurredAt, after.OccurredAt) {
			return []dayDelta{{after.OccurredAt, delta.FromEdit(before, after)}}
		}
		return []dayDelta{
			{before.OccurredAt, delta.FromRemoval(before)},
			{after.OccurredAt, delta.FromNewEvent(after, false)},
		}
	case MutationDelete:
		return []dayDelta{{m.Before.OccurredAt, delta.FromRemoval(*m.Before)}}
	}
	return nil
}

func sessionWrite(subjectID string, e ir.SessionEvent, at time.Time) (ir.DocumentWrite, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return ir.DocumentWrite{}, fmt.Errorf("encode session %s: %w", e.ID, err)
	}
	return ir.DocumentWrite{
		Key:    ir.DocumentKey{SubjectID: subjectID, Kind: ir.DocSession, ID: e.ID},
		Mode:   ir.WriteReplace,
		Body:   body,
		SortAt: e.OccurredAt,
		At:     at,
	}, nil
}

// aggregateWrites returns the merges of d into the day, week and month
// containing day, or nothing when d changes no aggregate.
func aggregateWrites(subjectID string, day time.Time, d delta.Delta, at time.Time) []ir.DocumentWrite {
	if !d.HasUpdates() {
		return nil
	}
	return []ir.DocumentWrite{
		{Key: ir.DailyKey(subjectID, day), Mode: ir.WriteMerge, Fields: d.Materialize(at), At: at},
		{Key: ir.WeeklyKey(subjectID, day), Mode: ir.WriteMerge, Fields: d.Materialize(at), At: at},
		{Key: ir.MonthlyKey(subjectID, day), Mode: ir.WriteMerge, Fields: d.MaterializeMonthly(day, at), At: at},
	}
}

// AssessmentPlanner plans assessment mutations: the assessment document
// plus the scores and has_assessment flag of its day's aggregate.
type AssessmentPlanner struct{}

// Plan implements Planner.
func (AssessmentPlanner) Plan(subjectID string, m Mutation[ir.Assessment], at time.Time) (ir.Batch, error) {
	var writes []ir.DocumentWrite
	switch m.Kind {
	case MutationSave, MutationUpdate:
		if m.After == nil {
			return ir.Batch{}, fmt.Errorf("%s without an assessment", m.Kind)
		}
		a := *m.After
		body, err := json.Marshal(a)
		if err != nil {
			return ir.Batch{}, fmt.Errorf("encode assessment %s: %w", a.ID, err)
		}
		writes = append(writes,
			ir.DocumentWrite{
				Key:    ir.DocumentKey{SubjectID: subjectID, Kind: ir.DocAssessment, ID: a.ID},
				Mode:   ir.WriteReplace,
				Body:   body,
				SortAt: a.Date,
				At:     at,
			},
			ir.DocumentWrite{
				Key:    ir.DailyKey(subjectID, a.Date),
				Mode:   ir.WriteMerge,
				Fields: scoreOps(&a.Scores, at),
				At:     at,
			},
		)

	case MutationDelete:
		if m.Before == nil {
			return ir.Batch{}, errors.New("delete without an assessment")
		}
		writes = append(writes,
			ir.DocumentWrite{
				Key:  ir.DocumentKey{SubjectID: subjectID, Kind: ir.DocAssessment, ID: m.Before.ID},
				Mode: ir.WriteDelete,
				At:   at,
			},
			ir.DocumentWrite{
				Key:    ir.DailyKey(subjectID, m.Before.Date),
				Mode:   ir.WriteMerge,
				Fields: scoreOps(nil, at),
				At:     at,
			},
		)

	default:
		return ir.Batch{}, fmt.Errorf("unknown mutation %s", m.Kind)
	}
	return ir.NewBatch(subjectID, writes...)
}

// scoreOps assigns every present score and unsets every absent one, so an
// edit that drops a score also drops it from the daily aggregate. Nil
// scores clear the day's assessment.
func scoreOps(s *ir.Scores, at time.Time) ir.FieldOps {
	ops := ir.FieldOps{
		ir.FieldUpdatedAt:     ir.Stamp(at),
		ir.FieldHasAssessment: ir.Assign{Value: ir.Bool(s != nil)},
	}
	for _, f := range ir.ScoreFields {
		if s != nil {
			if v := s.Get(f); v != nil {
				ops[string(f)] = ir.Assign{Value: ir.Int(*v)}
				continue
			}
		}
		ops[string(f)] = ir.Unset{}
	}
	return ops
}
