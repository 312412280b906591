// Package testutil provides deterministic test doubles for carelog.
package testutil

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/roach88/carelog/internal/aggregate"
	"github.com/roach88/carelog/internal/ir"
)

// ErrInjected is the default error returned by injected failures.
var ErrInjected = errors.New("injected failure")

type record struct {
	body   []byte
	sortAt time.Time
}

// FakeStore is an in-memory store with failure injection and call
// counting. It applies batches with the same semantics as the SQLite
// store: all writes or none, and a batch ID applied at most once.
//
// Thread-safety: FakeStore is safe for concurrent use via internal mutex.
type FakeStore struct {
	mu       sync.Mutex
	records  map[ir.DocumentKey]record
	docs     map[ir.DocumentKey]map[string]any
	applied  map[string]bool
	batches  []ir.Batch
	reads    int
	commits  int
	failRead []error
	failNext []error

	// BeforeCommit, if set, runs before each commit without the lock
	// held. Tests block in it to hold a commit in flight.
	BeforeCommit func(ir.Batch)

	// BeforeRead, if set, runs before each FetchRecent without the lock
	// held.
	BeforeRead func()
}

// NewFakeStore creates an empty store.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		records: make(map[ir.DocumentKey]record),
		docs:    make(map[ir.DocumentKey]map[string]any),
		applied: make(map[string]bool),
	}
}

// FailCommits makes the next len(errs) commits fail with errs in order.
// A nil entry fails with ErrInjected.
func (s *FakeStore) FailCommits(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = append(s.failNext, orInjected(errs)...)
}

// FailReads makes the next len(errs) reads fail with errs in order.
func (s *FakeStore) FailReads(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failRead = append(s.failRead, orInjected(errs)...)
}

func orInjected(errs []error) []error {
	out := make([]error, len(errs))
	for i, err := range errs {
		if err == nil {
			err = ErrInjected
		}
		out[i] = err
	}
	return out
}

// Reads returns how many FetchRecent calls reached the store.
func (s *FakeStore) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

// Commits returns how many CommitBatch calls reached the store.
func (s *FakeStore) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

// Batches returns the applied batches in order.
func (s *FakeStore) Batches() []ir.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.batches)
}

// CommitBatch applies every write of batch or none.
func (s *FakeStore) CommitBatch(ctx context.Context, batch ir.Batch) error {
	if s.BeforeCommit != nil {
		s.BeforeCommit(batch)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.commits++
	if len(s.failNext) > 0 {
		err := s.failNext[0]
		s.failNext = s.failNext[1:]
		return fmt.Errorf("commit batch %s: %w", batch.ID, err)
	}
	if s.applied[batch.ID] {
		return nil
	}

	// Stage into copies so a failing write leaves nothing applied.
	records := maps.Clone(s.records)
	docs := maps.Clone(s.docs)
	for i, w := range batch.Writes {
		switch w.Mode {
		case ir.WriteReplace:
			records[w.Key] = record{body: slices.Clone(w.Body), sortAt: w.SortAt}
		case ir.WriteDelete:
			delete(records, w.Key)
			delete(docs, w.Key)
		case ir.WriteMerge:
			doc := maps.Clone(docs[w.Key])
			if doc == nil {
				doc = make(map[string]any)
			}
			if err := ir.ApplyOps(doc, w.Fields); err != nil {
				return fmt.Errorf("commit batch %s: write %d: %w", batch.ID, i, err)
			}
			docs[w.Key] = doc
		default:
			return fmt.Errorf("commit batch %s: write %d: unknown mode %s", batch.ID, i, w.Mode)
		}
	}
	s.records, s.docs = records, docs
	s.applied[batch.ID] = true
	s.batches = append(s.batches, batch)
	return nil
}

// FetchRecentSessions returns the subject's sessions, newest first.
func (s *FakeStore) FetchRecentSessions(ctx context.Context, subjectID string, limit int, cursor *ir.Cursor) ([]ir.SessionEvent, error) {
	return fetchRecent[ir.SessionEvent](s, ir.DocSession, subjectID, limit, cursor)
}

// FetchRecentAssessments returns the subject's assessments, newest first.
func (s *FakeStore) FetchRecentAssessments(ctx context.Context, subjectID string, limit int, cursor *ir.Cursor) ([]ir.Assessment, error) {
	return fetchRecent[ir.Assessment](s, ir.DocAssessment, subjectID, limit, cursor)
}

func fetchRecent[T any](s *FakeStore, kind ir.DocumentKind, subjectID string, limit int, cursor *ir.Cursor) ([]T, error) {
	if s.BeforeRead != nil {
		s.BeforeRead()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if len(s.failRead) > 0 {
		err := s.failRead[0]
		s.failRead = s.failRead[1:]
		return nil, fmt.Errorf("fetch recent %s: %w", kind, err)
	}

	var keys []ir.DocumentKey
	for k := range s.records {
		if k.SubjectID == subjectID && k.Kind == kind {
			keys = append(keys, k)
		}
	}
	slices.SortFunc(keys, func(a, b ir.DocumentKey) int {
		if c := s.records[b].sortAt.Compare(s.records[a].sortAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})

	out := make([]T, 0, min(len(keys), max(limit, 0)))
	for _, k := range keys {
		r := s.records[k]
		if cursor != nil {
			c := r.sortAt.Compare(cursor.Before)
			if c > 0 || (c == 0 && k.ID >= cursor.ID) {
				continue
			}
		}
		if limit > 0 && len(out) == limit {
			break
		}
		var v T
		if err := json.Unmarshal(r.body, &v); err != nil {
			return nil, fmt.Errorf("fetch recent %s: decode %s: %w", kind, k, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// FetchDaily returns the day's aggregate, or nil when it has none.
func (s *FakeStore) FetchDaily(ctx context.Context, subjectID string, day time.Time) (*aggregate.Daily, error) {
	doc, ok := s.Document(ir.DailyKey(subjectID, day))
	if !ok {
		return nil, nil
	}
	doc[ir.FieldSubjectID] = subjectID
	doc[ir.FieldDate] = ir.DateKey(day)
	d, _, err := aggregate.DailyFromExternal(doc, day.Location())
	if err != nil {
		return nil, err
	}
	d.Streak = 0
	for cur := d.Date; ; cur = cur.AddDate(0, 0, -1) {
		prev, ok := s.Document(ir.DailyKey(subjectID, cur))
		if !ok {
			break
		}
		prev[ir.FieldDate] = ir.DateKey(cur)
		p, _, err := aggregate.DailyFromExternal(prev, cur.Location())
		if err != nil || !p.Treated() {
			break
		}
		d.Streak++
	}
	return &d, nil
}

// FetchMonthly returns the month's aggregate as of asOf, or nil when it has
// none.
func (s *FakeStore) FetchMonthly(ctx context.Context, subjectID string, month, asOf time.Time) (*aggregate.Monthly, error) {
	doc, ok := s.Document(ir.MonthlyKey(subjectID, month))
	if !ok {
		return nil, nil
	}
	start := ir.StartOfMonth(month)
	doc = ir.ExpandIndexed(doc, ir.DaysInMonth(start.Year(), start.Month()))
	doc[ir.FieldSubjectID] = subjectID
	doc[ir.FieldMonth] = ir.MonthKey(start)
	m, _, err := aggregate.MonthlyFromExternal(doc, month.Location(), asOf)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Document returns a copy of a merge document.
func (s *FakeStore) Document(key ir.DocumentKey) (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[key]
	if !ok {
		return nil, false
	}
	return maps.Clone(doc), true
}

// HasRecord reports whether a replace document exists.
func (s *FakeStore) HasRecord(key ir.DocumentKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[key]
	return ok
}

// Sessions returns the store as an engine session store.
func (s *FakeStore) Sessions() SessionView {
	return SessionView{s}
}

// Assessments returns the store as an engine assessment store.
func (s *FakeStore) Assessments() AssessmentView {
	return AssessmentView{s}
}

// SessionView reads sessions through FetchRecent.
type SessionView struct{ *FakeStore }

// FetchRecent implements engine.Reader.
func (v SessionView) FetchRecent(ctx context.Context, subjectID string, limit int, cursor *ir.Cursor) ([]ir.SessionEvent, error) {
	return v.FetchRecentSessions(ctx, subjectID, limit, cursor)
}

// AssessmentView reads assessments through FetchRecent.
type AssessmentView struct{ *FakeStore }

// FetchRecent implements engine.Reader.
func (v AssessmentView) FetchRecent(ctx context.Context, subjectID string, limit int, cursor *ir.Cursor) ([]ir.Assessment, error) {
	return v.FetchRecentAssessments(ctx, subjectID, limit, cursor)
}
