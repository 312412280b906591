package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/roach88/carelog/internal/aggregate"
	"github.com/roach88/carelog/internal/ir"
)

// FetchRecentSessions returns up to limit sessions of the subject, newest
// first. A limit <= 0 returns all of them. Pages continue after cursor.
func (s *Store) FetchRecentSessions(ctx context.Context, subjectID string, limit int, cursor *ir.Cursor) ([]ir.SessionEvent, error) {
	return fetchRecent[ir.SessionEvent](ctx, s.db, ir.DocSession, subjectID, limit, cursor)
}

// FetchRecentAssessments returns up to limit assessments of the subject,
// newest first.
func (s *Store) FetchRecentAssessments(ctx context.Context, subjectID string, limit int, cursor *ir.Cursor) ([]ir.Assessment, error) {
	return fetchRecent[ir.Assessment](ctx, s.db, ir.DocAssessment, subjectID, limit, cursor)
}

// fetchRecent pages records by (sort_at DESC, id DESC). The id tiebreak
// keeps pages stable when two records share a timestamp.
func fetchRecent[T any](ctx context.Context, db *sql.DB, kind ir.DocumentKind, subjectID string, limit int, cursor *ir.Cursor) ([]T, error) {
	var q strings.Builder
	args := []any{subjectID, string(kind)}
	q.WriteString(`
		SELECT id, body FROM records
		WHERE subject_id = ? AND kind = ?`)
	if cursor != nil {
		before := cursor.Before.UnixMilli()
		q.WriteString(` AND (sort_at < ? OR (sort_at = ? AND id < ?))`)
		args = append(args, before, before, cursor.ID)
	}
	q.WriteString(` ORDER BY sort_at DESC, id COLLATE BINARY DESC`)
	if limit > 0 {
		q.WriteString(` LIMIT ?`)
		args = append(args, limit)
	}

	rows, err := db.QueryContext(ctx, q.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("fetch recent %s: %w", kind, err)
	}
	defer rows.Close()

	items := []T{}
	for rows.Next() {
		var id, body string
		if err := rows.Scan(&id, &body); err != nil {
			return nil, fmt.Errorf("fetch recent %s: scan: %w", kind, err)
		}
		var v T
		if err := json.Unmarshal([]byte(body), &v); err != nil {
			return nil, fmt.Errorf("fetch recent %s: decode %s: %w", kind, id, err)
		}
		items = append(items, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetch recent %s: iterate: %w", kind, err)
	}
	return items, nil
}

// FetchDocument returns the raw fields of a merge document. Integers are
// int64, flags bool and stamps time.Time; monthly entries keep their
// "name.N" form.
func (s *Store) FetchDocument(ctx context.Context, key ir.DocumentKey) (map[string]any, bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM documents WHERE subject_id = ? AND kind = ? AND id = ?
	`, key.SubjectID, string(key.Kind), key.ID).Scan(&exists)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("fetch document %s: %w", key, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT field, type, value FROM document_fields
		WHERE subject_id = ? AND kind = ? AND id = ?
		ORDER BY field COLLATE BINARY ASC
	`, key.SubjectID, string(key.Kind), key.ID)
	if err != nil {
		return nil, false, fmt.Errorf("fetch document %s: %w", key, err)
	}
	defer rows.Close()

	doc := make(map[string]any)
	for rows.Next() {
		var field, typ string
		var value int64
		if err := rows.Scan(&field, &typ, &value); err != nil {
			return nil, false, fmt.Errorf("fetch document %s: scan: %w", key, err)
		}
		doc[field] = decodeValue(typ, value)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("fetch document %s: iterate: %w", key, err)
	}
	return doc, true, nil
}

func decodeValue(typ string, value int64) any {
	switch typ {
	case typeBool:
		return value != 0
	case typeTime:
		return time.UnixMilli(value).UTC()
	default:
		return value
	}
}

// FetchDaily returns the day's aggregate, or nil when it has none. Values
// out of range are repaired and reported.
func (s *Store) FetchDaily(ctx context.Context, subjectID string, day time.Time) (*aggregate.Daily, error) {
	key := ir.DailyKey(subjectID, day)
	doc, ok, err := s.FetchDocument(ctx, key)
	if err != nil || !ok {
		return nil, err
	}
	doc[ir.FieldSubjectID] = subjectID
	doc[ir.FieldDate] = key.ID
	d, repairs, err := aggregate.DailyFromExternal(doc, day.Location())
	if err != nil {
		return nil, fmt.Errorf("fetch daily %s: %w", key, err)
	}
	s.reporter.Report(key, repairs)

	d.Streak = 0
	if d.Treated() {
		treated, err := s.treatedDays(ctx, subjectID, key.ID)
		if err != nil {
			return nil, fmt.Errorf("fetch daily %s: %w", key, err)
		}
		d.Streak = aggregate.StreakEnding(d.Date, treated)
	}
	return &d, nil
}

// streakWindow bounds how many days back a streak is counted.
const streakWindow = 1000

// treatedDays returns the date keys of treated days at or before dateKey,
// newest first.
func (s *Store) treatedDays(ctx context.Context, subjectID, dateKey string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT id
		FROM document_fields
		WHERE subject_id = ? AND kind = ? AND id <= ?
			AND field IN (?, ?) AND type = ? AND value > 0
		ORDER BY id COLLATE BINARY DESC
		LIMIT ?
	`, subjectID, string(ir.DocDaily), dateKey,
		ir.FieldDosesGiven, ir.FieldFluidSessions, typeInt, streakWindow)
	if err != nil {
		return nil, fmt.Errorf("treated days: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("treated days: scan: %w", err)
		}
		keys = append(keys, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("treated days: iterate: %w", err)
	}
	return keys, nil
}

// FetchWeekly returns the aggregate of the ISO week containing day, or nil.
func (s *Store) FetchWeekly(ctx context.Context, subjectID string, day time.Time) (*aggregate.Weekly, error) {
	key := ir.WeeklyKey(subjectID, day)
	doc, ok, err := s.FetchDocument(ctx, key)
	if err != nil || !ok {
		return nil, err
	}
	doc[ir.FieldSubjectID] = subjectID
	doc[ir.FieldWeek] = key.ID
	w, repairs, err := aggregate.WeeklyFromExternal(doc)
	if err != nil {
		return nil, fmt.Errorf("fetch weekly %s: %w", key, err)
	}
	s.reporter.Report(key, repairs)
	return &w, nil
}

// FetchMonthly returns the month's aggregate with rollups as of asOf, or
// nil when it has none.
func (s *Store) FetchMonthly(ctx context.Context, subjectID string, month, asOf time.Time) (*aggregate.Monthly, error) {
	key := ir.MonthlyKey(subjectID, month)
	doc, ok, err := s.FetchDocument(ctx, key)
	if err != nil || !ok {
		return nil, err
	}
	start := ir.StartOfMonth(month)
	doc = ir.ExpandIndexed(doc, ir.DaysInMonth(start.Year(), start.Month()))
	doc[ir.FieldSubjectID] = subjectID
	doc[ir.FieldMonth] = key.ID
	m, repairs, err := aggregate.MonthlyFromExternal(doc, month.Location(), asOf)
	if err != nil {
		return nil, fmt.Errorf("fetch monthly %s: %w", key, err)
	}
	s.reporter.Report(key, repairs)
	return &m, nil
}

// ListDocuments returns the raw fields of every merge document of kind
// for the subject, keyed by document.
func (s *Store) ListDocuments(ctx context.Context, subjectID string, kind ir.DocumentKind) (map[ir.DocumentKey]map[string]any, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id, f.field, f.type, f.value
		FROM documents d
		LEFT JOIN document_fields f
			ON f.subject_id = d.subject_id AND f.kind = d.kind AND f.id = d.id
		WHERE d.subject_id = ? AND d.kind = ?
		ORDER BY d.id COLLATE BINARY ASC, f.field COLLATE BINARY ASC
	`, subjectID, string(kind))
	if err != nil {
		return nil, fmt.Errorf("list %s documents: %w", kind, err)
	}
	defer rows.Close()

	docs := make(map[ir.DocumentKey]map[string]any)
	for rows.Next() {
		var id string
		var field, typ sql.NullString
		var value sql.NullInt64
		if err := rows.Scan(&id, &field, &typ, &value); err != nil {
			return nil, fmt.Errorf("list %s documents: scan: %w", kind, err)
		}
		key := ir.DocumentKey{SubjectID: subjectID, Kind: kind, ID: id}
		doc := docs[key]
		if doc == nil {
			doc = make(map[string]any)
			docs[key] = doc
		}
		if field.Valid {
			doc[field.String] = decodeValue(typ.String, value.Int64)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list %s documents: iterate: %w", kind, err)
	}
	return docs, nil
}

// Aggregates returns every daily, weekly and monthly document of the
// subject, keyed by document.
func (s *Store) Aggregates(ctx context.Context, subjectID string) (map[ir.DocumentKey]map[string]any, error) {
	out := make(map[ir.DocumentKey]map[string]any)
	for _, kind := range []ir.DocumentKind{ir.DocDaily, ir.DocWeekly, ir.DocMonthly} {
		docs, err := s.ListDocuments(ctx, subjectID, kind)
		if err != nil {
			return nil, err
		}
		maps.Copy(out, docs)
	}
	return out, nil
}

// ListSubjects returns every subject with stored data, sorted.
func (s *Store) ListSubjects(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT subject_id FROM records
		UNION
		SELECT subject_id FROM documents
		ORDER BY subject_id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list subjects: %w", err)
	}
	defer rows.Close()

	subjects := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("list subjects: scan: %w", err)
		}
		subjects = append(subjects, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list subjects: iterate: %w", err)
	}
	return subjects, nil
}

// BatchApplied reports whether a batch ID has been committed.
func (s *Store) BatchApplied(ctx context.Context, id string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM batches WHERE id = ?`, id).Scan(&n); err != nil {
		return false, fmt.Errorf("batch applied %s: %w", id, err)
	}
	return n > 0, nil
}

// SessionView is the store as an engine session store.
type SessionView struct{ *Store }

// Sessions returns the store as an engine session store.
func (s *Store) Sessions() SessionView { return SessionView{s} }

// FetchRecent returns recent sessions.
func (v SessionView) FetchRecent(ctx context.Context, subjectID string, limit int, cursor *ir.Cursor) ([]ir.SessionEvent, error) {
	return v.FetchRecentSessions(ctx, subjectID, limit, cursor)
}

// AssessmentView is the store as an engine assessment store.
type AssessmentView struct{ *Store }

// Assessments returns the store as an engine assessment store.
func (s *Store) Assessments() AssessmentView { return AssessmentView{s} }

// FetchRecent returns recent assessments.
func (v AssessmentView) FetchRecent(ctx context.Context, subjectID string, limit int, cursor *ir.Cursor) ([]ir.Assessment, error) {
	return v.FetchRecentAssessments(ctx, subjectID, limit, cursor)
}
