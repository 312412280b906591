package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/carelog/internal/ir"
)

const subject = "pet-1"

func mergeBatch(t *testing.T, writes ...ir.DocumentWrite) ir.Batch {
	t.Helper()
	b, err := ir.NewBatch(subject, writes...)
	require.NoError(t, err)
	return b
}

func merge(key ir.DocumentKey, ops ir.FieldOps) ir.DocumentWrite {
	return ir.DocumentWrite{Key: key, Mode: ir.WriteMerge, Fields: ops, At: now}
}

func fetch(t *testing.T, s *Store, key ir.DocumentKey) map[string]any {
	t.Helper()
	doc, ok, err := s.FetchDocument(context.Background(), key)
	require.NoError(t, err)
	require.True(t, ok, "document %s not found", key)
	return doc
}

func TestCommitBatch_Increments(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	key := ir.DailyKey(subject, now)

	require.NoError(t, s.CommitBatch(ctx, mergeBatch(t, merge(key, ir.FieldOps{
		ir.FieldVolumeGiven:   ir.Increment(120),
		ir.FieldFluidSessions: ir.Increment(1),
		ir.FieldFluidDone:     ir.Assign{Value: ir.Bool(true)},
		ir.FieldUpdatedAt:     ir.Stamp(now),
	}))))
	require.NoError(t, s.CommitBatch(ctx, mergeBatch(t, merge(key, ir.FieldOps{
		ir.FieldVolumeGiven:   ir.Increment(80),
		ir.FieldFluidSessions: ir.Increment(1),
	}))))

	doc := fetch(t, s, key)
	assert.Equal(t, int64(200), doc[ir.FieldVolumeGiven])
	assert.Equal(t, int64(2), doc[ir.FieldFluidSessions])
	assert.Equal(t, true, doc[ir.FieldFluidDone])
	assert.Equal(t, now, doc[ir.FieldUpdatedAt])
}

func TestCommitBatch_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	key := ir.DailyKey(subject, now)
	b := mergeBatch(t, merge(key, ir.FieldOps{ir.FieldDosesGiven: ir.Increment(1)}))

	require.NoError(t, s.CommitBatch(ctx, b))
	require.NoError(t, s.CommitBatch(ctx, b))

	assert.Equal(t, int64(1), fetch(t, s, key)[ir.FieldDosesGiven])
	applied, err := s.BatchApplied(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, applied)
}

func TestCommitBatch_AllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	key := ir.DailyKey(subject, now)
	b := mergeBatch(t,
		merge(key, ir.FieldOps{ir.FieldDosesGiven: ir.Increment(1)}),
		ir.DocumentWrite{Key: ir.MonthlyKey(subject, now), Mode: ir.WriteMode(99), At: now},
	)

	err := s.CommitBatch(ctx, b)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write 1")

	_, ok, err := s.FetchDocument(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok, "first write must roll back with the batch")
	applied, err := s.BatchApplied(ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, applied, "failed batch must be retryable")
}

func TestCommitBatch_MissingID(t *testing.T) {
	err := createTestStore(t).CommitBatch(context.Background(), ir.Batch{SubjectID: subject})
	assert.ErrorContains(t, err, "missing batch id")
}

func TestCommitBatch_AssignAndUnset(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	key := ir.DailyKey(subject, now)

	require.NoError(t, s.CommitBatch(ctx, mergeBatch(t, merge(key, ir.FieldOps{
		string(ir.ScoreOverall): ir.Assign{Value: ir.Int(72)},
		ir.FieldHasAssessment:   ir.Assign{Value: ir.Bool(true)},
	}))))
	require.NoError(t, s.CommitBatch(ctx, mergeBatch(t, merge(key, ir.FieldOps{
		string(ir.ScoreOverall): ir.Unset{},
		ir.FieldHasAssessment:   ir.Assign{Value: ir.Bool(false)},
	}))))

	doc := fetch(t, s, key)
	assert.NotContains(t, doc, string(ir.ScoreOverall))
	assert.Equal(t, false, doc[ir.FieldHasAssessment])
}

func TestCommitBatch_ReplaceAndDelete(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	key := ir.DocumentKey{SubjectID: subject, Kind: ir.DocSession, ID: "s-1"}
	body := `{"id":"s-1","subject_id":"pet-1","kind":"fluid"}`

	require.NoError(t, s.CommitBatch(ctx, mergeBatch(t, ir.DocumentWrite{
		Key: key, Mode: ir.WriteReplace, Body: []byte(body), SortAt: now, At: now,
	})))
	var stored string
	require.NoError(t, s.db.QueryRow(`SELECT body FROM records WHERE id = 's-1'`).Scan(&stored))
	assert.JSONEq(t, body, stored)

	require.NoError(t, s.CommitBatch(ctx, mergeBatch(t, ir.DocumentWrite{Key: key, Mode: ir.WriteDelete, At: now})))
	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM records`).Scan(&n))
	assert.Zero(t, n)
}

func TestCommitBatch_DeleteCascadesFields(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	key := ir.DailyKey(subject, now)
	require.NoError(t, s.CommitBatch(ctx, mergeBatch(t, merge(key, ir.FieldOps{ir.FieldMissed: ir.Increment(1)}))))

	require.NoError(t, s.CommitBatch(ctx, mergeBatch(t, ir.DocumentWrite{Key: key, Mode: ir.WriteDelete, At: now})))

	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM document_fields`).Scan(&n))
	assert.Zero(t, n)
}

func TestCommitBatch_HonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := createTestStore(t)

	err := s.CommitBatch(ctx, mergeBatch(t, merge(ir.DailyKey(subject, now), ir.FieldOps{ir.FieldMissed: ir.Increment(1)})))
	assert.Error(t, err)
}

func TestDeleteOne(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	key := ir.DailyKey(subject, now)
	require.NoError(t, s.CommitBatch(ctx, mergeBatch(t, merge(key, ir.FieldOps{ir.FieldMissed: ir.Increment(1)}))))

	require.NoError(t, s.DeleteOne(ctx, subject, "2026-03-14"))
	require.NoError(t, s.DeleteOne(ctx, subject, "2026-03-14"), "absent document is not an error")
	_, ok, err := s.FetchDocument(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Error(t, s.DeleteOne(ctx, subject, "14/03/2026"))
}

func TestPutDocument_ReplacesFields(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	key := ir.MonthlyKey(subject, now)
	require.NoError(t, s.CommitBatch(ctx, mergeBatch(t, merge(key, ir.FieldOps{
		"daily_volume_given.30": ir.Increment(5),
	}))))

	updated := now.Add(-time.Hour)
	require.NoError(t, s.PutDocument(ctx, key, map[string]any{
		ir.FieldSubjectID:        subject,
		ir.FieldMonth:            "2026-03",
		ir.FieldDailyVolumeGiven: []any{int64(100), int64(0), int64(150)},
		ir.FieldTotalVolumeGiven: int64(250),
		ir.FieldUpdatedAt:        updated.UnixMilli(),
	}, now))

	doc := fetch(t, s, key)
	assert.Equal(t, map[string]any{
		"daily_volume_given.0":   int64(100),
		"daily_volume_given.1":   int64(0),
		"daily_volume_given.2":   int64(150),
		ir.FieldTotalVolumeGiven: int64(250),
		ir.FieldUpdatedAt:        updated,
	}, doc)
}

func TestPutDocument_RejectsUnsupportedValue(t *testing.T) {
	err := createTestStore(t).PutDocument(context.Background(), ir.DailyKey(subject, now),
		map[string]any{ir.FieldVolumeGiven: 1.5}, now)
	assert.ErrorContains(t, err, "unsupported value float64")
}
