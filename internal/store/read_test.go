package store

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/carelog/internal/aggregate"
	"github.com/roach88/carelog/internal/engine"
	"github.com/roach88/carelog/internal/ir"
	"github.com/roach88/carelog/internal/testutil"
)

func save(t *testing.T, s *Store, events ...ir.SessionEvent) {
	t.Helper()
	for _, e := range events {
		b, err := engine.SessionPlanner{}.Plan(subject, engine.Mutation[ir.SessionEvent]{Kind: engine.MutationSave, After: &e}, e.CreatedAt)
		require.NoError(t, err)
		require.NoError(t, s.CommitBatch(context.Background(), b))
	}
}

func sessionIDs(events []ir.SessionEvent) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.ID
	}
	return out
}

func TestFetchRecentSessions_NewestFirstWithCursor(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	save(t, s,
		testutil.Fluid("s-a", now.Add(-3*time.Hour), 100),
		testutil.Fluid("s-b", now.Add(-time.Hour), 100),
		testutil.Fluid("s-c", now.Add(-time.Hour), 100),
		testutil.Medication("s-d", now.Add(-2*time.Hour), "benazepril", true),
	)

	page, err := s.FetchRecentSessions(ctx, subject, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"s-c", "s-b"}, sessionIDs(page))

	last := page[len(page)-1]
	page, err = s.FetchRecentSessions(ctx, subject, 2, &ir.Cursor{Before: last.OccurredAt, ID: last.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{"s-d", "s-a"}, sessionIDs(page))

	all, err := s.FetchRecentSessions(ctx, subject, 0, nil)
	require.NoError(t, err)
	assert.Len(t, all, 4)
	require.NotNil(t, all[3].Fluid)
	assert.Equal(t, 100.0, all[3].Fluid.VolumeGiven)

	other, err := s.FetchRecentSessions(ctx, "pet-2", 10, nil)
	require.NoError(t, err)
	assert.Empty(t, other)
	assert.NotNil(t, other)
}

func TestFetchDaily_Absent(t *testing.T) {
	d, err := createTestStore(t).FetchDaily(context.Background(), subject, now)
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestFetchDaily_DerivesStreak(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	day := func(n int) time.Time { return now.AddDate(0, 0, -n) }
	save(t, s,
		testutil.Fluid("s-1", day(4), 100),
		testutil.Symptom("s-2", day(3), ir.SymptomVomiting, 1),
		testutil.Fluid("s-3", day(2), 100),
		testutil.Medication("s-4", day(1), "benazepril", true),
		testutil.Fluid("s-5", day(0), 100),
	)

	tests := []struct {
		day  time.Time
		want int64
	}{
		{day(0), 3},
		{day(1), 2},
		{day(3), 0},
		{day(4), 1},
	}
	for _, tt := range tests {
		d, err := s.FetchDaily(ctx, subject, tt.day)
		require.NoError(t, err)
		require.NotNil(t, d)
		assert.Equal(t, tt.want, d.Streak, ir.DateKey(tt.day))
	}

	// A missed dose is not a treatment.
	save(t, s, testutil.Medication("s-6", day(3), "benazepril", false))
	d, err := s.FetchDaily(ctx, subject, day(0))
	require.NoError(t, err)
	assert.Equal(t, int64(3), d.Streak)
}

func TestFetchAggregates_AfterSessions(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	save(t, s,
		testutil.Fluid("s-1", now.Add(-time.Hour), 120),
		testutil.Medication("s-2", now, "benazepril", true),
		testutil.Fluid("s-3", now.AddDate(0, 0, -1), 80),
	)

	daily, err := s.FetchDaily(ctx, subject, now)
	require.NoError(t, err)
	require.NotNil(t, daily)
	assert.Equal(t, subject, daily.SubjectID)
	assert.Equal(t, int64(120), daily.VolumeGiven)
	assert.Equal(t, int64(1), daily.DosesGiven)
	assert.True(t, daily.FluidDone)

	weekly, err := s.FetchWeekly(ctx, subject, now)
	require.NoError(t, err)
	require.NotNil(t, weekly)
	assert.Equal(t, "2026-W11", weekly.Week)
	assert.Equal(t, int64(200), weekly.VolumeGiven)
	assert.Equal(t, int64(2), weekly.FluidSessions)

	monthly, err := s.FetchMonthly(ctx, subject, now, now)
	require.NoError(t, err)
	require.NotNil(t, monthly)
	assert.Len(t, monthly.VolumeGiven, 31)
	assert.Equal(t, int64(80), monthly.VolumeGiven[12])
	assert.Equal(t, int64(120), monthly.VolumeGiven[13])
	assert.Equal(t, int64(200), monthly.TotalVolumeGiven)
	assert.Equal(t, int64(2), monthly.TotalFluidSessions)
}

func TestFetchDaily_ReportsRepairs(t *testing.T) {
	ctx := context.Background()
	var logs bytes.Buffer
	reg := prometheus.NewRegistry()
	metrics, err := aggregate.NewMetrics(reg)
	require.NoError(t, err)
	reporter := aggregate.NewReporter(slog.New(slog.NewTextHandler(&logs, nil)), metrics)
	s := createTestStore(t, WithReporter(reporter))

	key := ir.DailyKey(subject, now)
	require.NoError(t, s.CommitBatch(ctx, mergeBatch(t, merge(key, ir.FieldOps{
		ir.FieldMissed: ir.Increment(-2),
	}))))

	daily, err := s.FetchDaily(ctx, subject, now)
	require.NoError(t, err)
	assert.Equal(t, int64(0), daily.Missed)
	assert.Contains(t, logs.String(), "repaired external aggregate")
	n, err := promtest.GatherAndCount(reg, "carelog_aggregate_repairs_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestListDocuments(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	save(t, s,
		testutil.Fluid("s-1", now, 120),
		testutil.Fluid("s-2", now.AddDate(0, 0, -1), 80),
	)

	docs, err := s.ListDocuments(ctx, subject, ir.DocDaily)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, int64(80), docs[ir.DailyKey(subject, now.AddDate(0, 0, -1))][ir.FieldVolumeGiven])

	monthly, err := s.ListDocuments(ctx, subject, ir.DocMonthly)
	require.NoError(t, err)
	assert.Equal(t, int64(120), monthly[ir.MonthlyKey(subject, now)]["daily_volume_given.13"])
}

func TestAggregates_AllKinds(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	save(t, s, testutil.Fluid("s-1", now, 120))

	docs, err := s.Aggregates(ctx, subject)
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Contains(t, docs, ir.DailyKey(subject, now))
	assert.Contains(t, docs, ir.WeeklyKey(subject, now))
	assert.Equal(t, int64(1), docs[ir.MonthlyKey(subject, now)][ir.FieldTotalFluidSession])
}

func TestListSubjects(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	save(t, s, testutil.Fluid("s-1", now, 120))
	b, err := ir.NewBatch("pet-0", merge(ir.DailyKey("pet-0", now), ir.FieldOps{ir.FieldMissed: ir.Increment(1)}))
	require.NoError(t, err)
	require.NoError(t, s.CommitBatch(ctx, b))

	subjects, err := s.ListSubjects(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"pet-0", subject}, subjects)
}

func TestStore_ServesSessionsController(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	save(t, s, testutil.Fluid("s-1", now.Add(-time.Hour), 100))

	clock := testutil.NewClock(t, now)
	sessions := engine.NewSessions(subject, s.Sessions(), []engine.Option{engine.WithClock(clock)},
		engine.WithIDGenerator(engine.NewSequenceGenerator("s-2")))
	require.NoError(t, sessions.Load(ctx, false))

	_, err := sessions.Log(ctx, ir.SessionEvent{
		Kind: ir.KindFluid, OccurredAt: now,
		Fluid: &ir.FluidSession{VolumeGiven: 50},
	})
	require.NoError(t, err)

	daily, err := s.FetchDaily(ctx, subject, now)
	require.NoError(t, err)
	assert.Equal(t, int64(150), daily.VolumeGiven)
	assert.Equal(t, 2, sessions.Today().FluidSessions)

	require.NoError(t, sessions.Remove(ctx, "s-1"))
	daily, err = s.FetchDaily(ctx, subject, now)
	require.NoError(t, err)
	assert.Equal(t, int64(50), daily.VolumeGiven)

	all, err := s.FetchRecentSessions(ctx, subject, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"s-2"}, sessionIDs(all))
}

func TestStore_ServesAssessmentsController(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	c := engine.NewAssessments(subject, s.Assessments(), engine.WithClock(testutil.NewClock(t, now)))
	require.NoError(t, c.Load(ctx, false))

	a := testutil.Assessment(now, 64)
	a.SubjectID = subject
	require.NoError(t, c.Save(ctx, a))

	daily, err := s.FetchDaily(ctx, subject, now)
	require.NoError(t, err)
	require.NotNil(t, daily.Scores.Overall)
	assert.Equal(t, 64, *daily.Scores.Overall)

	items, err := s.FetchRecentAssessments(ctx, subject, 10, nil)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, a.ID, items[0].ID)
}
