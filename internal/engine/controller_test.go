package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/carelog/internal/ir"
	"github.com/roach88/carelog/internal/testutil"
)

var now = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func newMockClock(t *testing.T) *quartz.Mock {
	t.Helper()
	return testutil.NewClock(t, now)
}

// seed commits events the way another device would have.
func seed(t *testing.T, store *testutil.FakeStore, events ...ir.SessionEvent) {
	t.Helper()
	for _, e := range events {
		b, err := SessionPlanner{}.Plan(e.SubjectID, Mutation[ir.SessionEvent]{Kind: MutationSave, After: &e}, e.CreatedAt)
		require.NoError(t, err)
		require.NoError(t, store.CommitBatch(context.Background(), b))
	}
}

func newSessionController(store *testutil.FakeStore, clock quartz.Clock, opts ...Option) *Controller[ir.SessionEvent] {
	deps := Deps[ir.SessionEvent]{
		Reader:    store.Sessions(),
		Committer: store,
		Planner:   SessionPlanner{},
	}
	return NewController(testutil.Subject, deps, append([]Option{WithClock(clock)}, opts...)...)
}

func ids(items []ir.SessionEvent) []string {
	out := make([]string, len(items))
	for i, e := range items {
		out[i] = e.ID
	}
	return out
}

func TestController_LoadRespectsTTL(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewFakeStore()
	seed(t, store, testutil.Medication("s-1", now.Add(-time.Hour), "benazepril", true))
	clock := newMockClock(t)
	c := newSessionController(store, clock)

	require.NoError(t, c.Load(ctx, false))
	assert.Equal(t, 1, store.Reads())

	require.NoError(t, c.Load(ctx, false))
	assert.Equal(t, 1, store.Reads(), "fresh cache does no I/O")

	clock.Advance(4 * time.Minute)
	require.NoError(t, c.Load(ctx, false))
	assert.Equal(t, 1, store.Reads())

	clock.Advance(time.Minute)
	require.NoError(t, c.Load(ctx, false))
	assert.Equal(t, 2, store.Reads(), "load at the TTL fetches again")

	require.NoError(t, c.Load(ctx, true))
	assert.Equal(t, 3, store.Reads(), "forced load always fetches")
}

func TestController_LoadSortsNewestFirst(t *testing.T) {
	store := testutil.NewFakeStore()
	seed(t, store,
		testutil.Medication("s-1", now.Add(-3*time.Hour), "benazepril", true),
		testutil.Fluid("s-2", now.Add(-time.Hour), 100),
		testutil.Medication("s-3", now.Add(-2*time.Hour), "mirtazapine", false),
	)
	c := newSessionController(store, newMockClock(t))

	require.NoError(t, c.Load(context.Background(), false))

	v := c.Snapshot()
	assert.Equal(t, []string{"s-2", "s-3", "s-1"}, ids(v.Items))
	require.NotNil(t, v.Current)
	assert.Equal(t, "s-2", v.Current.ID)
	assert.Equal(t, StateReady, v.State)
	assert.Equal(t, now, v.FetchedAt)
	assert.True(t, v.Fresh)
}

func TestController_LoadFailureKeepsData(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewFakeStore()
	seed(t, store, testutil.Fluid("s-1", now.Add(-time.Hour), 100))
	c := newSessionController(store, newMockClock(t))
	require.NoError(t, c.Load(ctx, false))

	store.FailReads(nil)
	err := c.Load(ctx, true)

	require.Error(t, err)
	assert.True(t, IsPersistenceError(err))
	assert.ErrorIs(t, err, testutil.ErrInjected)
	v := c.Snapshot()
	assert.Equal(t, StateError, v.State)
	assert.Equal(t, []string{"s-1"}, ids(v.Items), "prior data is kept")
}

func TestController_ConcurrentLoadsShareOneFetch(t *testing.T) {
	store := testutil.NewFakeStore()
	release := make(chan struct{})
	store.BeforeRead = func() { <-release }
	c := newSessionController(store, newMockClock(t))

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.Load(context.Background(), false))
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, 1, store.Reads())
}

func TestController_SaveCommitsBatch(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewFakeStore()
	c := newSessionController(store, newMockClock(t))
	require.NoError(t, c.Load(ctx, false))

	require.NoError(t, c.Save(ctx, testutil.Fluid("s-1", now, 120)))

	v := c.Snapshot()
	assert.Equal(t, StateReady, v.State)
	assert.NoError(t, v.Err)
	assert.Equal(t, []string{"s-1"}, ids(v.Items))
	assert.True(t, store.HasRecord(ir.DocumentKey{SubjectID: testutil.Subject, Kind: ir.DocSession, ID: "s-1"}))

	daily, err := store.FetchDaily(ctx, testutil.Subject, now)
	require.NoError(t, err)
	require.NotNil(t, daily)
	assert.Equal(t, int64(120), daily.VolumeGiven)
	assert.Equal(t, int64(1), daily.FluidSessions)
	assert.True(t, daily.FluidDone)

	monthly, err := store.FetchMonthly(ctx, testutil.Subject, now, now)
	require.NoError(t, err)
	require.NotNil(t, monthly)
	assert.Len(t, monthly.VolumeGiven, 31)
	assert.Equal(t, int64(120), monthly.VolumeGiven[13])
	assert.Equal(t, int64(1), monthly.TotalFluidSessions)
}

func TestController_RollbackIsExact(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(ctx context.Context, c *Controller[ir.SessionEvent]) error
	}{
		{"save", func(ctx context.Context, c *Controller[ir.SessionEvent]) error {
			return c.Save(ctx, testutil.Medication("s-3", now, "benazepril", true))
		}},
		{"update", func(ctx context.Context, c *Controller[ir.SessionEvent]) error {
			e := testutil.Fluid("s-2", now.Add(-time.Hour), 250)
			return c.Update(ctx, e)
		}},
		{"delete", func(ctx context.Context, c *Controller[ir.SessionEvent]) error {
			return c.Delete(ctx, "s-1")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := testutil.NewFakeStore()
			seed(t, store,
				testutil.Medication("s-1", now.Add(-2*time.Hour), "benazepril", true),
				testutil.Fluid("s-2", now.Add(-time.Hour), 100),
			)
			reg := prometheus.NewRegistry()
			metrics, err := NewMetrics(reg)
			require.NoError(t, err)
			c := newSessionController(store, newMockClock(t), WithMetrics(metrics))
			require.NoError(t, c.Load(ctx, false))

			before := c.Snapshot()
			dailyBefore, _ := store.Document(ir.DailyKey(testutil.Subject, now))

			store.FailCommits(nil)
			err = tt.mutate(ctx, c)

			require.Error(t, err)
			assert.True(t, IsPersistenceError(err))
			assert.ErrorIs(t, err, testutil.ErrInjected)
			assert.True(t, err.(*Error).Retryable())

			after := c.Snapshot()
			assert.Equal(t, before.Items, after.Items)
			assert.Equal(t, before.Current, after.Current)
			assert.Equal(t, before.FetchedAt, after.FetchedAt)
			assert.Equal(t, StateError, after.State)
			assert.Equal(t, err, after.Err)

			dailyAfter, _ := store.Document(ir.DailyKey(testutil.Subject, now))
			assert.Equal(t, dailyBefore, dailyAfter, "failed batch applied nothing")

			assert.Equal(t, 1.0, promtest.ToFloat64(metrics.rollbacks.WithLabelValues(tt.name)))
			assert.Equal(t, 1.0, promtest.ToFloat64(metrics.commits.WithLabelValues(tt.name, "failure")))
		})
	}
}

func TestController_ValidationDoesNoIO(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewFakeStore()
	seed(t, store, testutil.Fluid("s-1", now.Add(-time.Hour), 100))
	c := newSessionController(store, newMockClock(t))
	require.NoError(t, c.Load(ctx, false))
	commits := store.Commits()

	bad := testutil.Medication("s-2", now, "", true)
	err := c.Save(ctx, bad)

	require.Error(t, err)
	assert.True(t, IsValidationError(err))
	assert.False(t, IsPersistenceError(err))
	assert.Contains(t, err.Error(), "medication name is required")
	assert.Equal(t, commits, store.Commits(), "no commit was attempted")

	v := c.Snapshot()
	assert.Equal(t, StateError, v.State)
	assert.Equal(t, []string{"s-1"}, ids(v.Items))

	c.ClearError()
	v = c.Snapshot()
	assert.Equal(t, StateReady, v.State)
	assert.NoError(t, v.Err)
}

func TestController_RejectsUnknownAndDuplicateIDs(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewFakeStore()
	seed(t, store, testutil.Fluid("s-1", now.Add(-time.Hour), 100))
	c := newSessionController(store, newMockClock(t))
	require.NoError(t, c.Load(ctx, false))
	commits := store.Commits()

	err := c.Save(ctx, testutil.Fluid("s-1", now, 50))
	assert.True(t, IsValidationError(err), "duplicate save")

	err = c.Update(ctx, testutil.Fluid("s-9", now, 50))
	assert.True(t, IsValidationError(err), "unknown update")

	err = c.Delete(ctx, "s-9")
	assert.True(t, IsValidationError(err), "unknown delete")

	assert.Equal(t, commits, store.Commits())
}

func TestController_UpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewFakeStore()
	missed := testutil.Medication("s-1", now.Add(-time.Hour), "benazepril", false)
	seed(t, store, missed)
	c := newSessionController(store, newMockClock(t))
	require.NoError(t, c.Load(ctx, false))

	daily, err := store.FetchDaily(ctx, testutil.Subject, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), daily.Missed)
	assert.Equal(t, int64(1), daily.DosesScheduled)

	t.Run("note only edit touches no aggregate", func(t *testing.T) {
		e := missed.Clone()
		note := "spat half out"
		e.Note = &note
		require.NoError(t, c.Update(ctx, e))

		batches := store.Batches()
		assert.Len(t, batches[len(batches)-1].Writes, 1)
	})

	t.Run("completing a missed dose", func(t *testing.T) {
		e := testutil.Medication("s-1", now.Add(-time.Hour), "benazepril", true)
		require.NoError(t, c.Update(ctx, e))

		daily, err := store.FetchDaily(ctx, testutil.Subject, now)
		require.NoError(t, err)
		assert.Equal(t, int64(1), daily.DosesGiven)
		assert.Equal(t, int64(0), daily.Missed)
		assert.Equal(t, int64(1), daily.DosesScheduled, "edits never change scheduled")
		assert.True(t, daily.MedicationDone)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, c.Delete(ctx, "s-1"))

		assert.Empty(t, c.Snapshot().Items)
		assert.Nil(t, c.Snapshot().Current)
		assert.False(t, store.HasRecord(ir.DocumentKey{SubjectID: testutil.Subject, Kind: ir.DocSession, ID: "s-1"}))

		daily, err := store.FetchDaily(ctx, testutil.Subject, now)
		require.NoError(t, err)
		assert.Equal(t, int64(0), daily.DosesGiven)
		assert.Equal(t, int64(0), daily.DosesScheduled)
	})
}

func TestController_SaveDeleteSaveAtOneInstant(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewFakeStore()
	c := newSessionController(store, newMockClock(t))
	require.NoError(t, c.Load(ctx, false))

	e := testutil.Medication("s-1", now, "benazepril", true)
	require.NoError(t, c.Save(ctx, e))
	require.NoError(t, c.Delete(ctx, "s-1"))
	require.NoError(t, c.Save(ctx, e))

	batches := store.Batches()
	require.Len(t, batches, 3, "every commit was applied")
	assert.NotEqual(t, batches[0].ID, batches[2].ID)
	assert.True(t, store.HasRecord(ir.DocumentKey{SubjectID: testutil.Subject, Kind: ir.DocSession, ID: "s-1"}))
	assert.Equal(t, []string{"s-1"}, ids(c.Snapshot().Items))

	daily, err := store.FetchDaily(ctx, testutil.Subject, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), daily.DosesGiven)
	assert.Equal(t, int64(1), daily.DosesScheduled)
}

func TestController_CommitExtendsFreshness(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewFakeStore()
	seed(t, store, testutil.Fluid("s-1", now.Add(-time.Hour), 100))
	clock := newMockClock(t)
	c := newSessionController(store, clock)
	require.NoError(t, c.Load(ctx, false))
	require.Equal(t, 1, store.Reads())

	clock.Advance(4 * time.Minute)
	require.NoError(t, c.Save(ctx, testutil.Fluid("s-2", now.Add(4*time.Minute), 80)))

	clock.Advance(2 * time.Minute)
	require.NoError(t, c.Load(ctx, false))
	assert.Equal(t, 1, store.Reads(), "commit restarted the TTL")
	v := c.Snapshot()
	assert.True(t, v.Fresh)
	assert.Equal(t, now.Add(4*time.Minute), v.FetchedAt)

	clock.Advance(5 * time.Minute)
	require.NoError(t, c.Load(ctx, false))
	assert.Equal(t, 2, store.Reads())
}

func TestController_LoadKeepsMutationError(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewFakeStore()
	seed(t, store, testutil.Fluid("s-1", now.Add(-time.Hour), 100))
	c := newSessionController(store, newMockClock(t))

	release := make(chan struct{})
	entered := make(chan struct{})
	var once sync.Once
	store.BeforeRead = func() {
		once.Do(func() { close(entered) })
		<-release
	}

	done := make(chan error, 1)
	go func() { done <- c.Load(ctx, false) }()
	<-entered

	err := c.Save(ctx, testutil.Medication("s-2", now, "", true))
	require.True(t, IsValidationError(err))

	close(release)
	require.NoError(t, <-done)

	v := c.Snapshot()
	assert.Equal(t, []string{"s-1"}, ids(v.Items), "load applied")
	assert.Equal(t, StateError, v.State)
	assert.True(t, IsValidationError(v.Err), "validation error survives the load")

	c.ClearError()
	assert.Equal(t, StateReady, c.Snapshot().State)
}

func TestController_LoadClearsEarlierLoadFailure(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewFakeStore()
	seed(t, store, testutil.Fluid("s-1", now.Add(-time.Hour), 100))
	c := newSessionController(store, newMockClock(t))

	store.FailReads(nil)
	require.Error(t, c.Load(ctx, false))
	assert.Equal(t, StateError, c.Snapshot().State)

	require.NoError(t, c.Load(ctx, true))
	v := c.Snapshot()
	assert.Equal(t, StateReady, v.State)
	assert.NoError(t, v.Err)
	assert.Equal(t, []string{"s-1"}, ids(v.Items))
}

func TestController_SerializesMutations(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewFakeStore()
	release := make(chan struct{})
	entered := make(chan string, 2)
	store.BeforeCommit = func(b ir.Batch) {
		entered <- b.Writes[0].Key.ID
		<-release
	}
	c := newSessionController(store, newMockClock(t))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		assert.NoError(t, c.Save(ctx, testutil.Medication("a", now, "benazepril", true)))
	}()
	require.Equal(t, "a", <-entered)

	go func() {
		defer wg.Done()
		assert.NoError(t, c.Save(ctx, testutil.Medication("b", now.Add(time.Minute), "benazepril", true)))
	}()
	require.Eventually(t, func() bool { return c.queue.Len() == 1 }, time.Second, time.Millisecond)

	select {
	case id := <-entered:
		t.Fatalf("commit %s overtook the running mutation", id)
	default:
	}
	v := c.Snapshot()
	assert.Equal(t, StateSaving, v.State)
	assert.Equal(t, []string{"a"}, ids(v.Items), "optimistic item is visible while saving")

	close(release)
	wg.Wait()

	assert.Equal(t, "b", <-entered)
	v = c.Snapshot()
	assert.Equal(t, []string{"b", "a"}, ids(v.Items))
	assert.Equal(t, StateReady, v.State)
}

func TestController_LoadDuringMutationIsDiscarded(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewFakeStore()
	seed(t, store, testutil.Fluid("s-1", now.Add(-time.Hour), 100))
	c := newSessionController(store, newMockClock(t))
	require.NoError(t, c.Load(ctx, false))

	release := make(chan struct{})
	entered := make(chan struct{})
	store.BeforeCommit = func(ir.Batch) {
		close(entered)
		<-release
	}

	done := make(chan error, 1)
	go func() { done <- c.Save(ctx, testutil.Fluid("s-2", now, 80)) }()
	<-entered

	require.NoError(t, c.Load(ctx, true))
	assert.Equal(t, []string{"s-2", "s-1"}, ids(c.Snapshot().Items), "stale fetch did not overwrite optimistic state")

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, []string{"s-2", "s-1"}, ids(c.Snapshot().Items))
}

func TestController_ViewFreshRefreshesInBackground(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewFakeStore()
	seed(t, store, testutil.Fluid("s-1", now.Add(-time.Hour), 100))
	clock := newMockClock(t)
	c := newSessionController(store, clock)
	require.NoError(t, c.Load(ctx, false))

	v := c.ViewFresh(ctx)
	assert.True(t, v.Fresh)
	c.Wait()
	assert.Equal(t, 1, store.Reads())

	seed(t, store, testutil.Fluid("s-2", now, 50))
	clock.Advance(6 * time.Minute)

	v = c.ViewFresh(ctx)
	assert.False(t, v.Fresh)
	assert.Equal(t, []string{"s-1"}, ids(v.Items), "stale view is served")
	c.Wait()

	assert.Equal(t, 2, store.Reads())
	v = c.Snapshot()
	assert.True(t, v.Fresh)
	assert.Equal(t, []string{"s-2", "s-1"}, ids(v.Items))
}

func TestController_SnapshotIsACopy(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewFakeStore()
	seed(t, store, testutil.Fluid("s-1", now.Add(-time.Hour), 100))
	c := newSessionController(store, newMockClock(t))
	require.NoError(t, c.Load(ctx, false))

	v := c.Snapshot()
	v.Items[0].Fluid.VolumeGiven = 999
	v.Current.ID = "changed"

	again := c.Snapshot()
	assert.Equal(t, 100.0, again.Items[0].Fluid.VolumeGiven)
	assert.Equal(t, "s-1", again.Current.ID)
}

func TestMetrics_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewMetrics(reg)
	require.NoError(t, err)

	_, err = NewMetrics(reg)
	assert.Error(t, err)

	m, err := NewMetrics(nil)
	require.NoError(t, err)
	m.recordLoad(loadHit)
	assert.Equal(t, 1.0, promtest.ToFloat64(m.loads.WithLabelValues(loadHit)))

	var none *Metrics
	assert.NotPanics(t, func() { none.recordCommit(opSave, nil) })
}

func TestError_Format(t *testing.T) {
	err := newValidationError(opSave, "pet-1", "s-1", assert.AnError)
	assert.Equal(t, "VALIDATION: save rejected: "+assert.AnError.Error()+" (subject=pet-1, id=s-1)", err.Error())
	assert.False(t, err.Retryable())

	load := newPersistenceError(opLoad, "pet-1", "", assert.AnError)
	assert.Equal(t, "PERSISTENCE: load fetch failed: "+assert.AnError.Error()+" (subject=pet-1)", load.Error())
	assert.False(t, IsCacheStale(load))
	assert.True(t, IsCacheStale(&Error{Code: ErrCodeCacheStale}))
}
