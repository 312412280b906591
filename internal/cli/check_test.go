package cli

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/carelog/internal/ir"
	"github.com/roach88/carelog/internal/store"
)

func TestCheckClean(t *testing.T) {
	env := newCLIEnv(t)
	env.mustRun("log", "medication", "--name", "benazepril", "--at", "08:00")
	env.mustRun("log", "fluid", "--volume", "100", "--goal", "150", "--at", "2026-03-02T19:00")

	var res CheckResult
	resp, err := env.runJSON(&res, "check")
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, res.Passed)
	require.Len(t, res.Subjects, 1)
	sc := res.Subjects[0]
	assert.Equal(t, "pet-1", sc.Subject)
	// Two days, two weeks and one month.
	assert.Equal(t, 5, sc.Documents)
	assert.Empty(t, sc.Invalid)
	assert.Empty(t, sc.Drift)
}

func TestCheckFindsAndRepairsDrift(t *testing.T) {
	env := newCLIEnv(t)
	env.mustRun("log", "fluid", "--volume", "100")

	// Simulate a lost write: the day's session counter drifts from its
	// sessions.
	st, err := store.Open(env.db)
	require.NoError(t, err)
	batch := ir.MustNewBatch("pet-1", ir.DocumentWrite{
		Key:    ir.DailyKey("pet-1", testNow),
		Mode:   ir.WriteMerge,
		Fields: ir.FieldOps{ir.FieldFluidSessions: ir.Increment(2)},
		At:     testNow,
	})
	require.NoError(t, st.CommitBatch(context.Background(), batch))
	require.NoError(t, st.Close())

	var res CheckResult
	resp, err := env.runJSON(&res, "check")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.True(t, IsReported(err))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeCheckFailed, resp.Error.Code)
	require.Len(t, res.Subjects, 1)
	require.Len(t, res.Subjects[0].Drift, 1)
	assert.Contains(t, res.Subjects[0].Drift[0], ir.FieldFluidSessions)

	out := env.mustRun("check", "--repair")
	assert.Contains(t, out, "repaired 1 counters")
	assert.Contains(t, out, "✓ All checks passed")

	s := env.daySummary()
	require.NotNil(t, s.Daily)
	assert.Equal(t, int64(1), s.Daily.FluidSessions)

	out = env.mustRun("check")
	assert.NotContains(t, out, "drift")
}

func TestCheckAllSubjects(t *testing.T) {
	env := newCLIEnv(t)
	env.mustRun("log", "fluid", "--volume", "100")
	env.subject = "pet-2"
	env.mustRun("log", "medication", "--name", "methimazole")

	env.subject = ""
	var res CheckResult
	_, err := env.runJSON(&res, "check")
	require.NoError(t, err)
	require.Len(t, res.Subjects, 2)
	assert.Equal(t, "pet-1", res.Subjects[0].Subject)
	assert.Equal(t, "pet-2", res.Subjects[1].Subject)
}

func TestCheckEmptyDatabase(t *testing.T) {
	env := newCLIEnv(t)
	env.subject = ""

	out := env.mustRun("check")
	assert.Contains(t, out, "No subjects found.")
}
