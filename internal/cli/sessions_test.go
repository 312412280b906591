package cli

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/carelog/internal/ir"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func (e *cliEnv) daySummary(args ...string) DaySummary {
	e.t.Helper()
	var s DaySummary
	_, err := e.runJSON(&s, append([]string{"summary", "day"}, args...)...)
	require.NoError(e.t, err)
	return s
}

func TestLogMedication(t *testing.T) {
	env := newCLIEnv(t)

	var res SessionResult
	resp, err := env.runJSON(&res, "log", "medication", "--name", "benazepril", "--unit", "mg", "--at=-90m", "--note", "with food")
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "logged", res.Action)
	require.NotNil(t, res.Session)
	assert.NotEmpty(t, res.ID)
	assert.Equal(t, res.ID, res.Session.ID)
	assert.Equal(t, ir.KindMedication, res.Session.Kind)
	assert.True(t, testNow.Add(-90*time.Minute).Equal(res.Session.OccurredAt))
	require.NotNil(t, res.Session.Medication)
	assert.Equal(t, "benazepril", res.Session.Medication.Name)
	assert.True(t, res.Session.Medication.Completed)
	require.NotNil(t, res.Session.Note)
	assert.Equal(t, "with food", *res.Session.Note)

	s := env.daySummary()
	assert.Equal(t, "2026-03-14", s.Date)
	require.NotNil(t, s.Daily)
	assert.Equal(t, int64(1), s.Daily.DosesGiven)
	assert.Equal(t, int64(1), s.Daily.DosesScheduled)
	assert.True(t, s.Daily.MedicationDone)
	require.NotNil(t, s.Weekly)
	assert.Equal(t, "2026-W11", s.Weekly.Week)
	assert.Equal(t, int64(1), s.Weekly.DosesGiven)
	require.NotNil(t, s.Today)
	require.Contains(t, s.Today.Treatments, "benazepril")
	assert.Equal(t, 1, s.Today.Treatments["benazepril"].Sessions)
}

func TestLogMissedMedication(t *testing.T) {
	env := newCLIEnv(t)

	out := env.mustRun("log", "medication", "--name", "benazepril", "--missed", "--id", "dose-1")
	assert.Contains(t, out, "logged medication dose-1")
	assert.Contains(t, out, "missed")

	s := env.daySummary()
	require.NotNil(t, s.Daily)
	assert.Equal(t, int64(0), s.Daily.DosesGiven)
	assert.Equal(t, int64(1), s.Daily.DosesScheduled)
	assert.Equal(t, int64(1), s.Daily.Missed)
}

func TestLogFluidAndSymptom(t *testing.T) {
	env := newCLIEnv(t)

	env.mustRun("log", "fluid", "--volume", "120", "--goal", "150", "--site", "left", "--at", "08:30")
	env.mustRun("log", "symptom", "--symptom", "vomiting", "--count", "2", "--at", "09:00")
	env.mustRun("log", "symptom", "--symptom", "appetite", "--category", "mild")

	s := env.daySummary()
	require.NotNil(t, s.Daily)
	assert.Equal(t, int64(120), s.Daily.VolumeGiven)
	assert.Equal(t, int64(1), s.Daily.FluidSessions)
	assert.True(t, s.Daily.FluidDone)
	assert.Equal(t, int64(2), s.Daily.SymptomCount)
	assert.Positive(t, s.Daily.SymptomSeverity)
}

func TestLogRejectsInvalidSession(t *testing.T) {
	env := newCLIEnv(t)

	var res SessionResult
	resp, err := env.runJSON(&res, "log", "fluid", "--volume=-5")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.True(t, IsReported(err))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeValidation, resp.Error.Code)

	s := env.daySummary()
	assert.Nil(t, s.Daily, "a rejected session must not touch the aggregates")
}

func TestLogRejectsBadTime(t *testing.T) {
	env := newCLIEnv(t)

	_, stderr, err := env.run("log", "fluid", "--volume", "100", "--at", "yesterday-ish")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, stderr, "Error [E102]")
	assert.Contains(t, stderr, "invalid time")
}

func TestLogSymptomFlagsExclusive(t *testing.T) {
	env := newCLIEnv(t)

	_, _, err := env.run("log", "symptom", "--symptom", "vomiting", "--count", "1", "--category", "mild")
	require.Error(t, err)
}

func TestEditFluidVolume(t *testing.T) {
	env := newCLIEnv(t)
	env.mustRun("log", "fluid", "--id", "s-1", "--volume", "100")

	var res SessionResult
	_, err := env.runJSON(&res, "edit", "s-1", "--volume", "150", "--note", "second bag")
	require.NoError(t, err)
	assert.Equal(t, "edited", res.Action)
	require.NotNil(t, res.Session)
	require.NotNil(t, res.Session.ModifiedAt)
	assert.Equal(t, float64(150), res.Session.Fluid.VolumeGiven)

	s := env.daySummary()
	require.NotNil(t, s.Daily)
	assert.Equal(t, int64(150), s.Daily.VolumeGiven)
	assert.Equal(t, int64(1), s.Daily.FluidSessions)
}

func TestEditMedicationMissed(t *testing.T) {
	env := newCLIEnv(t)
	env.mustRun("log", "medication", "--id", "d-1", "--name", "benazepril")

	env.mustRun("edit", "d-1", "--missed")

	s := env.daySummary()
	require.NotNil(t, s.Daily)
	assert.Equal(t, int64(0), s.Daily.DosesGiven)
	assert.Equal(t, int64(1), s.Daily.DosesScheduled)
	assert.Equal(t, int64(1), s.Daily.Missed)
}

func TestEditMovesSessionAcrossDays(t *testing.T) {
	env := newCLIEnv(t)
	env.mustRun("log", "fluid", "--id", "s-1", "--volume", "100")

	env.mustRun("edit", "s-1", "--at", "2026-03-13T21:30")

	today := env.daySummary()
	require.NotNil(t, today.Daily)
	assert.Equal(t, int64(0), today.Daily.FluidSessions)
	assert.Equal(t, int64(0), today.Daily.VolumeGiven)

	yesterday := env.daySummary("--date", "2026-03-13")
	require.NotNil(t, yesterday.Daily)
	assert.Equal(t, int64(1), yesterday.Daily.FluidSessions)
	assert.Equal(t, int64(100), yesterday.Daily.VolumeGiven)
}

func TestEditErrors(t *testing.T) {
	env := newCLIEnv(t)
	env.mustRun("log", "symptom", "--id", "sym-1", "--symptom", "lethargy", "--category", "mild")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown id", []string{"edit", "nope"}, "is not among the 50 most recent"},
		{"volume on symptom", []string{"edit", "sym-1", "--volume", "10"}, "only --at and --note apply to symptom sessions"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, stderr, err := env.run(tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, stderr, tt.want)
		})
	}
}

func TestRemove(t *testing.T) {
	env := newCLIEnv(t)
	env.mustRun("log", "fluid", "--id", "s-1", "--volume", "100")
	env.mustRun("log", "fluid", "--id", "s-2", "--volume", "50")

	out := env.mustRun("remove", "s-1")
	assert.Contains(t, out, "removed s-1")

	s := env.daySummary()
	require.NotNil(t, s.Daily)
	assert.Equal(t, int64(1), s.Daily.FluidSessions)
	assert.Equal(t, int64(50), s.Daily.VolumeGiven)

	_, _, err := env.run("remove", "s-1")
	require.Error(t, err)
}

func TestSummaryDayText(t *testing.T) {
	env := newCLIEnv(t)

	out := env.mustRun("summary", "day")
	assert.Contains(t, out, "2026-03-14")
	assert.Contains(t, out, "no activity")

	env.mustRun("log", "medication", "--name", "benazepril", "--at", "08:00")
	out = env.mustRun("summary", "day")
	assert.Contains(t, out, "medication: 1/1 doses, 0 missed, done")
	assert.Contains(t, out, "week 2026-W11")
	assert.Contains(t, out, "benazepril: 1 sessions")
	assert.Contains(t, out, "08:00")
}

func TestSummaryDayPastHasNoDayCache(t *testing.T) {
	env := newCLIEnv(t)
	env.mustRun("log", "fluid", "--volume", "90", "--at", "2026-03-10T09:00")

	s := env.daySummary("--date", "2026-03-10")
	require.NotNil(t, s.Daily)
	assert.Equal(t, int64(90), s.Daily.VolumeGiven)
	assert.Nil(t, s.Today)

	_, _, err := env.run("summary", "day", "--date", "03/10/2026")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestSummaryMonth(t *testing.T) {
	env := newCLIEnv(t)
	env.mustRun("log", "medication", "--name", "benazepril", "--at", "2026-03-12T08:00")
	env.mustRun("log", "medication", "--name", "benazepril", "--missed", "--at", "2026-03-13T08:00")
	env.mustRun("log", "fluid", "--volume", "100", "--goal", "150", "--at", "2026-03-13T19:00")

	var s MonthSummary
	_, err := env.runJSON(&s, "summary", "month")
	require.NoError(t, err)
	assert.Equal(t, "2026-03", s.Month)
	require.NotNil(t, s.Monthly)
	m := s.Monthly
	require.Len(t, m.DosesGiven, 31)
	assert.Equal(t, int64(1), m.DosesGiven[11])
	assert.Equal(t, int64(1), m.DosesScheduled[12])
	assert.Equal(t, int64(100), m.VolumeGiven[12])
	assert.Equal(t, int64(150), m.VolumeGoal[12])
	assert.Equal(t, int64(1), m.TotalDosesGiven)
	assert.Equal(t, int64(2), m.TotalDosesScheduled)
	assert.Equal(t, int64(5000), m.AdherenceBP)
	assert.Equal(t, int64(100), m.TotalVolumeGiven)

	out := env.mustRun("summary", "month")
	assert.Contains(t, out, "adherence 50.0%")
	assert.Contains(t, out, "2026-03-13   100 ml  0/1 doses")
}

func TestSummaryMonthEmpty(t *testing.T) {
	env := newCLIEnv(t)

	out := env.mustRun("summary", "month", "--month", "2026-01")
	assert.Contains(t, out, "2026-01")
	assert.Contains(t, out, "no activity")
}

func TestDue(t *testing.T) {
	env := newCLIEnv(t)
	env.mustRun("log", "medication", "--name", "benazepril", "--at", "08:00")

	tests := []struct {
		name   string
		args   []string
		logged bool
	}{
		{"within default tolerance", []string{"--at", "09:30"}, true},
		{"outside default tolerance", []string{"--at", "11:30"}, false},
		{"explicit tolerance", []string{"--at", "09:30", "--tolerance", "1h"}, false},
		{"other medication", []string{"--at", "08:00", "--name", "mirtazapine"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var res DueResult
			args := append([]string{"due", "--name", "benazepril"}, tt.args...)
			_, err := env.runJSON(&res, args...)
			require.NoError(t, err)
			assert.Equal(t, tt.logged, res.Logged)
		})
	}

	_, _, err := env.run("due", "--name", "benazepril", "--tolerance=-1h")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
