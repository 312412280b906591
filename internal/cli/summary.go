package cli

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/carelog/internal/aggregate"
	"github.com/roach88/carelog/internal/daycache"
	"github.com/roach88/carelog/internal/ir"
)

// DaySummary is the output of summary day.
type DaySummary struct {
	Date   string            `json:"date"`
	Daily  *aggregate.Daily  `json:"daily,omitempty"`
	Weekly *aggregate.Weekly `json:"weekly,omitempty"`
	// Today is the controller's day cache, set when Date is today.
	Today *daycache.Cache `json:"today,omitempty"`
}

func (s DaySummary) String() string {
	var b strings.Builder
	fmt.Fprintln(&b, s.Date)
	if s.Daily == nil || !s.Daily.Active() {
		fmt.Fprint(&b, "  no activity")
	} else {
		writeCounters(&b, "  ", s.Daily.Counters)
		if s.Daily.Streak > 0 {
			fmt.Fprintf(&b, "  streak: %d days\n", s.Daily.Streak)
		}
	}
	if s.Weekly != nil {
		fmt.Fprintf(&b, "\nweek %s\n", s.Weekly.Week)
		writeCounters(&b, "  ", s.Weekly.Counters)
	}
	if s.Today != nil && len(s.Today.Treatments) > 0 {
		fmt.Fprint(&b, "\ntoday\n")
		for _, name := range slices.Sorted(maps.Keys(s.Today.Treatments)) {
			t := s.Today.Treatments[name]
			times := make([]string, len(t.Times))
			for i, at := range t.Times {
				times[i] = at.Format("15:04")
			}
			fmt.Fprintf(&b, "  %s: %d sessions, %g given, at %s\n", name, t.Sessions, t.Given, strings.Join(times, " "))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func writeCounters(b *strings.Builder, indent string, c aggregate.Counters) {
	fmt.Fprintf(b, "%smedication: %d/%d doses, %d missed%s\n", indent, c.DosesGiven, c.DosesScheduled, c.Missed, doneSuffix(c.MedicationDone))
	fmt.Fprintf(b, "%sfluid: %d sessions (%d scheduled), %d ml%s\n", indent, c.FluidSessions, c.FluidScheduled, c.VolumeGiven, doneSuffix(c.FluidDone))
	fmt.Fprintf(b, "%ssymptoms: %d, severity %d\n", indent, c.SymptomCount, c.SymptomSeverity)
}

func doneSuffix(done bool) string {
	if done {
		return ", done"
	}
	return ""
}

// MonthSummary is the output of summary month.
type MonthSummary struct {
	Month   string             `json:"month"`
	Monthly *aggregate.Monthly `json:"monthly,omitempty"`
}

func (s MonthSummary) String() string {
	m := s.Monthly
	if m == nil {
		return s.Month + "\n  no activity"
	}
	var b strings.Builder
	fmt.Fprintln(&b, s.Month)
	fmt.Fprintf(&b, "  treatment days: %d, missed days: %d\n", m.TreatmentDays, m.MissedDays)
	fmt.Fprintf(&b, "  fluid: %d sessions, %d ml, streak %d (longest %d)\n",
		m.TotalFluidSessions, m.TotalVolumeGiven, m.CurrentFluidStreak, m.LongestFluidStreak)
	fmt.Fprintf(&b, "  medication: %d/%d doses, adherence %.1f%%, streak %d (longest %d)\n",
		m.TotalDosesGiven, m.TotalDosesScheduled, m.Adherence()*100, m.CurrentMedicationStreak, m.LongestMedicationStreak)
	for i := range m.Days() {
		if m.VolumeGiven[i] == 0 && m.DosesGiven[i] == 0 && m.DosesScheduled[i] == 0 {
			continue
		}
		day := m.MonthStart.AddDate(0, 0, i)
		fmt.Fprintf(&b, "  %s  %4d ml  %d/%d doses\n", ir.DateKey(day), m.VolumeGiven[i], m.DosesGiven[i], m.DosesScheduled[i])
	}
	return strings.TrimRight(b.String(), "\n")
}

// NewSummaryCommand creates the summary command.
func NewSummaryCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show daily or monthly aggregates",
	}
	cmd.AddCommand(newSummaryDayCommand(rootOpts))
	cmd.AddCommand(newSummaryMonthCommand(rootOpts))
	return cmd
}

func newSummaryDayCommand(rootOpts *RootOptions) *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "day",
		Short: "Show one day's aggregate and its week",
		Long: `Show the stored aggregate of a day and of its ISO week. For today the
per-medication tallies of the day cache are shown as well.

Examples:
  carelog summary day
  carelog summary day --date 2026-03-14 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			ctx := cmd.Context()
			now := rootOpts.clock().Now()
			day, err := parseDay(date, now)
			if err != nil {
				return out.Fail("invalid flags", badInput(err))
			}
			today := ir.SameDay(day, now)

			a, err := openApp(ctx, cmd, rootOpts, today)
			if err != nil {
				return err
			}
			defer a.Close()

			summary := DaySummary{Date: ir.DateKey(day)}
			if summary.Daily, err = a.store.FetchDaily(ctx, a.subject, day); err != nil {
				return out.Fail("summary failed", err)
			}
			if summary.Weekly, err = a.store.FetchWeekly(ctx, a.subject, day); err != nil {
				return out.Fail("summary failed", err)
			}
			if today {
				summary.Today = a.sessions.Today()
			}
			return out.Success(summary)
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "day to show, 2006-01-02 (default today)")
	return cmd
}

func newSummaryMonthCommand(rootOpts *RootOptions) *cobra.Command {
	var month string
	cmd := &cobra.Command{
		Use:   "month",
		Short: "Show one month's aggregate and rollups",
		Long: `Show the per-day totals of a month with its rollups: treatment and missed
days, streaks, adherence and totals. Rollups of the current month count
streaks up to today.

Examples:
  carelog summary month
  carelog summary month --month 2026-02`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			ctx := cmd.Context()
			now := rootOpts.clock().Now()
			start, err := parseMonth(month, now)
			if err != nil {
				return out.Fail("invalid flags", badInput(err))
			}

			a, err := openApp(ctx, cmd, rootOpts, false)
			if err != nil {
				return err
			}
			defer a.Close()

			m, err := a.store.FetchMonthly(ctx, a.subject, start, now)
			if err != nil {
				return out.Fail("summary failed", err)
			}
			return out.Success(MonthSummary{Month: ir.MonthKey(start), Monthly: m})
		},
	}
	cmd.Flags().StringVar(&month, "month", "", "month to show, 2006-01 (default this month)")
	return cmd
}
