package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/carelog/internal/ir"
)

// LogOptions holds flags for the log subcommands.
type LogOptions struct {
	*RootOptions
	ID          string
	At          string
	ScheduledAt string
	Note        string

	// medication
	Name      string
	Given     float64
	Scheduled float64
	Unit      string
	Missed    bool

	// fluid
	Volume float64
	Goal   float64
	Site   string

	// symptom
	Symptom  string
	Count    int
	Category string
}

// SessionResult is the output of log, edit and remove.
type SessionResult struct {
	Action  string           `json:"action"`
	Session *ir.SessionEvent `json:"session,omitempty"`
	ID      string           `json:"id"`
}

func (r SessionResult) String() string {
	if r.Session == nil {
		return fmt.Sprintf("%s %s", r.Action, r.ID)
	}
	return fmt.Sprintf("%s %s %s at %s: %s", r.Action, r.Session.Kind, r.ID,
		r.Session.OccurredAt.Format(time.RFC3339), describeSession(*r.Session))
}

// describeSession renders the payload of e on one line.
func describeSession(e ir.SessionEvent) string {
	var parts []string
	switch {
	case e.Medication != nil:
		m := e.Medication
		parts = append(parts, m.Name, fmt.Sprintf("given %g/%g%s", m.DosageGiven, m.DosageScheduled, unitSuffix(m.Unit)))
		if !m.Completed {
			parts = append(parts, "missed")
		}
	case e.Fluid != nil:
		f := e.Fluid
		parts = append(parts, fmt.Sprintf("%g ml", f.VolumeGiven))
		if f.GoalVolume != nil {
			parts = append(parts, fmt.Sprintf("goal %g ml", *f.GoalVolume))
		}
		if f.InjectionSite != "" {
			parts = append(parts, "site "+f.InjectionSite)
		}
	case e.Symptom != nil:
		parts = append(parts, string(e.Symptom.Symptom), fmt.Sprintf("severity %d", e.Symptom.Severity()))
	}
	if e.Note != nil {
		parts = append(parts, fmt.Sprintf("note %q", *e.Note))
	}
	return strings.Join(parts, ", ")
}

func unitSuffix(unit string) string {
	if unit == "" {
		return ""
	}
	return " " + unit
}

// NewLogCommand creates the log command and its kind subcommands.
func NewLogCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Log a medication dose, fluid session or symptom",
		Long: `Log a session for the configured subject.

The session is written together with the increments to its day, week and
month aggregates in one batch. Nothing is written when the session is
invalid.

Examples:
  carelog log medication --name benazepril --at 08:00
  carelog log fluid --volume 120 --goal 150 --site left
  carelog log symptom --symptom vomiting --count 2
  carelog log symptom --symptom appetite --category mild --at=-2h`,
	}

	cmd.AddCommand(newLogMedicationCommand(&LogOptions{RootOptions: rootOpts}))
	cmd.AddCommand(newLogFluidCommand(&LogOptions{RootOptions: rootOpts}))
	cmd.AddCommand(newLogSymptomCommand(&LogOptions{RootOptions: rootOpts}))
	return cmd
}

func addCommonLogFlags(cmd *cobra.Command, opts *LogOptions) {
	cmd.Flags().StringVar(&opts.ID, "id", "", "session ID (default a new UUIDv7)")
	cmd.Flags().StringVar(&opts.At, "at", "", "when it happened (default now)")
	cmd.Flags().StringVar(&opts.Note, "note", "", "free-text note")
}

func newLogMedicationCommand(opts *LogOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "medication",
		Short:         "Log a medication dose",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLog(cmd, opts, func(now time.Time) (ir.SessionEvent, error) {
				scheduledAt, err := parseOptionalTime(opts.ScheduledAt, now)
				if err != nil {
					return ir.SessionEvent{}, err
				}
				dose := &ir.MedicationDose{
					Name:            opts.Name,
					Unit:            opts.Unit,
					DosageGiven:     opts.Given,
					DosageScheduled: opts.Scheduled,
					Completed:       !opts.Missed,
					ScheduledAt:     scheduledAt,
				}
				if opts.Missed {
					dose.DosageGiven = 0
				}
				return ir.SessionEvent{Kind: ir.KindMedication, Medication: dose}, nil
			})
		},
	}
	addCommonLogFlags(cmd, opts)
	cmd.Flags().StringVar(&opts.Name, "name", "", "medication name (required)")
	cmd.Flags().Float64Var(&opts.Given, "given", 1, "dosage given")
	cmd.Flags().Float64Var(&opts.Scheduled, "scheduled", 1, "dosage scheduled")
	cmd.Flags().StringVar(&opts.Unit, "unit", "", "dosage unit, e.g. mg or pill")
	cmd.Flags().BoolVar(&opts.Missed, "missed", false, "the scheduled dose was not given")
	cmd.Flags().StringVar(&opts.ScheduledAt, "scheduled-at", "", "when the dose was due")
	return cmd
}

func newLogFluidCommand(opts *LogOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "fluid",
		Short:         "Log a subcutaneous fluid session",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLog(cmd, opts, func(now time.Time) (ir.SessionEvent, error) {
				scheduledAt, err := parseOptionalTime(opts.ScheduledAt, now)
				if err != nil {
					return ir.SessionEvent{}, err
				}
				fluid := &ir.FluidSession{
					VolumeGiven:   opts.Volume,
					InjectionSite: opts.Site,
					Completed:     true,
					ScheduledAt:   scheduledAt,
				}
				if cmd.Flags().Changed("goal") {
					goal := opts.Goal
					fluid.GoalVolume = &goal
				}
				return ir.SessionEvent{Kind: ir.KindFluid, Fluid: fluid}, nil
			})
		},
	}
	addCommonLogFlags(cmd, opts)
	cmd.Flags().Float64Var(&opts.Volume, "volume", 0, "volume given in ml (required)")
	cmd.Flags().Float64Var(&opts.Goal, "goal", 0, "goal volume in ml")
	cmd.Flags().StringVar(&opts.Site, "site", "", "injection site")
	cmd.Flags().StringVar(&opts.ScheduledAt, "scheduled-at", "", "when the session was due")
	_ = cmd.MarkFlagRequired("volume")
	return cmd
}

func newLogSymptomCommand(opts *LogOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "symptom",
		Short:         "Log an observed symptom",
		Long:          "Vomiting is logged as a --count of episodes; diarrhea, appetite and lethargy as a --category (none|mild|moderate|severe).",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLog(cmd, opts, func(now time.Time) (ir.SessionEvent, error) {
				check := &ir.SymptomCheck{Symptom: ir.SymptomKind(opts.Symptom)}
				switch {
				case cmd.Flags().Changed("count"):
					check.Value = ir.Count(opts.Count)
				case opts.Category != "":
					check.Value = ir.Category(opts.Category)
				}
				return ir.SessionEvent{Kind: ir.KindSymptom, Symptom: check}, nil
			})
		},
	}
	addCommonLogFlags(cmd, opts)
	cmd.Flags().StringVar(&opts.Symptom, "symptom", "", "symptom: vomiting|diarrhea|appetite|lethargy (required)")
	cmd.Flags().IntVar(&opts.Count, "count", 0, "number of episodes")
	cmd.Flags().StringVar(&opts.Category, "category", "", "severity category")
	cmd.MarkFlagsMutuallyExclusive("count", "category")
	_ = cmd.MarkFlagRequired("symptom")
	return cmd
}

// runLog builds the event with build, fills in the shared fields and logs
// it through the session controller.
func runLog(cmd *cobra.Command, opts *LogOptions, build func(now time.Time) (ir.SessionEvent, error)) error {
	out := opts.formatter(cmd)
	ctx := cmd.Context()

	a, err := openApp(ctx, cmd, opts.RootOptions, true)
	if err != nil {
		return err
	}
	defer a.Close()

	now := a.now()
	e, err := build(now)
	if err != nil {
		return out.Fail("invalid flags", badInput(err))
	}
	if e.OccurredAt, err = parseTime(opts.At, now); err != nil {
		return out.Fail("invalid flags", badInput(err))
	}
	e.ID = opts.ID
	if opts.Note != "" {
		note := opts.Note
		e.Note = &note
	}

	saved, err := a.sessions.Log(ctx, e)
	if err != nil {
		return out.Fail("log failed", err)
	}
	a.opts.logger().Debug("session logged", "subject", a.subject, "id", saved.ID, "kind", saved.Kind)
	return out.Success(SessionResult{Action: "logged", ID: saved.ID, Session: &saved})
}
