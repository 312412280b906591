package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/carelog/internal/ir"
)

// EditOptions holds flags for the edit command.
type EditOptions struct {
	*RootOptions
	Note      string
	Missed    bool
	Completed bool
	Volume    float64
	Given     float64
	At        string
}

// NewEditCommand creates the edit command.
func NewEditCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EditOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Edit a logged session",
		Long: `Edit a recently logged session. Only the given flags change.

The aggregates move by the difference between the old and the new session.
When --at moves the session to another day, the old day loses the session
and the new day gains it.

Examples:
  carelog edit 0196f1c2-... --missed
  carelog edit 0196f1c2-... --volume 150 --note "second bag"
  carelog edit 0196f1c2-... --at 2026-03-13T21:30`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEdit(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Note, "note", "", "replace the note; empty clears it")
	cmd.Flags().BoolVar(&opts.Missed, "missed", false, "mark a dose as missed")
	cmd.Flags().BoolVar(&opts.Completed, "completed", false, "mark a dose or fluid session as completed")
	cmd.Flags().Float64Var(&opts.Volume, "volume", 0, "fluid volume given in ml")
	cmd.Flags().Float64Var(&opts.Given, "given", 0, "dosage given")
	cmd.Flags().StringVar(&opts.At, "at", "", "when it happened")
	cmd.MarkFlagsMutuallyExclusive("missed", "completed")

	return cmd
}

func runEdit(cmd *cobra.Command, opts *EditOptions, id string) error {
	out := opts.formatter(cmd)
	ctx := cmd.Context()

	a, err := openApp(ctx, cmd, opts.RootOptions, true)
	if err != nil {
		return err
	}
	defer a.Close()

	e, ok := a.sessions.Find(id)
	if !ok {
		return out.Fail("edit failed", badInput(fmt.Errorf("session %s is not among the %d most recent", id, a.opts.Config.FetchLimit)))
	}
	if err := applyEdit(cmd, opts, &e, a.now()); err != nil {
		return out.Fail("invalid flags", badInput(err))
	}

	saved, err := a.sessions.Edit(ctx, e)
	if err != nil {
		return out.Fail("edit failed", err)
	}
	return out.Success(SessionResult{Action: "edited", ID: saved.ID, Session: &saved})
}

// applyEdit changes the fields of e named by the flags that were set.
func applyEdit(cmd *cobra.Command, opts *EditOptions, e *ir.SessionEvent, now time.Time) error {
	flags := cmd.Flags()
	if flags.Changed("at") {
		at, err := parseTime(opts.At, now)
		if err != nil {
			return err
		}
		e.OccurredAt = at
	}
	if flags.Changed("note") {
		if opts.Note == "" {
			e.Note = nil
		} else {
			note := opts.Note
			e.Note = &note
		}
	}

	switch e.Kind {
	case ir.KindMedication:
		if flags.Changed("volume") {
			return errors.New("--volume applies to fluid sessions")
		}
		if flags.Changed("given") {
			e.Medication.DosageGiven = opts.Given
		}
		if opts.Missed {
			e.Medication.Completed = false
			e.Medication.DosageGiven = 0
		}
		if opts.Completed {
			e.Medication.Completed = true
			if e.Medication.DosageGiven == 0 {
				e.Medication.DosageGiven = e.Medication.DosageScheduled
			}
		}
	case ir.KindFluid:
		if flags.Changed("given") || opts.Missed {
			return errors.New("--given and --missed apply to medication sessions")
		}
		if flags.Changed("volume") {
			e.Fluid.VolumeGiven = opts.Volume
		}
		if opts.Completed {
			e.Fluid.Completed = true
		}
	default:
		if flags.Changed("given") || flags.Changed("volume") || opts.Missed || opts.Completed {
			return fmt.Errorf("only --at and --note apply to %s sessions", e.Kind)
		}
	}
	return nil
}
