package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// DueResult is the output of the due command.
type DueResult struct {
	Name      string    `json:"name"`
	At        time.Time `json:"at"`
	Tolerance string    `json:"tolerance"`
	Logged    bool      `json:"logged"`
}

func (r DueResult) String() string {
	if r.Logged {
		return fmt.Sprintf("%s due %s: already logged within %s", r.Name, r.At.Format("2006-01-02 15:04"), r.Tolerance)
	}
	return fmt.Sprintf("%s due %s: not logged", r.Name, r.At.Format("2006-01-02 15:04"))
}

// NewDueCommand creates the due command.
func NewDueCommand(rootOpts *RootOptions) *cobra.Command {
	var name, at string
	var tolerance time.Duration

	cmd := &cobra.Command{
		Use:   "due",
		Short: "Check whether a scheduled dose is already logged",
		Long: `Report whether a medication was logged today within the tolerance of its
scheduled time, so a reminder can be skipped.

Only today's sessions are considered. The tolerance defaults to the
dedup_tolerance setting.

Examples:
  carelog due --name benazepril --at 08:00
  carelog due --name benazepril --at 20:00 --tolerance 1h`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			ctx := cmd.Context()

			a, err := openApp(ctx, cmd, rootOpts, true)
			if err != nil {
				return err
			}
			defer a.Close()

			scheduledAt, err := parseTime(at, a.now())
			if err != nil {
				return out.Fail("invalid flags", badInput(err))
			}
			tol := a.opts.Config.DedupTolerance
			if cmd.Flags().Changed("tolerance") {
				if tolerance < 0 {
					return out.Fail("invalid flags", badInput(fmt.Errorf("tolerance must be >= 0, got %s", tolerance)))
				}
				tol = tolerance
			}

			return out.Success(DueResult{
				Name:      name,
				At:        scheduledAt,
				Tolerance: tol.String(),
				Logged:    a.sessions.HasLoggedWithin(name, scheduledAt, tol),
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "medication name (required)")
	cmd.Flags().StringVar(&at, "at", "", "scheduled time (default now)")
	cmd.Flags().DurationVar(&tolerance, "tolerance", 0, "window around the scheduled time")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}
