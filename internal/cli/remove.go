package cli

import (
	"github.com/spf13/cobra"
)

// NewRemoveCommand creates the remove command.
func NewRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a logged session",
		Long: `Remove a recently logged session and take its contribution back out of
its day, week and month aggregates.

Example:
  carelog remove 0196f1c2-...`,
		Args:          cobra.ExactArgs(1),
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

			if err := a.sessions.Remove(ctx, args[0]); err != nil {
				return out.Fail("remove failed", err)
			}
			return out.Success(SessionResult{Action: "removed", ID: args[0]})
		},
	}
}
