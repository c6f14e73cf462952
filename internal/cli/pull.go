package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewPullCommand creates the pull command: download remote changes only.
func NewPullCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Pull remote changes into the local database",
		Long: `Fetch remote changes since the last sync watermark, merge them
under last-write-wins rules, and reconcile deletions.

Example:
  habitsync pull
  habitsync pull --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := OpenApp(rootOpts.Config)
			if err != nil {
				return err
			}
			defer app.Close()

			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout(), Verbose: rootOpts.Verbose}

			sum, err := app.Engine.Pull(cmd.Context())
			if err != nil {
				_ = out.Failure(err.Error())
				return WrapExitError(ExitFailure, "pull finished with errors", err)
			}
			if sum.Skipped {
				return out.Success("Pull skipped (guest mode or sync already in flight).", sum)
			}
			text := fmt.Sprintf("Pulled: %d habits, %d completions, %d awards, %d events",
				sum.HabitsPulled, sum.CompletionsPulled, sum.AwardsPulled, sum.EventsPulled)
			return out.Success(text, sum)
		},
	}
	return cmd
}
