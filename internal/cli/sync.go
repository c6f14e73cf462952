package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/habitsync/habitsync/internal/engine"
)

// NewSyncCommand creates the sync command: one full pull-then-push cycle.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one full sync cycle",
		Long: `Run one full sync cycle: pull remote changes, then push local
events, completions, and awards.

Example:
  habitsync sync --config ~/.habitsync/config.yaml
  habitsync sync --format json`,
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

			res, err := app.Engine.RunFullCycle(cmd.Context())
			if err != nil {
				_ = out.Failure(err.Error())
				return WrapExitError(ExitFailure, "sync cycle finished with errors", err)
			}
			if res.Skipped {
				return out.Success("Sync skipped (guest mode or sync already in flight).", res)
			}
			return out.Success(cycleSummary(res), res)
		},
	}
	return cmd
}

func cycleSummary(res engine.CycleResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Pulled: %d habits, %d completions, %d awards, %d events\n",
		res.Pull.HabitsPulled, res.Pull.CompletionsPulled, res.Pull.AwardsPulled, res.Pull.EventsPulled)
	fmt.Fprintf(&b, "Pushed: %d events, %d completions, %d awards",
		res.Events.Synced, res.Completions.Synced, res.Awards.Synced)
	if already := res.Events.AlreadySynced + res.Completions.AlreadySynced + res.Awards.AlreadySynced; already > 0 {
		fmt.Fprintf(&b, " (%d already remote)", already)
	}
	return b.String()
}
