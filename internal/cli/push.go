package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/habitsync/habitsync/internal/engine"
)

// NewPushCommand creates the push command: upload local changes only.
func NewPushCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "push",
		Short: "Push unsynced local records to the remote",
		Long: `Upload unsynced progress events, completions, and daily awards
without pulling remote changes first.

Example:
  habitsync push
  habitsync push --format json`,
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

			type step struct {
				name string
				fn   func(context.Context) (engine.PushResult, error)
			}
			steps := []step{
				{"events", app.Engine.PushEvents},
				{"completions", app.Engine.PushCompletions},
				{"awards", app.Engine.PushAwards},
			}

			results := make(map[string]engine.PushResult, len(steps))
			var firstErr error
			text := ""
			for _, st := range steps {
				res, err := st.fn(cmd.Context())
				results[st.name] = res
				if err != nil && firstErr == nil {
					firstErr = err
				}
				if res.Skipped {
					text = "Push skipped (guest mode or sync already in flight)."
					break
				}
				text += fmt.Sprintf("%s: %d pushed, %d already remote, %d failed\n",
					st.name, res.Synced, res.AlreadySynced, res.Failed)
			}

			if firstErr != nil {
				_ = out.Failure(firstErr.Error())
				return WrapExitError(ExitFailure, "push finished with errors", firstErr)
			}
			return out.Success(strings.TrimRight(text, "\n"), results)
		},
	}
	return cmd
}
