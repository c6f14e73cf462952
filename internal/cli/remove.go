package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewRemoveCommand creates the remove command: delete a habit everywhere.
func NewRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <habit-id>",
		Short: "Delete a habit locally and remotely",
		Long: `Delete a habit from the local database and the remote store.
If the remote delete fails (offline), the habit stays guarded against
resurrection and the remote cleanup finishes on a later sync.

Example:
  habitsync remove 0195f7a2-...`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := OpenApp(rootOpts.Config)
			if err != nil {
				return err
			}
			defer app.Close()

			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout(), Verbose: rootOpts.Verbose}

			if err := app.Engine.DeleteHabit(cmd.Context(), args[0]); err != nil {
				_ = out.Failure(err.Error())
				return WrapExitError(ExitFailure, "failed to delete habit", err)
			}
			return out.Success(fmt.Sprintf("Deleted habit %s", args[0]),
				map[string]any{"habit_id": args[0]})
		},
	}
	return cmd
}
