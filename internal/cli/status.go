package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "status",
		Short:         "Show sync state and pending work",
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

			st, err := app.Engine.Status(cmd.Context())
			if err != nil {
				_ = out.Failure(err.Error())
				return WrapExitError(ExitFailure, "failed to read status", err)
			}

			text := fmt.Sprintf("State: %s\nPending: %d unsynced records", st.State, st.Pending)
			if st.Err != nil {
				text += fmt.Sprintf("\nLast error: %v", st.Err)
			}
			data := map[string]any{
				"state":   st.State.String(),
				"pending": st.Pending,
			}
			if st.Err != nil {
				data["last_error"] = st.Err.Error()
			}
			return out.Success(text, data)
		},
	}
	return cmd
}
