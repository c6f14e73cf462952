package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/habitsync/habitsync/internal/record"
)

// CompleteOptions holds flags for the complete command.
type CompleteOptions struct {
	*RootOptions
	Date   string
	Amount int
	Undo   bool
}

// NewCompleteCommand creates the complete command: record habit progress.
func NewCompleteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompleteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "complete <habit-id>",
		Short: "Record progress on a habit",
		Long: `Record progress on a habit for a day. Progress is written to
the local event outbox and uploaded on the next sync. When the taps
bring every scheduled habit to its goal, the daily award is granted.

Example:
  habitsync complete 0195f7a2-...
  habitsync complete 0195f7a2-... --date 2026-08-27 --amount 2
  habitsync complete 0195f7a2-... --undo`,
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

			dateKey := opts.Date
			if dateKey == "" {
				dateKey = record.DateKeyOf(time.Now().UTC())
			}
			kind := record.EventIncrement
			if opts.Undo {
				kind = record.EventDecrement
			}

			if err := app.Engine.RecordProgress(cmd.Context(), args[0], dateKey, kind, opts.Amount); err != nil {
				_ = out.Failure(err.Error())
				return WrapExitError(ExitFailure, "failed to record progress", err)
			}
			return out.Success(fmt.Sprintf("Recorded %s %d for habit %s on %s", kind, opts.Amount, args[0], dateKey),
				map[string]any{"habit_id": args[0], "date": dateKey, "kind": string(kind), "amount": opts.Amount})
		},
	}

	cmd.Flags().StringVar(&opts.Date, "date", "", "date key (YYYY-MM-DD), default today")
	cmd.Flags().IntVar(&opts.Amount, "amount", 1, "progress amount")
	cmd.Flags().BoolVar(&opts.Undo, "undo", false, "decrement instead of increment")

	return cmd
}
