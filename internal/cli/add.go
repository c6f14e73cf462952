package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/habitsync/habitsync/internal/idkey"
	"github.com/habitsync/habitsync/internal/record"
)

// AddOptions holds flags for the add command.
type AddOptions struct {
	*RootOptions
	Goal int
	Days []string
}

var dayNames = map[string]int{
	"sun": 0, "mon": 1, "tue": 2, "wed": 3, "thu": 4, "fri": 5, "sat": 6,
}

// NewAddCommand creates the add command: create a habit locally. The habit
// is uploaded on the next pull's reconciliation pass.
func NewAddCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AddOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Create a new habit",
		Long: `Create a new habit in the local database. With no --days the
habit is scheduled every day.

Example:
  habitsync add "Drink water" --goal 8
  habitsync add "Gym" --days mon,wed,fri`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			mask, err := parseDays(opts.Days)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid --days", err)
			}
			if opts.Goal < 1 {
				return WrapExitError(ExitCommandError, "invalid --goal", fmt.Errorf("goal must be at least 1, got %d", opts.Goal))
			}

			app, err := OpenApp(rootOpts.Config)
			if err != nil {
				return err
			}
			defer app.Close()

			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout(), Verbose: rootOpts.Verbose}

			userID := app.Config.User
			if userID == "" {
				userID = record.GuestUserID
			}
			now := time.Now().UTC()
			h := record.Habit{
				UserID:     userID,
				HabitID:    idkey.UUIDv7Generator{}.Generate(),
				Name:       args[0],
				Goal:       opts.Goal,
				DaysOfWeek: mask,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			if err := app.Local.UpsertHabit(cmd.Context(), h); err != nil {
				_ = out.Failure(err.Error())
				return WrapExitError(ExitFailure, "failed to create habit", err)
			}
			return out.Success(fmt.Sprintf("Created habit %s (%s)", h.Name, h.HabitID),
				map[string]any{"habit_id": h.HabitID, "name": h.Name, "goal": h.Goal})
		},
	}

	cmd.Flags().IntVar(&opts.Goal, "goal", 1, "daily target count")
	cmd.Flags().StringSliceVar(&opts.Days, "days", nil, "scheduled days (mon,tue,...); empty means every day")

	return cmd
}

func parseDays(days []string) (uint8, error) {
	var mask uint8
	for _, d := range days {
		bit, ok := dayNames[strings.ToLower(strings.TrimSpace(d))]
		if !ok {
			return 0, fmt.Errorf("unknown day %q", d)
		}
		mask |= 1 << bit
	}
	return mask, nil
}
