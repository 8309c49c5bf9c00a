package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"example.com/treniren/internal/domain"
)

type recordOptions struct {
	workoutType string
	start       string
	end         string
	volume      string
	feel        int
	notes       string
	details     string
	exercises   []string
}

// NewRecordCommand creates the record command.
func NewRecordCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &recordOptions{}

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a workout in the local store",
		Long: `Record a workout with a locally generated id and queue it for sync.

The workout is written to the shared store and stays queued until a sync pass
has delivered it to the workout API.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecord(cmd, rootOpts, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.workoutType, "type", "t", "", "workout type, e.g. BOULDERING")
	cmd.Flags().StringVar(&opts.start, "start", "", "start time (RFC 3339, default now)")
	cmd.Flags().StringVar(&opts.end, "end", "", "end time (RFC 3339)")
	cmd.Flags().StringVar(&opts.volume, "volume", "", "training volume")
	cmd.Flags().IntVar(&opts.feel, "feel", 0, "pre-session feel (1-5, 0 to omit)")
	cmd.Flags().StringVar(&opts.notes, "notes", "", "free-form notes")
	cmd.Flags().StringVar(&opts.details, "details", "", "type-specific details as a JSON object")
	cmd.Flags().StringArrayVarP(&opts.exercises, "exercise", "e", nil, "exercise name (repeatable)")
	_ = cmd.MarkFlagRequired("type")

	return cmd
}

func runRecord(cmd *cobra.Command, rootOpts *RootOptions, opts *recordOptions) error {
	ctx := cmd.Context()
	now := time.Now()

	in, err := opts.input(now)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid workout", err)
	}
	workout, err := domain.NewOfflineWorkout(in, now)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid workout", err)
	}

	store, backend, err := rootOpts.openStore(ctx, rootOpts.logger(cmd))
	if err != nil {
		return err
	}
	defer backend.Close()

	if err := store.Save(ctx, workout); err != nil {
		return WrapExitError(ExitFailure, "save workout", err)
	}

	formatter := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
	return formatter.Emit(workout, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "recorded %s (%s), queued for sync\n", workout.ID, workout.Type)
		return err
	})
}

func (o *recordOptions) input(now time.Time) (domain.WorkoutInput, error) {
	in := domain.WorkoutInput{
		Type:           o.workoutType,
		StartTime:      now,
		TrainingVolume: o.volume,
		Notes:          o.notes,
	}
	if o.start != "" {
		start, err := time.Parse(time.RFC3339, o.start)
		if err != nil {
			return in, fmt.Errorf("start: %w", err)
		}
		in.StartTime = start
	}
	if o.end != "" {
		end, err := time.Parse(time.RFC3339, o.end)
		if err != nil {
			return in, fmt.Errorf("end: %w", err)
		}
		in.EndTime = &end
	}
	if o.feel != 0 {
		feel := o.feel
		in.PreSessionFeel = &feel
	}
	if o.details != "" {
		in.Details = json.RawMessage(o.details)
	}
	for _, name := range o.exercises {
		in.Exercises = append(in.Exercises, domain.ExerciseEntry{Name: name})
	}
	return in, nil
}
