package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"example.com/treniren/internal/domain"
)

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	var unsyncedOnly bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workouts held in the local store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, backend, err := rootOpts.openStore(ctx, rootOpts.logger(cmd))
			if err != nil {
				return err
			}
			defer backend.Close()

			workouts := store.GetAll(ctx)
			if unsyncedOnly {
				workouts = store.GetUnsynced(ctx)
			}
			if workouts == nil {
				workouts = []domain.Workout{}
			}

			formatter := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			return formatter.Emit(workouts, func(w io.Writer) error {
				return writeWorkoutTable(w, workouts)
			})
		},
	}

	cmd.Flags().BoolVar(&unsyncedOnly, "unsynced", false, "only show workouts not yet synced")
	return cmd
}

func writeWorkoutTable(w io.Writer, workouts []domain.Workout) error {
	if len(workouts) == 0 {
		_, err := fmt.Fprintln(w, "no workouts")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tSTART\tSTATUS\tSERVER ID")
	for _, wk := range workouts {
		status := "pending"
		if wk.Synced {
			status = "synced"
		}
		serverID := wk.ServerID
		if serverID == "" {
			serverID = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", wk.ID, wk.Type, wk.StartTime.Local().Format(time.DateTime), status, serverID)
	}
	return tw.Flush()
}
