package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <workout-id>",
		Short: "Delete a workout from the local store",
		Long: `Delete a workout from the local store.

A workout the server already holds stays queued as a pending delete until the
next sync pass removes it remotely.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, backend, err := rootOpts.openStore(ctx, rootOpts.logger(cmd))
			if err != nil {
				return err
			}
			defer backend.Close()

			id := args[0]
			if _, ok := store.Get(ctx, id); !ok {
				return NewExitError(ExitCommandError, fmt.Sprintf("workout %s not found", id))
			}
			if err := store.Delete(ctx, id); err != nil {
				return WrapExitError(ExitFailure, "delete workout", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
			return err
		},
	}
}
