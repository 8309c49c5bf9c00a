package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"example.com/treniren/internal/events"
	"example.com/treniren/internal/localstore"
	"example.com/treniren/internal/messaging"
	"example.com/treniren/internal/reconcile"
	"example.com/treniren/internal/swcache"
	"example.com/treniren/internal/workoutapi"
)

type syncOutput struct {
	Attempted int  `json:"attempted"`
	Synced    int  `json:"synced"`
	Deleted   int  `json:"deleted"`
	Failed    int  `json:"failed"`
	Skipped   int  `json:"skipped"`
	Busy      bool `json:"busy,omitempty"`
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		concurrency int
		follow      bool
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Replay queued workouts to the workout API",
		Long: `Run one reconciliation pass over the sync queue.

Entries that fail stay queued for the next pass. The command exits with
status 1 when any entry failed.

With --follow, synctl stays connected to the offline proxy given by --proxy
and runs a pass each time the proxy announces that connectivity is back.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := rootOpts.logger(cmd)
			if follow && rootOpts.ProxyURL == "" {
				return NewExitError(ExitCommandError, "--follow requires --proxy")
			}

			store, backend, err := rootOpts.openStore(ctx, logger)
			if err != nil {
				return err
			}
			defer backend.Close()

			opts := []reconcile.Option{
				reconcile.WithLogger(logger),
				reconcile.WithConcurrency(concurrency),
			}
			if len(rootOpts.Brokers) > 0 {
				producer := events.NewKafkaProducer(rootOpts.Brokers)
				defer producer.Close()
				opts = append(opts, reconcile.WithPublisher(events.NewKafkaPublisher(producer), rootOpts.Topic))
			}

			client := workoutapi.New(rootOpts.APIURL, workoutapi.Credentials{Session: rootOpts.Session, CSRF: rootOpts.CSRF})
			reconciler := reconcile.New(store, client, opts...)
			formatter := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}

			if follow {
				return followProxy(ctx, rootOpts.ProxyURL, store, reconciler, formatter, logger)
			}

			out, err := syncPass(ctx, reconciler, formatter)
			if err != nil {
				return err
			}
			if out.Failed > 0 {
				return NewExitError(ExitFailure, fmt.Sprintf("%d workout(s) still queued", out.Failed))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&concurrency, "concurrency", reconcile.DefaultConcurrency, "parallel submissions")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep running and sync on every SYNC_WORKOUTS from the proxy")
	return cmd
}

func syncPass(ctx context.Context, reconciler *reconcile.Reconciler, formatter *OutputFormatter) (syncOutput, error) {
	res, err := reconciler.Reconcile(ctx)
	if err != nil {
		return syncOutput{}, WrapExitError(ExitCommandError, "sync aborted", err)
	}

	out := syncOutput{
		Attempted: res.Attempted,
		Synced:    res.Synced,
		Deleted:   res.Deleted,
		Failed:    res.Failed,
		Skipped:   res.Skipped,
		Busy:      res.Busy,
	}
	err = formatter.Emit(out, func(w io.Writer) error {
		if out.Busy {
			_, err := fmt.Fprintln(w, "another process is syncing; nothing attempted")
			return err
		}
		_, err := fmt.Fprintf(w, "synced %d, deleted %d, failed %d, skipped %d\n",
			out.Synced, out.Deleted, out.Failed, out.Skipped)
		return err
	})
	return out, err
}

// followProxy runs a pass at start, then one per SYNC_WORKOUTS broadcast, until ctx ends.
func followProxy(ctx context.Context, proxyURL string, store *localstore.Store, reconciler *reconcile.Reconciler, formatter *OutputFormatter, logger *log.Logger) error {
	conn, err := messaging.Dial(ctx, proxyURL)
	if err != nil {
		return WrapExitError(ExitCommandError, "connect to proxy", err)
	}
	defer conn.Close()

	if len(store.Queue(ctx)) > 0 {
		if _, err := syncPass(ctx, reconciler, formatter); err != nil {
			return err
		}
	}

	for {
		msg, err := conn.Receive(ctx)
		if err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return WrapExitError(ExitCommandError, "proxy connection lost", err)
		}
		if msg.Type != swcache.MsgSyncWorkouts {
			logger.Debug("ignoring proxy message", "type", msg.Type)
			continue
		}
		if _, err := syncPass(ctx, reconciler, formatter); err != nil {
			return err
		}
	}
}
