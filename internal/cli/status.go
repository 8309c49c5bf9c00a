package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"example.com/treniren/internal/messaging"
	"example.com/treniren/internal/swcache"
)

type statusOutput struct {
	UnsyncedCount int        `json:"unsyncedCount"`
	QueueLength   int        `json:"queueLength"`
	StorageUsed   int64      `json:"storageUsed"`
	StorageTotal  int64      `json:"storageTotal"`
	LastSync      *time.Time `json:"lastSync,omitempty"`
	CacheVersion  string     `json:"cacheVersion,omitempty"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue and storage status",
		Long: `Show the unsynced count, queue length, storage use and last sync time.

With --proxy, the active cache version of the offline proxy is reported too.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := rootOpts.logger(cmd)
			store, backend, err := rootOpts.openStore(ctx, logger)
			if err != nil {
				return err
			}
			defer backend.Close()

			stats := store.Stats(ctx)
			out := statusOutput{
				UnsyncedCount: stats.UnsyncedCount,
				QueueLength:   stats.QueueLength,
				StorageUsed:   stats.StorageUsed,
				StorageTotal:  stats.StorageTotal,
				LastSync:      stats.LastSync,
			}
			if rootOpts.ProxyURL != "" {
				version, err := proxyVersion(ctx, rootOpts.ProxyURL)
				if err != nil {
					logger.Warn("offline proxy unreachable", "url", rootOpts.ProxyURL, "err", err)
				}
				out.CacheVersion = version
			}

			formatter := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			return formatter.Emit(out, func(w io.Writer) error {
				return writeStatus(w, out)
			})
		},
	}
}

func proxyVersion(ctx context.Context, proxyURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	conn, err := messaging.Dial(ctx, proxyURL)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	reply, err := conn.Request(ctx, swcache.Message{Type: swcache.MsgGetVersion}, swcache.MsgVersion)
	if err != nil {
		return "", err
	}
	return reply.Version, nil
}

func writeStatus(w io.Writer, out statusOutput) error {
	lastSync := "never"
	if out.LastSync != nil {
		lastSync = out.LastSync.Local().Format(time.DateTime)
	}
	if _, err := fmt.Fprintf(w, "unsynced: %d\nqueued:   %d\nstorage:  %d / %d bytes\nlast sync: %s\n",
		out.UnsyncedCount, out.QueueLength, out.StorageUsed, out.StorageTotal, lastSync); err != nil {
		return err
	}
	if out.CacheVersion != "" {
		_, err := fmt.Fprintf(w, "cache:    %s\n", out.CacheVersion)
		return err
	}
	return nil
}
