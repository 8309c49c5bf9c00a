// Package cli implements synctl, the command-line client of the local workout store.
package cli

import (
	"context"
	"fmt"
	"slices"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"example.com/treniren/internal/config"
	"example.com/treniren/internal/localstore"
	"example.com/treniren/internal/logging"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	StorePath string
	APIURL    string
	Session   string
	CSRF      string
	ProxyURL  string
	Topic     string
	Brokers   []string
	Verbose   bool
	Format    string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command with flag defaults taken from cfg.
func NewRootCommand(cfg config.Config) *cobra.Command {
	opts := &RootOptions{Brokers: cfg.KafkaBrokers, Topic: cfg.EventTopic}

	cmd := &cobra.Command{
		Use:   "synctl",
		Short: "synctl - offline workout queue",
		Long:  "Record workouts while offline and replay them to the treniren workout API.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.StorePath, "store", cfg.StorePath, "path of the local store database")
	flags.StringVar(&opts.APIURL, "api", cfg.APIBaseURL, "workout API base URL")
	flags.StringVar(&opts.Session, "session", cfg.SessionToken, "session token")
	flags.StringVar(&opts.CSRF, "csrf", cfg.CSRFToken, "CSRF token")
	flags.StringVar(&opts.ProxyURL, "proxy", "", "offline proxy URL queried by status")
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewRecordCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))

	return cmd
}

func (o *RootOptions) logger(cmd *cobra.Command) *log.Logger {
	level := "warn"
	if o.Verbose {
		level = "debug"
	}
	return logging.New(logging.Options{Writer: cmd.ErrOrStderr(), Level: level, Prefix: "synctl"})
}

// openStore opens the shared store database; the caller closes the returned backend.
func (o *RootOptions) openStore(_ context.Context, logger *log.Logger) (*localstore.Store, *localstore.SQLiteBackend, error) {
	backend, err := localstore.OpenSQLite(o.StorePath, 0)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "open store", err)
	}
	return localstore.New(backend, localstore.WithLogger(logger)), backend, nil
}
