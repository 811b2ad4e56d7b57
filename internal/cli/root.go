package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/frontcache/internal/engine"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	DBPath     string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the frontcache CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "frontcache",
		Short: "Mirror Front inboxes into a local SQLite cache",
		Long: `frontcache keeps a local, queryable copy of Front inboxes, conversations
and messages. It obeys Front's rate limit and checkpoints after every page,
so an interrupted run can be resumed.

The API token is read from FRONT_API_TOKEN (a .env file is honored).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to YAML config (default $FRONTCACHE_CONFIG)")
	cmd.PersistentFlags().StringVar(&opts.DBPath, "db", "", "path to cache database (default ~/.frontcache/front-cache.db)")

	cmd.AddCommand(NewSyncCommand(opts, engine.ModeInit))
	cmd.AddCommand(NewSyncCommand(opts, engine.ModeResume))
	cmd.AddCommand(NewSyncCommand(opts, engine.ModeSync))
	cmd.AddCommand(NewSyncCommand(opts, engine.ModeStats))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
