package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/frontcache/internal/cache"
	"github.com/roach88/frontcache/internal/config"
	"github.com/roach88/frontcache/internal/engine"
	"github.com/roach88/frontcache/internal/frontapi"
	"github.com/roach88/frontcache/internal/memstore"
	"github.com/roach88/frontcache/internal/ratelimit"
	"github.com/roach88/frontcache/internal/store"
)

// SyncOptions holds flags for the init, resume, sync and stats commands.
type SyncOptions struct {
	*RootOptions
	Mode   engine.Mode
	Inbox  string
	Limit  int
	DryRun bool

	// RunIDs allows overriding the run id generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	RunIDs engine.RunIDGenerator

	// Now allows overriding the wall clock (for testing).
	Now func() time.Time
}

var modeHelp = map[engine.Mode]struct{ short, long string }{
	engine.ModeInit: {
		"Crawl every inbox from the top",
		`Crawl every inbox (or the one named by --inbox) from the newest conversation
down, storing conversations, messages and thread links. The sync checkpoint
is reset to this run's count.

Example:
  frontcache init
  frontcache init --inbox Support --limit 500`,
	},
	engine.ModeResume: {
		"Continue each inbox after its last written conversation",
		`Continue an interrupted crawl. Each inbox's listing is skipped up to and
including the most recently written conversation; everything after it is
synced. If that conversation is no longer in the listing, the inbox is
reported as "resume point not found" and left unchanged.

Example:
  frontcache resume`,
	},
	engine.ModeSync: {
		"Fetch conversations active since the last sync",
		`Incremental sync. Each inbox is walked until the first conversation whose
last activity is older than the stored watermark. Inboxes without a
watermark are crawled from the top.

Example:
  frontcache sync
  frontcache sync --inbox inb_55c8c149`,
	},
	engine.ModeStats: {
		"Show what the cache holds",
		`Print per-inbox and per-status counts, thread totals, sync checkpoints and
the most recent conversations. Never touches the network and needs no token.

Example:
  frontcache stats --format json`,
	},
}

// NewSyncCommand creates the command for one run mode.
func NewSyncCommand(rootOpts *RootOptions, mode engine.Mode) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts, Mode: mode}
	help := modeHelp[mode]

	cmd := &cobra.Command{
		Use:   string(mode),
		Short: help.short,
		Long:  help.long,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, opts)
		},
	}

	if !mode.ReadOnly() {
		cmd.Flags().StringVar(&opts.Inbox, "inbox", "", "only sync this inbox (id or name)")
		cmd.Flags().IntVar(&opts.Limit, "limit", 0, "max conversations per inbox (0 = no limit)")
		cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "fetch into memory only; the cache file is not touched")
	}

	return cmd
}

func runSync(cmd *cobra.Command, opts *SyncOptions) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	if opts.Limit < 0 {
		return fail(formatter, ExitCommandError, "INVALID_FLAG", "--limit must not be negative", nil)
	}

	// Configure logging based on verbose flag
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: logLevel,
	}))

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fail(formatter, ExitCommandError, "CONFIG", "failed to load config", err)
	}
	if opts.DBPath != "" {
		cfg.DBPath = opts.DBPath
	}

	var storage cache.Storage
	if opts.DryRun {
		logger.Debug("dry run, using in-memory cache")
		storage = memstore.New()
	} else {
		logger.Debug("opening cache", "path", cfg.DBPath)
		st, err := store.Open(cfg.DBPath)
		if err != nil {
			return fail(formatter, ExitCommandError, "DATABASE", "failed to open cache", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing cache", "error", closeErr)
			}
		}()
		storage = st
	}

	var api engine.API
	if !opts.Mode.ReadOnly() {
		limiter := ratelimit.New(cfg.LimiterConfig(), nil)
		client, err := frontapi.NewClient(cfg.ClientConfig(), limiter, frontapi.WithLogger(logger))
		switch {
		case err == nil:
			api = client
		case !errors.Is(err, frontapi.ErrMissingCredential):
			return fail(formatter, ExitCommandError, "CLIENT", "failed to create API client", err)
		}
	}

	syncOpts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithRecentLimit(cfg.RecentLimit),
		engine.WithRunIDs(opts.RunIDs),
		engine.WithNow(opts.Now),
	}
	syncer := engine.New(api, storage, syncOpts...)

	// Setup signal handling for graceful shutdown
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, stopping after the current page", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	sum, err := syncer.Run(ctx, engine.Options{
		Mode:     opts.Mode,
		Inbox:    opts.Inbox,
		Limit:    opts.Limit,
		Progress: progressPrinter(formatter),
	})
	if err != nil {
		if sum != nil && formatter.Format != "json" {
			// Interrupted: show what was checkpointed before failing.
			_ = renderSummary(formatter.Writer, sum)
		}
		return runError(formatter, err, sum)
	}

	if opts.Mode.ReadOnly() {
		return formatter.Success(sum, func(w io.Writer) error { return renderStats(w, sum.Stats) })
	}
	return formatter.Success(sum, func(w io.Writer) error { return renderSummary(w, sum) })
}

// progressPrinter reports each checkpointed page in verbose mode.
func progressPrinter(f *OutputFormatter) engine.ProgressFunc {
	if !f.Verbose {
		return nil
	}
	return func(p engine.PageProgress) {
		f.VerboseLog("%s page %d: %d conversations, %d messages, %d skipped, %d failed (total %d)",
			p.InboxName, p.Page, p.Conversations, p.Messages, p.Skipped, p.Failed, p.TotalSynced)
	}
}

// runError maps a run-wide failure to an exit code and error code.
// A partial summary, if any, travels as the JSON error details.
func runError(f *OutputFormatter, err error, partial *engine.Summary) error {
	var re *engine.RunError
	switch {
	case errors.Is(err, frontapi.ErrMissingCredential):
		return fail(f, ExitFailure, "MISSING_CREDENTIAL", "set FRONT_API_TOKEN to sync", err)
	case errors.Is(err, context.Canceled):
		if partial != nil {
			return failWith(f, ExitFailure, "INTERRUPTED", "run interrupted; use resume to continue", err, partial)
		}
		return fail(f, ExitFailure, "INTERRUPTED", "run interrupted; use resume to continue", err)
	case errors.As(err, &re):
		return fail(f, ExitFailure, string(re.Code), re.Message, err)
	default:
		return fail(f, ExitFailure, "SYNC_FAILED", "sync failed", err)
	}
}

// fail emits a structured error in JSON mode and returns the exit error.
// In text mode the caller prints the returned error once.
func fail(f *OutputFormatter, exitCode int, code, message string, err error) error {
	var details any
	if err != nil {
		details = err.Error()
	}
	return failWith(f, exitCode, code, message, err, details)
}

func failWith(f *OutputFormatter, exitCode int, code, message string, err error, details any) error {
	if f.Format == "json" {
		_ = f.Error(code, message, details)
	}
	if err == nil {
		return NewExitError(exitCode, fmt.Sprintf("%s: %s", code, message))
	}
	return WrapExitError(exitCode, fmt.Sprintf("%s: %s", code, message), err)
}
