package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/homemade/tap-talonone/logger"
	"github.com/homemade/tap-talonone/tap"
)

var version = "0.1.0"

type flags struct {
	config         string
	catalog        string
	state          string
	discover       bool
	recordRequests bool
	logLevel       string
	logFormat      string
	logFile        string
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand(os.Stdout)
	if err := root.ExecuteContext(ctx); err != nil {
		logger.Error("tap-talonone failed", zap.Error(err))
		_ = logger.Sync()
		stop()
		os.Exit(1)
	}
	_ = logger.Sync()
}

func newRootCommand(stdout io.Writer) *cobra.Command {
	var f flags

	root := &cobra.Command{
		Use:   "tap-talonone",
		Short: "Singer tap for the Talon.One management API",
		Long: `tap-talonone extracts users, accounts, applications, campaigns, coupons,
referrals, friends, changes and additional costs from the Talon.One
management API and writes them to stdout as Singer messages.

Example:
  tap-talonone --config config.json --discover > catalog.json
  tap-talonone --config config.json --catalog catalog.json --state state.json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logger.Init(logger.Config{
				Level:    f.logLevel,
				Encoding: f.logFormat,
				File:     f.logFile,
			})
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.discover {
				return runDiscover(stdout)
			}
			return runSync(cmd.Context(), stdout, f)
		},
	}

	root.PersistentFlags().StringVarP(&f.config, "config", "c", "", "Path to the config file (JSON or YAML)")
	root.PersistentFlags().StringVar(&f.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&f.logFormat, "log-format", "json", "Log encoding (json, console)")
	root.PersistentFlags().StringVar(&f.logFile, "log-file", "", "Also write logs to this file, rotated by size")
	root.Flags().BoolVarP(&f.discover, "discover", "d", false, "Write the catalog instead of syncing")
	addSyncFlags(root, &f)

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(stdout, "tap-talonone v%s\n", version)
			fmt.Fprintf(stdout, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(stdout, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "discover",
		Short: "Write the catalog of every stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiscover(stdout)
		},
	})

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Extract the selected streams as Singer messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd.Context(), stdout, f)
		},
	}
	addSyncFlags(syncCmd, &f)
	root.AddCommand(syncCmd)

	root.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Validate the config and the API credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd.Context(), stdout, f)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "docs",
		Short: "Write the fields of every stream as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			csv, err := tap.GenerateStreamDocumentation(tap.DefaultRegistry()).FormatCSV()
			if err != nil {
				return err
			}
			_, err = io.WriteString(stdout, csv)
			return err
		},
	})

	return root
}

func addSyncFlags(cmd *cobra.Command, f *flags) {
	cmd.Flags().StringVar(&f.catalog, "catalog", "", "Path to a Singer catalog selecting streams")
	cmd.Flags().StringVarP(&f.state, "state", "s", "", "Path to a Singer state file")
	cmd.Flags().BoolVar(&f.recordRequests, "record-requests", false, "Record API responses under testdata/.requests")
}

func runDiscover(stdout io.Writer) error {
	b, err := json.MarshalIndent(tap.Discover(tap.DefaultRegistry()), "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, string(b))
	return err
}

func runSync(ctx context.Context, stdout io.Writer, f flags) error {
	registry := tap.DefaultRegistry()
	cfg, err := tap.LoadConfig(f.config, registry)
	if err != nil {
		return err
	}

	var selection tap.Selection
	if f.catalog != "" {
		catalog, err := tap.ReadCatalogFile(f.catalog)
		if err != nil {
			return err
		}
		if selection, err = catalog.Selection(registry); err != nil {
			return err
		}
	}

	state, err := tap.ReadStateFile(f.state)
	if err != nil {
		return err
	}
	logger.Debug("loaded state", zap.Strings("bookmarks", state.Streams()))

	sc := tap.NewSyncContext(cfg, f.recordRequests)
	sink := tap.NewMessageWriter(stdout)
	syncer := tap.NewSyncer(sc, registry, tap.NewClient(sc), sink, state, selection)

	logger.Info("starting sync", zap.String("run_id", sc.RunID), zap.Int64("account_id", cfg.AccountID))
	syncErr := syncer.Sync(ctx)
	if err := sink.Flush(); err != nil && syncErr == nil {
		syncErr = err
	}
	for stream, count := range syncer.Counts() {
		logger.Info("records emitted", zap.String("stream", stream), zap.Int("records", count))
	}

	if cfg.MetricsPushURL != "" {
		// the push also reports failed runs, so it uses its own context
		if err := sc.Metrics.Push(context.WithoutCancel(ctx), cfg.MetricsPushURL, cfg.AccountID); err != nil {
			logger.Warn("metrics push failed", zap.Error(err))
		}
	}
	return syncErr
}

func runCheck(ctx context.Context, stdout io.Writer, f flags) error {
	registry := tap.DefaultRegistry()
	cfg, err := tap.LoadConfig(f.config, registry)
	if err != nil {
		return err
	}
	sc := tap.NewSyncContext(cfg, false)
	path, err := tap.AccountsStream.ResolvePath(sc.RootContext())
	if err != nil {
		return err
	}
	if _, err := tap.NewClient(sc).FetchPage(ctx, tap.AccountsStream.Name, path, nil); err != nil {
		return err
	}
	_, err = fmt.Fprintf(stdout, "config and credentials are valid for account %d\n", cfg.AccountID)
	return err
}
