// Package cli defines the cobra command tree for the gf CLI.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/scbrown/genfeedback/internal/config"
	"github.com/scbrown/genfeedback/internal/loop"
	"github.com/scbrown/genfeedback/internal/metrics"
	"github.com/scbrown/genfeedback/internal/notify"
	"github.com/scbrown/genfeedback/internal/store"
)

var (
	dbPath     string
	jsonOutput bool
	storeMode  string
	logLevel   string

	// resolved is the effective configuration, filled by the root pre-run.
	resolved config.Resolved
	logger   = slog.New(slog.DiscardHandler)
)

// rootCmd is the top-level gf command.
var rootCmd = &cobra.Command{
	Use:   "gf",
	Short: "Generation feedback - learn from failed code generation",
	Long: `gf records failures observed while testing generated API code, turns them
into normalized anti-patterns, and feeds what it learned back into the next
generation as prompt guidance and structural adjustments.

Failures arrive as harness events (gf record) or diagnostic violations
(gf bridge). Guidance is read with gf advise, gf prompt and gf adjust.

Data is stored in a SQLite database at ~/.gf/genfeedback.db by default.
Postgres, BadgerDB and a remote gf serve instance are selected with
gf config store_mode. All output commands support --json.`,
	Example: `  # Learn from a test run
  gf record --entity Cart < failures.json

  # Bridge linter output
  gf bridge --source diagnostic < violations.ndjson

  # Read guidance for the next generation
  gf prompt Cart --endpoint "POST /carts/{id}/items"
  gf adjust Product --json`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadFrom(configPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("db") || cfg.DBPath == "" {
			cfg.DBPath = dbPath
		}
		if storeMode != "" {
			cfg.StoreMode = storeMode
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		r, err := cfg.Resolve()
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		resolved = r
		if r.DefaultFormat == "json" && !cmd.Flags().Changed("json") {
			jsonOutput = true
		}
		logger = newLogger(cmd.ErrOrStderr(), r.LogLevel)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", defaultDBPath(), "path to SQLite database")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVar(&storeMode, "store", "", "store backend: sqlite, postgres, badger or remote")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error")
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// openStore returns the store.Store selected by the resolved configuration.
func openStore() (store.Store, error) {
	switch resolved.StoreMode {
	case config.ModeRemote:
		return store.NewRemote(resolved.RemoteURL), nil
	case config.ModePostgres:
		return store.NewPostgres(resolved.PostgresDSN)
	case config.ModeBadger:
		return store.OpenBadger(store.BadgerConfig{
			Path:   resolved.BadgerPath,
			Logger: logger.With("component", "badger"),
		})
	default:
		return store.New(resolved.DBPath)
	}
}

// openLoop builds a Loop over the configured store. reg may be nil.
func openLoop(reg prometheus.Registerer) (*loop.Loop, error) {
	s, err := openStore()
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	var bus notify.Bus
	if resolved.NATSURL != "" {
		nb, err := notify.ConnectNATS(notify.NATSConfig{
			URL:    resolved.NATSURL,
			Logger: logger.With("component", "nats"),
		})
		if err != nil {
			s.Close()
			return nil, err
		}
		bus = nb
	}
	return newLoop(s, bus, metrics.New(reg))
}

// newLoop builds a Loop that owns s and bus. On failure both are closed.
// bus may be nil.
func newLoop(s store.Store, bus notify.Bus, m *metrics.Metrics) (*loop.Loop, error) {
	l, err := loop.New(loop.Options{
		Store:          s,
		Priors:         resolved.Priors,
		Bus:            bus,
		Logger:         logger,
		Metrics:        m,
		StoreTimeout:   resolved.StoreTimeout,
		AdviceCap:      resolved.AdviceCap,
		MinOccurrences: resolved.MinOccurrences,
	})
	if err != nil {
		if bus != nil {
			bus.Close()
		}
		s.Close()
		return nil, err
	}
	return l, nil
}

// withLoop opens a Loop, runs fn and closes the Loop.
func withLoop(fn func(ctx context.Context, l *loop.Loop) error) error {
	l, err := openLoop(nil)
	if err != nil {
		return err
	}
	defer l.Close()
	return fn(context.Background(), l)
}

// withStore opens the configured store, runs fn and closes the store.
func withStore(fn func(ctx context.Context, s store.Store) error) error {
	s, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()
	return fn(context.Background(), s)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func defaultDBPath() string {
	return filepath.Join(config.Dir(), "genfeedback.db")
}
