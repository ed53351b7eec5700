package cli

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/scbrown/genfeedback/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Show or modify configuration",
	Long: `View or change gf configuration stored in ~/.gf/config.toml.

With no arguments, shows all configuration settings.
With one argument, shows the value of that key.
With two arguments, sets the key to the given value.

Settings:
  db_path          Path to the SQLite database
  store_mode       Store backend: sqlite, postgres, badger or remote
  postgres_dsn     Connection string for store_mode postgres
  badger_path      Directory for store_mode badger
  remote_url       gf serve URL for store_mode remote
  store_timeout    Bound on each store call, e.g. 2s
  min_occurrences  Sightings a pattern needs before it is advised on
  advice_cap       Maximum items in each advice list
  nats_url         NATS server for sharing advice cache invalidations
  default_format   Default output format: "table" or "json"
  log_level        debug, info, warn or error

Severity priors are set per error kind with severity_priors.<kind>.`,
	Example: `  gf config
  gf config store_mode
  gf config store_mode postgres
  gf config postgres_dsn "postgres://gf@localhost/gf?sslmode=disable"
  gf config severity_priors.integrity 0.95`,
	Args:              cobra.MaximumNArgs(2),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadFrom(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		w := cmd.OutOrStdout()
		switch len(args) {
		case 0:
			return showConfig(w, cfg)
		case 1:
			return getConfig(w, cfg, args[0])
		default:
			return setConfig(w, cfg, args[0], args[1])
		}
	},
}

// configPath is the path to the config file, settable for testing.
var configPath = config.Path()

func init() {
	rootCmd.AddCommand(configCmd)
}

func showConfig(w io.Writer, cfg *config.Config) error {
	if jsonOutput {
		return writeJSON(w, cfg)
	}

	tbl := NewTable(w, "KEY", "VALUE")
	for _, key := range config.ValidKeys() {
		val, _ := cfg.Get(key)
		if val == "" {
			val = "(not set)"
		}
		tbl.Row(key, val)
	}
	kinds := make([]string, 0, len(cfg.SeverityPriors))
	for k := range cfg.SeverityPriors {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		tbl.Row("severity_priors."+k, fmt.Sprintf("%g", cfg.SeverityPriors[k]))
	}
	return tbl.Flush()
}

func getConfig(w io.Writer, cfg *config.Config, key string) error {
	val, err := cfg.Get(key)
	if err != nil {
		return err
	}
	if val == "" {
		return nil
	}
	fmt.Fprintln(w, val)
	return nil
}

func setConfig(w io.Writer, cfg *config.Config, key, value string) error {
	if err := cfg.Set(key, value); err != nil {
		return err
	}
	if err := cfg.SaveTo(configPath); err != nil {
		return err
	}
	fmt.Fprintf(w, "%s = %s\n", key, value)
	return nil
}
