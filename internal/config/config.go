// Package config handles reading and writing the gf configuration file (~/.gf/config.toml).
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/scbrown/genfeedback/internal/classify"
)

// Store modes.
const (
	ModeSQLite   = "sqlite"
	ModePostgres = "postgres"
	ModeBadger   = "badger"
	ModeRemote   = "remote"
)

// Defaults applied by Resolve.
const (
	DefaultStoreTimeout   = 2 * time.Second
	DefaultMinOccurrences = 1
	DefaultAdviceCap      = 10
	DefaultLogLevel       = "warn"
)

// Config holds gf configuration settings.
type Config struct {
	DBPath         string `toml:"db_path,omitempty" json:"db_path,omitempty" yaml:"db_path,omitempty"`
	StoreMode      string `toml:"store_mode,omitempty" json:"store_mode,omitempty" yaml:"store_mode,omitempty"`
	PostgresDSN    string `toml:"postgres_dsn,omitempty" json:"postgres_dsn,omitempty" yaml:"postgres_dsn,omitempty"`
	BadgerPath     string `toml:"badger_path,omitempty" json:"badger_path,omitempty" yaml:"badger_path,omitempty"`
	RemoteURL      string `toml:"remote_url,omitempty" json:"remote_url,omitempty" yaml:"remote_url,omitempty"`
	StoreTimeout   string `toml:"store_timeout,omitempty" json:"store_timeout,omitempty" yaml:"store_timeout,omitempty"`
	MinOccurrences int    `toml:"min_occurrences,omitempty" json:"min_occurrences,omitempty" yaml:"min_occurrences,omitempty"`
	AdviceCap      int    `toml:"advice_cap,omitempty" json:"advice_cap,omitempty" yaml:"advice_cap,omitempty"`
	NATSURL        string `toml:"nats_url,omitempty" json:"nats_url,omitempty" yaml:"nats_url,omitempty"`
	DefaultFormat  string `toml:"default_format,omitempty" json:"default_format,omitempty" yaml:"default_format,omitempty"`
	LogLevel       string `toml:"log_level,omitempty" json:"log_level,omitempty" yaml:"log_level,omitempty"`

	// SeverityPriors maps error kind names to ranking priors in [0, 1].
	SeverityPriors map[string]float64 `toml:"severity_priors,omitempty" json:"severity_priors,omitempty" yaml:"severity_priors,omitempty"`
}

var validKeys = map[string]bool{
	"db_path":         true,
	"store_mode":      true,
	"postgres_dsn":    true,
	"badger_path":     true,
	"remote_url":      true,
	"store_timeout":   true,
	"min_occurrences": true,
	"advice_cap":      true,
	"nats_url":        true,
	"default_format":  true,
	"log_level":       true,
}

// ValidKeys returns the sorted list of valid configuration keys.
func ValidKeys() []string {
	keys := make([]string, 0, len(validKeys))
	for k := range validKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Dir returns the gf home directory (~/.gf).
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".gf"
	}
	return filepath.Join(home, ".gf")
}

// Path returns the default config file path (~/.gf/config.toml).
func Path() string {
	return filepath.Join(Dir(), "config.toml")
}

// Load reads the config from the default path.
func Load() (*Config, error) {
	return LoadFrom(Path())
}

// LoadFrom reads the config from a specific path. Returns an empty Config if
// the file does not exist. The format follows the file extension: .json and
// .yaml/.yml are decoded as such, anything else as TOML.
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}
	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &cfg)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		err = toml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

// Save writes the config to the default path.
func (c *Config) Save() error {
	return c.SaveTo(Path())
}

// SaveTo writes the config to a specific path, creating parent directories as needed.
// Writes TOML format regardless of file extension.
func (c *Config) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

func unknownKey(key string) error {
	return fmt.Errorf("unknown config key %q (valid keys: %s)", key, strings.Join(ValidKeys(), ", "))
}

// Get returns the string value of a configuration key. Keys of the form
// "severity_priors.<kind>" read one prior.
func (c *Config) Get(key string) (string, error) {
	if kind, ok := strings.CutPrefix(key, "severity_priors."); ok {
		v, set := c.SeverityPriors[kind]
		if !set {
			return "", nil
		}
		return strconv.FormatFloat(v, 'g', -1, 64), nil
	}
	if !validKeys[key] {
		return "", unknownKey(key)
	}
	switch key {
	case "db_path":
		return c.DBPath, nil
	case "store_mode":
		return c.StoreMode, nil
	case "postgres_dsn":
		return c.PostgresDSN, nil
	case "badger_path":
		return c.BadgerPath, nil
	case "remote_url":
		return c.RemoteURL, nil
	case "store_timeout":
		return c.StoreTimeout, nil
	case "min_occurrences":
		return intString(c.MinOccurrences), nil
	case "advice_cap":
		return intString(c.AdviceCap), nil
	case "nats_url":
		return c.NATSURL, nil
	case "default_format":
		return c.DefaultFormat, nil
	case "log_level":
		return c.LogLevel, nil
	}
	return "", unknownKey(key)
}

func intString(n int) string {
	if n == 0 {
		return ""
	}
	return strconv.Itoa(n)
}

// Set assigns a value to a configuration key.
func (c *Config) Set(key, value string) error {
	if kind, ok := strings.CutPrefix(key, "severity_priors."); ok {
		return c.setPrior(kind, value)
	}
	if !validKeys[key] {
		return unknownKey(key)
	}
	switch key {
	case "db_path":
		c.DBPath = value
	case "store_mode":
		switch value {
		case "", ModeSQLite, ModePostgres, ModeBadger, ModeRemote, "local":
		default:
			return fmt.Errorf("store_mode must be one of sqlite, postgres, badger, remote; got %q", value)
		}
		c.StoreMode = value
	case "postgres_dsn":
		c.PostgresDSN = value
	case "badger_path":
		c.BadgerPath = value
	case "remote_url":
		c.RemoteURL = value
	case "store_timeout":
		if value != "" {
			d, err := time.ParseDuration(value)
			if err != nil || d <= 0 {
				return fmt.Errorf("store_timeout must be a positive duration such as 2s, got %q", value)
			}
		}
		c.StoreTimeout = value
	case "min_occurrences", "advice_cap":
		n := 0
		if value != "" {
			var err error
			n, err = strconv.Atoi(value)
			if err != nil || n < 1 {
				return fmt.Errorf("%s must be a positive integer, got %q", key, value)
			}
		}
		if key == "min_occurrences" {
			c.MinOccurrences = n
		} else {
			c.AdviceCap = n
		}
	case "nats_url":
		c.NATSURL = value
	case "default_format":
		if value != "" && value != "table" && value != "json" {
			return fmt.Errorf("default_format must be \"table\" or \"json\", got %q", value)
		}
		c.DefaultFormat = value
	case "log_level":
		if value != "" {
			if _, err := ParseLevel(value); err != nil {
				return err
			}
		}
		c.LogLevel = value
	}
	return nil
}

func (c *Config) setPrior(kind, value string) error {
	if _, unknown := classify.ParsePriors(map[string]float64{kind: 0}); len(unknown) > 0 {
		return fmt.Errorf("unknown error kind %q in severity_priors", kind)
	}
	if value == "" {
		delete(c.SeverityPriors, kind)
		return nil
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil || v < 0 || v > 1 {
		return fmt.Errorf("severity prior must be a number between 0 and 1, got %q", value)
	}
	if c.SeverityPriors == nil {
		c.SeverityPriors = map[string]float64{}
	}
	c.SeverityPriors[kind] = v
	return nil
}

// Resolved is a Config with defaults applied and values parsed.
type Resolved struct {
	StoreMode      string
	DBPath         string
	PostgresDSN    string
	BadgerPath     string
	RemoteURL      string
	StoreTimeout   time.Duration
	MinOccurrences int
	AdviceCap      int
	NATSURL        string
	DefaultFormat  string
	LogLevel       slog.Level
	Priors         classify.Priors
}

// Resolve fills defaults and parses typed values. Unknown severity prior
// kinds are reported as an error.
func (c *Config) Resolve() (Resolved, error) {
	r := Resolved{
		StoreMode:      c.StoreMode,
		DBPath:         c.DBPath,
		PostgresDSN:    c.PostgresDSN,
		BadgerPath:     c.BadgerPath,
		RemoteURL:      c.RemoteURL,
		StoreTimeout:   DefaultStoreTimeout,
		MinOccurrences: c.MinOccurrences,
		AdviceCap:      c.AdviceCap,
		NATSURL:        c.NATSURL,
		DefaultFormat:  c.DefaultFormat,
	}
	switch r.StoreMode {
	case "", "local":
		r.StoreMode = ModeSQLite
		if r.RemoteURL != "" {
			r.StoreMode = ModeRemote
		}
	}
	if r.DBPath == "" {
		r.DBPath = filepath.Join(Dir(), "genfeedback.db")
	}
	if r.BadgerPath == "" {
		r.BadgerPath = filepath.Join(Dir(), "badger")
	}
	if c.StoreTimeout != "" {
		d, err := time.ParseDuration(c.StoreTimeout)
		if err != nil {
			return Resolved{}, fmt.Errorf("store_timeout: %w", err)
		}
		r.StoreTimeout = d
	}
	if r.MinOccurrences <= 0 {
		r.MinOccurrences = DefaultMinOccurrences
	}
	if r.AdviceCap <= 0 {
		r.AdviceCap = DefaultAdviceCap
	}
	if r.DefaultFormat == "" {
		r.DefaultFormat = "table"
	}
	lvl := c.LogLevel
	if lvl == "" {
		lvl = DefaultLogLevel
	}
	level, err := ParseLevel(lvl)
	if err != nil {
		return Resolved{}, err
	}
	r.LogLevel = level

	priors, unknown := classify.ParsePriors(c.SeverityPriors)
	if len(unknown) > 0 {
		return Resolved{}, fmt.Errorf("severity_priors: unknown error kinds %s", strings.Join(unknown, ", "))
	}
	r.Priors = priors

	switch r.StoreMode {
	case ModeSQLite, ModeBadger:
	case ModePostgres:
		if r.PostgresDSN == "" {
			return Resolved{}, errors.New("store_mode postgres requires postgres_dsn")
		}
	case ModeRemote:
		if r.RemoteURL == "" {
			return Resolved{}, errors.New("store_mode remote requires remote_url")
		}
	default:
		return Resolved{}, fmt.Errorf("unknown store_mode %q", r.StoreMode)
	}
	return r, nil
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log_level must be debug, info, warn or error, got %q", s)
	}
	return l, nil
}
