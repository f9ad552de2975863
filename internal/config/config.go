// Package config provides the application configuration of the butler CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zjrosen/butler/internal/lock"
	"github.com/zjrosen/butler/internal/log"
	"github.com/zjrosen/butler/internal/tracing"
)

// Config holds all configuration options for butler.
type Config struct {
	// Repo is the output repository URL; reads fall through to Inputs.
	Repo    string         `mapstructure:"repo"`
	Inputs  []string       `mapstructure:"inputs"`
	Persist bool           `mapstructure:"persist"` // store the resolved document in the output registry
	Lock    LockConfig     `mapstructure:"lock"`
	Cache   CacheConfig    `mapstructure:"cache"`
	Watch   WatchConfig    `mapstructure:"watch"`
	Log     LogConfig      `mapstructure:"log"`
	Tracing tracing.Config `mapstructure:"tracing"`
}

// LockConfig configures the cross-process dataset lock.
type LockConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// CacheConfig configures the resolver cache.
type CacheConfig struct {
	// Expiration evicts idle resolvers; zero keeps them for the process lifetime.
	Expiration time.Duration `mapstructure:"expiration"`
}

// WatchConfig configures reloading when repository documents change.
type WatchConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Debounce time.Duration `mapstructure:"debounce"`
}

// LogConfig configures the debug log.
type LogConfig struct {
	Debug bool   `mapstructure:"debug"`
	Path  string `mapstructure:"path"`
	Level string `mapstructure:"level"` // debug, info, warn or error
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	tr := tracing.DefaultConfig()
	tr.FilePath = DefaultTracesFilePath()
	return Config{
		Repo: ".",
		Lock: LockConfig{
			Timeout:      lock.DefaultTimeout,
			PollInterval: lock.DefaultPollInterval,
		},
		Watch: WatchConfig{
			Enabled:  false,
			Debounce: time.Second,
		},
		Log: LogConfig{
			Path:  "debug.log",
			Level: "debug",
		},
		Tracing: tr,
	}
}

// DefaultTracesFilePath returns ~/.config/butler/traces/traces.jsonl, or an
// empty string when the home directory is unknown.
func DefaultTracesFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "butler", "traces", "traces.jsonl")
}

// Validate checks the whole configuration and reports every problem found.
func Validate(c Config) error {
	var errs []error
	if c.Repo == "" {
		errs = append(errs, errors.New("repo is required"))
	}
	for i, in := range c.Inputs {
		if in == "" {
			errs = append(errs, fmt.Errorf("inputs[%d] is empty", i))
		}
	}
	if err := ValidateLock(c.Lock); err != nil {
		errs = append(errs, err)
	}
	if c.Cache.Expiration < 0 {
		errs = append(errs, fmt.Errorf("cache.expiration must not be negative, got %v", c.Cache.Expiration))
	}
	if c.Watch.Enabled && c.Watch.Debounce <= 0 {
		errs = append(errs, fmt.Errorf("watch.debounce must be positive when watching, got %v", c.Watch.Debounce))
	}
	if c.Log.Level != "" {
		switch c.Log.Level {
		case "debug", "info", "warn", "warning", "error":
		default:
			errs = append(errs, fmt.Errorf("log.level must be \"debug\", \"info\", \"warn\", or \"error\", got %q", c.Log.Level))
		}
	}
	if err := ValidateTracing(c.Tracing); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ValidateLock checks lock timing.
func ValidateLock(l LockConfig) error {
	if l.Timeout < 0 {
		return fmt.Errorf("lock.timeout must not be negative, got %v", l.Timeout)
	}
	if l.PollInterval <= 0 {
		return fmt.Errorf("lock.poll_interval must be positive, got %v", l.PollInterval)
	}
	return nil
}

// ValidateTracing checks tracing configuration for errors.
// Empty values fall back to defaults.
func ValidateTracing(tr tracing.Config) error {
	if tr.SampleRate < 0.0 || tr.SampleRate > 1.0 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", tr.SampleRate)
	}

	if tr.Exporter != "" {
		switch tr.Exporter {
		case tracing.ExporterNone, tracing.ExporterFile, tracing.ExporterStdout, tracing.ExporterOTLP:
		default:
			return fmt.Errorf("tracing.exporter must be \"none\", \"file\", \"stdout\", or \"otlp\", got %q", tr.Exporter)
		}
	}

	if tr.Enabled {
		if tr.Exporter == tracing.ExporterFile && tr.FilePath == "" {
			return fmt.Errorf("tracing.file_path is required when exporter is \"file\"")
		}
		if tr.Exporter == tracing.ExporterOTLP && tr.OTLPEndpoint == "" {
			return fmt.Errorf("tracing.otlp_endpoint is required when exporter is \"otlp\"")
		}
	}
	return nil
}

// DefaultConfigTemplate returns the default config as commented YAML.
func DefaultConfigTemplate() string {
	return `# Butler Configuration

# Output repository (directory, _butler.yaml, _butler.sqlite3 or a single file)
repo: .

# Input repositories searched after the output repository's own parents
# inputs:
#   - /data/raw

# Store the resolved repository document in the output registry database
persist: false

lock:
  timeout: 5s
  poll_interval: 500ms

cache:
  expiration: 0s  # 0 keeps resolvers for the process lifetime

watch:
  enabled: false
  debounce: 1s

log:
  debug: false
  path: debug.log
  level: debug

# Distributed tracing
# tracing:
#   enabled: true
#   exporter: file       # none, file, stdout or otlp
#   file_path: ~/.config/butler/traces/traces.jsonl
#   otlp_endpoint: localhost:4317
#   sample_rate: 1.0
`
}

// WriteDefaultConfig writes DefaultConfigTemplate to configPath, creating
// the parent directory if needed.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}
