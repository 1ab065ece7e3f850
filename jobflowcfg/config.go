// Package jobflowcfg loads this module's run-locally configuration from a
// TOML file, with environment variables overriding file values — the same
// default-then-file-then-env layering the teacher's internal/common config
// loader uses, scaled down to what the engine itself needs (no web server,
// crawler, or LLM provider sections).
package jobflowcfg

import (
	"fmt"
	"os"
	"strconv"

	"github.com/pelletier/go-toml/v2"
)

// Config is jobflow's run-locally configuration.
type Config struct {
	Environment string        `toml:"environment"` // "development" or "production"
	Storage     StorageConfig `toml:"storage"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
	Logging     LoggingConfig `toml:"logging"`
}

// StorageConfig selects and configures the JobStore backend.
type StorageConfig struct {
	Backend string       `toml:"backend"` // "memory" or "badger"
	Badger  BadgerConfig `toml:"badger"`
}

// BadgerConfig mirrors the teacher's badgerstore settings.
type BadgerConfig struct {
	Path           string `toml:"path"`
	ResetOnStartup bool   `toml:"reset_on_startup"`
}

// SchedulerConfig controls a run-locally invocation's execution mode.
type SchedulerConfig struct {
	Parallel   bool `toml:"parallel"`
	NumWorkers int  `toml:"num_workers"`
}

// LoggingConfig holds logging settings. BuildRouter and BuildManager do not
// apply them: each component's arbor logger is built with arbor's defaults.
type LoggingConfig struct {
	Level  string `toml:"level"`  // "debug", "info", "warn", "error"
	Format string `toml:"format"` // "json" or "text"
}

// NewDefaultConfig returns the configuration used when no file or
// environment override is present.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Storage: StorageConfig{
			Backend: "memory",
			Badger: BadgerConfig{
				Path:           "./jobflow-data",
				ResetOnStartup: false,
			},
		},
		Scheduler: SchedulerConfig{
			Parallel:   false,
			NumWorkers: 1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadFromFile loads configuration with priority default -> file -> env. An
// empty path is valid — it skips straight to defaults plus env overrides.
func LoadFromFile(path string) (*Config, error) {
	config := NewDefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("jobflowcfg: read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("jobflowcfg: parse config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(config)
	return config, nil
}

// applyEnvOverrides layers JOBFLOW_*-prefixed environment variables over
// config, taking priority over both defaults and any loaded file.
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("JOBFLOW_ENV"); env != "" {
		config.Environment = env
	}
	if backend := os.Getenv("JOBFLOW_STORAGE_BACKEND"); backend != "" {
		config.Storage.Backend = backend
	}
	if path := os.Getenv("JOBFLOW_BADGER_PATH"); path != "" {
		config.Storage.Badger.Path = path
	}
	if reset := os.Getenv("JOBFLOW_BADGER_RESET_ON_STARTUP"); reset != "" {
		if b, err := strconv.ParseBool(reset); err == nil {
			config.Storage.Badger.ResetOnStartup = b
		}
	}
	if parallel := os.Getenv("JOBFLOW_SCHEDULER_PARALLEL"); parallel != "" {
		if b, err := strconv.ParseBool(parallel); err == nil {
			config.Scheduler.Parallel = b
		}
	}
	if workers := os.Getenv("JOBFLOW_SCHEDULER_NUM_WORKERS"); workers != "" {
		if n, err := strconv.Atoi(workers); err == nil {
			config.Scheduler.NumWorkers = n
		}
	}
	if level := os.Getenv("JOBFLOW_LOGGING_LEVEL"); level != "" {
		config.Logging.Level = level
	}
}
