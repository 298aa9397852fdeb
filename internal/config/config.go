// Package config loads semdex configuration from an optional YAML file
// with environment overrides for deployment-sensitive values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Environment overrides
const (
	EnvConfigPath  = "SEMDEX_CONFIG"
	EnvDBPath      = "SEMDEX_DB_PATH"
	EnvStagingPath = "SEMDEX_STAGING_PATH"
	EnvLogLevel    = "SEMDEX_LOG_LEVEL"
)

// Retrieval tuning defaults. ParentBoost is the fixed score assigned to
// fetched parent records so structural context is not crowded out by
// near-duplicate leaf chunks; it is a heuristic, hence configurable.
const (
	DefaultParentBoost     = 0.95
	DefaultOverfetchFactor = 2
	DefaultTopK            = 10
)

// Ingestion defaults
const (
	DefaultWorkers        = 4
	DefaultBatchSize      = 50
	DefaultCallsPerWindow = 60
	DefaultWindowSeconds  = 60
)

// Config is the root configuration.
type Config struct {
	DatabasePath string `yaml:"database_path"`
	StagingPath  string `yaml:"staging_path"`
	LogLevel     string `yaml:"log_level"`

	Provider string `yaml:"provider"` // openai | jina | local; empty = auto
	Model    string `yaml:"model"`

	Ingest   IngestConfig   `yaml:"ingest"`
	Retrieve RetrieveConfig `yaml:"retrieve"`
}

// IngestConfig tunes the ingestion pipeline.
type IngestConfig struct {
	Workers        int `yaml:"workers"`          // concurrent file tasks per directory sync
	BatchSize      int `yaml:"batch_size"`       // texts per embedding call
	CallsPerWindow int `yaml:"calls_per_window"` // rate limit budget
	WindowSeconds  int `yaml:"window_seconds"`   // rate limit window
}

// RetrieveConfig tunes parent document retrieval.
type RetrieveConfig struct {
	ParentBoost     float64 `yaml:"parent_boost"`
	OverfetchFactor int     `yaml:"overfetch_factor"`
	TopK            int     `yaml:"top_k"`
}

// Default returns the built-in configuration, rooted under ~/.semdex.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	base := filepath.Join(home, ".semdex")

	return &Config{
		DatabasePath: filepath.Join(base, "semdex.db"),
		StagingPath:  filepath.Join(base, "staging.json"),
		LogLevel:     "info",
		Ingest: IngestConfig{
			Workers:        DefaultWorkers,
			BatchSize:      DefaultBatchSize,
			CallsPerWindow: DefaultCallsPerWindow,
			WindowSeconds:  DefaultWindowSeconds,
		},
		Retrieve: RetrieveConfig{
			ParentBoost:     DefaultParentBoost,
			OverfetchFactor: DefaultOverfetchFactor,
			TopK:            DefaultTopK,
		},
	}
}

// Load reads path (empty means SEMDEX_CONFIG, falling back to defaults
// when neither names a file), overlays it on the defaults, then applies
// environment overrides and validates.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvDBPath); v != "" {
		c.DatabasePath = v
	}
	if v := os.Getenv(EnvStagingPath); v != "" {
		c.StagingPath = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
}

// Validate fills zero values with defaults and rejects nonsense.
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("database_path cannot be empty")
	}
	if c.StagingPath == "" {
		return fmt.Errorf("staging_path cannot be empty")
	}

	if c.Ingest.Workers <= 0 {
		c.Ingest.Workers = DefaultWorkers
	}
	if c.Ingest.BatchSize <= 0 {
		c.Ingest.BatchSize = DefaultBatchSize
	}
	if c.Ingest.CallsPerWindow <= 0 {
		c.Ingest.CallsPerWindow = DefaultCallsPerWindow
	}
	if c.Ingest.WindowSeconds <= 0 {
		c.Ingest.WindowSeconds = DefaultWindowSeconds
	}

	if c.Retrieve.ParentBoost <= 0 || c.Retrieve.ParentBoost > 1 {
		c.Retrieve.ParentBoost = DefaultParentBoost
	}
	if c.Retrieve.OverfetchFactor < 1 {
		c.Retrieve.OverfetchFactor = DefaultOverfetchFactor
	}
	if c.Retrieve.TopK <= 0 {
		c.Retrieve.TopK = DefaultTopK
	}
	return nil
}
