// Package config provides the runtime configuration of the analysis engine.
// It is separate from the analysis settings document: it controls resources
// and outputs of the process, not what is computed.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config represents the runtime configuration loaded from YAML
type Config struct {
	Processing struct {
		// Threads bounds the number of images analysed in parallel
		Threads int `yaml:"threads"`

		// ReaderRAMBudgetMB caps the decoded size of one plane
		ReaderRAMBudgetMB int64 `yaml:"readerRamBudgetMb"`

		// MaxImageBytesAtOnce switches to tiled loading above this size
		MaxImageBytesAtOnce int64 `yaml:"maxImageBytesAtOnce"`

		// CompositeTileSize is the tile edge length used for tiled loading
		CompositeTileSize int `yaml:"compositeTileSize"`
	} `yaml:"processing"`

	Output struct {
		// ResultsRoot is the folder below which one folder per run is created
		ResultsRoot string `yaml:"resultsRoot"`

		WriteXLSX    bool `yaml:"writeXlsx"`
		WriteObjects bool `yaml:"writeObjects"`
		WriteMetrics bool `yaml:"writeMetrics"`
	} `yaml:"output"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.Threads = runtime.NumCPU()
	cfg.Processing.ReaderRAMBudgetMB = 4096
	cfg.Processing.MaxImageBytesAtOnce = 100 * 1024 * 1024
	cfg.Processing.CompositeTileSize = 4096

	cfg.Output.ResultsRoot = "results"
	cfg.Output.WriteXLSX = true
	cfg.Output.WriteObjects = true
	cfg.Output.WriteMetrics = true

	cfg.Logging.Level = "info"

	return cfg
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Processing.Threads < 1 {
		return fmt.Errorf("threads must be >= 1, got %d", c.Processing.Threads)
	}
	if c.Processing.CompositeTileSize < 64 {
		return fmt.Errorf("compositeTileSize must be >= 64, got %d", c.Processing.CompositeTileSize)
	}
	if c.Processing.MaxImageBytesAtOnce <= 0 {
		return fmt.Errorf("maxImageBytesAtOnce must be > 0")
	}
	if c.Processing.ReaderRAMBudgetMB <= 0 {
		return fmt.Errorf("readerRamBudgetMb must be > 0")
	}
	return nil
}

// ReaderRAMBudget returns the reader budget in bytes.
func (c *Config) ReaderRAMBudget() int64 {
	return c.Processing.ReaderRAMBudgetMB * 1024 * 1024
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath == "" {
		return cfg, nil
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}
	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}
