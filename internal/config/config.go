// Package config holds elemflow settings: defaults, an optional YAML file,
// then ELEMFLOW_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds configuration for elemflow.
type Config struct {
	Dir       string `yaml:"dir"`        // Directory new workflows are created in
	Format    string `yaml:"format"`     // Store format: json or sqlite
	Overwrite bool   `yaml:"overwrite"`  // Replace an existing workflow at the same path
	LogLevel  string `yaml:"log_level"`  // debug, info, warn, error
	LogFormat string `yaml:"log_format"` // text or json
	Metrics   bool   `yaml:"metrics"`    // Print batch metrics after each command
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Dir:       ".",
		Format:    "sqlite",
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load returns the defaults overlaid with the YAML file at path. A missing
// file is not an error; an empty path skips the file.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from ELEMFLOW_* environment variables.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("ELEMFLOW_DIR"); v != "" {
		c.Dir = v
	}
	if v := os.Getenv("ELEMFLOW_FORMAT"); v != "" {
		c.Format = v
	}
	if v := os.Getenv("ELEMFLOW_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("ELEMFLOW_LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}
	if v := os.Getenv("ELEMFLOW_OVERWRITE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("ELEMFLOW_OVERWRITE: %w", err)
		}
		c.Overwrite = b
	}
	return nil
}

// Validate rejects unknown store and log formats.
func (c Config) Validate() error {
	switch strings.ToLower(c.Format) {
	case "json", "sqlite", "db":
	default:
		return fmt.Errorf("unknown format %q (want json or sqlite)", c.Format)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q (want text or json)", c.LogFormat)
	}
	return nil
}
