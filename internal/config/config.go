// Package config loads carx command-line configuration.
//
// Configuration comes from a single YAML file named by the --config flag or
// the CARX_CONFIG environment variable. Values missing from the file keep
// their defaults, and command-line flags override both.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// EnvVar names the environment variable consulted when no --config flag is given.
const EnvVar = "CARX_CONFIG"

// ErrInvalid is returned when a loaded configuration fails validation.
var ErrInvalid = errors.New("config: invalid configuration")

// Config is the carx command-line configuration.
type Config struct {
	// Output is the extraction root. ${VAR} references are expanded.
	// Default: current directory
	Output string `yaml:"output"`

	// MaxBuffer caps buffered file payload, in humanized bytes ("512MiB").
	// Empty or "0" means unlimited.
	MaxBuffer string `yaml:"max_buffer"`

	// MaxSection caps a single archive section, in humanized bytes.
	// Empty means the reader default of 32MB.
	MaxSection string `yaml:"max_section"`

	// LogLevel is one of debug, info, warn or error.
	// Default: info
	LogLevel string `yaml:"log_level"`

	// PlainHTTP disables TLS for oci:// sources.
	PlainHTTP bool `yaml:"plain_http"`

	// Jobs is the number of archives extracted concurrently.
	// Default: 1
	Jobs int `yaml:"jobs"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Output:   ".",
		LogLevel: "info",
		Jobs:     1,
	}
}

// Load reads the configuration at path, or from CARX_CONFIG when path is
// empty. With neither set it returns Default.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvVar)
	}
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.Output = os.ExpandEnv(cfg.Output)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks that every field parses.
func (c *Config) Validate() error {
	if c.Output == "" {
		return fmt.Errorf("%w: output is empty", ErrInvalid)
	}
	if c.Jobs < 1 {
		return fmt.Errorf("%w: jobs must be at least 1, got %d", ErrInvalid, c.Jobs)
	}
	if _, err := c.MaxBufferBytes(); err != nil {
		return err
	}
	if _, err := c.MaxSectionBytes(); err != nil {
		return err
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// MaxBufferBytes returns MaxBuffer in bytes, 0 meaning unlimited.
func (c *Config) MaxBufferBytes() (uint64, error) {
	return parseSize("max_buffer", c.MaxBuffer)
}

// MaxSectionBytes returns MaxSection in bytes, 0 meaning the default.
func (c *Config) MaxSectionBytes() (uint64, error) {
	return parseSize("max_section", c.MaxSection)
}

// Level returns LogLevel as an slog level.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("%w: log_level: %v", ErrInvalid, err)
	}
	return level, nil
}

func parseSize(field, s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalid, field, err)
	}
	return n, nil
}
