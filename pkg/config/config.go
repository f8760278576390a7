// Package config loads catalogform configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-catalogform/pkg/schema"
)

// Config holds catalogform configuration.
type Config struct {
	// APIBaseURL is the portal API used to fetch schemas and submit jobs.
	APIBaseURL string `yaml:"api_base_url"`
	// CatalogDir is a local directory laid out as {item}/{version}/{ref}.
	CatalogDir string `yaml:"catalog_dir"`
	// StorePath is the SQLite catalog store.
	StorePath string `yaml:"store_path"`

	RequestTimeout      string `yaml:"request_timeout"`
	DefaultTriggerField string `yaml:"default_trigger_field"`
	EmptyAsMissing      *bool  `yaml:"empty_as_missing,omitempty"`
	LogLevel            string `yaml:"log_level"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	emptyAsMissing := true
	return &Config{
		StorePath:           "catalogform.db",
		RequestTimeout:      "30s",
		DefaultTriggerField: schema.DefaultTriggerField,
		EmptyAsMissing:      &emptyAsMissing,
		LogLevel:            "info",
	}
}

// Load reads configuration from path on top of the defaults. A missing file
// yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if strings.TrimSpace(path) == "" {
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: create directory: %w", err)
		}
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	var errs []error
	if c.APIBaseURL != "" {
		parsed, err := url.Parse(c.APIBaseURL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			errs = append(errs, fmt.Errorf("api_base_url %q is not an absolute URL", c.APIBaseURL))
		}
	}
	if c.RequestTimeout != "" {
		d, err := time.ParseDuration(c.RequestTimeout)
		if err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("request_timeout %q is not a positive duration", c.RequestTimeout))
		}
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); c.LogLevel != "" && err != nil {
		errs = append(errs, fmt.Errorf("log_level %q is not a valid level", c.LogLevel))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// Timeout returns the request timeout, falling back to 30s.
func (c *Config) Timeout() time.Duration {
	d, err := time.ParseDuration(c.RequestTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// TreatEmptyAsMissing reports whether empty strings count as missing values.
func (c *Config) TreatEmptyAsMissing() bool {
	return c.EmptyAsMissing == nil || *c.EmptyAsMissing
}

// Level returns the configured log level, defaulting to info.
func (c *Config) Level() zapcore.Level {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return zapcore.InfoLevel
	}
	return level
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CATALOGFORM_API_BASE_URL"); v != "" {
		c.APIBaseURL = v
	}
	if v := os.Getenv("CATALOGFORM_CATALOG_DIR"); v != "" {
		c.CatalogDir = v
	}
	if v := os.Getenv("CATALOGFORM_STORE_PATH"); v != "" {
		c.StorePath = v
	}
	if v := os.Getenv("CATALOGFORM_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}
