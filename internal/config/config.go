// Package config loads the hotreload CLI configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chenyanchen/hotreload"
	"github.com/chenyanchen/hotreload/exp/manifest"
	"github.com/chenyanchen/hotreload/source"
)

// Default values for Config.
const (
	DefaultMode            = "periodic"
	DefaultIntervalSeconds = 1
	DefaultFPS             = 30
	DefaultDebounceMS      = 100
	DefaultLogLevel        = "info"
	DefaultConcurrency     = 1
	DefaultFileName        = "hotreload.yaml"
)

// StrategyConfig selects the reload strategy.
type StrategyConfig struct {
	Mode            string `yaml:"mode"`
	IntervalSeconds uint8  `yaml:"interval_seconds"`
}

// Config is the content of hotreload.yaml.
type Config struct {
	Strategy    StrategyConfig       `yaml:"strategy"`
	FPS         int                  `yaml:"fps"`
	Watch       bool                 `yaml:"watch"`
	DebounceMS  int                  `yaml:"debounce_ms"`
	Concurrency int                  `yaml:"concurrency"`
	MetricsAddr string               `yaml:"metrics_addr"`
	LogLevel    string               `yaml:"log_level"`
	Manifest    string               `yaml:"manifest,omitempty"`
	Assets      []manifest.AssetSpec `yaml:"assets"`
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		Strategy: StrategyConfig{
			Mode:            DefaultMode,
			IntervalSeconds: DefaultIntervalSeconds,
		},
		FPS:         DefaultFPS,
		DebounceMS:  DefaultDebounceMS,
		Concurrency: DefaultConcurrency,
		LogLevel:    DefaultLogLevel,
	}
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// FrameInterval is the wall time between two frames.
func (c *Config) FrameInterval() time.Duration {
	return time.Second / time.Duration(c.FPS)
}

// Debounce is the watcher debounce window.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.DebounceMS) * time.Millisecond
}

// NewStrategy builds the configured strategy.
func (c *Config) NewStrategy() (*hotreload.Strategy, error) {
	return hotreload.ParseStrategy(c.Strategy.Mode, c.Strategy.IntervalSeconds)
}

// MergeAssets returns inline assets followed by the ones of m. Keys must stay
// unique across both.
func (c *Config) MergeAssets(m manifest.Manifest) ([]manifest.AssetSpec, error) {
	assets := make([]manifest.AssetSpec, 0, len(c.Assets)+len(m.Assets))
	assets = append(assets, c.Assets...)
	assets = append(assets, m.Assets...)
	if err := manifest.Validate(assets); err != nil {
		return nil, err
	}
	return assets, nil
}

// Load reads and parses the config file at path.
// Applies defaults for any missing fields and resolves relative paths
// against the directory of the file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data, filepath.Dir(path))
}

// Parse decodes config YAML. baseDir resolves relative paths.
func Parse(data []byte, baseDir string) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.Assets = manifest.ResolvePaths(baseDir, cfg.Assets)
	if cfg.Manifest != "" && !filepath.IsAbs(cfg.Manifest) {
		cfg.Manifest = filepath.Join(baseDir, cfg.Manifest)
	}
	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Format decodes a config file as a hot reloadable source, so the CLI can
// pick up changes to the config itself.
func Format(baseDir string) source.Format[*Config] {
	return source.Format[*Config]{
		Name:       "hotreload-config",
		Extensions: []string{".yaml", ".yml"},
		Decode: func(data []byte) (*Config, error) {
			return Parse(data, baseDir)
		},
	}
}

// ValidateConfig checks that all config values are valid.
func ValidateConfig(cfg *Config) error {
	switch strings.ToLower(cfg.Strategy.Mode) {
	case "periodic", "every":
		if cfg.Strategy.IntervalSeconds == 0 {
			return ValidationError{Field: "strategy.interval_seconds", Message: "must be positive for periodic mode"}
		}
	case "triggered", "trigger", "disabled", "never":
	default:
		return ValidationError{Field: "strategy.mode", Message: fmt.Sprintf("unknown mode %q", cfg.Strategy.Mode)}
	}
	if cfg.FPS <= 0 || cfg.FPS > 1000 {
		return ValidationError{Field: "fps", Message: "must be between 1 and 1000"}
	}
	if cfg.DebounceMS <= 0 {
		return ValidationError{Field: "debounce_ms", Message: "must be positive"}
	}
	if cfg.Concurrency <= 0 {
		return ValidationError{Field: "concurrency", Message: "must be positive"}
	}
	switch strings.ToLower(cfg.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return ValidationError{Field: "log_level", Message: fmt.Sprintf("unknown level %q", cfg.LogLevel)}
	}
	if err := manifest.Validate(cfg.Assets); err != nil {
		var dup hotreload.DuplicateAssetError
		if errors.As(err, &dup) {
			return ValidationError{Field: "assets", Message: "duplicate asset " + dup.Key.String()}
		}
		return ValidationError{Field: "assets", Message: err.Error()}
	}
	return nil
}
