// Package config loads bridge settings from YAML with environment
// overrides. Discovery is first-match: an explicit --config path, then
// ./houbridge.yaml, then ~/.houbridge/config.yaml, then defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	projectConfigName = "houbridge.yaml"
	homeConfigName    = "config.yaml"
	envPrefix         = "HOUBRIDGE_"
)

// Config is the full bridge configuration.
type Config struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	Retry RetryConfig `yaml:"retry"`

	DefaultTimeout time.Duration `yaml:"default_timeout"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`
	MaxConcurrency int           `yaml:"max_concurrency"`

	HealthInterval time.Duration `yaml:"health_interval"`

	// CallLogPath overrides the default ~/.houbridge/houbridge.db.
	CallLogPath string `yaml:"call_log_path"`
	// CallLogMaxAge bounds how long invocation records are kept.
	CallLogMaxAge time.Duration `yaml:"call_log_max_age"`

	// MaintenanceSchedule is a cron expression for the periodic cache
	// prune and call log cleanup.
	MaintenanceSchedule string `yaml:"maintenance_schedule"`

	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// RetryConfig mirrors the connection retry policy.
type RetryConfig struct {
	MaxRetries      int           `yaml:"max_retries"`
	BaseDelay       time.Duration `yaml:"base_delay"`
	MaxDelay        time.Duration `yaml:"max_delay"`
	ExponentialBase float64       `yaml:"exponential_base"`
	Jitter          *bool         `yaml:"jitter,omitempty"`
}

// JitterEnabled resolves the tri-state jitter flag (default on).
func (r RetryConfig) JitterEnabled() bool {
	return r.Jitter == nil || *r.Jitter
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Host: "localhost",
		Port: 18811,
		Retry: RetryConfig{
			MaxRetries:      3,
			BaseDelay:       time.Second,
			MaxDelay:        30 * time.Second,
			ExponentialBase: 2.0,
		},
		DefaultTimeout:      30 * time.Second,
		CacheTTL:            time.Hour,
		MaxConcurrency:      4,
		HealthInterval:      30 * time.Second,
		CallLogMaxAge:       7 * 24 * time.Hour,
		MaintenanceSchedule: "@every 10m",
	}
}

// DiscoverPath resolves the config file location with first-match
// semantics. An explicit path that does not exist is an error; absent
// discovery candidates are not.
func DiscoverPath(explicitPath string) (string, bool, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", false, fmt.Errorf("config: resolve working directory: %w", err)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", false, fmt.Errorf("config: resolve user home: %w", err)
	}
	return DiscoverPathFrom(explicitPath, cwd, home)
}

// DiscoverPathFrom is a testable variant of DiscoverPath.
func DiscoverPathFrom(explicitPath, cwd, home string) (string, bool, error) {
	explicit := strings.TrimSpace(explicitPath) != ""

	var candidates []string
	if explicit {
		candidates = []string{filepath.Clean(strings.TrimSpace(explicitPath))}
	} else {
		candidates = []string{
			filepath.Join(cwd, projectConfigName),
			filepath.Join(home, ".houbridge", homeConfigName),
		}
	}

	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, true, nil
		}
		if errors.Is(err, os.ErrNotExist) {
			if explicit {
				return "", false, fmt.Errorf("config: file %q not found", candidate)
			}
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("config: checking %q: %w", candidate, err)
		}
	}
	return "", false, nil
}

// Load builds the effective configuration: defaults, then the config
// file (when found), then environment overrides, then validation.
func Load(explicitPath string) (Config, error) {
	cfg := Default()

	path, found, err := DiscoverPath(explicitPath)
	if err != nil {
		return Config{}, err
	}
	if found {
		if err := loadFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg, os.Getenv)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: reading %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parsing %q: %w", path, err)
	}
	return nil
}

// applyEnv overlays HOUBRIDGE_* variables onto cfg. Unparsable values
// are ignored rather than fatal; validation catches anything that
// matters.
func applyEnv(cfg *Config, getenv func(string) string) {
	if v := getenv(envPrefix + "HOST"); v != "" {
		cfg.Host = v
	}
	if v := getenv(envPrefix + "PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	if v := getenv(envPrefix + "DEFAULT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.DefaultTimeout = d
		}
	}
	if v := getenv(envPrefix + "CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CacheTTL = d
		}
	}
	if v := getenv(envPrefix + "MAX_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxConcurrency = n
		}
	}
	if v := getenv(envPrefix + "CALL_LOG_PATH"); v != "" {
		cfg.CallLogPath = v
	}
	if v := getenv(envPrefix + "OTLP_ENDPOINT"); v != "" {
		cfg.OTLPEndpoint = v
	}
}

// Validate rejects configurations the bridge cannot start with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return errors.New("config: host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("config: retry.max_retries %d must be >= 0", c.Retry.MaxRetries)
	}
	if c.Retry.ExponentialBase <= 1 {
		return fmt.Errorf("config: retry.exponential_base %v must be > 1", c.Retry.ExponentialBase)
	}
	if c.Retry.BaseDelay <= 0 || c.Retry.MaxDelay < c.Retry.BaseDelay {
		return errors.New("config: retry delays must satisfy 0 < base_delay <= max_delay")
	}
	if c.DefaultTimeout <= 0 {
		return errors.New("config: default_timeout must be positive")
	}
	if c.MaxConcurrency <= 0 {
		return errors.New("config: max_concurrency must be positive")
	}
	return nil
}
