package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/chis/regview/internal/registry"
)

// Defaults.
const (
	DefaultConfigPath     = "/data/regview.yaml"
	DefaultDBPath         = "/data/regview.db"
	DefaultListenAddr     = ":3000"
	DefaultStoreBackend   = "sqlite"
	DefaultMaxConcurrency = 8
	DefaultEnvFile        = ".env"
)

// Config is the process configuration.
type Config struct {
	// ListenAddr is the HTTP API bind address.
	ListenAddr string `yaml:"listen_addr"`

	// DBPath is the SQLite file, or the Starskey directory.
	DBPath string `yaml:"db_path"`

	// StoreBackend selects "sqlite" or "starskey".
	StoreBackend string `yaml:"store_backend"`

	// RequestTimeout bounds every registry request.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// MaxConcurrency bounds in-flight repository tasks per aggregation.
	MaxConcurrency int `yaml:"max_concurrency"`

	// RequestsPerSecond caps registry requests per client; 0 is unlimited.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`

	// BreakerThreshold is the consecutive catalog failures that open a
	// registry's circuit; 0 disables the breaker.
	BreakerThreshold int           `yaml:"breaker_threshold"`
	BreakerReset     time.Duration `yaml:"breaker_reset"`

	// ScanInterval is the background refresh period; 0 disables it.
	ScanInterval time.Duration `yaml:"scan_interval"`

	// APIRequestsPerMinute limits HTTP API clients; 0 disables it.
	APIRequestsPerMinute int `yaml:"api_requests_per_minute"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Registries are added to an empty profile store on first start.
	Registries []registry.Descriptor `yaml:"registries"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ListenAddr:           DefaultListenAddr,
		DBPath:               DefaultDBPath,
		StoreBackend:         DefaultStoreBackend,
		RequestTimeout:       registry.DefaultHTTPTimeout,
		MaxConcurrency:       DefaultMaxConcurrency,
		Burst:                1,
		BreakerThreshold:     registry.DefaultFailureThreshold,
		BreakerReset:         registry.DefaultResetTimeout,
		APIRequestsPerMinute: 120,
		LogLevel:             "info",
		LogFormat:            "text",
	}
}

// Load builds the configuration: defaults, then the YAML file at yamlPath
// (missing is fine), then envFile if present, then environment variables.
// Variables already set in the environment win over envFile.
func Load(yamlPath, envFile string) (Config, error) {
	cfg, err := LoadYAMLConfig(yamlPath, Default())
	if err != nil {
		return Config{}, fmt.Errorf("failed to load YAML config: %w", err)
	}

	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return Config{}, fmt.Errorf("failed to load env file %s: %w", envFile, err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overrides fields from REGVIEW_* variables plus LOG_LEVEL and
// LOG_FORMAT.
func (c *Config) applyEnv() error {
	if v := os.Getenv("REGVIEW_LISTEN"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("REGVIEW_DB_PATH"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("REGVIEW_STORE"); v != "" {
		c.StoreBackend = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}

	if v := os.Getenv("REGVIEW_REQUEST_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid REGVIEW_REQUEST_TIMEOUT %q: %w", v, err)
		}
		c.RequestTimeout = d
	}
	durations := []struct {
		name string
		dst  *time.Duration
	}{
		{"REGVIEW_BREAKER_RESET", &c.BreakerReset},
		{"REGVIEW_SCAN_INTERVAL", &c.ScanInterval},
	}
	for _, e := range durations {
		v := os.Getenv(e.name)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", e.name, v, err)
		}
		*e.dst = d
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"REGVIEW_MAX_CONCURRENCY", &c.MaxConcurrency},
		{"REGVIEW_BURST", &c.Burst},
		{"REGVIEW_BREAKER_THRESHOLD", &c.BreakerThreshold},
		{"REGVIEW_API_RATE_LIMIT", &c.APIRequestsPerMinute},
	}
	for _, e := range ints {
		v := os.Getenv(e.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", e.name, v, err)
		}
		*e.dst = n
	}

	if v := os.Getenv("REGVIEW_RATE_LIMIT"); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid REGVIEW_RATE_LIMIT %q: %w", v, err)
		}
		c.RequestsPerSecond = rps
	}
	return nil
}

// ConfigPath returns CONFIG_PATH or the default.
func ConfigPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return DefaultConfigPath
}
