package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Ledger drivers
const (
	LedgerSQLite   = "sqlite"
	LedgerPostgres = "postgres"
)

// Config holds the process configuration. Job contents live in the
// specifier, not here.
type Config struct {
	// Parallel runtime
	Rank              int           `yaml:"rank"`
	Size              int           `yaml:"size"`
	Coordinator       string        `yaml:"coordinator"`
	CollectiveTimeout time.Duration `yaml:"collective_timeout"`

	// Ledger
	LedgerDriver string `yaml:"ledger_driver"`
	LedgerDSN    string `yaml:"ledger_dsn"`

	// Logging
	LogFormat string `yaml:"log_format"`
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	rank, err := getEnvInt("RESHAPER_RANK", 0)
	if err != nil {
		return nil, err
	}
	size, err := getEnvInt("RESHAPER_SIZE", 1)
	if err != nil {
		return nil, err
	}
	timeout, err := time.ParseDuration(getEnv("RESHAPER_COLLECTIVE_TIMEOUT", "30m"))
	if err != nil {
		return nil, fmt.Errorf("RESHAPER_COLLECTIVE_TIMEOUT: %w", err)
	}

	return &Config{
		Rank:              rank,
		Size:              size,
		Coordinator:       getEnv("RESHAPER_COORDINATOR", "127.0.0.1:7077"),
		CollectiveTimeout: timeout,
		LedgerDriver:      getEnv("RESHAPER_LEDGER_DRIVER", LedgerSQLite),
		LedgerDSN:         getEnv("RESHAPER_LEDGER_DSN", ""),
		LogFormat:         getEnv("RESHAPER_LOG_FORMAT", "console"),
	}, nil
}

// LoadFile loads the environment configuration and overlays the YAML file
// at path. Keys absent from the file keep their environment value.
func LoadFile(path string) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for consistency
func (c *Config) Validate() error {
	if c.Size < 1 {
		return fmt.Errorf("size %d must be at least 1", c.Size)
	}
	if c.Rank < 0 || c.Rank >= c.Size {
		return fmt.Errorf("rank %d out of range for size %d", c.Rank, c.Size)
	}
	if c.Distributed() && c.Coordinator == "" {
		return fmt.Errorf("a coordinator address is required when size is %d", c.Size)
	}
	if c.CollectiveTimeout <= 0 {
		return fmt.Errorf("collective timeout must be positive")
	}
	switch c.LedgerDriver {
	case LedgerSQLite, LedgerPostgres:
	default:
		return fmt.Errorf("unknown ledger driver %q", c.LedgerDriver)
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	return nil
}

// Distributed reports whether this process is one rank of a multi-process job
func (c *Config) Distributed() bool {
	return c.Size > 1
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
