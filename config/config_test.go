package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"RESHAPER_RANK", "RESHAPER_SIZE", "RESHAPER_COORDINATOR", "RESHAPER_COLLECTIVE_TIMEOUT",
		"RESHAPER_LEDGER_DRIVER", "RESHAPER_LEDGER_DSN", "RESHAPER_LOG_FORMAT"} {
		t.Setenv(k, "")
	}
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 0, cfg.Rank)
	assert.Equal(t, 1, cfg.Size)
	assert.Equal(t, 30*time.Minute, cfg.CollectiveTimeout)
	assert.Equal(t, LedgerSQLite, cfg.LedgerDriver)
	assert.False(t, cfg.Distributed())
	assert.NoError(t, cfg.Validate())
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("RESHAPER_RANK", "2")
	t.Setenv("RESHAPER_SIZE", "4")
	t.Setenv("RESHAPER_COORDINATOR", "node0:9000")
	t.Setenv("RESHAPER_COLLECTIVE_TIMEOUT", "90s")
	t.Setenv("RESHAPER_LOG_FORMAT", "json")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Rank)
	assert.Equal(t, 4, cfg.Size)
	assert.Equal(t, "node0:9000", cfg.Coordinator)
	assert.Equal(t, 90*time.Second, cfg.CollectiveTimeout)
	assert.True(t, cfg.Distributed())
	assert.NoError(t, cfg.Validate())

	t.Setenv("RESHAPER_SIZE", "four")
	_, err = Load()
	assert.ErrorContains(t, err, "RESHAPER_SIZE")
}

func TestLoadFile_Overlay(t *testing.T) {
	t.Setenv("RESHAPER_RANK", "")
	t.Setenv("RESHAPER_LEDGER_DSN", "from-env.db")
	path := filepath.Join(t.TempDir(), "reshaper.yaml")
	require.NoError(t, os.WriteFile(path, []byte("size: 3\ncollective_timeout: 5m\nledger_driver: postgres\n"), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Size)
	assert.Equal(t, 5*time.Minute, cfg.CollectiveTimeout)
	assert.Equal(t, LedgerPostgres, cfg.LedgerDriver)
	assert.Equal(t, "from-env.db", cfg.LedgerDSN)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := Config{Size: 2, Rank: 1, Coordinator: "h:1", CollectiveTimeout: time.Second, LedgerDriver: LedgerSQLite, LogFormat: "console"}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name string
		edit func(c *Config)
	}{
		{"zero size", func(c *Config) { c.Size = 0 }},
		{"rank out of range", func(c *Config) { c.Rank = 2 }},
		{"no coordinator", func(c *Config) { c.Coordinator = "" }},
		{"no timeout", func(c *Config) { c.CollectiveTimeout = 0 }},
		{"unknown driver", func(c *Config) { c.LedgerDriver = "mysql" }},
		{"unknown log format", func(c *Config) { c.LogFormat = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.edit(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(0, "console")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))

	logger, err = NewLogger(2, "json")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	_, err = NewLogger(1, "xml")
	assert.Error(t, err)
}
