package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTestConfig() *Config {
	cfg := DefaultConfig()
	cfg.Accounts = []AccountConfig{
		{Username: "worker1", Password: "pass1"},
	}
	cfg.Vision.APIKey = "sk-test"
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "gpt-4o-mini", cfg.Vision.Model)
	assert.Equal(t, 50, cfg.Vision.MaxConcurrent)
	assert.Equal(t, 3*time.Second, cfg.RateLimit.MinDelay)
	assert.Equal(t, 7*time.Second, cfg.RateLimit.MaxDelay)
	assert.Equal(t, 100, cfg.Pipeline.BatchSize)
	assert.Equal(t, 3, cfg.Pipeline.MaxRetries)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:    "no accounts",
			mutate:  func(c *Config) { c.Accounts = nil },
			wantErr: "at least one account is required",
		},
		{
			name: "blank username",
			mutate: func(c *Config) {
				c.Accounts = append(c.Accounts, AccountConfig{Username: "  ", Password: "p"})
			},
			wantErr: "username is required",
		},
		{
			name: "blank password",
			mutate: func(c *Config) {
				c.Accounts = append(c.Accounts, AccountConfig{Username: "worker2"})
			},
			wantErr: "password is required",
		},
		{
			name:    "missing API key",
			mutate:  func(c *Config) { c.Vision.APIKey = "" },
			wantErr: "vision API key is required",
		},
		{
			name:    "zero min delay",
			mutate:  func(c *Config) { c.RateLimit.MinDelay = 0 },
			wantErr: "min delay must be positive",
		},
		{
			name: "max delay below min",
			mutate: func(c *Config) {
				c.RateLimit.MinDelay = 10 * time.Second
				c.RateLimit.MaxDelay = 5 * time.Second
			},
			wantErr: "max delay must not be below min delay",
		},
		{
			name:    "zero batch size",
			mutate:  func(c *Config) { c.Pipeline.BatchSize = 0 },
			wantErr: "batch size must be positive",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "chatty" },
			wantErr: "invalid log level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
accounts:
  - username: worker1
    password: secret1
    otp_seed: GEZDGNBVGY3TQOJQ
  - username: worker2
    password: secret2
    proxy: "http://10.0.0.1:8080"
vision:
  model: gpt-4o-mini
  max_concurrent: 25
rate_limit:
  min_delay: 5s
  max_delay: 15s
pipeline:
  batch_size: 50
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromFile(path))

	require.Len(t, cfg.Accounts, 2)
	assert.Equal(t, "worker1", cfg.Accounts[0].Username)
	assert.Equal(t, "GEZDGNBVGY3TQOJQ", cfg.Accounts[0].OTPSeed)
	assert.Empty(t, cfg.Accounts[1].OTPSeed)
	assert.Equal(t, "http://10.0.0.1:8080", cfg.Accounts[1].Proxy)
	assert.Equal(t, 25, cfg.Vision.MaxConcurrent)
	assert.Equal(t, 5*time.Second, cfg.RateLimit.MinDelay)
	assert.Equal(t, 15*time.Second, cfg.RateLimit.MaxDelay)
	assert.Equal(t, 50, cfg.Pipeline.BatchSize)
}

func TestLoadFromFileMissing(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadAccountsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "accounts.yaml")

	content := `
- username: extra1
  password: p1
- username: extra2
  password: p2
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg := validTestConfig()
	cfg.AccountsFile = path
	require.NoError(t, cfg.loadAccountsFile())

	// Inline accounts keep their position in rotation order
	require.Len(t, cfg.Accounts, 3)
	assert.Equal(t, "worker1", cfg.Accounts[0].Username)
	assert.Equal(t, "extra1", cfg.Accounts[1].Username)
	assert.Equal(t, "extra2", cfg.Accounts[2].Username)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("IGFILTER_VISION_API_KEY", "sk-env")
	t.Setenv("IGFILTER_BATCH_SIZE", "42")
	t.Setenv("IGFILTER_MIN_DELAY", "2s")
	t.Setenv("IGFILTER_MAX_DELAY", "4s")
	t.Setenv("IGFILTER_LOG_LEVEL", "debug")

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, "sk-env", cfg.Vision.APIKey)
	assert.Equal(t, 42, cfg.Pipeline.BatchSize)
	assert.Equal(t, 2*time.Second, cfg.RateLimit.MinDelay)
	assert.Equal(t, 4*time.Second, cfg.RateLimit.MaxDelay)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestMergeCommandLineFlags(t *testing.T) {
	cfg := validTestConfig()
	cfg.MergeCommandLineFlags(map[string]interface{}{
		"output":            "out.txt",
		"batch-size":        10,
		"max-concurrent-ai": 5,
		"log-level":         "warn",
	})

	assert.Equal(t, "out.txt", cfg.Output.MaleFile)
	assert.Equal(t, 10, cfg.Pipeline.BatchSize)
	assert.Equal(t, 5, cfg.Vision.MaxConcurrent)
	assert.Equal(t, "warn", cfg.Logging.Level)
}
