package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for the gender filter pipeline
type Config struct {
	// Instagram accounts used for profile fetching
	Accounts []AccountConfig `yaml:"accounts" json:"accounts"`

	// Optional separate accounts file, merged before validation
	AccountsFile string `yaml:"accounts_file" json:"accounts_file"`

	// Vision endpoint configuration for gender classification
	Vision VisionConfig `yaml:"vision" json:"vision"`

	// Per-account request pacing
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// Pipeline batching and retry behaviour
	Pipeline PipelineConfig `yaml:"pipeline" json:"pipeline"`

	// Output file locations
	Output OutputConfig `yaml:"output" json:"output"`

	// Session persistence
	Sessions SessionConfig `yaml:"sessions" json:"sessions"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// AccountConfig describes one Instagram account. OTPSeed is optional;
// when absent no second factor is attempted. Proxy is optional.
type AccountConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
	OTPSeed  string `yaml:"otp_seed,omitempty" json:"otp_seed,omitempty"`
	Proxy    string `yaml:"proxy,omitempty" json:"proxy,omitempty"`
}

// VisionConfig holds the AI classification endpoint settings
type VisionConfig struct {
	APIKey         string        `yaml:"api_key" json:"api_key"`
	Model          string        `yaml:"model" json:"model"`
	BaseURL        string        `yaml:"base_url" json:"base_url"`
	MaxConcurrent  int           `yaml:"max_concurrent" json:"max_concurrent"`
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
}

// RateLimitConfig holds the randomized per-account delay window
type RateLimitConfig struct {
	MinDelay time.Duration `yaml:"min_delay" json:"min_delay"`
	MaxDelay time.Duration `yaml:"max_delay" json:"max_delay"`
}

// PipelineConfig holds batching and retry settings
type PipelineConfig struct {
	BatchSize    int           `yaml:"batch_size" json:"batch_size"`
	MaxRetries   int           `yaml:"max_retries" json:"max_retries"`
	FetchTimeout time.Duration `yaml:"fetch_timeout" json:"fetch_timeout"`
	MaxThrottles int           `yaml:"max_throttles" json:"max_throttles"`
}

// OutputConfig holds output file locations
type OutputConfig struct {
	MaleFile  string `yaml:"male_file" json:"male_file"`
	DebugLog  string `yaml:"debug_log" json:"debug_log"`
	ImagesDir string `yaml:"images_dir" json:"images_dir"`
}

// SessionConfig holds session persistence settings. When Passphrase is
// non-empty, session blobs are encrypted at rest.
type SessionConfig struct {
	Dir        string `yaml:"dir" json:"dir"`
	Passphrase string `yaml:"passphrase,omitempty" json:"passphrase,omitempty"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Vision: VisionConfig{
			Model:          "gpt-4o-mini",
			BaseURL:        "https://api.openai.com/v1",
			MaxConcurrent:  50,
			RequestTimeout: 60 * time.Second,
		},
		RateLimit: RateLimitConfig{
			MinDelay: 3 * time.Second,
			MaxDelay: 7 * time.Second,
		},
		Pipeline: PipelineConfig{
			BatchSize:    100,
			MaxRetries:   3,
			FetchTimeout: 30 * time.Second,
			MaxThrottles: 3,
		},
		Output: OutputConfig{
			MaleFile:  "output/male_usernames.txt",
			DebugLog:  "output/debug_log.json",
			ImagesDir: "images",
		},
		Sessions: SessionConfig{
			Dir: "sessions",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.Vision.APIKey = key
	}
	if key := os.Getenv("IGFILTER_VISION_API_KEY"); key != "" {
		c.Vision.APIKey = key
	}
	if model := os.Getenv("IGFILTER_VISION_MODEL"); model != "" {
		c.Vision.Model = model
	}
	if v := os.Getenv("IGFILTER_MAX_CONCURRENT_AI"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Vision.MaxConcurrent = n
		}
	}
	if v := os.Getenv("IGFILTER_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Pipeline.BatchSize = n
		}
	}
	if v := os.Getenv("IGFILTER_MIN_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.RateLimit.MinDelay = d
		}
	}
	if v := os.Getenv("IGFILTER_MAX_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.RateLimit.MaxDelay = d
		}
	}
	if dir := os.Getenv("IGFILTER_IMAGES_DIR"); dir != "" {
		c.Output.ImagesDir = dir
	}
	if dir := os.Getenv("IGFILTER_SESSIONS_DIR"); dir != "" {
		c.Sessions.Dir = dir
	}
	if pass := os.Getenv("IGFILTER_SESSION_PASSPHRASE"); pass != "" {
		c.Sessions.Passphrase = pass
	}
	if level := os.Getenv("IGFILTER_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadAccountsFile merges accounts from a separate YAML file, if configured.
// Accounts listed inline take precedence and come first in rotation order.
func (c *Config) loadAccountsFile() error {
	if c.AccountsFile == "" {
		return nil
	}

	data, err := os.ReadFile(c.AccountsFile)
	if err != nil {
		return fmt.Errorf("failed to read accounts file: %w", err)
	}

	var accounts []AccountConfig
	if err := yaml.Unmarshal(data, &accounts); err != nil {
		return fmt.Errorf("failed to parse accounts file: %w", err)
	}

	c.Accounts = append(c.Accounts, accounts...)
	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	locations := []string{
		".igfilter.yaml",
		".igfilter.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "igfilter", "config.yaml"),
		filepath.Join(os.Getenv("HOME"), ".config", "igfilter", "config.yml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid. Any error here is fatal
// and must abort before work is dispatched.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Accounts) == 0 {
		errs = append(errs, errors.New("at least one account is required"))
	}
	for i, acct := range c.Accounts {
		if strings.TrimSpace(acct.Username) == "" {
			errs = append(errs, fmt.Errorf("account %d: username is required", i))
		}
		if strings.TrimSpace(acct.Password) == "" {
			errs = append(errs, fmt.Errorf("account %d (%s): password is required", i, acct.Username))
		}
	}

	if c.Vision.APIKey == "" {
		errs = append(errs, errors.New("vision API key is required"))
	}
	if c.Vision.MaxConcurrent <= 0 {
		errs = append(errs, errors.New("vision max concurrent must be positive"))
	}

	if c.RateLimit.MinDelay <= 0 {
		errs = append(errs, errors.New("rate limit min delay must be positive"))
	}
	if c.RateLimit.MaxDelay < c.RateLimit.MinDelay {
		errs = append(errs, errors.New("rate limit max delay must not be below min delay"))
	}

	if c.Pipeline.BatchSize <= 0 {
		errs = append(errs, errors.New("batch size must be positive"))
	}
	if c.Pipeline.MaxRetries < 0 {
		errs = append(errs, errors.New("max retries cannot be negative"))
	}

	if c.Output.MaleFile == "" {
		errs = append(errs, errors.New("male output file is required"))
	}
	if c.Output.DebugLog == "" {
		errs = append(errs, errors.New("debug log file is required"))
	}
	if c.Output.ImagesDir == "" {
		errs = append(errs, errors.New("images directory is required"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if outFile, ok := flags["output"].(string); ok && outFile != "" {
		c.Output.MaleFile = outFile
	}
	if debugLog, ok := flags["debug-log"].(string); ok && debugLog != "" {
		c.Output.DebugLog = debugLog
	}
	if imagesDir, ok := flags["images-dir"].(string); ok && imagesDir != "" {
		c.Output.ImagesDir = imagesDir
	}
	if batchSize, ok := flags["batch-size"].(int); ok && batchSize > 0 {
		c.Pipeline.BatchSize = batchSize
	}
	if concurrent, ok := flags["max-concurrent-ai"].(int); ok && concurrent > 0 {
		c.Vision.MaxConcurrent = concurrent
	}
	if accountsFile, ok := flags["accounts"].(string); ok && accountsFile != "" {
		c.AccountsFile = accountsFile
	}
	if minDelay, ok := flags["min-delay"].(time.Duration); ok && minDelay > 0 {
		c.RateLimit.MinDelay = minDelay
	}
	if maxDelay, ok := flags["max-delay"].(time.Duration); ok && maxDelay > 0 {
		c.RateLimit.MaxDelay = maxDelay
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
}

// Assemble builds configuration from all sources with proper precedence but
// does not validate it, so callers can fill secrets from a credential store
// before the final check.
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Assemble(configPath string, flags map[string]interface{}) (*Config, error) {
	// Try to load .env files (don't fail if they don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".igfilter.env"))

	// Start with defaults
	config := DefaultConfig()

	// Load from config file
	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	// Override with environment variables (includes values from .env)
	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Override with command line flags
	config.MergeCommandLineFlags(flags)

	// Pull in the external accounts file after the flag override
	if err := config.loadAccountsFile(); err != nil {
		return nil, err
	}

	return config, nil
}

// Load assembles and validates configuration in one step
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	config, err := Assemble(configPath, flags)
	if err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
