// Package config loads engine configuration from a YAML file with
// environment overrides. Precedence: defaults, then config file, then
// TERN_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the engine settings.
type Config struct {
	APIBase string `yaml:"api_base"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`

	MaxOutputTokens int `yaml:"max_output_tokens"`
	ContextTokens   int `yaml:"context_tokens"`
	KeepLastN       int `yaml:"keep_last_n"`
	MaxIterations   int `yaml:"max_iterations"`

	MaxRateLimitAttempts int `yaml:"max_rate_limit_attempts"`
	MaxEmptyAttempts     int `yaml:"max_empty_attempts"`

	DataDir   string `yaml:"data_dir"`
	Workspace string `yaml:"workspace"`
}

// Default returns the built-in configuration.
func Default() *Config {
	home, _ := os.UserHomeDir()
	cwd, _ := os.Getwd()
	return &Config{
		APIBase:              "https://api.openai.com/v1",
		Model:                "gpt-4o",
		MaxOutputTokens:      4096,
		ContextTokens:        128000,
		KeepLastN:            8,
		MaxIterations:        25,
		MaxRateLimitAttempts: 5,
		MaxEmptyAttempts:     3,
		DataDir:              filepath.Join(home, ".tern"),
		Workspace:            cwd,
	}
}

// Load builds the effective configuration. A missing config file is not
// an error; a malformed one is.
func Load(path string) (*Config, error) {
	// .env files are a convenience for local runs; absence is fine.
	_ = godotenv.Load()

	cfg := Default()

	if path == "" {
		path = filepath.Join(cfg.DataDir, "config.yaml")
	}
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	cfg.applyEnv()

	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	return cfg, nil
}

// applyEnv overlays TERN_* environment variables.
func (c *Config) applyEnv() {
	setStr := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(dst *int, key string) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	setStr(&c.APIBase, "TERN_API_BASE")
	setStr(&c.APIKey, "TERN_API_KEY")
	setStr(&c.Model, "TERN_MODEL")
	setStr(&c.DataDir, "TERN_DATA_DIR")
	setStr(&c.Workspace, "TERN_WORKSPACE")
	setInt(&c.MaxOutputTokens, "TERN_MAX_OUTPUT_TOKENS")
	setInt(&c.ContextTokens, "TERN_CONTEXT_TOKENS")
	setInt(&c.KeepLastN, "TERN_KEEP_LAST_N")
	setInt(&c.MaxIterations, "TERN_MAX_ITERATIONS")
}

// Validate checks the settings a session cannot run without.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("no API key configured (set TERN_API_KEY or OPENAI_API_KEY)")
	}
	if c.Model == "" {
		return fmt.Errorf("no model configured")
	}
	if c.ContextTokens <= 0 {
		return fmt.Errorf("context_tokens must be positive")
	}
	return nil
}

// EnsureDataDir creates the data directory if needed.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0o755)
}
