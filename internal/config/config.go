package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Default limits applied when the config file leaves them unset.
const (
	DefaultTimeoutSeconds   = 30
	DefaultMaxFileSizeBytes = 10 * 1024 * 1024
	DefaultMaxOutputBytes   = 1 * 1024 * 1024
	DefaultWorkers          = 5
	DefaultCacheMaxBytes    = 256 * 1024 * 1024
	DefaultMaxScopeFiles    = 500
)

// DefaultAllowedCommands is the closed whitelist of read-oriented commands.
var DefaultAllowedCommands = []string{"grep", "find", "cat", "head", "tail", "ls", "wc"}

// CacheConfig holds cache storage settings
type CacheConfig struct {
	Dir           string `json:"dir"`
	MaxBytes      int64  `json:"max_bytes"`
	MaxScopeFiles int    `json:"max_scope_files"`
	ContentHash   bool   `json:"content_hash"`
	Watch         bool   `json:"watch"`
}

// SandboxConfig holds execution boundary settings
type SandboxConfig struct {
	AllowedCommands  []string `json:"allowed_commands"`
	TimeoutSeconds   int      `json:"timeout_seconds"`
	MaxFileSizeBytes int64    `json:"max_file_size_bytes"`
	MaxOutputBytes   int64    `json:"max_output_bytes"`
	// Landlock is a defense-in-depth layer on Linux; policy validation
	// never depends on it being available.
	DisableLandlock bool `json:"disable_landlock"`
	BestEffort      bool `json:"best_effort"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level string `json:"level"`
	Path  string `json:"path"`
}

// Config is the top-level configuration for grepbox
type Config struct {
	Root    string        `json:"root"`
	Workers int           `json:"workers"`
	Sandbox SandboxConfig `json:"sandbox"`
	Cache   CacheConfig   `json:"cache"`
	Log     LogConfig     `json:"log"`
}

// Default returns a configuration with all limits at their defaults,
// rooted at the given directory.
func Default(root string) *Config {
	cfg := &Config{Root: root}
	cfg.applyDefaults()
	return cfg
}

// Load reads a JSON config file and fills in defaults for unset fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if len(c.Sandbox.AllowedCommands) == 0 {
		c.Sandbox.AllowedCommands = append([]string(nil), DefaultAllowedCommands...)
	}
	if c.Sandbox.TimeoutSeconds <= 0 {
		c.Sandbox.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if c.Sandbox.MaxFileSizeBytes <= 0 {
		c.Sandbox.MaxFileSizeBytes = DefaultMaxFileSizeBytes
	}
	if c.Sandbox.MaxOutputBytes <= 0 {
		c.Sandbox.MaxOutputBytes = DefaultMaxOutputBytes
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.Cache.MaxBytes <= 0 {
		c.Cache.MaxBytes = DefaultCacheMaxBytes
	}
	if c.Cache.MaxScopeFiles <= 0 {
		c.Cache.MaxScopeFiles = DefaultMaxScopeFiles
	}
	if c.Cache.Dir == "" {
		c.Cache.Dir = defaultCacheDir()
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate checks that the configuration can actually be used.
func (c *Config) Validate() error {
	if c.Root == "" {
		return fmt.Errorf("root directory is required")
	}
	info, err := os.Stat(c.Root)
	if err != nil {
		return fmt.Errorf("root directory not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("root %s is not a directory", c.Root)
	}
	return nil
}

// Timeout returns the sandbox timeout as a duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Sandbox.TimeoutSeconds) * time.Second
}

func defaultCacheDir() string {
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, "grepbox")
}
