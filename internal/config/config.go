// Package config loads and validates the launcher configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that YAML-encodes as a string like "30s".
type Duration time.Duration

// Std returns the standard library representation.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalYAML() (any, error) { return time.Duration(d).String(), nil }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config represents the launcher configuration.
type Config struct {
	AppID       int    `yaml:"app_id"`
	ManifestURL string `yaml:"manifest_url"`

	// GamePath overrides Steam library discovery when set. The path is still
	// validated against the expected executable.
	GamePath string `yaml:"game_path,omitempty"`

	// ModsSubdir is the subdirectory of the game installation that receives
	// extracted package files.
	ModsSubdir string `yaml:"mods_subdir"`

	// DataDir holds the state file, transaction scratch space and journal.
	DataDir string `yaml:"data_dir"`

	// PruneMissing removes installed mods that no longer appear in the
	// manifest. Off by default: absent entries are left installed.
	PruneMissing bool `yaml:"prune_missing"`

	// Workers bounds the apply-phase worker pool.
	Workers int `yaml:"workers"`

	Download        DownloadConfig `yaml:"download"`
	ManifestTimeout Duration       `yaml:"manifest_timeout"`

	// Watch-mode settings.
	CheckInterval Duration `yaml:"check_interval"`
	MetricsAddr   string   `yaml:"metrics_addr,omitempty"`
}

// DownloadConfig holds per-package transfer settings.
type DownloadConfig struct {
	Timeout      Duration         `yaml:"timeout"`
	Retries      int              `yaml:"retries"`
	Backoff      RetryBackoffMode `yaml:"backoff"`
	InitialDelay Duration         `yaml:"initial_delay"`
	MaxDelay     Duration         `yaml:"max_delay"`
}

// Load loads configuration from the specified file.
func Load(configPath string) (*Config, error) {
	// Load .env file if it exists
	if err := loadEnvFile(); err != nil {
		// Don't fail if .env doesn't exist
		_ = err
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expandedData), &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// applyDefaults fills zero fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.ModsSubdir == "" {
		c.ModsSubdir = "data/mods"
	}
	if c.DataDir == "" {
		c.DataDir = "./modloader-data"
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.Download.Timeout <= 0 {
		c.Download.Timeout = Duration(5 * time.Minute)
	}
	if c.Download.Retries < 0 {
		c.Download.Retries = 0
	}
	if c.Download.Retries == 0 {
		c.Download.Retries = 3
	}
	if c.Download.Backoff == "" {
		c.Download.Backoff = RetryBackoffExponential
	}
	if c.Download.InitialDelay <= 0 {
		c.Download.InitialDelay = Duration(time.Second)
	}
	if c.Download.MaxDelay <= 0 {
		c.Download.MaxDelay = Duration(30 * time.Second)
	}
	if c.ManifestTimeout <= 0 {
		c.ManifestTimeout = Duration(30 * time.Second)
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = Duration(30 * time.Minute)
	}
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if c.ManifestURL == "" {
		return fmt.Errorf("manifest_url is required")
	}
	if c.AppID <= 0 && c.GamePath == "" {
		return fmt.Errorf("either app_id or game_path must be set")
	}
	if NormalizeRetryBackoff(string(c.Download.Backoff)) == "" {
		return fmt.Errorf("unknown download.backoff mode: %s", c.Download.Backoff)
	}
	return nil
}

// Init creates a new configuration file with example content.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", configPath)
	}

	example := Config{
		AppID:       365360,
		ManifestURL: "https://example.com/mods/manifest.json",
		ModsSubdir:  "data/mods",
		DataDir:     "./modloader-data",
		Workers:     2,
		Download: DownloadConfig{
			Timeout:      Duration(5 * time.Minute),
			Retries:      3,
			Backoff:      RetryBackoffExponential,
			InitialDelay: Duration(time.Second),
			MaxDelay:     Duration(30 * time.Second),
		},
		ManifestTimeout: Duration(30 * time.Second),
		CheckInterval:   Duration(30 * time.Minute),
	}

	data, err := yaml.Marshal(&example)
	if err != nil {
		return fmt.Errorf("failed to marshal example config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
