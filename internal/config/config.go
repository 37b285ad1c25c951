// Package config loads and validates activityd configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"activityd/internal/logging"
)

// Config holds all activityd configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Asset storage
	Storage StorageConfig `yaml:"storage"`

	// Collector lifecycle
	Collector CollectorConfig `yaml:"collector"`

	// Browser bridge hub
	Bridge BridgeConfig `yaml:"bridge"`

	// Native-messaging host
	Native NativeConfig `yaml:"native"`

	// Timeline store
	Timeline TimelineConfig `yaml:"timeline"`

	// Logging
	Logging logging.Config `yaml:"logging"`
}

// StorageConfig configures content-addressed asset storage.
type StorageConfig struct {
	BaseDir        string `yaml:"base_dir"`
	OrganizeByType bool   `yaml:"organize_by_type"`
	UseContentHash bool   `yaml:"use_content_hash"`
	MaxFileSize    int64  `yaml:"max_file_size"`
	Retention      string `yaml:"retention"` // janitor prune window, e.g. "720h"
}

// CollectorConfig configures the collection supervisor.
type CollectorConfig struct {
	FocusTrackingEnabled bool   `yaml:"focus_tracking_enabled"`
	CollectionInterval   string `yaml:"collection_interval"`
	RestartDelay         string `yaml:"restart_delay"`
	AutoRestartOnError   bool   `yaml:"auto_restart_on_error"`
	MaxRestartAttempts   int    `yaml:"max_restart_attempts"`
	DevtoolsURL          string `yaml:"devtools_url,omitempty"`
}

// BridgeConfig configures the browser bridge gRPC hub.
type BridgeConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// NativeConfig configures the native-messaging host side.
type NativeConfig struct {
	BridgeAddr     string `yaml:"bridge_addr"`
	RequestTimeout string `yaml:"request_timeout"`
	ListenAddr     string `yaml:"listen_addr"` // HostIpc service address
}

// TimelineConfig configures the SQLite timeline store.
type TimelineConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "activityd",
		Version: "0.3.0",

		Storage: StorageConfig{
			BaseDir:        "data/assets",
			OrganizeByType: true,
			UseContentHash: true,
			MaxFileSize:    50 * 1024 * 1024,
			Retention:      "720h",
		},

		Collector: CollectorConfig{
			FocusTrackingEnabled: true,
			CollectionInterval:   "30s",
			RestartDelay:         "1s",
			AutoRestartOnError:   true,
			MaxRestartAttempts:   5,
		},

		Bridge: BridgeConfig{
			ListenAddr: "127.0.0.1:18490",
		},

		Native: NativeConfig{
			BridgeAddr:     "127.0.0.1:18490",
			RequestTimeout: "10s",
			ListenAddr:     "127.0.0.1:18491",
		},

		Timeline: TimelineConfig{
			DatabasePath: "data/timeline.db",
		},

		Logging: logging.Config{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

func (c *Config) applyEnvOverrides() {
	if dir := os.Getenv("ACTIVITYD_STORAGE_BASE_DIR"); dir != "" {
		c.Storage.BaseDir = dir
	}
	if u := os.Getenv("ACTIVITYD_DEVTOOLS_URL"); u != "" {
		c.Collector.DevtoolsURL = u
	}
	if addr := os.Getenv("ACTIVITYD_BRIDGE_LISTEN_ADDR"); addr != "" {
		c.Bridge.ListenAddr = addr
		c.Native.BridgeAddr = addr
	}
	if db := os.Getenv("ACTIVITYD_TIMELINE_DB"); db != "" {
		c.Timeline.DatabasePath = db
	}
	if lvl := os.Getenv("ACTIVITYD_LOG_LEVEL"); lvl != "" {
		c.Logging.Level = lvl
	}
	if size := os.Getenv("ACTIVITYD_MAX_FILE_SIZE"); size != "" {
		if n, err := strconv.ParseInt(size, 10, 64); err == nil && n > 0 {
			c.Storage.MaxFileSize = n
		}
	}
}

// GetCollectionInterval returns the snapshot poll interval as a duration.
func (c CollectorConfig) GetCollectionInterval() time.Duration {
	d, err := time.ParseDuration(c.CollectionInterval)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// GetRestartDelay returns the base restart backoff delay.
func (c CollectorConfig) GetRestartDelay() time.Duration {
	d, err := time.ParseDuration(c.RestartDelay)
	if err != nil || d <= 0 {
		return time.Second
	}
	return d
}

// GetRequestTimeout returns the native-messaging round-trip timeout.
func (c *Config) GetRequestTimeout() time.Duration {
	d, err := time.ParseDuration(c.Native.RequestTimeout)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}

// GetRetention returns the janitor retention window.
func (c *Config) GetRetention() time.Duration {
	d, err := time.ParseDuration(c.Storage.Retention)
	if err != nil || d <= 0 {
		return 30 * 24 * time.Hour
	}
	return d
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir must not be empty")
	}
	if c.Storage.MaxFileSize <= 0 {
		return fmt.Errorf("storage.max_file_size must be positive, got %d", c.Storage.MaxFileSize)
	}
	if c.Collector.MaxRestartAttempts < 0 {
		return fmt.Errorf("collector.max_restart_attempts must not be negative, got %d", c.Collector.MaxRestartAttempts)
	}
	if c.Bridge.ListenAddr == "" {
		return fmt.Errorf("bridge.listen_addr must not be empty")
	}
	if c.Timeline.DatabasePath == "" {
		return fmt.Errorf("timeline.database_path must not be empty")
	}
	return nil
}
