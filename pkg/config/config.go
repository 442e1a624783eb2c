package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete data-plane configuration.
//
// This structure captures all configurable aspects of the server including:
//   - Logging configuration
//   - Server-wide settings (listen address, public base URL, shutdown)
//   - Metadata store configuration
//   - Security material (token secret, managed-encryption master keys)
//   - Storage backend definitions
//   - Metrics exposure
//
// Configuration sources (in order of precedence):
//  1. Environment variables (PLIKSHARE_*)
//  2. Configuration file (YAML or TOML)
//  3. Default values (lowest priority)
//
// Storage Configuration Pattern:
// Each backend implementation defines its own configuration type and factory
// function. A StorageConfig carries type-specific sections (s3, gcs,
// filesystem) and only the section matching the selected type is used.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging"`

	// Server contains server-wide settings
	Server ServerConfig `mapstructure:"server"`

	// Metadata configures the embedded metadata store
	Metadata MetadataConfig `mapstructure:"metadata"`

	// Security holds the token secret and managed-encryption master keys
	Security SecurityConfig `mapstructure:"security"`

	// Storages defines the storage backends available to workspaces
	Storages []StorageConfig `mapstructure:"storages" validate:"dive"`

	// Metrics controls Prometheus metrics exposure
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`
}

// ServerConfig contains server-wide settings.
type ServerConfig struct {
	// Address is the listen address, e.g. ":8080"
	Address string `mapstructure:"address" validate:"required"`

	// AppBaseURL is the public base URL embedded in pre-signed
	// application links, e.g. "https://files.example.com"
	AppBaseURL string `mapstructure:"app_base_url" validate:"required,url"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`

	// WriteQueueCapacity bounds queued, not-yet-executed metadata writes.
	// Zero selects the queue's default.
	WriteQueueCapacity int `mapstructure:"write_queue_capacity" validate:"gte=0"`

	// RequestsPerSecond caps the sustained rate of transfer requests.
	// Zero disables rate limiting.
	RequestsPerSecond uint `mapstructure:"requests_per_second"`

	// RequestBurst is how many requests over the sustained rate may be
	// admitted at once. Zero defaults to RequestsPerSecond.
	RequestBurst uint `mapstructure:"request_burst"`
}

// MetadataConfig configures the embedded BadgerDB metadata store.
type MetadataConfig struct {
	// Path is the on-disk database directory
	Path string `mapstructure:"path"`

	// InMemory runs the store without persistence. Intended for tests.
	InMemory bool `mapstructure:"in_memory"`
}

// SecurityConfig holds the secrets the data plane operates with.
type SecurityConfig struct {
	// TokenSecret is the base64-encoded 32-byte secret transfer tokens
	// are sealed under
	TokenSecret string `mapstructure:"token_secret" validate:"required"`

	// MasterKeyVersion selects which master key encrypts new files
	MasterKeyVersion uint8 `mapstructure:"master_key_version"`

	// MasterKeys lists every master key the server can decrypt with.
	// Old versions must stay configured for as long as files encrypted
	// under them exist.
	MasterKeys []MasterKeyConfig `mapstructure:"master_keys" validate:"dive"`
}

// MasterKeyConfig is one versioned managed-encryption master key.
type MasterKeyConfig struct {
	Version uint8 `mapstructure:"version"`

	// Key is the base64-encoded 32-byte key material
	Key string `mapstructure:"key" validate:"required"`
}

// StorageConfig defines a single storage backend.
//
// The Type field determines which backend implementation is used.
// Only the corresponding type-specific configuration section is used.
type StorageConfig struct {
	// ExternalID is the identifier file records reference the backend by
	ExternalID string `mapstructure:"external_id" validate:"required"`

	// Type specifies which backend implementation to use
	// Valid values: s3, gcs, filesystem
	Type string `mapstructure:"type" validate:"required,oneof=s3 gcs filesystem"`

	// Encryption selects the at-rest mode for new files on this backend
	// Valid values: none, managed
	Encryption string `mapstructure:"encryption" validate:"omitempty,oneof=none managed"`

	// S3 contains S3-specific configuration
	// Only used when Type = "s3"
	S3 map[string]any `mapstructure:"s3"`

	// GCS contains Google Cloud Storage specific configuration
	// Only used when Type = "gcs"
	GCS map[string]any `mapstructure:"gcs"`

	// Filesystem contains filesystem-specific configuration
	// Only used when Type = "filesystem"
	Filesystem map[string]any `mapstructure:"filesystem"`
}

// MetricsConfig controls Prometheus metrics exposure.
type MetricsConfig struct {
	// Enabled turns on metrics collection and the /metrics endpoint
	Enabled bool `mapstructure:"enabled"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (PLIKSHARE_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the PLIKSHARE_ prefix and underscores
	// Example: PLIKSHARE_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("PLIKSHARE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		// Running purely from environment variables is fine.
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to the
// current directory if the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "plikshare")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "plikshare")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}
