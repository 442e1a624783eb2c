package config

import (
	"strings"
	"time"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and
// environment variables to fill in any missing values with sensible
// defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Backend-specific defaults are handled by the backend implementations
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applySecurityDefaults(&cfg.Security)

	for i := range cfg.Storages {
		applyStorageDefaults(&cfg.Storages[i])
	}
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Address == "" {
		cfg.Address = ":8080"
	}
	if cfg.AppBaseURL == "" {
		cfg.AppBaseURL = "http://localhost:8080"
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

func applySecurityDefaults(cfg *SecurityConfig) {
	// A single configured key defaults to being the current one.
	if cfg.MasterKeyVersion == 0 && len(cfg.MasterKeys) == 1 {
		cfg.MasterKeyVersion = cfg.MasterKeys[0].Version
	}
}

func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.Encryption == "" {
		cfg.Encryption = "none"
	}
}
