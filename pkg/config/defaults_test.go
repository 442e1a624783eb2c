package config

import (
	"testing"
	"time"
)

func TestApplyDefaults_Logging(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default log level 'INFO', got %q", cfg.Logging.Level)
	}
}

func TestApplyDefaults_Server(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Server.Address != ":8080" {
		t.Errorf("Expected default address ':8080', got %q", cfg.Server.Address)
	}
	if cfg.Server.AppBaseURL != "http://localhost:8080" {
		t.Errorf("Expected default app base URL 'http://localhost:8080', got %q", cfg.Server.AppBaseURL)
	}
	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown timeout 30s, got %v", cfg.Server.ShutdownTimeout)
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{
			Address:         ":9090",
			AppBaseURL:      "https://files.example.com",
			ShutdownTimeout: 5 * time.Second,
		},
	}
	ApplyDefaults(cfg)

	if cfg.Server.Address != ":9090" {
		t.Errorf("Expected explicit address to be preserved, got %q", cfg.Server.Address)
	}
	if cfg.Server.AppBaseURL != "https://files.example.com" {
		t.Errorf("Expected explicit app base URL to be preserved, got %q", cfg.Server.AppBaseURL)
	}
	if cfg.Server.ShutdownTimeout != 5*time.Second {
		t.Errorf("Expected explicit shutdown timeout to be preserved, got %v", cfg.Server.ShutdownTimeout)
	}
}

func TestApplyDefaults_SingleMasterKeySelectsItself(t *testing.T) {
	cfg := &Config{
		Security: SecurityConfig{
			MasterKeys: []MasterKeyConfig{{Version: 3, Key: "irrelevant"}},
		},
	}
	ApplyDefaults(cfg)

	if cfg.Security.MasterKeyVersion != 3 {
		t.Errorf("Expected single master key version 3 to become current, got %d", cfg.Security.MasterKeyVersion)
	}
}

func TestApplyDefaults_MultipleMasterKeysRequireExplicitVersion(t *testing.T) {
	cfg := &Config{
		Security: SecurityConfig{
			MasterKeys: []MasterKeyConfig{
				{Version: 1, Key: "irrelevant"},
				{Version: 2, Key: "irrelevant"},
			},
		},
	}
	ApplyDefaults(cfg)

	// With more than one key the operator must pick the current version;
	// validation will reject version 0 afterwards.
	if cfg.Security.MasterKeyVersion != 0 {
		t.Errorf("Expected master key version to stay 0, got %d", cfg.Security.MasterKeyVersion)
	}
}

func TestApplyDefaults_StorageEncryption(t *testing.T) {
	cfg := &Config{
		Storages: []StorageConfig{
			{ExternalID: "st-a", Type: "filesystem"},
			{ExternalID: "st-b", Type: "s3", Encryption: "managed"},
		},
	}
	ApplyDefaults(cfg)

	if cfg.Storages[0].Encryption != "none" {
		t.Errorf("Expected default encryption 'none', got %q", cfg.Storages[0].Encryption)
	}
	if cfg.Storages[1].Encryption != "managed" {
		t.Errorf("Expected explicit encryption 'managed' to be preserved, got %q", cfg.Storages[1].Encryption)
	}
}
