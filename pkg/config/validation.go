package config

import (
	"encoding/base64"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// This function uses go-playground/validator for declarative validation
// via struct tags, with additional custom validation for rules that cannot
// be expressed in tags.
//
// Returns an error describing the first validation failure.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	if len(cfg.Storages) == 0 {
		return fmt.Errorf("storages: at least one storage must be configured")
	}

	ids := make(map[string]bool)
	managed := false
	for i, storage := range cfg.Storages {
		if ids[storage.ExternalID] {
			return fmt.Errorf("storages[%d]: duplicate external id %q", i, storage.ExternalID)
		}
		ids[storage.ExternalID] = true
		if storage.Encryption == "managed" {
			managed = true
		}
	}

	if secret, err := base64.StdEncoding.DecodeString(cfg.Security.TokenSecret); err != nil {
		return fmt.Errorf("security.token_secret: not valid base64: %w", err)
	} else if len(secret) != 32 {
		return fmt.Errorf("security.token_secret: must decode to 32 bytes, got %d", len(secret))
	}

	if managed && len(cfg.Security.MasterKeys) == 0 {
		return fmt.Errorf("security.master_keys: required when a storage uses managed encryption")
	}

	versions := make(map[uint8]bool)
	for i, key := range cfg.Security.MasterKeys {
		if versions[key.Version] {
			return fmt.Errorf("security.master_keys[%d]: duplicate version %d", i, key.Version)
		}
		versions[key.Version] = true

		if material, err := base64.StdEncoding.DecodeString(key.Key); err != nil {
			return fmt.Errorf("security.master_keys[%d]: not valid base64: %w", i, err)
		} else if len(material) != 32 {
			return fmt.Errorf("security.master_keys[%d]: must decode to 32 bytes, got %d", i, len(material))
		}
	}
	if len(cfg.Security.MasterKeys) > 0 && !versions[cfg.Security.MasterKeyVersion] {
		return fmt.Errorf("security.master_key_version: version %d is not among the configured keys", cfg.Security.MasterKeyVersion)
	}

	if !cfg.Metadata.InMemory && cfg.Metadata.Path == "" {
		return fmt.Errorf("metadata.path: required unless metadata.in_memory is set")
	}

	return nil
}

// formatValidationError converts validator errors into readable messages.
func formatValidationError(err error) error {
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}

	for _, fieldError := range validationErrors {
		return fmt.Errorf("field %q failed validation rule %q (value: %v)",
			fieldError.Namespace(), fieldError.Tag(), fieldError.Value())
	}
	return err
}
