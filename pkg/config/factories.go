package config

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"

	"github.com/damian-krychowski/plikshare-sub002/pkg/filecrypt"
	"github.com/damian-krychowski/plikshare-sub002/pkg/metadata/badger"
	"github.com/damian-krychowski/plikshare-sub002/pkg/storage"
	"github.com/damian-krychowski/plikshare-sub002/pkg/storage/fs"
	"github.com/damian-krychowski/plikshare-sub002/pkg/storage/gcs"
	"github.com/damian-krychowski/plikshare-sub002/pkg/storage/registry"
	"github.com/damian-krychowski/plikshare-sub002/pkg/storage/s3"
)

// CreateMetadataStore creates the embedded BadgerDB metadata store.
func CreateMetadataStore(cfg *MetadataConfig) (*badger.Store, error) {
	store, err := badger.New(badger.Options{
		Path:     cfg.Path,
		InMemory: cfg.InMemory,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create metadata store: %w", err)
	}
	return store, nil
}

// TokenSecret32 decodes the configured transfer-token secret.
func (c *SecurityConfig) TokenSecret32() ([]byte, error) {
	secret, err := base64.StdEncoding.DecodeString(c.TokenSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to decode token secret: %w", err)
	}
	return secret, nil
}

// MasterKeySet decodes the configured master keys into the key set the
// streaming cipher derives per-file keys from.
//
// Returns nil without error when no keys are configured, which disables
// managed encryption.
func (c *SecurityConfig) MasterKeySet() (*filecrypt.MasterKeys, error) {
	if len(c.MasterKeys) == 0 {
		return nil, nil
	}

	keys := make(map[uint8][]byte, len(c.MasterKeys))
	for _, keyCfg := range c.MasterKeys {
		material, err := base64.StdEncoding.DecodeString(keyCfg.Key)
		if err != nil {
			return nil, fmt.Errorf("failed to decode master key version %d: %w", keyCfg.Version, err)
		}
		keys[keyCfg.Version] = material
	}

	return filecrypt.NewMasterKeys(c.MasterKeyVersion, keys)
}

// CreateStorageClient creates a storage client based on configuration.
//
// This factory function uses the Type field to determine which backend
// implementation to create, then decodes the type-specific configuration
// from the corresponding map and passes it to the backend's constructor.
//
// Supported types:
//   - "s3": Amazon S3 or any S3-compatible service (pkg/storage/s3)
//   - "gcs": Google Cloud Storage (pkg/storage/gcs)
//   - "filesystem": local filesystem storage (pkg/storage/fs)
func CreateStorageClient(ctx context.Context, appBaseURL string, cfg *StorageConfig) (storage.Client, error) {
	encryption := filecrypt.EncryptionNone
	if cfg.Encryption == "managed" {
		encryption = filecrypt.EncryptionManaged
	}

	switch cfg.Type {
	case "s3":
		return createS3StorageClient(ctx, appBaseURL, cfg.ExternalID, encryption, cfg.S3)
	case "gcs":
		return createGCSStorageClient(ctx, appBaseURL, cfg.ExternalID, encryption, cfg.GCS)
	case "filesystem":
		return createFilesystemStorageClient(appBaseURL, cfg.ExternalID, encryption, cfg.Filesystem)
	default:
		return nil, fmt.Errorf("unknown storage type: %q", cfg.Type)
	}
}

// createS3StorageClient creates an S3-compatible storage client.
func createS3StorageClient(ctx context.Context, appBaseURL, externalID string, encryption filecrypt.EncryptionType, options map[string]any) (storage.Client, error) {
	type S3StorageConfig struct {
		Region          string `mapstructure:"region"`
		Endpoint        string `mapstructure:"endpoint"`
		AccessKeyID     string `mapstructure:"access_key_id"`
		SecretAccessKey string `mapstructure:"secret_access_key"`
		UsePathStyle    bool   `mapstructure:"use_path_style"`
	}

	var storageCfg S3StorageConfig
	if err := mapstructure.Decode(options, &storageCfg); err != nil {
		return nil, fmt.Errorf("failed to decode s3 storage config: %w", err)
	}

	if storageCfg.Region == "" {
		return nil, fmt.Errorf("s3 storage %q: region is required", externalID)
	}

	client, err := s3.New(ctx, s3.Config{
		Name:            externalID,
		Region:          storageCfg.Region,
		Endpoint:        storageCfg.Endpoint,
		AccessKeyID:     storageCfg.AccessKeyID,
		SecretAccessKey: storageCfg.SecretAccessKey,
		UsePathStyle:    storageCfg.UsePathStyle,
		AppBaseURL:      appBaseURL,
		Encryption:      encryption,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 storage client: %w", err)
	}
	return client, nil
}

// createGCSStorageClient creates a Google Cloud Storage client.
func createGCSStorageClient(ctx context.Context, appBaseURL, externalID string, encryption filecrypt.EncryptionType, options map[string]any) (storage.Client, error) {
	type GCSStorageConfig struct {
		ProjectID         string `mapstructure:"project_id"`
		CredentialsJSON   string `mapstructure:"credentials_json"`
		SigningEmail      string `mapstructure:"signing_email"`
		SigningPrivateKey string `mapstructure:"signing_private_key"`
	}

	var storageCfg GCSStorageConfig
	if err := mapstructure.Decode(options, &storageCfg); err != nil {
		return nil, fmt.Errorf("failed to decode gcs storage config: %w", err)
	}

	if storageCfg.ProjectID == "" {
		return nil, fmt.Errorf("gcs storage %q: project_id is required", externalID)
	}

	client, err := gcs.New(ctx, gcs.Config{
		Name:              externalID,
		ProjectID:         storageCfg.ProjectID,
		CredentialsJSON:   storageCfg.CredentialsJSON,
		SigningEmail:      storageCfg.SigningEmail,
		SigningPrivateKey: storageCfg.SigningPrivateKey,
		AppBaseURL:        appBaseURL,
		Encryption:        encryption,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gcs storage client: %w", err)
	}
	return client, nil
}

// createFilesystemStorageClient creates a local filesystem storage client.
func createFilesystemStorageClient(appBaseURL, externalID string, encryption filecrypt.EncryptionType, options map[string]any) (storage.Client, error) {
	type FilesystemStorageConfig struct {
		Path string `mapstructure:"path"`
	}

	var storageCfg FilesystemStorageConfig
	if err := mapstructure.Decode(options, &storageCfg); err != nil {
		return nil, fmt.Errorf("failed to decode filesystem storage config: %w", err)
	}

	if storageCfg.Path == "" {
		return nil, fmt.Errorf("filesystem storage %q: path is required", externalID)
	}

	client, err := fs.New(fs.Config{
		Name:       externalID,
		Path:       storageCfg.Path,
		AppBaseURL: appBaseURL,
		Encryption: encryption,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem storage client: %w", err)
	}
	return client, nil
}

// BuildStorageRegistry creates every configured storage client, probes
// its connectivity and registers it under its external id.
//
// The probe is a short-lived bucket round-trip, so misconfigured
// credentials surface at startup instead of on the first upload.
func BuildStorageRegistry(ctx context.Context, cfg *Config) (*registry.Registry, error) {
	storages := registry.New()
	for i := range cfg.Storages {
		storageCfg := &cfg.Storages[i]
		client, err := CreateStorageClient(ctx, cfg.Server.AppBaseURL, storageCfg)
		if err != nil {
			return nil, err
		}
		if err := probeStorage(ctx, client); err != nil {
			return nil, fmt.Errorf("storage %q failed its connectivity check: %w", storageCfg.ExternalID, err)
		}
		if err := storages.Register(storageCfg.ExternalID, client); err != nil {
			return nil, err
		}
	}
	return storages, nil
}

func probeStorage(ctx context.Context, client storage.Client) error {
	probeBucket := "plikshare-probe-" + uuid.NewString()
	if err := client.CreateBucketIfDoesntExist(ctx, probeBucket); err != nil {
		return err
	}
	return client.DeleteBucket(ctx, probeBucket)
}
