package registry_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/damian-krychowski/plikshare-sub002/pkg/filecrypt"
	"github.com/damian-krychowski/plikshare-sub002/pkg/storage/registry"
	"github.com/damian-krychowski/plikshare-sub002/pkg/storage/storagetest"
)

func TestRegisterAndGet(t *testing.T) {
	storages := registry.New()
	client := storagetest.New(1<<20, 1<<20, filecrypt.EncryptionNone)

	require.NoError(t, storages.Register("st-1", client))

	got, err := storages.Get("st-1")
	require.NoError(t, err)
	assert.Same(t, client, got)
}

func TestRegisterRejectsDuplicate(t *testing.T) {
	storages := registry.New()
	client := storagetest.New(1<<20, 1<<20, filecrypt.EncryptionNone)

	require.NoError(t, storages.Register("st-1", client))

	err := storages.Register("st-1", storagetest.New(1<<20, 1<<20, filecrypt.EncryptionNone))
	assert.ErrorContains(t, err, "already registered")

	// The original registration survives the rejected one.
	got, err := storages.Get("st-1")
	require.NoError(t, err)
	assert.Same(t, client, got)
}

func TestRegisterRejectsNilClient(t *testing.T) {
	storages := registry.New()

	err := storages.Register("st-1", nil)
	assert.ErrorContains(t, err, "nil client")
}

func TestReplaceSwapsClient(t *testing.T) {
	storages := registry.New()
	first := storagetest.New(1<<20, 1<<20, filecrypt.EncryptionNone)
	second := storagetest.New(1<<20, 1<<20, filecrypt.EncryptionNone)

	require.NoError(t, storages.Register("st-1", first))
	require.NoError(t, storages.Replace("st-1", second))

	got, err := storages.Get("st-1")
	require.NoError(t, err)
	assert.Same(t, second, got)
}

func TestReplaceRegistersWhenAbsent(t *testing.T) {
	storages := registry.New()
	client := storagetest.New(1<<20, 1<<20, filecrypt.EncryptionNone)

	require.NoError(t, storages.Replace("st-1", client))

	got, err := storages.Get("st-1")
	require.NoError(t, err)
	assert.Same(t, client, got)
}

func TestGetUnknownStorage(t *testing.T) {
	storages := registry.New()

	_, err := storages.Get("st-missing")
	assert.ErrorContains(t, err, "not registered")
}

func TestRemove(t *testing.T) {
	storages := registry.New()
	client := storagetest.New(1<<20, 1<<20, filecrypt.EncryptionNone)

	require.NoError(t, storages.Register("st-1", client))
	storages.Remove("st-1")

	_, err := storages.Get("st-1")
	assert.Error(t, err)

	// Removing again is a no-op.
	storages.Remove("st-1")
}
