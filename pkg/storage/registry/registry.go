// Package registry holds the process-wide set of configured storage
// clients, keyed by storage external id.
package registry

import (
	"fmt"
	"sync"

	"github.com/damian-krychowski/plikshare-sub002/pkg/storage"
)

// Registry maps storage external ids to their live clients. Lookups
// vastly outnumber registrations, so entries live in a sync.Map.
//
// Thread Safety: safe for concurrent use.
type Registry struct {
	clients sync.Map
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{}
}

// Register adds a client under the given external id.
//
// Returns an error if the id is already taken. Replacing an existing
// storage must go through Replace so the intent is explicit.
func (r *Registry) Register(externalID string, client storage.Client) error {
	if client == nil {
		return fmt.Errorf("cannot register nil client for storage %q", externalID)
	}
	if _, loaded := r.clients.LoadOrStore(externalID, client); loaded {
		return fmt.Errorf("storage %q is already registered", externalID)
	}
	return nil
}

// Replace swaps the client registered under the given external id,
// registering it if absent.
func (r *Registry) Replace(externalID string, client storage.Client) error {
	if client == nil {
		return fmt.Errorf("cannot register nil client for storage %q", externalID)
	}
	r.clients.Store(externalID, client)
	return nil
}

// Remove drops the client registered under the given external id.
// Removing an unknown id is a no-op.
func (r *Registry) Remove(externalID string) {
	r.clients.Delete(externalID)
}

// Get returns the client registered under the given external id.
func (r *Registry) Get(externalID string) (storage.Client, error) {
	value, ok := r.clients.Load(externalID)
	if !ok {
		return nil, fmt.Errorf("storage %q is not registered", externalID)
	}
	return value.(storage.Client), nil
}
