package apiclient

import (
	"context"
	"sync"
)

// MemorySessionStore is an in-memory SessionRepository intended for tests and one-shot runs.
type MemorySessionStore struct {
	mutex       sync.Mutex
	credentials Credentials
}

// NewMemorySessionStore creates a store seeded with the provided credentials.
func NewMemorySessionStore(initial Credentials) *MemorySessionStore {
	return &MemorySessionStore{credentials: initial}
}

// Load returns a copy of the stored credentials.
func (store *MemorySessionStore) Load(ctx context.Context) (Credentials, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.credentials, nil
}

// Save replaces the stored credentials.
func (store *MemorySessionStore) Save(ctx context.Context, credentials Credentials) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.credentials = credentials
	return nil
}

// Clear removes every stored field.
func (store *MemorySessionStore) Clear(ctx context.Context) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.credentials = Credentials{}
	return nil
}
