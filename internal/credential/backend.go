package credential

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/joescharf/tfupload/internal/store"
)

var (
	// ErrNotFound means the backend holds no value for the key.
	ErrNotFound = errors.New("credential not found")
	// ErrUnavailable means the backend cannot be used right now (locked vault, no database).
	ErrUnavailable = errors.New("credential backend unavailable")
)

// Key addresses a secret: project identity, owning component, and a fixed name.
type Key = store.CredentialKey

// Backend is one tier of credential storage.
type Backend interface {
	Get(ctx context.Context, key Key) (string, error)
	Set(ctx context.Context, key Key, value string) error
}

// MemoryBackend keeps secrets for the lifetime of the process.
type MemoryBackend struct {
	mu     sync.RWMutex
	values map[Key]string
}

// NewMemoryBackend returns an empty in-memory tier.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{values: make(map[Key]string)}
}

func (m *MemoryBackend) Get(_ context.Context, key Key) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	if !ok || v == "" {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *MemoryBackend) Set(_ context.Context, key Key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

// SQLBackend is the durable tier backed by the tfupload database.
// A nil store makes every call report ErrUnavailable.
type SQLBackend struct {
	store store.Store
}

// NewSQLBackend wraps s as a durable credential tier.
func NewSQLBackend(s store.Store) *SQLBackend {
	return &SQLBackend{store: s}
}

func (b *SQLBackend) Get(ctx context.Context, key Key) (string, error) {
	if b.store == nil {
		return "", ErrUnavailable
	}
	v, err := b.store.GetCredential(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return v, nil
}

func (b *SQLBackend) Set(ctx context.Context, key Key, value string) error {
	if b.store == nil {
		return ErrUnavailable
	}
	if err := b.store.SetCredential(ctx, key, value); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
