// Package credential stores the TestFairy API key for a project in two tiers:
// an in-memory tier consulted first and a durable tier behind it.
package credential

import (
	"context"
	"errors"
	"strings"
	"sync"
)

const (
	// Owner identifies the component that owns the stored secret.
	Owner = "tfupload.configure"
	// KeyName is the fixed name the API key is stored under.
	KeyName = "TESTFAIRY_API_KEY"
)

var (
	// ErrEmptySecret is returned by Set for an empty or whitespace-only key.
	ErrEmptySecret = errors.New("no API key provided")
	// ErrStoredInMemoryOnly means the durable tier refused the write; the key
	// is only available until the process exits.
	ErrStoredInMemoryOnly = errors.New("API key stored in memory only for this session")
)

// Config is the configuration derived from the stored credential.
type Config struct {
	APIKey string
}

// Store resolves the API key for a single project.
type Store struct {
	memory  Backend
	durable Backend
	key     Key

	mu  sync.Mutex
	cfg *Config
}

// NewStore returns a Store for projectID that reads memory before durable.
func NewStore(projectID string, memory, durable Backend) *Store {
	return &Store{
		memory:  memory,
		durable: durable,
		key:     Key{ProjectID: projectID, Owner: Owner, Name: KeyName},
	}
}

// Get returns the stored API key. The second result is false when neither
// tier has a value; an unavailable durable tier is treated as absent.
func (s *Store) Get(ctx context.Context) (string, bool) {
	if v, err := s.memory.Get(ctx, s.key); err == nil && v != "" {
		return v, true
	}
	if s.durable == nil {
		return "", false
	}
	v, err := s.durable.Get(ctx, s.key)
	if err != nil || v == "" {
		return "", false
	}
	_ = s.memory.Set(ctx, s.key, v)
	return v, true
}

// Set stores secret in both tiers and drops the cached Config.
// If only the memory tier accepted it, Set returns ErrStoredInMemoryOnly.
func (s *Store) Set(ctx context.Context, secret string) error {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return ErrEmptySecret
	}
	if err := s.memory.Set(ctx, s.key, secret); err != nil {
		return err
	}
	s.invalidate()

	if s.durable == nil {
		return ErrStoredInMemoryOnly
	}
	if err := s.durable.Set(ctx, s.key, secret); err != nil {
		if errors.Is(err, ErrUnavailable) {
			return errors.Join(ErrStoredInMemoryOnly, err)
		}
		return err
	}
	return nil
}

// Config returns the derived configuration, building it on first use.
func (s *Store) Config(ctx context.Context) *Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg == nil {
		key, _ := s.Get(ctx)
		s.cfg = &Config{APIKey: key}
	}
	return s.cfg
}

// IsConfigured reports whether an API key is stored for the project.
func (s *Store) IsConfigured(ctx context.Context) bool {
	_, ok := s.Get(ctx)
	return ok
}

func (s *Store) invalidate() {
	s.mu.Lock()
	s.cfg = nil
	s.mu.Unlock()
}
