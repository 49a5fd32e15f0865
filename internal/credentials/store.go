// Package credentials persists the single API key the client authenticates with
package credentials

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// APIKeyName is the key under which the API key is stored
const APIKeyName = "api_key"

// Backend names accepted by Open
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
	BackendRedis  = "redis"
)

// ErrNotFound is returned by Get when no credential has been stored yet
var ErrNotFound = errors.New("credential not found")

// Store keeps the API key across calls and, for persistent backends, across processes
type Store interface {
	Get(ctx context.Context) (string, error)
	Set(ctx context.Context, value string) error
	Close() error
}

// Options selects and configures a backend
type Options struct {
	Backend  string
	Path     string
	RedisURL string
}

// Open creates the store for the configured backend
func Open(opts Options) (Store, error) {
	switch opts.Backend {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendBadger:
		return NewBadgerStore(opts.Path)
	case BackendRedis:
		return NewRedisStore(opts.RedisURL)
	default:
		return nil, fmt.Errorf("unsupported credential backend: %s", opts.Backend)
	}
}

// MemoryStore keeps the credential for the lifetime of the process
type MemoryStore struct {
	mu    sync.RWMutex
	value string
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Get returns the stored credential
func (s *MemoryStore) Get(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.value == "" {
		return "", ErrNotFound
	}
	return s.value, nil
}

// Set replaces the stored credential
func (s *MemoryStore) Set(_ context.Context, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = value
	return nil
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}
