package storage

import (
	"context"
	"errors"
	"sync"
)

// Logical keys under which the monitor persists its state.
const (
	KeyActiveIncidents              = "active_incidents"
	KeyAlertHistory                 = "alert_history"
	KeyHealthCheckHistory           = "health_check_history"
	KeyPerformanceValidationHistory = "performance_validation_history"
)

// ErrNotFound is returned when no value is stored under a key
var ErrNotFound = errors.New("key not found")

// Store defines the read/write contract for persisted JSON blobs.
// Every Save overwrites the previous value wholesale.
type Store interface {
	// Load returns the blob stored under key, or ErrNotFound
	Load(ctx context.Context, key string) ([]byte, error)

	// Save replaces the blob stored under key
	Save(ctx context.Context, key string, value []byte) error

	// Close releases the underlying resources
	Close() error
}

// MemoryStore is a Store kept entirely in process memory
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

// Load implements Store.Load
func (s *MemoryStore) Load(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// Save implements Store.Save
func (s *MemoryStore) Save(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte(nil), value...)
	return nil
}

// Close implements Store.Close
func (s *MemoryStore) Close() error {
	return nil
}
