// Package kv defines the small key-value contract used for credentials,
// portal sessions and the per-user order database.
package kv

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// ErrEmptyKey is returned for operations on an empty key
var ErrEmptyKey = errors.New("key cannot be empty")

// Store is a string key-value store with optional expiry
type Store interface {
	// Get returns the value and whether it was present and unexpired
	Get(ctx context.Context, key string) (string, bool, error)
	// Put stores a value. A ttl of zero keeps it until deleted.
	Put(ctx context.Context, key, value string, ttl time.Duration) error
	// Delete removes a key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error
}

// CredentialKey is where a user's sealed portal credentials live
func CredentialKey(userID string) string { return "cred:" + userID }

// SessionKey is where a user's portal cookie lives
func SessionKey(userID string) string { return "session:" + userID }

// OrderDBKey is where a user's order database blob lives
func OrderDBKey(userID string) string { return "db:" + userID }

// IsSecretKey reports whether the key holds credentials or session cookies
func IsSecretKey(key string) bool {
	return strings.HasPrefix(key, "cred:") || strings.HasPrefix(key, "session:")
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// Memory is an in-process Store, used by tests and as a scratch backend
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]memoryEntry), now: time.Now}
}

// SetClock overrides the time source used for expiry
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	if key == "" {
		return "", false, ErrEmptyKey
	}
	m.mu.RLock()
	entry, ok := m.entries[key]
	now := m.now()
	m.mu.RUnlock()

	if !ok {
		return "", false, nil
	}
	if !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
		m.mu.Lock()
		delete(m.entries, key)
		m.mu.Unlock()
		return "", false, nil
	}
	return entry.value, true, nil
}

func (m *Memory) Put(_ context.Context, key, value string, ttl time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = m.now().Add(ttl)
	}
	m.entries[key] = entry
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// Routed sends credential and session keys to one store and everything else to another
type Routed struct {
	Secrets Store
	Data    Store
}

func (r Routed) pick(key string) Store {
	if IsSecretKey(key) {
		return r.Secrets
	}
	return r.Data
}

func (r Routed) Get(ctx context.Context, key string) (string, bool, error) {
	return r.pick(key).Get(ctx, key)
}

func (r Routed) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.pick(key).Put(ctx, key, value, ttl)
}

func (r Routed) Delete(ctx context.Context, key string) error {
	return r.pick(key).Delete(ctx, key)
}
