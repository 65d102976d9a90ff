package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zalando/go-keyring"
)

const (
	// KeyringService is the service name for keyring storage
	KeyringService = "hnsync"
	// FallbackDir is the directory for file-based storage when no keyring is reachable
	FallbackDir = ".hnsync/secrets"
)

// envelope is what actually gets written, so expiry survives the backend
type envelope struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Keyring stores values in the OS keyring, falling back to 0600 files in
// environments without one (containers, CI).
type Keyring struct {
	service  string
	fileDir  string
	useFiles bool
	now      func() time.Time
}

// NewKeyring probes the OS keyring once and picks the backend
func NewKeyring(service string) (*Keyring, error) {
	if service == "" {
		service = KeyringService
	}
	k := &Keyring{service: service, now: time.Now}

	if os.Getenv("CODESPACES") != "" || os.Getenv("CI") != "" || !probeKeyring(service) {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to locate home directory: %w", err)
		}
		k.fileDir = filepath.Join(home, FallbackDir)
		k.useFiles = true
	}
	return k, nil
}

// NewFileKeyring forces the file backend rooted at dir
func NewFileKeyring(dir string) *Keyring {
	return &Keyring{service: KeyringService, fileDir: dir, useFiles: true, now: time.Now}
}

func probeKeyring(service string) bool {
	testKey := "_test_keyring_access_"
	if err := keyring.Set(service, testKey, "test"); err != nil {
		return false
	}
	_ = keyring.Delete(service, testKey)
	return true
}

// UsesFiles reports whether the file fallback is active
func (k *Keyring) UsesFiles() bool {
	return k.useFiles
}

func (k *Keyring) path(key string) (string, error) {
	if err := os.MkdirAll(k.fileDir, 0700); err != nil {
		return "", err
	}
	name := strings.NewReplacer(":", "_", "/", "_", "\\", "_", "..", "_").Replace(key)
	return filepath.Join(k.fileDir, name+".json"), nil
}

func (k *Keyring) Get(_ context.Context, key string) (string, bool, error) {
	if key == "" {
		return "", false, ErrEmptyKey
	}

	var data string
	if k.useFiles {
		path, err := k.path(key)
		if err != nil {
			return "", false, fmt.Errorf("failed to get secret path: %w", err)
		}
		raw, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		if err != nil {
			return "", false, fmt.Errorf("failed to read secret file: %w", err)
		}
		data = string(raw)
	} else {
		v, err := keyring.Get(k.service, key)
		if errors.Is(err, keyring.ErrNotFound) {
			return "", false, nil
		}
		if err != nil {
			return "", false, fmt.Errorf("failed to load from keyring: %w", err)
		}
		data = v
	}

	var env envelope
	if err := json.Unmarshal([]byte(data), &env); err != nil {
		return "", false, fmt.Errorf("failed to deserialize %s: %w", key, err)
	}
	if !env.ExpiresAt.IsZero() && k.now().After(env.ExpiresAt) {
		_ = k.Delete(context.Background(), key)
		return "", false, nil
	}
	return env.Value, true, nil
}

func (k *Keyring) Put(_ context.Context, key, value string, ttl time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}

	env := envelope{Value: value}
	if ttl > 0 {
		env.ExpiresAt = k.now().Add(ttl)
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to serialize %s: %w", key, err)
	}

	if k.useFiles {
		path, err := k.path(key)
		if err != nil {
			return fmt.Errorf("failed to get secret path: %w", err)
		}
		if err := os.WriteFile(path, data, 0600); err != nil {
			return fmt.Errorf("failed to save secret file: %w", err)
		}
		return nil
	}

	if err := keyring.Set(k.service, key, string(data)); err != nil {
		return fmt.Errorf("failed to save to keyring: %w", err)
	}
	return nil
}

func (k *Keyring) Delete(_ context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}

	if k.useFiles {
		path, err := k.path(key)
		if err != nil {
			return fmt.Errorf("failed to get secret path: %w", err)
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to delete secret file: %w", err)
		}
		return nil
	}

	if err := keyring.Delete(k.service, key); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete from keyring: %w", err)
	}
	return nil
}
