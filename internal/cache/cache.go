// Package cache keeps short-lived lookups, such as the latest connector
// version, on disk between runs.
package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
)

// Entry represents a cached value.
type Entry struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Manager handles cache operations.
type Manager struct {
	fs       afero.Fs
	cacheDir string
	ttl      time.Duration
	now      func() time.Time
}

// DefaultDir returns the user cache directory for the installer.
func DefaultDir() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "install-gcs-connector"), nil
}

// NewManager creates a new cache manager rooted at cacheDir.
func NewManager(fs afero.Fs, cacheDir string, ttl time.Duration) (*Manager, error) {
	if cacheDir == "" {
		dir, err := DefaultDir()
		if err != nil {
			return nil, err
		}
		cacheDir = dir
	}

	if err := fs.MkdirAll(cacheDir, 0755); err != nil {
		return nil, err
	}

	return &Manager{
		fs:       fs,
		cacheDir: cacheDir,
		ttl:      ttl,
		now:      time.Now,
	}, nil
}

func (m *Manager) path(key string) string {
	return filepath.Join(m.cacheDir, key+".json")
}

// Get retrieves a cached value if it exists and is not expired.
func (m *Manager) Get(key string) (string, bool) {
	data, err := afero.ReadFile(m.fs, m.path(key))
	if err != nil {
		return "", false
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return "", false
	}

	if m.now().After(entry.ExpiresAt) {
		return "", false
	}

	return entry.Value, true
}

// Set stores a value with the manager's TTL.
func (m *Manager) Set(key, value string) error {
	entry := Entry{
		Value:     value,
		ExpiresAt: m.now().Add(m.ttl),
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	return afero.WriteFile(m.fs, m.path(key), data, 0644)
}

// Clear removes a specific cache entry.
func (m *Manager) Clear(key string) error {
	return m.fs.Remove(m.path(key))
}

// ClearAll removes all cache entries.
func (m *Manager) ClearAll() error {
	entries, err := afero.ReadDir(m.fs, m.cacheDir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if filepath.Ext(entry.Name()) == ".json" {
			if err := m.fs.Remove(filepath.Join(m.cacheDir, entry.Name())); err != nil {
				return err
			}
		}
	}

	return nil
}
