package vault

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"snapback/internal/snap"
)

// MemoryVault is an in-memory implementation of the Vault interface.
// It stores all archives in memory, making it useful for testing.
// This implementation is safe for concurrent use.
type MemoryVault struct {
	name     string
	archives map[string][]byte // key -> archive
	mu       sync.RWMutex
}

// NewMemoryVault creates a new in-memory vault with the given name.
func NewMemoryVault(name string) *MemoryVault {
	return &MemoryVault{
		name:     name,
		archives: make(map[string][]byte),
	}
}

func (m *MemoryVault) Name() string {
	return m.name
}

// HasArchive reports whether key has been stored.
func (m *MemoryVault) HasArchive(ctx context.Context, key string) (bool, error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.archives[key]
	return ok, nil
}

// PutArchive stores the archive read from r. Nothing is stored if reading fails.
func (m *MemoryVault) PutArchive(ctx context.Context, key string, r io.Reader) (int64, error) {
	if err := ValidateKey(key); err != nil {
		return 0, err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return 0, fmt.Errorf("failed to read archive: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.archives[key] = data
	return int64(len(data)), nil
}

// GetArchive writes the archive stored under key to w.
func (m *MemoryVault) GetArchive(ctx context.Context, key string, w io.Writer) error {
	m.mu.RLock()
	data, ok := m.archives[key]
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("archive not found: %s", key)
	}

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write archive: %w", err)
	}

	return nil
}

// Keys returns the stored keys in sorted order.
func (m *MemoryVault) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.archives))
	for k := range m.archives {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ValidateSetup always succeeds for in-memory vault.
func (m *MemoryVault) ValidateSetup(ctx context.Context) error {
	return nil
}

// Compile-time check that MemoryVault implements snap.Vault interface
var _ snap.Vault = (*MemoryVault)(nil)
