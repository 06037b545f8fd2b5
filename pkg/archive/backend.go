// Package archive persists snapshots and bundles to durable keyed storage
// so a version store can be rebuilt after a restart.
//
// Backends store opaque byte values under slash-separated keys. The
// Archiver layers the codec envelope, per-call timeouts and metrics on top.
package archive

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	ErrNotFound   = errors.New("archive object not found")
	ErrInvalidKey = errors.New("invalid archive key")
	ErrClosed     = errors.New("archive backend closed")
)

// Key prefixes.
const (
	SnapshotPrefix = "snapshots/"
	BundlePrefix   = "bundles/"
)

// Backend is durable keyed storage.
type Backend interface {
	// Name identifies the backend in metrics and logs.
	Name() string
	Put(ctx context.Context, key string, data []byte) error
	// Get returns ErrNotFound when key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	// List returns every key with the prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
	// Delete returns ErrNotFound when key is absent.
	Delete(ctx context.Context, key string) error
	Close() error
}

// SnapshotKey returns the key a snapshot hash is stored under.
func SnapshotKey(hash string) string {
	return SnapshotPrefix + strings.ReplaceAll(hash, ":", "_")
}

// BundleKey returns the key a bundle id is stored under.
func BundleKey(id string) string {
	return BundlePrefix + id
}

// checkKey rejects keys that could escape a backend's namespace.
func checkKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return nil
}

// MemoryBackend keeps objects in memory.
type MemoryBackend struct {
	mu      sync.RWMutex
	objects map[string][]byte
	closed  bool
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{objects: make(map[string][]byte)}
}

func (m *MemoryBackend) Name() string { return "memory" }

func (m *MemoryBackend) Put(ctx context.Context, key string, data []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.objects[key] = append([]byte(nil), data...)
	return nil
}

func (m *MemoryBackend) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryBackend) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	keys := make([]string, 0)
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryBackend) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.objects[key]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	delete(m.objects, key)
	return nil
}

func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
