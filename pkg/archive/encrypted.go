package archive

import (
	"context"
	"fmt"
)

// Sealer encrypts and authenticates archived objects.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

// EncryptedBackend seals every value before it reaches the wrapped
// backend. Keys stay in the clear so listing works unchanged.
type EncryptedBackend struct {
	Backend
	sealer Sealer
}

// NewEncryptedBackend wraps b so values are stored sealed by s.
func NewEncryptedBackend(b Backend, s Sealer) *EncryptedBackend {
	return &EncryptedBackend{Backend: b, sealer: s}
}

func (e *EncryptedBackend) Name() string { return e.Backend.Name() + "+sealed" }

// Unwrap returns the wrapped backend.
func (e *EncryptedBackend) Unwrap() Backend { return e.Backend }

func (e *EncryptedBackend) Put(ctx context.Context, key string, data []byte) error {
	sealed, err := e.sealer.Seal(data)
	if err != nil {
		return fmt.Errorf("failed to seal %s: %w", key, err)
	}
	return e.Backend.Put(ctx, key, sealed)
}

func (e *EncryptedBackend) Get(ctx context.Context, key string) ([]byte, error) {
	sealed, err := e.Backend.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	data, err := e.sealer.Open(sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", key, err)
	}
	return data, nil
}

// Ping forwards to the wrapped backend when it supports it.
func (e *EncryptedBackend) Ping(ctx context.Context) error {
	if p, ok := e.Backend.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	_, err := e.Backend.List(ctx, SnapshotPrefix)
	return err
}
