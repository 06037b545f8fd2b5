package encryption

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrKeyNotFound      = errors.New("key not found")
	ErrInvalidVersion   = errors.New("invalid key version")
	ErrKeyAlreadyExists = errors.New("key already exists")
	ErrNoActiveKey      = errors.New("no active key version")
	ErrInvalidHeader    = errors.New("invalid sealed object header")
)

// magic prefixes every sealed object.
var magic = []byte("DVE1")

// HeaderSize is the sealed object header: magic and big-endian key version.
const HeaderSize = 8

// Keyring holds versioned keys. Seal uses the active version; Open picks
// the version recorded in the object header.
type Keyring struct {
	mu      sync.RWMutex
	engines map[uint32]*Engine
	active  uint32
}

// NewKeyring returns an empty keyring.
func NewKeyring() *Keyring {
	return &Keyring{engines: make(map[uint32]*Engine)}
}

// Add registers key under version. The first key added becomes active.
func (k *Keyring) Add(version uint32, key []byte) error {
	if version == 0 {
		return ErrInvalidVersion
	}
	engine, err := NewEngine(key)
	if err != nil {
		return err
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if _, exists := k.engines[version]; exists {
		return fmt.Errorf("%w: version %d", ErrKeyAlreadyExists, version)
	}
	k.engines[version] = engine
	if k.active == 0 {
		k.active = version
	}
	return nil
}

// Activate makes version the key new objects are sealed with.
func (k *Keyring) Activate(version uint32) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.engines[version]; !ok {
		return fmt.Errorf("%w: version %d", ErrKeyNotFound, version)
	}
	k.active = version
	return nil
}

// ActiveVersion returns the active key version, or 0 when empty.
func (k *Keyring) ActiveVersion() uint32 {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.active
}

// Versions returns the registered versions, ascending.
func (k *Keyring) Versions() []uint32 {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]uint32, 0, len(k.engines))
	for v := range k.engines {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Seal encrypts plaintext under the active key. The header is
// authenticated, so an object cannot be relabelled to another version.
func (k *Keyring) Seal(plaintext []byte) ([]byte, error) {
	k.mu.RLock()
	version := k.active
	engine := k.engines[version]
	k.mu.RUnlock()
	if engine == nil {
		return nil, ErrNoActiveKey
	}

	header := make([]byte, HeaderSize)
	copy(header, magic)
	binary.BigEndian.PutUint32(header[len(magic):], version)

	ct, err := engine.Encrypt(plaintext, header)
	if err != nil {
		return nil, err
	}
	return append(header, ct...), nil
}

// Open decrypts an object produced by Seal.
func (k *Keyring) Open(sealed []byte) ([]byte, error) {
	version, err := SealedVersion(sealed)
	if err != nil {
		return nil, err
	}

	k.mu.RLock()
	engine := k.engines[version]
	k.mu.RUnlock()
	if engine == nil {
		return nil, fmt.Errorf("%w: version %d", ErrKeyNotFound, version)
	}
	return engine.Decrypt(sealed[HeaderSize:], sealed[:HeaderSize])
}

// SealedVersion returns the key version recorded in a sealed object.
func SealedVersion(sealed []byte) (uint32, error) {
	if len(sealed) < HeaderSize || !bytes.Equal(sealed[:len(magic)], magic) {
		return 0, ErrInvalidHeader
	}
	return binary.BigEndian.Uint32(sealed[len(magic):HeaderSize]), nil
}

// IsSealed reports whether data carries a sealed object header.
func IsSealed(data []byte) bool {
	_, err := SealedVersion(data)
	return err == nil
}
