// Package hasher computes the integrity hash of snapshots and bundles.
//
// Hash values are self-describing strings of the form "<algorithm>:<hex>"
// so a stored snapshot can always be re-verified with the algorithm it was
// stamped with, even after the deployment default changes.
package hasher

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/dd0wney/cluso-dagvc/pkg/graph"
	"golang.org/x/crypto/blake2b"
)

// Algorithm names a supported 256-bit digest.
type Algorithm string

const (
	SHA256     Algorithm = "sha256"
	BLAKE2b256 Algorithm = "blake2b-256"
)

var (
	ErrUnknownAlgorithm = errors.New("unknown hash algorithm")
	ErrMalformedHash    = errors.New("malformed hash value")
	ErrNilBundle        = errors.New("bundle is nil")
)

// Algorithms lists every supported algorithm.
func Algorithms() []Algorithm {
	return []Algorithm{SHA256, BLAKE2b256}
}

func (a Algorithm) IsValid() bool {
	return a == SHA256 || a == BLAKE2b256
}

// Hasher produces hash values with one algorithm.
type Hasher struct {
	alg Algorithm
}

// New returns a hasher for the given algorithm.
func New(alg Algorithm) (*Hasher, error) {
	if !alg.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, alg)
	}
	return &Hasher{alg: alg}, nil
}

// Default returns a SHA-256 hasher.
func Default() *Hasher {
	return &Hasher{alg: SHA256}
}

// Algorithm returns the algorithm this hasher stamps.
func (h *Hasher) Algorithm() Algorithm {
	return h.alg
}

// Sum hashes raw canonical bytes.
func (h *Hasher) Sum(data []byte) string {
	return sum(h.alg, data)
}

func sum(alg Algorithm, data []byte) string {
	var digest [32]byte
	switch alg {
	case BLAKE2b256:
		digest = blake2b.Sum256(data)
	default:
		digest = sha256.Sum256(data)
	}
	return string(alg) + ":" + hex.EncodeToString(digest[:])
}

// HashSnapshot returns the content hash of a snapshot.
func (h *Hasher) HashSnapshot(s *graph.Snapshot) (string, error) {
	data, err := Canonicalize(s)
	if err != nil {
		return "", err
	}
	return h.Sum(data), nil
}

// HashBundle returns the hash of a bundle. The snapshot part is recomputed
// from content, never taken from the snapshot's stamped hash.
func (h *Hasher) HashBundle(b *graph.Bundle) (string, error) {
	if b == nil {
		return "", ErrNilBundle
	}
	snapHash, err := h.HashSnapshot(b.Snapshot)
	if err != nil {
		return "", err
	}
	data, err := canonicalizeBundle(b, snapHash)
	if err != nil {
		return "", err
	}
	return h.Sum(data), nil
}

// ParseHash splits a hash value into algorithm and hex digest.
func ParseHash(value string) (Algorithm, string, error) {
	alg, digest, ok := strings.Cut(value, ":")
	if !ok || digest == "" {
		return "", "", fmt.Errorf("%w: %q", ErrMalformedHash, value)
	}
	if !Algorithm(alg).IsValid() {
		return "", "", fmt.Errorf("%w: %q", ErrUnknownAlgorithm, alg)
	}
	if len(digest) != 64 {
		return "", "", fmt.Errorf("%w: digest length %d", ErrMalformedHash, len(digest))
	}
	if _, err := hex.DecodeString(digest); err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrMalformedHash, err)
	}
	return Algorithm(alg), digest, nil
}

// VerifySnapshot recomputes the hash of s with the algorithm named by its
// stamped IntegrityHash and reports whether they match. The recomputed value
// is returned either way.
func VerifySnapshot(s *graph.Snapshot) (bool, string, error) {
	if s == nil {
		return false, "", graph.ErrNilSnapshot
	}
	alg, _, err := ParseHash(s.IntegrityHash)
	if err != nil {
		return false, "", err
	}
	data, err := Canonicalize(s)
	if err != nil {
		return false, "", err
	}
	computed := sum(alg, data)
	return computed == s.IntegrityHash, computed, nil
}

// VerifyBundle is VerifySnapshot for bundles.
func VerifyBundle(b *graph.Bundle) (bool, string, error) {
	if b == nil {
		return false, "", ErrNilBundle
	}
	alg, _, err := ParseHash(b.IntegrityHash)
	if err != nil {
		return false, "", err
	}
	computed, err := (&Hasher{alg: alg}).HashBundle(b)
	if err != nil {
		return false, "", err
	}
	return computed == b.IntegrityHash, computed, nil
}
