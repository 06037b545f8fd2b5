// Package codec serializes snapshots, bundles and diffs.
//
// Three formats are supported: indented JSON, YAML, and a binary envelope
// holding snappy-compressed JSON behind a CRC32 checksum. All three
// preserve node, edge and metadata content exactly, so a decoded snapshot
// hashes to the same value as the one encoded.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dd0wney/cluso-dagvc/pkg/diff"
	"github.com/dd0wney/cluso-dagvc/pkg/graph"
)

// Format is a serialization format.
type Format string

const (
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
	FormatEnvelope Format = "envelope"
)

// EnvelopeExt is the file extension of envelope files.
const EnvelopeExt = ".dagv"

var (
	ErrUnknownFormat = errors.New("unknown format")
	ErrUnsupported   = errors.New("unsupported value type")
)

// ParseFormat resolves a format name.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(name) {
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "envelope", "dagv", "binary":
		return FormatEnvelope, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, name)
}

// FormatFromPath picks a format from a file extension. Unknown extensions
// are treated as JSON.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case EnvelopeExt:
		return FormatEnvelope
	}
	return FormatJSON
}

// Marshal encodes a *graph.Snapshot, *graph.Bundle or diff.Diff.
func Marshal(f Format, v any) ([]byte, error) {
	switch f {
	case FormatJSON:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshal json: %w", err)
		}
		return append(data, '\n'), nil
	case FormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return nil, fmt.Errorf("marshal yaml: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("marshal yaml: %w", err)
		}
		return buf.Bytes(), nil
	case FormatEnvelope:
		kind, err := kindOf(v)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal envelope: %w", err)
		}
		return Seal(kind, data), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, f)
}

// Unmarshal decodes data into v, which must be a pointer to one of the
// types Marshal accepts.
func Unmarshal(f Format, data []byte, v any) error {
	switch f {
	case FormatJSON:
		if err := unmarshalJSON(data, v); err != nil {
			return fmt.Errorf("unmarshal json: %w", err)
		}
		return nil
	case FormatYAML:
		if err := yaml.Unmarshal(data, v); err != nil {
			return fmt.Errorf("unmarshal yaml: %w", err)
		}
		return nil
	case FormatEnvelope:
		want, err := kindOf(v)
		if err != nil {
			return err
		}
		kind, payload, err := Open(data)
		if err != nil {
			return err
		}
		if kind != want {
			return fmt.Errorf("%w: envelope holds a %s, want a %s", ErrKindMismatch, kind, want)
		}
		if err := unmarshalJSON(payload, v); err != nil {
			return fmt.Errorf("unmarshal envelope: %w", err)
		}
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownFormat, f)
}

func kindOf(v any) (Kind, error) {
	switch v.(type) {
	case *graph.Snapshot, **graph.Snapshot, graph.Snapshot:
		return KindSnapshot, nil
	case *graph.Bundle, **graph.Bundle, graph.Bundle:
		return KindBundle, nil
	case *diff.Diff, diff.Diff:
		return KindDiff, nil
	}
	return 0, fmt.Errorf("%w: %T", ErrUnsupported, v)
}

// EncodeSnapshot encodes a snapshot.
func EncodeSnapshot(f Format, s *graph.Snapshot) ([]byte, error) {
	if s == nil {
		return nil, graph.ErrNilSnapshot
	}
	return Marshal(f, s)
}

// DecodeSnapshot decodes a snapshot.
func DecodeSnapshot(f Format, data []byte) (*graph.Snapshot, error) {
	var s graph.Snapshot
	if err := Unmarshal(f, data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// EncodeBundle encodes a bundle.
func EncodeBundle(f Format, b *graph.Bundle) ([]byte, error) {
	if b == nil {
		return nil, fmt.Errorf("%w: nil bundle", ErrUnsupported)
	}
	return Marshal(f, b)
}

// DecodeBundle decodes a bundle.
func DecodeBundle(f Format, data []byte) (*graph.Bundle, error) {
	var b graph.Bundle
	if err := Unmarshal(f, data, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// EncodeDiff encodes a diff.
func EncodeDiff(f Format, d diff.Diff) ([]byte, error) {
	return Marshal(f, d)
}

// DecodeDiff decodes a diff.
func DecodeDiff(f Format, data []byte) (diff.Diff, error) {
	var d diff.Diff
	if err := Unmarshal(f, data, &d); err != nil {
		return diff.Diff{}, err
	}
	return d, nil
}

// ReadSnapshotFile reads a snapshot, picking the format from the extension.
func ReadSnapshotFile(path string) (*graph.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s, err := DecodeSnapshot(FormatFromPath(path), data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// ReadDiffFile reads a diff, picking the format from the extension.
func ReadDiffFile(path string) (diff.Diff, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return diff.Diff{}, err
	}
	d, err := DecodeDiff(FormatFromPath(path), data)
	if err != nil {
		return diff.Diff{}, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}

// WriteFile encodes v and writes it to path, picking the format from the
// extension.
func WriteFile(path string, v any) error {
	data, err := Marshal(FormatFromPath(path), v)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
