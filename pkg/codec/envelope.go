package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/golang/snappy"
)

// Kind identifies what an envelope holds.
type Kind uint8

const (
	KindSnapshot Kind = 1
	KindBundle   Kind = 2
	KindDiff     Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindSnapshot:
		return "snapshot"
	case KindBundle:
		return "bundle"
	case KindDiff:
		return "diff"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// envelopeVersion is bumped when the frame layout changes.
const envelopeVersion = 1

var magic = [4]byte{'D', 'A', 'G', 'V'}

// headerSize is magic(4) + version(1) + kind(1) + rawLen(4) + dataLen(4).
const headerSize = 14

var (
	ErrBadMagic         = errors.New("not an envelope")
	ErrBadVersion       = errors.New("unsupported envelope version")
	ErrTruncated        = errors.New("envelope truncated")
	ErrChecksumMismatch = errors.New("envelope checksum mismatch")
	ErrKindMismatch     = errors.New("envelope kind mismatch")
)

// Seal frames payload as
//
//	[Magic:4][Version:1][Kind:1][RawLen:4][DataLen:4][Data:N][Checksum:4]
//
// where Data is the snappy-compressed payload and Checksum is the CRC32
// (IEEE) of Data.
func Seal(kind Kind, payload []byte) []byte {
	compressed := snappy.Encode(nil, payload)

	out := make([]byte, headerSize, headerSize+len(compressed)+4)
	copy(out[0:4], magic[:])
	out[4] = envelopeVersion
	out[5] = byte(kind)
	binary.BigEndian.PutUint32(out[6:10], uint32(len(payload)))
	binary.BigEndian.PutUint32(out[10:14], uint32(len(compressed)))
	out = append(out, compressed...)
	return binary.BigEndian.AppendUint32(out, crc32.ChecksumIEEE(compressed))
}

// Open verifies an envelope and returns its kind and decompressed payload.
func Open(data []byte) (Kind, []byte, error) {
	if len(data) < headerSize+4 {
		return 0, nil, ErrTruncated
	}
	if [4]byte(data[0:4]) != magic {
		return 0, nil, ErrBadMagic
	}
	if data[4] != envelopeVersion {
		return 0, nil, fmt.Errorf("%w: %d", ErrBadVersion, data[4])
	}
	kind := Kind(data[5])
	rawLen := binary.BigEndian.Uint32(data[6:10])
	dataLen := binary.BigEndian.Uint32(data[10:14])

	if uint64(len(data)) != uint64(headerSize)+uint64(dataLen)+4 {
		return 0, nil, fmt.Errorf("%w: header declares %d bytes, frame has %d", ErrTruncated, dataLen, len(data)-headerSize-4)
	}
	compressed := data[headerSize : headerSize+int(dataLen)]
	checksum := binary.BigEndian.Uint32(data[headerSize+int(dataLen):])
	if crc32.ChecksumIEEE(compressed) != checksum {
		return 0, nil, ErrChecksumMismatch
	}

	payload, err := snappy.Decode(nil, compressed)
	if err != nil {
		return 0, nil, fmt.Errorf("decompress envelope: %w", err)
	}
	if uint32(len(payload)) != rawLen {
		return 0, nil, fmt.Errorf("%w: payload is %d bytes, header declares %d", ErrTruncated, len(payload), rawLen)
	}
	return kind, payload, nil
}

// IsEnvelope reports whether data starts with the envelope magic.
func IsEnvelope(data []byte) bool {
	return len(data) >= 4 && [4]byte(data[0:4]) == magic
}
