// Package snapshot encodes replica snapshots and turns a module plus snapshot into a ready
// replay engine.
package snapshot

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/golang/snappy"

	"github.com/dd0wney/cluso-subchain/pkg/replay"
	"github.com/dd0wney/cluso-subchain/pkg/state"
)

// Magic starts every snapshot blob
const Magic = "SUBCHAIN"

// FormatVersion is the current blob layout version
const FormatVersion uint16 = 1

// headerSize: magic + format version + abi version + position + digest + body length
const headerSize = len(Magic) + 2 + 4 + 8 + 32 + 4

// MaxBodySize bounds the compressed body
const MaxBodySize = 1 << 30

var (
	// ErrBadMagic means the blob is not a snapshot
	ErrBadMagic = errors.New("not a snapshot (bad magic)")

	// ErrChecksum means the body failed its CRC check
	ErrChecksum = errors.New("snapshot checksum mismatch")
)

// Snapshot is a replica state at a known position
type Snapshot struct {
	ABIVersion   uint32
	Position     uint64
	ModuleDigest replay.Digest // zero means not pinned to a module
	State        *state.Store
}

// Encode serializes a snapshot
func Encode(s Snapshot) ([]byte, error) {
	store := s.State
	if store == nil {
		store = state.New()
	}

	raw, err := store.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	body := snappy.Encode(nil, raw)
	if len(body) > MaxBodySize {
		return nil, fmt.Errorf("snapshot body too large: %d bytes", len(body))
	}

	var buf bytes.Buffer
	buf.Grow(headerSize + len(body) + 4)
	buf.WriteString(Magic)
	_ = binary.Write(&buf, binary.BigEndian, FormatVersion)
	_ = binary.Write(&buf, binary.BigEndian, s.ABIVersion)
	_ = binary.Write(&buf, binary.BigEndian, s.Position)
	buf.Write(s.ModuleDigest[:])
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(body)))
	buf.Write(body)
	_ = binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(body))

	return buf.Bytes(), nil
}

// Decode parses and verifies a snapshot blob
func Decode(data []byte) (*Snapshot, error) {
	if len(data) < headerSize+4 {
		return nil, fmt.Errorf("snapshot truncated: %d bytes", len(data))
	}
	if string(data[:len(Magic)]) != Magic {
		return nil, ErrBadMagic
	}

	off := len(Magic)
	version := binary.BigEndian.Uint16(data[off:])
	off += 2
	if version != FormatVersion {
		return nil, fmt.Errorf("unsupported snapshot format version %d", version)
	}

	s := &Snapshot{}
	s.ABIVersion = binary.BigEndian.Uint32(data[off:])
	off += 4
	s.Position = binary.BigEndian.Uint64(data[off:])
	off += 8
	copy(s.ModuleDigest[:], data[off:off+32])
	off += 32
	bodyLen := int(binary.BigEndian.Uint32(data[off:]))
	off += 4

	if bodyLen > MaxBodySize || len(data) != off+bodyLen+4 {
		return nil, fmt.Errorf("snapshot length mismatch: body %d, blob %d", bodyLen, len(data))
	}
	body := data[off : off+bodyLen]
	if crc32.ChecksumIEEE(body) != binary.BigEndian.Uint32(data[off+bodyLen:]) {
		return nil, ErrChecksum
	}

	raw, err := snappy.Decode(nil, body)
	if err != nil {
		return nil, fmt.Errorf("decompress snapshot body: %w", err)
	}

	s.State = state.New()
	if err := s.State.UnmarshalBinary(raw); err != nil {
		return nil, err
	}
	return s, nil
}
