package metadata

import (
	"bytes"
	"encoding/binary"
	"errors"
)

// metadataSignature is "BSJB" read as a little-endian uint32
const metadataSignature = 0x424A5342

var (
	errTruncated = errors.New("unexpected end of data")
	errBadLength = errors.New("invalid compressed length")
)

// root is the parsed metadata root with its streams
type root struct {
	version string
	streams map[string][]byte
}

// parseRoot parses the metadata root (ECMA-335 II.24.2.1) and stream headers
func parseRoot(data []byte) (*root, error) {
	const op = "read metadata root"

	if len(data) < 16 {
		return nil, &FormatError{Op: op, Err: errTruncated}
	}
	if sig := binary.LittleEndian.Uint32(data); sig != metadataSignature {
		return nil, formatErr(op, "bad signature 0x%08x", sig)
	}

	versionLen := uint64(binary.LittleEndian.Uint32(data[12:]))
	pos := 16 + versionLen
	if pos+4 > uint64(len(data)) {
		return nil, formatErr(op, "version string of length %d overruns metadata", versionLen)
	}
	version := data[16:pos]
	if i := bytes.IndexByte(version, 0); i >= 0 {
		version = version[:i]
	}
	pos = align4(pos)
	if pos+4 > uint64(len(data)) {
		return nil, &FormatError{Op: op, Err: errTruncated}
	}

	// Flags (u16) then stream count (u16)
	count := int(binary.LittleEndian.Uint16(data[pos+2:]))
	pos += 4

	r := &root{version: string(version), streams: make(map[string][]byte, count)}
	for i := 0; i < count; i++ {
		if pos+8 > uint64(len(data)) {
			return nil, formatErr(op, "stream header %d truncated", i)
		}
		offset := uint64(binary.LittleEndian.Uint32(data[pos:]))
		size := uint64(binary.LittleEndian.Uint32(data[pos+4:]))
		pos += 8

		nameEnd := bytes.IndexByte(data[pos:], 0)
		if nameEnd < 0 || nameEnd > 32 {
			return nil, formatErr(op, "stream header %d has an unterminated name", i)
		}
		name := string(data[pos : pos+uint64(nameEnd)])
		pos = align4(pos + uint64(nameEnd) + 1)

		if offset+size > uint64(len(data)) {
			return nil, formatErr(op, "stream %s (offset %d, size %d) overruns metadata of size %d", name, offset, size, len(data))
		}
		if _, dup := r.streams[name]; !dup {
			r.streams[name] = data[offset : offset+size]
		}
	}

	return r, nil
}

func align4(n uint64) uint64 {
	return (n + 3) &^ 3
}
