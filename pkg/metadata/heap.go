package metadata

import "bytes"

// stringHeap is the #Strings heap: NUL terminated UTF-8 strings
type stringHeap []byte

func (h stringHeap) get(index uint32) (string, error) {
	if index == 0 {
		return "", nil
	}
	if uint64(index) >= uint64(len(h)) {
		return "", formatErr("read #Strings heap", "index %d out of range (heap size %d)", index, len(h))
	}
	end := bytes.IndexByte(h[index:], 0)
	if end < 0 {
		return "", formatErr("read #Strings heap", "string at %d is not terminated", index)
	}
	return string(h[index : index+uint32(end)]), nil
}

// blobHeap is the #Blob heap: length-prefixed byte sequences
type blobHeap []byte

func (h blobHeap) get(index uint32) ([]byte, error) {
	if index == 0 {
		return nil, nil
	}
	if uint64(index) >= uint64(len(h)) {
		return nil, formatErr("read #Blob heap", "index %d out of range (heap size %d)", index, len(h))
	}

	length, n, err := decodeBlobLength(h[index:])
	if err != nil {
		return nil, &FormatError{Op: "read #Blob heap", Err: err}
	}
	start := uint64(index) + uint64(n)
	end := start + uint64(length)
	if end > uint64(len(h)) {
		return nil, formatErr("read #Blob heap", "blob at %d of length %d overruns heap", index, length)
	}
	out := make([]byte, length)
	copy(out, h[start:end])
	return out, nil
}

// decodeBlobLength decodes the compressed unsigned length prefix (ECMA-335 II.24.2.4)
func decodeBlobLength(b []byte) (length uint32, size int, err error) {
	if len(b) == 0 {
		return 0, 0, errTruncated
	}
	switch {
	case b[0]&0x80 == 0:
		return uint32(b[0]), 1, nil
	case b[0]&0xC0 == 0x80:
		if len(b) < 2 {
			return 0, 0, errTruncated
		}
		return uint32(b[0]&0x3F)<<8 | uint32(b[1]), 2, nil
	case b[0]&0xE0 == 0xC0:
		if len(b) < 4 {
			return 0, 0, errTruncated
		}
		return uint32(b[0]&0x1F)<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), 4, nil
	default:
		return 0, 0, errBadLength
	}
}
