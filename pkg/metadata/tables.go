package metadata

import "encoding/binary"

// heap size flags in the table stream header
const (
	heapWideStrings = 0x01
	heapWideGUID    = 0x02
	heapWideBlob    = 0x04
	heapExtraData   = 0x40
)

// Metadata is the parsed metadata of one image. Rows are decoded on demand.
type Metadata struct {
	// RuntimeVersion is the version string from the metadata root (e.g. "v4.0.30319")
	RuntimeVersion string

	strings stringHeap
	blobs   blobHeap

	tables    []byte
	rows      [numTables]uint32
	offsets   [numTables]int
	rowSizes  [numTables]int
	colSizes  [numTables][]int
	wideIndex struct{ strings, guid, blob bool }
}

// newMetadata lays out the table stream (#~ or #-) against the heaps
func newMetadata(r *root) (*Metadata, error) {
	const op = "read table stream"

	stream, ok := r.streams["#~"]
	if !ok {
		stream, ok = r.streams["#-"]
	}
	if !ok {
		return nil, formatErr(op, "no #~ stream")
	}
	if len(stream) < 24 {
		return nil, &FormatError{Op: op, Err: errTruncated}
	}

	m := &Metadata{
		RuntimeVersion: r.version,
		strings:        stringHeap(r.streams["#Strings"]),
		blobs:          blobHeap(r.streams["#Blob"]),
	}

	heapSizes := stream[6]
	m.wideIndex.strings = heapSizes&heapWideStrings != 0
	m.wideIndex.guid = heapSizes&heapWideGUID != 0
	m.wideIndex.blob = heapSizes&heapWideBlob != 0

	valid := binary.LittleEndian.Uint64(stream[8:])
	pos := 24
	for id := 0; id < 64; id++ {
		if valid&(1<<uint(id)) == 0 {
			continue
		}
		if pos+4 > len(stream) {
			return nil, formatErr(op, "row counts truncated")
		}
		count := binary.LittleEndian.Uint32(stream[pos:])
		pos += 4
		// Unknown tables follow every known one, so they never shift a known offset
		if id < numTables {
			m.rows[id] = count
		}
	}
	if heapSizes&heapExtraData != 0 {
		pos += 4
	}

	m.layout()

	for id := TableID(0); id < numTables; id++ {
		size := uint64(m.rows[id]) * uint64(m.rowSizes[id])
		if uint64(pos)+size > uint64(len(stream)) {
			return nil, formatErr(op, "table %s (%d rows) overruns stream of size %d", id, m.rows[id], len(stream))
		}
		m.offsets[id] = pos
		pos += int(size)
	}
	m.tables = stream

	return m, nil
}

// layout computes the column and row widths from the row counts
func (m *Metadata) layout() {
	for id := TableID(0); id < numTables; id++ {
		cols := schema[id]
		sizes := make([]int, len(cols))
		total := 0
		for i, c := range cols {
			sizes[i] = m.columnSize(c)
			total += sizes[i]
		}
		m.colSizes[id] = sizes
		m.rowSizes[id] = total
	}
}

func (m *Metadata) columnSize(c column) int {
	switch c.kind {
	case colU16:
		return 2
	case colU32:
		return 4
	case colString:
		return wideOr(m.wideIndex.strings)
	case colGUID:
		return wideOr(m.wideIndex.guid)
	case colBlob:
		return wideOr(m.wideIndex.blob)
	case colIndex:
		return wideOr(m.rows[c.table] >= 1<<16)
	case colCoded:
		var most uint32
		for _, t := range c.coded.tables {
			if t != tableUnused && m.rows[t] > most {
				most = m.rows[t]
			}
		}
		return wideOr(uint64(most) >= 1<<(16-c.coded.bits))
	}
	return 0
}

func wideOr(wide bool) int {
	if wide {
		return 4
	}
	return 2
}

// RowCount returns the number of rows in a table
func (m *Metadata) RowCount(id TableID) int {
	if id >= numTables {
		return 0
	}
	return int(m.rows[id])
}

// row decodes the raw column values of a 1-based row
func (m *Metadata) row(id TableID, index uint32) ([]uint32, error) {
	if id >= numTables || index == 0 || index > m.rows[id] {
		return nil, formatErr("read "+id.String()+" table", "row %d out of range (%d rows)", index, m.RowCount(id))
	}

	pos := m.offsets[id] + int(index-1)*m.rowSizes[id]
	values := make([]uint32, len(m.colSizes[id]))
	for i, size := range m.colSizes[id] {
		if size == 2 {
			values[i] = uint32(binary.LittleEndian.Uint16(m.tables[pos:]))
		} else {
			values[i] = binary.LittleEndian.Uint32(m.tables[pos:])
		}
		pos += size
	}
	return values, nil
}

// CodedIndex is a decoded cross-table reference; Row 0 is a null reference
type CodedIndex struct {
	Table TableID
	Row   uint32
}

// IsNull reports whether the reference points nowhere
func (c CodedIndex) IsNull() bool {
	return c.Row == 0
}

func decodeCoded(kind *codedIndex, value uint32) (CodedIndex, error) {
	mask := uint32(1)<<kind.bits - 1
	tag := value & mask
	if int(tag) >= len(kind.tables) || kind.tables[tag] == tableUnused {
		return CodedIndex{}, formatErr("decode "+kind.name, "invalid tag %d", tag)
	}
	return CodedIndex{Table: kind.tables[tag], Row: value >> kind.bits}, nil
}
