package metadata

import (
	"debug/pe"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/flatbed/pescan/pkg/identity"
)

const (
	// comDescriptorEntry is IMAGE_DIRECTORY_ENTRY_COM_DESCRIPTOR
	comDescriptorEntry = 14

	// cliHeaderSize is sizeof(IMAGE_COR20_HEADER)
	cliHeaderSize = 72
)

// Open reads the metadata of the image at path. Files that are not managed
// images fail with an error matching ErrNotImage or ErrNoMetadata; anything
// else is a *FormatError or an I/O error.
func Open(path string) (*Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return Load(f)
}

// Load reads the metadata of an image from r
func Load(r io.ReaderAt) (*Metadata, error) {
	raw, err := readCLIMetadata(r)
	if err != nil {
		return nil, err
	}
	root, err := parseRoot(raw)
	if err != nil {
		return nil, err
	}
	return newMetadata(root)
}

// ReadIdentity reads only the image's own identity: the container headers,
// the metadata root, the table stream header and the Assembly row.
func ReadIdentity(path string) (identity.Identity, error) {
	md, err := Open(path)
	if err != nil {
		return identity.Identity{}, err
	}
	row, ok, err := md.Assembly()
	if err != nil {
		return identity.Identity{}, err
	}
	if !ok {
		return identity.Identity{}, ErrNoManifest
	}
	return row.Identity(), nil
}

// readCLIMetadata locates the metadata root through the PE data directories
func readCLIMetadata(r io.ReaderAt) ([]byte, error) {
	var magic [2]byte
	if _, err := r.ReadAt(magic[:], 0); err != nil || magic != [2]byte{'M', 'Z'} {
		return nil, ErrNotImage
	}

	f, err := pe.NewFile(anyMachine(r))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotImage, err)
	}

	dir, ok := comDescriptor(f)
	if !ok {
		return nil, ErrNoMetadata
	}

	size := dir.Size
	if size < cliHeaderSize {
		size = cliHeaderSize
	}
	header, err := readRVA(f, dir.VirtualAddress, size)
	if err != nil {
		return nil, &FormatError{Op: "read CLI header", Err: err}
	}

	mdRVA := binary.LittleEndian.Uint32(header[8:])
	mdSize := binary.LittleEndian.Uint32(header[12:])
	if mdRVA == 0 || mdSize == 0 {
		return nil, formatErr("read CLI header", "no metadata directory")
	}

	data, err := readRVA(f, mdRVA, mdSize)
	if err != nil {
		return nil, &FormatError{Op: "read metadata", Err: err}
	}
	return data, nil
}

// dosLfanew is the offset of e_lfanew, the file offset of the PE signature
const dosLfanew = 0x3c

// machineI386 is IMAGE_FILE_MACHINE_I386 in file byte order
var machineI386 = [2]byte{0x4c, 0x01}

// machineReader reports the COFF machine field as I386. debug/pe rejects
// machine values it does not know, and ReadyToRun images carry OS specific
// ones (0xFD1D for linux-x64). CLI metadata does not depend on the machine.
type machineReader struct {
	r   io.ReaderAt
	off int64
}

func anyMachine(r io.ReaderAt) io.ReaderAt {
	var lfanew [4]byte
	if _, err := r.ReadAt(lfanew[:], dosLfanew); err != nil {
		return r
	}
	// machine follows the 4 byte PE signature
	return &machineReader{r: r, off: int64(binary.LittleEndian.Uint32(lfanew[:])) + 4}
}

func (m *machineReader) ReadAt(p []byte, off int64) (int, error) {
	n, err := m.r.ReadAt(p, off)
	for i, b := range machineI386 {
		if pos := m.off + int64(i) - off; pos >= 0 && pos < int64(n) {
			p[pos] = b
		}
	}
	return n, err
}

func comDescriptor(f *pe.File) (pe.DataDirectory, bool) {
	var (
		count uint32
		dirs  [16]pe.DataDirectory
	)
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		count, dirs = oh.NumberOfRvaAndSizes, oh.DataDirectory
	case *pe.OptionalHeader64:
		count, dirs = oh.NumberOfRvaAndSizes, oh.DataDirectory
	default:
		return pe.DataDirectory{}, false
	}
	if count <= comDescriptorEntry {
		return pe.DataDirectory{}, false
	}
	dir := dirs[comDescriptorEntry]
	if dir.VirtualAddress == 0 || dir.Size == 0 {
		return pe.DataDirectory{}, false
	}
	return dir, true
}

// readRVA reads size bytes at a relative virtual address from the raw data
// of the section that maps it
func readRVA(f *pe.File, rva, size uint32) ([]byte, error) {
	for _, s := range f.Sections {
		extent := s.VirtualSize
		if s.Size > extent {
			extent = s.Size
		}
		if rva < s.VirtualAddress || uint64(rva) >= uint64(s.VirtualAddress)+uint64(extent) {
			continue
		}

		offset := uint64(rva - s.VirtualAddress)
		if offset+uint64(size) > uint64(s.Size) {
			return nil, fmt.Errorf("rva 0x%x+%d exceeds raw data of section %s", rva, size, s.Name)
		}
		buf := make([]byte, size)
		if _, err := s.ReadAt(buf, int64(offset)); err != nil {
			return nil, fmt.Errorf("section %s: %w", s.Name, err)
		}
		return buf, nil
	}
	return nil, fmt.Errorf("rva 0x%x is not mapped by any section", rva)
}
