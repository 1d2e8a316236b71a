// Package metadatatest builds small managed PE images for tests.
//
// The images carry a real PE32 container with one .text section holding a
// CLI header and ECMA-335 metadata (#~, #Strings, #GUID and #Blob streams)
// describing an assembly, its references, type references, type definitions
// and interface implementations. No IL is emitted.
package metadatatest

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/flatbed/pescan/pkg/identity"
)

// Type flags used by tests
const (
	Public       uint32 = 0x00000001
	NotPublic    uint32 = 0x00000000
	NestedPublic uint32 = 0x00000002
	Interface    uint32 = 0x000000A0 // Interface | Abstract
	Abstract     uint32 = 0x00000080
	Sealed       uint32 = 0x00000100
)

// Reference is an AssemblyRef row
type Reference struct {
	Name    string
	Version identity.Version
	Culture string

	// Token is written as-is; PublicKey, when set, is written instead with the
	// full-key flag
	Token     []byte
	PublicKey []byte
}

// RefFromIdentity builds a reference from a fully specified identity string
func RefFromIdentity(s string) Reference {
	id := identity.MustParse(s)
	version, _ := id.Version()
	culture, _ := id.Culture()
	token, _ := id.PublicKeyToken()
	return Reference{Name: id.Name(), Version: version, Culture: culture, Token: token}
}

// TypeRef is a TypeRef row. Scope is a 1-based index into Image.References;
// zero scopes the reference to the image's own module.
type TypeRef struct {
	Scope     int
	Namespace string
	Name      string
}

// TypeDef is a TypeDef row following the implicit <Module> row.
// Extends and Implements are 1-based indexes into Image.TypeRefs.
type TypeDef struct {
	Namespace  string
	Name       string
	Flags      uint32
	Extends    int
	Implements []int
}

// Image describes the metadata of a test assembly
type Image struct {
	Name      string
	Version   identity.Version
	Culture   string
	PublicKey []byte

	// NoAssembly omits the Assembly row, producing a bare module
	NoAssembly bool

	// WideHeaps forces 4 byte heap indexes
	WideHeaps bool

	// Machine is the COFF machine field; zero means IMAGE_FILE_MACHINE_I386
	Machine uint16

	References []Reference
	TypeRefs   []TypeRef
	Types      []TypeDef

	// MutateTables may corrupt the #~ stream before it is embedded
	MutateTables func(stream []byte)
}

// New creates an image description with a default System.Runtime reference
// and System.Object / System.ValueType type references (TypeRefs 1 and 2)
func New(name string, version identity.Version) *Image {
	img := &Image{Name: name, Version: version}
	corlib := img.AddReference(Reference{
		Name:    "System.Runtime",
		Version: identity.NewVersion(8, 0, 0, 0),
		Token:   []byte{0xb0, 0x3f, 0x5f, 0x7f, 0x11, 0xd5, 0x0a, 0x3a},
	})
	img.AddTypeRef(corlib, "System", "Object")
	img.AddTypeRef(corlib, "System", "ValueType")
	return img
}

// ObjectRef and ValueTypeRef are the TypeRef indexes created by New
const (
	ObjectRef    = 1
	ValueTypeRef = 2
)

// AddReference appends an AssemblyRef and returns its 1-based index
func (img *Image) AddReference(ref Reference) int {
	img.References = append(img.References, ref)
	return len(img.References)
}

// AddTypeRef appends a TypeRef and returns its 1-based index
func (img *Image) AddTypeRef(scope int, namespace, name string) int {
	img.TypeRefs = append(img.TypeRefs, TypeRef{Scope: scope, Namespace: namespace, Name: name})
	return len(img.TypeRefs)
}

// AddType appends a TypeDef
func (img *Image) AddType(fullName string, flags uint32, extends int, implements ...int) {
	namespace, name := splitName(fullName)
	img.Types = append(img.Types, TypeDef{
		Namespace:  namespace,
		Name:       name,
		Flags:      flags,
		Extends:    extends,
		Implements: implements,
	})
}

// NewPlugin builds an image whose public classes implement markerInterface
// declared by the component markerComponent
func NewPlugin(name, markerComponent, markerInterface string, classes ...string) *Image {
	img := New(name, identity.NewVersion(1, 0, 0, 0))
	contract := img.AddReference(RefFromIdentity(markerComponent))
	ns, n := splitName(markerInterface)
	iface := img.AddTypeRef(contract, ns, n)
	for _, class := range classes {
		img.AddType(class, Public, ObjectRef, iface)
	}
	return img
}

// Identity returns the canonical identity the image will report
func (img *Image) Identity() identity.Identity {
	return identity.New(img.Name, img.Version, img.Culture, identity.TokenFromPublicKey(img.PublicKey))
}

// WriteFile writes the image to path
func (img *Image) WriteFile(path string) error {
	data, err := img.Bytes()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func splitName(fullName string) (string, string) {
	if i := strings.LastIndex(fullName, "."); i >= 0 {
		return fullName[:i], fullName[i+1:]
	}
	return "", fullName
}

// Bytes encodes the image as a PE32 file
func (img *Image) Bytes() ([]byte, error) {
	md, err := img.metadata()
	if err != nil {
		return nil, err
	}
	machine := img.Machine
	if machine == 0 {
		machine = pe.IMAGE_FILE_MACHINE_I386
	}
	return container(md, machine), nil
}

const (
	sectionRVA    = 0x2000
	fileAlignment = 0x200
	cliHeaderSize = 72
)

func container(md []byte, machine uint16) []byte {
	var text bytes.Buffer
	cli := make([]byte, cliHeaderSize)
	binary.LittleEndian.PutUint32(cli[0:], cliHeaderSize)
	binary.LittleEndian.PutUint16(cli[4:], 2)
	binary.LittleEndian.PutUint16(cli[6:], 5)
	binary.LittleEndian.PutUint32(cli[8:], sectionRVA+cliHeaderSize)
	binary.LittleEndian.PutUint32(cli[12:], uint32(len(md)))
	binary.LittleEndian.PutUint32(cli[16:], 1) // ILONLY
	text.Write(cli)
	text.Write(md)

	rawSize := align(uint32(text.Len()), fileAlignment)

	var out bytes.Buffer
	dos := make([]byte, 0x80)
	dos[0], dos[1] = 'M', 'Z'
	binary.LittleEndian.PutUint32(dos[0x3c:], 0x80)
	out.Write(dos)
	out.WriteString("PE\x00\x00")

	fh := pe.FileHeader{
		Machine:              machine,
		NumberOfSections:     1,
		SizeOfOptionalHeader: uint16(binary.Size(pe.OptionalHeader32{})),
		Characteristics:      0x2102,
	}
	oh := pe.OptionalHeader32{
		Magic:                       0x10b,
		MajorLinkerVersion:          8,
		SizeOfCode:                  rawSize,
		BaseOfCode:                  sectionRVA,
		ImageBase:                   0x10000000,
		SectionAlignment:            sectionRVA,
		FileAlignment:               fileAlignment,
		MajorOperatingSystemVersion: 4,
		MajorSubsystemVersion:       4,
		SizeOfImage:                 sectionRVA + align(uint32(text.Len()), sectionRVA),
		SizeOfHeaders:               fileAlignment,
		Subsystem:                   3,
		DllCharacteristics:          0x8540,
		SizeOfStackReserve:          0x100000,
		SizeOfStackCommit:           0x1000,
		SizeOfHeapReserve:           0x100000,
		SizeOfHeapCommit:            0x1000,
		NumberOfRvaAndSizes:         16,
	}
	oh.DataDirectory[14] = pe.DataDirectory{VirtualAddress: sectionRVA, Size: cliHeaderSize}

	sh := pe.SectionHeader32{
		VirtualSize:      uint32(text.Len()),
		VirtualAddress:   sectionRVA,
		SizeOfRawData:    rawSize,
		PointerToRawData: fileAlignment,
		Characteristics:  0x60000020,
	}
	copy(sh.Name[:], ".text")

	binary.Write(&out, binary.LittleEndian, fh)
	binary.Write(&out, binary.LittleEndian, oh)
	binary.Write(&out, binary.LittleEndian, sh)
	out.Write(make([]byte, fileAlignment-out.Len()))

	out.Write(text.Bytes())
	out.Write(make([]byte, int(rawSize)-text.Len()))
	return out.Bytes()
}

func align(n, to uint32) uint32 {
	return (n + to - 1) &^ (to - 1)
}

// heaps accumulates #Strings and #Blob content
type heaps struct {
	strings bytes.Buffer
	offsets map[string]uint32
	blobs   bytes.Buffer
}

func newHeaps() *heaps {
	h := &heaps{offsets: map[string]uint32{}}
	h.strings.WriteByte(0)
	h.blobs.WriteByte(0)
	return h
}

func (h *heaps) str(s string) uint32 {
	if s == "" {
		return 0
	}
	if off, ok := h.offsets[s]; ok {
		return off
	}
	off := uint32(h.strings.Len())
	h.strings.WriteString(s)
	h.strings.WriteByte(0)
	h.offsets[s] = off
	return off
}

func (h *heaps) blob(b []byte) uint32 {
	if len(b) == 0 {
		return 0
	}
	off := uint32(h.blobs.Len())
	switch n := len(b); {
	case n < 0x80:
		h.blobs.WriteByte(byte(n))
	case n < 0x4000:
		h.blobs.Write([]byte{byte(n>>8) | 0x80, byte(n)})
	default:
		h.blobs.Write([]byte{byte(n>>24) | 0xC0, byte(n >> 16), byte(n >> 8), byte(n)})
	}
	h.blobs.Write(b)
	return off
}

// table ids used by the builder
const (
	tModule        = 0x00
	tTypeRef       = 0x01
	tTypeDef       = 0x02
	tInterfaceImpl = 0x09
	tAssembly      = 0x20
	tAssemblyRef   = 0x23
)

// rowWriter writes little-endian columns of one table
type rowWriter struct {
	buf      bytes.Buffer
	wideHeap bool
}

func (w *rowWriter) u16(v uint32) { binary.Write(&w.buf, binary.LittleEndian, uint16(v)) }
func (w *rowWriter) u32(v uint32) { binary.Write(&w.buf, binary.LittleEndian, v) }

func (w *rowWriter) heap(v uint32) {
	if w.wideHeap {
		w.u32(v)
	} else {
		w.u16(v)
	}
}

func (img *Image) metadata() ([]byte, error) {
	if len(img.TypeRefs) >= 1<<14 || len(img.Types)+1 >= 1<<14 || len(img.References) >= 1<<14 {
		return nil, fmt.Errorf("metadatatest: tables too large for narrow indexes")
	}
	for i, tr := range img.TypeRefs {
		if tr.Scope < 0 || tr.Scope > len(img.References) {
			return nil, fmt.Errorf("metadatatest: type ref %d has scope %d out of range", i+1, tr.Scope)
		}
	}

	h := newHeaps()
	tables := map[int]*rowWriter{}
	rows := map[int]int{}
	writer := func(id int) *rowWriter {
		if tables[id] == nil {
			tables[id] = &rowWriter{wideHeap: img.WideHeaps}
		}
		rows[id]++
		return tables[id]
	}

	// Module
	w := writer(tModule)
	w.u16(0)
	w.heap(h.str(img.Name + ".dll"))
	w.heap(1)
	w.heap(0)
	w.heap(0)

	for _, tr := range img.TypeRefs {
		w := writer(tTypeRef)
		if tr.Scope == 0 {
			w.u16(1<<2 | 0) // Module row 1
		} else {
			w.u16(uint32(tr.Scope)<<2 | 2)
		}
		w.heap(h.str(tr.Name))
		w.heap(h.str(tr.Namespace))
	}

	// <Module> pseudo type is TypeDef row 1
	w = writer(tTypeDef)
	w.u32(0)
	w.heap(h.str("<Module>"))
	w.heap(0)
	w.u16(0)
	w.u16(1)
	w.u16(1)

	type impl struct{ class, iface uint32 }
	var impls []impl
	for i, td := range img.Types {
		w := writer(tTypeDef)
		w.u32(td.Flags)
		w.heap(h.str(td.Name))
		w.heap(h.str(td.Namespace))
		if td.Extends > 0 {
			w.u16(uint32(td.Extends)<<2 | 1)
		} else {
			w.u16(0)
		}
		w.u16(1)
		w.u16(1)
		for _, ref := range td.Implements {
			impls = append(impls, impl{class: uint32(i + 2), iface: uint32(ref)<<2 | 1})
		}
	}
	sort.SliceStable(impls, func(a, b int) bool { return impls[a].class < impls[b].class })
	for _, im := range impls {
		w := writer(tInterfaceImpl)
		w.u16(im.class)
		w.u16(im.iface)
	}

	if !img.NoAssembly {
		w := writer(tAssembly)
		w.u32(0x8004)
		writeVersion(w, img.Version)
		var flags uint32
		if len(img.PublicKey) > 0 {
			flags = 1
		}
		w.u32(flags)
		w.heap(h.blob(img.PublicKey))
		w.heap(h.str(img.Name))
		w.heap(h.str(img.Culture))
	}

	for _, ref := range img.References {
		w := writer(tAssemblyRef)
		writeVersion(w, ref.Version)
		key, flags := ref.Token, uint32(0)
		if len(ref.PublicKey) > 0 {
			key, flags = ref.PublicKey, 1
		}
		w.u32(flags)
		w.heap(h.blob(key))
		w.heap(h.str(ref.Name))
		w.heap(h.str(ref.Culture))
		w.heap(0)
	}

	// #~ stream
	var ts bytes.Buffer
	var heapSizes byte
	if img.WideHeaps {
		heapSizes = 0x07
	}
	var valid uint64
	ids := make([]int, 0, len(tables))
	for id := range tables {
		ids = append(ids, id)
		valid |= 1 << uint(id)
	}
	sort.Ints(ids)
	binary.Write(&ts, binary.LittleEndian, uint32(0))
	ts.Write([]byte{2, 0, heapSizes, 1})
	binary.Write(&ts, binary.LittleEndian, valid)
	binary.Write(&ts, binary.LittleEndian, uint64(0))
	for _, id := range ids {
		binary.Write(&ts, binary.LittleEndian, uint32(rows[id]))
	}
	for _, id := range ids {
		ts.Write(tables[id].buf.Bytes())
	}
	tablesStream := padded(ts.Bytes())
	if img.MutateTables != nil {
		img.MutateTables(tablesStream)
	}

	guids := make([]byte, 16)
	copy(guids, img.Name)

	return metadataRoot([]stream{
		{"#~", tablesStream},
		{"#Strings", padded(h.strings.Bytes())},
		{"#GUID", guids},
		{"#Blob", padded(h.blobs.Bytes())},
	}), nil
}

func writeVersion(w *rowWriter, v identity.Version) {
	w.u16(uint32(v.Major))
	w.u16(uint32(v.Minor))
	w.u16(uint32(v.Build))
	w.u16(uint32(v.Revision))
}

type stream struct {
	name string
	data []byte
}

func metadataRoot(streams []stream) []byte {
	version := padded([]byte("v4.0.30319\x00"))

	headerSize := 16 + len(version) + 4
	for _, s := range streams {
		headerSize += 8 + len(padded([]byte(s.name+"\x00")))
	}

	var out bytes.Buffer
	binary.Write(&out, binary.LittleEndian, uint32(0x424A5342))
	binary.Write(&out, binary.LittleEndian, uint16(1))
	binary.Write(&out, binary.LittleEndian, uint16(1))
	binary.Write(&out, binary.LittleEndian, uint32(0))
	binary.Write(&out, binary.LittleEndian, uint32(len(version)))
	out.Write(version)
	binary.Write(&out, binary.LittleEndian, uint16(0))
	binary.Write(&out, binary.LittleEndian, uint16(len(streams)))

	offset := headerSize
	for _, s := range streams {
		binary.Write(&out, binary.LittleEndian, uint32(offset))
		binary.Write(&out, binary.LittleEndian, uint32(len(s.data)))
		out.Write(padded([]byte(s.name + "\x00")))
		offset += len(s.data)
	}
	for _, s := range streams {
		out.Write(s.data)
	}
	return out.Bytes()
}

func padded(b []byte) []byte {
	n := int(align(uint32(len(b)), 4))
	out := make([]byte, n)
	copy(out, b)
	return out
}
