package metadata

import (
	"github.com/flatbed/pescan/pkg/identity"
)

// TypeAttributes are the TypeDef flags (ECMA-335 II.23.1.15)
type TypeAttributes uint32

const (
	TypeVisibilityMask    TypeAttributes = 0x00000007
	TypeNotPublic         TypeAttributes = 0x00000000
	TypePublic            TypeAttributes = 0x00000001
	TypeNestedPublic      TypeAttributes = 0x00000002
	TypeClassSemanticMask TypeAttributes = 0x00000020
	TypeInterface         TypeAttributes = 0x00000020
	TypeAbstract          TypeAttributes = 0x00000080
	TypeSealed            TypeAttributes = 0x00000100
)

// Visibility returns the visibility bits
func (a TypeAttributes) Visibility() TypeAttributes { return a & TypeVisibilityMask }

// IsInterface reports whether the class semantics bit says interface
func (a TypeAttributes) IsInterface() bool { return a&TypeClassSemanticMask == TypeInterface }

// IsAbstract reports the abstract bit
func (a TypeAttributes) IsAbstract() bool { return a&TypeAbstract != 0 }

// assemblyRefPublicKey is set when AssemblyRef.PublicKeyOrToken holds a full key
const assemblyRefPublicKey = 0x0001

// ModuleRow is the single row of the Module table
type ModuleRow struct {
	Name string
}

// TypeRefRow references a type defined in another scope
type TypeRefRow struct {
	Index           uint32
	ResolutionScope CodedIndex
	Name            string
	Namespace       string
}

// FullName returns Namespace.Name, or Name for the global namespace
func (r TypeRefRow) FullName() string {
	return fullName(r.Namespace, r.Name)
}

// TypeDefRow is a type defined in this module
type TypeDefRow struct {
	Index     uint32
	Flags     TypeAttributes
	Name      string
	Namespace string
	Extends   CodedIndex
}

// FullName returns Namespace.Name, or Name for the global namespace
func (r TypeDefRow) FullName() string {
	return fullName(r.Namespace, r.Name)
}

// InterfaceImplRow records that Class implements Interface
type InterfaceImplRow struct {
	Index     uint32
	Class     uint32
	Interface CodedIndex
}

// AssemblyRow is the manifest of the image itself
type AssemblyRow struct {
	HashAlgID uint32
	Version   identity.Version
	Flags     uint32
	PublicKey []byte
	Name      string
	Culture   string
}

// Identity returns the canonical identity of the assembly
func (r AssemblyRow) Identity() identity.Identity {
	return identity.New(r.Name, r.Version, r.Culture, identity.TokenFromPublicKey(r.PublicKey))
}

// AssemblyRefRow references another assembly
type AssemblyRefRow struct {
	Index            uint32
	Version          identity.Version
	Flags            uint32
	PublicKeyOrToken []byte
	Name             string
	Culture          string
	HashValue        []byte
}

// Identity returns the canonical identity of the referenced assembly
func (r AssemblyRefRow) Identity() identity.Identity {
	token := r.PublicKeyOrToken
	if r.Flags&assemblyRefPublicKey != 0 {
		token = identity.TokenFromPublicKey(token)
	}
	return identity.New(r.Name, r.Version, r.Culture, token)
}

func fullName(namespace, name string) string {
	if namespace == "" {
		return name
	}
	return namespace + "." + name
}

// Module returns the Module row
func (m *Metadata) Module() (ModuleRow, error) {
	v, err := m.row(TableModule, 1)
	if err != nil {
		return ModuleRow{}, err
	}
	name, err := m.strings.get(v[1])
	if err != nil {
		return ModuleRow{}, err
	}
	return ModuleRow{Name: name}, nil
}

// TypeRef returns a 1-based TypeRef row
func (m *Metadata) TypeRef(index uint32) (TypeRefRow, error) {
	v, err := m.row(TableTypeRef, index)
	if err != nil {
		return TypeRefRow{}, err
	}
	scope, err := decodeCoded(cResolutionScope, v[0])
	if err != nil {
		return TypeRefRow{}, err
	}
	name, err := m.strings.get(v[1])
	if err != nil {
		return TypeRefRow{}, err
	}
	namespace, err := m.strings.get(v[2])
	if err != nil {
		return TypeRefRow{}, err
	}
	return TypeRefRow{Index: index, ResolutionScope: scope, Name: name, Namespace: namespace}, nil
}

// TypeDef returns a 1-based TypeDef row
func (m *Metadata) TypeDef(index uint32) (TypeDefRow, error) {
	v, err := m.row(TableTypeDef, index)
	if err != nil {
		return TypeDefRow{}, err
	}
	name, err := m.strings.get(v[1])
	if err != nil {
		return TypeDefRow{}, err
	}
	namespace, err := m.strings.get(v[2])
	if err != nil {
		return TypeDefRow{}, err
	}
	extends, err := decodeCoded(cTypeDefOrRef, v[3])
	if err != nil {
		return TypeDefRow{}, err
	}
	return TypeDefRow{
		Index:     index,
		Flags:     TypeAttributes(v[0]),
		Name:      name,
		Namespace: namespace,
		Extends:   extends,
	}, nil
}

// InterfaceImpl returns a 1-based InterfaceImpl row
func (m *Metadata) InterfaceImpl(index uint32) (InterfaceImplRow, error) {
	v, err := m.row(TableInterfaceImpl, index)
	if err != nil {
		return InterfaceImplRow{}, err
	}
	iface, err := decodeCoded(cTypeDefOrRef, v[1])
	if err != nil {
		return InterfaceImplRow{}, err
	}
	return InterfaceImplRow{Index: index, Class: v[0], Interface: iface}, nil
}

// Assembly returns the manifest row; ok is false for a module without one
func (m *Metadata) Assembly() (row AssemblyRow, ok bool, err error) {
	if m.rows[TableAssembly] == 0 {
		return AssemblyRow{}, false, nil
	}
	v, err := m.row(TableAssembly, 1)
	if err != nil {
		return AssemblyRow{}, false, err
	}
	key, err := m.blobs.get(v[6])
	if err != nil {
		return AssemblyRow{}, false, err
	}
	name, err := m.strings.get(v[7])
	if err != nil {
		return AssemblyRow{}, false, err
	}
	culture, err := m.strings.get(v[8])
	if err != nil {
		return AssemblyRow{}, false, err
	}
	return AssemblyRow{
		HashAlgID: v[0],
		Version:   identity.NewVersion(uint16(v[1]), uint16(v[2]), uint16(v[3]), uint16(v[4])),
		Flags:     v[5],
		PublicKey: key,
		Name:      name,
		Culture:   culture,
	}, true, nil
}

// AssemblyRef returns a 1-based AssemblyRef row
func (m *Metadata) AssemblyRef(index uint32) (AssemblyRefRow, error) {
	v, err := m.row(TableAssemblyRef, index)
	if err != nil {
		return AssemblyRefRow{}, err
	}
	key, err := m.blobs.get(v[5])
	if err != nil {
		return AssemblyRefRow{}, err
	}
	name, err := m.strings.get(v[6])
	if err != nil {
		return AssemblyRefRow{}, err
	}
	culture, err := m.strings.get(v[7])
	if err != nil {
		return AssemblyRefRow{}, err
	}
	hash, err := m.blobs.get(v[8])
	if err != nil {
		return AssemblyRefRow{}, err
	}
	return AssemblyRefRow{
		Index:            index,
		Version:          identity.NewVersion(uint16(v[0]), uint16(v[1]), uint16(v[2]), uint16(v[3])),
		Flags:            v[4],
		PublicKeyOrToken: key,
		Name:             name,
		Culture:          culture,
		HashValue:        hash,
	}, nil
}

// FindAssemblyRef returns the first AssemblyRef whose identity equals id
func (m *Metadata) FindAssemblyRef(id identity.Identity) (AssemblyRefRow, bool, error) {
	want := id.String()
	for i := uint32(1); i <= m.rows[TableAssemblyRef]; i++ {
		ref, err := m.AssemblyRef(i)
		if err != nil {
			return AssemblyRefRow{}, false, err
		}
		if ref.Identity().String() == want {
			return ref, true, nil
		}
	}
	return AssemblyRefRow{}, false, nil
}
