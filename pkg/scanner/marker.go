package scanner

import (
	"fmt"
	"sort"
	"strings"

	"github.com/flatbed/pescan/pkg/identity"
	"github.com/flatbed/pescan/pkg/metadata"
)

const (
	// DefaultMarkerComponent declares the plugin contract
	DefaultMarkerComponent = "SAL.Flatbed, Version=1.0.0.0, Culture=neutral, PublicKeyToken=null"
	// DefaultMarkerInterface is the contract every plugin implements
	DefaultMarkerInterface = "SAL.Flatbed.IPlugin"
)

// Marker names the interface a type must implement to be a plugin, together
// with the component that declares it
type Marker struct {
	Component identity.Identity
	Interface string
}

// DefaultMarker returns the marker for DefaultMarkerComponent and DefaultMarkerInterface
func DefaultMarker() Marker {
	return Marker{
		Component: identity.MustParse(DefaultMarkerComponent),
		Interface: DefaultMarkerInterface,
	}
}

// ParseMarker builds a marker from a component identity string and an
// interface full name
func ParseMarker(component, iface string) (Marker, error) {
	id, err := identity.Parse(component)
	if err != nil {
		return Marker{}, fmt.Errorf("marker component: %w", err)
	}
	iface = strings.TrimSpace(iface)
	if iface == "" {
		return Marker{}, fmt.Errorf("marker interface is empty")
	}
	return Marker{Component: id, Interface: iface}, nil
}

// valueTypeBases are the base types that make a type a value type
var valueTypeBases = map[string]bool{
	"System.ValueType": true,
	"System.Enum":      true,
}

// Implementors returns the full names, in declaration order, of the public
// concrete classes in md that implement the marker interface. A class
// qualifies only through a TypeRef to the marker interface scoped to the
// AssemblyRef of the marker component.
func Implementors(md *metadata.Metadata, m Marker) ([]string, error) {
	ref, ok, err := md.FindAssemblyRef(m.Component)
	if err != nil || !ok {
		return nil, err
	}
	contract := metadata.CodedIndex{Table: metadata.TableAssemblyRef, Row: ref.Index}

	classes := map[uint32]bool{}
	for i := 1; i <= md.RowCount(metadata.TableInterfaceImpl); i++ {
		impl, err := md.InterfaceImpl(uint32(i))
		if err != nil {
			return nil, err
		}
		if impl.Interface.Table != metadata.TableTypeRef || impl.Interface.IsNull() {
			continue
		}
		iface, err := md.TypeRef(impl.Interface.Row)
		if err != nil {
			return nil, err
		}
		if iface.ResolutionScope == contract && iface.FullName() == m.Interface {
			classes[impl.Class] = true
		}
	}

	rows := make([]uint32, 0, len(classes))
	for row := range classes {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i] < rows[j] })

	var names []string
	for _, row := range rows {
		td, err := md.TypeDef(row)
		if err != nil {
			return nil, err
		}
		concrete, err := isPublicConcreteClass(md, td)
		if err != nil {
			return nil, err
		}
		if concrete {
			names = append(names, td.FullName())
		}
	}
	return names, nil
}

func isPublicConcreteClass(md *metadata.Metadata, td metadata.TypeDefRow) (bool, error) {
	if td.Flags.Visibility() != metadata.TypePublic || td.Flags.IsInterface() || td.Flags.IsAbstract() {
		return false, nil
	}
	base, err := baseName(md, td.Extends)
	if err != nil {
		return false, err
	}
	return !valueTypeBases[base], nil
}

// baseName returns the full name of a TypeDefOrRef; TypeSpec bases and null
// references yield ""
func baseName(md *metadata.Metadata, extends metadata.CodedIndex) (string, error) {
	if extends.IsNull() {
		return "", nil
	}
	switch extends.Table {
	case metadata.TableTypeRef:
		tr, err := md.TypeRef(extends.Row)
		if err != nil {
			return "", err
		}
		return tr.FullName(), nil
	case metadata.TableTypeDef:
		td, err := md.TypeDef(extends.Row)
		if err != nil {
			return "", err
		}
		return td.FullName(), nil
	}
	return "", nil
}
