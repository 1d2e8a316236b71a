package metadata

import "fmt"

// TableID identifies a metadata table (ECMA-335 II.22)
type TableID uint8

const (
	TableModule                 TableID = 0x00
	TableTypeRef                TableID = 0x01
	TableTypeDef                TableID = 0x02
	TableFieldPtr               TableID = 0x03
	TableField                  TableID = 0x04
	TableMethodPtr              TableID = 0x05
	TableMethodDef              TableID = 0x06
	TableParamPtr               TableID = 0x07
	TableParam                  TableID = 0x08
	TableInterfaceImpl          TableID = 0x09
	TableMemberRef              TableID = 0x0A
	TableConstant               TableID = 0x0B
	TableCustomAttribute        TableID = 0x0C
	TableFieldMarshal           TableID = 0x0D
	TableDeclSecurity           TableID = 0x0E
	TableClassLayout            TableID = 0x0F
	TableFieldLayout            TableID = 0x10
	TableStandAloneSig          TableID = 0x11
	TableEventMap               TableID = 0x12
	TableEventPtr               TableID = 0x13
	TableEvent                  TableID = 0x14
	TablePropertyMap            TableID = 0x15
	TablePropertyPtr            TableID = 0x16
	TableProperty               TableID = 0x17
	TableMethodSemantics        TableID = 0x18
	TableMethodImpl             TableID = 0x19
	TableModuleRef              TableID = 0x1A
	TableTypeSpec               TableID = 0x1B
	TableImplMap                TableID = 0x1C
	TableFieldRVA               TableID = 0x1D
	TableEncLog                 TableID = 0x1E
	TableEncMap                 TableID = 0x1F
	TableAssembly               TableID = 0x20
	TableAssemblyProcessor      TableID = 0x21
	TableAssemblyOS             TableID = 0x22
	TableAssemblyRef            TableID = 0x23
	TableAssemblyRefProcessor   TableID = 0x24
	TableAssemblyRefOS          TableID = 0x25
	TableFile                   TableID = 0x26
	TableExportedType           TableID = 0x27
	TableManifestResource       TableID = 0x28
	TableNestedClass            TableID = 0x29
	TableGenericParam           TableID = 0x2A
	TableMethodSpec             TableID = 0x2B
	TableGenericParamConstraint TableID = 0x2C

	numTables = 0x2D

	// tableUnused marks a coded index tag that maps to no table
	tableUnused TableID = 0xFF
)

var tableNames = [numTables]string{
	"Module", "TypeRef", "TypeDef", "FieldPtr", "Field", "MethodPtr", "MethodDef",
	"ParamPtr", "Param", "InterfaceImpl", "MemberRef", "Constant", "CustomAttribute",
	"FieldMarshal", "DeclSecurity", "ClassLayout", "FieldLayout", "StandAloneSig",
	"EventMap", "EventPtr", "Event", "PropertyMap", "PropertyPtr", "Property",
	"MethodSemantics", "MethodImpl", "ModuleRef", "TypeSpec", "ImplMap", "FieldRVA",
	"EncLog", "EncMap", "Assembly", "AssemblyProcessor", "AssemblyOS", "AssemblyRef",
	"AssemblyRefProcessor", "AssemblyRefOS", "File", "ExportedType", "ManifestResource",
	"NestedClass", "GenericParam", "MethodSpec", "GenericParamConstraint",
}

func (t TableID) String() string {
	if int(t) < numTables {
		return tableNames[t]
	}
	return fmt.Sprintf("Table(0x%02x)", uint8(t))
}

// codedIndex describes a coded index kind (ECMA-335 II.24.2.6)
type codedIndex struct {
	name   string
	bits   uint
	tables []TableID
}

var (
	cTypeDefOrRef = &codedIndex{"TypeDefOrRef", 2, []TableID{TableTypeDef, TableTypeRef, TableTypeSpec}}
	cHasConstant  = &codedIndex{"HasConstant", 2, []TableID{TableField, TableParam, TableProperty}}

	cHasCustomAttribute = &codedIndex{"HasCustomAttribute", 5, []TableID{
		TableMethodDef, TableField, TableTypeRef, TableTypeDef, TableParam, TableInterfaceImpl,
		TableMemberRef, TableModule, TableDeclSecurity, TableProperty, TableEvent, TableStandAloneSig,
		TableModuleRef, TableTypeSpec, TableAssembly, TableAssemblyRef, TableFile, TableExportedType,
		TableManifestResource, TableGenericParam, TableGenericParamConstraint, TableMethodSpec,
	}}

	cHasFieldMarshal     = &codedIndex{"HasFieldMarshal", 1, []TableID{TableField, TableParam}}
	cHasDeclSecurity     = &codedIndex{"HasDeclSecurity", 2, []TableID{TableTypeDef, TableMethodDef, TableAssembly}}
	cMemberRefParent     = &codedIndex{"MemberRefParent", 3, []TableID{TableTypeDef, TableTypeRef, TableModuleRef, TableMethodDef, TableTypeSpec}}
	cHasSemantics        = &codedIndex{"HasSemantics", 1, []TableID{TableEvent, TableProperty}}
	cMethodDefOrRef      = &codedIndex{"MethodDefOrRef", 1, []TableID{TableMethodDef, TableMemberRef}}
	cMemberForwarded     = &codedIndex{"MemberForwarded", 1, []TableID{TableField, TableMethodDef}}
	cImplementation      = &codedIndex{"Implementation", 2, []TableID{TableFile, TableAssemblyRef, TableExportedType}}
	cCustomAttributeType = &codedIndex{"CustomAttributeType", 3, []TableID{tableUnused, tableUnused, TableMethodDef, TableMemberRef, tableUnused}}
	cResolutionScope     = &codedIndex{"ResolutionScope", 2, []TableID{TableModule, TableModuleRef, TableAssemblyRef, TableTypeRef}}
	cTypeOrMethodDef     = &codedIndex{"TypeOrMethodDef", 1, []TableID{TableTypeDef, TableMethodDef}}
)

type colKind uint8

const (
	colU16 colKind = iota
	colU32
	colString
	colGUID
	colBlob
	colIndex
	colCoded
)

type column struct {
	kind  colKind
	table TableID
	coded *codedIndex
}

func u16() column { return column{kind: colU16} }
func u32() column { return column{kind: colU32} }
func str() column { return column{kind: colString} }
func guid() column { return column{kind: colGUID} }
func blob() column { return column{kind: colBlob} }
func idx(t TableID) column { return column{kind: colIndex, table: t} }
func coded(c *codedIndex) column { return column{kind: colCoded, coded: c} }

// schema lists the columns of every table in physical order.
// Constant.Type is a byte followed by a padding byte, read as one u16.
var schema = [numTables][]column{
	TableModule:                 {u16(), str(), guid(), guid(), guid()},
	TableTypeRef:                {coded(cResolutionScope), str(), str()},
	TableTypeDef:                {u32(), str(), str(), coded(cTypeDefOrRef), idx(TableField), idx(TableMethodDef)},
	TableFieldPtr:               {idx(TableField)},
	TableField:                  {u16(), str(), blob()},
	TableMethodPtr:              {idx(TableMethodDef)},
	TableMethodDef:              {u32(), u16(), u16(), str(), blob(), idx(TableParam)},
	TableParamPtr:               {idx(TableParam)},
	TableParam:                  {u16(), u16(), str()},
	TableInterfaceImpl:          {idx(TableTypeDef), coded(cTypeDefOrRef)},
	TableMemberRef:              {coded(cMemberRefParent), str(), blob()},
	TableConstant:               {u16(), coded(cHasConstant), blob()},
	TableCustomAttribute:        {coded(cHasCustomAttribute), coded(cCustomAttributeType), blob()},
	TableFieldMarshal:           {coded(cHasFieldMarshal), blob()},
	TableDeclSecurity:           {u16(), coded(cHasDeclSecurity), blob()},
	TableClassLayout:            {u16(), u32(), idx(TableTypeDef)},
	TableFieldLayout:            {u32(), idx(TableField)},
	TableStandAloneSig:          {blob()},
	TableEventMap:               {idx(TableTypeDef), idx(TableEvent)},
	TableEventPtr:               {idx(TableEvent)},
	TableEvent:                  {u16(), str(), coded(cTypeDefOrRef)},
	TablePropertyMap:            {idx(TableTypeDef), idx(TableProperty)},
	TablePropertyPtr:            {idx(TableProperty)},
	TableProperty:               {u16(), str(), blob()},
	TableMethodSemantics:        {u16(), idx(TableMethodDef), coded(cHasSemantics)},
	TableMethodImpl:             {idx(TableTypeDef), coded(cMethodDefOrRef), coded(cMethodDefOrRef)},
	TableModuleRef:              {str()},
	TableTypeSpec:               {blob()},
	TableImplMap:                {u16(), coded(cMemberForwarded), str(), idx(TableModuleRef)},
	TableFieldRVA:               {u32(), idx(TableField)},
	TableEncLog:                 {u32(), u32()},
	TableEncMap:                 {u32()},
	TableAssembly:               {u32(), u16(), u16(), u16(), u16(), u32(), blob(), str(), str()},
	TableAssemblyProcessor:      {u32()},
	TableAssemblyOS:             {u32(), u32(), u32()},
	TableAssemblyRef:            {u16(), u16(), u16(), u16(), u32(), blob(), str(), str(), blob()},
	TableAssemblyRefProcessor:   {u32(), idx(TableAssemblyRef)},
	TableAssemblyRefOS:          {u32(), u32(), u32(), idx(TableAssemblyRef)},
	TableFile:                   {u32(), str(), blob()},
	TableExportedType:           {u32(), u32(), str(), str(), coded(cImplementation)},
	TableManifestResource:       {u32(), u32(), str(), coded(cImplementation)},
	TableNestedClass:            {idx(TableTypeDef), idx(TableTypeDef)},
	TableGenericParam:           {u16(), u16(), coded(cTypeOrMethodDef), str()},
	TableMethodSpec:             {coded(cMethodDefOrRef), blob()},
	TableGenericParamConstraint: {idx(TableGenericParam), coded(cTypeDefOrRef)},
}
