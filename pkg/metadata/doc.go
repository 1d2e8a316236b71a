// Package metadata reads ECMA-335 metadata from managed PE images without
// loading or executing them.
//
// Open and Load locate the CLI header through the PE data directories, parse
// the metadata root and lay out the table stream. Rows are decoded lazily by
// the typed accessors (TypeDef, TypeRef, InterfaceImpl, Assembly and
// AssemblyRef), so reading an identity touches only the Assembly row.
//
// Errors fall in two groups. ErrNotImage and ErrNoMetadata mean the file is
// simply not a managed image (see IsNotCandidate). A *FormatError means the
// file claims to carry metadata that cannot be read.
package metadata
