// Package resolver maps textual component identities to files on disk.
//
// A Resolver searches its directories for the first file whose identity, read
// from the Assembly row only, equals the requested one, and otherwise asks
// its Parent. Resolvers form a chain through SetParent.
//
// Resolution may be re-entered for the same identity by the loader that asked
// for it. Each Resolver counts the active calls per identity and, above
// CycleThreshold, delegates to the parent without touching the file system.
// Files whose identity cannot be read are added to the shared scanner.BadFiles
// set and skipped from then on.
package resolver
