// Package scanner decides which files in a directory tree are plugin
// components.
//
// A file is a plugin component when its metadata references the marker
// component and defines public concrete classes implementing the marker
// interface through that reference. ScanFile classifies one file as
// NotCandidate, Success or Failure without ever executing it. ScanDir fans a
// directory tree out over a bounded worker pool and yields the successes once
// every file has been scanned.
//
// Failures are recorded in a BadFiles set, which is shared with the resolver
// and the loader so that no path that failed once is parsed again.
package scanner
