package scanner

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// BadFiles is the set of paths known to fail metadata parsing or to be
// rejected at load time. It is shared by the scanner, the resolver and the
// loader and is safe for concurrent use.
//
// Each path is recorded with the size and modification time it had when it
// went bad. A path stays bad while both are unchanged; once the file is
// rewritten it drops out of the set and is scanned again.
type BadFiles struct {
	mu    sync.RWMutex
	paths map[string]fileStamp
}

// fileStamp is the zero value for a file that could not be stat'ed
type fileStamp struct {
	size    int64
	modTime int64
}

func stampOf(path string) (fileStamp, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return fileStamp{}, false
	}
	return stampInfo(info), true
}

func stampInfo(info fs.FileInfo) fileStamp {
	return fileStamp{size: info.Size(), modTime: info.ModTime().UnixNano()}
}

// NewBadFiles creates an empty set
func NewBadFiles() *BadFiles {
	return &BadFiles{paths: make(map[string]fileStamp)}
}

// Add records path as it is now on disk and reports whether it was not
// already recorded in that state
func (b *BadFiles) Add(path string) bool {
	stamp, _ := stampOf(path)
	return b.add(path, stamp)
}

func (b *BadFiles) add(path string, stamp fileStamp) bool {
	path = filepath.Clean(path)

	b.mu.Lock()
	defer b.mu.Unlock()
	if recorded, ok := b.paths[path]; ok && recorded == stamp {
		return false
	}
	b.paths[path] = stamp
	return true
}

// Contains reports whether path has been recorded and has not changed since.
// A changed file is removed from the set.
func (b *BadFiles) Contains(path string) bool {
	path = filepath.Clean(path)

	b.mu.RLock()
	recorded, ok := b.paths[path]
	b.mu.RUnlock()
	if !ok {
		return false
	}

	current, exists := stampOf(path)
	if !exists || current == recorded {
		return true
	}

	b.mu.Lock()
	if b.paths[path] == recorded {
		delete(b.paths, path)
	}
	b.mu.Unlock()
	return false
}

// Len returns the number of recorded paths
func (b *BadFiles) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.paths)
}

// Paths returns the recorded paths in sorted order
func (b *BadFiles) Paths() []string {
	b.mu.RLock()
	out := make([]string, 0, len(b.paths))
	for p := range b.paths {
		out = append(out, p)
	}
	b.mu.RUnlock()

	sort.Strings(out)
	return out
}
