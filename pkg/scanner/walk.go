package scanner

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// DefaultExtensions are the file extensions scanned when none are configured
var DefaultExtensions = Extensions{".dll", ".exe"}

// Extensions is a set of file name extensions matched case-insensitively
type Extensions []string

// NewExtensions normalizes exts to lower case with a leading dot
func NewExtensions(exts ...string) Extensions {
	out := make(Extensions, 0, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out = append(out, e)
	}
	return out
}

// Match reports whether path ends with one of the extensions
func (e Extensions) Match(path string) bool {
	ext := filepath.Ext(path)
	for _, want := range e {
		if strings.EqualFold(ext, want) {
			return true
		}
	}
	return false
}

// Walk calls fn for every regular file, or symlink to one, under dir,
// recursively, whose name matches exts and which is not in bad. Symlinked
// directories are not descended into. A missing dir is not an error.
// Unreadable entries are logged and skipped. Walk stops early when fn returns
// false, and returns ctx.Err() when ctx is cancelled.
func Walk(ctx context.Context, dir string, exts Extensions, bad *BadFiles, log logrus.FieldLogger, fn func(path string) bool) error {
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Debugf("Directory does not exist: %s", dir)
			return nil
		}
		log.Warnf("Failed to read directory %s: %v", dir, err)
		return nil
	}

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			log.Warnf("Skipping %s: %v", path, err)
			if d != nil && d.IsDir() && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		if !exts.Match(path) || !isRegular(path, d, log) {
			return nil
		}
		if bad != nil && bad.Contains(path) {
			return nil
		}
		if !fn(path) {
			return filepath.SkipAll
		}
		return nil
	})
	return err
}

// isRegular reports whether d is a regular file. Symlinks are followed.
func isRegular(path string, d fs.DirEntry, log logrus.FieldLogger) bool {
	if d.Type()&fs.ModeSymlink == 0 {
		return d.Type().IsRegular()
	}
	info, err := os.Stat(path)
	if err != nil {
		log.Debugf("Skipping broken link %s: %v", path, err)
		return false
	}
	return info.Mode().IsRegular()
}
