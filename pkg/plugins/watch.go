package plugins

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/flatbed/pescan/pkg/observability"
)

// watch adds dir to the loader's watcher, creating the watcher and its event
// goroutine on first use. Watching a directory twice is a no-op.
func (l *Loader) watch(dir string) error {
	dir = filepath.Clean(dir)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ctx.Err() != nil {
		return errors.New("loader is closed")
	}
	if l.watched[dir] {
		return nil
	}

	if l.watcher == nil {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("failed to create watcher: %w", err)
		}
		l.watcher = w
		l.wg.Add(1)
		go l.watchLoop(w)
	}

	if err := l.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	l.watched[dir] = true
	l.log.Debugf("Watching plugin directory %s", dir)
	return nil
}

// Watched returns the directories currently watched
func (l *Loader) Watched() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	dirs := make([]string, 0, len(l.watched))
	for dir := range l.watched {
		dirs = append(dirs, dir)
	}
	return dirs
}

// watchLoop dispatches write events until the watcher is closed
func (l *Loader) watchLoop(w *fsnotify.Watcher) {
	defer l.wg.Done()

	for {
		select {
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) || !l.cfg.Extensions.Match(event.Name) {
				continue
			}
			l.handleEvent(event.Name)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			l.log.Warnf("Watcher error: %v", err)
		}
	}
}

// handleEvent runs HandleChange for one event; a panic never stops the loop
func (l *Loader) handleEvent(path string) {
	defer observability.RecoverPanic(l.log.WithField("library", path), "watch loop")

	if l.ctx.Err() != nil {
		return
	}
	ctx := observability.WithRunID(l.ctx, uuid.NewString())
	l.log.WithField("library", path).Debug("Component changed")
	l.HandleChange(ctx, path)
}

func isBadImage(err error) bool {
	return errors.Is(err, ErrBadImage)
}
