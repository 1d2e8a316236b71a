package plugins

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/flatbed/pescan/pkg/identity"
	"github.com/flatbed/pescan/pkg/metadata"
)

// Registry is an in-memory Host. It validates each component by reading its
// identity and records the plugins it is asked to load; it never executes
// code from the component.
type Registry struct {
	mu      sync.RWMutex
	plugins []Description
	byType  map[string]int

	readIdentity func(path string) (identity.Identity, error)
	now          func() time.Time
	log          *logrus.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(log *logrus.Logger) *Registry {
	if log == nil {
		log = logrus.New()
	}
	return &Registry{
		byType:       make(map[string]int),
		readIdentity: metadata.ReadIdentity,
		now:          time.Now,
		log:          log,
	}
}

// LoadUnit reads the identity of the component at path. Any failure other
// than a missing file wraps ErrBadImage.
func (r *Registry) LoadUnit(_ context.Context, path string) (Unit, error) {
	id, err := r.readIdentity(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Unit{}, fmt.Errorf("failed to load %s: %w", path, err)
	}
	if err != nil {
		return Unit{}, fmt.Errorf("%w: %s: %w", ErrBadImage, path, err)
	}
	return Unit{Path: path, Identity: id}, nil
}

// LoadPlugin records typeName as loaded from source. A type name that is
// already registered is replaced.
func (r *Registry) LoadPlugin(_ context.Context, unit Unit, typeName, source string, mode ConnectMode) {
	d := Description{
		TypeName: typeName,
		Source:   source,
		Identity: unit.Identity,
		Mode:     mode,
		LoadedAt: r.now(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if i, exists := r.byType[typeName]; exists {
		r.log.Warnf("Plugin %s from %s replaces the one from %s", typeName, source, r.plugins[i].Source)
		r.plugins[i] = d
		return
	}
	r.byType[typeName] = len(r.plugins)
	r.plugins = append(r.plugins, d)
	r.log.WithField("library", source).Infof("Plugin %s loaded (%s)", typeName, mode)
}

// Plugins returns the loaded plugins in load order
func (r *Registry) Plugins() []Description {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Description, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Get returns the plugin with the given type name
func (r *Registry) Get(typeName string) (Description, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, exists := r.byType[typeName]
	if !exists {
		return Description{}, fmt.Errorf("plugin not found: %s", typeName)
	}
	return r.plugins[i], nil
}

// Count returns the number of loaded plugins
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ListByMode returns the plugins loaded in mode, sorted by type name
func (r *Registry) ListByMode(mode ConnectMode) []Description {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []Description
	for _, d := range r.plugins {
		if d.Mode == mode {
			result = append(result, d)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].TypeName < result[j].TypeName })
	return result
}
