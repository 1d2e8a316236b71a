package resolver

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/flatbed/pescan/pkg/identity"
	"github.com/flatbed/pescan/pkg/metadata"
	"github.com/flatbed/pescan/pkg/observability"
	"github.com/flatbed/pescan/pkg/scanner"
)

// CycleThreshold is the number of concurrent resolutions of one identity
// above which a call is treated as a resolution cycle and sent straight to the
// parent
const CycleThreshold = 2

var (
	// ErrEmptyIdentity is returned when Resolve is called with an empty identity
	ErrEmptyIdentity = errors.New("resolver: identity is required")

	// ErrInvalidIdentity is returned when the identity cannot be parsed
	ErrInvalidIdentity = errors.New("resolver: invalid identity")
)

// Parent resolves what a Resolver could not. *Resolver implements it.
type Parent interface {
	Resolve(ctx context.Context, id string) (path string, found bool, err error)
}

// ParentFunc adapts a function to Parent
type ParentFunc func(ctx context.Context, id string) (string, bool, error)

func (f ParentFunc) Resolve(ctx context.Context, id string) (string, bool, error) {
	return f(ctx, id)
}

// IdentityFunc reads the identity of one file
type IdentityFunc func(path string) (identity.Identity, error)

// Resolver maps component identities to files in its directories
type Resolver struct {
	dirs         []string
	exts         scanner.Extensions
	bad          *scanner.BadFiles
	readIdentity IdentityFunc
	cache        *identityCache
	log          *logrus.Logger
	rec          observability.Recorder

	parentMu sync.RWMutex
	parent   Parent

	mu       sync.Mutex
	inflight map[string]int
}

// Option configures a Resolver
type Option func(*Resolver)

// WithLogger sets the logger
func WithLogger(log *logrus.Logger) Option {
	return func(r *Resolver) { r.log = log }
}

// WithRecorder sets the metrics recorder
func WithRecorder(rec observability.Recorder) Option {
	return func(r *Resolver) { r.rec = rec }
}

// WithBadFiles shares a bad file set with the scanner and loader
func WithBadFiles(bad *scanner.BadFiles) Option {
	return func(r *Resolver) { r.bad = bad }
}

// WithExtensions sets the file extensions searched
func WithExtensions(exts scanner.Extensions) Option {
	return func(r *Resolver) { r.exts = exts }
}

// WithParent sets the parent resolver
func WithParent(p Parent) Option {
	return func(r *Resolver) { r.parent = p }
}

// WithIdentityReader replaces metadata.ReadIdentity
func WithIdentityReader(fn IdentityFunc) Option {
	return func(r *Resolver) { r.readIdentity = fn }
}

// WithCache sizes the identity cache; a size of zero disables it
func WithCache(size int, ttl time.Duration) Option {
	return func(r *Resolver) { r.cache = newIdentityCache(size, ttl) }
}

// New creates a resolver searching dirs in order
func New(dirs []string, opts ...Option) *Resolver {
	r := &Resolver{
		dirs:         dirs,
		exts:         scanner.DefaultExtensions,
		readIdentity: metadata.ReadIdentity,
		cache:        newIdentityCache(DefaultCacheSize, DefaultCacheTTL),
		inflight:     make(map[string]int),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logrus.New()
	}
	if r.rec == nil {
		r.rec = observability.NopRecorder{}
	}
	if r.bad == nil {
		r.bad = scanner.NewBadFiles()
	}
	if len(r.exts) == 0 {
		r.exts = scanner.DefaultExtensions
	}
	return r
}

// SetParent replaces the parent resolver; nil removes it
func (r *Resolver) SetParent(p Parent) {
	r.parentMu.Lock()
	defer r.parentMu.Unlock()
	r.parent = p
}

// Parent returns the current parent resolver, or nil
func (r *Resolver) Parent() Parent {
	r.parentMu.RLock()
	defer r.parentMu.RUnlock()
	return r.parent
}

// InFlight returns the number of active resolutions of id
func (r *Resolver) InFlight(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inflight[id]
}

// CacheStats reports identity cache usage
func (r *Resolver) CacheStats() CacheStats {
	return r.cache.stats()
}

func (r *Resolver) enter(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inflight[id]++
	return r.inflight[id]
}

func (r *Resolver) leave(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inflight[id] <= 1 {
		delete(r.inflight, id)
		return
	}
	r.inflight[id]--
}

// Resolve returns the path of the first file in the resolver's directories
// whose identity equals id, falling back to the parent. found is false when
// neither the resolver nor its parents know the identity. An error is
// returned only for an empty or unparsable id, or one returned by a parent.
//
// Resolve may be re-entered for the same id from the loading machinery it
// serves; once more than CycleThreshold calls for an id are active, further
// calls skip the file system and go straight to the parent.
func (r *Resolver) Resolve(ctx context.Context, id string) (path string, found bool, err error) {
	if strings.TrimSpace(id) == "" {
		return "", false, ErrEmptyIdentity
	}
	want, err := identity.Parse(id)
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}

	ctx, span := observability.Tracer().Start(ctx, "resolver.Resolve",
		trace.WithAttributes(attribute.String("component.identity", id)))
	defer span.End()

	attempt := r.enter(id)
	defer r.leave(id)

	log := observability.FromContext(ctx, r.log).WithField("identity", id)

	if attempt > CycleThreshold {
		log.Infof("Component %s already requested (attempt %d), delegating to parent", id, attempt)
		span.SetAttributes(attribute.Bool("resolver.cycle", true))
		r.rec.Resolution(ctx, observability.ResolutionCycle)
		return r.delegate(ctx, log, id)
	}

	if path, ok := r.search(ctx, want); ok {
		log.WithField("library", path).Debugf("Resolved %s", id)
		r.rec.Resolution(ctx, observability.ResolutionResolved)
		return path, true, nil
	}

	log.Warnf("Component %s can't be resolved in path %s (attempt %d)", id, strings.Join(r.dirs, ","), attempt)
	path, found, err = r.delegate(ctx, log, id)
	switch {
	case err != nil:
	case found:
		r.rec.Resolution(ctx, observability.ResolutionDelegated)
	default:
		r.rec.Resolution(ctx, observability.ResolutionUnresolved)
	}
	return path, found, err
}

func (r *Resolver) delegate(ctx context.Context, log *logrus.Entry, id string) (string, bool, error) {
	parent := r.Parent()
	if parent == nil {
		log.Debugf("No parent to resolve %s", id)
		return "", false, nil
	}
	return parent.Resolve(ctx, id)
}

// search walks the directories for the first file with identity want
func (r *Resolver) search(ctx context.Context, want identity.Identity) (string, bool) {
	for _, dir := range r.dirs {
		var match string
		err := scanner.Walk(ctx, dir, r.exts, r.bad, r.log, func(path string) bool {
			got, err := r.identityOf(ctx, path)
			if err != nil {
				r.reject(ctx, path, err)
				return true
			}
			if got.Equal(want) {
				match = path
				return false
			}
			return true
		})
		if match != "" {
			return match, true
		}
		if err != nil {
			r.log.Warnf("Search of %s stopped: %v", dir, err)
			return "", false
		}
	}
	return "", false
}

func (r *Resolver) identityOf(ctx context.Context, path string) (identity.Identity, error) {
	if r.cache == nil {
		return r.readIdentity(path)
	}

	info, err := os.Stat(path)
	if err != nil {
		return identity.Identity{}, err
	}
	key := cacheKey(path, info)
	if id, ok := r.cache.get(key); ok {
		r.rec.IdentityCache(ctx, true)
		return id, nil
	}
	r.rec.IdentityCache(ctx, false)

	id, err := r.readIdentity(path)
	if err != nil {
		return identity.Identity{}, err
	}
	r.cache.add(key, id)
	return id, nil
}

// reject records a file whose identity cannot be read
func (r *Resolver) reject(ctx context.Context, path string, err error) {
	if errors.Is(err, fs.ErrNotExist) {
		return
	}
	if r.bad.Add(path) {
		r.rec.BadFile(ctx, "resolve")
	}

	var fe *metadata.FormatError
	if metadata.IsNotCandidate(err) || errors.Is(err, metadata.ErrNoManifest) || errors.As(err, &fe) {
		r.log.WithField("library", path).Debugf("Ignoring file without readable identity: %v", err)
		return
	}
	r.log.WithField("library", path).WithError(err).Error("Failed to read component identity")
}
