package plugins

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/flatbed/pescan/pkg/observability"
	"github.com/flatbed/pescan/pkg/resolver"
	"github.com/flatbed/pescan/pkg/scanner"
)

// Config configures a Loader
type Config struct {
	// Dirs are searched in order; missing directories are skipped
	Dirs       []string
	Extensions scanner.Extensions
	Marker     scanner.Marker

	// Concurrency bounds the files scanned at once; 0 means 4 x GOMAXPROCS
	Concurrency int

	// Watch adds a change watch on every directory LoadPlugins visits
	Watch bool

	// CacheSize and CacheTTL configure the resolver's identity cache
	CacheSize int
	CacheTTL  time.Duration
}

// Loader discovers plugin components in its directories and hands them to a
// Host. It owns the bad file set shared by its scanner and resolver.
type Loader struct {
	cfg      Config
	host     Host
	bad      *scanner.BadFiles
	scanner  *scanner.Scanner
	resolver *resolver.Resolver
	log      *logrus.Logger
	rec      observability.Recorder
	parent   resolver.Parent
	ready    atomic.Bool

	mu      sync.Mutex
	seen    map[string]string
	watcher *fsnotify.Watcher
	watched map[string]bool
	cron    *cron.Cron

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Option configures a Loader
type Option func(*Loader)

// WithRecorder sets the metrics recorder used by the loader, its scanner and
// its resolver
func WithRecorder(rec observability.Recorder) Option {
	return func(l *Loader) { l.rec = rec }
}

// WithParent sets the resolver's parent
func WithParent(p resolver.Parent) Option {
	return func(l *Loader) { l.parent = p }
}

// WithBadFiles shares an existing bad file set
func WithBadFiles(bad *scanner.BadFiles) Option {
	return func(l *Loader) { l.bad = bad }
}

// NewLoader creates a loader that loads into host
func NewLoader(cfg Config, host Host, log *logrus.Logger, opts ...Option) *Loader {
	if log == nil {
		log = logrus.New()
	}
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = scanner.DefaultExtensions
	}
	if cfg.Marker.Component.IsZero() {
		cfg.Marker = scanner.DefaultMarker()
	}

	l := &Loader{
		cfg:     cfg,
		host:    host,
		log:     log,
		seen:    make(map[string]string),
		watched: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.rec == nil {
		l.rec = observability.NopRecorder{}
	}
	if l.bad == nil {
		l.bad = scanner.NewBadFiles()
	}
	l.ctx, l.cancel = context.WithCancel(context.Background())

	l.scanner = scanner.New(cfg.Marker,
		scanner.WithLogger(log),
		scanner.WithRecorder(l.rec),
		scanner.WithBadFiles(l.bad),
		scanner.WithExtensions(cfg.Extensions),
		scanner.WithConcurrency(cfg.Concurrency),
	)
	l.resolver = resolver.New(cfg.Dirs,
		resolver.WithLogger(log),
		resolver.WithRecorder(l.rec),
		resolver.WithBadFiles(l.bad),
		resolver.WithExtensions(cfg.Extensions),
		resolver.WithParent(l.parent),
		resolver.WithCache(cfg.CacheSize, cfg.CacheTTL),
	)
	return l
}

// BadFiles returns the bad file set shared by the scanner and the resolver
func (l *Loader) BadFiles() *scanner.BadFiles {
	return l.bad
}

// Scanner returns the loader's scanner
func (l *Loader) Scanner() *scanner.Scanner {
	return l.scanner
}

// Resolver returns the resolver over the loader's directories
func (l *Loader) Resolver() *resolver.Resolver {
	return l.resolver
}

// Ready reports whether LoadPlugins has completed at least once
func (l *Loader) Ready() bool {
	return l.ready.Load()
}

// LoadPlugins scans every configured directory and loads the plugins found.
// A component whose identity was already loaded earlier in the run is
// skipped and reported as a duplicate.
func (l *Loader) LoadPlugins(ctx context.Context) (*Summary, error) {
	summary := &Summary{RunID: uuid.NewString()}
	ctx = observability.WithRunID(ctx, summary.RunID)
	ctx, span := observability.Tracer().Start(ctx, "plugins.LoadPlugins",
		trace.WithAttributes(attribute.StringSlice("plugin.dirs", l.cfg.Dirs)))
	defer span.End()
	log := observability.FromContext(ctx, l.log)

	l.mu.Lock()
	l.seen = make(map[string]string)
	l.mu.Unlock()

	for _, dir := range l.cfg.Dirs {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if !isDir(dir) {
			log.Debugf("Plugin directory does not exist: %s", dir)
			continue
		}

		l.loadDir(ctx, dir, Startup, summary)

		if l.cfg.Watch {
			if err := l.watch(dir); err != nil {
				log.Warnf("Failed to watch plugin directory %s: %v", dir, err)
			}
		}
	}

	l.ready.Store(true)
	span.SetAttributes(
		attribute.Int("plugin.components", len(summary.Components)),
		attribute.Int("plugin.count", summary.Plugins),
		attribute.Int("plugin.duplicates", len(summary.Duplicates)),
	)
	log.Infof("Loaded %d plugins from %d components (%d duplicates, %d bad files)",
		summary.Plugins, len(summary.Components), len(summary.Duplicates), l.bad.Len())
	return summary, ctx.Err()
}

// loadDir loads every Success result of one directory scan
func (l *Loader) loadDir(ctx context.Context, dir string, mode ConnectMode, summary *Summary) {
	log := observability.FromContext(ctx, l.log)

	for res := range l.scanner.ScanDir(ctx, dir) {
		if mode == AfterStartup && l.isLoaded(res.Path) {
			continue
		}

		id := res.Identity.String()
		if original, duplicate := l.admit(id, res.Path); duplicate {
			log.WithFields(logrus.Fields{
				"identity":  id,
				"duplicate": res.Path,
				"original":  original,
			}).Warnf("Component %s at %s is already loaded from %s", id, res.Path, original)
			l.rec.Duplicate(ctx)
			summary.Duplicates = append(summary.Duplicates, Duplicate{Identity: id, Path: res.Path, Original: original})
			continue
		}

		if n := l.loadResult(ctx, res, mode); n > 0 {
			summary.Components = append(summary.Components, res.Path)
			summary.Plugins += n
		}
	}
}

// admit records id as loaded from path unless it was already seen from
// another path. Seeing the same path again is a retry, not a duplicate.
func (l *Loader) admit(id, path string) (original string, duplicate bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if original, exists := l.seen[id]; exists {
		return original, filepath.Clean(original) != filepath.Clean(path)
	}
	l.seen[id] = path
	return "", false
}

// loadResult hands one scan result to the host and returns the number of
// plugins loaded
func (l *Loader) loadResult(ctx context.Context, res scanner.Result, mode ConnectMode) (loaded int) {
	log := observability.FromContext(ctx, l.log).WithField("library", res.Path)

	switch {
	case res.Kind == scanner.Failure:
		log.Errorf("Failed to scan component: %s", res.Diagnostic)
		return 0
	case res.Kind != scanner.Success:
		return 0
	case len(res.Types) == 0:
		log.Error("Component has no plugin types")
		return 0
	case l.isLoaded(res.Path):
		log.Debug("Component is already loaded")
		return 0
	}

	defer observability.RecoverPanic(log, "plugin host")

	unit, err := l.host.LoadUnit(ctx, res.Path)
	if err != nil {
		if isBadImage(err) && l.bad.Add(res.Path) {
			l.rec.BadFile(ctx, "load")
		}
		log.WithError(err).Error("Failed to load component")
		return 0
	}

	for _, typeName := range res.Types {
		l.host.LoadPlugin(ctx, unit, typeName, res.Path, mode)
		l.rec.PluginLoaded(ctx, mode.String())
		loaded++
	}
	return loaded
}

// isLoaded reports whether the host already has a plugin from path
func (l *Loader) isLoaded(path string) bool {
	for _, d := range l.host.Plugins() {
		if strings.EqualFold(d.Source, path) {
			return true
		}
	}
	return false
}

// HandleChange scans a changed file and loads its plugins. A failed file is
// skipped until it is written again.
func (l *Loader) HandleChange(ctx context.Context, path string) {
	if !l.cfg.Extensions.Match(path) {
		return
	}
	log := observability.FromContext(ctx, l.log).WithField("library", path)

	res := l.scanner.ScanFile(ctx, path)
	switch res.Kind {
	case scanner.Success:
		l.mu.Lock()
		if _, exists := l.seen[res.Identity.String()]; !exists {
			l.seen[res.Identity.String()] = path
		}
		l.mu.Unlock()

		if n := l.loadResult(ctx, res, AfterStartup); n > 0 {
			log.Infof("Loaded %d plugins from changed component", n)
		}
	case scanner.Failure:
		log.Warnf("Changed component not loaded: %s", res.Diagnostic)
	default:
		log.Debug("Changed file is not a plugin component")
	}
}

// Rescan scans the configured directories again and loads components that
// are neither in the host nor already seen
func (l *Loader) Rescan(ctx context.Context) (*Summary, error) {
	summary := &Summary{RunID: uuid.NewString()}
	ctx = observability.WithRunID(ctx, summary.RunID)
	ctx, span := observability.Tracer().Start(ctx, "plugins.Rescan")
	defer span.End()
	log := observability.FromContext(ctx, l.log)

	for _, dir := range l.cfg.Dirs {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if !isDir(dir) {
			continue
		}
		l.loadDir(ctx, dir, AfterStartup, summary)

		// directories created after startup get a watch too
		if l.cfg.Watch {
			if err := l.watch(dir); err != nil {
				log.Warnf("Failed to watch plugin directory %s: %v", dir, err)
			}
		}
	}

	if summary.Plugins > 0 || len(summary.Duplicates) > 0 {
		log.Infof("Rescan loaded %d plugins from %d components (%d duplicates)",
			summary.Plugins, len(summary.Components), len(summary.Duplicates))
	}
	return summary, ctx.Err()
}

// ScheduleRescan runs Rescan on a cron schedule until Close
func (l *Loader) ScheduleRescan(schedule string) error {
	logger := cron.PrintfLogger(l.log)
	c := cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	if _, err := c.AddFunc(schedule, func() {
		if _, err := l.Rescan(l.ctx); err != nil && l.ctx.Err() == nil {
			l.log.Warnf("Rescan failed: %v", err)
		}
	}); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cron != nil {
		l.cron.Stop()
	}
	l.cron = c
	c.Start()
	l.log.Infof("Rescan schedule: %s", schedule)
	return nil
}

// Close stops the rescan schedule and the watcher and waits for the event
// goroutine to exit
func (l *Loader) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.cancel()

		l.mu.Lock()
		c, w := l.cron, l.watcher
		l.mu.Unlock()

		if c != nil {
			<-c.Stop().Done()
		}
		if w != nil {
			err = w.Close()
		}
		l.wg.Wait()
	})
	return err
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
