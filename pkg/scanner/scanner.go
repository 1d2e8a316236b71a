package scanner

import (
	"context"
	"errors"
	"iter"
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/flatbed/pescan/pkg/metadata"
	"github.com/flatbed/pescan/pkg/observability"
)

// OpenFunc reads the metadata of one file
type OpenFunc func(path string) (*metadata.Metadata, error)

// Scanner finds plugin implementations in managed images
type Scanner struct {
	marker      Marker
	exts        Extensions
	bad         *BadFiles
	open        OpenFunc
	concurrency int
	log         *logrus.Logger
	rec         observability.Recorder
}

// Option configures a Scanner
type Option func(*Scanner)

// WithLogger sets the logger
func WithLogger(log *logrus.Logger) Option {
	return func(s *Scanner) { s.log = log }
}

// WithRecorder sets the metrics recorder
func WithRecorder(rec observability.Recorder) Option {
	return func(s *Scanner) { s.rec = rec }
}

// WithBadFiles shares a bad file set with other components
func WithBadFiles(bad *BadFiles) Option {
	return func(s *Scanner) { s.bad = bad }
}

// WithExtensions sets the file extensions ScanDir considers
func WithExtensions(exts Extensions) Option {
	return func(s *Scanner) { s.exts = exts }
}

// WithConcurrency bounds the number of files scanned at once by ScanDir
func WithConcurrency(n int) Option {
	return func(s *Scanner) { s.concurrency = n }
}

// WithOpener replaces metadata.Open
func WithOpener(open OpenFunc) Option {
	return func(s *Scanner) { s.open = open }
}

// New creates a scanner for marker
func New(marker Marker, opts ...Option) *Scanner {
	s := &Scanner{
		marker: marker,
		exts:   DefaultExtensions,
		open:   metadata.Open,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logrus.New()
	}
	if s.rec == nil {
		s.rec = observability.NopRecorder{}
	}
	if s.bad == nil {
		s.bad = NewBadFiles()
	}
	if s.concurrency <= 0 {
		s.concurrency = 4 * runtime.GOMAXPROCS(0)
	}
	if len(s.exts) == 0 {
		s.exts = DefaultExtensions
	}
	return s
}

// BadFiles returns the bad file set the scanner records failures in
func (s *Scanner) BadFiles() *BadFiles {
	return s.bad
}

// Extensions returns the extensions ScanDir considers
func (s *Scanner) Extensions() Extensions {
	return s.exts
}

// Marker returns the marker the scanner looks for
func (s *Scanner) Marker() Marker {
	return s.marker
}

// ScanFile scans a single file. It never panics and never returns an error:
// unreadable metadata becomes a Failure result and the path is added to the
// bad file set. Paths already in the set are not opened again until the file
// changes.
func (s *Scanner) ScanFile(ctx context.Context, path string) (res Result) {
	if s.bad.Contains(path) {
		return notCandidate(path)
	}
	// stamp the file before parsing so a rewrite during the parse is not
	// recorded as bad
	stamp, _ := stampOf(path)

	ctx, span := observability.Tracer().Start(ctx, "scanner.ScanFile",
		trace.WithAttributes(attribute.String("file.path", path)))
	defer span.End()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res = s.fail(ctx, path, stamp, observability.MustRecover(r))
		}
		s.rec.FileScanned(ctx, res.Kind.String(), time.Since(start))
		span.SetAttributes(attribute.String("scan.outcome", res.Kind.String()))
		if res.Kind == Failure {
			span.SetStatus(codes.Error, res.Diagnostic)
		}
	}()

	res, err := s.scan(path)
	if err != nil {
		if metadata.IsNotCandidate(err) {
			return notCandidate(path)
		}
		return s.fail(ctx, path, stamp, err)
	}
	return res
}

func (s *Scanner) scan(path string) (Result, error) {
	md, err := s.open(path)
	if err != nil {
		return Result{}, err
	}

	types, err := Implementors(md, s.marker)
	if err != nil {
		return Result{}, err
	}
	if len(types) == 0 {
		return notCandidate(path), nil
	}

	asm, ok, err := md.Assembly()
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, metadata.ErrNoManifest
	}

	return Result{
		Kind:     Success,
		Path:     path,
		Identity: asm.Identity(),
		Types:    types,
	}, nil
}

func (s *Scanner) fail(ctx context.Context, path string, stamp fileStamp, err error) Result {
	diag := Diagnostic(err)
	s.log.WithField("library", path).Errorf("Failed to read metadata: %s", diag)
	if s.bad.add(path, stamp) {
		s.rec.BadFile(ctx, "scan")
	}
	return Result{Kind: Failure, Path: path, Diagnostic: diag}
}

// Diagnostic returns the message of the immediate wrapped cause of err, or
// err's own message when it wraps nothing
func Diagnostic(err error) string {
	if err == nil {
		return ""
	}
	if inner := errors.Unwrap(err); inner != nil {
		return inner.Error()
	}
	return err.Error()
}

// ScanDir scans every matching file under dir, recursively, skipping paths in
// the bad file set. Files are scanned concurrently; the sequence yields the
// Success results only after every file has been scanned, in no particular
// order. The scan starts when the sequence is first iterated.
func (s *Scanner) ScanDir(ctx context.Context, dir string) iter.Seq[Result] {
	return func(yield func(Result) bool) {
		ctx, span := observability.Tracer().Start(ctx, "scanner.ScanDir",
			trace.WithAttributes(attribute.String("dir.path", dir)))
		defer span.End()

		var (
			mu      sync.Mutex
			results []Result
			files   int
			g       errgroup.Group
		)
		g.SetLimit(s.concurrency)

		walkErr := Walk(ctx, dir, s.exts, s.bad, s.log, func(path string) bool {
			files++
			g.Go(func() error {
				res := s.ScanFile(ctx, path)
				if res.Kind == Success {
					mu.Lock()
					results = append(results, res)
					mu.Unlock()
				}
				return nil
			})
			return true
		})
		// barrier: nothing is yielded until every dispatched file is done
		_ = g.Wait()

		if walkErr != nil {
			s.log.Warnf("Scan of %s stopped: %v", dir, walkErr)
			span.RecordError(walkErr)
		}
		span.SetAttributes(
			attribute.Int("scan.files", files),
			attribute.Int("scan.components", len(results)),
		)
		s.log.Debugf("Scanned %d files in %s, %d plugin components", files, dir, len(results))

		for _, res := range results {
			if !yield(res) {
				return
			}
		}
	}
}
