// Package registry loads skill documents into immutable, validated
// snapshots and keeps the current snapshot fresh as the corpus changes.
package registry

import (
	"context"
	"io/fs"
	"os"
	"runtime"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/jingkaihe/skillrouter/pkg/cache"
	"github.com/jingkaihe/skillrouter/pkg/logger"
	"github.com/jingkaihe/skillrouter/pkg/telemetry"
	"github.com/jingkaihe/skillrouter/pkg/tokenizer"
	skilltypes "github.com/jingkaihe/skillrouter/pkg/types/skills"
)

// Loader builds snapshots from corpus paths.
type Loader struct {
	workers     int
	readRetries uint
	include     []string
	exclude     []string
	policy      DuplicatePolicy
	cache       cache.Cache
	counter     tokenizer.Counter

	discovery *Discovery
	parser    *Parser
}

// Option configures a Loader.
type Option func(*Loader) error

// WithWorkers bounds the number of files parsed concurrently.
func WithWorkers(n int) Option {
	return func(l *Loader) error {
		if n <= 0 {
			return errors.Errorf("workers must be positive, got %d", n)
		}
		l.workers = n
		return nil
	}
}

// WithCache sets the parsed document cache.
func WithCache(c cache.Cache) Option {
	return func(l *Loader) error {
		l.cache = c
		return nil
	}
}

// WithInclude sets the glob patterns files must match.
func WithInclude(patterns ...string) Option {
	return func(l *Loader) error {
		l.include = patterns
		return nil
	}
}

// WithExclude sets the glob patterns that remove files and directories.
func WithExclude(patterns ...string) Option {
	return func(l *Loader) error {
		l.exclude = patterns
		return nil
	}
}

// WithDuplicatePolicy sets how duplicate ids are handled.
func WithDuplicatePolicy(p DuplicatePolicy) Option {
	return func(l *Loader) error {
		if _, err := ParseDuplicatePolicy(string(p)); err != nil {
			return err
		}
		l.policy = p
		return nil
	}
}

// WithCounter sets the section token counter.
func WithCounter(c tokenizer.Counter) Option {
	return func(l *Loader) error {
		l.counter = c
		return nil
	}
}

// WithReadRetries sets how many times a file read is attempted. Editors
// often replace files in several steps, so a read during a reload may briefly
// fail.
func WithReadRetries(n uint) Option {
	return func(l *Loader) error {
		if n == 0 {
			n = 1
		}
		l.readRetries = n
		return nil
	}
}

// NewLoader creates a loader.
func NewLoader(opts ...Option) (*Loader, error) {
	l := &Loader{
		workers:     runtime.NumCPU(),
		readRetries: 3,
		include:     DefaultInclude,
		exclude:     DefaultExclude,
		policy:      DuplicateFail,
		cache:       cache.Nop{},
		counter:     tokenizer.Default,
	}
	for _, opt := range opts {
		if err := opt(l); err != nil {
			return nil, err
		}
	}

	d, err := NewDiscovery(l.include, l.exclude)
	if err != nil {
		return nil, err
	}
	l.discovery = d
	l.parser = NewParser(l.counter)
	return l, nil
}

// Discovery returns the loader's file matcher.
func (l *Loader) Discovery() *Discovery {
	return l.discovery
}

// Cache returns the loader's document cache.
func (l *Loader) Cache() cache.Cache {
	return l.cache
}

type parsed struct {
	doc        *skilltypes.SkillDocument
	quarantine *Quarantine
	cached     bool
}

// Load discovers, parses and validates the corpus under paths. Files are
// parsed on a bounded worker pool; validation runs once all are parsed.
// Per-document problems quarantine the document; hierarchy problems fail
// with a *HierarchyError.
func (l *Loader) Load(ctx context.Context, paths []string) (*Snapshot, error) {
	ctx, span := telemetry.Start(ctx, "registry.load", attribute.StringSlice("paths", paths))
	defer span.End()

	files, err := l.discovery.Discover(paths)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}

	results := make([]parsed, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.workers)
	for i, file := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := l.parseFile(gctx, file)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		telemetry.RecordError(ctx, err)
		return nil, errors.Wrap(err, "registry load interrupted")
	}

	var (
		docs        []*skilltypes.SkillDocument
		quarantined []Quarantine
		hits        int
	)
	for _, res := range results {
		switch {
		case res.quarantine != nil:
			quarantined = append(quarantined, *res.quarantine)
		case res.doc != nil:
			docs = append(docs, res.doc)
			if res.cached {
				hits++
			}
		}
	}

	snap, err := buildSnapshot(ctx, files, docs, quarantined, l.policy)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}

	telemetry.AddEvent(ctx, "registry.loaded",
		attribute.Int("documents", snap.Len()),
		attribute.Int("quarantined", len(snap.Quarantined())),
		attribute.Int("cache_hits", hits),
	)
	logger.G(ctx).
		WithField("documents", snap.Len()).
		WithField("quarantined", len(snap.Quarantined())).
		WithField("dangling", len(snap.Dangling())).
		WithField("cache_hits", hits).
		Debug("registry loaded")
	return snap, nil
}

// parseFile reads one file and returns its document, served from the cache
// when the content hash is unchanged. Only context errors are returned; every
// other problem becomes a quarantine record.
func (l *Loader) parseFile(ctx context.Context, file string) (parsed, error) {
	log := logger.G(ctx).WithField("path", file)

	content, err := l.read(ctx, file)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return parsed{}, ctxErr
		}
		if errors.Is(err, fs.ErrNotExist) {
			log.Debug("skill file disappeared before it was read")
			return parsed{}, nil
		}
		log.WithError(err).Warn("quarantining unreadable skill file")
		return parsed{quarantine: &Quarantine{Path: file, Reason: err.Error()}}, nil
	}

	hash := HashContent(content)
	if doc, ok := l.cache.Get(ctx, file, hash); ok {
		return parsed{doc: doc, cached: true}, nil
	}

	doc, err := l.parser.Parse(ctx, file, content)
	if err != nil {
		log.WithError(err).Warn("quarantining skill document")
		return parsed{quarantine: &Quarantine{Path: file, Reason: err.Error(), ContentHash: hash}}, nil
	}

	if err := l.cache.Put(ctx, file, doc); err != nil {
		log.WithError(err).Warn("failed to cache parsed document")
	}
	return parsed{doc: doc}, nil
}

func (l *Loader) read(ctx context.Context, file string) ([]byte, error) {
	var content []byte
	err := retry.Do(
		func() error {
			var err error
			content, err = os.ReadFile(file)
			return err
		},
		retry.Attempts(l.readRetries),
		retry.Delay(25*time.Millisecond),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, fs.ErrNotExist)
		}),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
	return content, err
}
