package main

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/jingkaihe/skillrouter/pkg/cache"
	"github.com/jingkaihe/skillrouter/pkg/composer"
	"github.com/jingkaihe/skillrouter/pkg/config"
	"github.com/jingkaihe/skillrouter/pkg/db"
	"github.com/jingkaihe/skillrouter/pkg/logger"
	"github.com/jingkaihe/skillrouter/pkg/presenter"
	"github.com/jingkaihe/skillrouter/pkg/registry"
	"github.com/jingkaihe/skillrouter/pkg/router"
)

// Exit codes.
const (
	exitOK             = 0
	exitFailure        = 1
	exitBudgetTooSmall = 2
	exitRegistry       = 3
)

// errRegistry marks failures to build the skill registry.
var errRegistry = errors.New("registry load failed")

// registryError keeps the cause visible to errors.Is/As while tagging it as
// a registry failure.
type registryError struct {
	cause error
}

func (e *registryError) Error() string { return e.cause.Error() }

func (e *registryError) Unwrap() error { return e.cause }

func (e *registryError) Is(target error) bool { return target == errRegistry }

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, composer.ErrBudgetTooSmall):
		return exitBudgetTooSmall
	case errors.Is(err, errRegistry), errors.Is(err, registry.ErrHierarchy):
		return exitRegistry
	default:
		return exitFailure
	}
}

// fail reports err and exits with its code.
func fail(err error, context string) {
	presenter.Error(err, context)
	os.Exit(exitCode(err))
}

// app is the set of long-lived components one command works with.
type app struct {
	config  *config.Config
	manager *registry.Manager
	router  *router.Router
	sqlite  *cache.SQLite
}

func (r *app) Close() {
	if r.sqlite != nil {
		if err := r.sqlite.Close(); err != nil {
			logger.G(context.Background()).WithError(err).Warn("failed to close parse cache")
		}
	}
}

// newApp reads the configuration, opens the parse cache and loads the
// corpus once. Extra manager options are used by the watching commands.
func newApp(ctx context.Context, opts ...registry.ManagerOption) (*app, error) {
	cfg, err := config.FromViper(viper.GetViper())
	if err != nil {
		return nil, err
	}

	rt := &app{config: cfg}
	parseCache, err := rt.openCache(ctx)
	if err != nil {
		return nil, err
	}

	loader, err := registry.NewLoader(append(cfg.LoaderOptions(), registry.WithCache(parseCache))...)
	if err != nil {
		rt.Close()
		return nil, err
	}

	opts = append([]registry.ManagerOption{registry.WithDebounce(cfg.Watch.Debounce)}, opts...)
	rt.manager = registry.NewManager(loader, cfg.Corpus.Paths, opts...)

	snap, _, err := rt.manager.Reload(ctx)
	if err != nil {
		rt.Close()
		return nil, &registryError{cause: err}
	}
	reportQuarantine(snap)
	if err := checkFallback(snap, cfg.Classifier.Fallback); err != nil {
		logger.G(ctx).WithError(err).Warn("tasks that match no skill will fail")
	}

	if rt.sqlite != nil {
		if n, err := rt.sqlite.Prune(ctx, snap.Files()); err != nil {
			logger.G(ctx).WithError(err).Warn("failed to prune parse cache")
		} else if n > 0 {
			logger.G(ctx).WithField("removed", n).Debug("pruned parse cache")
		}
	}

	rt.router = router.New(rt.manager,
		router.WithTimeout(cfg.Router.Timeout),
		router.WithClassifierOptions(cfg.ClassifierOptions()),
	)
	return rt, nil
}

// openCache returns an in-memory cache, backed by SQLite when cache.path is
// set.
func (r *app) openCache(ctx context.Context) (cache.Cache, error) {
	memory := cache.NewMemory()
	path := r.config.Cache.Path
	if path == "" {
		return memory, nil
	}
	if path == "default" {
		p, err := db.DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	sqlite, err := cache.OpenSQLite(ctx, path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open parse cache")
	}
	r.sqlite = sqlite
	return cache.NewTiered(memory, sqlite), nil
}

// checkFallback reports a configured fallback skill that is not indexed.
func checkFallback(snap *registry.Snapshot, id string) error {
	if id == "" {
		return errors.New("classifier.fallback is empty")
	}
	if _, ok := snap.Lookup(id); !ok {
		return errors.Errorf("fallback skill %q is not in the corpus", id)
	}
	return nil
}

func reportQuarantine(snap *registry.Snapshot) {
	for _, q := range snap.Quarantined() {
		logger.G(context.Background()).
			WithField("path", q.Path).
			WithField("skill_id", q.ID).
			Warn("skill document quarantined: " + q.Reason)
	}
}
