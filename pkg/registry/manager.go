package registry

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"github.com/jingkaihe/skillrouter/pkg/logger"
)

// ErrNotLoaded is returned when no snapshot has been published yet.
var ErrNotLoaded = errors.New("skill registry is not loaded")

// Manager owns the current snapshot. Readers call Current and keep the
// returned snapshot for a whole task; Reload builds a replacement and swaps
// the pointer, so a reader never sees a partially built registry.
type Manager struct {
	loader   *Loader
	paths    []string
	debounce time.Duration
	onReload func(*Snapshot, error)

	current    atomic.Pointer[Snapshot]
	generation atomic.Uint64
	reloadMu   sync.Mutex
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithDebounce sets how long Watch waits for file events to settle.
func WithDebounce(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.debounce = d
	}
}

// WithReloadHook is called after every watch-triggered reload attempt.
func WithReloadHook(fn func(*Snapshot, error)) ManagerOption {
	return func(m *Manager) {
		m.onReload = fn
	}
}

// NewManager returns a manager for the corpus under paths. Nothing is loaded
// until Reload is called.
func NewManager(loader *Loader, paths []string, opts ...ManagerOption) *Manager {
	m := &Manager{
		loader:   loader,
		paths:    paths,
		debounce: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Current returns the published snapshot, or nil before the first load.
func (m *Manager) Current() *Snapshot {
	return m.current.Load()
}

// Acquire returns the published snapshot or ErrNotLoaded.
func (m *Manager) Acquire() (*Snapshot, error) {
	snap := m.current.Load()
	if snap == nil {
		return nil, ErrNotLoaded
	}
	return snap, nil
}

// Reload rebuilds the registry. The new snapshot is published only when it
// differs from the current one; on error the current snapshot stays
// published. The returned snapshot is the one current after the call.
func (m *Manager) Reload(ctx context.Context) (*Snapshot, bool, error) {
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()

	snap, err := m.loader.Load(ctx, m.paths)
	if err != nil {
		return m.current.Load(), false, err
	}

	prev := m.current.Load()
	if prev != nil && prev.Fingerprint() == snap.Fingerprint() {
		return prev, false, nil
	}

	snap = snap.withGeneration(m.generation.Add(1))
	m.current.Store(snap)
	logger.G(ctx).
		WithField("snapshot", snap.Generation()).
		WithField("documents", snap.Len()).
		Info("published skill registry snapshot")
	return snap, true, nil
}

// Invalidate drops cached documents for paths.
func (m *Manager) Invalidate(ctx context.Context, paths ...string) {
	for _, p := range paths {
		if err := m.loader.Cache().Invalidate(ctx, filepath.Clean(p)); err != nil {
			logger.G(ctx).WithError(err).WithField("path", p).Warn("failed to invalidate cached document")
		}
	}
}

type fileEvent struct {
	path string
	op   fsnotify.Op
}

// Watch reloads the registry whenever matching files under the corpus roots
// change. Bursts of events are coalesced for the debounce interval. It blocks
// until ctx is done.
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create file watcher")
	}
	defer watcher.Close()

	for _, root := range m.paths {
		if err := m.watchTree(ctx, watcher, root); err != nil {
			return err
		}
	}

	events := make(chan fileEvent)
	batches := make(chan []string)
	go debounceFileEvents(ctx, events, batches, m.debounce)

	go func() {
		for {
			select {
			case batch := <-batches:
				logger.G(ctx).WithField("paths", batch).Debug("skill files changed")
				m.Invalidate(ctx, batch...)
				snap, swapped, err := m.Reload(ctx)
				if err != nil {
					logger.G(ctx).WithError(err).Warn("reload failed, keeping current snapshot")
				} else if !swapped {
					logger.G(ctx).Debug("corpus unchanged after reload")
				}
				if m.onReload != nil {
					m.onReload(snap, err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	logger.G(ctx).WithField("roots", m.paths).Info("watching skill corpus for changes")
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := m.watchTree(ctx, watcher, event.Name); err != nil {
						logger.G(ctx).WithError(err).WithField("directory", event.Name).Warn("failed to watch new directory")
					}
					m.send(ctx, events, fileEvent{path: event.Name, op: event.Op})
					continue
				}
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if !m.relevant(event.Name) {
				continue
			}
			m.send(ctx, events, fileEvent{path: event.Name, op: event.Op})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.G(ctx).WithError(err).Warn("file watcher error")
		case <-ctx.Done():
			return nil
		}
	}
}

func (m *Manager) send(ctx context.Context, events chan<- fileEvent, ev fileEvent) {
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}

func (m *Manager) relevant(path string) bool {
	for _, root := range m.paths {
		if filepath.Clean(root) == filepath.Clean(path) {
			return true
		}
		if m.loader.Discovery().Matches(root, path) {
			return true
		}
	}
	return false
}

// watchTree adds dir and its subdirectories to the watcher. A file root is
// watched through its parent directory.
func (m *Manager) watchTree(ctx context.Context, watcher *fsnotify.Watcher, root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return errors.Wrapf(err, "failed to watch %s", root)
	}
	if !info.IsDir() {
		return errors.Wrapf(watcher.Add(filepath.Dir(root)), "failed to watch %s", root)
	}

	corpusRoot := m.rootOf(root)
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if m.loader.Discovery().ExcludedDir(corpusRoot, path) {
			return filepath.SkipDir
		}
		logger.G(ctx).WithField("directory", path).Debug("adding directory to watcher")
		return watcher.Add(path)
	})
}

func (m *Manager) rootOf(dir string) string {
	for _, root := range m.paths {
		rel, err := filepath.Rel(root, dir)
		if err == nil && !strings.HasPrefix(rel, "..") {
			return root
		}
	}
	return dir
}

// debounceFileEvents collects events until none arrive for delay, then emits
// the distinct changed paths as one sorted batch.
func debounceFileEvents(ctx context.Context, input <-chan fileEvent, output chan<- []string, delay time.Duration) {
	pending := make(map[string]bool)
	timer := time.NewTimer(delay)
	timer.Stop()

	for {
		select {
		case event := <-input:
			pending[event.path] = true
			timer.Reset(delay)
		case <-timer.C:
			batch := make([]string, 0, len(pending))
			for p := range pending {
				batch = append(batch, p)
			}
			sort.Strings(batch)
			pending = make(map[string]bool)
			select {
			case output <- batch:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}
