// Package cache stores parsed skill documents keyed by path and content hash
// so unchanged files are not reparsed on reload.
package cache

import (
	"context"
	"sync"
	"sync/atomic"

	skilltypes "github.com/jingkaihe/skillrouter/pkg/types/skills"
)

// Cache is a parsed document store. Get only returns a document whose stored
// hash equals hash; a stale entry is a miss.
type Cache interface {
	Get(ctx context.Context, path, hash string) (*skilltypes.SkillDocument, bool)
	Put(ctx context.Context, path string, doc *skilltypes.SkillDocument) error
	Invalidate(ctx context.Context, path string) error
}

// Stats counts cache lookups.
type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// Memory is an in-process Cache.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]*skilltypes.SkillDocument

	hits   atomic.Int64
	misses atomic.Int64
}

// NewMemory returns an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]*skilltypes.SkillDocument)}
}

func (m *Memory) Get(_ context.Context, path, hash string) (*skilltypes.SkillDocument, bool) {
	m.mu.RLock()
	doc, ok := m.entries[path]
	m.mu.RUnlock()
	if !ok || doc.ContentHash != hash {
		m.misses.Add(1)
		return nil, false
	}
	m.hits.Add(1)
	return doc, true
}

func (m *Memory) Put(_ context.Context, path string, doc *skilltypes.SkillDocument) error {
	m.mu.Lock()
	m.entries[path] = doc
	m.mu.Unlock()
	return nil
}

func (m *Memory) Invalidate(_ context.Context, path string) error {
	m.mu.Lock()
	delete(m.entries, path)
	m.mu.Unlock()
	return nil
}

// Len returns the number of cached paths.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Stats returns hit and miss counters.
func (m *Memory) Stats() Stats {
	return Stats{Hits: m.hits.Load(), Misses: m.misses.Load()}
}

// Tiered checks a fast front cache before a slower backing one and fills the
// front on a backing hit.
type Tiered struct {
	front Cache
	back  Cache
}

// NewTiered layers front over back.
func NewTiered(front, back Cache) *Tiered {
	return &Tiered{front: front, back: back}
}

func (t *Tiered) Get(ctx context.Context, path, hash string) (*skilltypes.SkillDocument, bool) {
	if doc, ok := t.front.Get(ctx, path, hash); ok {
		return doc, true
	}
	doc, ok := t.back.Get(ctx, path, hash)
	if !ok {
		return nil, false
	}
	_ = t.front.Put(ctx, path, doc)
	return doc, true
}

func (t *Tiered) Put(ctx context.Context, path string, doc *skilltypes.SkillDocument) error {
	if err := t.front.Put(ctx, path, doc); err != nil {
		return err
	}
	return t.back.Put(ctx, path, doc)
}

func (t *Tiered) Invalidate(ctx context.Context, path string) error {
	if err := t.front.Invalidate(ctx, path); err != nil {
		return err
	}
	return t.back.Invalidate(ctx, path)
}

// Nop caches nothing.
type Nop struct{}

func (Nop) Get(context.Context, string, string) (*skilltypes.SkillDocument, bool) { return nil, false }
func (Nop) Put(context.Context, string, *skilltypes.SkillDocument) error           { return nil }
func (Nop) Invalidate(context.Context, string) error                               { return nil }
