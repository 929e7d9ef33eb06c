package cache

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	skilltypes "github.com/jingkaihe/skillrouter/pkg/types/skills"
)

func testDoc(path, hash string) *skilltypes.SkillDocument {
	return &skilltypes.SkillDocument{
		ID:          "javascript-react",
		Name:        "React",
		Domain:      "javascript",
		Tags:        []string{"react", "hooks"},
		Path:        path,
		ContentHash: hash,
		Sections: []skilltypes.Section{
			{Name: "Overview", Kind: skilltypes.SectionOverview, Body: "React skill.", Tokens: 3, Hash: "abc"},
		},
		TierRules: []skilltypes.TierRule{
			{Task: "Review hook", Model: "sonnet", Tier: skilltypes.TierMid, Patterns: []string{"review hook"}},
		},
		References: []skilltypes.Reference{{Target: "javascript", Aliases: []string{"JavaScript"}}},
	}
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, ok := m.Get(ctx, "a.md", "h1")
	assert.False(t, ok)

	require.NoError(t, m.Put(ctx, "a.md", testDoc("a.md", "h1")))
	doc, ok := m.Get(ctx, "a.md", "h1")
	require.True(t, ok)
	assert.Equal(t, "javascript-react", doc.ID)

	_, ok = m.Get(ctx, "a.md", "h2")
	assert.False(t, ok, "stale hash is a miss")

	require.NoError(t, m.Invalidate(ctx, "a.md"))
	_, ok = m.Get(ctx, "a.md", "h1")
	assert.False(t, ok)
	assert.Equal(t, 0, m.Len())

	assert.Equal(t, Stats{Hits: 1, Misses: 3}, m.Stats())
}

func TestSQLite(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")

	s, err := OpenSQLite(ctx, path)
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "skills/react/SKILL.md", testDoc("skills/react/SKILL.md", "h1")))
	require.NoError(t, s.Close())

	t.Run("survives reopen", func(t *testing.T) {
		s, err := OpenSQLite(ctx, path)
		require.NoError(t, err)
		defer s.Close()

		doc, ok := s.Get(ctx, "skills/react/SKILL.md", "h1")
		require.True(t, ok)
		assert.Equal(t, testDoc("skills/react/SKILL.md", "h1"), doc)

		_, ok = s.Get(ctx, "skills/react/SKILL.md", "other")
		assert.False(t, ok)
		_, ok = s.Get(ctx, "missing.md", "h1")
		assert.False(t, ok)
	})

	t.Run("put overwrites", func(t *testing.T) {
		s, err := OpenSQLite(ctx, path)
		require.NoError(t, err)
		defer s.Close()

		require.NoError(t, s.Put(ctx, "skills/react/SKILL.md", testDoc("skills/react/SKILL.md", "h2")))
		_, ok := s.Get(ctx, "skills/react/SKILL.md", "h1")
		assert.False(t, ok)
		_, ok = s.Get(ctx, "skills/react/SKILL.md", "h2")
		assert.True(t, ok)

		n, err := s.Len(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("prune", func(t *testing.T) {
		s, err := OpenSQLite(ctx, path)
		require.NoError(t, err)
		defer s.Close()

		require.NoError(t, s.Put(ctx, "gone.md", testDoc("gone.md", "h3")))
		removed, err := s.Prune(ctx, []string{"skills/react/SKILL.md"})
		require.NoError(t, err)
		assert.Equal(t, 1, removed)

		n, err := s.Len(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}

func TestTiered(t *testing.T) {
	ctx := context.Background()
	front, back := NewMemory(), NewMemory()
	tc := NewTiered(front, back)

	require.NoError(t, back.Put(ctx, "a.md", testDoc("a.md", "h1")))

	_, ok := tc.Get(ctx, "a.md", "h1")
	require.True(t, ok)
	assert.Equal(t, 1, front.Len(), "backing hit fills the front cache")

	require.NoError(t, tc.Invalidate(ctx, "a.md"))
	assert.Equal(t, 0, front.Len())
	assert.Equal(t, 0, back.Len())

	require.NoError(t, tc.Put(ctx, "b.md", testDoc("b.md", "h2")))
	assert.Equal(t, 1, front.Len())
	assert.Equal(t, 1, back.Len())
}

func TestNop(t *testing.T) {
	var c Cache = Nop{}
	require.NoError(t, c.Put(context.Background(), "a.md", testDoc("a.md", "h")))
	_, ok := c.Get(context.Background(), "a.md", "h")
	assert.False(t, ok)
}
