package router

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/skillrouter/pkg/composer"
	"github.com/jingkaihe/skillrouter/pkg/registry"
	skilltypes "github.com/jingkaihe/skillrouter/pkg/types/skills"
)

var corpus = map[string]string{
	"api/SKILL.md": `---
id: api
domain: api
description: HTTP API design and conventions
---
## Overview

Resource naming, versioning and error envelopes for HTTP APIs.
`,
	"api/authentication/SKILL.md": `---
id: api-authentication
name: API Authentication
domain: api
skill: api
tags: [jwt, oauth]
description: Token based authentication for APIs
---
## Overview

Issue short lived JWT access tokens and rotate refresh tokens.

## Templates

` + "```go\nfunc Middleware(next http.Handler) http.Handler { return next }\n```" + `

## Examples

A login endpoint that returns a signed token pair.

## Checklist

- Tokens expire.
- Secrets are never logged.

## Agent Selection

| Task | Model | Rationale |
|------|-------|-----------|
| Generate boilerplate | haiku | mechanical |
| Review ... implementation | sonnet | needs code understanding |
| Design token strategy | opus | security trade-offs |

## Related Skills

- ` + "`api`" + `
`,
	"javascript/SKILL.md": `---
id: javascript
domain: javascript
description: Modern JavaScript language guidance
---
## Overview

Modules, async functions and tooling.
`,
	"javascript/react/SKILL.md": `---
id: javascript-react
name: React Patterns
domain: javascript
skill: javascript
tags: react, hooks
description: Components, hooks and state management
---
## Overview

Prefer function components and keep hooks at the top level.

## Checklist

1. Hooks follow the rules of hooks.
2. Effects declare every dependency.

## Agent Selection

| Task | Model | Rationale |
|------|-------|-----------|
| Generate boilerplate components | haiku | mechanical |
| Review ... implementation | sonnet | needs code understanding |
`,
	"general/SKILL.md": `---
id: general
description: General engineering practice
---
## Overview

Read the code before changing it.
`,
}

func newManager(t *testing.T) *registry.Manager {
	t.Helper()
	return newManagerWith(t, corpus)
}

func newManagerWith(t *testing.T, files map[string]string) *registry.Manager {
	t.Helper()
	dir := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	loader, err := registry.NewLoader(registry.WithWorkers(2))
	require.NoError(t, err)
	m := registry.NewManager(loader, []string{dir})
	_, _, err = m.Reload(context.Background())
	require.NoError(t, err)
	return m
}

func TestRoute_ImplementJWTAuthentication(t *testing.T) {
	r := New(newManager(t))

	d, err := r.Route(context.Background(), skilltypes.Task{
		Description: "implement JWT authentication for an API",
		TokenBudget: 4000,
	})
	require.NoError(t, err)

	require.NotEmpty(t, d.Blocks)
	assert.Equal(t, "api-authentication", d.Blocks[0].SkillID)
	assert.Equal(t, "Overview", d.Blocks[0].Section)
	assert.LessOrEqual(t, d.TotalTokens, 4000)
	assert.Equal(t, "api-authentication", d.Trace.Candidates[0].SkillID)

	assert.Equal(t, skilltypes.TaskImplement, d.Trace.TaskType)
	assert.True(t, d.Trace.TaskTypeInferred)
	assert.Equal(t, uint64(1), d.Trace.Snapshot)
	assert.False(t, d.Degraded())

	require.Len(t, d.Assignments, 1)
	assert.Equal(t, skilltypes.TierMid, d.Assignments[0].Tier)
	assert.Equal(t, "api-authentication", d.Assignments[0].SkillID)

	for _, b := range d.Blocks {
		assert.NotEqual(t, "Agent Selection", b.Section)
	}
}

func TestRoute_ReviewReactHook(t *testing.T) {
	r := New(newManager(t))

	d, err := r.Route(context.Background(), skilltypes.Task{
		Description: "review this React hook for correctness",
		TokenBudget: 2000,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"javascript-react"}, d.SkillIDs()[:1])

	require.Len(t, d.Assignments, 1)
	a := d.Assignments[0]
	assert.Equal(t, skilltypes.TierMid, a.Tier)
	assert.Equal(t, "Review ... implementation", a.Rule)
	assert.Equal(t, "javascript-react", a.SkillID)
	assert.Equal(t, string(skilltypes.TaskReview), a.SubtaskType)
}

func TestRoute_PlansSubtasks(t *testing.T) {
	r := New(newManager(t))

	d, err := r.Route(context.Background(), skilltypes.Task{
		Description: "Generate boilerplate endpoints, then review the implementation",
		SkillHint:   "api-authentication",
		TokenBudget: 4000,
	})
	require.NoError(t, err)
	assert.Equal(t, "api-authentication", d.Blocks[0].SkillID)

	require.Len(t, d.Assignments, 2)
	assert.Equal(t, skilltypes.TierAssignment{
		Subtask: "Generate boilerplate endpoints", SubtaskType: "implement",
		Tier: skilltypes.TierCheap, SkillID: "api-authentication", Rule: "Generate boilerplate",
	}, d.Assignments[0])
	assert.Equal(t, skilltypes.TierAssignment{
		Subtask: "review the implementation", SubtaskType: "review",
		Tier: skilltypes.TierMid, SkillID: "api-authentication", Rule: "Review ... implementation",
	}, d.Assignments[1])
}

func TestRoute_Errors(t *testing.T) {
	m := newManager(t)
	r := New(m)

	t.Run("invalid task", func(t *testing.T) {
		_, err := r.Route(context.Background(), skilltypes.Task{Description: "x", TokenBudget: 0})
		assert.True(t, errors.Is(err, ErrInvalidTask))

		_, err = r.Route(context.Background(), skilltypes.Task{TokenBudget: 10})
		assert.True(t, errors.Is(err, ErrInvalidTask))

		_, err = r.Route(context.Background(), skilltypes.Task{Description: "x", TokenBudget: 10, TaskType: "deploy"})
		assert.True(t, errors.Is(err, ErrInvalidTask))
	})

	t.Run("budget too small", func(t *testing.T) {
		d, err := r.Route(context.Background(), skilltypes.Task{
			Description: "implement JWT authentication for an API",
			TokenBudget: 1,
		})
		assert.Nil(t, d)
		assert.True(t, errors.Is(err, composer.ErrBudgetTooSmall))
	})

	t.Run("not loaded", func(t *testing.T) {
		loader, err := registry.NewLoader()
		require.NoError(t, err)
		_, err = New(registry.NewManager(loader, []string{t.TempDir()})).Route(context.Background(), skilltypes.Task{
			Description: "anything", TokenBudget: 100,
		})
		assert.True(t, errors.Is(err, registry.ErrNotLoaded))
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := r.Route(ctx, skilltypes.Task{Description: "implement JWT authentication", TokenBudget: 4000})
		assert.True(t, errors.Is(err, context.Canceled))
	})
}

func TestRoute_DeadlineDegrades(t *testing.T) {
	r := New(newManager(t))

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	d, err := r.Route(ctx, skilltypes.Task{Description: "implement JWT authentication for an API", TokenBudget: 4000})
	require.NoError(t, err)
	assert.True(t, d.Degraded())
	assert.Empty(t, d.Blocks)
}

func TestRoute_HintUnresolved(t *testing.T) {
	r := New(newManager(t))

	d, err := r.Route(context.Background(), skilltypes.Task{
		Description: "review this React hook",
		SkillHint:   "no-such-skill",
		TokenBudget: 2000,
	})
	require.NoError(t, err)
	assert.True(t, d.Trace.HintUnresolved)
	assert.Equal(t, "javascript-react", d.Blocks[0].SkillID)
}

func TestRoute_NoMatchFallsBackToGeneral(t *testing.T) {
	r := New(newManager(t))

	d, err := r.Route(context.Background(), skilltypes.Task{Description: "xyzzy plugh", TokenBudget: 2000})
	require.NoError(t, err)
	assert.True(t, d.Trace.NoMatch)
	assert.Equal(t, []string{"general"}, d.SkillIDs())
}

func TestRoute_NoMatchWithoutFallbackSkill(t *testing.T) {
	files := make(map[string]string, len(corpus))
	for rel, content := range corpus {
		if rel != "general/SKILL.md" {
			files[rel] = content
		}
	}
	r := New(newManagerWith(t, files))

	for _, budget := range []int{1, 2000} {
		d, err := r.Route(context.Background(), skilltypes.Task{Description: "xyzzy plugh", TokenBudget: budget})
		assert.Nil(t, d)
		assert.True(t, errors.Is(err, composer.ErrNoCandidates))
	}

	d, err := r.Route(context.Background(), skilltypes.Task{Description: "implement JWT authentication for an API", TokenBudget: 1})
	assert.Nil(t, d)
	assert.True(t, errors.Is(err, composer.ErrBudgetTooSmall))
}

func TestRoute_ConcurrentWithReload(t *testing.T) {
	m := newManager(t)
	r := New(m)
	task := skilltypes.Task{Description: "implement JWT authentication for an API", TokenBudget: 4000}

	want, err := r.Route(context.Background(), task)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				got, err := r.Route(context.Background(), task)
				if assert.NoError(t, err) {
					assert.Equal(t, want.Blocks, got.Blocks)
				}
			}
		}()
	}
	for i := 0; i < 3; i++ {
		_, _, err := m.Reload(context.Background())
		require.NoError(t, err)
	}
	wg.Wait()
}

func TestPlan(t *testing.T) {
	tests := []struct {
		name        string
		description string
		taskType    skilltypes.TaskType
		want        []Subtask
	}{
		{
			name:        "single clause",
			description: "implement the login endpoint",
			taskType:    skilltypes.TaskImplement,
			want:        []Subtask{{Text: "implement the login endpoint", Type: skilltypes.TaskImplement}},
		},
		{
			name:        "sequential steps",
			description: "Design the schema; implement the migration and then review it",
			taskType:    skilltypes.TaskDesign,
			want: []Subtask{
				{Text: "Design the schema", Type: skilltypes.TaskDesign},
				{Text: "implement the migration", Type: skilltypes.TaskImplement},
				{Text: "review it", Type: skilltypes.TaskReview},
			},
		},
		{
			name:        "untyped later step keeps task type",
			description: "fix the crash\nthe flaky test",
			taskType:    skilltypes.TaskDebug,
			want: []Subtask{
				{Text: "fix the crash", Type: skilltypes.TaskDebug},
				{Text: "the flaky test", Type: skilltypes.TaskDebug},
			},
		},
		{
			name:        "empty",
			description: "  ",
			want:        nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Plan(tt.description, tt.taskType))
		})
	}
}

func TestAssign_NoDocumentUsesDefault(t *testing.T) {
	got := Assign(nil, []Subtask{{Text: "design the cache eviction policy"}})
	require.Len(t, got, 1)
	assert.Equal(t, skilltypes.TierTop, got[0].Tier)
	assert.Equal(t, "default", got[0].Rule)
	assert.Empty(t, got[0].SkillID)
}
