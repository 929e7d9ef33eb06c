package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/skillrouter/pkg/composer"
	"github.com/jingkaihe/skillrouter/pkg/registry"
	skilltypes "github.com/jingkaihe/skillrouter/pkg/types/skills"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, exitOK},
		{"budget", &composer.BudgetTooSmallError{Budget: 10, Required: 100}, exitBudgetTooSmall},
		{"wrapped budget", errors.Wrap(&composer.BudgetTooSmallError{}, "routing failed"), exitBudgetTooSmall},
		{"registry", &registryError{cause: errors.New("boom")}, exitRegistry},
		{"hierarchy", errors.Wrap(registry.ErrHierarchy, "load"), exitRegistry},
		{"other", errors.New("boom"), exitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestCheckFormat(t *testing.T) {
	for _, f := range []string{"text", "json", "yaml"} {
		assert.NoError(t, checkFormat(f))
	}
	assert.Error(t, checkFormat("xml"))
}

func TestWriteYAML_UsesJSONFieldNames(t *testing.T) {
	d := &skilltypes.RoutingDecision{
		Blocks:      []skilltypes.Block{{SkillID: "api", Section: "Overview", Content: "x", Tokens: 3}},
		TotalTokens: 3,
		Budget:      100,
	}

	var buf bytes.Buffer
	require.NoError(t, writeYAML(&buf, d))

	out := buf.String()
	assert.Contains(t, out, "totalTokens: 3")
	assert.Contains(t, out, "skillId: api")
	assert.Contains(t, out, "budget: 100")
	assert.NotContains(t, out, "TotalTokens")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
	assert.Equal(t, "-", dash(""))
}

func writeSkill(t *testing.T, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func loadCorpus(t *testing.T) *registry.Snapshot {
	t.Helper()
	dir := t.TempDir()
	writeSkill(t, dir, "api/SKILL.md", "---\nid: api\ndomain: eng\ndescription: HTTP APIs\n---\n## Overview\n\nAPIs.\n")
	writeSkill(t, dir, "api/auth/SKILL.md", "---\nid: api-authentication\ndomain: eng\nskill: api\n---\n## Overview\n\nJWT.\n")
	writeSkill(t, dir, "api/rate/SKILL.md", "---\nid: api-rate-limiting\ndomain: eng\nskill: api\n---\n## Overview\n\nLimits.\n")

	l, err := registry.NewLoader()
	require.NoError(t, err)
	snap, err := l.Load(context.Background(), []string{dir})
	require.NoError(t, err)
	return snap
}

func TestCheckFallback(t *testing.T) {
	snap := loadCorpus(t)

	assert.NoError(t, checkFallback(snap, "api"))
	assert.ErrorContains(t, checkFallback(snap, "general"), `"general"`)
	assert.Error(t, checkFallback(snap, ""))
}

func TestPrintTree(t *testing.T) {
	snap := loadCorpus(t)

	var buf bytes.Buffer
	printTree(&buf, snap)

	assert.Equal(t, "api\n├── api-authentication\n└── api-rate-limiting\n", buf.String())
}

func TestShowSkill(t *testing.T) {
	snap := loadCorpus(t)

	var buf bytes.Buffer
	require.NoError(t, showSkill(&buf, snap, "api", "text"))
	out := buf.String()
	assert.Contains(t, out, "api (")
	assert.Contains(t, out, "description: HTTP APIs")
	assert.Contains(t, out, "Children: api-authentication, api-rate-limiting")

	assert.Error(t, showSkill(&buf, snap, "missing", "text"))
	assert.Error(t, showSkill(&buf, snap, "api", "xml"))
}

func TestWriteSummaries(t *testing.T) {
	snap := loadCorpus(t)

	var buf bytes.Buffer
	require.NoError(t, listSkills(&buf, snap, &SkillsListConfig{Domain: "eng"}))

	out := buf.String()
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "api-authentication")
	assert.Contains(t, out, "api-rate-limiting")
}
