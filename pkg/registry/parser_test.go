package registry

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	skilltypes "github.com/jingkaihe/skillrouter/pkg/types/skills"
)

const reactSkill = "---\n" +
	"id: javascript-react\n" +
	"name: React Patterns\n" +
	"domain: javascript\n" +
	"skill: javascript\n" +
	"category: frontend\n" +
	"description: Hooks, components and state management\n" +
	"tags: react, hooks\n" +
	"user-invocable: true\n" +
	"allowed-tools:\n" +
	"  - read_file\n" +
	"  - grep\n" +
	"related:\n" +
	"  - typescript\n" +
	"---\n" +
	"# React Patterns\n\n" +
	"Intro paragraph.\n\n" +
	"## Overview\n\n" +
	"React overview text.\n\n" +
	"## Checklist\n\n" +
	"1. Hooks follow the rules of hooks.\n\n" +
	"## Templates\n\n" +
	"```tsx\n" +
	"## Not a heading\n" +
	"export function Component() {}\n" +
	"```\n\n" +
	"## Examples\n\n" +
	"Example text.\n\n" +
	"## Agent Selection\n\n" +
	"| Task | Model | Rationale |\n" +
	"|------|-------|-----------|\n" +
	"| Generate boilerplate components | haiku | mechanical |\n" +
	"| Review ... implementation | sonnet | needs code understanding |\n" +
	"| Something | llama | unknown |\n\n" +
	"## Related Skills\n\n" +
	"- [JavaScript](../javascript/SKILL.md) - base language\n" +
	"- `typescript`\n" +
	"- testing-library - component tests\n"

func TestParse(t *testing.T) {
	doc, err := NewParser(nil).Parse(context.Background(), "skills/react/SKILL.md", []byte(reactSkill))
	require.NoError(t, err)

	t.Run("frontmatter", func(t *testing.T) {
		assert.Equal(t, "javascript-react", doc.ID)
		assert.Equal(t, "React Patterns", doc.Name)
		assert.Equal(t, "javascript", doc.Domain)
		assert.Equal(t, "javascript", doc.ParentSkill)
		assert.Equal(t, "frontend", doc.Category)
		assert.Equal(t, []string{"react", "hooks"}, doc.Tags)
		assert.True(t, doc.UserInvocable)
		assert.Equal(t, []string{"read_file", "grep"}, doc.AllowedTools)
		assert.Equal(t, HashContent([]byte(reactSkill)), doc.ContentHash)
		assert.Equal(t, "skills/react/SKILL.md", doc.Path)
	})

	t.Run("sections", func(t *testing.T) {
		var names []string
		for _, s := range doc.Sections {
			names = append(names, s.Name)
			assert.Positive(t, s.Tokens, s.Name)
			assert.Equal(t, hashSection(s.Body), s.Hash)
		}
		assert.Equal(t, []string{"Overview", "Checklist", "Templates", "Examples", "Agent Selection", "Related Skills"}, names)

		overview, ok := doc.Section("overview")
		require.True(t, ok)
		assert.Equal(t, "Intro paragraph.\n\nReact overview text.", overview.Body)

		templates, ok := doc.Section("Templates")
		require.True(t, ok)
		assert.Contains(t, templates.Body, "## Not a heading", "fenced code never splits a section")

		agent, ok := doc.Section("Agent Selection")
		require.True(t, ok)
		assert.False(t, agent.Kind.Composable())
	})

	t.Run("tier rules", func(t *testing.T) {
		require.Len(t, doc.TierRules, 2, "the row with an unknown model is skipped")
		assert.Equal(t, skilltypes.TierCheap, doc.TierRules[0].Tier)
		assert.Equal(t, "Review ... implementation", doc.TierRules[1].Task)
		assert.Equal(t, skilltypes.TierMid, doc.TierRules[1].Tier)
		assert.Equal(t, []string{"review implementation"}, doc.TierRules[1].Patterns)
		assert.Equal(t, "needs code understanding", doc.TierRules[1].Rationale)
	})

	t.Run("references", func(t *testing.T) {
		assert.Equal(t, []skilltypes.Reference{
			{Target: "javascript", Aliases: []string{"JavaScript"}},
			{Target: "typescript"},
			{Target: "testing-library"},
		}, doc.References)
	})
}

func TestParse_Quarantine(t *testing.T) {
	p := NewParser(nil)

	t.Run("missing id", func(t *testing.T) {
		_, err := p.Parse(context.Background(), "a.md", []byte("---\nname: Nameless\n---\n## Overview\n\ntext\n"))
		assert.ErrorIs(t, err, ErrMissingID)
	})

	t.Run("no frontmatter", func(t *testing.T) {
		_, err := p.Parse(context.Background(), "a.md", []byte("# Just markdown\n\ntext\n"))
		assert.ErrorIs(t, err, ErrMissingID)
	})

	t.Run("malformed frontmatter", func(t *testing.T) {
		_, err := p.Parse(context.Background(), "a.md", []byte("---\nid: [unclosed\nname: x\n---\n\ntext\n"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrMalformedFrontmatter), err.Error())
	})
}

func TestParse_SetextAndPlainBody(t *testing.T) {
	content := "---\nid: plain\nparent: root\n---\nSome preamble.\n\nChecklist\n---------\n\n- [ ] first\n\nDeployment Notes\n================\n\nnotes\n"
	doc, err := NewParser(nil).Parse(context.Background(), "plain.md", []byte(content))
	require.NoError(t, err)

	assert.Equal(t, "root", doc.ParentSkill)
	assert.Equal(t, "plain", doc.Name)
	require.Len(t, doc.Sections, 3)
	assert.Equal(t, "Overview", doc.Sections[0].Name)
	assert.Equal(t, "Some preamble.", doc.Sections[0].Body)
	assert.Equal(t, "Checklist", doc.Sections[1].Name)
	assert.Equal(t, "- [ ] first", doc.Sections[1].Body)
	assert.Equal(t, "Deployment Notes", doc.Sections[2].Name)
	assert.Equal(t, skilltypes.SectionOther, doc.Sections[2].Kind)
}

func TestParse_SameBodySameHash(t *testing.T) {
	a := "---\nid: a\n---\n## Checklist\n\n- validate tokens\n"
	b := "---\nid: b\n---\n## Checklist\r\n\r\n- validate tokens\r\n"
	p := NewParser(nil)
	da, err := p.Parse(context.Background(), "a.md", []byte(a))
	require.NoError(t, err)
	db, err := p.Parse(context.Background(), "b.md", []byte(b))
	require.NoError(t, err)
	assert.Equal(t, da.Sections[0].Hash, db.Sections[0].Hash)
	assert.NotEqual(t, da.ContentHash, db.ContentHash)
}

func TestParse_AgentSelectionAsParagraph(t *testing.T) {
	content := "---\nid: gitops\n---\n## Overview\n\nGitOps.\n\n**Agent Selection**\n\n" +
		"| Model | Task |\n|---|---|\n| opus | Design rollout strategy |\n"
	doc, err := NewParser(nil).Parse(context.Background(), "gitops.md", []byte(content))
	require.NoError(t, err)
	require.Len(t, doc.TierRules, 1)
	assert.Equal(t, "Design rollout strategy", doc.TierRules[0].Task)
	assert.Equal(t, skilltypes.TierTop, doc.TierRules[0].Tier)
}

func TestParse_NestedAgentSelectionIsNotComposable(t *testing.T) {
	content := "---\nid: terraform\n---\n## Overview\n\nTerraform modules.\n\n" +
		"### Agent Selection\n\n" +
		"| Task | Model | Rationale |\n|---|---|---|\n| Run plan | haiku | mechanical |\n\n" +
		"### State\n\nRemote state lives in S3.\n\n" +
		"## Checklist\n\n1. Pin providers.\n"
	doc, err := NewParser(nil).Parse(context.Background(), "terraform.md", []byte(content))
	require.NoError(t, err)

	require.Len(t, doc.TierRules, 1)
	assert.Equal(t, skilltypes.TierCheap, doc.TierRules[0].Tier)

	overview, ok := doc.Section("Overview")
	require.True(t, ok)
	assert.Contains(t, overview.Body, "Terraform modules.")
	assert.Contains(t, overview.Body, "### State")
	assert.Contains(t, overview.Body, "Remote state lives in S3.")
	assert.NotContains(t, overview.Body, "Agent Selection")
	assert.NotContains(t, overview.Body, "Run plan")

	agent, ok := doc.Section("Agent Selection")
	require.True(t, ok)
	assert.Equal(t, skilltypes.SectionAgentSelection, agent.Kind)
	assert.Contains(t, agent.Body, "| Run plan | haiku | mechanical |")
	assert.NotContains(t, agent.Body, "Remote state")

	checklist, ok := doc.Section("Checklist")
	require.True(t, ok)
	assert.Equal(t, "1. Pin providers.", checklist.Body)
}

func TestClassifyHeading(t *testing.T) {
	tests := map[string]skilltypes.SectionKind{
		"Overview":               skilltypes.SectionOverview,
		"README":                 skilltypes.SectionOverview,
		"When to Use":            skilltypes.SectionOverview,
		"Security Checklist":     skilltypes.SectionChecklist,
		"Code Examples":          skilltypes.SectionExamples,
		"Templates":              skilltypes.SectionTemplates,
		"LLM Prompts":            skilltypes.SectionPrompts,
		"Prompt Templates":       skilltypes.SectionPrompts,
		"Agent Selection":        skilltypes.SectionAgentSelection,
		"Related Skills":         skilltypes.SectionRelated,
		"Related Files":          skilltypes.SectionRelated,
		"Implementation Details": skilltypes.SectionOther,
	}
	for title, expected := range tests {
		t.Run(title, func(t *testing.T) {
			assert.Equal(t, expected, classifyHeading(title))
		})
	}
}

func TestTargetFromDestination(t *testing.T) {
	tests := map[string]string{
		"../api-auth/SKILL.md":   "api-auth",
		"./jwt-flows.md":         "jwt-flows",
		"oauth.md#scopes":        "oauth",
		"../messaging/":          "messaging",
		"docs/README.md":         "docs",
		"SKILL.md":               "",
		`..\windows\path\SKILL.md`: "path",
	}
	for dest, expected := range tests {
		t.Run(dest, func(t *testing.T) {
			assert.Equal(t, expected, targetFromDestination(dest))
		})
	}
}

func TestLeadingText(t *testing.T) {
	assert.Equal(t, "api-authentication", leadingText("api-authentication - JWT and OAuth flows"))
	assert.Equal(t, "tdd", leadingText("tdd: test first"))
	assert.Equal(t, "ddd", leadingText("ddd (domain driven design)"))
	assert.Empty(t, leadingText("this is a long sentence of prose about related things"))
}
