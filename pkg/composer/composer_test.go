package composer

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	skilltypes "github.com/jingkaihe/skillrouter/pkg/types/skills"
)

func section(kind skilltypes.SectionKind, name string, tokens int, hash string) skilltypes.Section {
	return skilltypes.Section{Name: name, Kind: kind, Body: name + " body " + hash, Tokens: tokens, Hash: hash}
}

func apiAuth() *skilltypes.SkillDocument {
	return &skilltypes.SkillDocument{
		ID: "api-authentication",
		Sections: []skilltypes.Section{
			section(skilltypes.SectionOverview, "Overview", 1200, "auth-overview"),
			section(skilltypes.SectionChecklist, "Checklist", 1100, "auth-checklist"),
			section(skilltypes.SectionExamples, "Examples", 1500, "auth-examples"),
			section(skilltypes.SectionTemplates, "Templates", 1800, "auth-templates"),
			section(skilltypes.SectionAgentSelection, "Agent Selection", 100, "auth-agents"),
			section(skilltypes.SectionRelated, "Related Skills", 50, "auth-related"),
		},
	}
}

func ranked(docs ...*skilltypes.SkillDocument) skilltypes.RankedCandidates {
	var r skilltypes.RankedCandidates
	for i, d := range docs {
		score := 1.0 - float64(i)*0.1
		r.Candidates = append(r.Candidates, skilltypes.Candidate{Document: d, SkillID: d.ID, Confidence: score})
		r.Considered = append(r.Considered, skilltypes.ScoredSkill{SkillID: d.ID, Score: score})
	}
	return r
}

func blockNames(d *skilltypes.RoutingDecision) []string {
	var out []string
	for _, b := range d.Blocks {
		out = append(out, b.SkillID+"/"+b.Section)
	}
	return out
}

func TestCompose_ImplementPullsTemplatesBeforeExamples(t *testing.T) {
	d, err := New().Compose(context.Background(), ranked(apiAuth()), 4000, skilltypes.TaskImplement)
	require.NoError(t, err)

	assert.Equal(t, []string{"api-authentication/Overview", "api-authentication/Templates"}, blockNames(d))
	assert.Equal(t, 3000, d.TotalTokens)
	assert.Equal(t, 4000, d.Budget)
	assert.Equal(t, []skilltypes.SkippedSection{
		{SkillID: "api-authentication", Section: "Examples", Tokens: 1500, Reason: skilltypes.SkipBudget},
		{SkillID: "api-authentication", Section: "Checklist", Tokens: 1100, Reason: skilltypes.SkipBudget},
	}, d.Trace.Skipped)
}

func TestCompose_ReviewPullsChecklistFirst(t *testing.T) {
	d, err := New().Compose(context.Background(), ranked(apiAuth()), 4000, skilltypes.TaskReview)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"api-authentication/Overview", "api-authentication/Checklist", "api-authentication/Examples",
	}, blockNames(d))
	assert.Equal(t, 3800, d.TotalTokens)
}

func TestCompose_NeverComposesRoutingMetadata(t *testing.T) {
	d, err := New().Compose(context.Background(), ranked(apiAuth()), 100000, skilltypes.TaskNone)
	require.NoError(t, err)
	for _, b := range d.Blocks {
		assert.NotEqual(t, "Agent Selection", b.Section)
		assert.NotEqual(t, "Related Skills", b.Section)
	}
	assert.Len(t, d.Blocks, 4)
}

func TestCompose_BudgetTooSmall(t *testing.T) {
	d, err := New().Compose(context.Background(), ranked(apiAuth()), 1, skilltypes.TaskImplement)
	assert.Nil(t, d)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBudgetTooSmall))

	var berr *BudgetTooSmallError
	require.True(t, errors.As(err, &berr))
	assert.Equal(t, 1200, berr.Required)
	assert.Equal(t, "Overview", berr.Section)
	assert.Equal(t, "api-authentication", berr.SkillID)
}

func TestCompose_Dedup(t *testing.T) {
	jwt := &skilltypes.SkillDocument{
		ID: "jwt",
		Sections: []skilltypes.Section{
			section(skilltypes.SectionOverview, "Overview", 300, "jwt-overview"),
			section(skilltypes.SectionChecklist, "Checklist", 1100, "auth-checklist"),
		},
	}
	d, err := New().Compose(context.Background(), ranked(apiAuth(), jwt), 100000, skilltypes.TaskReview)
	require.NoError(t, err)

	count := 0
	for _, b := range d.Blocks {
		if b.Section == "Checklist" {
			count++
		}
	}
	assert.Equal(t, 1, count, "identical content appears once")
	assert.Contains(t, d.Trace.Skipped, skilltypes.SkippedSection{SkillID: "jwt", Section: "Checklist", Tokens: 1100, Reason: skilltypes.SkipDuplicate})
	assert.Equal(t, "jwt/Overview", blockNames(d)[len(d.Blocks)-1])
}

func TestCompose_SecondaryCoreTooLargeIsSkipped(t *testing.T) {
	huge := &skilltypes.SkillDocument{
		ID: "huge",
		Sections: []skilltypes.Section{
			section(skilltypes.SectionOverview, "Overview", 5000, "huge-overview"),
			section(skilltypes.SectionChecklist, "Checklist", 10, "huge-checklist"),
		},
	}
	small := &skilltypes.SkillDocument{
		ID:       "small",
		Sections: []skilltypes.Section{section(skilltypes.SectionOverview, "Overview", 500, "small-overview")},
	}
	d, err := New().Compose(context.Background(), ranked(apiAuth(), huge, small), 4000, skilltypes.TaskImplement)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"api-authentication/Overview", "api-authentication/Templates", "small/Overview",
	}, blockNames(d))
	assert.NotContains(t, blockNames(d), "huge/Checklist", "a skill never contributes without its core section")
}

func TestCompose_BudgetSafety(t *testing.T) {
	jwt := &skilltypes.SkillDocument{
		ID: "jwt",
		Sections: []skilltypes.Section{
			section(skilltypes.SectionOverview, "Overview", 300, "jwt-overview"),
			section(skilltypes.SectionExamples, "Examples", 700, "jwt-examples"),
			section(skilltypes.SectionOther, "Pitfalls", 90, "jwt-pitfalls"),
		},
	}
	c := New()
	for _, taskType := range append(skilltypes.AllTaskTypes(), skilltypes.TaskNone) {
		for budget := 1; budget <= 8000; budget += 37 {
			d, err := c.Compose(context.Background(), ranked(apiAuth(), jwt), budget, taskType)
			if err != nil {
				require.True(t, errors.Is(err, ErrBudgetTooSmall))
				require.Less(t, budget, 1200)
				continue
			}
			sum := 0
			for _, b := range d.Blocks {
				sum += b.Tokens
			}
			require.Equal(t, sum, d.TotalTokens)
			require.LessOrEqual(t, d.TotalTokens, budget)
		}
	}
}

func TestCompose_Deterministic(t *testing.T) {
	c := New()
	first, err := c.Compose(context.Background(), ranked(apiAuth()), 4000, skilltypes.TaskDesign)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		again, err := c.Compose(context.Background(), ranked(apiAuth()), 4000, skilltypes.TaskDesign)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestCompose_DeadlineDegrades(t *testing.T) {
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	d, err := New().Compose(ctx, ranked(apiAuth()), 4000, skilltypes.TaskImplement)
	require.NoError(t, err)
	assert.True(t, d.Degraded())
	assert.Empty(t, d.Blocks)
	require.Len(t, d.Trace.Skipped, 1)
	assert.Equal(t, skilltypes.SkipDeadline, d.Trace.Skipped[0].Reason)
}

func TestCompose_NoCandidates(t *testing.T) {
	for _, budget := range []int{1, 100} {
		d, err := New().Compose(context.Background(), skilltypes.RankedCandidates{NoMatch: true}, budget, skilltypes.TaskNone)
		require.Error(t, err)
		assert.Nil(t, d)
		assert.True(t, errors.Is(err, ErrNoCandidates))
		assert.False(t, errors.Is(err, ErrBudgetTooSmall))
	}

	d, err := New().Compose(context.Background(), skilltypes.RankedCandidates{Degraded: true}, 100, skilltypes.TaskNone)
	require.NoError(t, err)
	assert.Empty(t, d.Blocks)
	assert.True(t, d.Degraded())
}

func TestCompose_InvalidBudget(t *testing.T) {
	_, err := New().Compose(context.Background(), ranked(apiAuth()), 0, skilltypes.TaskNone)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrBudgetTooSmall))
}

func TestPriority(t *testing.T) {
	assert.Equal(t, Priority(skilltypes.TaskNone), Priority("unknown"))
	assert.Equal(t, skilltypes.SectionTemplates, Priority(skilltypes.TaskImplement)[1])
	assert.Equal(t, skilltypes.SectionChecklist, Priority(skilltypes.TaskReview)[1])
}
