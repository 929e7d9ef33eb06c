package presenter

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	skilltypes "github.com/jingkaihe/skillrouter/pkg/types/skills"
)

func TestDetectColorMode(t *testing.T) {
	tests := []struct {
		name     string
		noColor  string
		color    string
		expected ColorMode
	}{
		{"NO_COLOR set", "1", "", ColorNever},
		{"always", "", "always", ColorAlways},
		{"force", "", "force", ColorAlways},
		{"never", "", "never", ColorNever},
		{"off", "", "off", ColorNever},
		{"default", "", "", ColorAuto},
		{"invalid", "", "sometimes", ColorAuto},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("NO_COLOR", tt.noColor)
			t.Setenv("SKILLROUTER_COLOR", tt.color)
			assert.Equal(t, tt.expected, detectColorMode())
		})
	}
}

func TestMessages(t *testing.T) {
	var out, errOut bytes.Buffer
	p := NewWithOptions(&out, &errOut, ColorNever)

	p.Error(errors.New("boom"), "loading corpus")
	assert.Equal(t, "[ERROR] loading corpus: boom\n", errOut.String())

	errOut.Reset()
	p.Error(nil, "ignored")
	assert.Empty(t, errOut.String())

	p.Success("loaded")
	p.Warning("2 documents quarantined")
	p.Info("plain")
	p.Section("Skills")
	assert.Equal(t, "✓ loaded\n⚠ 2 documents quarantined\nplain\nSkills\n------\n", out.String())
}

func TestQuietMode(t *testing.T) {
	var out, errOut bytes.Buffer
	p := NewWithOptions(&out, &errOut, ColorNever)
	p.SetQuiet(true)
	assert.True(t, p.IsQuiet())

	p.Success("x")
	p.Warning("x")
	p.Info("x")
	p.Section("x")
	p.Separator()
	assert.Empty(t, out.String())

	p.Error(errors.New("still shown"), "")
	assert.Contains(t, errOut.String(), "still shown")
}

func TestDecision(t *testing.T) {
	d := &skilltypes.RoutingDecision{
		Blocks: []skilltypes.Block{
			{SkillID: "api-authentication", Section: "Overview", Content: "Use JWT.\nRotate keys.", Tokens: 6},
		},
		TotalTokens: 6,
		Budget:      100,
		Assignments: []skilltypes.TierAssignment{
			{Subtask: "review the implementation", Tier: skilltypes.TierMid, Rule: "Review ... implementation"},
		},
		Trace: skilltypes.Trace{
			Skipped:  []skilltypes.SkippedSection{{SkillID: "api-authentication", Section: "Examples", Tokens: 500, Reason: skilltypes.SkipBudget}},
			Degraded: true,
		},
	}

	t.Run("summary", func(t *testing.T) {
		var out bytes.Buffer
		NewWithOptions(&out, nil, ColorNever).Decision(d, false)
		got := out.String()

		assert.Contains(t, got, "Context: 6/100 tokens from 1 block(s)")
		assert.Contains(t, got, "api-authentication / Overview (6 tokens)")
		assert.Contains(t, got, "mid   review the implementation [rule: Review ... implementation]")
		assert.Contains(t, got, "api-authentication / Examples (500 tokens, budget)")
		assert.Contains(t, got, "deadline reached")
		assert.NotContains(t, got, "Rotate keys.")
	})

	t.Run("with content", func(t *testing.T) {
		var out bytes.Buffer
		p := NewWithOptions(&out, nil, ColorNever)
		p.SetQuiet(true)
		p.Decision(d, true)

		lines := strings.Split(out.String(), "\n")
		require.Greater(t, len(lines), 3)
		assert.Equal(t, "    Use JWT.", lines[2])
		assert.Equal(t, "    Rotate keys.", lines[3])
	})
}

func TestGlobalFunctions(t *testing.T) {
	original := defaultPresenter
	defer func() { defaultPresenter = original }()

	var out, errOut bytes.Buffer
	defaultPresenter = NewWithOptions(&out, &errOut, ColorNever)

	Error(errors.New("bad"), "ctx")
	assert.Contains(t, errOut.String(), "[ERROR] ctx: bad")

	Success("ok")
	Warning("careful")
	Info("note")
	Section("Head")
	Separator()
	Decision(&skilltypes.RoutingDecision{Budget: 10}, false)
	got := out.String()
	for _, want := range []string{"✓ ok", "⚠ careful", "note", "Head", strings.Repeat("-", 60), "Context: 0/10"} {
		assert.Contains(t, got, want)
	}

	SetQuiet(true)
	assert.True(t, IsQuiet())
	out.Reset()
	Info("hidden")
	assert.Empty(t, out.String())
	SetQuiet(false)
}
