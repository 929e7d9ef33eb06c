// Package tier assigns model tiers to subtasks. Rules come from a skill's
// Agent Selection table (Task | Model | Rationale); when no rule matches, a
// corpus-wide verb heuristic decides. Everything here is a pure function of
// its inputs.
package tier

import (
	"strings"
	"unicode"

	skilltypes "github.com/jingkaihe/skillrouter/pkg/types/skills"
)

// Size and family words that identify a tier inside a model name. Size
// qualifiers are checked first so "gpt-4o-mini" lands on cheap.
var (
	cheapModelWords = []string{"haiku", "mini", "flash", "lite", "small", "nano", "cheap", "low", "fast", "instant"}
	topModelWords   = []string{"opus", "top", "large", "ultra", "o1", "o3", "premium", "reasoning", "high", "max"}
	midModelWords   = []string{"sonnet", "mid", "medium", "standard", "4o", "pro", "balanced"}
)

// ParseModel maps a model name as written in an Agent Selection table to a
// tier. It accepts tier names themselves ("mid") as well as model family
// names ("Claude Haiku", "sonnet", "gpt-4o-mini").
func ParseModel(model string) (skilltypes.ModelTier, bool) {
	words := splitModelName(model)
	if len(words) == 0 {
		return "", false
	}
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}

	for _, group := range []struct {
		tier  skilltypes.ModelTier
		words []string
	}{
		{skilltypes.TierCheap, cheapModelWords},
		{skilltypes.TierTop, topModelWords},
		{skilltypes.TierMid, midModelWords},
	} {
		for _, w := range group.words {
			if set[w] {
				return group.tier, true
			}
		}
	}
	return "", false
}

func splitModelName(model string) []string {
	return strings.FieldsFunc(strings.ToLower(model), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
