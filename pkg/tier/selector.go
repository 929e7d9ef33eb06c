package tier

import (
	"strings"

	skilltypes "github.com/jingkaihe/skillrouter/pkg/types/skills"
)

// DefaultRule names the verb heuristic in a Match.
const DefaultRule = "default"

// Verb sets of the corpus-wide default heuristic.
var defaultVerbs = map[string]skilltypes.ModelTier{}

func init() {
	register := func(t skilltypes.ModelTier, words ...string) {
		for _, w := range words {
			defaultVerbs[w] = t
		}
	}
	register(skilltypes.TierCheap,
		"generate", "generates", "generated", "generating", "generation",
		"apply", "applies", "applied", "applying",
		"run", "runs", "running",
		"list", "lists", "listing",
		"format", "formatting", "scaffold", "scaffolding",
	)
	register(skilltypes.TierMid,
		"review", "reviews", "reviewed", "reviewing",
		"debug", "debugs", "debugging",
		"analyze", "analyse", "analyzes", "analyses", "analyzing", "analysing", "analysis",
		"implement", "implements", "implemented", "implementing", "implementation",
		"refactor", "refactoring", "fix", "fixing",
	)
	register(skilltypes.TierTop,
		"design", "designs", "designing",
		"optimize", "optimise", "optimizes", "optimizing", "optimising", "optimization",
		"architect", "architects", "architecture", "architectural", "architecting",
		"trade-off", "trade-offs", "tradeoff", "tradeoffs",
	)
}

// Match explains a tier decision.
type Match struct {
	Tier skilltypes.ModelTier
	// Rule is the matched table pattern, or DefaultRule.
	Rule      string
	FromTable bool
}

// Select returns the tier for a subtask under the skill's rules.
func Select(doc *skilltypes.SkillDocument, subtask string) skilltypes.ModelTier {
	return Explain(doc, subtask).Tier
}

// Explain resolves a subtask against the skill's Agent Selection rules.
// Precedence: a full pattern match in table order, then a leading-keyword
// match in table order, then the default verb heuristic. The first match wins
// at each step, so the result only depends on rule order.
func Explain(doc *skilltypes.SkillDocument, subtask string) Match {
	subject := strings.Join(splitWords(subtask), " ")

	if doc != nil && len(doc.TierRules) > 0 {
		for _, rule := range doc.TierRules {
			for _, p := range rule.Patterns {
				g, err := compile(p)
				if err != nil {
					continue
				}
				if g.Match(subject) {
					return Match{Tier: rule.Tier, Rule: rule.Task, FromTable: true}
				}
			}
		}

		words := splitWords(subtask)
		for _, rule := range doc.TierRules {
			for _, p := range rule.Patterns {
				if hasWordWithPrefix(words, leadingKeyword(p)) {
					return Match{Tier: rule.Tier, Rule: rule.Task, FromTable: true}
				}
			}
		}
	}

	return Match{Tier: Default(subtask), Rule: DefaultRule}
}

// Default applies the verb heuristic: the highest tier among the verbs found
// in the subtask, or mid when no known verb appears.
func Default(subtask string) skilltypes.ModelTier {
	best := skilltypes.ModelTier("")
	for _, w := range splitWords(subtask) {
		if t, ok := defaultVerbs[w]; ok && t.Rank() > best.Rank() {
			best = t
		}
	}
	if best == "" {
		return skilltypes.TierMid
	}
	return best
}

func hasWordWithPrefix(words []string, prefix string) bool {
	if prefix == "" {
		return false
	}
	for _, w := range words {
		if strings.HasPrefix(w, prefix) {
			return true
		}
	}
	return false
}
