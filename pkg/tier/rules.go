package tier

import (
	"strings"
	"sync"
	"unicode"

	"github.com/gobwas/glob"
	"github.com/pkg/errors"

	skilltypes "github.com/jingkaihe/skillrouter/pkg/types/skills"
)

// Rule DSL
//
// A Task cell such as "Review implementation / audit PR" is split into
// alternatives on "/", ",", ";", "|" and " or ". Each alternative keeps its
// significant keywords in order ("review implementation"); "..." and "*" act
// as explicit wildcards and are implied between keywords anyway. A pattern
// matches a subtask when all of its keywords appear in that order, which is
// compiled to the glob "*review*implementation*".

var alternativeSeparators = []string{"/", ",", ";", "|", " or "}

var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "of": true, "for": true, "to": true,
	"and": true, "with": true, "on": true, "in": true, "this": true, "that": true,
	"these": true, "those": true, "any": true, "new": true, "into": true, "from": true,
	"by": true, "is": true, "are": true, "be": true, "as": true, "at": true,
	"it": true, "its": true, "e": true, "g": true, "eg": true, "etc": true,
}

// BuildRule parses one Agent Selection row into a TierRule.
func BuildRule(task, model, rationale string) (skilltypes.TierRule, error) {
	task = strings.TrimSpace(task)
	if task == "" {
		return skilltypes.TierRule{}, errors.New("empty task pattern")
	}
	t, ok := ParseModel(model)
	if !ok {
		return skilltypes.TierRule{}, errors.Errorf("cannot map model %q to a tier", model)
	}
	patterns := Patterns(task)
	if len(patterns) == 0 {
		return skilltypes.TierRule{}, errors.Errorf("task %q has no keywords", task)
	}
	for _, p := range patterns {
		if _, err := compile(p); err != nil {
			return skilltypes.TierRule{}, err
		}
	}
	return skilltypes.TierRule{
		Task:      task,
		Model:     strings.TrimSpace(model),
		Tier:      t,
		Rationale: strings.TrimSpace(rationale),
		Patterns:  patterns,
	}, nil
}

// Patterns normalizes a Task cell into its keyword alternatives.
func Patterns(task string) []string {
	text := strings.ToLower(task)
	text = strings.NewReplacer("...", " * ", "…", " * ").Replace(text)
	alternatives := []string{text}
	for _, sep := range alternativeSeparators {
		var next []string
		for _, alt := range alternatives {
			next = append(next, strings.Split(alt, sep)...)
		}
		alternatives = next
	}

	var patterns []string
	seen := make(map[string]bool)
	for _, alt := range alternatives {
		keywords := keywordsOf(alt)
		if len(keywords) == 0 {
			continue
		}
		p := strings.Join(keywords, " ")
		if !seen[p] {
			seen[p] = true
			patterns = append(patterns, p)
		}
	}
	return patterns
}

func keywordsOf(text string) []string {
	var keywords []string
	for _, w := range splitWords(text) {
		if w == "*" {
			continue
		}
		if stopWords[w] {
			continue
		}
		keywords = append(keywords, stem(w))
	}
	return keywords
}

// splitWords lowercases and splits on anything that is not a letter, digit,
// hyphen or asterisk.
func splitWords(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '*'
	})
}

// stem strips common English inflections so "reviews" and "reviewing" share
// the prefix "review". Short words are left alone.
func stem(w string) string {
	for _, suffix := range []string{"ing", "ed", "es", "s"} {
		if strings.HasSuffix(w, suffix) && len(w)-len(suffix) >= 4 {
			return strings.TrimSuffix(w, suffix)
		}
	}
	return w
}

// globs memoizes compiled patterns. Rules survive the parsed-document cache
// as plain strings, so compiled forms are keyed by pattern text.
var globs sync.Map // pattern -> compiled

type compiled struct {
	g   glob.Glob
	err error
}

// compile returns the memoized glob of a normalized pattern.
func compile(pattern string) (glob.Glob, error) {
	if c, ok := globs.Load(pattern); ok {
		return c.(compiled).g, c.(compiled).err
	}
	g, err := compileGlob(pattern)
	c, _ := globs.LoadOrStore(pattern, compiled{g: g, err: err})
	return c.(compiled).g, c.(compiled).err
}

// compileGlob turns a normalized pattern into a glob over a lowercased subject.
func compileGlob(pattern string) (glob.Glob, error) {
	keywords := strings.Fields(pattern)
	if len(keywords) == 0 {
		return nil, errors.New("empty pattern")
	}
	g, err := glob.Compile("*" + strings.Join(keywords, "*") + "*")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to compile pattern %q", pattern)
	}
	return g, nil
}

// leadingKeyword returns the first keyword of a pattern, normally its verb.
func leadingKeyword(pattern string) string {
	keywords := strings.Fields(pattern)
	if len(keywords) == 0 {
		return ""
	}
	return keywords[0]
}
