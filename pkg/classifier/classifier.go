// Package classifier ranks skills against a task description.
package classifier

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"go.opentelemetry.io/otel/attribute"

	"github.com/jingkaihe/skillrouter/pkg/logger"
	"github.com/jingkaihe/skillrouter/pkg/telemetry"
	skilltypes "github.com/jingkaihe/skillrouter/pkg/types/skills"
)

// Field weights. A query term counts once per document, at the heaviest
// field it appears in.
const (
	WeightIdentity    = 3.0 // id and name
	WeightTags        = 2.5
	WeightDomain      = 2.0
	WeightCategory    = 1.5
	WeightDescription = 1.0
	WeightHeadings    = 0.5

	// prefixFactor scales a match where one word only prefixes the other
	// ("auth" and "authentication").
	prefixFactor = 0.75
)

// Reasons recorded on rejected trace entries.
const (
	ReasonBelowThreshold = "below threshold"
	ReasonMaxCandidates  = "beyond max candidates"
)

// Index is the read side of a registry snapshot.
type Index interface {
	All() []*skilltypes.SkillDocument
	Lookup(id string) (*skilltypes.SkillDocument, bool)
	Ancestors(id string) []*skilltypes.SkillDocument
}

// Options tunes ranking.
type Options struct {
	// Threshold is the minimum confidence a candidate needs.
	Threshold float64
	// MaxCandidates caps the ranked list, hint included.
	MaxCandidates int
	// FallbackID names the general skill returned when nothing matches.
	FallbackID string
}

// DefaultOptions returns the stock thresholds.
func DefaultOptions() Options {
	return Options{Threshold: 0.1, MaxCandidates: 5, FallbackID: "general"}
}

// Classifier is a pure function of its options, the task and the index.
type Classifier struct {
	opts Options
}

// New returns a classifier. Zero option fields take their defaults.
func New(opts Options) *Classifier {
	def := DefaultOptions()
	if opts.MaxCandidates <= 0 {
		opts.MaxCandidates = def.MaxCandidates
	}
	if opts.Threshold < 0 {
		opts.Threshold = 0
	}
	return &Classifier{opts: opts}
}

type scored struct {
	doc   *skilltypes.SkillDocument
	score float64
}

// Classify ranks the indexed skills for task. A resolvable skill hint is
// always the top candidate with confidence 1. When ctx expires mid-scan the
// documents scored so far are ranked and the result is marked degraded.
func (c *Classifier) Classify(ctx context.Context, task skilltypes.Task, idx Index) skilltypes.RankedCandidates {
	ctx, span := telemetry.Start(ctx, "classifier.classify")
	defer span.End()

	var out skilltypes.RankedCandidates

	var hint *skilltypes.SkillDocument
	if task.SkillHint != "" {
		if doc, ok := idx.Lookup(task.SkillHint); ok {
			hint = doc
			out.HintUsed = true
		} else {
			out.HintUnresolved = true
			logger.G(ctx).WithField("skill_id", task.SkillHint).Warn("skill hint does not resolve")
		}
	}

	terms := Terms(task.Description)
	var results []scored
	for _, doc := range idx.All() {
		if ctx.Err() != nil {
			out.Degraded = true
			break
		}
		if hint != nil && doc.ID == hint.ID {
			continue
		}
		if s := Score(terms, doc); s > 0 {
			results = append(results, scored{doc: doc, score: s})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.score != b.score {
			return a.score > b.score
		}
		return a.doc.ID < b.doc.ID
	})
	childrenFirst(results, idx)

	if hint != nil {
		out.Candidates = append(out.Candidates, skilltypes.Candidate{Document: hint, SkillID: hint.ID, Confidence: 1})
		out.Considered = append(out.Considered, skilltypes.ScoredSkill{SkillID: hint.ID, Score: 1})
	}
	for _, r := range results {
		entry := skilltypes.ScoredSkill{SkillID: r.doc.ID, Score: r.score}
		switch {
		case r.score < c.opts.Threshold:
			entry.Rejected, entry.Reason = true, ReasonBelowThreshold
		case len(out.Candidates) >= c.opts.MaxCandidates:
			entry.Rejected, entry.Reason = true, ReasonMaxCandidates
		default:
			out.Candidates = append(out.Candidates, skilltypes.Candidate{Document: r.doc, SkillID: r.doc.ID, Confidence: r.score})
		}
		out.Considered = append(out.Considered, entry)
	}

	if len(out.Candidates) == 0 {
		out.NoMatch = true
		if doc, ok := idx.Lookup(c.opts.FallbackID); ok && c.opts.FallbackID != "" {
			out.Candidates = []skilltypes.Candidate{{Document: doc, SkillID: doc.ID, Confidence: 0}}
		}
	}

	telemetry.SetAttributes(ctx,
		attribute.Int("candidates", len(out.Candidates)),
		attribute.Bool("no_match", out.NoMatch),
		attribute.Bool("degraded", out.Degraded),
	)
	return out
}

// childrenFirst reorders each run of equal scores so that a skill comes
// before its own ancestors. Unrelated skills keep id order.
func childrenFirst(results []scored, idx Index) {
	for start := 0; start < len(results); {
		end := start + 1
		for end < len(results) && results[end].score == results[start].score {
			end++
		}
		if end-start > 1 {
			orderRun(results[start:end], idx)
		}
		start = end
	}
}

// orderRun repeatedly takes the lowest id whose descendants in the run have
// all been placed.
func orderRun(run []scored, idx Index) {
	ancestors := make(map[string]map[string]bool, len(run))
	for _, r := range run {
		set := make(map[string]bool)
		for _, a := range idx.Ancestors(r.doc.ID) {
			set[a.ID] = true
		}
		ancestors[r.doc.ID] = set
	}

	remaining := append([]scored(nil), run...)
	for i := range run {
		pick := 0
		for k, cand := range remaining {
			if !hasDescendantIn(cand.doc.ID, remaining, ancestors) {
				pick = k
				break
			}
		}
		run[i] = remaining[pick]
		remaining = append(remaining[:pick], remaining[pick+1:]...)
	}
}

func hasDescendantIn(id string, run []scored, ancestors map[string]map[string]bool) bool {
	for _, other := range run {
		if ancestors[other.doc.ID][id] {
			return true
		}
	}
	return false
}

// Score returns the confidence of doc for the query terms, in [0, 1].
func Score(terms []string, doc *skilltypes.SkillDocument) float64 {
	if len(terms) == 0 {
		return 0
	}
	fields := []struct {
		weight float64
		words  []string
	}{
		{WeightIdentity, append(Terms(doc.ID), Terms(doc.Name)...)},
		{WeightTags, Terms(strings.Join(doc.Tags, " "))},
		{WeightDomain, Terms(doc.Domain)},
		{WeightCategory, Terms(doc.Category)},
		{WeightDescription, Terms(doc.Description)},
		{WeightHeadings, headingTerms(doc)},
	}

	total := 0.0
	for _, term := range terms {
		best := 0.0
		for _, f := range fields {
			if f.weight <= best {
				continue
			}
			if w := f.weight * match(term, f.words); w > best {
				best = w
			}
		}
		total += best
	}

	conf := total / (WeightIdentity * float64(len(terms)))
	if conf > 1 {
		return 1
	}
	return conf
}

func headingTerms(doc *skilltypes.SkillDocument) []string {
	var words []string
	for _, s := range doc.Sections {
		words = append(words, Terms(s.Name)...)
		if s.Title != "" && s.Title != s.Name {
			words = append(words, Terms(s.Title)...)
		}
	}
	return words
}

// match returns 1 for an exact word, prefixFactor for a prefix relation
// between words of at least four letters, 0 otherwise.
func match(term string, words []string) float64 {
	best := 0.0
	for _, w := range words {
		if w == term {
			return 1
		}
		if len(term) >= 4 && len(w) >= 4 && (strings.HasPrefix(w, term) || strings.HasPrefix(term, w)) {
			best = prefixFactor
		}
	}
	return best
}

var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "for": true, "to": true, "of": true, "and": true,
	"or": true, "in": true, "on": true, "with": true, "this": true, "that": true, "is": true,
	"are": true, "be": true, "it": true, "my": true, "our": true, "we": true, "i": true,
	"me": true, "please": true, "how": true, "what": true, "some": true, "into": true,
	"from": true, "by": true, "at": true, "as": true, "using": true, "use": true,
}

// Terms lowercases text, splits it into words, drops stop words and strips
// plural and verb inflections. The order of first occurrence is kept and
// duplicates are removed.
func Terms(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(words))
	var out []string
	for _, w := range words {
		if stopWords[w] {
			continue
		}
		w = stem(w)
		if !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}
	return out
}

func stem(w string) string {
	for _, suffix := range []string{"ing", "ed", "s"} {
		if strings.HasSuffix(w, suffix) && len(w)-len(suffix) >= 4 {
			return strings.TrimSuffix(w, suffix)
		}
	}
	return w
}
