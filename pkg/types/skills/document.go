// Package skills defines the data types shared by the skill registry, the
// classifier, the composer and the tier selector. Values of these types are
// immutable once built: a changed skill file produces a new SkillDocument,
// never an in-place edit of an existing one.
package skills

import "strings"

// SectionKind classifies a document section by its recognized header.
type SectionKind string

const (
	SectionOverview       SectionKind = "overview"
	SectionChecklist      SectionKind = "checklist"
	SectionExamples       SectionKind = "examples"
	SectionTemplates      SectionKind = "templates"
	SectionPrompts        SectionKind = "prompts"
	SectionAgentSelection SectionKind = "agent_selection"
	SectionRelated        SectionKind = "related"
	SectionOther          SectionKind = "other"
)

// CanonicalName returns the section name used for recognized kinds. Other
// sections keep their heading text as name.
func (k SectionKind) CanonicalName() string {
	switch k {
	case SectionOverview:
		return "Overview"
	case SectionChecklist:
		return "Checklist"
	case SectionExamples:
		return "Examples"
	case SectionTemplates:
		return "Templates"
	case SectionPrompts:
		return "LLM Prompts"
	case SectionAgentSelection:
		return "Agent Selection"
	case SectionRelated:
		return "Related Skills"
	default:
		return ""
	}
}

// Composable reports whether sections of this kind may be placed into a
// composed context. Agent Selection and Related sections are routing metadata.
func (k SectionKind) Composable() bool {
	return k != SectionAgentSelection && k != SectionRelated
}

// Section is one named block of a skill document body.
type Section struct {
	Name   string      `json:"name"`
	Kind   SectionKind `json:"kind"`
	Title  string      `json:"title,omitempty"` // heading text as written
	Body   string      `json:"body"`
	Tokens int         `json:"tokens"`
	Hash   string      `json:"hash"` // sha256 of the normalized body
}

// TierRule is one parsed row of an Agent Selection table.
type TierRule struct {
	Task      string    `json:"task"`
	Model     string    `json:"model"`
	Tier      ModelTier `json:"tier"`
	Rationale string    `json:"rationale,omitempty"`
	// Patterns are the normalized keyword alternatives of Task, in the form
	// accepted by the tier package's matcher.
	Patterns []string `json:"patterns"`
}

// Reference is one cross-reference target. Target is the most specific form
// (a link destination or code span); Aliases are further names that may
// resolve to the same skill, such as the link text.
type Reference struct {
	Target  string   `json:"target"`
	Aliases []string `json:"aliases,omitempty"`
}

// Keys returns Target followed by Aliases.
func (r Reference) Keys() []string {
	return append([]string{r.Target}, r.Aliases...)
}

// SkillDocument is the parsed, immutable form of one skill file.
type SkillDocument struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Domain        string   `json:"domain,omitempty"`
	ParentSkill   string   `json:"parent_skill,omitempty"`
	Category      string   `json:"category,omitempty"`
	Description   string   `json:"description,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	UserInvocable bool     `json:"user_invocable,omitempty"`
	AllowedTools  []string `json:"allowed_tools,omitempty"`

	Sections  []Section  `json:"sections"`
	TierRules []TierRule `json:"tier_rules,omitempty"`

	// References are the raw cross-reference targets found in Related
	// sections and frontmatter. CrossRefs holds the ids they resolved to and
	// is only populated on documents published in a registry snapshot.
	References []Reference `json:"references,omitempty"`
	CrossRefs  []string    `json:"cross_refs,omitempty"`

	Path        string `json:"path"`
	ContentHash string `json:"content_hash"`
}

// Section returns the section with the given name, matched case-insensitively.
func (d *SkillDocument) Section(name string) (Section, bool) {
	for _, s := range d.Sections {
		if strings.EqualFold(s.Name, name) {
			return s, true
		}
	}
	return Section{}, false
}

// SectionsOfKind returns the sections of a kind in document order.
func (d *SkillDocument) SectionsOfKind(kind SectionKind) []Section {
	var out []Section
	for _, s := range d.Sections {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}

// TotalTokens is the sum of all section token counts.
func (d *SkillDocument) TotalTokens() int {
	total := 0
	for _, s := range d.Sections {
		total += s.Tokens
	}
	return total
}

// HasTag reports whether the document carries the tag (case-insensitive).
func (d *SkillDocument) HasTag(tag string) bool {
	for _, t := range d.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// WithCrossRefs returns a shallow copy of the document with resolved
// cross-reference ids. Section and rule slices are shared; they are never
// mutated after parsing.
func (d *SkillDocument) WithCrossRefs(ids []string) *SkillDocument {
	cp := *d
	cp.CrossRefs = ids
	return &cp
}
