package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"path"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/yuin/goldmark"
	meta "github.com/yuin/goldmark-meta"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"

	"github.com/jingkaihe/skillrouter/pkg/logger"
	"github.com/jingkaihe/skillrouter/pkg/tier"
	"github.com/jingkaihe/skillrouter/pkg/tokenizer"
	skilltypes "github.com/jingkaihe/skillrouter/pkg/types/skills"
)

// Frontmatter is the structured header of a skill document. Scalars and
// comma separated strings are accepted wherever a list is expected.
type Frontmatter struct {
	ID            string   `mapstructure:"id"`
	Name          string   `mapstructure:"name"`
	Domain        string   `mapstructure:"domain"`
	Skill         string   `mapstructure:"skill"`
	Parent        string   `mapstructure:"parent"`
	Category      string   `mapstructure:"category"`
	Description   string   `mapstructure:"description"`
	Tags          []string `mapstructure:"tags"`
	UserInvocable bool     `mapstructure:"user-invocable"`
	AllowedTools  []string `mapstructure:"allowed-tools"`
	Related       []string `mapstructure:"related"`
}

// Parser turns skill files into SkillDocuments.
type Parser struct {
	counter tokenizer.Counter
}

// NewParser returns a parser that counts section tokens with counter.
func NewParser(counter tokenizer.Counter) *Parser {
	if counter == nil {
		counter = tokenizer.Default
	}
	return &Parser{counter: counter}
}

// HashContent returns the hex sha256 of raw file content.
func HashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// hashSection hashes a section body after line ending normalization, so the
// same text copied between files dedups regardless of platform.
func hashSection(body string) string {
	return HashContent([]byte(strings.TrimSpace(strings.ReplaceAll(body, "\r\n", "\n"))))
}

// Parse parses one skill file. ErrMissingID and ErrMalformedFrontmatter
// mark documents that must be quarantined.
func (p *Parser) Parse(ctx context.Context, filePath string, content []byte) (*skilltypes.SkillDocument, error) {
	src := []byte(strings.ReplaceAll(string(content), "\r\n", "\n"))

	md := goldmark.New(goldmark.WithExtensions(meta.Meta, extension.Table))
	pctx := parser.NewContext()
	root := md.Parser().Parse(text.NewReader(src), parser.WithContext(pctx))

	raw, err := meta.TryGet(pctx)
	if err != nil {
		return nil, errors.Wrap(ErrMalformedFrontmatter, err.Error())
	}
	fm, err := decodeFrontmatter(raw)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(fm.ID) == "" {
		return nil, ErrMissingID
	}

	b := newBody(src, root)
	doc := &skilltypes.SkillDocument{
		ID:            strings.TrimSpace(fm.ID),
		Name:          strings.TrimSpace(fm.Name),
		Domain:        strings.TrimSpace(fm.Domain),
		ParentSkill:   strings.TrimSpace(fm.Skill),
		Category:      strings.TrimSpace(fm.Category),
		Description:   strings.TrimSpace(fm.Description),
		Tags:          fm.Tags,
		UserInvocable: fm.UserInvocable,
		AllowedTools:  fm.AllowedTools,
		Path:          filePath,
		ContentHash:   HashContent(content),
	}
	if doc.ParentSkill == "" {
		doc.ParentSkill = strings.TrimSpace(fm.Parent)
	}
	if doc.Name == "" {
		doc.Name = b.title
	}
	if doc.Name == "" {
		doc.Name = doc.ID
	}

	for _, s := range b.sections {
		s.Tokens = p.counter.Count(s.Body)
		s.Hash = hashSection(s.Body)
		doc.Sections = append(doc.Sections, s)
	}

	log := logger.G(ctx).WithField("path", filePath)
	for _, row := range agentSelectionRows(root, src) {
		rule, err := tier.BuildRule(row.task, row.model, row.rationale)
		if err != nil {
			log.WithError(err).Warn("skipping agent selection row")
			continue
		}
		doc.TierRules = append(doc.TierRules, rule)
	}

	refs := b.references
	for _, r := range fm.Related {
		refs = append(refs, skilltypes.Reference{Target: r})
	}
	doc.References = dedupReferences(refs)

	return doc, nil
}

func decodeFrontmatter(raw map[string]interface{}) (Frontmatter, error) {
	var fm Frontmatter
	if len(raw) == 0 {
		return fm, nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &fm,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToSliceHookFunc(","),
	})
	if err != nil {
		return fm, errors.Wrap(err, "failed to create frontmatter decoder")
	}
	if err := decoder.Decode(raw); err != nil {
		return fm, errors.Wrap(ErrMalformedFrontmatter, err.Error())
	}
	fm.Tags = cleanList(fm.Tags)
	fm.AllowedTools = cleanList(fm.AllowedTools)
	fm.Related = cleanList(fm.Related)
	return fm, nil
}

func cleanList(items []string) []string {
	var out []string
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// body is the sectioned markdown content of one document.
type body struct {
	title      string
	sections   []skilltypes.Section
	references []skilltypes.Reference
}

type rawSection struct {
	kind  skilltypes.SectionKind
	name  string
	title string
	from  int // first body line
	to    int // exclusive
	nodes []ast.Node
}

// newBody splits the document at top-level H1/H2 headings. Headings inside
// fenced code are not headings in the AST, so they never split. Content before
// the first heading and under a leading H1 title forms the Overview. An Agent
// Selection heading splits at any level; the enclosing section resumes at the
// next heading of the same or a higher level.
func newBody(src []byte, root ast.Node) *body {
	lines := strings.SplitAfter(string(src), "\n")
	starts := make([]int, len(lines))
	offset := 0
	for i, l := range lines {
		starts[i] = offset
		offset += len(l)
	}
	lineOf := func(pos int) int {
		return sort.Search(len(starts), func(i int) bool { return starts[i] > pos }) - 1
	}

	b := &body{}
	preamble := &rawSection{
		kind: skilltypes.SectionOverview,
		name: skilltypes.SectionOverview.CanonicalName(),
		from: frontmatterEnd(lines),
	}
	raws := []*rawSection{preamble}
	cur := preamble

	var outer *rawSection // section interrupted by a nested Agent Selection heading
	nestedLevel := 0

	for n := root.FirstChild(); n != nil; n = n.NextSibling() {
		h, ok := n.(*ast.Heading)
		if !ok || h.Lines().Len() == 0 {
			cur.nodes = append(cur.nodes, n)
			continue
		}
		first := lineOf(h.Lines().At(0).Start)
		title := nodeText(h, src)
		kind := classifyHeading(title)
		nested := h.Level > 2 && kind == skilltypes.SectionAgentSelection

		if h.Level > 2 && !nested {
			if outer != nil && h.Level <= nestedLevel {
				cur.to = first
				cur = &rawSection{kind: outer.kind, name: outer.name, title: outer.title, from: first}
				raws = append(raws, cur)
				outer = nil
			}
			cur.nodes = append(cur.nodes, n)
			continue
		}

		last := lineOf(h.Lines().At(h.Lines().Len() - 1).Start)
		next := last + 1
		if !strings.HasPrefix(strings.TrimLeft(lines[first], " "), "#") {
			next++ // setext underline
		}
		cur.to = first

		if nested {
			if outer == nil {
				outer = cur
			}
			nestedLevel = h.Level
			cur = &rawSection{kind: kind, name: kind.CanonicalName(), title: title, from: next}
			raws = append(raws, cur)
			continue
		}
		outer = nil

		if h.Level == 1 && b.title == "" && len(raws) == 1 && kind == skilltypes.SectionOther {
			b.title = title
			kind = skilltypes.SectionOverview
		}
		name := kind.CanonicalName()
		if name == "" {
			name = title
		}
		cur = &rawSection{kind: kind, name: name, title: title, from: next}
		raws = append(raws, cur)
	}
	cur.to = len(lines)

	index := make(map[string]int)
	for _, r := range raws {
		if r.kind == skilltypes.SectionRelated {
			for _, n := range r.nodes {
				b.references = append(b.references, collectReferences(n, src)...)
			}
		}

		if r.from >= r.to {
			continue
		}
		content := strings.TrimSpace(strings.Join(lines[r.from:r.to], ""))
		if content == "" {
			continue
		}
		key := strings.ToLower(r.name)
		if i, ok := index[key]; ok {
			b.sections[i].Body += "\n\n" + content
			continue
		}
		index[key] = len(b.sections)
		b.sections = append(b.sections, skilltypes.Section{
			Name:  r.name,
			Kind:  r.kind,
			Title: r.title,
			Body:  content,
		})
	}
	return b
}

// frontmatterEnd returns the first line after a leading "---" block.
func frontmatterEnd(lines []string) int {
	if len(lines) == 0 || strings.TrimRight(lines[0], " \t\n") != "---" {
		return 0
	}
	for i := 1; i < len(lines); i++ {
		if strings.TrimRight(lines[i], " \t\n") == "---" {
			return i + 1
		}
	}
	return 0
}

var overviewWords = []string{"overview", "readme", "introduction", "when to use", "summary", "purpose", "about"}

func classifyHeading(title string) skilltypes.SectionKind {
	t := strings.ToLower(title)
	switch {
	case strings.Contains(t, "agent selection"):
		return skilltypes.SectionAgentSelection
	case strings.HasPrefix(t, "related") || strings.Contains(t, "related skills") ||
		strings.Contains(t, "related files") || t == "see also":
		return skilltypes.SectionRelated
	case strings.Contains(t, "checklist"):
		return skilltypes.SectionChecklist
	case strings.Contains(t, "prompt"):
		return skilltypes.SectionPrompts
	case strings.Contains(t, "template"):
		return skilltypes.SectionTemplates
	case strings.Contains(t, "example"):
		return skilltypes.SectionExamples
	}
	for _, w := range overviewWords {
		if strings.Contains(t, w) {
			return skilltypes.SectionOverview
		}
	}
	return skilltypes.SectionOther
}

// nodeText concatenates the literal text below n.
func nodeText(n ast.Node, src []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := c.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(src))
			if t.SoftLineBreak() || t.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(t.Value)
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(b.String())
}

type agentRow struct {
	task, model, rationale string
}

// agentSelectionRows finds the first table after a heading or short paragraph
// mentioning "Agent Selection" and returns its rows. Columns are located by
// header text and default to Task | Model | Rationale order.
func agentSelectionRows(root ast.Node, src []byte) []agentRow {
	var table *east.Table
	armed := false
	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch v := n.(type) {
		case *ast.Heading:
			armed = strings.Contains(strings.ToLower(nodeText(v, src)), "agent selection")
			return ast.WalkSkipChildren, nil
		case *ast.Paragraph:
			if !armed {
				txt := strings.ToLower(nodeText(v, src))
				armed = len(txt) < 120 && strings.Contains(txt, "agent selection")
			}
			return ast.WalkSkipChildren, nil
		case *east.Table:
			if armed {
				table = v
				return ast.WalkStop, nil
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	if table == nil {
		return nil
	}

	taskCol, modelCol, rationaleCol := 0, 1, 2
	var rows []agentRow
	for row := table.FirstChild(); row != nil; row = row.NextSibling() {
		var cells []string
		for c := row.FirstChild(); c != nil; c = c.NextSibling() {
			cells = append(cells, nodeText(c, src))
		}
		if _, ok := row.(*east.TableHeader); ok {
			for i, h := range cells {
				h = strings.ToLower(h)
				switch {
				case strings.Contains(h, "task"):
					taskCol = i
				case strings.Contains(h, "model") || strings.Contains(h, "tier"):
					modelCol = i
				case strings.Contains(h, "rationale") || strings.Contains(h, "reason") || strings.Contains(h, "why"):
					rationaleCol = i
				}
			}
			continue
		}
		rows = append(rows, agentRow{
			task:      cell(cells, taskCol),
			model:     cell(cells, modelCol),
			rationale: cell(cells, rationaleCol),
		})
	}
	return rows
}

func cell(cells []string, i int) string {
	if i < len(cells) {
		return cells[i]
	}
	return ""
}

// collectReferences extracts cross-reference targets from a Related section
// node: relative links, code spans and the leading text of plain list items.
func collectReferences(n ast.Node, src []byte) []skilltypes.Reference {
	var refs []skilltypes.Reference
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch v := c.(type) {
		case *ast.Link:
			dest := string(v.Destination)
			if isExternal(dest) {
				return ast.WalkSkipChildren, nil
			}
			ref := skilltypes.Reference{Target: targetFromDestination(dest)}
			if label := nodeText(v, src); label != "" && label != ref.Target {
				ref.Aliases = []string{label}
			}
			if ref.Target == "" && len(ref.Aliases) > 0 {
				ref = skilltypes.Reference{Target: ref.Aliases[0]}
			}
			if ref.Target != "" {
				refs = append(refs, ref)
			}
			return ast.WalkSkipChildren, nil
		case *ast.AutoLink:
			return ast.WalkSkipChildren, nil
		case *ast.CodeSpan:
			if t := nodeText(v, src); t != "" {
				refs = append(refs, skilltypes.Reference{Target: t})
			}
			return ast.WalkSkipChildren, nil
		case *ast.ListItem:
			if hasInlineReference(v) || v.FirstChild() == nil {
				return ast.WalkContinue, nil
			}
			if lead := leadingText(nodeText(v.FirstChild(), src)); lead != "" {
				refs = append(refs, skilltypes.Reference{Target: lead})
			}
		}
		return ast.WalkContinue, nil
	})
	return refs
}

func hasInlineReference(item ast.Node) bool {
	if item.FirstChild() == nil {
		return false
	}
	found := false
	_ = ast.Walk(item.FirstChild(), func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		switch c.(type) {
		case *ast.Link, *ast.CodeSpan, *ast.AutoLink:
			found = true
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})
	return found
}

func isExternal(dest string) bool {
	return dest == "" || strings.HasPrefix(dest, "#") || strings.Contains(dest, "://") ||
		strings.HasPrefix(dest, "mailto:")
}

// targetFromDestination maps a relative link to the skill it most likely
// names: ../api-auth/SKILL.md -> api-auth, ./jwt-flows.md -> jwt-flows.
func targetFromDestination(dest string) string {
	if i := strings.IndexAny(dest, "?#"); i >= 0 {
		dest = dest[:i]
	}
	dest = strings.TrimSuffix(path.Clean(strings.ReplaceAll(dest, "\\", "/")), "/")
	base := path.Base(dest)
	switch strings.ToLower(base) {
	case "skill.md", "readme.md", "index.md":
		dir := path.Base(path.Dir(dest))
		if dir == "." || dir == ".." || dir == "/" {
			return ""
		}
		return dir
	}
	if base == "." || base == ".." || base == "/" {
		return ""
	}
	return strings.TrimSuffix(base, path.Ext(base))
}

// leadingText returns the name part of a list item such as
// "api-authentication - JWT and OAuth flows". Long prose items yield "".
func leadingText(item string) string {
	for _, sep := range []string{" - ", " – ", " — ", ": ", " (", ", "} {
		if i := strings.Index(item, sep); i >= 0 {
			item = item[:i]
		}
	}
	item = strings.Trim(strings.TrimSpace(item), ".:;*")
	if item == "" || len(strings.Fields(item)) > 5 {
		return ""
	}
	return item
}

func dedupReferences(refs []skilltypes.Reference) []skilltypes.Reference {
	var out []skilltypes.Reference
	index := make(map[string]int)
	for _, r := range refs {
		r.Target = strings.TrimSpace(r.Target)
		if r.Target == "" {
			continue
		}
		key := strings.ToLower(r.Target)
		if i, ok := index[key]; ok {
			out[i].Aliases = mergeAliases(out[i].Aliases, r.Aliases)
			continue
		}
		index[key] = len(out)
		out = append(out, r)
	}
	return out
}

func mergeAliases(a, b []string) []string {
	for _, alias := range b {
		dup := false
		for _, existing := range a {
			if strings.EqualFold(existing, alias) {
				dup = true
				break
			}
		}
		if !dup {
			a = append(a, alias)
		}
	}
	return a
}
