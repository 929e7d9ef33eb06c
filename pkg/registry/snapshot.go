package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	skilltypes "github.com/jingkaihe/skillrouter/pkg/types/skills"
)

// Quarantine records a document excluded from the index.
type Quarantine struct {
	Path        string `json:"path"`
	ID          string `json:"id,omitempty"`
	Reason      string `json:"reason"`
	ContentHash string `json:"content_hash,omitempty"`
}

// DanglingRef is a cross-reference that did not resolve to a skill.
type DanglingRef struct {
	From   string `json:"from"`
	Target string `json:"target"`
}

// Query filters Search results. Empty fields match everything; Tags match
// when any tag is present, or all of them with MatchAll.
type Query struct {
	Domain   string
	Category string
	Tags     []string
	MatchAll bool
}

// Snapshot is an immutable view of a loaded corpus. Readers hold a snapshot
// for the duration of a task; reloads publish a new one.
type Snapshot struct {
	generation  uint64
	fingerprint string
	builtAt     time.Time

	docs        []*skilltypes.SkillDocument // sorted by id
	byID        map[string]*skilltypes.SkillDocument
	children    map[string][]*skilltypes.SkillDocument
	related     map[string][]*skilltypes.SkillDocument
	depth       map[string]int
	files       []string
	dangling    []DanglingRef
	quarantined []Quarantine
}

// Lookup returns the document with id.
func (s *Snapshot) Lookup(id string) (*skilltypes.SkillDocument, bool) {
	doc, ok := s.byID[id]
	return doc, ok
}

// Children returns the direct sub-skills of id, sorted by id.
func (s *Snapshot) Children(id string) []*skilltypes.SkillDocument {
	return s.children[id]
}

// RelatedTo returns skills linked to id by a cross-reference in either
// direction, sorted by id.
func (s *Snapshot) RelatedTo(id string) []*skilltypes.SkillDocument {
	return s.related[id]
}

// Search returns the documents matching q, sorted by id.
func (s *Snapshot) Search(q Query) []*skilltypes.SkillDocument {
	var out []*skilltypes.SkillDocument
	for _, doc := range s.docs {
		if q.Domain != "" && !strings.EqualFold(doc.Domain, q.Domain) {
			continue
		}
		if q.Category != "" && !strings.EqualFold(doc.Category, q.Category) {
			continue
		}
		if len(q.Tags) > 0 && !matchTags(doc, q.Tags, q.MatchAll) {
			continue
		}
		out = append(out, doc)
	}
	return out
}

func matchTags(doc *skilltypes.SkillDocument, tags []string, all bool) bool {
	for _, t := range tags {
		has := doc.HasTag(t)
		if all && !has {
			return false
		}
		if !all && has {
			return true
		}
	}
	return all
}

// All returns every indexed document sorted by id.
func (s *Snapshot) All() []*skilltypes.SkillDocument {
	return s.docs
}

// Len is the number of indexed documents.
func (s *Snapshot) Len() int {
	return len(s.docs)
}

// Depth is the number of ancestors of id; roots have depth 0.
func (s *Snapshot) Depth(id string) int {
	return s.depth[id]
}

// Ancestors returns the parent chain of id, nearest first.
func (s *Snapshot) Ancestors(id string) []*skilltypes.SkillDocument {
	var out []*skilltypes.SkillDocument
	doc, ok := s.byID[id]
	for ok && doc.ParentSkill != "" {
		doc, ok = s.byID[doc.ParentSkill]
		if ok {
			out = append(out, doc)
		}
	}
	return out
}

// Roots returns the documents without a parent.
func (s *Snapshot) Roots() []*skilltypes.SkillDocument {
	var out []*skilltypes.SkillDocument
	for _, doc := range s.docs {
		if doc.ParentSkill == "" {
			out = append(out, doc)
		}
	}
	return out
}

// Dangling returns the unresolved cross-references.
func (s *Snapshot) Dangling() []DanglingRef {
	return s.dangling
}

// Quarantined returns the documents excluded from the index.
func (s *Snapshot) Quarantined() []Quarantine {
	return s.quarantined
}

// Files returns every discovered file, indexed or quarantined.
func (s *Snapshot) Files() []string {
	return s.files
}

// Generation increases with every published snapshot.
func (s *Snapshot) Generation() uint64 {
	return s.generation
}

// Fingerprint identifies the corpus content: equal fingerprints mean equal
// (path, content hash) sets.
func (s *Snapshot) Fingerprint() string {
	return s.fingerprint
}

// BuiltAt is the time the snapshot was assembled.
func (s *Snapshot) BuiltAt() time.Time {
	return s.builtAt
}

func (s *Snapshot) withGeneration(gen uint64) *Snapshot {
	cp := *s
	cp.generation = gen
	return &cp
}

func fingerprint(docs []*skilltypes.SkillDocument, quarantined []Quarantine) string {
	entries := make([]string, 0, len(docs)+len(quarantined))
	for _, d := range docs {
		entries = append(entries, d.Path+"\x00"+d.ContentHash)
	}
	for _, q := range quarantined {
		entries = append(entries, q.Path+"\x00"+q.ContentHash+"\x00q")
	}
	sort.Strings(entries)

	h := sha256.New()
	for _, e := range entries {
		h.Write([]byte(e))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
