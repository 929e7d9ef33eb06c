package registry

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/jingkaihe/skillrouter/pkg/logger"
	skilltypes "github.com/jingkaihe/skillrouter/pkg/types/skills"
)

// DuplicatePolicy decides what a second document with an existing id does to
// the build.
type DuplicatePolicy string

const (
	// DuplicateFail aborts the build and names every duplicated id.
	DuplicateFail DuplicatePolicy = "fail"
	// DuplicateQuarantine keeps the first document in path order and
	// quarantines the others.
	DuplicateQuarantine DuplicatePolicy = "quarantine"
)

// ParseDuplicatePolicy parses a policy name.
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch p := DuplicatePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case DuplicateFail, DuplicateQuarantine:
		return p, nil
	case "":
		return DuplicateFail, nil
	default:
		return "", errors.Errorf("unknown duplicate policy %q (expected fail or quarantine)", s)
	}
}

// buildSnapshot validates the whole corpus at once and indexes it. docs must
// be in path order. Every fatal problem is collected before failing.
func buildSnapshot(ctx context.Context, files []string, docs []*skilltypes.SkillDocument, quarantined []Quarantine, policy DuplicatePolicy) (*Snapshot, error) {
	log := logger.G(ctx)
	herr := &HierarchyError{}

	byID := make(map[string]*skilltypes.SkillDocument, len(docs))
	dupPaths := make(map[string][]string)
	for _, doc := range docs {
		first, exists := byID[doc.ID]
		if !exists {
			byID[doc.ID] = doc
			continue
		}
		if policy == DuplicateQuarantine {
			log.WithField("skill_id", doc.ID).WithField("path", doc.Path).
				Warnf("quarantining duplicate skill id, first defined in %s", first.Path)
			quarantined = append(quarantined, Quarantine{
				Path:        doc.Path,
				ID:          doc.ID,
				Reason:      "duplicate id, first defined in " + first.Path,
				ContentHash: doc.ContentHash,
			})
			continue
		}
		if len(dupPaths[doc.ID]) == 0 {
			dupPaths[doc.ID] = []string{first.Path}
		}
		dupPaths[doc.ID] = append(dupPaths[doc.ID], doc.Path)
	}
	for _, id := range sortedKeys(dupPaths) {
		herr.append(&Issue{Kind: IssueDuplicateID, IDs: []string{id}, Paths: dupPaths[id]})
	}

	ids := sortedKeys(byID)
	for _, id := range ids {
		parent := byID[id].ParentSkill
		if parent != "" && parent != id {
			if _, ok := byID[parent]; !ok {
				herr.append(&Issue{Kind: IssueUnresolvedParent, IDs: []string{id, parent}, Paths: []string{byID[id].Path}})
			}
		}
	}
	for _, cycle := range findCycles(ids, byID) {
		herr.append(&Issue{Kind: IssueCycle, IDs: cycle})
	}

	if err := herr.orNil(); err != nil {
		return nil, err
	}

	snap := &Snapshot{
		builtAt:     time.Now(),
		byID:        make(map[string]*skilltypes.SkillDocument, len(ids)),
		children:    make(map[string][]*skilltypes.SkillDocument),
		related:     make(map[string][]*skilltypes.SkillDocument),
		depth:       make(map[string]int, len(ids)),
		files:       files,
		quarantined: quarantined,
	}

	resolve := newResolver(byID)
	for _, id := range ids {
		doc := byID[id]
		var refs []string
		for _, ref := range doc.References {
			target, ok := resolve(ref)
			if !ok {
				log.WithField("skill_id", id).WithField("target", ref.Target).Warn("dangling cross-reference")
				snap.dangling = append(snap.dangling, DanglingRef{From: id, Target: ref.Target})
				continue
			}
			if target != id {
				refs = append(refs, target)
			}
		}
		published := doc.WithCrossRefs(uniqueSorted(refs))
		snap.byID[id] = published
		snap.docs = append(snap.docs, published)
	}

	relatedIDs := make(map[string]map[string]bool)
	link := func(a, b string) {
		if relatedIDs[a] == nil {
			relatedIDs[a] = make(map[string]bool)
		}
		relatedIDs[a][b] = true
	}
	for _, doc := range snap.docs {
		if doc.ParentSkill != "" {
			snap.children[doc.ParentSkill] = append(snap.children[doc.ParentSkill], doc)
		}
		for _, ref := range doc.CrossRefs {
			link(doc.ID, ref)
			link(ref, doc.ID)
		}
	}
	for id, set := range relatedIDs {
		for _, other := range sortedKeys(set) {
			snap.related[id] = append(snap.related[id], snap.byID[other])
		}
	}

	for _, id := range ids {
		snap.depth[id] = len(snap.Ancestors(id))
	}

	snap.fingerprint = fingerprint(snap.docs, quarantined)
	return snap, nil
}

// findCycles returns each parent cycle once, rotated to start at its
// smallest id.
func findCycles(ids []string, byID map[string]*skilltypes.SkillDocument) [][]string {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(ids))
	var cycles [][]string

	for _, start := range ids {
		var path []string
		cur := start
		// stepped is false when the walk ended at a root or an unresolved
		// parent; cur is then still on the path and not a loop.
		stepped := false
		for state[cur] == unvisited {
			state[cur] = visiting
			path = append(path, cur)
			parent := byID[cur].ParentSkill
			if _, ok := byID[parent]; parent == "" || !ok {
				stepped = false
				break
			}
			cur = parent
			stepped = true
		}
		if stepped && state[cur] == visiting {
			for i, id := range path {
				if id == cur {
					cycles = append(cycles, rotateToMin(path[i:]))
					break
				}
			}
		}
		for _, id := range path {
			state[id] = done
		}
	}
	return cycles
}

func rotateToMin(cycle []string) []string {
	lo := 0
	for i, id := range cycle {
		if id < cycle[lo] {
			lo = i
		}
	}
	out := make([]string, 0, len(cycle))
	out = append(out, cycle[lo:]...)
	return append(out, cycle[:lo]...)
}

// newResolver maps a reference to a skill id. Any key of the reference may
// match an id or, when unambiguous, a skill name; matching ignores case and
// treats spaces and underscores as hyphens.
func newResolver(byID map[string]*skilltypes.SkillDocument) func(skilltypes.Reference) (string, bool) {
	ids := make(map[string]string, len(byID))
	names := make(map[string]string, len(byID))
	for id, doc := range byID {
		ids[slug(id)] = id
		key := slug(doc.Name)
		if existing, ok := names[key]; ok && existing != id {
			names[key] = ""
			continue
		}
		names[key] = id
	}

	return func(ref skilltypes.Reference) (string, bool) {
		keys := ref.Keys()
		for _, k := range keys {
			if id, ok := ids[slug(k)]; ok {
				return id, true
			}
		}
		for _, k := range keys {
			if id := names[slug(k)]; id != "" {
				return id, true
			}
		}
		return "", false
	}
}

func slug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Join(strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '_' || r == '-' || r == '\t'
	}), "-")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func uniqueSorted(items []string) []string {
	if len(items) == 0 {
		return nil
	}
	sort.Strings(items)
	out := items[:1]
	for _, s := range items[1:] {
		if s != out[len(out)-1] {
			out = append(out, s)
		}
	}
	return out
}
