package registry

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

var (
	// ErrHierarchy is matched by every fatal registry build error.
	ErrHierarchy = errors.New("invalid skill hierarchy")
	// ErrMissingID quarantines a document without an id.
	ErrMissingID = errors.New("missing id in frontmatter")
	// ErrMalformedFrontmatter quarantines a document whose header cannot be decoded.
	ErrMalformedFrontmatter = errors.New("malformed frontmatter")
)

// IssueKind names a fatal hierarchy problem.
type IssueKind string

const (
	IssueDuplicateID      IssueKind = "duplicate-id"
	IssueUnresolvedParent IssueKind = "unresolved-parent"
	IssueCycle            IssueKind = "cycle"
)

// Issue is one fatal hierarchy problem.
type Issue struct {
	Kind  IssueKind
	IDs   []string
	Paths []string
}

func (i *Issue) Error() string {
	switch i.Kind {
	case IssueDuplicateID:
		return fmt.Sprintf("duplicate id %q in %s", i.IDs[0], strings.Join(i.Paths, ", "))
	case IssueUnresolvedParent:
		return fmt.Sprintf("skill %q references unknown parent %q", i.IDs[0], i.IDs[1])
	case IssueCycle:
		return fmt.Sprintf("parent cycle between %s", strings.Join(i.IDs, " -> "))
	default:
		return fmt.Sprintf("%s: %s", i.Kind, strings.Join(i.IDs, ", "))
	}
}

// HierarchyError aggregates every fatal problem found while merging a corpus.
type HierarchyError struct {
	merr *multierror.Error
}

func (e *HierarchyError) append(issue *Issue) {
	e.merr = multierror.Append(e.merr, issue)
}

func (e *HierarchyError) orNil() error {
	if e.merr == nil || len(e.merr.Errors) == 0 {
		return nil
	}
	return e
}

func (e *HierarchyError) Error() string {
	if e.merr == nil {
		return ErrHierarchy.Error()
	}
	lines := make([]string, 0, len(e.merr.Errors))
	for _, err := range e.merr.Errors {
		lines = append(lines, err.Error())
	}
	return fmt.Sprintf("%s (%d problems): %s", ErrHierarchy, len(lines), strings.Join(lines, "; "))
}

// Is makes errors.Is(err, ErrHierarchy) true.
func (e *HierarchyError) Is(target error) bool {
	return target == ErrHierarchy
}

func (e *HierarchyError) Unwrap() error {
	return e.merr.ErrorOrNil()
}

// Issues returns the individual problems in detection order.
func (e *HierarchyError) Issues() []*Issue {
	if e.merr == nil {
		return nil
	}
	issues := make([]*Issue, 0, len(e.merr.Errors))
	for _, err := range e.merr.Errors {
		var issue *Issue
		if errors.As(err, &issue) {
			issues = append(issues, issue)
		}
	}
	return issues
}

// OffendingIDs returns every skill id named by any issue, sorted.
func (e *HierarchyError) OffendingIDs() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, issue := range e.Issues() {
		for _, id := range issue.IDs {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	sort.Strings(ids)
	return ids
}
