package skills

import (
	"strings"

	"github.com/pkg/errors"
)

// ModelTier is the cost/capability class assigned to a subtask.
type ModelTier string

const (
	// TierCheap covers mechanical, low-risk work.
	TierCheap ModelTier = "cheap"
	// TierMid covers analytical work that needs code understanding.
	TierMid ModelTier = "mid"
	// TierTop covers high-stakes architectural trade-off work.
	TierTop ModelTier = "top"
)

// Rank orders tiers by capability; unknown tiers rank below cheap.
func (t ModelTier) Rank() int {
	switch t {
	case TierCheap:
		return 1
	case TierMid:
		return 2
	case TierTop:
		return 3
	default:
		return 0
	}
}

// IsValid reports whether t is one of the enumerated tiers.
func (t ModelTier) IsValid() bool {
	return t.Rank() > 0
}

func (t ModelTier) String() string {
	return string(t)
}

// ParseModelTier parses a tier name.
func ParseModelTier(s string) (ModelTier, error) {
	t := ModelTier(strings.ToLower(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", errors.Errorf("unknown model tier %q (expected cheap, mid or top)", s)
	}
	return t, nil
}
