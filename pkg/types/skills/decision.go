package skills

// Candidate is one ranked skill produced by the classifier.
type Candidate struct {
	Document   *SkillDocument `json:"-"`
	SkillID    string         `json:"skillId"`
	Confidence float64        `json:"score"`
}

// RankedCandidates is the classifier output. Candidates are sorted best first.
type RankedCandidates struct {
	Candidates []Candidate `json:"candidates"`
	// Considered lists every scored skill, including those rejected by the
	// threshold, in ranking order.
	Considered     []ScoredSkill `json:"considered"`
	NoMatch        bool          `json:"noMatch,omitempty"`
	HintUsed       bool          `json:"hintUsed,omitempty"`
	HintUnresolved bool          `json:"hintUnresolved,omitempty"`
	Degraded       bool          `json:"degraded,omitempty"`
}

// Top returns the best candidate.
func (r RankedCandidates) Top() (Candidate, bool) {
	if len(r.Candidates) == 0 {
		return Candidate{}, false
	}
	return r.Candidates[0], true
}

// ScoredSkill is a routing-trace entry for one classifier candidate.
type ScoredSkill struct {
	SkillID  string  `json:"skillId"`
	Score    float64 `json:"score"`
	Rejected bool    `json:"rejected,omitempty"`
	Reason   string  `json:"reason,omitempty"`
}

// Block is one composed context section.
type Block struct {
	SkillID string `json:"skillId"`
	Section string `json:"section"`
	Content string `json:"content"`
	Tokens  int    `json:"tokens"`
}

// TierAssignment is the model tier chosen for one planned subtask.
type TierAssignment struct {
	Subtask     string    `json:"subtask"`
	SubtaskType string    `json:"subtaskType"`
	Tier        ModelTier `json:"tier"`
	SkillID     string    `json:"skillId,omitempty"`
	// Rule is the Agent Selection pattern that matched, or "default".
	Rule string `json:"rule"`
}

// SkipReason explains why the composer left a section out.
type SkipReason string

const (
	SkipBudget    SkipReason = "budget"
	SkipDuplicate SkipReason = "duplicate"
	SkipDeadline  SkipReason = "deadline"
)

// SkippedSection is a routing-trace entry for a section the composer did not include.
type SkippedSection struct {
	SkillID string     `json:"skillId"`
	Section string     `json:"section"`
	Tokens  int        `json:"tokens"`
	Reason  SkipReason `json:"reason"`
}

// Trace is the diagnostic record of one routing decision.
type Trace struct {
	Candidates       []ScoredSkill    `json:"candidates"`
	Skipped          []SkippedSection `json:"skipped,omitempty"`
	NoMatch          bool             `json:"noMatch,omitempty"`
	HintUnresolved   bool             `json:"hintUnresolved,omitempty"`
	Degraded         bool             `json:"degraded,omitempty"`
	TaskType         TaskType         `json:"taskType,omitempty"`
	TaskTypeInferred bool             `json:"taskTypeInferred,omitempty"`
	Snapshot         uint64           `json:"snapshot,omitempty"`
}

// RoutingDecision is the router output handed to the host agent.
type RoutingDecision struct {
	Blocks      []Block          `json:"blocks"`
	TotalTokens int              `json:"totalTokens"`
	Budget      int              `json:"budget"`
	Assignments []TierAssignment `json:"assignments"`
	Trace       Trace            `json:"trace"`
}

// Degraded reports whether any stage hit its deadline.
func (d *RoutingDecision) Degraded() bool {
	return d.Trace.Degraded
}

// SkillIDs returns the distinct skills contributing blocks, in output order.
func (d *RoutingDecision) SkillIDs() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, b := range d.Blocks {
		if !seen[b.SkillID] {
			seen[b.SkillID] = true
			ids = append(ids, b.SkillID)
		}
	}
	return ids
}
