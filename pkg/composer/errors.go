package composer

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrNoCandidates is returned when no skill matched the task and no
// fallback skill is indexed, so there is nothing to compose.
var ErrNoCandidates = errors.New("no skill matches the task and the fallback skill is not indexed")

// ErrBudgetTooSmall is matched by *BudgetTooSmallError.
var ErrBudgetTooSmall = errors.New("budget too small")

// BudgetTooSmallError reports that the top candidate's first section alone
// exceeds the budget. No partial context accompanies it; retrying with
// Required tokens or more succeeds.
type BudgetTooSmallError struct {
	Budget   int
	Required int
	SkillID  string
	Section  string
}

func (e *BudgetTooSmallError) Error() string {
	return fmt.Sprintf("budget too small: %s/%s needs %d tokens, budget is %d", e.SkillID, e.Section, e.Required, e.Budget)
}

// Is makes errors.Is(err, ErrBudgetTooSmall) true.
func (e *BudgetTooSmallError) Is(target error) bool {
	return target == ErrBudgetTooSmall
}
