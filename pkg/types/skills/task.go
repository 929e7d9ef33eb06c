package skills

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

// TaskType is the declared nature of a task.
type TaskType string

const (
	TaskNone      TaskType = ""
	TaskImplement TaskType = "implement"
	TaskReview    TaskType = "review"
	TaskDesign    TaskType = "design"
	TaskDebug     TaskType = "debug"
	TaskOptimize  TaskType = "optimize"
)

// AllTaskTypes returns the declared task types in a fixed order.
func AllTaskTypes() []TaskType {
	return []TaskType{TaskImplement, TaskReview, TaskDesign, TaskDebug, TaskOptimize}
}

// IsValid reports whether t is empty or one of the known task types.
func (t TaskType) IsValid() bool {
	if t == TaskNone {
		return true
	}
	for _, v := range AllTaskTypes() {
		if t == v {
			return true
		}
	}
	return false
}

// ParseTaskType parses a task type, accepting an empty string as TaskNone.
func ParseTaskType(s string) (TaskType, error) {
	t := TaskType(strings.ToLower(strings.TrimSpace(s)))
	if !t.IsValid() {
		return TaskNone, errors.Errorf("unknown task type %q", s)
	}
	return t, nil
}

// Task is one routing request from the host agent.
type Task struct {
	Description string   `json:"description" jsonschema:"required,description=Free-text task description"`
	SkillHint   string   `json:"skillHint,omitempty" jsonschema:"description=Optional explicit skill id"`
	TokenBudget int      `json:"tokenBudget" jsonschema:"required,minimum=1,description=Maximum tokens of composed context"`
	TaskType    TaskType `json:"taskType,omitempty" jsonschema:"enum=implement,enum=review,enum=design,enum=debug,enum=optimize"`
	// Timeout bounds classification and composition. Zero uses the router default.
	Timeout time.Duration `json:"-"`
}

// Validate checks the task boundary contract.
func (t Task) Validate() error {
	if strings.TrimSpace(t.Description) == "" && t.SkillHint == "" {
		return errors.New("task description must not be empty")
	}
	if t.TokenBudget <= 0 {
		return errors.Errorf("token budget must be greater than zero, got %d", t.TokenBudget)
	}
	if !t.TaskType.IsValid() {
		return errors.Errorf("unknown task type %q", t.TaskType)
	}
	return nil
}
