package router

import (
	"regexp"
	"strings"

	"github.com/jingkaihe/skillrouter/pkg/classifier"
	skilltypes "github.com/jingkaihe/skillrouter/pkg/types/skills"
)

// clauseSeparator splits a description into sequential steps.
var clauseSeparator = regexp.MustCompile(`(?i)\s*(?:;|\n|\band then\b|\bthen\b)\s*`)

// Subtask is one planned step of a task.
type Subtask struct {
	Text string
	Type skilltypes.TaskType
}

// Plan splits description into subtasks. The first step carries taskType;
// later steps get the type their own wording implies, falling back to
// taskType.
func Plan(description string, taskType skilltypes.TaskType) []Subtask {
	var out []Subtask
	for _, clause := range clauseSeparator.Split(description, -1) {
		clause = strings.Trim(strings.TrimSpace(clause), ",.")
		if clause == "" {
			continue
		}
		t := taskType
		if len(out) > 0 {
			if inferred := classifier.InferTaskType(clause); inferred != skilltypes.TaskNone {
				t = inferred
			}
		}
		out = append(out, Subtask{Text: clause, Type: t})
	}
	return out
}
