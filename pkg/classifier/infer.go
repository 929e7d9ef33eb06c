package classifier

import (
	skilltypes "github.com/jingkaihe/skillrouter/pkg/types/skills"
)

var taskVerbs = map[string]skilltypes.TaskType{}

func init() {
	register := func(t skilltypes.TaskType, words ...string) {
		for _, w := range words {
			taskVerbs[stem(w)] = t
		}
	}
	register(skilltypes.TaskImplement,
		"implement", "build", "add", "create", "write", "develop", "integrate",
		"generate", "scaffold", "port", "migrate", "wire", "set", "setup",
	)
	register(skilltypes.TaskReview,
		"review", "audit", "check", "inspect", "assess", "verify", "validate", "critique", "evaluate",
	)
	register(skilltypes.TaskDesign,
		"design", "architect", "architecture", "plan", "model", "propose", "structure", "choose",
	)
	register(skilltypes.TaskDebug,
		"debug", "fix", "troubleshoot", "diagnose", "investigate", "repair", "bug", "crash", "failing", "broken",
	)
	register(skilltypes.TaskOptimize,
		"optimize", "optimise", "speed", "tune", "profile", "accelerate", "slow", "latency", "performance",
	)
}

// InferTaskType guesses the task type from the first known verb or signal
// word in description. It returns TaskNone when none is found.
func InferTaskType(description string) skilltypes.TaskType {
	for _, term := range Terms(description) {
		if t, ok := taskVerbs[term]; ok {
			return t
		}
	}
	return skilltypes.TaskNone
}
