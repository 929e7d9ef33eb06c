// Package router answers one task: it pins the current registry snapshot,
// ranks skills, composes context within the token budget and assigns a
// model tier to each planned subtask.
package router

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jingkaihe/skillrouter/pkg/classifier"
	"github.com/jingkaihe/skillrouter/pkg/composer"
	"github.com/jingkaihe/skillrouter/pkg/logger"
	"github.com/jingkaihe/skillrouter/pkg/registry"
	"github.com/jingkaihe/skillrouter/pkg/telemetry"
	"github.com/jingkaihe/skillrouter/pkg/tier"
	skilltypes "github.com/jingkaihe/skillrouter/pkg/types/skills"
)

// DefaultTimeout bounds classification and composition when neither the task
// nor the router sets one.
const DefaultTimeout = 2 * time.Second

// ErrInvalidTask is returned for tasks that fail validation.
var ErrInvalidTask = errors.New("invalid task")

// Source hands out registry snapshots. *registry.Manager implements it.
type Source interface {
	Acquire() (*registry.Snapshot, error)
}

// Router is safe for concurrent use; every call works on its own snapshot.
type Router struct {
	source     Source
	classifier *classifier.Classifier
	composer   *composer.Composer
	timeout    time.Duration
}

// Option configures a Router.
type Option func(*Router)

// WithTimeout sets the per-task deadline. Zero or negative disables it.
func WithTimeout(d time.Duration) Option {
	return func(r *Router) {
		r.timeout = d
	}
}

// WithClassifierOptions replaces the ranking options.
func WithClassifierOptions(opts classifier.Options) Option {
	return func(r *Router) {
		r.classifier = classifier.New(opts)
	}
}

// New returns a router reading snapshots from source.
func New(source Source, opts ...Option) *Router {
	r := &Router{
		source:     source,
		classifier: classifier.New(classifier.DefaultOptions()),
		composer:   composer.New(),
		timeout:    DefaultTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route produces the routing decision for task.
//
// The snapshot acquired at the start is used for the whole call, so a reload
// that lands mid-task is not observed. When the deadline passes, the stages
// return what they have and the decision is marked degraded. Cancellation of
// ctx by the caller aborts between stages with ctx.Err().
func (r *Router) Route(ctx context.Context, task skilltypes.Task) (*skilltypes.RoutingDecision, error) {
	ctx, span := telemetry.Start(ctx, "router.route",
		attribute.Int("budget", task.TokenBudget),
		attribute.String("skill_hint", task.SkillHint),
	)
	defer span.End()

	if err := task.Validate(); err != nil {
		err = fmt.Errorf("%w: %s", ErrInvalidTask, err)
		telemetry.RecordError(ctx, err)
		return nil, err
	}

	snap, err := r.source.Acquire()
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}
	telemetry.SetAttributes(ctx, attribute.Int64("snapshot", int64(snap.Generation())))

	timeout := task.Timeout
	if timeout <= 0 {
		timeout = r.timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	taskType := task.TaskType
	inferred := false
	if taskType == skilltypes.TaskNone {
		taskType = classifier.InferTaskType(task.Description)
		inferred = taskType != skilltypes.TaskNone
	}

	ranked := r.classifier.Classify(ctx, task, snap)
	if cancelled(ctx) {
		return nil, ctx.Err()
	}

	decision, err := r.composer.Compose(ctx, ranked, task.TokenBudget, taskType)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}
	if cancelled(ctx) {
		return nil, ctx.Err()
	}

	var top *skilltypes.SkillDocument
	if c, ok := ranked.Top(); ok {
		top = c.Document
	}
	decision.Assignments = Assign(top, Plan(task.Description, taskType))
	decision.Trace.TaskType = taskType
	decision.Trace.TaskTypeInferred = inferred
	decision.Trace.Snapshot = snap.Generation()

	telemetry.SetAttributes(ctx,
		attribute.StringSlice("skills", decision.SkillIDs()),
		attribute.Int("tokens", decision.TotalTokens),
		attribute.Bool("degraded", decision.Degraded()),
	)
	logger.G(ctx).
		WithField("snapshot", snap.Generation()).
		WithField("budget", task.TokenBudget).
		WithField("tokens", decision.TotalTokens).
		WithField("skills", decision.SkillIDs()).
		WithField("degraded", decision.Degraded()).
		Debug("routed task")
	return decision, nil
}

// Assign resolves the tier of each subtask against doc's Agent Selection
// rules. doc may be nil, in which case the default heuristic applies.
func Assign(doc *skilltypes.SkillDocument, subtasks []Subtask) []skilltypes.TierAssignment {
	out := make([]skilltypes.TierAssignment, 0, len(subtasks))
	for _, st := range subtasks {
		m := tier.Explain(doc, st.Text)
		a := skilltypes.TierAssignment{
			Subtask:     st.Text,
			SubtaskType: string(st.Type),
			Tier:        m.Tier,
			Rule:        m.Rule,
		}
		if doc != nil {
			a.SkillID = doc.ID
		}
		out = append(out, a)
	}
	return out
}

// cancelled reports caller cancellation. A passed deadline is not
// cancellation; it degrades the decision instead.
func cancelled(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.Canceled)
}
