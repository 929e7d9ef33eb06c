// Package composer assembles budget-bounded context from ranked skills.
package composer

import (
	"context"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jingkaihe/skillrouter/pkg/logger"
	"github.com/jingkaihe/skillrouter/pkg/telemetry"
	skilltypes "github.com/jingkaihe/skillrouter/pkg/types/skills"
)

// priorities lists the section kinds each task type pulls, most wanted first.
var priorities = map[skilltypes.TaskType][]skilltypes.SectionKind{
	skilltypes.TaskImplement: {
		skilltypes.SectionOverview, skilltypes.SectionTemplates, skilltypes.SectionExamples,
		skilltypes.SectionChecklist, skilltypes.SectionPrompts, skilltypes.SectionOther,
	},
	skilltypes.TaskReview: {
		skilltypes.SectionOverview, skilltypes.SectionChecklist, skilltypes.SectionExamples,
		skilltypes.SectionTemplates, skilltypes.SectionPrompts, skilltypes.SectionOther,
	},
	skilltypes.TaskDesign: {
		skilltypes.SectionOverview, skilltypes.SectionChecklist, skilltypes.SectionExamples,
		skilltypes.SectionPrompts, skilltypes.SectionTemplates, skilltypes.SectionOther,
	},
	skilltypes.TaskDebug: {
		skilltypes.SectionOverview, skilltypes.SectionChecklist, skilltypes.SectionExamples,
		skilltypes.SectionTemplates, skilltypes.SectionPrompts, skilltypes.SectionOther,
	},
	skilltypes.TaskOptimize: {
		skilltypes.SectionOverview, skilltypes.SectionChecklist, skilltypes.SectionTemplates,
		skilltypes.SectionExamples, skilltypes.SectionPrompts, skilltypes.SectionOther,
	},
	skilltypes.TaskNone: {
		skilltypes.SectionOverview, skilltypes.SectionChecklist, skilltypes.SectionExamples,
		skilltypes.SectionTemplates, skilltypes.SectionPrompts, skilltypes.SectionOther,
	},
}

// Priority returns the section kind order used for taskType.
func Priority(taskType skilltypes.TaskType) []skilltypes.SectionKind {
	if p, ok := priorities[taskType]; ok {
		return p
	}
	return priorities[skilltypes.TaskNone]
}

// OrderSections returns the composable sections of doc in the order they are
// considered for taskType. The first one is the document's core section.
func OrderSections(doc *skilltypes.SkillDocument, taskType skilltypes.TaskType) []skilltypes.Section {
	var out []skilltypes.Section
	for _, kind := range Priority(taskType) {
		out = append(out, doc.SectionsOfKind(kind)...)
	}
	return out
}

// Composer packs whole sections into a budget.
type Composer struct{}

// New returns a Composer.
func New() *Composer {
	return &Composer{}
}

// Compose walks candidates in rank order. Each candidate contributes its core
// section first and then further sections by task-type priority. A section
// is added only if it keeps the total within budget and its content hash has
// not been emitted yet; sections are never cut. A secondary candidate whose
// core section does not fit is skipped. When the top candidate's core does
// not fit, a *BudgetTooSmallError is returned and no decision.
//
// An expired deadline stops composition between sections; the decision built
// so far is returned with Trace.Degraded set.
func (c *Composer) Compose(ctx context.Context, ranked skilltypes.RankedCandidates, budget int, taskType skilltypes.TaskType) (*skilltypes.RoutingDecision, error) {
	ctx, span := telemetry.Start(ctx, "composer.compose",
		attribute.Int("budget", budget),
		attribute.String("task_type", string(taskType)),
	)
	defer span.End()

	if budget <= 0 {
		err := errors.Errorf("budget must be positive, got %d", budget)
		telemetry.RecordError(ctx, err)
		return nil, err
	}

	if len(ranked.Candidates) == 0 && !ranked.Degraded {
		telemetry.RecordError(ctx, ErrNoCandidates)
		return nil, ErrNoCandidates
	}

	decision := &skilltypes.RoutingDecision{
		Budget: budget,
		Trace: skilltypes.Trace{
			Candidates:     ranked.Considered,
			NoMatch:        ranked.NoMatch,
			HintUnresolved: ranked.HintUnresolved,
			Degraded:       ranked.Degraded,
			TaskType:       taskType,
		},
	}
	skip := func(skillID string, s skilltypes.Section, reason skilltypes.SkipReason) {
		decision.Trace.Skipped = append(decision.Trace.Skipped, skilltypes.SkippedSection{
			SkillID: skillID, Section: s.Name, Tokens: s.Tokens, Reason: reason,
		})
	}

	seen := make(map[string]bool)
	total := 0

candidates:
	for i, cand := range ranked.Candidates {
		doc := cand.Document
		if doc == nil {
			continue
		}
		sections := OrderSections(doc, taskType)
		for j, s := range sections {
			if deadlineExceeded(ctx) {
				decision.Trace.Degraded = true
				skip(doc.ID, s, skilltypes.SkipDeadline)
				break candidates
			}
			if seen[s.Hash] {
				skip(doc.ID, s, skilltypes.SkipDuplicate)
				continue
			}
			if total+s.Tokens > budget {
				if j == 0 {
					if i == 0 {
						err := &BudgetTooSmallError{Budget: budget, Required: s.Tokens, SkillID: doc.ID, Section: s.Name}
						telemetry.RecordError(ctx, err)
						return nil, err
					}
					skip(doc.ID, s, skilltypes.SkipBudget)
					continue candidates
				}
				skip(doc.ID, s, skilltypes.SkipBudget)
				continue
			}

			seen[s.Hash] = true
			total += s.Tokens
			decision.Blocks = append(decision.Blocks, skilltypes.Block{
				SkillID: doc.ID,
				Section: s.Name,
				Content: s.Body,
				Tokens:  s.Tokens,
			})
		}
	}
	decision.TotalTokens = total

	telemetry.SetAttributes(ctx,
		attribute.Int("blocks", len(decision.Blocks)),
		attribute.Int("tokens", total),
		attribute.Bool("degraded", decision.Trace.Degraded),
	)
	logger.G(ctx).
		WithField("budget", budget).
		WithField("tokens", total).
		WithField("blocks", len(decision.Blocks)).
		Debug("composed context")
	return decision, nil
}

func deadlineExceeded(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.DeadlineExceeded)
}
