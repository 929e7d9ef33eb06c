package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jingkaihe/skillrouter/pkg/presenter"
	skilltypes "github.com/jingkaihe/skillrouter/pkg/types/skills"
)

// RouteConfig holds configuration for the route command
type RouteConfig struct {
	Task        string
	SkillHint   string
	Budget      int
	TaskType    string
	Format      string
	Timeout     time.Duration
	ShowContent bool
}

// NewRouteConfig creates a new RouteConfig with default values
func NewRouteConfig() *RouteConfig {
	return &RouteConfig{
		Budget: 4000,
		Format: "text",
	}
}

var routeCmd = &cobra.Command{
	Use:   "route [task description]",
	Short: "Select skills for a task and print the composed context",
	Long: `Route a task description through the classifier and the composer.

The decision lists the context blocks that fit the token budget, the model
tier chosen for every subtask and a trace of what was skipped and why.

Exit codes: 0 success, 2 budget too small for the best skill, 3 the registry
could not be loaded, 1 any other failure.`,
	Example: `  skillrouter route --task "implement JWT authentication for an API" --budget 4000
  skillrouter route "review this React hook" --format json`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		cfg := getRouteConfigFromFlags(cmd)
		if cfg.Task == "" && len(args) > 0 {
			cfg.Task = strings.Join(args, " ")
		}
		if err := runRoute(ctx, cfg, os.Stdout); err != nil {
			fail(err, "routing failed")
		}
	},
}

func init() {
	defaults := NewRouteConfig()
	routeCmd.Flags().String("task", "", "Task description")
	routeCmd.Flags().String("skill", "", "Explicit skill id to route to first")
	routeCmd.Flags().Int("budget", defaults.Budget, "Token budget for the composed context")
	routeCmd.Flags().String("task-type", "", "Task type (implement, review, design, debug, optimize); inferred when empty")
	routeCmd.Flags().String("format", defaults.Format, "Output format (text, json, yaml)")
	routeCmd.Flags().Duration("timeout", 0, "Deadline for classification and composition (0 uses router.timeout)")
	routeCmd.Flags().Bool("content", false, "Print block contents in text format")
}

func getRouteConfigFromFlags(cmd *cobra.Command) *RouteConfig {
	config := NewRouteConfig()

	if task, err := cmd.Flags().GetString("task"); err == nil {
		config.Task = task
	}
	if skill, err := cmd.Flags().GetString("skill"); err == nil {
		config.SkillHint = skill
	}
	if budget, err := cmd.Flags().GetInt("budget"); err == nil {
		config.Budget = budget
	}
	if taskType, err := cmd.Flags().GetString("task-type"); err == nil {
		config.TaskType = taskType
	}
	if format, err := cmd.Flags().GetString("format"); err == nil {
		config.Format = format
	}
	if timeout, err := cmd.Flags().GetDuration("timeout"); err == nil {
		config.Timeout = timeout
	}
	if content, err := cmd.Flags().GetBool("content"); err == nil {
		config.ShowContent = content
	}

	return config
}

func (c *RouteConfig) task() (skilltypes.Task, error) {
	taskType, err := skilltypes.ParseTaskType(c.TaskType)
	if err != nil {
		return skilltypes.Task{}, err
	}
	return skilltypes.Task{
		Description: c.Task,
		SkillHint:   c.SkillHint,
		TokenBudget: c.Budget,
		TaskType:    taskType,
		Timeout:     c.Timeout,
	}, nil
}

func runRoute(ctx context.Context, cfg *RouteConfig, out io.Writer) error {
	task, err := cfg.task()
	if err != nil {
		return err
	}
	if err := checkFormat(cfg.Format); err != nil {
		return err
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	decision, err := a.router.Route(ctx, task)
	if err != nil {
		return err
	}
	return writeDecision(out, decision, cfg.Format, cfg.ShowContent)
}

func checkFormat(format string) error {
	switch format {
	case "text", "json", "yaml":
		return nil
	default:
		return errors.Errorf("unknown format %q (expected text, json or yaml)", format)
	}
}

func writeDecision(out io.Writer, d *skilltypes.RoutingDecision, format string, showContent bool) error {
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(d)
	case "yaml":
		return writeYAML(out, d)
	default:
		presenter.NewWithOptions(out, os.Stderr, presenter.ColorAuto).Decision(d, showContent)
		return nil
	}
}

// writeYAML encodes v using its JSON field names, so every format shares one
// schema.
func writeYAML(out io.Writer, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "failed to encode output")
	}
	var generic any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return errors.Wrap(err, "failed to encode output")
	}
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return errors.Wrap(err, "failed to encode output")
	}
	return enc.Close()
}
