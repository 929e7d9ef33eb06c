package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillrouter/pkg/presenter"
	"github.com/jingkaihe/skillrouter/pkg/registry"
	"github.com/jingkaihe/skillrouter/pkg/server"
	skilltypes "github.com/jingkaihe/skillrouter/pkg/types/skills"
)

// SkillsListConfig holds the filters of skills list.
type SkillsListConfig struct {
	Domain   string
	Category string
	Tags     []string
	MatchAll bool
}

var skillsCmd = &cobra.Command{
	Use:   "skills",
	Short: "Inspect the skill registry",
	Long:  `List, show and validate the skill documents of the configured corpus.`,
	Run: func(cmd *cobra.Command, _ []string) {
		_ = cmd.Help()
	},
}

var skillsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List skills, optionally filtered by domain, category or tag",
	Run: func(cmd *cobra.Command, _ []string) {
		withApp(cmd, func(ctx context.Context, a *app) error {
			return listSkills(os.Stdout, snapshotOf(a), getSkillsListConfigFromFlags(cmd))
		})
	},
}

var skillsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one skill document",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		format, _ := cmd.Flags().GetString("format")
		withApp(cmd, func(ctx context.Context, a *app) error {
			return showSkill(os.Stdout, snapshotOf(a), args[0], format)
		})
	},
}

var skillsTreeCmd = &cobra.Command{
	Use:   "tree",
	Short: "Print the skill hierarchy",
	Run: func(cmd *cobra.Command, _ []string) {
		withApp(cmd, func(ctx context.Context, a *app) error {
			printTree(os.Stdout, snapshotOf(a))
			return nil
		})
	},
}

var skillsRelatedCmd = &cobra.Command{
	Use:   "related <id>",
	Short: "List skills cross-referenced with a skill",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withApp(cmd, func(ctx context.Context, a *app) error {
			snap := snapshotOf(a)
			if _, ok := snap.Lookup(args[0]); !ok {
				return errors.Errorf("skill %q not found", args[0])
			}
			return writeSummaries(os.Stdout, server.Summarize(snap, snap.RelatedTo(args[0])))
		})
	},
}

var skillsValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load the corpus and report hierarchy problems, quarantined files and dangling references",
	Long: `Load the corpus exactly as the router would and report every problem found.

Exits 3 when the hierarchy is invalid (duplicate ids, unresolved parents or
parent cycles). Quarantined documents and dangling cross-references are
reported as warnings.`,
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			reportHierarchyError(err)
			fail(err, "invalid skill corpus")
		}
		defer a.Close()

		snap := snapshotOf(a)
		for _, q := range snap.Quarantined() {
			presenter.Warning(fmt.Sprintf("quarantined %s: %s", q.Path, q.Reason))
		}
		for _, d := range snap.Dangling() {
			presenter.Warning(fmt.Sprintf("%s references unknown skill %q", d.From, d.Target))
		}
		if err := checkFallback(snap, a.config.Classifier.Fallback); err != nil {
			presenter.Warning(err.Error())
		}
		presenter.Success(fmt.Sprintf("%d skills loaded from %d files (%d quarantined)",
			snap.Len(), len(snap.Files()), len(snap.Quarantined())))
	},
}

func init() {
	skillsListCmd.Flags().String("domain", "", "Only skills of this domain")
	skillsListCmd.Flags().String("category", "", "Only skills of this category")
	skillsListCmd.Flags().StringSlice("tag", nil, "Only skills carrying any of these tags")
	skillsListCmd.Flags().Bool("all-tags", false, "Require every --tag instead of any")

	skillsShowCmd.Flags().String("format", "text", "Output format (text, json, yaml)")

	skillsCmd.AddCommand(skillsListCmd)
	skillsCmd.AddCommand(skillsShowCmd)
	skillsCmd.AddCommand(skillsTreeCmd)
	skillsCmd.AddCommand(skillsRelatedCmd)
	skillsCmd.AddCommand(skillsValidateCmd)
}

func getSkillsListConfigFromFlags(cmd *cobra.Command) *SkillsListConfig {
	config := &SkillsListConfig{}
	if domain, err := cmd.Flags().GetString("domain"); err == nil {
		config.Domain = domain
	}
	if category, err := cmd.Flags().GetString("category"); err == nil {
		config.Category = category
	}
	if tags, err := cmd.Flags().GetStringSlice("tag"); err == nil {
		config.Tags = tags
	}
	if all, err := cmd.Flags().GetBool("all-tags"); err == nil {
		config.MatchAll = all
	}
	return config
}

// withApp loads the registry, runs f and exits with the error's code.
func withApp(cmd *cobra.Command, f func(context.Context, *app) error) {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		fail(err, "failed to load skill registry")
	}
	defer a.Close()

	if err := f(ctx, a); err != nil {
		a.Close()
		fail(err, "")
	}
}

func snapshotOf(a *app) *registry.Snapshot {
	return a.manager.Current()
}

func reportHierarchyError(err error) {
	var herr *registry.HierarchyError
	if !errors.As(err, &herr) {
		return
	}
	for _, issue := range herr.Issues() {
		presenter.Error(issue, string(issue.Kind))
		for _, p := range issue.Paths {
			presenter.Info("  " + p)
		}
	}
}

func listSkills(out io.Writer, snap *registry.Snapshot, cfg *SkillsListConfig) error {
	docs := snap.Search(registry.Query{
		Domain:   cfg.Domain,
		Category: cfg.Category,
		Tags:     cfg.Tags,
		MatchAll: cfg.MatchAll,
	})
	if len(docs) == 0 {
		presenter.Info("No skills found")
		return nil
	}
	return writeSummaries(out, server.Summarize(snap, docs))
}

func writeSummaries(out io.Writer, summaries []server.SkillSummary) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDOMAIN\tPARENT\tTOKENS\tDESCRIPTION")
	for _, s := range summaries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", s.ID, dash(s.Domain), dash(s.Parent), s.Tokens, truncate(s.Description, 60))
	}
	return w.Flush()
}

func showSkill(out io.Writer, snap *registry.Snapshot, id, format string) error {
	doc, ok := snap.Lookup(id)
	if !ok {
		return errors.Errorf("skill %q not found", id)
	}

	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	case "yaml":
		return writeYAML(out, doc)
	case "text":
	default:
		return checkFormat(format)
	}

	fmt.Fprintf(out, "%s (%s)\n", doc.ID, doc.Path)
	if doc.Name != "" && doc.Name != doc.ID {
		fmt.Fprintf(out, "  name:        %s\n", doc.Name)
	}
	fmt.Fprintf(out, "  domain:      %s\n", dash(doc.Domain))
	fmt.Fprintf(out, "  parent:      %s\n", dash(doc.ParentSkill))
	fmt.Fprintf(out, "  category:    %s\n", dash(doc.Category))
	if len(doc.Tags) > 0 {
		fmt.Fprintf(out, "  tags:        %s\n", strings.Join(doc.Tags, ", "))
	}
	if doc.Description != "" {
		fmt.Fprintf(out, "  description: %s\n", doc.Description)
	}

	fmt.Fprintln(out, "\nSections:")
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, s := range doc.Sections {
		fmt.Fprintf(w, "  %s\t%s\t%d tokens\n", s.Name, s.Kind, s.Tokens)
	}
	_ = w.Flush()

	if len(doc.TierRules) > 0 {
		fmt.Fprintln(out, "\nAgent Selection:")
		w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		for _, r := range doc.TierRules {
			fmt.Fprintf(w, "  %s\t%s\t%s\n", r.Task, r.Tier, strings.Join(r.Patterns, " | "))
		}
		_ = w.Flush()
	}

	if children := snap.Children(doc.ID); len(children) > 0 {
		fmt.Fprintf(out, "\nChildren: %s\n", strings.Join(skillIDs(children), ", "))
	}
	if len(doc.CrossRefs) > 0 {
		fmt.Fprintf(out, "Related: %s\n", strings.Join(doc.CrossRefs, ", "))
	}
	return nil
}

func printTree(out io.Writer, snap *registry.Snapshot) {
	var walk func(doc *skilltypes.SkillDocument, prefix string, last bool, root bool)
	walk = func(doc *skilltypes.SkillDocument, prefix string, last bool, root bool) {
		branch, next := "", ""
		if !root {
			branch, next = "├── ", "│   "
			if last {
				branch, next = "└── ", "    "
			}
		}
		fmt.Fprintf(out, "%s%s%s\n", prefix, branch, doc.ID)
		children := snap.Children(doc.ID)
		for i, c := range children {
			walk(c, prefix+next, i == len(children)-1, false)
		}
	}
	for _, r := range snap.Roots() {
		walk(r, "", true, true)
	}
}

func skillIDs(docs []*skilltypes.SkillDocument) []string {
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	return ids
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, n int) string {
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}
