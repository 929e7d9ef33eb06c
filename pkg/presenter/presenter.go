// Package presenter writes user-facing CLI output: status messages with
// color support and quiet mode, plus the text renderings of routing
// decisions and registry reports.
package presenter

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"

	skilltypes "github.com/jingkaihe/skillrouter/pkg/types/skills"
)

// Presenter defines the interface for consistent CLI output
type Presenter interface {
	Error(err error, context string)
	Success(message string)
	Warning(message string)
	Info(message string)
	Section(title string)
	Decision(d *skilltypes.RoutingDecision, withContent bool)
	Separator()
	SetQuiet(quiet bool)
	IsQuiet() bool
}

// TerminalPresenter implements Presenter for terminal output
type TerminalPresenter struct {
	output      io.Writer
	errorOutput io.Writer
	colorMode   ColorMode
	quiet       bool
}

// ColorMode represents different color output modes
type ColorMode int

const (
	// ColorAuto automatically detects whether to use colored output based on terminal capabilities
	ColorAuto ColorMode = iota
	// ColorAlways forces colored output regardless of terminal capabilities
	ColorAlways
	// ColorNever disables colored output regardless of terminal capabilities
	ColorNever
)

// New creates a new TerminalPresenter with default settings
func New() *TerminalPresenter {
	return NewWithOptions(os.Stdout, os.Stderr, detectColorMode())
}

// NewWithOptions creates a TerminalPresenter with custom settings
func NewWithOptions(output, errorOutput io.Writer, colorMode ColorMode) *TerminalPresenter {
	p := &TerminalPresenter{
		output:      output,
		errorOutput: errorOutput,
		colorMode:   colorMode,
	}

	switch colorMode {
	case ColorAlways:
		color.NoColor = false
	case ColorNever:
		color.NoColor = true
	case ColorAuto:
	}

	return p
}

// detectColorMode honours NO_COLOR and SKILLROUTER_COLOR.
func detectColorMode() ColorMode {
	if os.Getenv("NO_COLOR") != "" {
		return ColorNever
	}

	switch os.Getenv("SKILLROUTER_COLOR") {
	case "always", "force":
		return ColorAlways
	case "never", "off":
		return ColorNever
	default:
		return ColorAuto
	}
}

// Error displays an error message to stderr. It is shown in quiet mode too.
func (p *TerminalPresenter) Error(err error, context string) {
	if err == nil {
		return
	}

	errorColor := color.New(color.FgRed, color.Bold)
	if context != "" {
		errorColor.Fprintf(p.errorOutput, "[ERROR] %s: %v\n", context, err)
	} else {
		errorColor.Fprintf(p.errorOutput, "[ERROR] %v\n", err)
	}
}

// Success displays a success message
func (p *TerminalPresenter) Success(message string) {
	if p.quiet {
		return
	}
	color.New(color.FgGreen, color.Bold).Fprintf(p.output, "✓ %s\n", message)
}

// Warning displays a warning message
func (p *TerminalPresenter) Warning(message string) {
	if p.quiet {
		return
	}
	color.New(color.FgYellow, color.Bold).Fprintf(p.output, "⚠ %s\n", message)
}

// Info displays an informational message
func (p *TerminalPresenter) Info(message string) {
	if p.quiet {
		return
	}
	fmt.Fprintf(p.output, "%s\n", message)
}

// Section displays a section header with consistent formatting
func (p *TerminalPresenter) Section(title string) {
	if p.quiet {
		return
	}

	headerColor := color.New(color.Bold)
	headerColor.Fprintf(p.output, "%s\n", title)
	headerColor.Fprintf(p.output, "%s\n", strings.Repeat("-", len(title)))
}

// Decision renders a routing decision for humans. Block bodies are printed
// only when withContent is set. The decision itself is never suppressed by
// quiet mode; it is the command's result.
func (p *TerminalPresenter) Decision(d *skilltypes.RoutingDecision, withContent bool) {
	if d == nil {
		return
	}
	bold := color.New(color.Bold)
	faint := color.New(color.Faint)
	skillColor := color.New(color.FgCyan, color.Bold)

	bold.Fprintf(p.output, "Context: %d/%d tokens from %d block(s)\n", d.TotalTokens, d.Budget, len(d.Blocks))
	for _, b := range d.Blocks {
		skillColor.Fprintf(p.output, "  %s", b.SkillID)
		fmt.Fprintf(p.output, " / %s ", b.Section)
		faint.Fprintf(p.output, "(%d tokens)\n", b.Tokens)
		if withContent {
			for _, line := range strings.Split(strings.TrimRight(b.Content, "\n"), "\n") {
				fmt.Fprintf(p.output, "    %s\n", line)
			}
		}
	}

	if len(d.Assignments) > 0 {
		bold.Fprintln(p.output, "Tiers:")
		for _, a := range d.Assignments {
			fmt.Fprintf(p.output, "  %-5s ", a.Tier)
			fmt.Fprintf(p.output, "%s ", a.Subtask)
			faint.Fprintf(p.output, "[rule: %s]\n", a.Rule)
		}
	}

	if len(d.Trace.Skipped) > 0 {
		bold.Fprintln(p.output, "Skipped:")
		for _, s := range d.Trace.Skipped {
			faint.Fprintf(p.output, "  %s / %s (%d tokens, %s)\n", s.SkillID, s.Section, s.Tokens, s.Reason)
		}
	}

	warn := color.New(color.FgYellow)
	if d.Trace.NoMatch {
		warn.Fprintln(p.output, "⚠ no skill matched; fell back to the general skill")
	}
	if d.Trace.HintUnresolved {
		warn.Fprintln(p.output, "⚠ skill hint did not resolve")
	}
	if d.Degraded() {
		warn.Fprintln(p.output, "⚠ deadline reached; result is partial")
	}
}

// Separator displays a visual separator
func (p *TerminalPresenter) Separator() {
	if p.quiet {
		return
	}
	color.New(color.Faint).Fprintf(p.output, "%s\n", strings.Repeat("-", 60))
}

// SetQuiet enables or disables quiet mode
func (p *TerminalPresenter) SetQuiet(quiet bool) {
	p.quiet = quiet
}

// IsQuiet returns whether quiet mode is enabled
func (p *TerminalPresenter) IsQuiet() bool {
	return p.quiet
}

var defaultPresenter = New()

// Error displays an error message using the default presenter instance.
func Error(err error, context string) {
	defaultPresenter.Error(err, context)
}

// Success displays a success message using the default presenter instance.
func Success(message string) {
	defaultPresenter.Success(message)
}

// Warning displays a warning message using the default presenter instance.
func Warning(message string) {
	defaultPresenter.Warning(message)
}

// Info displays an informational message using the default presenter instance.
func Info(message string) {
	defaultPresenter.Info(message)
}

// Section displays a section header using the default presenter instance.
func Section(title string) {
	defaultPresenter.Section(title)
}

// Decision renders a routing decision using the default presenter instance.
func Decision(d *skilltypes.RoutingDecision, withContent bool) {
	defaultPresenter.Decision(d, withContent)
}

// Separator displays a visual separator using the default presenter instance.
func Separator() {
	defaultPresenter.Separator()
}

// SetQuiet enables or disables quiet mode for the default presenter instance.
func SetQuiet(quiet bool) {
	defaultPresenter.SetQuiet(quiet)
}

// IsQuiet returns whether quiet mode is enabled for the default presenter instance.
func IsQuiet() bool {
	return defaultPresenter.IsQuiet()
}
