package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillrouter/pkg/logger"
	"github.com/jingkaihe/skillrouter/pkg/mcpserver"
	"github.com/jingkaihe/skillrouter/pkg/registry"
	"github.com/jingkaihe/skillrouter/pkg/version"
)

// MCPConfig holds configuration for the mcp command
type MCPConfig struct {
	Watch bool
}

// NewMCPConfig creates a new MCPConfig with default values
func NewMCPConfig() *MCPConfig {
	return &MCPConfig{Watch: true}
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the router as MCP tools over stdio",
	Long: `Run a Model Context Protocol server on stdin/stdout exposing two tools:

  route_task    route a task and return the routing decision
  lookup_skill  return a skill document or one of its sections

Logs go to stderr; stdout carries the protocol only.`,
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()
		config := getMCPConfigFromFlags(cmd)
		runMCPCommand(ctx, config)
	},
}

func init() {
	defaults := NewMCPConfig()
	mcpCmd.Flags().Bool("watch", defaults.Watch, "Re-index the corpus when files change")
}

func getMCPConfigFromFlags(cmd *cobra.Command) *MCPConfig {
	config := NewMCPConfig()
	if watch, err := cmd.Flags().GetBool("watch"); err == nil {
		config.Watch = watch
	}
	return config
}

func runMCPCommand(ctx context.Context, config *MCPConfig) {
	logger.SetLogOutput(os.Stderr)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, registry.WithReloadHook(logReload(ctx)))
	if err != nil {
		fail(err, "failed to load skill registry")
	}
	defer a.Close()

	srv, err := mcpserver.New(a.router, a.manager, version.Get().Version)
	if err != nil {
		a.Close()
		fail(err, "failed to create MCP server")
	}

	if config.Watch {
		go watchCorpus(ctx, a.manager)
	}

	logger.G(ctx).WithField("skills", a.manager.Current().Len()).Info("serving MCP over stdio")
	if err := srv.Serve(ctx, os.Stdin, os.Stdout); err != nil {
		a.Close()
		fail(err, "MCP server failed")
	}
}
