package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jingkaihe/skillrouter/pkg/logger"
	"github.com/jingkaihe/skillrouter/pkg/presenter"
	"github.com/jingkaihe/skillrouter/pkg/registry"
	"github.com/jingkaihe/skillrouter/pkg/server"
)

// ServeConfig holds configuration for the serve command
type ServeConfig struct {
	Host  string
	Port  int
	Watch bool
}

// NewServeConfig creates a new ServeConfig from the configured defaults
func NewServeConfig() *ServeConfig {
	return &ServeConfig{
		Host:  viper.GetString("serve.host"),
		Port:  viper.GetInt("serve.port"),
		Watch: true,
	}
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the router over HTTP",
	Long: `Start an HTTP server exposing the router and the registry:

  POST /v1/route                 route a task
  GET  /v1/skills                list skills (?domain=, ?category=, ?tag=, ?match=all)
  GET  /v1/skills/{id}           one skill document
  GET  /v1/skills/{id}/children  direct children
  GET  /v1/skills/{id}/related   cross-referenced skills
  GET  /healthz                  snapshot status

The corpus is watched and re-indexed in the background; requests in flight
keep the snapshot they started with.`,
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()
		config := getServeConfigFromFlags(cmd)
		runServeCommand(ctx, config)
	},
}

func init() {
	serveCmd.Flags().String("host", "", "Host to bind the server to (default serve.host)")
	serveCmd.Flags().Int("port", 0, "Port to bind the server to (default serve.port)")
	serveCmd.Flags().Bool("watch", true, "Re-index the corpus when files change")
}

func getServeConfigFromFlags(cmd *cobra.Command) *ServeConfig {
	config := NewServeConfig()

	if host, err := cmd.Flags().GetString("host"); err == nil && host != "" {
		config.Host = host
	}
	if port, err := cmd.Flags().GetInt("port"); err == nil && port != 0 {
		config.Port = port
	}
	if watch, err := cmd.Flags().GetBool("watch"); err == nil {
		config.Watch = watch
	}

	return config
}

func runServeCommand(ctx context.Context, config *ServeConfig) {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, registry.WithReloadHook(logReload(ctx)))
	if err != nil {
		fail(err, "failed to load skill registry")
	}
	defer a.Close()

	srv, err := server.NewServer(&server.ServerConfig{Host: config.Host, Port: config.Port}, a.router, a.manager)
	if err != nil {
		a.Close()
		fail(err, "invalid server configuration")
	}

	if config.Watch {
		go watchCorpus(ctx, a.manager)
	}

	presenter.Success(fmt.Sprintf("skillrouter listening on http://%s:%d (%d skills)", config.Host, config.Port, a.manager.Current().Len()))
	presenter.Info("Press Ctrl+C to stop the server")

	if err := srv.Start(ctx); err != nil {
		a.Close()
		fail(err, "http server failed")
	}
	presenter.Info("Server stopped")
}

func watchCorpus(ctx context.Context, m *registry.Manager) {
	if err := m.Watch(ctx); err != nil && ctx.Err() == nil {
		logger.G(ctx).WithError(err).Error("corpus watcher stopped; hot reload is disabled")
	}
}

// logReload details the problems found by a watch-triggered reload.
func logReload(_ context.Context) func(*registry.Snapshot, error) {
	return func(snap *registry.Snapshot, err error) {
		if err != nil {
			reportHierarchyError(err)
			return
		}
		if snap != nil {
			reportQuarantine(snap)
		}
	}
}
