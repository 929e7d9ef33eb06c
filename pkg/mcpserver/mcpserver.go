// Package mcpserver exposes the router to MCP hosts over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/pkg/errors"

	"github.com/jingkaihe/skillrouter/pkg/composer"
	"github.com/jingkaihe/skillrouter/pkg/logger"
	"github.com/jingkaihe/skillrouter/pkg/registry"
	httpserver "github.com/jingkaihe/skillrouter/pkg/server"
	skilltypes "github.com/jingkaihe/skillrouter/pkg/types/skills"
)

// Tool names.
const (
	RouteTaskTool   = "route_task"
	LookupSkillTool = "lookup_skill"
)

// LookupInput is the argument of lookup_skill.
type LookupInput struct {
	ID      string `json:"id" jsonschema:"required,description=Skill id"`
	Section string `json:"section,omitempty" jsonschema:"description=Return only this section body (e.g. Checklist)"`
}

// GenerateSchema reflects the JSON schema of T with definitions inlined.
func GenerateSchema[T any]() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T

	return reflector.Reflect(v)
}

// Server wraps an MCP server bound to a router and a registry.
type Server struct {
	mcp       *server.MCPServer
	routes    httpserver.Router
	snapshots httpserver.Snapshots
}

// New registers the skillrouter tools.
func New(routes httpserver.Router, snapshots httpserver.Snapshots, version string) (*Server, error) {
	s := &Server{
		mcp: server.NewMCPServer(
			"skillrouter",
			version,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
		routes:    routes,
		snapshots: snapshots,
	}

	routeTool, err := toolFor[httpserver.RouteRequest](RouteTaskTool,
		"Select the skills relevant to a task and return budget-bounded context blocks with a model tier per subtask.")
	if err != nil {
		return nil, err
	}
	lookupTool, err := toolFor[LookupInput](LookupSkillTool,
		"Return a skill document, or one of its sections, by id.")
	if err != nil {
		return nil, err
	}
	s.mcp.AddTool(routeTool, s.handleRouteTask)
	s.mcp.AddTool(lookupTool, s.handleLookupSkill)
	return s, nil
}

func toolFor[T any](name, description string) (mcp.Tool, error) {
	raw, err := json.Marshal(GenerateSchema[T]())
	if err != nil {
		return mcp.Tool{}, errors.Wrapf(err, "failed to build schema for %s", name)
	}
	return mcp.NewToolWithRawSchema(name, description, raw), nil
}

// MCP returns the underlying server.
func (s *Server) MCP() *server.MCPServer {
	return s.mcp
}

// Serve speaks MCP over in and out until ctx is done or in is closed.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	err := stdio.Listen(ctx, in, out)
	if err != nil && !errors.Is(err, context.Canceled) {
		return errors.Wrap(err, "mcp stdio server failed")
	}
	return nil
}

// decodeArguments re-decodes the loosely typed tool arguments into v.
func decodeArguments(req mcp.CallToolRequest, v any) error {
	raw, err := json.Marshal(req.Params.Arguments)
	if err != nil {
		return errors.Wrap(err, "failed to encode arguments")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.Wrap(err, "invalid arguments")
	}
	return nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode result")
	}
	return mcp.NewToolResultText(string(b)), nil
}

func (s *Server) handleRouteTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in httpserver.RouteRequest
	if err := decodeArguments(req, &in); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	task := in.Task
	if in.TimeoutMS > 0 {
		task.Timeout = time.Duration(in.TimeoutMS) * time.Millisecond
	}

	decision, err := s.routes.Route(ctx, task)
	if err != nil {
		var budgetErr *composer.BudgetTooSmallError
		if errors.As(err, &budgetErr) {
			return mcp.NewToolResultError(fmt.Sprintf(
				"%s; raise tokenBudget to at least %d", err, budgetErr.Required)), nil
		}
		logger.G(ctx).WithError(err).Warn("route_task failed")
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(decision)
}

func (s *Server) handleLookupSkill(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in LookupInput
	if err := decodeArguments(req, &in); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if in.ID == "" {
		return mcp.NewToolResultError("id is required"), nil
	}

	snap, err := s.snapshots.Acquire()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	doc, ok := snap.Lookup(in.ID)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("skill %q not found", in.ID)), nil
	}

	if in.Section != "" {
		section, ok := doc.Section(in.Section)
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("skill %q has no section %q", in.ID, in.Section)), nil
		}
		return mcp.NewToolResultText(section.Body), nil
	}
	return jsonResult(lookupResult{
		SkillDocument: doc,
		Children:      ids(snap.Children(doc.ID)),
		Related:       ids(snap.RelatedTo(doc.ID)),
	})
}

type lookupResult struct {
	*skilltypes.SkillDocument
	Children []string `json:"children"`
	Related  []string `json:"related"`
}

func ids(docs []*skilltypes.SkillDocument) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.ID)
	}
	return out
}

var _ httpserver.Snapshots = (*registry.Manager)(nil)
