package main

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillrouter/pkg/mcpserver"
	"github.com/jingkaihe/skillrouter/pkg/server"
	skilltypes "github.com/jingkaihe/skillrouter/pkg/types/skills"
)

var schemaCmd = &cobra.Command{
	Use:       "schema [route-request|routing-decision|skill-document|lookup]",
	Short:     "Print the JSON schema of a boundary type",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"route-request", "routing-decision", "skill-document", "lookup"},
	Run: func(cmd *cobra.Command, args []string) {
		name := "route-request"
		if len(args) == 1 {
			name = args[0]
		}
		if err := printSchema(name); err != nil {
			fail(err, "")
		}
	},
}

func printSchema(name string) error {
	var schema any
	switch name {
	case "route-request":
		schema = mcpserver.GenerateSchema[server.RouteRequest]()
	case "routing-decision":
		schema = mcpserver.GenerateSchema[skilltypes.RoutingDecision]()
	case "skill-document":
		schema = mcpserver.GenerateSchema[skilltypes.SkillDocument]()
	case "lookup":
		schema = mcpserver.GenerateSchema[mcpserver.LookupInput]()
	default:
		return errors.Errorf("unknown schema %q", name)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(schema)
}
