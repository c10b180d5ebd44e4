package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/jasonzhangf/finger/internal/logger"
	"github.com/jasonzhangf/finger/internal/toolregistry"
)

// registerTools mirrors the teacher's registerTools (tools.go), but
// instead of a fixed, hand-authored list of MCP tools it walks
// registry.List() and exposes whatever is registered at server-start
// time. Each MCP tool call is routed through registry.Execute under
// agentID, so it is subject to the same access-control and
// authorization checks as an internally dispatched tool call.
//
// Per-tool argument schemas are not surfaced to MCP clients: a
// ToolDef.InputSchema is a free-form map with no fixed shape to
// translate into mcp-go's typed WithString/WithNumber/... option
// builders, so tools are declared with a name and description only
// and accept whatever arguments the caller sends.
func registerTools(s *server.MCPServer, registry *toolregistry.Registry, agentID string, log *logger.Logger) {
	defs := registry.List()
	for _, def := range defs {
		def := def
		s.AddTool(
			mcp.NewTool(def.Name, mcp.WithDescription(def.Description)),
			toolHandler(registry, agentID, def, log),
		)
	}
	log.Info("registered mcp tools", zap.Int("count", len(defs)))
}

func toolHandler(registry *toolregistry.Registry, agentID string, def toolregistry.ToolDef, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		// Tools marked as requiring authorization expect the caller's
		// opaque grant token under this reserved argument key, mirroring
		// the HTTP surface's authorizationToken body field.
		var token string
		if t, ok := args["authorizationToken"].(string); ok {
			token = t
			delete(args, "authorizationToken")
		}

		result, err := registry.Execute(ctx, agentID, def.Name, args, token)
		if err != nil {
			log.Warn("mcp tool call failed",
				zap.String("tool", def.Name), zap.String("agent", agentID), zap.Error(err))
			return mcp.NewToolResultError(err.Error()), nil
		}

		formatted, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
		}
		return mcp.NewToolResultText(string(formatted)), nil
	}
}
