// Package mcpserver publishes a plugin's tools over the Model Context
// Protocol, on stdio or streamable HTTP.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/daytonaio/daytona-adk-plugin/pkg/debug"
	"github.com/daytonaio/daytona-adk-plugin/pkg/tools"
)

// ServerName is reported to MCP clients during initialization.
const ServerName = "daytona-adk"

// Toolset is what the server exposes. *plugin.Plugin satisfies it.
type Toolset interface {
	Tools() []tools.ToolDefinition

	// Call runs a tool call with its hooks and always returns a result.
	Call(ctx context.Context, call tools.ToolCall) *tools.ToolResult
}

// New creates an MCP server with one tool per tool definition.
func New(ts Toolset, version string) (*mcp.Server, error) {
	server := mcp.NewServer(&mcp.Implementation{Name: ServerName, Version: version}, nil)

	for _, def := range ts.Tools() {
		var schema map[string]any
		if err := json.Unmarshal(def.Parameters, &schema); err != nil {
			return nil, fmt.Errorf("tool %s: invalid parameter schema: %w", def.Name, err)
		}
		server.AddTool(&mcp.Tool{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: schema,
		}, toolHandler(ts, def.Name))
	}
	return server, nil
}

func toolHandler(ts Toolset, name string) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		call := tools.ToolCall{ID: "mcp_" + uuid.NewString(), Name: name}
		if req.Params != nil && len(req.Params.Arguments) > 0 {
			call.Arguments = string(req.Params.Arguments)
		}
		debug.Log("mcp", "tool call", "tool", name, "call_id", call.ID)

		res := ts.Call(ctx, call)
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: res.Output}},
			IsError: res.IsError,
		}, nil
	}
}

// Handler serves server over streamable HTTP.
func Handler(server *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return server
	}, nil)
}

// ServeStdio serves server on stdin/stdout until the client disconnects or
// ctx is done.
func ServeStdio(ctx context.Context, server *mcp.Server) error {
	return server.Run(ctx, &mcp.StdioTransport{})
}
