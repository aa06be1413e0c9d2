package plugin

import (
	"context"

	"github.com/daytonaio/daytona-adk-plugin/pkg/tools"
)

// RunHooks are called by a host around one agent run.
type RunHooks interface {
	// BeforeRun is called before the first model turn. A non-nil error
	// aborts the run.
	BeforeRun(ctx context.Context) error

	// AfterRun is called once the run has ended, whatever the outcome.
	AfterRun(ctx context.Context)
}

// ToolHooks are called by a host around each tool call.
type ToolHooks interface {
	// BeforeTool may answer a call itself. A non-nil result is used
	// instead of executing the tool.
	BeforeTool(ctx context.Context, call tools.ToolCall) *tools.ToolResult

	// AfterTool observes the result of a call.
	AfterTool(ctx context.Context, call tools.ToolCall, result *tools.ToolResult)
}

var (
	_ RunHooks  = (*Plugin)(nil)
	_ ToolHooks = (*Plugin)(nil)
)
