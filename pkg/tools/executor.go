package tools

import (
	"context"
	"encoding/json"
)

// ToolExecutor executes tool calls.
type ToolExecutor interface {
	// CanExecute checks if this executor can handle the given tool name.
	CanExecute(toolName string) bool

	// Execute runs the tool and returns the result. Tool-level failures
	// are returned as results with IsError set.
	Execute(ctx context.Context, call ToolCall) (*ToolResult, error)
}

// ToolDefinition describes a tool to a model.
type ToolDefinition struct {
	// Name is the function name the model calls.
	Name string `json:"name"`

	// Description tells the model when and how to use the tool.
	Description string `json:"description"`

	// Parameters is the JSON Schema of the arguments object.
	Parameters json.RawMessage `json:"parameters"`

	// LongRunning marks tools that return before the work they start has
	// finished.
	LongRunning bool `json:"long_running,omitempty"`
}

// ToolCall represents a model's request to invoke a tool.
type ToolCall struct {
	// ID is the unique call identifier assigned by the host.
	ID string

	// Name is the tool function name.
	Name string

	// Arguments is the JSON-encoded arguments object.
	Arguments string
}

// ToolResult represents the output of a tool execution.
type ToolResult struct {
	// CallID matches the originating ToolCall.ID.
	CallID string

	// Output is the JSON-encoded result object.
	Output string

	// IsError indicates that the output describes a failure.
	IsError bool
}
