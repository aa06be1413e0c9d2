// Package tools defines the contract between a host agent and the sandbox
// tools: ToolDefinition describes a tool to the model, ToolCall carries a
// model's request, ToolResult carries the outcome back, and ToolExecutor
// runs calls.
//
// Tool failures are results, not Go errors: an executor reports a remote
// failure as a ToolResult with IsError set and a JSON body produced by
// ErrorOutput. Go errors from Execute mean the executor itself is broken.
//
// The package also provides the error taxonomy shared by all tools and the
// allow-list filter used to restrict which tools a host may call.
package tools
