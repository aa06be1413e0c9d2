// Package registry aggregates tool providers behind one tools.ToolExecutor.
// A FunctionProvider contributes a set of tools, optional HTTP routes (status
// endpoints) and optional Prometheus collectors.
//
// The FunctionRegistry routes calls by tool name, records execution metrics,
// turns provider panics into error results and serves the merged routes.
package registry

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/daytonaio/daytona-adk-plugin/pkg/tools"
)

// FunctionProvider is a pluggable tool provider.
type FunctionProvider interface {
	// Name returns a unique identifier for this provider (e.g., "daytona").
	Name() string

	// Tools returns the tool definitions this provider contributes.
	Tools() []tools.ToolDefinition

	// CanExecute reports whether this provider handles the named tool.
	CanExecute(name string) bool

	// Execute runs a tool call and returns the result.
	Execute(ctx context.Context, call tools.ToolCall) (*tools.ToolResult, error)

	// Routes returns HTTP endpoints that this provider exposes.
	Routes() []Route

	// Collectors returns Prometheus collectors for provider-specific metrics.
	Collectors() []prometheus.Collector

	// Close releases any resources held by the provider.
	Close() error
}

// Route is an HTTP endpoint exposed by a provider.
type Route struct {
	Method  string
	Pattern string
	Handler http.HandlerFunc
}
