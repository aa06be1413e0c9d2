package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/daytonaio/daytona-adk-plugin/pkg/debug"
	"github.com/daytonaio/daytona-adk-plugin/pkg/observability"
	"github.com/daytonaio/daytona-adk-plugin/pkg/tools"
)

var (
	toolExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daytona_adk_tool_executions_total",
			Help: "Tool executions by outcome (success, tool_error, error, panic)",
		},
		[]string{"provider", "tool_name", "status"},
	)

	toolDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "daytona_adk_tool_duration_seconds",
			Help:    "Tool execution duration",
			Buckets: observability.RemoteBuckets,
		},
		[]string{"provider", "tool_name"},
	)

	routeRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daytona_adk_provider_route_requests_total",
			Help: "Requests to provider HTTP routes",
		},
		[]string{"provider", "method", "path", "status"},
	)
)

func init() {
	prometheus.MustRegister(toolExecutions, toolDuration, routeRequests)
}

// FunctionRegistry aggregates FunctionProviders and implements
// tools.ToolExecutor.
type FunctionRegistry struct {
	mu sync.RWMutex

	// providers stores registered providers in insertion order.
	providers []FunctionProvider

	// toolToProvider maps tool name to the provider that owns it.
	toolToProvider map[string]FunctionProvider
}

var _ tools.ToolExecutor = (*FunctionRegistry)(nil)

// New creates an empty FunctionRegistry.
func New() *FunctionRegistry {
	return &FunctionRegistry{
		toolToProvider: make(map[string]FunctionProvider),
	}
}

// Register adds a provider. If two providers supply a tool with the same
// name, the first registered provider wins and a warning is logged.
// Provider collectors are registered with the default Prometheus registry.
func (r *FunctionRegistry) Register(p FunctionProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.providers = append(r.providers, p)

	for _, td := range p.Tools() {
		if existing, ok := r.toolToProvider[td.Name]; ok {
			slog.Warn("tool name conflict, keeping first provider",
				"tool", td.Name,
				"winner", existing.Name(),
				"loser", p.Name(),
			)
			continue
		}
		r.toolToProvider[td.Name] = p
	}

	for _, c := range p.Collectors() {
		if err := prometheus.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				slog.Warn("failed to register collector", "provider", p.Name(), "error", err)
			}
		}
	}

	debug.Log("tools", "registered provider",
		"provider", p.Name(),
		"tools", len(p.Tools()),
		"routes", len(p.Routes()),
	)
}

// CanExecute returns true if any registered provider handles the named tool.
func (r *FunctionRegistry) CanExecute(toolName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.toolToProvider[toolName]
	return ok
}

// Execute routes the call to its provider, records metrics and recovers
// from provider panics.
func (r *FunctionRegistry) Execute(ctx context.Context, call tools.ToolCall) (result *tools.ToolResult, err error) {
	r.mu.RLock()
	p, ok := r.toolToProvider[call.Name]
	r.mu.RUnlock()

	if !ok {
		return tools.ErrorResult(call.ID, tools.NewValidationError("unknown tool %q", call.Name), nil), nil
	}

	providerName := p.Name()
	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("tool provider panicked",
				"provider", providerName,
				"tool", call.Name,
				"panic", rec,
			)
			result = tools.ErrorResult(call.ID,
				tools.NewExecutionError(fmt.Sprintf("internal error in tool %q", call.Name), fmt.Errorf("%v", rec)), nil)
			err = nil

			toolExecutions.WithLabelValues(providerName, call.Name, "panic").Inc()
			toolDuration.WithLabelValues(providerName, call.Name).Observe(time.Since(start).Seconds())
		}
	}()

	debug.Log("tools", "executing", "tool", call.Name, "call_id", call.ID, "arguments", debug.Truncate(call.Arguments, 512))

	result, err = p.Execute(ctx, call)
	duration := time.Since(start).Seconds()

	status := "success"
	if err != nil {
		status = "error"
	} else if result != nil && result.IsError {
		status = "tool_error"
	}

	toolExecutions.WithLabelValues(providerName, call.Name, status).Inc()
	toolDuration.WithLabelValues(providerName, call.Name).Observe(duration)

	debug.Log("tools", "executed", "tool", call.Name, "call_id", call.ID, "status", status, "duration", duration)
	return result, err
}

// Tools returns the tool definitions of all providers, in registration
// order.
func (r *FunctionRegistry) Tools() []tools.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var all []tools.ToolDefinition
	for _, p := range r.providers {
		for _, td := range p.Tools() {
			if r.toolToProvider[td.Name] == p {
				all = append(all, td)
			}
		}
	}
	return all
}

// Lookup returns the definition of the named tool.
func (r *FunctionRegistry) Lookup(name string) (tools.ToolDefinition, bool) {
	r.mu.RLock()
	p, ok := r.toolToProvider[name]
	r.mu.RUnlock()
	if !ok {
		return tools.ToolDefinition{}, false
	}
	for _, td := range p.Tools() {
		if td.Name == name {
			return td, true
		}
	}
	return tools.ToolDefinition{}, false
}

// HTTPHandler serves all provider routes, each wrapped with metrics.
func (r *FunctionRegistry) HTTPHandler() http.Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	mux := http.NewServeMux()
	for _, p := range r.providers {
		for _, route := range p.Routes() {
			pattern := route.Pattern
			if route.Method != "" {
				pattern = route.Method + " " + route.Pattern
			}
			mux.HandleFunc(pattern, wrapRoute(p.Name(), route))
		}
	}
	return mux
}

// Close closes all providers and joins their errors.
func (r *FunctionRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, p := range r.providers {
		if err := p.Close(); err != nil {
			slog.Warn("failed to close tool provider", "provider", p.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}
