// Package plugin bundles the Daytona tools with the lifecycle of the one
// sandbox they share.
//
// A Plugin is what a host (the MCP server, the Gemini runner, the CLI)
// holds on to: it lists the tools, executes calls, and exposes the run and
// tool hooks through which the host reports progress. The sandbox is
// created on the first tool call, not by New.
package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/daytonaio/daytona-adk-plugin/pkg/daytona"
	"github.com/daytonaio/daytona-adk-plugin/pkg/debug"
	"github.com/daytonaio/daytona-adk-plugin/pkg/sandbox"
	"github.com/daytonaio/daytona-adk-plugin/pkg/tools"
	"github.com/daytonaio/daytona-adk-plugin/pkg/tools/builtins/daytonatools"
	"github.com/daytonaio/daytona-adk-plugin/pkg/tools/registry"
)

// cleanupTimeout bounds lifecycle calls made after the caller's context
// may already be done.
const cleanupTimeout = 30 * time.Second

// Remote is the Daytona API the plugin needs. *daytona.Client satisfies it.
type Remote interface {
	sandbox.Remote
	daytonatools.Toolbox
}

var _ Remote = (*daytona.Client)(nil)

// Plugin exposes the Daytona tools and owns their sandbox.
type Plugin struct {
	cfg      Config
	logger   *slog.Logger
	manager  *sandbox.Manager
	registry *registry.FunctionRegistry

	closeOnce sync.Once
	closeErr  error
}

// New creates a plugin talking to the Daytona API. No sandbox is created
// until the first tool call or EnsureSandbox.
func New(cfg Config) (*Plugin, error) {
	cfg = cfg.withDefaults()
	if cfg.APIKey == "" {
		return nil, errors.New("daytona API key is required (set DAYTONA_API_KEY)")
	}

	client, err := daytona.NewClient(daytona.Config{
		APIKey:         cfg.APIKey,
		APIURL:         cfg.APIURL,
		Target:         cfg.Target,
		OrganizationID: cfg.OrganizationID,
		HTTPClient:     cfg.HTTPClient,
	})
	if err != nil {
		return nil, err
	}
	return NewWithRemote(cfg, client)
}

// NewWithRemote creates a plugin on top of an existing API client.
func NewWithRemote(cfg Config, remote Remote) (*Plugin, error) {
	return newPlugin(cfg, remote, nil)
}

func newPlugin(cfg Config, remote Remote, now func() time.Time) (*Plugin, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid plugin config: %w", err)
	}

	manager := sandbox.NewManager(remote, sandbox.Options{
		Name:               cfg.SandboxName,
		Env:                cfg.EnvVars,
		Labels:             cfg.Labels,
		Target:             cfg.Target,
		AutoStopInterval:   cfg.AutoStopInterval,
		AutoDeleteInterval: cfg.AutoDeleteInterval,
		ReadyTimeout:       cfg.ReadyTimeout,
		Logger:             cfg.Logger,
		Now:                now,
	})

	reg := registry.New()
	reg.Register(daytonatools.New(remote, manager))

	p := &Plugin{
		cfg:      cfg,
		logger:   cfg.Logger.With("plugin", cfg.PluginName),
		manager:  manager,
		registry: reg,
	}
	debug.Log("tools", "plugin created", "plugin", cfg.PluginName, "tools", len(p.Tools()))
	return p, nil
}

// Name returns the plugin name.
func (p *Plugin) Name() string {
	return p.cfg.PluginName
}

// Tools returns the definitions of the allowed tools.
func (p *Plugin) Tools() []tools.ToolDefinition {
	return tools.FilterDefinitions(p.registry.Tools(), p.cfg.AllowedTools)
}

// CanExecute reports whether name is an allowed tool of this plugin.
func (p *Plugin) CanExecute(name string) bool {
	if !p.registry.CanExecute(name) {
		return false
	}
	return len(tools.FilterAllowedTools([]tools.ToolCall{{Name: name}}, p.cfg.AllowedTools).Allowed) == 1
}

// Execute runs one tool call without hooks. Calls to tools outside the
// allow list are rejected without touching the sandbox.
func (p *Plugin) Execute(ctx context.Context, call tools.ToolCall) (*tools.ToolResult, error) {
	filtered := tools.FilterAllowedTools([]tools.ToolCall{call}, p.cfg.AllowedTools)
	if len(filtered.Rejected) > 0 {
		return &filtered.Rejected[0], nil
	}
	return p.registry.Execute(ctx, call)
}

// Call runs one tool call the way a host should: BeforeTool, Execute,
// AfterTool. It always returns a result.
func (p *Plugin) Call(ctx context.Context, call tools.ToolCall) *tools.ToolResult {
	if res := p.BeforeTool(ctx, call); res != nil {
		return res
	}

	res, err := p.Execute(ctx, call)
	if err != nil {
		res = tools.ErrorResult(call.ID, tools.NewExecutionError("tool call failed", err), nil)
	}
	p.AfterTool(ctx, call, res)
	return res
}

// BeforeRun implements RunHooks.
func (p *Plugin) BeforeRun(ctx context.Context) error {
	h, ok := p.manager.Current()
	debug.Log("sandbox", "run starting", "plugin", p.cfg.PluginName, "sandbox_id", h.ID, "exists", ok)
	return nil
}

// AfterRun implements RunHooks by applying the idle stop/delete policy.
// Failures are logged.
func (p *Plugin) AfterRun(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	p.manager.ApplyIdlePolicy(ctx)
}

// BeforeTool implements ToolHooks. It never short-circuits.
func (p *Plugin) BeforeTool(_ context.Context, call tools.ToolCall) *tools.ToolResult {
	debug.Log("tools", "tool call", "plugin", p.cfg.PluginName, "tool", call.Name, "call_id", call.ID)
	return nil
}

// AfterTool implements ToolHooks. With DestroyOnToolError set, a failed
// call deletes the sandbox. Rejected arguments never do.
func (p *Plugin) AfterTool(ctx context.Context, call tools.ToolCall, result *tools.ToolResult) {
	if result == nil || !result.IsError {
		return
	}
	kind := errorType(result.Output)
	p.logger.Warn("tool failed", "tool", call.Name, "call_id", call.ID, "error_type", kind)

	if !p.cfg.DestroyOnToolError || kind == tools.KindValidation {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := p.DestroySandbox(ctx); err != nil {
		p.logger.Warn("failed to destroy sandbox after tool error", "error", err.Error())
	}
}

// Sandbox returns the current sandbox handle and whether one exists.
func (p *Plugin) Sandbox() (sandbox.Handle, bool) {
	return p.manager.Current()
}

// EnsureSandbox creates or starts the sandbox ahead of the first call.
func (p *Plugin) EnsureSandbox(ctx context.Context) (sandbox.Handle, error) {
	return p.manager.Ensure(ctx)
}

// DestroySandbox deletes the sandbox. The next tool call creates a new
// one.
func (p *Plugin) DestroySandbox(ctx context.Context) error {
	return p.manager.Delete(ctx)
}

// Watch keeps the sandbox state in sync and applies the idle policy every
// interval until ctx is done. Long-lived hosts run it in a goroutine.
func (p *Plugin) Watch(ctx context.Context, interval time.Duration) {
	p.manager.Watch(ctx, interval)
}

// HTTPHandler serves the tool providers' status routes.
func (p *Plugin) HTTPHandler() http.Handler {
	return p.registry.HTTPHandler()
}

// Close deletes the sandbox and releases the providers. It is safe to call
// more than once.
func (p *Plugin) Close() error {
	p.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()

		var errs []error
		if err := p.manager.Delete(ctx); err != nil {
			errs = append(errs, fmt.Errorf("delete sandbox: %w", err))
		}
		if err := p.registry.Close(); err != nil {
			errs = append(errs, err)
		}
		p.closeErr = errors.Join(errs...)
		if p.closeErr != nil {
			p.logger.Warn("plugin close failed", "error", p.closeErr.Error())
		}
	})
	return p.closeErr
}

// errorType reads error_type from a failed result.
func errorType(output string) tools.Kind {
	var body struct {
		ErrorType tools.Kind `json:"error_type"`
	}
	if err := json.Unmarshal([]byte(output), &body); err != nil {
		return ""
	}
	return body.ErrorType
}
