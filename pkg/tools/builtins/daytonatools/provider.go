// Package daytonatools exposes the Daytona sandbox to a model as five
// tools: run code, run a shell command, upload a file, read a file and
// start a background command.
//
// Arguments are validated before the sandbox is touched, so a rejected call
// never reaches the Daytona API. Every accepted call first ensures the
// plugin's single sandbox and, when a toolbox call fails because the service
// stopped or deleted that sandbox, recovers it and retries once.
package daytonatools

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/daytonaio/daytona-adk-plugin/pkg/daytona"
	"github.com/daytonaio/daytona-adk-plugin/pkg/debug"
	"github.com/daytonaio/daytona-adk-plugin/pkg/sandbox"
	"github.com/daytonaio/daytona-adk-plugin/pkg/tools"
	"github.com/daytonaio/daytona-adk-plugin/pkg/tools/registry"
)

// ProviderName is the registry name of the provider.
const ProviderName = "daytona"

var _ registry.FunctionProvider = (*Provider)(nil)

// Toolbox is the per-sandbox part of the Daytona API the tools call.
// *daytona.Client satisfies it.
type Toolbox interface {
	Exec(ctx context.Context, id string, req daytona.ExecuteRequest) (*daytona.ExecuteResponse, error)
	UploadFile(ctx context.Context, id, filePath string, content []byte) error
	DownloadFile(ctx context.Context, id, filePath string) ([]byte, error)
	DeleteFile(ctx context.Context, id, filePath string) error
	CreateSession(ctx context.Context, id, sessionID string) error
	ExecuteSessionCommand(ctx context.Context, id, sessionID string, req daytona.SessionExecuteRequest) (*daytona.SessionExecuteResponse, error)
}

var _ Toolbox = (*daytona.Client)(nil)

// SandboxProvider hands out the sandbox the tools run in.
// *sandbox.Manager satisfies it.
type SandboxProvider interface {
	Ensure(ctx context.Context) (sandbox.Handle, error)
	Revalidate(ctx context.Context) (sandbox.Handle, bool, error)
	Current() (sandbox.Handle, bool)
	Touch()
}

var _ SandboxProvider = (*sandbox.Manager)(nil)

// sandboxRecoveries is shared by every provider in the process.
var sandboxRecoveries = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "daytona_adk_sandbox_recoveries_total",
	Help: "Tool calls retried after the sandbox was started again or re-created",
})

// Provider implements the Daytona tools as a registry.FunctionProvider.
type Provider struct {
	toolbox   Toolbox
	sandboxes SandboxProvider
	defs      []tools.ToolDefinition
}

// New creates the provider.
func New(toolbox Toolbox, sandboxes SandboxProvider) *Provider {
	return &Provider{
		toolbox:   toolbox,
		sandboxes: sandboxes,
		defs:      definitions(),
	}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return ProviderName
}

// Tools returns the five tool definitions.
func (p *Provider) Tools() []tools.ToolDefinition {
	return p.defs
}

// CanExecute reports whether name is one of the Daytona tools.
func (p *Provider) CanExecute(name string) bool {
	_, ok := ParseOperation(name)
	return ok
}

// Execute runs a tool call. Failures are returned as error results, never
// as a Go error.
func (p *Provider) Execute(ctx context.Context, call tools.ToolCall) (*tools.ToolResult, error) {
	op, ok := ParseOperation(call.Name)
	if !ok {
		return tools.ErrorResult(call.ID, tools.NewValidationError("unknown tool %q", call.Name), nil), nil
	}

	var (
		out any
		err error
	)
	switch op {
	case OpExecuteCode:
		out, err = p.executeCode(ctx, call.Arguments)
	case OpExecuteCommand:
		out, err = p.executeCommand(ctx, call.Arguments)
	case OpUploadFile:
		out, err = p.uploadFile(ctx, call.Arguments)
	case OpReadFile:
		out, err = p.readFile(ctx, call.Arguments)
	case OpStartLongRunning:
		out, err = p.startLongRunning(ctx, call.Arguments)
	}

	if err != nil {
		if tools.KindOf(err) == tools.KindValidation {
			debug.Log("tools", "rejected arguments", "tool", call.Name, "call_id", call.ID, "error", err.Error())
		} else {
			slog.Warn("daytona tool failed",
				"tool", call.Name,
				"call_id", call.ID,
				"error_type", tools.KindOf(err),
				"error", err.Error(),
			)
		}
		return tools.ErrorResult(call.ID, err, failureFields(op)), nil
	}

	data, err := json.Marshal(out)
	if err != nil {
		return tools.ErrorResult(call.ID, tools.NewExecutionError("encoding result", err), failureFields(op)), nil
	}
	return &tools.ToolResult{CallID: call.ID, Output: string(data)}, nil
}

// Routes exposes the sandbox status.
func (p *Provider) Routes() []registry.Route {
	return []registry.Route{
		{Method: http.MethodGet, Pattern: "/v1/sandbox", Handler: p.handleStatus},
	}
}

// Collectors returns the recovery counter.
func (p *Provider) Collectors() []prometheus.Collector {
	return []prometheus.Collector{sandboxRecoveries}
}

// Close is a no-op. The sandbox belongs to whoever owns the
// SandboxProvider.
func (p *Provider) Close() error {
	return nil
}

type sandboxStatus struct {
	Exists bool   `json:"exists"`
	ID     string `json:"id,omitempty"`
	Name   string `json:"name,omitempty"`
	State  string `json:"state"`
}

func (p *Provider) handleStatus(w http.ResponseWriter, _ *http.Request) {
	h, ok := p.sandboxes.Current()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sandboxStatus{
		Exists: ok,
		ID:     h.ID,
		Name:   h.Name,
		State:  h.State.String(),
	})
}

// withSandbox ensures the sandbox and runs fn against it. When fn fails in
// a way that suggests the sandbox is gone or stopped, the sandbox is
// revalidated and fn is retried once if it had to be recovered.
func (p *Provider) withSandbox(ctx context.Context, fn func(id string) error) error {
	h, err := p.sandboxes.Ensure(ctx)
	if err != nil {
		return tools.NewProvisioningError("could not obtain a sandbox", err)
	}
	defer p.sandboxes.Touch()

	err = fn(h.ID)
	if err == nil || !shouldRevalidate(ctx, err) {
		return err
	}

	recovered, rerr := p.revalidate(ctx)
	if rerr != nil {
		if errors.Is(rerr, sandbox.ErrProvisioning) {
			return tools.NewProvisioningError("could not recover the sandbox", rerr)
		}
		debug.Log("sandbox", "revalidation failed", "sandbox_id", h.ID, "error", rerr.Error())
		return err
	}
	if recovered.ID == "" {
		return err
	}

	sandboxRecoveries.Inc()
	slog.Info("retrying tool call on recovered sandbox", "old_sandbox_id", h.ID, "sandbox_id", recovered.ID)
	return fn(recovered.ID)
}

// revalidate returns the recovered handle, or a zero handle when the
// sandbox was healthy.
func (p *Provider) revalidate(ctx context.Context) (sandbox.Handle, error) {
	h, recovered, err := p.sandboxes.Revalidate(ctx)
	if err != nil || !recovered {
		return sandbox.Handle{}, err
	}
	return h, nil
}

// shouldRevalidate reports whether err may come from a sandbox that is no
// longer running. Timeouts and cancellations are final.
func shouldRevalidate(ctx context.Context, err error) bool {
	if ctx.Err() != nil || daytona.IsTimeout(err) {
		return false
	}
	var apiErr *daytona.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusRequestEntityTooLarge:
		return false
	}
	return apiErr.StatusCode >= 400
}

// classify keeps an already classified error and wraps any other with wrap.
func classify(err error, wrap func(error) error) error {
	var te *tools.Error
	if errors.As(err, &te) {
		return err
	}
	return wrap(err)
}

// failureFields keeps the per-tool result shape on failure.
func failureFields(op Operation) map[string]any {
	switch op {
	case OpUploadFile:
		return map[string]any{"success": false}
	case OpReadFile:
		return map[string]any{"content": nil}
	default:
		return map[string]any{"exit_code": -1}
	}
}
