package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/daytonaio/daytona-adk-plugin/pkg/tools"
)

// mockProvider implements FunctionProvider for testing.
type mockProvider struct {
	name       string
	toolDefs   []tools.ToolDefinition
	execFn     func(context.Context, tools.ToolCall) (*tools.ToolResult, error)
	routes     []Route
	collectors []prometheus.Collector
	closeErr   error
	closed     bool
}

func (m *mockProvider) Name() string                       { return m.name }
func (m *mockProvider) Tools() []tools.ToolDefinition      { return m.toolDefs }
func (m *mockProvider) Collectors() []prometheus.Collector { return m.collectors }
func (m *mockProvider) Routes() []Route                    { return m.routes }

func (m *mockProvider) CanExecute(name string) bool {
	for _, td := range m.toolDefs {
		if td.Name == name {
			return true
		}
	}
	return false
}

func (m *mockProvider) Execute(ctx context.Context, call tools.ToolCall) (*tools.ToolResult, error) {
	if m.execFn != nil {
		return m.execFn(ctx, call)
	}
	return &tools.ToolResult{CallID: call.ID, Output: "default"}, nil
}

func (m *mockProvider) Close() error {
	m.closed = true
	return m.closeErr
}

var _ FunctionProvider = (*mockProvider)(nil)

func defs(names ...string) []tools.ToolDefinition {
	out := make([]tools.ToolDefinition, 0, len(names))
	for _, n := range names {
		out = append(out, tools.ToolDefinition{Name: n, Description: "tool " + n, Parameters: json.RawMessage(`{"type":"object"}`)})
	}
	return out
}

func errorType(t *testing.T, output string) string {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal([]byte(output), &body); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, output)
	}
	s, _ := body["error_type"].(string)
	return s
}

func TestRegistry_Tools(t *testing.T) {
	reg := New()
	reg.Register(&mockProvider{name: "daytona", toolDefs: defs("execute_code_in_daytona", "read_file_from_daytona")})

	got := reg.Tools()
	if len(got) != 2 {
		t.Fatalf("Tools() returned %d tools, want 2", len(got))
	}
	if got[0].Name != "execute_code_in_daytona" || got[1].Name != "read_file_from_daytona" {
		t.Errorf("Tools() order = %v", got)
	}

	td, ok := reg.Lookup("read_file_from_daytona")
	if !ok || td.Description != "tool read_file_from_daytona" {
		t.Errorf("Lookup = %+v, %v", td, ok)
	}
	if _, ok := reg.Lookup("missing"); ok {
		t.Error("Lookup(missing) should fail")
	}
}

func TestRegistry_CanExecute(t *testing.T) {
	reg := New()
	reg.Register(&mockProvider{name: "daytona", toolDefs: defs("known_tool")})

	if !reg.CanExecute("known_tool") {
		t.Error("expected CanExecute(known_tool) = true")
	}
	if reg.CanExecute("unknown_tool") {
		t.Error("expected CanExecute(unknown_tool) = false")
	}
}

func TestRegistry_Execute(t *testing.T) {
	reg := New()
	reg.Register(&mockProvider{
		name:     "echo",
		toolDefs: defs("echo_args"),
		execFn: func(_ context.Context, call tools.ToolCall) (*tools.ToolResult, error) {
			return &tools.ToolResult{CallID: call.ID, Output: call.Arguments}, nil
		},
	})

	before := counterValue(t, toolExecutions.WithLabelValues("echo", "echo_args", "success"))

	result, err := reg.Execute(context.Background(), tools.ToolCall{ID: "call_1", Name: "echo_args", Arguments: `{"a":1}`})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.CallID != "call_1" || result.Output != `{"a":1}` || result.IsError {
		t.Errorf("result = %+v", result)
	}

	after := counterValue(t, toolExecutions.WithLabelValues("echo", "echo_args", "success"))
	if after-before != 1 {
		t.Errorf("success counter delta = %v, want 1", after-before)
	}
}

func TestRegistry_Execute_UnknownTool(t *testing.T) {
	reg := New()

	result, err := reg.Execute(context.Background(), tools.ToolCall{ID: "call_1", Name: "nonexistent"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.IsError || result.CallID != "call_1" {
		t.Errorf("result = %+v", result)
	}
	if got := errorType(t, result.Output); got != string(tools.KindValidation) {
		t.Errorf("error_type = %q", got)
	}
}

func TestRegistry_ToolNameConflict(t *testing.T) {
	reg := New()
	p1 := &mockProvider{
		name:     "provider-1",
		toolDefs: defs("shared_tool"),
		execFn: func(_ context.Context, call tools.ToolCall) (*tools.ToolResult, error) {
			return &tools.ToolResult{CallID: call.ID, Output: "from-p1"}, nil
		},
	}
	p2 := &mockProvider{
		name:     "provider-2",
		toolDefs: defs("shared_tool", "own_tool"),
		execFn: func(_ context.Context, call tools.ToolCall) (*tools.ToolResult, error) {
			return &tools.ToolResult{CallID: call.ID, Output: "from-p2"}, nil
		},
	}
	reg.Register(p1)
	reg.Register(p2)

	result, err := reg.Execute(context.Background(), tools.ToolCall{ID: "call_1", Name: "shared_tool"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Output != "from-p1" {
		t.Errorf("Output = %q, want from-p1 (first provider should win)", result.Output)
	}

	// The losing definition is not advertised twice.
	if got := reg.Tools(); len(got) != 2 {
		t.Errorf("Tools() returned %d tools, want 2", len(got))
	}
}

func TestRegistry_PanicRecovery(t *testing.T) {
	reg := New()
	reg.Register(&mockProvider{
		name:     "panicky",
		toolDefs: defs("crash_tool"),
		execFn: func(_ context.Context, call tools.ToolCall) (*tools.ToolResult, error) {
			panic("something went terribly wrong")
		},
	})

	before := counterValue(t, toolExecutions.WithLabelValues("panicky", "crash_tool", "panic"))

	result, err := reg.Execute(context.Background(), tools.ToolCall{ID: "call_panic", Name: "crash_tool"})
	if err != nil {
		t.Fatalf("expected nil error after panic recovery, got: %v", err)
	}
	if result == nil || !result.IsError || result.CallID != "call_panic" {
		t.Fatalf("result = %+v", result)
	}
	if got := errorType(t, result.Output); got != string(tools.KindExecution) {
		t.Errorf("error_type = %q", got)
	}
	if !strings.Contains(result.Output, "something went terribly wrong") {
		t.Errorf("panic value missing from output: %s", result.Output)
	}

	after := counterValue(t, toolExecutions.WithLabelValues("panicky", "crash_tool", "panic"))
	if after-before != 1 {
		t.Errorf("panic counter delta = %v, want 1", after-before)
	}
}

func TestRegistry_ExecuteErrors(t *testing.T) {
	tests := []struct {
		name       string
		execFn     func(context.Context, tools.ToolCall) (*tools.ToolResult, error)
		wantErr    bool
		wantStatus string
	}{
		{
			name: "provider error",
			execFn: func(context.Context, tools.ToolCall) (*tools.ToolResult, error) {
				return nil, fmt.Errorf("provider internal error")
			},
			wantErr:    true,
			wantStatus: "error",
		},
		{
			name: "tool error result",
			execFn: func(_ context.Context, call tools.ToolCall) (*tools.ToolResult, error) {
				return tools.ErrorResult(call.ID, tools.NewIOError("upload failed", nil), nil), nil
			},
			wantStatus: "tool_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := New()
			reg.Register(&mockProvider{name: "errs", toolDefs: defs("fail_tool"), execFn: tt.execFn})

			before := counterValue(t, toolExecutions.WithLabelValues("errs", "fail_tool", tt.wantStatus))
			_, err := reg.Execute(context.Background(), tools.ToolCall{ID: "c", Name: "fail_tool"})
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
			after := counterValue(t, toolExecutions.WithLabelValues("errs", "fail_tool", tt.wantStatus))
			if after-before != 1 {
				t.Errorf("%s counter delta = %v, want 1", tt.wantStatus, after-before)
			}
		})
	}
}

func TestRegistry_HTTPHandler(t *testing.T) {
	reg := New()
	reg.Register(&mockProvider{
		name:     "daytona",
		toolDefs: defs("t"),
		routes: []Route{
			{
				Method:  "GET",
				Pattern: "/v1/sandbox",
				Handler: func(w http.ResponseWriter, r *http.Request) {
					w.Write([]byte(`{"state":"running"}`))
				},
			},
			{
				Method:  "DELETE",
				Pattern: "/v1/sandbox",
				Handler: func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusNoContent)
				},
			},
		},
	})

	handler := reg.HTTPHandler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/sandbox", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("GET status = %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if string(body) != `{"state":"running"}` {
		t.Errorf("GET body = %q", body)
	}

	before := counterValue(t, routeRequests.WithLabelValues("daytona", "DELETE", "/v1/sandbox", "204"))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("DELETE", "/v1/sandbox", nil))
	if rec.Code != http.StatusNoContent {
		t.Errorf("DELETE status = %d", rec.Code)
	}
	after := counterValue(t, routeRequests.WithLabelValues("daytona", "DELETE", "/v1/sandbox", "204"))
	if after-before != 1 {
		t.Errorf("route counter delta = %v, want 1", after-before)
	}
}

func TestRegistry_EmptyRegistry(t *testing.T) {
	reg := New()

	if got := reg.Tools(); len(got) != 0 {
		t.Errorf("Tools() returned %d tools, want 0", len(got))
	}
	if reg.CanExecute("any_tool") {
		t.Error("expected CanExecute = false for empty registry")
	}
	if reg.HTTPHandler() == nil {
		t.Fatal("expected non-nil handler from empty registry")
	}
	if err := reg.Close(); err != nil {
		t.Errorf("Close() on empty registry failed: %v", err)
	}
}

func TestRegistry_Close(t *testing.T) {
	reg := New()
	boom := errors.New("boom")
	p1 := &mockProvider{name: "p1", toolDefs: defs("t1"), closeErr: boom}
	p2 := &mockProvider{name: "p2", toolDefs: defs("t2")}
	reg.Register(p1)
	reg.Register(p2)

	err := reg.Close()
	if !errors.Is(err, boom) {
		t.Errorf("Close() = %v, want wrapped boom", err)
	}
	if !p1.closed || !p2.closed {
		t.Error("every provider must be closed even when one fails")
	}
}

func TestRegistry_RegistersCollectors(t *testing.T) {
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "daytona_adk_registry_test_total", Help: "test"})
	reg := New()
	reg.Register(&mockProvider{name: "p", toolDefs: defs("t"), collectors: []prometheus.Collector{c}})
	// Registering the same collector again is tolerated.
	New().Register(&mockProvider{name: "p", toolDefs: defs("t"), collectors: []prometheus.Collector{c}})

	c.Inc()
	if got := counterValue(t, c); got != 1 {
		t.Errorf("collector value = %v", got)
	}
	defer prometheus.Unregister(c)
}

// counterValue reads the current value of a counter.
func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		t.Fatalf("writing counter metric: %v", err)
	}
	return m.GetCounter().GetValue()
}
