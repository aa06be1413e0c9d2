package plugin

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daytonaio/daytona-adk-plugin/pkg/daytona/daytonatest"
	"github.com/daytonaio/daytona-adk-plugin/pkg/tools"
	"github.com/daytonaio/daytona-adk-plugin/pkg/tools/builtins/daytonatools"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func intPtr(n int) *int { return &n }

func testConfig(cfg Config) Config {
	cfg.APIKey = daytonatest.DefaultAPIKey
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return cfg
}

func newTestPlugin(t *testing.T, cfg Config) (*Plugin, *daytonatest.Server, *fakeClock) {
	t.Helper()
	srv := daytonatest.NewServer()
	t.Cleanup(srv.Close)

	client, err := srv.NewClient()
	require.NoError(t, err)

	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	p, err := newPlugin(testConfig(cfg), client, clock.Now)
	require.NoError(t, err)
	return p, srv, clock
}

func toolCall(op daytonatools.Operation, args string) tools.ToolCall {
	return tools.ToolCall{ID: "call_" + op.Name(), Name: op.Name(), Arguments: args}
}

func TestNew_RequiresAPIKey(t *testing.T) {
	t.Setenv("DAYTONA_API_KEY", "")

	_, err := New(Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DAYTONA_API_KEY")
}

func TestNew_ReadsAPIKeyFromEnvironment(t *testing.T) {
	t.Setenv("DAYTONA_API_KEY", "from-env")

	p, err := New(Config{})
	require.NoError(t, err)
	assert.Equal(t, DefaultPluginName, p.Name())
}

func TestNew_IsLazy(t *testing.T) {
	p, srv, _ := newTestPlugin(t, Config{})

	assert.Zero(t, srv.TotalCalls(), "constructing the plugin must not create a sandbox")
	_, ok := p.Sandbox()
	assert.False(t, ok)
	assert.Len(t, p.Tools(), 5)
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"bad env name", Config{EnvVars: map[string]string{"NOT-VALID": "x"}}},
		{"negative auto stop", Config{AutoStopInterval: intPtr(-1)}},
		{"unknown allowed tool", Config{AllowedTools: []string{"web_search"}}},
		{"negative ready timeout", Config{ReadyTimeout: -time.Second}},
	}

	srv := daytonatest.NewServer()
	defer srv.Close()
	client, err := srv.NewClient()
	require.NoError(t, err)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewWithRemote(testConfig(tt.cfg), client)
			assert.Error(t, err)
		})
	}
}

func TestPlugin_CreatesSandboxWithConfig(t *testing.T) {
	p, srv, _ := newTestPlugin(t, Config{
		SandboxName:        "example-runner-sandbox",
		EnvVars:            map[string]string{"ENV_TYPE": "development"},
		Labels:             map[string]string{"test": "runner-example"},
		AutoStopInterval:   intPtr(15),
		AutoDeleteInterval: intPtr(-1),
	})

	res := p.Call(context.Background(), toolCall(daytonatools.OpExecuteCommand, `{"command":"echo hi"}`))
	require.False(t, res.IsError, res.Output)

	sandboxes := srv.Sandboxes()
	require.Len(t, sandboxes, 1)
	sb := sandboxes[0]
	assert.Equal(t, "example-runner-sandbox", sb.Name)
	assert.Equal(t, "development", sb.Env["ENV_TYPE"])
	assert.Equal(t, "runner-example", sb.Labels["test"])
	require.NotNil(t, sb.AutoStopInterval)
	assert.Equal(t, 15, *sb.AutoStopInterval)
	require.NotNil(t, sb.AutoDeleteInterval)
	assert.Equal(t, -1, *sb.AutoDeleteInterval)

	h, ok := p.Sandbox()
	require.True(t, ok)
	assert.Equal(t, sb.ID, h.ID)
}

func TestPlugin_ToolsShareOneSandbox(t *testing.T) {
	p, srv, _ := newTestPlugin(t, Config{})
	ctx := context.Background()

	p.Call(ctx, toolCall(daytonatools.OpUploadFile, `{"file_path":"/tmp/x.txt","content":"hello"}`))
	res := p.Call(ctx, toolCall(daytonatools.OpReadFile, `{"file_path":"/tmp/x.txt"}`))
	require.False(t, res.IsError, res.Output)

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(res.Output), &out))
	assert.Equal(t, "hello", out["content"])
	assert.Equal(t, 1, srv.Calls(daytonatest.EndpointCreate))
}

func TestPlugin_AllowedTools(t *testing.T) {
	p, srv, _ := newTestPlugin(t, Config{
		AllowedTools: []string{daytonatools.OpReadFile.Name()},
	})

	defs := p.Tools()
	require.Len(t, defs, 1)
	assert.Equal(t, daytonatools.OpReadFile.Name(), defs[0].Name)
	assert.True(t, p.CanExecute(daytonatools.OpReadFile.Name()))
	assert.False(t, p.CanExecute(daytonatools.OpExecuteCommand.Name()))
	assert.False(t, p.CanExecute("web_search"))

	res, err := p.Execute(context.Background(), toolCall(daytonatools.OpExecuteCommand, `{"command":"rm -rf /"}`))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Output, string(tools.KindValidation))
	assert.Zero(t, srv.TotalCalls())
}

func TestAfterRun_AutoStopZeroNeverStops(t *testing.T) {
	p, srv, clock := newTestPlugin(t, Config{AutoStopInterval: intPtr(0)})
	ctx := context.Background()

	require.NoError(t, p.BeforeRun(ctx))
	res := p.Call(ctx, toolCall(daytonatools.OpExecuteCommand, `{"command":"echo hi"}`))
	require.False(t, res.IsError, res.Output)

	clock.Advance(24 * time.Hour)
	p.AfterRun(ctx)
	p.AfterRun(ctx)

	assert.Zero(t, srv.Calls(daytonatest.EndpointStop))
	assert.Zero(t, srv.Calls(daytonatest.EndpointDelete))
}

func TestAfterRun_StopsIdleSandbox(t *testing.T) {
	p, srv, clock := newTestPlugin(t, Config{AutoStopInterval: intPtr(15)})
	ctx := context.Background()

	p.Call(ctx, toolCall(daytonatools.OpExecuteCommand, `{"command":"echo hi"}`))

	clock.Advance(5 * time.Minute)
	p.AfterRun(ctx)
	assert.Zero(t, srv.Calls(daytonatest.EndpointStop), "not idle long enough")

	clock.Advance(10 * time.Minute)
	p.AfterRun(ctx)
	assert.Equal(t, 1, srv.Calls(daytonatest.EndpointStop))

	// The next call starts the same sandbox again.
	h, _ := p.Sandbox()
	res := p.Call(ctx, toolCall(daytonatools.OpExecuteCommand, `{"command":"echo again"}`))
	require.False(t, res.IsError, res.Output)
	h2, _ := p.Sandbox()
	assert.Equal(t, h.ID, h2.ID)
	assert.Equal(t, 1, srv.Calls(daytonatest.EndpointStart))
}

func TestAfterRun_CancelledContextStillApplies(t *testing.T) {
	p, srv, clock := newTestPlugin(t, Config{AutoStopInterval: intPtr(1)})

	p.Call(context.Background(), toolCall(daytonatools.OpExecuteCommand, `{"command":"echo hi"}`))
	clock.Advance(2 * time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.AfterRun(ctx)

	assert.Equal(t, 1, srv.Calls(daytonatest.EndpointStop))
}

func TestAfterTool_DestroyOnToolError(t *testing.T) {
	tests := []struct {
		name        string
		destroy     bool
		call        tools.ToolCall
		wantDeletes int
	}{
		{
			name:        "enabled, remote failure",
			destroy:     true,
			call:        toolCall(daytonatools.OpReadFile, `{"file_path":"/missing"}`),
			wantDeletes: 1,
		},
		{
			name:        "enabled, rejected arguments",
			destroy:     true,
			call:        toolCall(daytonatools.OpExecuteCode, `{"code":"x","language":"cobol"}`),
			wantDeletes: 0,
		},
		{
			name:        "disabled",
			destroy:     false,
			call:        toolCall(daytonatools.OpReadFile, `{"file_path":"/missing"}`),
			wantDeletes: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, srv, _ := newTestPlugin(t, Config{DestroyOnToolError: tt.destroy})
			ctx := context.Background()

			_, err := p.EnsureSandbox(ctx)
			require.NoError(t, err)

			res := p.Call(ctx, tt.call)
			require.True(t, res.IsError)

			assert.Equal(t, tt.wantDeletes, srv.Calls(daytonatest.EndpointDelete))
			_, exists := p.Sandbox()
			assert.Equal(t, tt.wantDeletes == 0, exists)
		})
	}
}

func TestDestroySandbox_NextCallRecreates(t *testing.T) {
	p, srv, _ := newTestPlugin(t, Config{})
	ctx := context.Background()

	first, err := p.EnsureSandbox(ctx)
	require.NoError(t, err)
	require.NoError(t, p.DestroySandbox(ctx))

	res := p.Call(ctx, toolCall(daytonatools.OpExecuteCommand, `{"command":"echo hi"}`))
	require.False(t, res.IsError, res.Output)

	second, ok := p.Sandbox()
	require.True(t, ok)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 2, srv.Calls(daytonatest.EndpointCreate))
}

func TestClose(t *testing.T) {
	p, srv, _ := newTestPlugin(t, Config{})

	_, err := p.EnsureSandbox(context.Background())
	require.NoError(t, err)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	assert.Empty(t, srv.Sandboxes())
	assert.Equal(t, 1, srv.Calls(daytonatest.EndpointDelete))
}

func TestClose_WithoutSandbox(t *testing.T) {
	p, srv, _ := newTestPlugin(t, Config{})

	require.NoError(t, p.Close())
	assert.Zero(t, srv.TotalCalls())
}

func TestHTTPHandler(t *testing.T) {
	p, _, _ := newTestPlugin(t, Config{})

	rec := httptest.NewRecorder()
	p.HTTPHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sandbox", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"exists":false`)
}
