// Package integration runs the plugin end to end: the MCP server over
// streamable HTTP with authentication, backed by the fake Daytona API,
// all in-process on net/http/httptest.
package integration

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/daytonaio/daytona-adk-plugin/pkg/auth"
	"github.com/daytonaio/daytona-adk-plugin/pkg/auth/apikey"
	"github.com/daytonaio/daytona-adk-plugin/pkg/daytona/daytonatest"
	"github.com/daytonaio/daytona-adk-plugin/pkg/mcpserver"
	"github.com/daytonaio/daytona-adk-plugin/pkg/observability"
	"github.com/daytonaio/daytona-adk-plugin/pkg/plugin"
	"github.com/daytonaio/daytona-adk-plugin/pkg/transport"
)

const clientKey = "sk-integration"

// testEnv is one plugin served over HTTP against its own fake Daytona.
type testEnv struct {
	Daytona *daytonatest.Server
	Plugin  *plugin.Plugin
	HTTP    *httptest.Server
}

func newEnv(t *testing.T, cfg plugin.Config, opts ...daytonatest.Option) *testEnv {
	t.Helper()

	fake := daytonatest.NewServer(opts...)
	t.Cleanup(fake.Close)

	client, err := fake.NewClient()
	if err != nil {
		t.Fatalf("creating Daytona client: %v", err)
	}

	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	p, err := plugin.NewWithRemote(cfg, client)
	if err != nil {
		t.Fatalf("creating plugin: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })

	server, err := mcpserver.New(p, "test")
	if err != nil {
		t.Fatalf("creating MCP server: %v", err)
	}

	chain := &auth.AuthChain{
		Authenticators: []auth.Authenticator{apikey.New([]apikey.RawKeyEntry{
			{Key: clientKey, Identity: auth.Identity{Subject: "integration"}},
		})},
		DefaultDecision: auth.No,
	}
	authMW := auth.Middleware(chain, "", auth.DefaultBypassEndpoints)

	// Mux matching the production layout of "daytona-adk serve".
	mux := http.NewServeMux()
	mux.Handle("/mcp", authMW(observability.MetricsMiddleware(mcpserver.Handler(server))))
	mux.Handle("/v1/", authMW(p.HTTPHandler()))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	httpSrv := httptest.NewServer(transport.Chain(transport.RequestID(), transport.Logging(logger), transport.Recovery())(mux))
	t.Cleanup(httpSrv.Close)

	return &testEnv{Daytona: fake, Plugin: p, HTTP: httpSrv}
}

// bearer adds an Authorization header to every request.
type bearer struct {
	token string
	next  http.RoundTripper
}

func (b bearer) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.Header.Set("Authorization", "Bearer "+b.token)
	return b.next.RoundTrip(r)
}

// connect opens an authenticated MCP session.
func (env *testEnv) connect(t *testing.T) *mcp.ClientSession {
	t.Helper()
	clientTransport := &mcp.StreamableClientTransport{
		Endpoint:   env.HTTP.URL + "/mcp",
		HTTPClient: &http.Client{Transport: bearer{token: clientKey, next: http.DefaultTransport}},
	}
	client := mcp.NewClient(&mcp.Implementation{Name: "integration", Version: "1.0.0"}, nil)
	session, err := client.Connect(context.Background(), clientTransport, nil)
	if err != nil {
		t.Fatalf("connecting: %v", err)
	}
	t.Cleanup(func() { _ = session.Close() })
	return session
}

// call invokes a tool and decodes its JSON output.
func call(t *testing.T, session *mcp.ClientSession, name string, args map[string]any) (map[string]any, bool) {
	t.Helper()
	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("CallTool %s: %v", name, err)
	}
	if len(res.Content) != 1 {
		t.Fatalf("CallTool %s: %d content items, want 1", name, len(res.Content))
	}
	text, ok := res.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool %s: content is %T, want text", name, res.Content[0])
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(text.Text), &out); err != nil {
		t.Fatalf("CallTool %s: decoding %q: %v", name, text.Text, err)
	}
	return out, res.IsError
}

func get(t *testing.T, url, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("creating request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	return string(data)
}
