package integration

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/daytonaio/daytona-adk-plugin/pkg/plugin"
)

func TestHealthEndpointNoAuth(t *testing.T) {
	env := newEnv(t, plugin.Config{})

	resp := get(t, env.HTTP.URL+"/healthz", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 without auth, got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID response header")
	}
	if body := readBody(t, resp); !strings.Contains(body, "ok") {
		t.Errorf("body = %q, want to contain 'ok'", body)
	}
}

func TestMCPRequiresAuth(t *testing.T) {
	env := newEnv(t, plugin.Config{})

	for _, token := range []string{"", "sk-wrong"} {
		req, _ := http.NewRequest(http.MethodPost, env.HTTP.URL+"/mcp", strings.NewReader(`{}`))
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("token %q: status = %d, want 401", token, resp.StatusCode)
		}
	}
	if n := env.Daytona.TotalCalls(); n != 0 {
		t.Errorf("rejected requests reached Daytona %d times", n)
	}
}

func TestSandboxStatus(t *testing.T) {
	env := newEnv(t, plugin.Config{})
	url := env.HTTP.URL + "/v1/sandbox"

	if resp := get(t, url, ""); resp.StatusCode != http.StatusUnauthorized {
		resp.Body.Close()
		t.Fatalf("status route without auth: %d, want 401", resp.StatusCode)
	}

	var status struct {
		Exists bool   `json:"exists"`
		ID     string `json:"id"`
		State  string `json:"state"`
	}
	if err := json.Unmarshal([]byte(readBody(t, get(t, url, clientKey))), &status); err != nil {
		t.Fatalf("decoding status: %v", err)
	}
	if status.Exists {
		t.Fatalf("sandbox exists before the first call: %+v", status)
	}

	session := env.connect(t)
	call(t, session, "execute_command_in_daytona", map[string]any{"command": "echo hi"})

	if err := json.Unmarshal([]byte(readBody(t, get(t, url, clientKey))), &status); err != nil {
		t.Fatalf("decoding status: %v", err)
	}
	h, _ := env.Plugin.Sandbox()
	if !status.Exists || status.ID != h.ID || status.State != "running" {
		t.Errorf("status = %+v, want running sandbox %s", status, h.ID)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newEnv(t, plugin.Config{})
	session := env.connect(t)
	call(t, session, "execute_command_in_daytona", map[string]any{"command": "echo hi"})

	body := readBody(t, get(t, env.HTTP.URL+"/metrics", ""))
	for _, name := range []string{
		"daytona_api_requests_total",
		"daytona_sandbox_operations_total",
		"daytona_adk_http_requests_total",
	} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics output lacks %s", name)
		}
	}
}
