package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	dto "github.com/prometheus/client_model/go"

	"github.com/daytonaio/daytona-adk-plugin/pkg/observability"
)

func rejected(t *testing.T, reason string) float64 {
	t.Helper()
	var m dto.Metric
	if err := observability.AuthRejectedTotal.WithLabelValues(reason).Write(&m); err != nil {
		t.Fatalf("reading metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func serve(mw func(http.Handler) http.Handler, path string) (*httptest.ResponseRecorder, *Identity) {
	var got *Identity
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", path, nil))
	return rec, got
}

func TestMiddleware_BypassEndpoint(t *testing.T) {
	mw := Middleware(&AuthChain{DefaultDecision: No}, "", DefaultBypassEndpoints)

	for _, path := range DefaultBypassEndpoints {
		rec, _ := serve(mw, path)
		if rec.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want 200", path, rec.Code)
		}
	}
}

func TestMiddleware_Rejects(t *testing.T) {
	before := rejected(t, "unauthenticated")
	mw := Middleware(&AuthChain{DefaultDecision: No}, "", DefaultBypassEndpoints)

	rec, _ := serve(mw, "/mcp")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if rec.Header().Get("WWW-Authenticate") == "" {
		t.Error("missing WWW-Authenticate header")
	}
	if got := rejected(t, "unauthenticated") - before; got != 1 {
		t.Errorf("rejections = %v, want 1", got)
	}
}

func TestMiddleware_InjectsIdentity(t *testing.T) {
	chain := &AuthChain{Authenticators: []Authenticator{
		&mockAuthn{result: AuthResult{Decision: Yes, Identity: &Identity{Subject: "alice"}}},
	}}
	rec, id := serve(Middleware(chain, "", nil), "/mcp")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if id == nil || id.Subject != "alice" {
		t.Errorf("identity = %+v, want alice", id)
	}
}

func TestMiddleware_EmptySubject(t *testing.T) {
	chain := &AuthChain{Authenticators: []Authenticator{
		&mockAuthn{result: AuthResult{Decision: Yes, Identity: &Identity{}}},
	}}
	rec, _ := serve(Middleware(chain, "", nil), "/mcp")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestMiddleware_RequiredScope(t *testing.T) {
	tests := []struct {
		name   string
		chain  *AuthChain
		status int
	}{
		{
			name: "granted",
			chain: &AuthChain{Authenticators: []Authenticator{&mockAuthn{result: AuthResult{
				Decision: Yes, Identity: &Identity{Subject: "a", Scopes: []string{"tools:call"}},
			}}}},
			status: http.StatusOK,
		},
		{
			name: "missing",
			chain: &AuthChain{Authenticators: []Authenticator{&mockAuthn{result: AuthResult{
				Decision: Yes, Identity: &Identity{Subject: "a"},
			}}}},
			status: http.StatusForbidden,
		},
		{
			name:   "anonymous default",
			chain:  &AuthChain{DefaultDecision: Yes},
			status: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := serve(Middleware(tt.chain, "tools:call", nil), "/mcp")
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
		})
	}
}
