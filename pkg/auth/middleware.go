package auth

import (
	"log/slog"
	"net/http"

	"github.com/daytonaio/daytona-adk-plugin/pkg/debug"
	"github.com/daytonaio/daytona-adk-plugin/pkg/observability"
)

// DefaultBypassEndpoints lists endpoints that skip authentication.
var DefaultBypassEndpoints = []string{"/healthz", "/readyz", "/metrics"}

// Middleware authenticates every request not on the bypass list and stores
// the identity in the request context. A non-empty requiredScope must be
// granted to the identity.
func Middleware(chain *AuthChain, requiredScope string, bypassEndpoints []string) func(http.Handler) http.Handler {
	bypass := make(map[string]bool, len(bypassEndpoints))
	for _, ep := range bypassEndpoints {
		bypass[ep] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if bypass[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			result := chain.Authenticate(r.Context(), r)

			if result.Decision != Yes || result.Identity == nil {
				slog.Warn("authentication failed",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
					"error", result.Err,
				)
				observability.AuthRejectedTotal.WithLabelValues("unauthenticated").Inc()
				w.Header().Set("WWW-Authenticate", `Bearer realm="daytona-adk"`)
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			if result.Identity.Subject == "" {
				slog.Error("authenticator returned identity with empty subject")
				writeError(w, http.StatusInternalServerError, "internal authentication error")
				return
			}

			if requiredScope != "" && result.Identity.Subject != AnonymousSubject && !result.Identity.HasScope(requiredScope) {
				slog.Warn("missing scope",
					"subject", result.Identity.Subject,
					"scope", requiredScope,
				)
				observability.AuthRejectedTotal.WithLabelValues("forbidden").Inc()
				writeError(w, http.StatusForbidden, ErrForbidden.Error())
				return
			}

			debug.Log("auth", "authenticated",
				"subject", result.Identity.Subject,
				"path", r.URL.Path,
			)

			next.ServeHTTP(w, r.WithContext(SetIdentity(r.Context(), result.Identity)))
		})
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
