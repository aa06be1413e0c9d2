package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// AuthDecision is the outcome of one authenticator.
type AuthDecision int

const (
	// Yes means credentials are valid. The chain stops and the identity is used.
	Yes AuthDecision = iota

	// No means credentials are present but invalid. The chain stops and the
	// request is rejected.
	No

	// Abstain means the authenticator does not handle these credentials.
	Abstain
)

// AuthResult carries the outcome of an authentication attempt.
type AuthResult struct {
	Decision AuthDecision
	Identity *Identity // set when Decision == Yes
	Err      error     // set when Decision == No
}

// Identity is an authenticated MCP client.
type Identity struct {
	// Subject identifies the caller (required, non-empty).
	Subject string

	// Scopes lists the scopes granted to the caller.
	Scopes []string

	// Metadata carries authenticator-specific data.
	Metadata map[string]string
}

// HasScope reports whether the identity was granted scope.
func (id *Identity) HasScope(scope string) bool {
	if id == nil {
		return false
	}
	for _, s := range id.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Authenticator examines request credentials and votes.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) AuthResult
}

var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrForbidden       = errors.New("access denied")
)

// AnonymousSubject is the subject given to requests admitted by a Yes
// default decision.
const AnonymousSubject = "anonymous"

// AuthChain evaluates authenticators in order.
type AuthChain struct {
	Authenticators []Authenticator

	// DefaultDecision applies when all authenticators abstain. Yes admits
	// the request as AnonymousSubject.
	DefaultDecision AuthDecision
}

// Authenticate runs the chain, stopping on the first Yes or No.
func (c *AuthChain) Authenticate(ctx context.Context, r *http.Request) AuthResult {
	for _, authn := range c.Authenticators {
		result := authn.Authenticate(ctx, r)
		if result.Decision != Abstain {
			return result
		}
	}

	if c.DefaultDecision == Yes {
		return AuthResult{
			Decision: Yes,
			Identity: &Identity{Subject: AnonymousSubject},
		}
	}
	return AuthResult{Decision: No, Err: ErrUnauthenticated}
}

// BearerToken extracts the token of a "Bearer" Authorization header. ok is
// false when the header is missing or uses another scheme; an empty token
// with ok true means the scheme was given without credentials.
func BearerToken(r *http.Request) (token string, ok bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	scheme, rest, _ := strings.Cut(header, " ")
	if !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	return strings.TrimSpace(rest), true
}
