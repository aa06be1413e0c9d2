// Package auth authenticates requests to the MCP HTTP endpoint.
//
// Authenticators form a chain with three-outcome voting: each returns Yes
// (identity found), No (credentials invalid) or Abstain (credentials of a
// kind it does not handle). DefaultDecision settles requests every
// authenticator abstained on.
package auth
