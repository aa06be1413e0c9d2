// Package transport provides the HTTP middleware shared by the daytona-adk
// HTTP endpoints: request IDs, panic recovery and access logging.
package transport
