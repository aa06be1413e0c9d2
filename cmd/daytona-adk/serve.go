package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/daytonaio/daytona-adk-plugin/pkg/auth"
	"github.com/daytonaio/daytona-adk-plugin/pkg/auth/apikey"
	"github.com/daytonaio/daytona-adk-plugin/pkg/auth/jwt"
	"github.com/daytonaio/daytona-adk-plugin/pkg/config"
	"github.com/daytonaio/daytona-adk-plugin/pkg/mcpserver"
	"github.com/daytonaio/daytona-adk-plugin/pkg/observability"
	"github.com/daytonaio/daytona-adk-plugin/pkg/plugin"
	"github.com/daytonaio/daytona-adk-plugin/pkg/transport"
)

var (
	serveTransport string
	servePort      int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the Daytona tools over MCP",
	Long: `Serve the five Daytona tools to MCP clients.

With --transport stdio (the default) the server speaks MCP on stdin and
stdout, for clients that spawn it as a subprocess. With --transport http it
listens on --port and serves:

  /mcp          streamable HTTP MCP endpoint (authenticated)
  /v1/sandbox   sandbox status (authenticated)
  /metrics      Prometheus metrics
  /healthz      liveness probe

The sandbox is deleted on shutdown unless --keep is given.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveTransport, "transport", "t", "", "MCP transport: stdio or http (default from config)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "HTTP listen port (default from config)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveTransport != "" {
		cfg.Server.Transport = serveTransport
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}
	if cfg, err = validated(cfg); err != nil {
		return err
	}

	p, err := plugin.New(cfg.PluginConfig())
	if err != nil {
		return err
	}
	defer closePlugin(p)

	server, err := mcpserver.New(p, version)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go p.Watch(ctx, cfg.Plugin.WatchInterval)

	if cfg.Server.Transport == "stdio" {
		slog.Info("serving MCP on stdio", "tools", len(p.Tools()))
		if err := mcpserver.ServeStdio(ctx, server); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}
	return serveHTTP(ctx, cfg, p, server)
}

func serveHTTP(ctx context.Context, cfg *config.Config, p *plugin.Plugin, server *mcp.Server) error {
	authMW, err := authMiddleware(cfg.Auth)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/mcp", authMW(observability.MetricsMiddleware(mcpserver.Handler(server))))
	mux.Handle("/v1/", authMW(p.HTTPHandler()))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	if cfg.Observability.Metrics.Enabled {
		mux.Handle("GET "+cfg.Observability.Metrics.Path, promhttp.Handler())
	}

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Server.Port),
		Handler:           transport.Chain(transport.RequestID(), transport.Logging(nil), transport.Recovery())(mux),
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("serving MCP over HTTP", "port", cfg.Server.Port, "auth", cfg.Auth.Type, "tools", len(p.Tools()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// authMiddleware builds the authentication middleware for the HTTP
// endpoints. JWTs are tried before API keys.
func authMiddleware(cfg config.AuthConfig) (func(http.Handler) http.Handler, error) {
	chain := &auth.AuthChain{DefaultDecision: auth.No}

	switch cfg.Type {
	case "none":
		chain.DefaultDecision = auth.Yes
	case "jwt":
		a, err := jwt.New(jwt.Config{
			Secret:   []byte(cfg.JWT.Secret),
			Issuer:   cfg.JWT.Issuer,
			Audience: cfg.JWT.Audience,
			Leeway:   cfg.JWT.Leeway,
		})
		if err != nil {
			return nil, err
		}
		chain.Authenticators = append(chain.Authenticators, a)
	}

	if len(cfg.APIKeys) > 0 {
		entries := make([]apikey.RawKeyEntry, len(cfg.APIKeys))
		for i, k := range cfg.APIKeys {
			entries[i] = apikey.RawKeyEntry{
				Key:      k.Key,
				Identity: auth.Identity{Subject: k.Subject, Scopes: k.Scopes},
			}
		}
		chain.Authenticators = append(chain.Authenticators, apikey.New(entries))
	}

	if cfg.Type == "none" && len(chain.Authenticators) > 0 {
		return nil, fmt.Errorf("auth.api_keys are configured but auth.type is \"none\"")
	}

	return auth.Middleware(chain, cfg.RequiredScope, auth.DefaultBypassEndpoints), nil
}

// closePlugin deletes the sandbox unless --keep was given.
func closePlugin(p *plugin.Plugin) {
	if keepSandbox {
		if h, ok := p.Sandbox(); ok {
			slog.Info("keeping sandbox", "id", h.ID, "name", h.Name)
		}
		return
	}
	if err := p.Close(); err != nil {
		slog.Warn("cleanup failed", "error", err)
	}
}
