// Command mock-daytona runs the in-memory fake Daytona API for local
// development and end-to-end tests of daytona-adk without a Daytona
// account.
//
// Configuration:
//
//	MOCK_PORT    - Listen port (default: 3000)
//	MOCK_API_KEY - Accepted bearer token (default: test-key)
//	MOCK_SHELL   - When "1", commands run in a local sh instead of the
//	               built-in echo/exit emulation. Never expose this mode.
//
// Point daytona-adk at it with DAYTONA_API_URL=http://localhost:3000/api.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/daytonaio/daytona-adk-plugin/pkg/daytona"
	"github.com/daytonaio/daytona-adk-plugin/pkg/daytona/daytonatest"
)

func main() {
	port := os.Getenv("MOCK_PORT")
	if port == "" {
		port = "3000"
	}
	apiKey := os.Getenv("MOCK_API_KEY")
	if apiKey == "" {
		apiKey = daytonatest.DefaultAPIKey
	}

	opts := []daytonatest.Option{daytonatest.WithAPIKey(apiKey)}
	if os.Getenv("MOCK_SHELL") == "1" {
		slog.Warn("MOCK_SHELL enabled: sandbox commands run on this host")
		opts = append(opts, daytonatest.WithExec(shellExec))
	}
	api := daytonatest.NewAPI(opts...)

	mux := http.NewServeMux()
	mux.Handle("/api/", http.StripPrefix("/api", api))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})

	srv := &http.Server{Addr: ":" + port, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("mock daytona starting", "port", port, "api_url", "http://localhost:"+port+"/api")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("mock daytona failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("mock daytona shutting down", "sandboxes", len(api.Sandboxes()))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
}

// shellExec runs the command with the local sh.
func shellExec(_ string, req daytona.ExecuteRequest) (daytona.ExecuteResponse, error) {
	ctx := context.Background()
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.Timeout)*time.Second)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", req.Command)
	if req.Cwd != "" {
		if st, err := os.Stat(req.Cwd); err == nil && st.IsDir() {
			cmd.Dir = req.Cwd
		}
	}
	out, err := cmd.CombinedOutput()

	if ctx.Err() == context.DeadlineExceeded {
		return daytona.ExecuteResponse{}, daytonatest.ErrTimeout
	}
	var exitErr *exec.ExitError
	switch {
	case errors.As(err, &exitErr):
		return daytona.ExecuteResponse{ExitCode: exitErr.ExitCode(), Result: string(out)}, nil
	case err != nil:
		return daytona.ExecuteResponse{ExitCode: -1, Result: err.Error()}, nil
	}
	return daytona.ExecuteResponse{Result: string(out)}, nil
}
