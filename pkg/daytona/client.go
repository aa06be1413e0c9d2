// Package daytona is a client for the Daytona sandbox API: the control
// plane (create, start, stop, delete sandboxes) and the per-sandbox toolbox
// (process execution, sessions, files).
package daytona

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/daytonaio/daytona-adk-plugin/pkg/debug"
	"github.com/daytonaio/daytona-adk-plugin/pkg/observability"
)

const (
	// DefaultAPIURL is the hosted Daytona API.
	DefaultAPIURL = "https://app.daytona.io/api"

	// DefaultSource is sent in X-Daytona-Source.
	DefaultSource = "daytona-adk-go"

	defaultTimeout = 120 * time.Second

	// commandGrace is added to a command timeout to form the HTTP deadline,
	// so the service reports the timeout before the client gives up.
	commandGrace = 30 * time.Second

	// noDeadline leaves the request bounded by the caller's context only.
	noDeadline time.Duration = -1
)

// Config configures a Client.
type Config struct {
	APIKey         string
	APIURL         string
	Target         string
	OrganizationID string
	Source         string

	// HTTPClient overrides the transport. Its Timeout is left alone.
	HTTPClient *http.Client

	// Timeout bounds control-plane and file calls. Command executions use
	// their own timeout, or none when the command has none.
	Timeout time.Duration
}

// Client calls the Daytona REST API.
type Client struct {
	baseURL    string
	apiKey     string
	target     string
	orgID      string
	source     string
	timeout    time.Duration
	httpClient *http.Client
}

// NewClient creates a Daytona API client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("daytona: API key is required")
	}

	baseURL := strings.TrimRight(cfg.APIURL, "/")
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("daytona: invalid API URL: %w", err)
	}

	source := cfg.Source
	if source == "" {
		source = DefaultSource
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		target:     cfg.Target,
		orgID:      cfg.OrganizationID,
		source:     source,
		timeout:    timeout,
		httpClient: httpClient,
	}, nil
}

// Target returns the configured default region.
func (c *Client) Target() string {
	return c.target
}

// CreateSandbox creates a sandbox. The returned sandbox may still be in the
// creating or starting state.
func (c *Client) CreateSandbox(ctx context.Context, params CreateSandboxParams) (*Sandbox, error) {
	if params.Target == "" {
		params.Target = c.target
	}
	var sb Sandbox
	if err := c.doJSON(ctx, call{
		method:   http.MethodPost,
		path:     "/sandbox",
		endpoint: "/sandbox",
	}, params, &sb); err != nil {
		return nil, fmt.Errorf("create sandbox: %w", err)
	}
	return &sb, nil
}

// GetSandbox fetches the current state of a sandbox.
func (c *Client) GetSandbox(ctx context.Context, id string) (*Sandbox, error) {
	var sb Sandbox
	if err := c.doJSON(ctx, call{
		method:   http.MethodGet,
		path:     "/sandbox/" + url.PathEscape(id),
		endpoint: "/sandbox/{id}",
	}, nil, &sb); err != nil {
		return nil, fmt.Errorf("get sandbox %s: %w", id, err)
	}
	return &sb, nil
}

// StartSandbox starts a stopped sandbox.
func (c *Client) StartSandbox(ctx context.Context, id string) (*Sandbox, error) {
	return c.transition(ctx, id, "start")
}

// StopSandbox stops a running sandbox. Its filesystem is kept.
func (c *Client) StopSandbox(ctx context.Context, id string) (*Sandbox, error) {
	return c.transition(ctx, id, "stop")
}

func (c *Client) transition(ctx context.Context, id, action string) (*Sandbox, error) {
	body, err := c.send(ctx, call{
		method:   http.MethodPost,
		path:     "/sandbox/" + url.PathEscape(id) + "/" + action,
		endpoint: "/sandbox/{id}/" + action,
	})
	if err != nil {
		return nil, fmt.Errorf("%s sandbox %s: %w", action, id, err)
	}

	// Older API versions reply with an empty body.
	sb := Sandbox{ID: id}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &sb); err != nil {
			return nil, fmt.Errorf("%s sandbox %s: decode response: %w", action, id, err)
		}
	}
	return &sb, nil
}

// DeleteSandbox deletes a sandbox. A sandbox that no longer exists counts
// as deleted.
func (c *Client) DeleteSandbox(ctx context.Context, id string) error {
	_, err := c.send(ctx, call{
		method:   http.MethodDelete,
		path:     "/sandbox/" + url.PathEscape(id),
		endpoint: "/sandbox/{id}",
	})
	if err != nil && !IsNotFound(err) {
		return fmt.Errorf("delete sandbox %s: %w", id, err)
	}
	return nil
}

// Exec runs a command to completion and returns its combined output.
func (c *Client) Exec(ctx context.Context, id string, req ExecuteRequest) (*ExecuteResponse, error) {
	var resp ExecuteResponse
	if err := c.doJSON(ctx, call{
		method:   http.MethodPost,
		path:     toolboxPath(id, "process/execute"),
		endpoint: "/toolbox/{id}/process/execute",
		timeout:  commandTimeout(req.Timeout),
	}, req, &resp); err != nil {
		return nil, fmt.Errorf("execute command: %w", err)
	}
	return &resp, nil
}

// UploadFile writes content to filePath inside the sandbox, replacing any
// existing file.
func (c *Client) UploadFile(ctx context.Context, id, filePath string, content []byte) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", path.Base(filePath))
	if err != nil {
		return fmt.Errorf("upload %s: %w", filePath, err)
	}
	if _, err := part.Write(content); err != nil {
		return fmt.Errorf("upload %s: %w", filePath, err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("upload %s: %w", filePath, err)
	}

	_, err = c.send(ctx, call{
		method:      http.MethodPost,
		path:        toolboxPath(id, "files/upload"),
		endpoint:    "/toolbox/{id}/files/upload",
		query:       url.Values{"path": {filePath}},
		body:        &buf,
		contentType: mw.FormDataContentType(),
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", filePath, err)
	}
	return nil
}

// DownloadFile returns the content of filePath inside the sandbox.
func (c *Client) DownloadFile(ctx context.Context, id, filePath string) ([]byte, error) {
	body, err := c.send(ctx, call{
		method:   http.MethodGet,
		path:     toolboxPath(id, "files/download"),
		endpoint: "/toolbox/{id}/files/download",
		query:    url.Values{"path": {filePath}},
	})
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", filePath, err)
	}
	return body, nil
}

// DeleteFile removes filePath inside the sandbox.
func (c *Client) DeleteFile(ctx context.Context, id, filePath string) error {
	_, err := c.send(ctx, call{
		method:   http.MethodDelete,
		path:     toolboxPath(id, "files"),
		endpoint: "/toolbox/{id}/files",
		query:    url.Values{"path": {filePath}},
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", filePath, err)
	}
	return nil
}

// CreateSession creates a named background process session.
func (c *Client) CreateSession(ctx context.Context, id, sessionID string) error {
	err := c.doJSON(ctx, call{
		method:   http.MethodPost,
		path:     toolboxPath(id, "process/session"),
		endpoint: "/toolbox/{id}/process/session",
	}, CreateSessionRequest{SessionID: sessionID}, nil)
	if err != nil {
		return fmt.Errorf("create session %s: %w", sessionID, err)
	}
	return nil
}

// ExecuteSessionCommand runs a command inside a session.
func (c *Client) ExecuteSessionCommand(ctx context.Context, id, sessionID string, req SessionExecuteRequest) (*SessionExecuteResponse, error) {
	var resp SessionExecuteResponse
	if err := c.doJSON(ctx, call{
		method:   http.MethodPost,
		path:     toolboxPath(id, "process/session/"+url.PathEscape(sessionID)+"/exec"),
		endpoint: "/toolbox/{id}/process/session/{sid}/exec",
	}, req, &resp); err != nil {
		return nil, fmt.Errorf("execute in session %s: %w", sessionID, err)
	}
	return &resp, nil
}

// DeleteSession terminates a session and every process in it.
func (c *Client) DeleteSession(ctx context.Context, id, sessionID string) error {
	_, err := c.send(ctx, call{
		method:   http.MethodDelete,
		path:     toolboxPath(id, "process/session/"+url.PathEscape(sessionID)),
		endpoint: "/toolbox/{id}/process/session/{sid}",
	})
	if err != nil && !IsNotFound(err) {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	return nil
}

// call describes one HTTP exchange. endpoint is the path template used as
// the metrics label.
type call struct {
	method      string
	path        string
	endpoint    string
	query       url.Values
	body        io.Reader
	contentType string
	timeout     time.Duration
}

func (c *Client) doJSON(ctx context.Context, cl call, in, out any) error {
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		cl.body = bytes.NewReader(data)
		cl.contentType = "application/json"
		debug.Trace("api", "request body", "endpoint", cl.endpoint, "body", debug.Truncate(string(data), 4096))
	}

	body, err := c.send(ctx, cl)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, cl call) ([]byte, error) {
	timeout := cl.timeout
	if timeout == 0 {
		timeout = c.timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	u := c.baseURL + cl.path
	if len(cl.query) > 0 {
		u += "?" + cl.query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, cl.method, u, cl.body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("X-Daytona-Source", c.source)
	if c.orgID != "" {
		req.Header.Set("X-Daytona-Organization-ID", c.orgID)
	}
	if cl.contentType != "" {
		req.Header.Set("Content-Type", cl.contentType)
	}

	debug.Log("api", "request", "method", cl.method, "endpoint", cl.endpoint, "path", cl.path)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	elapsed := time.Since(start)
	observability.APIRequestDuration.WithLabelValues(cl.method, cl.endpoint).Observe(elapsed.Seconds())
	if err != nil {
		observability.APIRequestsTotal.WithLabelValues(cl.method, cl.endpoint, "error").Inc()
		return nil, fmt.Errorf("daytona request failed: %w", err)
	}
	defer resp.Body.Close()

	observability.APIRequestsTotal.WithLabelValues(cl.method, cl.endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	debug.Log("api", "response", "endpoint", cl.endpoint, "status", resp.StatusCode, "duration", elapsed)
	debug.Trace("api", "response body", "endpoint", cl.endpoint, "body", debug.Truncate(string(body), 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newAPIError(resp.StatusCode, body)
	}
	return body, nil
}

func toolboxPath(id, rest string) string {
	return "/toolbox/" + url.PathEscape(id) + "/toolbox/" + rest
}

// commandTimeout turns a command timeout in seconds into an HTTP deadline.
// A command without a timeout runs as long as the service lets it.
func commandTimeout(seconds int) time.Duration {
	if seconds <= 0 {
		return noDeadline
	}
	return time.Duration(seconds)*time.Second + commandGrace
}
