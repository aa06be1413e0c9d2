// Package daytonatest provides an in-memory fake of the Daytona API for
// tests and local development.
//
//	srv := daytonatest.NewServer()
//	defer srv.Close()
//	client, _ := srv.NewClient()
package daytonatest

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/daytonaio/daytona-adk-plugin/pkg/daytona"
)

// DefaultAPIKey is the key accepted by a server built without WithAPIKey.
const DefaultAPIKey = "test-key"

// Endpoint patterns, usable with Calls and FailNext.
const (
	EndpointCreate        = "POST /sandbox"
	EndpointGet           = "GET /sandbox/{id}"
	EndpointDelete        = "DELETE /sandbox/{id}"
	EndpointStart         = "POST /sandbox/{id}/start"
	EndpointStop          = "POST /sandbox/{id}/stop"
	EndpointExecute       = "POST /toolbox/{id}/toolbox/process/execute"
	EndpointUpload        = "POST /toolbox/{id}/toolbox/files/upload"
	EndpointDownload      = "GET /toolbox/{id}/toolbox/files/download"
	EndpointDeleteFile    = "DELETE /toolbox/{id}/toolbox/files"
	EndpointCreateSession = "POST /toolbox/{id}/toolbox/process/session"
	EndpointSessionExec   = "POST /toolbox/{id}/toolbox/process/session/{sid}/exec"
	EndpointDeleteSession = "DELETE /toolbox/{id}/toolbox/process/session/{sid}"
)

// ErrTimeout makes the fake answer an execute call with HTTP 408.
var ErrTimeout = errors.New("command execution timeout")

// ExecFunc produces the result of a command run in a sandbox.
type ExecFunc func(sandboxID string, req daytona.ExecuteRequest) (daytona.ExecuteResponse, error)

// SessionCommand records one command sent to a session.
type SessionCommand struct {
	SandboxID string
	SessionID string
	Command   string
	RunAsync  bool
	CmdID     string
}

// Option configures an API.
type Option func(*API)

// WithAPIKey sets the bearer token the fake accepts.
func WithAPIKey(key string) Option {
	return func(a *API) { a.apiKey = key }
}

// WithExec replaces DefaultExec.
func WithExec(fn ExecFunc) Option {
	return func(a *API) { a.exec = fn }
}

// WithProvisioningPolls keeps new sandboxes in the creating state until
// they have been fetched n times.
func WithProvisioningPolls(n int) Option {
	return func(a *API) { a.provisioningPolls = n }
}

// API is the fake Daytona API as an http.Handler.
type API struct {
	apiKey            string
	provisioningPolls int
	mux               *http.ServeMux

	mu        sync.Mutex
	exec      ExecFunc
	sandboxes map[string]*fakeSandbox
	calls     map[string]int
	failures  map[string][]int
	sessions  []SessionCommand
}

type fakeSandbox struct {
	sb        daytona.Sandbox
	files     map[string][]byte
	sessions  map[string]bool
	pollsLeft int
}

// NewAPI creates the fake API handler.
func NewAPI(opts ...Option) *API {
	a := &API{
		apiKey:    DefaultAPIKey,
		exec:      DefaultExec,
		sandboxes: make(map[string]*fakeSandbox),
		calls:     make(map[string]int),
		failures:  make(map[string][]int),
	}
	for _, opt := range opts {
		opt(a)
	}

	a.mux = http.NewServeMux()
	a.handle(EndpointCreate, a.handleCreate)
	a.handle(EndpointGet, a.handleGet)
	a.handle(EndpointDelete, a.handleDelete)
	a.handle(EndpointStart, a.handleStart)
	a.handle(EndpointStop, a.handleStop)
	a.handle(EndpointExecute, a.toolbox(a.handleExecute))
	a.handle(EndpointUpload, a.toolbox(a.handleUpload))
	a.handle(EndpointDownload, a.toolbox(a.handleDownload))
	a.handle(EndpointDeleteFile, a.toolbox(a.handleDeleteFile))
	a.handle(EndpointCreateSession, a.toolbox(a.handleCreateSession))
	a.handle(EndpointSessionExec, a.toolbox(a.handleSessionExec))
	a.handle(EndpointDeleteSession, a.toolbox(a.handleDeleteSession))
	return a
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mux.ServeHTTP(w, r)
}

// handle registers fn under pattern with auth, call counting and fault
// injection.
func (a *API) handle(pattern string, fn http.HandlerFunc) {
	a.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		if a.apiKey != "" && r.Header.Get("Authorization") != "Bearer "+a.apiKey {
			writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}

		a.mu.Lock()
		a.calls[pattern]++
		var status int
		if q := a.failures[pattern]; len(q) > 0 {
			status, a.failures[pattern] = q[0], q[1:]
		}
		a.mu.Unlock()

		if status != 0 {
			writeError(w, status, "injected failure")
			return
		}
		fn(w, r)
	})
}

// SetExec replaces the command executor.
func (a *API) SetExec(fn ExecFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.exec = fn
}

// FailNext makes the next request to endpoint fail with status. Calls
// queue up.
func (a *API) FailNext(endpoint string, status int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failures[endpoint] = append(a.failures[endpoint], status)
}

// Calls returns how many requests endpoint has received, failed ones
// included.
func (a *API) Calls(endpoint string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[endpoint]
}

// TotalCalls returns the number of requests across all endpoints.
func (a *API) TotalCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, c := range a.calls {
		n += c
	}
	return n
}

// Sandbox returns a snapshot of a sandbox.
func (a *API) Sandbox(id string) (daytona.Sandbox, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fs, ok := a.sandboxes[id]
	if !ok {
		return daytona.Sandbox{}, false
	}
	return fs.sb, true
}

// Sandboxes returns snapshots of all sandboxes, sorted by id.
func (a *API) Sandboxes() []daytona.Sandbox {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]daytona.Sandbox, 0, len(a.sandboxes))
	for _, fs := range a.sandboxes {
		out = append(out, fs.sb)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetState forces a sandbox into state, as the service's own auto-stop
// would.
func (a *API) SetState(id string, state daytona.SandboxState) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if fs, ok := a.sandboxes[id]; ok {
		fs.sb.State = state
	}
}

// Remove deletes a sandbox behind the client's back.
func (a *API) Remove(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.sandboxes, id)
}

// File returns the content of a file in a sandbox.
func (a *API) File(id, path string) ([]byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fs, ok := a.sandboxes[id]
	if !ok {
		return nil, false
	}
	data, ok := fs.files[path]
	return data, ok
}

// SessionCommands returns every command sent to a session, in order.
func (a *API) SessionCommands() []SessionCommand {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]SessionCommand(nil), a.sessions...)
}

func (a *API) handleCreate(w http.ResponseWriter, r *http.Request) {
	var params daytona.CreateSandboxParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}

	now := time.Now().UTC().Format(time.RFC3339)
	sb := daytona.Sandbox{
		ID:                 uuid.NewString(),
		Name:               params.Name,
		State:              daytona.StateStarted,
		Target:             params.Target,
		Env:                params.Env,
		Labels:             params.Labels,
		AutoStopInterval:   params.AutoStopInterval,
		AutoDeleteInterval: params.AutoDeleteInterval,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if sb.Name == "" {
		sb.Name = sb.ID
	}
	if sb.Target == "" {
		sb.Target = "us"
	}

	a.mu.Lock()
	for _, existing := range a.sandboxes {
		if existing.sb.Name == sb.Name {
			a.mu.Unlock()
			writeError(w, http.StatusConflict, "sandbox with name "+sb.Name+" already exists")
			return
		}
	}
	fs := &fakeSandbox{
		sb:        sb,
		files:     make(map[string][]byte),
		sessions:  make(map[string]bool),
		pollsLeft: a.provisioningPolls,
	}
	if fs.pollsLeft > 0 {
		fs.sb.State = daytona.StateCreating
	}
	a.sandboxes[sb.ID] = fs
	snapshot := fs.sb
	a.mu.Unlock()

	writeJSON(w, http.StatusOK, snapshot)
}

func (a *API) handleGet(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	fs, ok := a.sandboxes[r.PathValue("id")]
	if !ok {
		a.mu.Unlock()
		writeError(w, http.StatusNotFound, "sandbox not found")
		return
	}
	if fs.pollsLeft > 0 {
		fs.pollsLeft--
		if fs.pollsLeft == 0 {
			fs.sb.State = daytona.StateStarted
		}
	}
	snapshot := fs.sb
	a.mu.Unlock()

	writeJSON(w, http.StatusOK, snapshot)
}

func (a *API) handleDelete(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	_, ok := a.sandboxes[r.PathValue("id")]
	delete(a.sandboxes, r.PathValue("id"))
	a.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "sandbox not found")
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (a *API) handleStart(w http.ResponseWriter, r *http.Request) {
	a.setTransition(w, r, daytona.StateStarted)
}

func (a *API) handleStop(w http.ResponseWriter, r *http.Request) {
	a.setTransition(w, r, daytona.StateStopped)
}

func (a *API) setTransition(w http.ResponseWriter, r *http.Request, state daytona.SandboxState) {
	a.mu.Lock()
	fs, ok := a.sandboxes[r.PathValue("id")]
	if !ok {
		a.mu.Unlock()
		writeError(w, http.StatusNotFound, "sandbox not found")
		return
	}
	fs.sb.State = state
	fs.sb.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	snapshot := fs.sb
	a.mu.Unlock()

	writeJSON(w, http.StatusOK, snapshot)
}

// toolbox resolves the sandbox for toolbox endpoints and rejects requests
// to sandboxes that are not started.
func (a *API) toolbox(fn func(http.ResponseWriter, *http.Request, *fakeSandbox)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a.mu.Lock()
		fs, ok := a.sandboxes[r.PathValue("id")]
		var state daytona.SandboxState
		if ok {
			state = fs.sb.State
		}
		a.mu.Unlock()

		if !ok {
			writeError(w, http.StatusNotFound, "sandbox not found")
			return
		}
		if state != daytona.StateStarted {
			writeError(w, http.StatusBadRequest, "sandbox is not started (state "+string(state)+")")
			return
		}
		fn(w, r, fs)
	}
}

func (a *API) handleExecute(w http.ResponseWriter, r *http.Request, fs *fakeSandbox) {
	var req daytona.ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}

	a.mu.Lock()
	exec := a.exec
	a.mu.Unlock()

	resp, err := exec(fs.sb.ID, req)
	if errors.Is(err, ErrTimeout) {
		writeError(w, http.StatusRequestTimeout, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleUpload(w http.ResponseWriter, r *http.Request, fs *fakeSandbox) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required: "+err.Error())
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	a.mu.Lock()
	fs.files[path] = data
	a.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (a *API) handleDownload(w http.ResponseWriter, r *http.Request, fs *fakeSandbox) {
	a.mu.Lock()
	data, ok := fs.files[r.URL.Query().Get("path")]
	a.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (a *API) handleDeleteFile(w http.ResponseWriter, r *http.Request, fs *fakeSandbox) {
	path := r.URL.Query().Get("path")
	a.mu.Lock()
	_, ok := fs.files[path]
	delete(fs.files, path)
	a.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (a *API) handleCreateSession(w http.ResponseWriter, r *http.Request, fs *fakeSandbox) {
	var req daytona.CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "sessionId is required")
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if fs.sessions[req.SessionID] {
		writeError(w, http.StatusConflict, "session already exists")
		return
	}
	fs.sessions[req.SessionID] = true
	w.WriteHeader(http.StatusCreated)
}

func (a *API) handleSessionExec(w http.ResponseWriter, r *http.Request, fs *fakeSandbox) {
	sid := r.PathValue("sid")
	var req daytona.SessionExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}

	a.mu.Lock()
	exists := fs.sessions[sid]
	exec := a.exec
	a.mu.Unlock()
	if !exists {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	cmd := SessionCommand{
		SandboxID: fs.sb.ID,
		SessionID: sid,
		Command:   req.Command,
		RunAsync:  req.RunAsync,
		CmdID:     uuid.NewString(),
	}
	a.mu.Lock()
	a.sessions = append(a.sessions, cmd)
	a.mu.Unlock()

	resp := daytona.SessionExecuteResponse{CmdID: cmd.CmdID}
	if !req.RunAsync {
		out, err := exec(fs.sb.ID, daytona.ExecuteRequest{Command: req.Command})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		code := out.ExitCode
		resp.Output = out.Result
		resp.ExitCode = &code
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleDeleteSession(w http.ResponseWriter, r *http.Request, fs *fakeSandbox) {
	sid := r.PathValue("sid")
	a.mu.Lock()
	exists := fs.sessions[sid]
	delete(fs.sessions, sid)
	a.mu.Unlock()

	if !exists {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Server runs an API on an httptest server.
type Server struct {
	*API
	*httptest.Server
}

// NewServer starts a fake Daytona API. Callers must Close it.
func NewServer(opts ...Option) *Server {
	api := NewAPI(opts...)
	return &Server{API: api, Server: httptest.NewServer(api)}
}

// NewClient returns a client pointed at the server using its API key.
func (s *Server) NewClient() (*daytona.Client, error) {
	return daytona.NewClient(daytona.Config{
		APIKey:     s.apiKey,
		APIURL:     s.URL,
		HTTPClient: s.Server.Client(),
	})
}

var shellPayload = regexp.MustCompile(`echo '([A-Za-z0-9+/=]*)' \| base64 -d \| sh`)

// DecodeShellCommand recovers the user command from a command built by
// daytona.ShellCommand. Other commands are returned unchanged.
func DecodeShellCommand(cmd string) string {
	m := shellPayload.FindStringSubmatch(cmd)
	if m == nil {
		return cmd
	}
	decoded, err := base64.StdEncoding.DecodeString(m[1])
	if err != nil {
		return cmd
	}
	return string(decoded)
}

// DefaultExec understands "echo ..." and "exit N"; any other command
// succeeds with no output.
func DefaultExec(_ string, req daytona.ExecuteRequest) (daytona.ExecuteResponse, error) {
	cmd := strings.TrimSpace(DecodeShellCommand(req.Command))

	switch {
	case cmd == "echo":
		return daytona.ExecuteResponse{Result: "\n"}, nil
	case strings.HasPrefix(cmd, "echo "):
		return daytona.ExecuteResponse{Result: strings.TrimPrefix(cmd, "echo ") + "\n"}, nil
	case strings.HasPrefix(cmd, "exit "):
		code := 0
		for _, c := range strings.TrimPrefix(cmd, "exit ") {
			if c < '0' || c > '9' {
				break
			}
			code = code*10 + int(c-'0')
		}
		return daytona.ExecuteResponse{ExitCode: code}, nil
	}
	return daytona.ExecuteResponse{}, nil
}

type errorBody struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	Error      string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{StatusCode: status, Message: msg, Error: http.StatusText(status)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
