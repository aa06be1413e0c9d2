package daytona

// SandboxState is the lifecycle state reported by the Daytona API.
type SandboxState string

const (
	StateCreating   SandboxState = "creating"
	StateStarting   SandboxState = "starting"
	StateStarted    SandboxState = "started"
	StateStopping   SandboxState = "stopping"
	StateStopped    SandboxState = "stopped"
	StateArchived   SandboxState = "archived"
	StateDestroying SandboxState = "destroying"
	StateDestroyed  SandboxState = "destroyed"
	StateError      SandboxState = "error"
)

// Sandbox is the control-plane view of a remote sandbox.
type Sandbox struct {
	ID                 string            `json:"id"`
	Name               string            `json:"name,omitempty"`
	State              SandboxState      `json:"state"`
	Target             string            `json:"target,omitempty"`
	Env                map[string]string `json:"env,omitempty"`
	Labels             map[string]string `json:"labels,omitempty"`
	AutoStopInterval   *int              `json:"autoStopInterval,omitempty"`
	AutoDeleteInterval *int              `json:"autoDeleteInterval,omitempty"`
	ErrorReason        string            `json:"errorReason,omitempty"`
	CreatedAt          string            `json:"createdAt,omitempty"`
	UpdatedAt          string            `json:"updatedAt,omitempty"`
}

// CreateSandboxParams is the body of POST /sandbox. Nil intervals leave the
// service defaults in place; zero disables auto-stop (or deletes right
// after stop, for AutoDeleteInterval).
type CreateSandboxParams struct {
	Name               string            `json:"name,omitempty"`
	Env                map[string]string `json:"env,omitempty"`
	Labels             map[string]string `json:"labels,omitempty"`
	AutoStopInterval   *int              `json:"autoStopInterval,omitempty"`
	AutoDeleteInterval *int              `json:"autoDeleteInterval,omitempty"`
	Target             string            `json:"target,omitempty"`
}

// ExecuteRequest is the body of the toolbox process/execute endpoint.
// Timeout is in seconds; zero means no limit.
type ExecuteRequest struct {
	Command string `json:"command"`
	Cwd     string `json:"cwd,omitempty"`
	Timeout int    `json:"timeout,omitempty"`
}

// ExecuteResponse carries the combined output of a finished command.
type ExecuteResponse struct {
	ExitCode int    `json:"exitCode"`
	Result   string `json:"result"`
}

// CreateSessionRequest is the body of the toolbox process/session endpoint.
type CreateSessionRequest struct {
	SessionID string `json:"sessionId"`
}

// SessionExecuteRequest runs a command inside a session. With RunAsync the
// call returns as soon as the command has been started.
type SessionExecuteRequest struct {
	Command  string `json:"command"`
	RunAsync bool   `json:"runAsync"`
}

// SessionExecuteResponse identifies the command started in a session.
// ExitCode is nil while the command is still running.
type SessionExecuteResponse struct {
	CmdID    string `json:"cmdId"`
	Output   string `json:"output,omitempty"`
	ExitCode *int   `json:"exitCode,omitempty"`
}
