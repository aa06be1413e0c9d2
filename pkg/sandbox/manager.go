// Package sandbox owns the single remote sandbox of a plugin instance.
//
// The Manager creates the sandbox lazily on first use, waits for it to be
// ready, starts it again when the service has stopped it, re-creates it
// when the service has deleted it, and applies the idle stop/delete policy.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/daytonaio/daytona-adk-plugin/pkg/daytona"
	"github.com/daytonaio/daytona-adk-plugin/pkg/debug"
	"github.com/daytonaio/daytona-adk-plugin/pkg/observability"
)

const (
	defaultReadyTimeout = 60 * time.Second
	defaultPollInterval = 500 * time.Millisecond
)

// ErrProvisioning wraps every failure to obtain a usable sandbox.
var ErrProvisioning = errors.New("sandbox provisioning failed")

// Remote is the part of the Daytona API the manager drives.
// *daytona.Client satisfies it.
type Remote interface {
	CreateSandbox(ctx context.Context, params daytona.CreateSandboxParams) (*daytona.Sandbox, error)
	GetSandbox(ctx context.Context, id string) (*daytona.Sandbox, error)
	StartSandbox(ctx context.Context, id string) (*daytona.Sandbox, error)
	StopSandbox(ctx context.Context, id string) (*daytona.Sandbox, error)
	DeleteSandbox(ctx context.Context, id string) error
}

var _ Remote = (*daytona.Client)(nil)

// State is the locally tracked lifecycle state of the sandbox.
type State int

const (
	StateAbsent State = iota
	StateStarting
	StateRunning
	StateStopped
	StateDeleted
)

func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Handle is a snapshot of the managed sandbox.
type Handle struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	State State  `json:"-"`
}

// Options configure the sandbox the manager creates.
type Options struct {
	Name   string
	Env    map[string]string
	Labels map[string]string
	Target string

	// AutoStopInterval is the idle time in minutes before the sandbox is
	// stopped. Nil keeps the service default, 0 never stops.
	AutoStopInterval *int

	// AutoDeleteInterval is the time in minutes a stopped sandbox is kept.
	// Nil keeps the service default, negative never deletes, 0 deletes
	// right after stop.
	AutoDeleteInterval *int

	ReadyTimeout time.Duration
	PollInterval time.Duration

	Logger *slog.Logger

	// Now replaces time.Now in tests.
	Now func() time.Time
}

// Manager owns one remote sandbox. It is safe for concurrent use. mu is
// held across remote lifecycle calls so that concurrent first uses create
// exactly one sandbox. stateMu guards the fields read by Current and
// Touch, which never wait on a remote call.
type Manager struct {
	remote Remote
	opts   Options
	logger *slog.Logger
	now    func() time.Time

	mu sync.Mutex

	// handle and stoppedAt are written with both locks held.
	stateMu      sync.RWMutex
	handle       Handle
	lastActivity time.Time
	stoppedAt    time.Time
}

// NewManager creates a manager. No remote call is made until Ensure.
func NewManager(remote Remote, opts Options) *Manager {
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = defaultReadyTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		remote: remote,
		opts:   opts,
		logger: logger.With("component", "sandbox"),
		now:    now,
	}
}

// Ensure returns a running sandbox, creating or starting it as needed.
// Failures wrap ErrProvisioning.
func (m *Manager) Ensure(ctx context.Context) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ensureLocked(ctx); err != nil {
		return m.handle, fmt.Errorf("%w: %w", ErrProvisioning, err)
	}
	m.Touch()
	return m.handle, nil
}

func (m *Manager) ensureLocked(ctx context.Context) error {
	switch m.handle.State {
	case StateRunning:
		return nil

	case StateStarting:
		return m.waitReadyLocked(ctx)

	case StateStopped:
		err := m.startLocked(ctx)
		if err == nil || !daytona.IsNotFound(err) {
			return err
		}
		m.logger.Warn("sandbox disappeared while stopped, creating a new one", "sandbox_id", m.handle.ID)
		m.setStateLocked(StateDeleted)
		return m.createLocked(ctx)

	default:
		return m.createLocked(ctx)
	}
}

func (m *Manager) createLocked(ctx context.Context) error {
	sb, err := m.remote.CreateSandbox(ctx, daytona.CreateSandboxParams{
		Name:               m.opts.Name,
		Env:                m.opts.Env,
		Labels:             m.opts.Labels,
		AutoStopInterval:   m.opts.AutoStopInterval,
		AutoDeleteInterval: m.opts.AutoDeleteInterval,
		Target:             m.opts.Target,
	})
	if err != nil {
		observability.SandboxOperationsTotal.WithLabelValues("create", "error").Inc()
		return err
	}
	observability.SandboxOperationsTotal.WithLabelValues("create", "ok").Inc()

	m.setHandleLocked(Handle{ID: sb.ID, Name: sb.Name, State: StateStarting})
	m.logger.Info("sandbox created", "sandbox_id", sb.ID, "name", sb.Name, "state", sb.State)

	if sb.State == daytona.StateStarted {
		m.setStateLocked(StateRunning)
		return nil
	}
	if err := m.waitReadyLocked(ctx); err != nil {
		// A sandbox that never became ready is not reused.
		m.deleteBestEffortLocked()
		return err
	}
	return nil
}

func (m *Manager) startLocked(ctx context.Context) error {
	sb, err := m.remote.StartSandbox(ctx, m.handle.ID)
	if err != nil {
		observability.SandboxOperationsTotal.WithLabelValues("start", "error").Inc()
		return err
	}
	observability.SandboxOperationsTotal.WithLabelValues("start", "ok").Inc()
	m.logger.Info("sandbox started", "sandbox_id", m.handle.ID)

	if sb.State == daytona.StateStarted {
		m.setStateLocked(StateRunning)
		return nil
	}
	m.setStateLocked(StateStarting)
	return m.waitReadyLocked(ctx)
}

// waitReadyLocked polls the sandbox until it is started or the ready
// timeout expires.
func (m *Manager) waitReadyLocked(ctx context.Context) error {
	id := m.handle.ID
	deadline := time.After(m.opts.ReadyTimeout)
	ticker := time.NewTicker(m.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for sandbox %s: %w", id, ctx.Err())
		case <-deadline:
			return fmt.Errorf("timeout waiting for sandbox %s to start (waited %s)", id, m.opts.ReadyTimeout)
		case <-ticker.C:
			sb, err := m.remote.GetSandbox(ctx, id)
			if err != nil {
				if daytona.IsNotFound(err) {
					m.setStateLocked(StateDeleted)
					return fmt.Errorf("sandbox %s was deleted while starting", id)
				}
				debug.Log("sandbox", "waiting for sandbox", "sandbox_id", id, "error", err.Error())
				continue
			}

			switch sb.State {
			case daytona.StateStarted:
				m.setStateLocked(StateRunning)
				return nil
			case daytona.StateError:
				return fmt.Errorf("sandbox %s failed to start: %s", id, sb.ErrorReason)
			default:
				debug.Log("sandbox", "waiting for sandbox", "sandbox_id", id, "state", sb.State)
			}
		}
	}
}

// Touch records activity for the idle policy.
func (m *Manager) Touch() {
	m.stateMu.Lock()
	m.lastActivity = m.now()
	m.stateMu.Unlock()
}

// Current returns the handle and whether a sandbox exists. It does not
// wait for a lifecycle call in progress.
func (m *Manager) Current() (Handle, bool) {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.handle, exists(m.handle.State)
}

// Stop stops a running sandbox.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopLocked(ctx)
}

func (m *Manager) stopLocked(ctx context.Context) error {
	if m.handle.State != StateRunning && m.handle.State != StateStarting {
		return nil
	}
	if _, err := m.remote.StopSandbox(ctx, m.handle.ID); err != nil {
		if daytona.IsNotFound(err) {
			m.setStateLocked(StateDeleted)
			return nil
		}
		observability.SandboxOperationsTotal.WithLabelValues("stop", "error").Inc()
		return err
	}
	observability.SandboxOperationsTotal.WithLabelValues("stop", "ok").Inc()
	m.setStateLocked(StateStopped)
	m.logger.Info("sandbox stopped", "sandbox_id", m.handle.ID)
	return nil
}

// Delete deletes the sandbox. The next Ensure creates a new one.
func (m *Manager) Delete(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteLocked(ctx)
}

func (m *Manager) deleteLocked(ctx context.Context) error {
	if !exists(m.handle.State) {
		return nil
	}
	if err := m.remote.DeleteSandbox(ctx, m.handle.ID); err != nil {
		observability.SandboxOperationsTotal.WithLabelValues("delete", "error").Inc()
		return err
	}
	observability.SandboxOperationsTotal.WithLabelValues("delete", "ok").Inc()
	m.setStateLocked(StateDeleted)
	m.logger.Info("sandbox deleted", "sandbox_id", m.handle.ID)
	return nil
}

func (m *Manager) deleteBestEffortLocked() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := m.deleteLocked(ctx); err != nil {
		m.logger.Warn("failed to delete sandbox", "sandbox_id", m.handle.ID, "error", err.Error())
	}
}

// ApplyIdlePolicy stops the sandbox once it has been idle for
// AutoStopInterval minutes and deletes it once it has been stopped for
// AutoDeleteInterval minutes. Remote failures are logged, never returned.
func (m *Manager) ApplyIdlePolicy(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()

	if m.handle.State == StateRunning {
		interval := m.opts.AutoStopInterval
		if interval == nil || *interval <= 0 {
			return
		}
		m.stateMu.RLock()
		idle := now.Sub(m.lastActivity)
		m.stateMu.RUnlock()
		if idle < minutes(*interval) {
			return
		}
		debug.Log("sandbox", "idle limit reached", "sandbox_id", m.handle.ID, "idle", idle)
		if err := m.stopLocked(ctx); err != nil {
			m.logger.Warn("failed to stop idle sandbox", "sandbox_id", m.handle.ID, "error", err.Error())
			return
		}
	}

	if m.handle.State == StateStopped {
		interval := m.opts.AutoDeleteInterval
		if interval == nil || *interval < 0 {
			return
		}
		if now.Sub(m.stoppedAt) < minutes(*interval) {
			return
		}
		if err := m.deleteLocked(ctx); err != nil {
			m.logger.Warn("failed to delete stopped sandbox", "sandbox_id", m.handle.ID, "error", err.Error())
		}
	}
}

// Sync refreshes the local state from the service.
func (m *Manager) Sync(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.syncLocked(ctx)
}

func (m *Manager) syncLocked(ctx context.Context) error {
	if !exists(m.handle.State) {
		return nil
	}

	sb, err := m.remote.GetSandbox(ctx, m.handle.ID)
	if err != nil {
		if daytona.IsNotFound(err) {
			m.logger.Info("sandbox no longer exists", "sandbox_id", m.handle.ID)
			m.setStateLocked(StateDeleted)
			return nil
		}
		return err
	}

	switch sb.State {
	case daytona.StateStarted:
		m.setStateLocked(StateRunning)
	case daytona.StateStopped, daytona.StateStopping, daytona.StateArchived:
		m.setStateLocked(StateStopped)
	case daytona.StateCreating, daytona.StateStarting:
		m.setStateLocked(StateStarting)
	case daytona.StateDestroyed, daytona.StateDestroying:
		m.setStateLocked(StateDeleted)
	case daytona.StateError:
		return fmt.Errorf("sandbox %s is in error state: %s", m.handle.ID, sb.ErrorReason)
	}
	return nil
}

// Revalidate checks the sandbox after a failed toolbox call. When the
// service has stopped or deleted it, the sandbox is started or re-created
// and recovered is true. A sandbox that is still running is left alone.
func (m *Manager) Revalidate(ctx context.Context) (h Handle, recovered bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !exists(m.handle.State) {
		return m.handle, false, nil
	}
	if err := m.syncLocked(ctx); err != nil {
		return m.handle, false, err
	}
	if m.handle.State == StateRunning {
		return m.handle, false, nil
	}
	if err := m.ensureLocked(ctx); err != nil {
		return m.handle, false, fmt.Errorf("%w: %w", ErrProvisioning, err)
	}
	m.Touch()
	return m.handle, true, nil
}

// Watch syncs the sandbox state and applies the idle policy every interval
// until ctx is done.
func (m *Manager) Watch(ctx context.Context, interval time.Duration) {
	m.logger.Info("sandbox watcher started", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("sandbox watcher stopped")
			return
		case <-ticker.C:
			if err := m.Sync(ctx); err != nil {
				m.logger.Warn("sandbox sync failed", "error", err.Error())
			}
			m.ApplyIdlePolicy(ctx)
		}
	}
}

// Close deletes the sandbox. Failures are logged.
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.deleteLocked(ctx); err != nil {
		m.logger.Warn("failed to delete sandbox on close", "sandbox_id", m.handle.ID, "error", err.Error())
	}
}

// setStateLocked moves the handle to state and keeps the running gauge and
// stop timestamp in line.
func (m *Manager) setStateLocked(state State) {
	prev := m.handle.State
	if prev == state {
		return
	}
	if prev == StateRunning {
		observability.SandboxesRunning.Dec()
	}
	if state == StateRunning {
		observability.SandboxesRunning.Inc()
	}
	m.stateMu.Lock()
	if state == StateStopped {
		m.stoppedAt = m.now()
	}
	m.handle.State = state
	m.stateMu.Unlock()
	debug.Log("sandbox", "state change", "sandbox_id", m.handle.ID, "from", prev, "to", state)
}

func (m *Manager) setHandleLocked(h Handle) {
	m.stateMu.Lock()
	m.handle = h
	m.stateMu.Unlock()
}

func exists(s State) bool {
	return s != StateAbsent && s != StateDeleted
}

func minutes(n int) time.Duration {
	return time.Duration(n) * time.Minute
}
