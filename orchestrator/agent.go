package orchestrator

import (
	"sync"
	"time"

	"enhanceswarm/backlog"
	"enhanceswarm/log"
	"enhanceswarm/runner"
)

// Role describes what kind of work an agent is assigned.
type Role string

const (
	RolePlanner  Role = "planner"
	RoleBackend  Role = "backend"
	RoleFrontend Role = "frontend"
	RoleQA       Role = "qa"
	RoleGeneric  Role = "generic"
)

// ParseRole maps a free-form role string onto a known role, defaulting to generic.
func ParseRole(s string) Role {
	switch Role(s) {
	case RolePlanner, RoleBackend, RoleFrontend, RoleQA:
		return Role(s)
	default:
		return RoleGeneric
	}
}

// Status is an agent's position in its lifecycle. Transitions only move
// forward; the four right-hand states are terminal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether no further transition can leave this status.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimedOut, StatusCancelled:
		return true
	}
	return false
}

// Workspace is an isolated filesystem work area exclusively owned by one
// agent. The version-control mechanics behind it live outside the core.
type Workspace interface {
	// Path returns the work area checkout path.
	Path() string
	// BranchName returns the branch backing the work area.
	BranchName() string
	// Create materializes the work area. Safe to call again after a failure.
	Create() error
	// Setup runs configured setup steps inside the work area.
	Setup() error
	// Release reclaims the work area and its branch. Idempotent.
	Release() error
}

// Agent is one spawned worker. The orchestrator owns the collection of agents
// for a run; the monitor and cleanup manager get status-only write access.
type Agent struct {
	ID   string
	Role Role
	Item backlog.WorkItem

	// MarkerPath is the completion marker checked by the monitor. Unique per
	// agent, never reused.
	MarkerPath string
	// OutputPath is the file the agent's pty output is tee'd into.
	OutputPath string
	// ControlPath is where control intents for this agent are recorded.
	ControlPath string

	mu          sync.Mutex
	status      Status
	workspace   Workspace
	handle      runner.Handle
	startedAt   time.Time
	completedAt time.Time
	reason      string
	done        chan struct{}
}

// NewAgent creates a pending agent for the given work item.
func NewAgent(id string, role Role, item backlog.WorkItem, markerPath, outputPath, controlPath string) *Agent {
	return &Agent{
		ID:          id,
		Role:        role,
		Item:        item,
		MarkerPath:  markerPath,
		OutputPath:  outputPath,
		ControlPath: controlPath,
		status:      StatusPending,
		done:        make(chan struct{}),
	}
}

// Status returns the agent's current lifecycle status.
func (a *Agent) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// StartedAt returns when the agent's process was spawned, zero if never started.
func (a *Agent) StartedAt() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.startedAt
}

// CompletedAt returns when the agent reached a terminal status.
func (a *Agent) CompletedAt() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.completedAt
}

// Reason returns the failure reason for failed agents.
func (a *Agent) Reason() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reason
}

// Handle returns the process handle, nil until the agent is running.
func (a *Agent) Handle() runner.Handle {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.handle
}

// SetWorkspace records the agent's allocated work area.
func (a *Agent) SetWorkspace(ws Workspace) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.workspace = ws
}

// Workspace returns the agent's work area, nil if allocation never happened.
func (a *Agent) Workspace() Workspace {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.workspace
}

// Done is closed once the agent reaches a terminal status.
func (a *Agent) Done() <-chan struct{} {
	return a.done
}

// MarkRunning transitions pending->running on successful process spawn.
func (a *Agent) MarkRunning(h runner.Handle) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.status != StatusPending {
		log.WarningLog.Printf("agent %s: invalid transition %s -> %s", a.ID, a.status, StatusRunning)
		return false
	}
	a.status = StatusRunning
	a.handle = h
	a.startedAt = time.Now()
	return true
}

// MarkCompleted transitions running->completed.
func (a *Agent) MarkCompleted() bool {
	return a.terminate(StatusCompleted, "", false)
}

// MarkFailed transitions to failed. Allowed from pending (spawn failure) and running.
func (a *Agent) MarkFailed(reason string) bool {
	return a.terminate(StatusFailed, reason, true)
}

// MarkTimedOut transitions running->timed_out.
func (a *Agent) MarkTimedOut() bool {
	return a.terminate(StatusTimedOut, "", false)
}

// MarkCancelled transitions to cancelled. Allowed from pending (never started)
// and running (shutdown while in flight).
func (a *Agent) MarkCancelled() bool {
	return a.terminate(StatusCancelled, "", true)
}

// terminate applies a terminal transition. fromPending permits the transition
// directly out of pending; otherwise the agent must be running.
func (a *Agent) terminate(to Status, reason string, fromPending bool) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	ok := a.status == StatusRunning || (fromPending && a.status == StatusPending)
	if !ok {
		if !a.status.IsTerminal() {
			log.WarningLog.Printf("agent %s: invalid transition %s -> %s", a.ID, a.status, to)
		}
		return false
	}

	a.status = to
	a.reason = reason
	a.completedAt = time.Now()
	close(a.done)
	return true
}
