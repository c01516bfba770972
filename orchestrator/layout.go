package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// RunDirName is the run-scoped directory created inside the target repository.
const RunDirName = ".enhance-swarm"

// Layout maps out the run-scoped filesystem: worktrees, completion markers,
// progress snapshots, control intents and agent output all live under Root.
type Layout struct {
	Root string
}

// NewLayout returns the layout rooted inside repoPath.
func NewLayout(repoPath string) Layout {
	return Layout{Root: filepath.Join(repoPath, RunDirName)}
}

func (l Layout) WorktreesDir() string { return filepath.Join(l.Root, "worktrees") }
func (l Layout) CompletedDir() string { return filepath.Join(l.Root, "completed") }
func (l Layout) StatusDir() string    { return filepath.Join(l.Root, "status") }
func (l Layout) ControlDir() string   { return filepath.Join(l.Root, "control") }
func (l Layout) OutputDir() string    { return filepath.Join(l.Root, "output") }

// MarkerPath returns the completion marker path for agentID.
func (l Layout) MarkerPath(agentID string) string {
	return filepath.Join(l.CompletedDir(), agentID+"_completed.txt")
}

// StatusPath returns the progress snapshot path for agentID.
func (l Layout) StatusPath(agentID string) string {
	return filepath.Join(l.StatusDir(), agentID+".json")
}

// ControlPath returns the control intent path for agentID.
func (l Layout) ControlPath(agentID string) string {
	return filepath.Join(l.ControlDir(), agentID+".json")
}

// OutputPath returns the output log path for agentID.
func (l Layout) OutputPath(agentID string) string {
	return filepath.Join(l.OutputDir(), agentID+".log")
}

// LockPath returns the run lock file path.
func (l Layout) LockPath() string {
	return filepath.Join(l.Root, "run.lock")
}

// TasksPath returns the backlog file path.
func (l Layout) TasksPath() string {
	return filepath.Join(l.Root, "tasks.yaml")
}

// EnsureDirs creates every run-scoped directory.
func (l Layout) EnsureDirs() error {
	for _, dir := range []string{l.Root, l.WorktreesDir(), l.CompletedDir(), l.StatusDir(), l.ControlDir(), l.OutputDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// RunContext carries the state shared across one run's components: the
// cancellation context, the layout, the retry policy and the agent collection.
// It is passed explicitly; no component keeps ambient state beyond its own
// constructor-injected dependencies.
type RunContext struct {
	Ctx    context.Context
	Layout Layout
	Retry  RetryPolicy
	Agents []*Agent
}
