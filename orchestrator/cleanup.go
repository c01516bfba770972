package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"

	"enhanceswarm/log"
)

// CleanupEntry records the outcome of reclaiming one agent's resources.
type CleanupEntry struct {
	AgentID string `json:"agent_id"`
	Error   string `json:"error,omitempty"`
}

// CleanupReport aggregates per-agent cleanup outcomes. Partial failure is
// recorded here, never raised as a run failure.
type CleanupReport struct {
	Entries []CleanupEntry `json:"entries"`
}

// OK reports whether every resource was reclaimed.
func (r CleanupReport) OK() bool {
	for _, e := range r.Entries {
		if e.Error != "" {
			return false
		}
	}
	return true
}

// Errors returns the error strings of failed entries.
func (r CleanupReport) Errors() []string {
	var errs []string
	for _, e := range r.Entries {
		if e.Error != "" {
			errs = append(errs, fmt.Sprintf("%s: %s", e.AgentID, e.Error))
		}
	}
	return errs
}

// CleanupManager reclaims worktrees, branches, markers and control intents.
// Reclaiming is idempotent: resources that are already gone count as success,
// and a second pass over the same agents converges to the same end state.
type CleanupManager struct {
	layout Layout
}

// NewCleanupManager returns a manager for the given layout.
func NewCleanupManager(layout Layout) *CleanupManager {
	return &CleanupManager{layout: layout}
}

// Reclaim releases every agent's resources regardless of status. One agent's
// failure (e.g. a worktree still held open) is recorded and does not abort
// cleanup of the remaining agents.
func (c *CleanupManager) Reclaim(agents []*Agent) CleanupReport {
	var report CleanupReport

	for _, agent := range agents {
		entry := CleanupEntry{AgentID: agent.ID}

		if ws := agent.Workspace(); ws != nil {
			if err := ws.Release(); err != nil {
				entry.Error = err.Error()
				log.WarningLog.Printf("cleanup: failed to release worktree for %s: %v", agent.ID, err)
			}
		}

		for _, path := range []string{agent.MarkerPath, agent.ControlPath, c.layout.StatusPath(agent.ID)} {
			if err := removeIfExists(path); err != nil && entry.Error == "" {
				entry.Error = err.Error()
			}
		}

		report.Entries = append(report.Entries, entry)
	}

	return report
}

// PurgeArtifacts removes leftover markers, control intents and progress
// snapshots, e.g. after a crashed run left no agent records behind. Missing
// files and directories are fine.
func (c *CleanupManager) PurgeArtifacts() error {
	var firstErr error
	for _, dir := range []string{c.layout.CompletedDir(), c.layout.ControlDir(), c.layout.StatusDir()} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if !os.IsNotExist(err) && firstErr == nil {
				firstErr = fmt.Errorf("failed to read %s: %w", dir, err)
			}
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			if err := removeIfExists(filepath.Join(dir, entry.Name())); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// removeIfExists deletes path, treating "already gone" as success. Concurrent
// deleters racing on the same path both succeed.
func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}
