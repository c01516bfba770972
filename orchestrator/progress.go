package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"enhanceswarm/log"
)

// AgentProgress is the persisted per-agent progress snapshot, written to
// status/<agentId>.json with last-writer-wins semantics.
type AgentProgress struct {
	AgentID   string    `json:"agent_id"`
	Percent   int       `json:"percent"`
	Status    Status    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProgressTracker aggregates per-agent progress into a shared view. Writers
// race benignly: the last write wins, readers get a consistent copy.
type ProgressTracker struct {
	mu        sync.RWMutex
	statusDir string
	progress  map[string]AgentProgress
}

// NewProgressTracker returns a tracker persisting snapshots into statusDir.
func NewProgressTracker(statusDir string) *ProgressTracker {
	return &ProgressTracker{
		statusDir: statusDir,
		progress:  make(map[string]AgentProgress),
	}
}

// Set records the percent for agentID and persists the snapshot. Percent is
// clamped to [0, 100].
func (t *ProgressTracker) Set(agentID string, percent int, status Status) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	t.mu.Lock()
	// A trailing progress report must not drag an already-terminal agent back
	// to running.
	if existing := t.progress[agentID]; existing.Status.IsTerminal() {
		status = existing.Status
		if existing.Status == StatusCompleted {
			percent = 100
		}
	}
	snapshot := AgentProgress{
		AgentID:   agentID,
		Percent:   percent,
		Status:    status,
		UpdatedAt: time.Now(),
	}
	t.progress[agentID] = snapshot
	t.mu.Unlock()

	if err := t.persist(snapshot); err != nil {
		log.WarningLog.Printf("failed to persist progress for %s: %v", agentID, err)
	}
}

// MarkStatus updates an agent's lifecycle status in the shared view without
// disturbing its reported percent. Completion forces the percent to 100.
func (t *ProgressTracker) MarkStatus(agentID string, status Status) {
	t.mu.Lock()
	snapshot := t.progress[agentID]
	snapshot.AgentID = agentID
	snapshot.Status = status
	if status == StatusCompleted {
		snapshot.Percent = 100
	}
	snapshot.UpdatedAt = time.Now()
	t.progress[agentID] = snapshot
	t.mu.Unlock()

	if err := t.persist(snapshot); err != nil {
		log.WarningLog.Printf("failed to persist progress for %s: %v", agentID, err)
	}
}

// Snapshot returns a copy of the current per-agent progress map.
func (t *ProgressTracker) Snapshot() map[string]AgentProgress {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]AgentProgress, len(t.progress))
	for id, p := range t.progress {
		out[id] = p
	}
	return out
}

// persist writes the snapshot atomically so concurrent readers never see a
// torn file.
func (t *ProgressTracker) persist(p AgentProgress) error {
	if t.statusDir == "" {
		return nil
	}
	if err := os.MkdirAll(t.statusDir, 0755); err != nil {
		return fmt.Errorf("failed to create status directory: %w", err)
	}

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal progress: %w", err)
	}

	path := filepath.Join(t.statusDir, p.AgentID+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write progress snapshot: %w", err)
	}
	return os.Rename(tmp, path)
}

// ReadProgressDir loads every persisted progress snapshot from statusDir.
// Used by the status command while a run is live in another process.
func ReadProgressDir(statusDir string) ([]AgentProgress, error) {
	entries, err := os.ReadDir(statusDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read status directory: %w", err)
	}

	var snapshots []AgentProgress
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(statusDir, entry.Name()))
		if err != nil {
			log.WarningLog.Printf("failed to read progress snapshot %s: %v", entry.Name(), err)
			continue
		}
		var p AgentProgress
		if err := json.Unmarshal(data, &p); err != nil {
			log.WarningLog.Printf("failed to parse progress snapshot %s: %v", entry.Name(), err)
			continue
		}
		snapshots = append(snapshots, p)
	}
	return snapshots, nil
}
