package orchestrator

import (
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"enhanceswarm/backlog"
)

// fakeWorkspace is a scriptable workspace for cleanup and orchestrator tests.
type fakeWorkspace struct {
	mu         sync.Mutex
	path       string
	branch     string
	createErr  error
	setupErr   error
	releaseErr error
	creates    int
	releases   int
}

func (w *fakeWorkspace) Path() string       { return w.path }
func (w *fakeWorkspace) BranchName() string { return w.branch }

func (w *fakeWorkspace) Create() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.creates++
	return w.createErr
}

func (w *fakeWorkspace) Setup() error {
	return w.setupErr
}

func (w *fakeWorkspace) Release() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.releases++
	return w.releaseErr
}

func (w *fakeWorkspace) releaseCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.releases
}

func newCleanupFixture(t *testing.T) (Layout, *Agent, *fakeWorkspace) {
	t.Helper()
	layout := NewLayout(t.TempDir())
	require.NoError(t, layout.EnsureDirs())

	id := "generic-55556666"
	agent := NewAgent(id, RoleGeneric, backlog.WorkItem{ID: "task-9"},
		layout.MarkerPath(id), layout.OutputPath(id), layout.ControlPath(id))
	ws := &fakeWorkspace{path: "/tmp/wt/" + id, branch: "enhance-swarm/" + id}
	agent.SetWorkspace(ws)
	return layout, agent, ws
}

func TestCleanupReclaimRemovesArtifacts(t *testing.T) {
	layout, agent, ws := newCleanupFixture(t)

	require.NoError(t, os.WriteFile(agent.MarkerPath, []byte("done"), 0644))
	require.NoError(t, os.WriteFile(agent.ControlPath, []byte("{}"), 0644))
	require.NoError(t, os.WriteFile(layout.StatusPath(agent.ID), []byte("{}"), 0644))

	report := NewCleanupManager(layout).Reclaim([]*Agent{agent})

	assert.True(t, report.OK())
	assert.Equal(t, 1, ws.releaseCount())
	assert.NoFileExists(t, agent.MarkerPath)
	assert.NoFileExists(t, agent.ControlPath)
	assert.NoFileExists(t, layout.StatusPath(agent.ID))
}

func TestCleanupReclaimIsIdempotent(t *testing.T) {
	layout, agent, ws := newCleanupFixture(t)
	manager := NewCleanupManager(layout)

	first := manager.Reclaim([]*Agent{agent})
	second := manager.Reclaim([]*Agent{agent})

	assert.True(t, first.OK())
	assert.True(t, second.OK(), "already-gone resources count as success")
	assert.Equal(t, 2, ws.releaseCount(), "release is delegated and must itself be idempotent")
}

func TestCleanupReclaimContinuesPastFailures(t *testing.T) {
	layout, failing, failingWS := newCleanupFixture(t)
	failingWS.releaseErr = errors.New("worktree is busy")

	okID := "qa-77778888"
	ok := NewAgent(okID, RoleQA, backlog.WorkItem{ID: "task-10"},
		layout.MarkerPath(okID), layout.OutputPath(okID), layout.ControlPath(okID))
	okWS := &fakeWorkspace{}
	ok.SetWorkspace(okWS)

	report := NewCleanupManager(layout).Reclaim([]*Agent{failing, ok})

	assert.False(t, report.OK())
	require.Len(t, report.Errors(), 1)
	assert.Contains(t, report.Errors()[0], "worktree is busy")
	assert.Equal(t, 1, okWS.releaseCount(), "later agents are still reclaimed")
}

func TestCleanupReclaimWithoutWorkspace(t *testing.T) {
	layout := NewLayout(t.TempDir())
	require.NoError(t, layout.EnsureDirs())

	id := "planner-99990000"
	agent := NewAgent(id, RolePlanner, backlog.WorkItem{ID: "task-11"},
		layout.MarkerPath(id), layout.OutputPath(id), layout.ControlPath(id))

	report := NewCleanupManager(layout).Reclaim([]*Agent{agent})
	assert.True(t, report.OK(), "an agent that never got a workspace still reclaims cleanly")
}

func TestPurgeArtifacts(t *testing.T) {
	layout := NewLayout(t.TempDir())
	require.NoError(t, layout.EnsureDirs())

	require.NoError(t, os.WriteFile(layout.MarkerPath("a"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(layout.ControlPath("a"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(layout.StatusPath("a"), []byte("x"), 0644))

	require.NoError(t, NewCleanupManager(layout).PurgeArtifacts())

	assert.NoFileExists(t, layout.MarkerPath("a"))
	assert.NoFileExists(t, layout.ControlPath("a"))
	assert.NoFileExists(t, layout.StatusPath("a"))

	// A second purge over empty directories is a no-op.
	require.NoError(t, NewCleanupManager(layout).PurgeArtifacts())
}
