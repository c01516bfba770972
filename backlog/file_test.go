package backlog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTasks = `tasks:
  - id: task-1
    title: add request logging
    role: backend
    state: open
  - id: task-2
    title: polish the settings page
    role: frontend
    description: |
      Align the form controls and fix the dark mode contrast.
    state: open
  - id: task-3
    title: already shipped
    state: done
`

func writeTasks(t *testing.T, content string) *FileProvider {
	t.Helper()
	path := filepath.Join(t.TempDir(), TasksFileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return NewFileProvider(path)
}

func TestFileProviderCapability(t *testing.T) {
	t.Run("available when file parses", func(t *testing.T) {
		provider := writeTasks(t, sampleTasks)
		capab := provider.Capability()
		assert.True(t, capab.Available)
		assert.NotEmpty(t, capab.Source)
	})

	t.Run("unavailable when file is missing", func(t *testing.T) {
		provider := NewFileProvider(filepath.Join(t.TempDir(), TasksFileName))
		assert.False(t, provider.Capability().Available)
	})

	t.Run("unavailable when file is malformed", func(t *testing.T) {
		provider := writeTasks(t, "tasks: [not: valid: yaml}")
		assert.False(t, provider.Capability().Available)
	})
}

func TestFileProviderListWorkItems(t *testing.T) {
	provider := writeTasks(t, sampleTasks)

	open, err := provider.ListWorkItems(StateOpen)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, "task-1", open[0].ID)
	assert.Equal(t, "backend", open[0].Role)
	assert.Contains(t, open[1].Description, "dark mode contrast")

	all, err := provider.ListWorkItems("")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestFileProviderMoveItem(t *testing.T) {
	provider := writeTasks(t, sampleTasks)

	require.NoError(t, provider.MoveItem("task-1", StateInProgress))
	require.NoError(t, provider.MoveItem("task-1", StateDone))

	done, err := provider.ListWorkItems(StateDone)
	require.NoError(t, err)
	assert.Len(t, done, 2)

	open, err := provider.ListWorkItems(StateOpen)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "task-2", open[0].ID)
}

func TestFileProviderMoveItemSurvivesReload(t *testing.T) {
	provider := writeTasks(t, sampleTasks)
	require.NoError(t, provider.MoveItem("task-2", StateFailed))

	// A fresh provider over the same file sees the move.
	reloaded := NewFileProvider(providerPath(provider))
	failed, err := reloaded.ListWorkItems(StateFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "task-2", failed[0].ID)
}

func TestFileProviderMoveUnknownItem(t *testing.T) {
	provider := writeTasks(t, sampleTasks)
	err := provider.MoveItem("task-99", StateDone)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func providerPath(p *FileProvider) string {
	return p.path
}
