package worktree

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"enhanceswarm/log"
)

// TestMain runs before all tests to set up the test environment
func TestMain(m *testing.M) {
	log.Initialize()
	defer log.Close()

	exitCode := m.Run()
	os.Exit(exitCode)
}

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, output)
}

// setupTestRepo creates a git repository with one commit and returns its path.
func setupTestRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	dir := t.TempDir()
	runGit(t, dir, "init")
	runGit(t, dir, "config", "user.email", "test@example.com")
	runGit(t, dir, "config", "user.name", "Test User")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# test\n"), 0644))
	runGit(t, dir, "add", ".")
	runGit(t, dir, "commit", "-m", "initial commit")
	return dir
}

func TestSanitizeBranchName(t *testing.T) {
	assert.Equal(t, "feature-x", sanitizeBranchName("Feature X"))
	assert.Equal(t, "backend-a1b2c3d4", sanitizeBranchName("backend-a1b2c3d4"))
	assert.Equal(t, "weird-name", sanitizeBranchName("--Weird!!   Name??--"))
	assert.Equal(t, "a/b", sanitizeBranchName("a/b"))
}

func TestNewLease(t *testing.T) {
	repo := setupTestRepo(t)
	worktreesDir := filepath.Join(repo, ".enhance-swarm", "worktrees")

	lease, err := NewLease(repo, worktreesDir, "backend-a1b2c3d4", "enhance-swarm/")
	require.NoError(t, err)

	assert.Equal(t, "enhance-swarm/backend-a1b2c3d4", lease.BranchName())
	assert.Equal(t, filepath.Join(worktreesDir, "backend-a1b2c3d4"), lease.Path())
	assert.Equal(t, "backend-a1b2c3d4", lease.AgentID())
	assert.Empty(t, lease.BaseCommitSHA(), "no commit recorded before Create")
}

func TestNewLeaseOutsideRepo(t *testing.T) {
	dir := t.TempDir()
	_, err := NewLease(dir, filepath.Join(dir, "wt"), "a", "p/")
	require.Error(t, err)
}

func TestLeaseLifecycle(t *testing.T) {
	repo := setupTestRepo(t)
	worktreesDir := filepath.Join(repo, ".enhance-swarm", "worktrees")

	lease, err := NewLease(repo, worktreesDir, "qa-11223344", "enhance-swarm/")
	require.NoError(t, err)
	require.NoError(t, lease.Create())

	assert.DirExists(t, lease.Path())
	assert.NotEmpty(t, lease.BaseCommitSHA())
	assert.FileExists(t, filepath.Join(lease.Path(), "README.md"))

	require.NoError(t, lease.Release())
	assert.NoDirExists(t, lease.Path())
}

func TestLeaseCreateIsRetrySafe(t *testing.T) {
	repo := setupTestRepo(t)
	worktreesDir := filepath.Join(repo, ".enhance-swarm", "worktrees")

	lease, err := NewLease(repo, worktreesDir, "retry-1", "enhance-swarm/")
	require.NoError(t, err)
	require.NoError(t, lease.Create())
	// A second Create replaces the stale worktree and branch.
	require.NoError(t, lease.Create())
	assert.DirExists(t, lease.Path())

	require.NoError(t, lease.Release())
}

func TestLeaseReleaseIsIdempotent(t *testing.T) {
	repo := setupTestRepo(t)
	worktreesDir := filepath.Join(repo, ".enhance-swarm", "worktrees")

	lease, err := NewLease(repo, worktreesDir, "rel-1", "enhance-swarm/")
	require.NoError(t, err)
	require.NoError(t, lease.Create())

	require.NoError(t, lease.Release())
	require.NoError(t, lease.Release(), "releasing an already-released lease succeeds")
}

func TestLeaseCreateOnEmptyRepo(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	dir := t.TempDir()
	runGit(t, dir, "init")

	lease, err := NewLease(dir, filepath.Join(dir, "wt"), "empty-1", "enhance-swarm/")
	require.NoError(t, err)

	err = lease.Create()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no commits")
}

func TestLeaseRunSetup(t *testing.T) {
	repo := setupTestRepo(t)
	worktreesDir := filepath.Join(repo, ".enhance-swarm", "worktrees")

	// A gitignored file in the main checkout that agents need.
	require.NoError(t, os.WriteFile(filepath.Join(repo, ".gitignore"), []byte(".env\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(repo, ".env"), []byte("SECRET=1\n"), 0644))
	runGit(t, repo, "add", ".gitignore")
	runGit(t, repo, "commit", "-m", "add gitignore")

	lease, err := NewLease(repo, worktreesDir, "setup-1", "enhance-swarm/")
	require.NoError(t, err)
	require.NoError(t, lease.Create())
	defer lease.Release()

	err = lease.RunSetup(&Setup{
		CopyIgnored: []string{".env"},
		Run:         []string{"touch setup-ran"},
	})
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(lease.Path(), ".env"))
	assert.FileExists(t, filepath.Join(lease.Path(), "setup-ran"))
}

func TestLeaseRunSetupNil(t *testing.T) {
	lease := FromStorage("/repo", "/wt", "a", "b")
	assert.NoError(t, lease.RunSetup(nil))
}

func TestProviderAllocate(t *testing.T) {
	repo := setupTestRepo(t)
	worktreesDir := filepath.Join(repo, ".enhance-swarm", "worktrees")

	provider := NewProvider(repo, worktreesDir, "enhance-swarm/", nil)
	lease, err := provider.Allocate("frontend-99887766")
	require.NoError(t, err)

	assert.Equal(t, "enhance-swarm/frontend-99887766", lease.BranchName())
	require.NoError(t, lease.Create())
	require.NoError(t, lease.Setup())
	require.NoError(t, lease.Release())
}

func TestCleanupAll(t *testing.T) {
	repo := setupTestRepo(t)
	worktreesDir := filepath.Join(repo, ".enhance-swarm", "worktrees")

	provider := NewProvider(repo, worktreesDir, "enhance-swarm/", nil)
	for _, id := range []string{"gc-1", "gc-2"} {
		lease, err := provider.Allocate(id)
		require.NoError(t, err)
		require.NoError(t, lease.Create())
	}

	require.NoError(t, CleanupAll(repo, worktreesDir, "enhance-swarm/"))

	entries, err := os.ReadDir(worktreesDir)
	if err == nil {
		assert.Empty(t, entries)
	}

	// All run branches are gone.
	cmd := exec.Command("git", "branch", "--list", "enhance-swarm/*")
	cmd.Dir = repo
	output, err := cmd.CombinedOutput()
	require.NoError(t, err)
	assert.Empty(t, string(output))
}

func TestFindGitRepoRoot(t *testing.T) {
	repo := setupTestRepo(t)
	nested := filepath.Join(repo, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0755))

	root, err := FindGitRepoRoot(nested)
	require.NoError(t, err)
	assert.Equal(t, repo, root)

	assert.True(t, IsGitRepo(nested))
	assert.False(t, IsGitRepo(string(filepath.Separator)))
}
