package worktree

import (
	"fmt"
	"path/filepath"
)

// Lease is an exclusive, uniquely named git worktree allocated to one agent
// for the duration of a run. Exactly one agent owns a lease at a time.
type Lease struct {
	// Path to the repository root
	repoPath string
	// Path to the worktree checkout
	worktreePath string
	// Agent this lease belongs to
	agentID string
	// Branch name for the worktree
	branchName string

	// set after Create()
	baseCommitSHA string
}

// NewLease creates a lease for agentID rooted under worktreesDir.
// The worktree and branch are not materialized until Create is called.
func NewLease(repoPath, worktreesDir, agentID, branchPrefix string) (*Lease, error) {
	absPath, err := filepath.Abs(repoPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve repo path %s: %w", repoPath, err)
	}

	repoRoot, err := FindGitRepoRoot(absPath)
	if err != nil {
		return nil, err
	}

	name := sanitizeBranchName(agentID)
	return &Lease{
		repoPath:     repoRoot,
		agentID:      agentID,
		branchName:   branchPrefix + name,
		worktreePath: filepath.Join(worktreesDir, name),
	}, nil
}

// FromStorage reconstructs a lease from persisted fields, e.g. when cleaning
// up after a crashed run.
func FromStorage(repoPath, worktreePath, agentID, branchName string) *Lease {
	return &Lease{
		repoPath:     repoPath,
		worktreePath: worktreePath,
		agentID:      agentID,
		branchName:   branchName,
	}
}

// Path returns the path to the worktree checkout.
func (l *Lease) Path() string {
	return l.worktreePath
}

// BranchName returns the branch backing this lease.
func (l *Lease) BranchName() string {
	return l.branchName
}

// RepoPath returns the repository root the lease was cut from.
func (l *Lease) RepoPath() string {
	return l.repoPath
}

// AgentID returns the owning agent's id.
func (l *Lease) AgentID() string {
	return l.agentID
}

// BaseCommitSHA returns the commit the worktree was created from.
func (l *Lease) BaseCommitSHA() string {
	return l.baseCommitSHA
}
