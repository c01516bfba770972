package worktree

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"enhanceswarm/log"
)

// Provider hands out leases under one repository, all sharing the same
// worktrees directory, branch prefix and setup steps.
type Provider struct {
	repoPath     string
	worktreesDir string
	branchPrefix string
	setup        *Setup
}

// NewProvider returns a provider rooted at repoPath. setup may be nil.
func NewProvider(repoPath, worktreesDir, branchPrefix string, setup *Setup) *Provider {
	return &Provider{
		repoPath:     repoPath,
		worktreesDir: worktreesDir,
		branchPrefix: branchPrefix,
		setup:        setup,
	}
}

// Allocate creates a lease for one agent with the provider's setup bound in.
// The lease is not materialized on disk until Create is called.
func (p *Provider) Allocate(agentID string) (*BoundLease, error) {
	lease, err := NewLease(p.repoPath, p.worktreesDir, agentID, p.branchPrefix)
	if err != nil {
		return nil, err
	}
	return &BoundLease{Lease: lease, setup: p.setup}, nil
}

// BoundLease is a lease with its setup steps fixed at allocation time.
type BoundLease struct {
	*Lease
	setup *Setup
}

// Setup runs the bound setup steps inside the work area.
func (b *BoundLease) Setup() error {
	return b.RunSetup(b.setup)
}

// CleanupAll removes every worktree under worktreesDir and every branch
// carrying the prefix. Used by the standalone cleanup command to reclaim
// leftovers from interrupted runs. It keeps going past individual failures
// and reports them together.
func CleanupAll(repoPath, worktreesDir, branchPrefix string) error {
	var errs []error

	entries, err := os.ReadDir(worktreesDir)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read worktrees directory: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(worktreesDir, entry.Name())
		if _, err := runGitCommand(repoPath, "worktree", "remove", "-f", path); err != nil {
			log.WarningLog.Printf("failed to remove worktree %s: %v", path, err)
			if rmErr := os.RemoveAll(path); rmErr != nil {
				errs = append(errs, rmErr)
			}
		}
	}

	if _, err := runGitCommand(repoPath, "worktree", "prune"); err != nil {
		errs = append(errs, fmt.Errorf("failed to prune worktrees: %w", err))
	}

	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to open repository: %w", err))
		return combineErrors(errs)
	}
	branches, err := repo.Branches()
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to list branches: %w", err))
		return combineErrors(errs)
	}
	defer branches.Close()
	var stale []plumbing.ReferenceName
	_ = branches.ForEach(func(ref *plumbing.Reference) error {
		if strings.HasPrefix(ref.Name().Short(), branchPrefix) {
			stale = append(stale, ref.Name())
		}
		return nil
	})
	for _, name := range stale {
		if err := repo.Storer.RemoveReference(name); err != nil {
			errs = append(errs, fmt.Errorf("failed to remove branch %s: %w", name.Short(), err))
		}
	}

	return combineErrors(errs)
}
