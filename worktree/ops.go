package worktree

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"enhanceswarm/log"
)

// Setup describes optional steps run inside a fresh worktree before the agent starts.
type Setup struct {
	// CopyIgnored is a list of glob patterns for gitignored files to copy in.
	CopyIgnored []string
	// Run is a list of shell commands executed in the worktree root.
	Run []string
}

// Create cuts a new worktree on a fresh branch from HEAD. The branch must not
// already exist; each agent id is used for exactly one run.
func (l *Lease) Create() error {
	if err := os.MkdirAll(filepath.Dir(l.worktreePath), 0755); err != nil {
		return fmt.Errorf("failed to create worktrees directory: %w", err)
	}

	// Clean up any stale worktree at this path first.
	_, _ = runGitCommand(l.repoPath, "worktree", "remove", "-f", l.worktreePath)

	repo, err := git.PlainOpen(l.repoPath)
	if err != nil {
		return fmt.Errorf("failed to open repository: %w", err)
	}
	if err := l.removeBranchRef(repo); err != nil {
		return fmt.Errorf("failed to cleanup existing branch: %w", err)
	}

	output, err := runGitCommand(l.repoPath, "rev-parse", "HEAD")
	if err != nil {
		if strings.Contains(err.Error(), "ambiguous argument 'HEAD'") ||
			strings.Contains(err.Error(), "not a valid object name") {
			return fmt.Errorf("repository has no commits: create an initial commit before running agents")
		}
		return fmt.Errorf("failed to get HEAD commit hash: %w", err)
	}
	headCommit := strings.TrimSpace(output)
	l.baseCommitSHA = headCommit

	// Create the worktree from the HEAD commit rather than the current branch
	// so agents never inherit uncommitted changes.
	if _, err := runGitCommand(l.repoPath, "worktree", "add", "-b", l.branchName, l.worktreePath, headCommit); err != nil {
		return fmt.Errorf("failed to create worktree from commit %s: %w", headCommit, err)
	}

	return nil
}

// RunSetup applies the configured setup steps to the worktree. Failures here
// are surfaced to the caller, which decides whether they are retryable.
func (l *Lease) RunSetup(setup *Setup) error {
	if setup == nil {
		return nil
	}

	if err := l.copyGitIgnoredFiles(setup.CopyIgnored); err != nil {
		return fmt.Errorf("failed to copy gitignored files: %w", err)
	}

	for _, command := range setup.Run {
		log.InfoLog.Printf("running setup command in %s: %s", l.worktreePath, command)

		cmd := exec.Command("sh", "-c", command)
		cmd.Dir = l.worktreePath
		output, err := cmd.CombinedOutput()
		if err != nil {
			log.ErrorLog.Printf("setup command failed: %s\noutput: %s", command, output)
			return fmt.Errorf("failed to run setup command %q: %w", command, err)
		}
		if len(output) > 0 {
			log.DebugLog.Printf("setup command output: %s", output)
		}
	}

	return nil
}

// Release removes the worktree and its branch. It is idempotent: releasing a
// lease whose worktree or branch is already gone succeeds.
func (l *Lease) Release() error {
	var errs []error

	if _, err := os.Stat(l.worktreePath); err == nil {
		if _, err := runGitCommand(l.repoPath, "worktree", "remove", "-f", l.worktreePath); err != nil {
			// The checkout directory may have been deleted out from under git;
			// fall back to removing it directly before pruning.
			if rmErr := os.RemoveAll(l.worktreePath); rmErr != nil {
				errs = append(errs, err)
			}
		}
	} else if !os.IsNotExist(err) {
		errs = append(errs, fmt.Errorf("failed to check worktree path: %w", err))
	}

	repo, err := git.PlainOpen(l.repoPath)
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to open repository for cleanup: %w", err))
		return combineErrors(errs)
	}

	if err := l.removeBranchRef(repo); err != nil {
		errs = append(errs, err)
	}

	if err := l.Prune(); err != nil {
		errs = append(errs, err)
	}

	return combineErrors(errs)
}

// Prune removes stale worktree administrative files from the repository.
func (l *Lease) Prune() error {
	if _, err := runGitCommand(l.repoPath, "worktree", "prune"); err != nil {
		return fmt.Errorf("failed to prune worktrees: %w", err)
	}
	return nil
}

// removeBranchRef deletes the lease's branch ref if it exists. A missing ref
// is not an error.
func (l *Lease) removeBranchRef(repo *git.Repository) error {
	branchRef := plumbing.NewBranchReferenceName(l.branchName)

	if _, err := repo.Reference(branchRef, false); err == nil {
		if err := repo.Storer.RemoveReference(branchRef); err != nil {
			return fmt.Errorf("failed to remove branch %s: %w", l.branchName, err)
		}
	} else if !errors.Is(err, plumbing.ErrReferenceNotFound) {
		return fmt.Errorf("error checking branch %s existence: %w", l.branchName, err)
	}
	return nil
}

// copyGitIgnoredFiles copies gitignored files matching the patterns into the worktree.
func (l *Lease) copyGitIgnoredFiles(patterns []string) error {
	for _, pattern := range patterns {
		if strings.HasPrefix(pattern, "/") {
			log.WarningLog.Printf("skipping absolute path pattern: %s", pattern)
			continue
		}

		matches, err := filepath.Glob(filepath.Join(l.repoPath, pattern))
		if err != nil {
			log.WarningLog.Printf("invalid glob pattern %s: %v", pattern, err)
			continue
		}

		for _, srcPath := range matches {
			relPath, err := filepath.Rel(l.repoPath, srcPath)
			if err != nil {
				log.WarningLog.Printf("failed to get relative path for %s: %v", srcPath, err)
				continue
			}

			if !l.isGitIgnored(relPath) {
				continue
			}

			dstPath := filepath.Join(l.worktreePath, relPath)
			if err := os.MkdirAll(filepath.Dir(dstPath), 0755); err != nil {
				log.WarningLog.Printf("failed to create directory for %s: %v", dstPath, err)
				continue
			}

			if err := copyFile(srcPath, dstPath); err != nil {
				log.WarningLog.Printf("failed to copy %s to %s: %v", srcPath, dstPath, err)
				continue
			}

			log.DebugLog.Printf("copied gitignored file: %s", relPath)
		}
	}

	return nil
}

// isGitIgnored checks if a file is ignored by git.
func (l *Lease) isGitIgnored(relPath string) bool {
	cmd := exec.Command("git", "-C", l.repoPath, "check-ignore", relPath)
	// check-ignore exits 0 iff the path is ignored
	return cmd.Run() == nil
}

// runGitCommand executes a git command and returns its combined output.
func runGitCommand(path string, args ...string) (string, error) {
	baseArgs := []string{"-C", path}
	cmd := exec.Command("git", append(baseArgs, args...)...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git command failed: %s (%w)", output, err)
	}

	return string(output), nil
}

func copyFile(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	srcInfo, err := srcFile.Stat()
	if err != nil {
		return err
	}
	if srcInfo.IsDir() {
		return nil
	}

	dstFile, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, srcInfo.Mode())
	if err != nil {
		return err
	}
	defer dstFile.Close()

	_, err = io.Copy(dstFile, srcFile)
	return err
}

func combineErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, len(errs))
	for i, err := range errs {
		msgs[i] = err.Error()
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}
