package worktree

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-git/go-git/v5"
)

// Pre-compiled regexes for branch name sanitization.
var (
	unsafeCharsRegex = regexp.MustCompile(`[^a-z0-9\-_/.]+`)
	multiDashRegex   = regexp.MustCompile(`-+`)
)

// sanitizeBranchName transforms an arbitrary string into a git branch name friendly string.
func sanitizeBranchName(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, " ", "-")
	s = unsafeCharsRegex.ReplaceAllString(s, "")
	s = multiDashRegex.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-/")
	return s
}

// IsGitRepo checks if the given path is within a git repository.
func IsGitRepo(path string) bool {
	_, err := FindGitRepoRoot(path)
	return err == nil
}

// FindGitRepoRoot walks up from path until it finds a git repo root.
func FindGitRepoRoot(path string) (string, error) {
	currentPath := path
	for {
		_, err := git.PlainOpen(currentPath)
		if err == nil {
			return currentPath, nil
		}

		parent := filepath.Dir(currentPath)
		if parent == currentPath {
			return "", fmt.Errorf("failed to find git repository root from path: %s", path)
		}
		currentPath = parent
	}
}
