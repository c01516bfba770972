package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// AcquireRunLock takes the run lock for the layout's root, guaranteeing at
// most one enhancement run per repository. The caller must call Release on
// the returned lock. A held lock fails fast instead of blocking.
func AcquireRunLock(layout Layout) (*RunLock, error) {
	if err := os.MkdirAll(filepath.Dir(layout.LockPath()), 0755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}

	fl := flock.New(layout.LockPath())
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("another enhancement run is already active (lock held at %s)", layout.LockPath())
	}
	return &RunLock{fl: fl}, nil
}

// RunLock holds the exclusive per-repository run lock.
type RunLock struct {
	fl *flock.Flock
}

// Release drops the lock. Safe to call once the run has fully finished.
func (l *RunLock) Release() error {
	return l.fl.Unlock()
}
