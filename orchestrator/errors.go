package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrCancelled marks work abandoned because the run was cancelled. It is not a
// failure: cancelled agents are reported separately from failed ones.
var ErrCancelled = errors.New("run cancelled")

// SpawnError means an agent's process never started. It is fatal to that agent
// only, never to the run.
type SpawnError struct {
	AgentID string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("agent %s failed to spawn: %v", e.AgentID, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// TimeoutError means an agent exceeded its per-agent deadline. Non-retryable.
type TimeoutError struct {
	AgentID string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("agent %s exceeded timeout of %s", e.AgentID, e.Timeout)
}

// TransientError marks a command failure as retryable, e.g. a flaky network
// fetch during worktree setup.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// MarkTransient wraps err so the default retry classifier will retry it.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err was marked retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// FatalError marks a command failure as non-retryable, e.g. malformed
// instructions. Retrying would fail the same way.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: %v", e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// MarkFatal wraps err so the default retry classifier gives up immediately.
func MarkFatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// IsFatal reports whether err was marked non-retryable.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// DefaultClassifier retries everything except errors marked fatal and
// cancellation. Errors explicitly marked transient always retry.
func DefaultClassifier(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrCancelled) {
		return false
	}
	if IsFatal(err) {
		return false
	}
	return true
}
