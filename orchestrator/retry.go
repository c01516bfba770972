package orchestrator

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"enhanceswarm/log"
)

// RetryPolicy controls bounded retry with exponential backoff and jitter.
// A policy is immutable once constructed and safe to share across any number
// of concurrent executions.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, at least 1.
	MaxAttempts int
	// BaseDelay is the delay before the second attempt.
	BaseDelay time.Duration
	// BackoffMultiplier scales the delay for each further attempt, at least 1.
	BackoffMultiplier float64
	// JitterFraction randomizes each delay by +/- this fraction, in [0, 1].
	JitterFraction float64
	// Classify decides whether an error is worth retrying. Nil means
	// DefaultClassifier.
	Classify func(error) bool
}

// normalized returns a copy with invalid fields clamped to safe values.
func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.BackoffMultiplier < 1 {
		p.BackoffMultiplier = 1
	}
	if p.JitterFraction < 0 {
		p.JitterFraction = 0
	}
	if p.JitterFraction > 1 {
		p.JitterFraction = 1
	}
	if p.Classify == nil {
		p.Classify = DefaultClassifier
	}
	return p
}

// Execute runs fn up to MaxAttempts times. The first attempt runs immediately;
// attempt k (k>=2) is preceded by BaseDelay * BackoffMultiplier^(k-2), jittered
// independently per attempt. Non-retryable errors return immediately. The
// backoff sleep is interruptible by ctx.
func (p RetryPolicy) Execute(ctx context.Context, fn func(ctx context.Context) (string, error)) (string, error) {
	policy := p.normalized()

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := policy.delay(attempt)
			log.DebugLog.Printf("retrying in %s (attempt %d/%d)", delay, attempt, policy.MaxAttempts)
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
			case <-time.After(delay):
			}
		}

		output, err := fn(ctx)
		if err == nil {
			return output, nil
		}
		lastErr = err

		if !policy.Classify(err) {
			return "", err
		}
	}

	return "", fmt.Errorf("failed after %d attempts: %w", policy.MaxAttempts, lastErr)
}

// Do is Execute for functions with no output.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := p.Execute(ctx, func(ctx context.Context) (string, error) {
		return "", fn(ctx)
	})
	return err
}

// delay computes the backoff before the given attempt (attempt >= 2).
func (p RetryPolicy) delay(attempt int) time.Duration {
	d := float64(p.BaseDelay)
	for i := 2; i < attempt; i++ {
		d *= p.BackoffMultiplier
	}
	if p.JitterFraction > 0 {
		d *= 1 + (2*rand.Float64()-1)*p.JitterFraction
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}
