package errors

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy defines how a caller re-submits work that failed with a
// retryable error. The engine itself never retries.
type RetryPolicy struct {
	// MaxAttempts is the number of retries after the first attempt.
	MaxAttempts int `yaml:"max_attempts"`

	InitialDelay time.Duration `yaml:"initial_delay"`

	MaxDelay time.Duration `yaml:"max_delay"`

	// Multiplier is the backoff multiplier (default: 2.0).
	Multiplier float64 `yaml:"multiplier"`

	// JitterPercent is the jitter percentage (default: 0.1 for 10%).
	JitterPercent float64 `yaml:"jitter_percent"`
}

func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:   3,
		InitialDelay:  50 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		Multiplier:    2.0,
		JitterPercent: 0.1,
	}
}

func noRetryPolicy() *RetryPolicy {
	return &RetryPolicy{}
}

type RetryExecutor struct {
	policy     *RetryPolicy
	classifier *Classifier
}

func NewRetryExecutor(policy *RetryPolicy) *RetryExecutor {
	if policy == nil {
		policy = noRetryPolicy()
	}
	return &RetryExecutor{policy: policy, classifier: defaultClassifier}
}

// Execute runs fn until it succeeds, returns a non-retryable error, or the
// policy is exhausted. fn must re-read any state it depends on.
func (e *RetryExecutor) Execute(ctx context.Context, fn func(attempt int) error) error {
	var lastErr error

	for attempt := 0; attempt <= e.policy.MaxAttempts; attempt++ {
		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}

		if !e.shouldRetry(attempt, lastErr) {
			return lastErr
		}

		delay := AddJitter(CalculateDelay(attempt, e.policy), e.policy.JitterPercent)
		if err := waitBeforeRetry(ctx, delay); err != nil {
			return lastErr
		}
	}

	return lastErr
}

func (e *RetryExecutor) shouldRetry(attempt int, err error) bool {
	return attempt < e.policy.MaxAttempts && e.classifier.Classify(err).Retryable()
}

func waitBeforeRetry(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// CalculateDelay computes delay = initial * multiplier^attempt, capped at
// MaxDelay when one is set.
func CalculateDelay(attempt int, policy *RetryPolicy) time.Duration {
	if policy == nil || policy.InitialDelay <= 0 {
		return 0
	}

	multiplier := policy.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}

	delay := time.Duration(float64(policy.InitialDelay) * math.Pow(multiplier, float64(attempt)))
	if policy.MaxDelay > 0 && delay > policy.MaxDelay {
		return policy.MaxDelay
	}
	return delay
}

// AddJitter spreads delay by ±jitterPercent, never going below 1ms.
func AddJitter(delay time.Duration, jitterPercent float64) time.Duration {
	if jitterPercent <= 0 || delay <= 0 {
		return delay
	}

	jitterRange := float64(delay) * jitterPercent
	jittered := time.Duration(float64(delay) + (rand.Float64()*2-1)*jitterRange)
	if jittered < time.Millisecond {
		return time.Millisecond
	}
	return jittered
}
