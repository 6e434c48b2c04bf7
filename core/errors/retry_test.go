package errors

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastPolicy(attempts int) *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Multiplier:   2,
	}
}

func TestRetryExecutor_RetriesStorageFailures(t *testing.T) {
	exec := NewRetryExecutor(fastPolicy(3))
	calls := 0

	err := exec.Execute(context.Background(), func(attempt int) error {
		calls++
		if attempt < 2 {
			return StorageFailure("write head", errors.New("database is locked"))
		}
		return nil
	})

	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetryExecutor_StopsOnNonRetryable(t *testing.T) {
	exec := NewRetryExecutor(fastPolicy(5))
	calls := 0

	err := exec.Execute(context.Background(), func(int) error {
		calls++
		return IllegalArgument("onExists missing")
	})

	if !errors.Is(err, ErrIllegalArgument) {
		t.Fatalf("expected illegal argument, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestRetryExecutor_ExhaustsPolicy(t *testing.T) {
	exec := NewRetryExecutor(fastPolicy(2))
	calls := 0

	err := exec.Execute(context.Background(), func(int) error {
		calls++
		return context.DeadlineExceeded
	})

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetryExecutor_NilPolicyRunsOnce(t *testing.T) {
	exec := NewRetryExecutor(nil)
	calls := 0
	_ = exec.Execute(context.Background(), func(int) error {
		calls++
		return StorageFailure("x", errors.New("io"))
	})
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestRetryExecutor_ContextCancelled(t *testing.T) {
	exec := NewRetryExecutor(&RetryPolicy{MaxAttempts: 5, InitialDelay: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := exec.Execute(ctx, func(int) error {
		calls++
		return StorageFailure("x", errors.New("io"))
	})

	if err == nil || calls != 1 {
		t.Errorf("expected one failed call, got calls=%d err=%v", calls, err)
	}
}

func TestCalculateDelay(t *testing.T) {
	policy := &RetryPolicy{InitialDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond, Multiplier: 2}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 10 * time.Millisecond},
		{1, 20 * time.Millisecond},
		{2, 40 * time.Millisecond},
		{3, 50 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := CalculateDelay(tt.attempt, policy); got != tt.want {
			t.Errorf("attempt %d: got %v, want %v", tt.attempt, got, tt.want)
		}
	}

	if CalculateDelay(1, nil) != 0 {
		t.Error("nil policy must yield zero delay")
	}
}

func TestAddJitter_Bounds(t *testing.T) {
	base := 100 * time.Millisecond
	for i := 0; i < 100; i++ {
		got := AddJitter(base, 0.1)
		if got < 90*time.Millisecond || got > 110*time.Millisecond {
			t.Fatalf("jitter out of bounds: %v", got)
		}
	}
	if AddJitter(base, 0) != base {
		t.Error("zero jitter must not change delay")
	}
}
