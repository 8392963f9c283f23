package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	p := Fixed(5, time.Millisecond)
	err := p.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	p := Fixed(5, time.Millisecond)
	err := p.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoExhaustionReturnsTypedError(t *testing.T) {
	permanent := errors.New("connection refused")
	calls := 0
	p := Fixed(4, time.Millisecond)
	err := p.Do(context.Background(), "metastore-db probe", func(ctx context.Context) error {
		calls++
		return permanent
	})

	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected *ExhaustedError, got %v", err)
	}
	if exhausted.Attempts != 4 || calls != 4 {
		t.Errorf("attempts = %d calls = %d, want 4/4", exhausted.Attempts, calls)
	}
	if !errors.Is(err, permanent) {
		t.Error("expected last error to be reachable via Unwrap")
	}
	if exhausted.Op != "metastore-db probe" {
		t.Errorf("op = %q", exhausted.Op)
	}
}

func TestDoContextCancellationIsNotExhaustion(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Fixed(100, 50*time.Millisecond)

	done := make(chan error, 1)
	go func() {
		done <- p.Do(ctx, "op", func(ctx context.Context) error {
			return errors.New("still down")
		})
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	err := <-done
	if err == nil {
		t.Fatal("expected error")
	}
	var exhausted *ExhaustedError
	if errors.As(err, &exhausted) {
		t.Error("cancellation must not be reported as exhaustion")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled in chain, got %v", err)
	}
}

func TestDoZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	p := Policy{}
	_ = p.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return errors.New("x")
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestNextInterval(t *testing.T) {
	tests := []struct {
		name       string
		current    time.Duration
		multiplier float64
		ceiling    time.Duration
		want       time.Duration
	}{
		{"fixed", time.Second, 1.0, 0, time.Second},
		{"doubles", time.Second, 2.0, 0, 2 * time.Second},
		{"capped", 6 * time.Second, 2.0, 8 * time.Second, 8 * time.Second},
		{"under ceiling", time.Second, 2.0, 8 * time.Second, 2 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := nextInterval(tt.current, tt.multiplier, tt.ceiling); got != tt.want {
				t.Errorf("nextInterval = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestApplyJitterBounds(t *testing.T) {
	base := 100 * time.Millisecond
	for i := 0; i < 50; i++ {
		got := applyJitter(base, 0.2)
		if got < 80*time.Millisecond || got > 120*time.Millisecond {
			t.Fatalf("jittered interval %v outside [80ms,120ms]", got)
		}
	}
	if got := applyJitter(base, 0); got != base {
		t.Errorf("zero jitter changed interval: %v", got)
	}
}
