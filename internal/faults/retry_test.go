package faults

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastRetry(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	calls := 0
	res := WithRetry(context.Background(), "op", fastRetry(3), func(ctx context.Context) (any, error) {
		calls++
		if calls < 3 {
			return nil, New(RateLimited)
		}
		return "done", nil
	})

	if !res.Success {
		t.Fatal("expected success")
	}
	if res.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", res.Attempts)
	}
	if res.Result != "done" {
		t.Errorf("expected result 'done', got %v", res.Result)
	}
	if len(res.Errors) != 2 {
		t.Errorf("expected 2 recorded errors, got %d", len(res.Errors))
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	res := WithRetry(context.Background(), "op", fastRetry(2), func(ctx context.Context) (any, error) {
		calls++
		return nil, New(AgentTimeout)
	})

	if res.Success {
		t.Fatal("expected failure")
	}
	// MaxRetries retries plus the initial attempt.
	if res.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", res.Attempts)
	}
	if calls != 3 {
		t.Errorf("expected op called 3 times, got %d", calls)
	}
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	calls := 0
	res := WithRetry(context.Background(), "op", fastRetry(5), func(ctx context.Context) (any, error) {
		calls++
		return nil, New(PermissionDenied)
	})

	if res.Success {
		t.Fatal("expected failure")
	}
	if calls != 1 {
		t.Errorf("non-retryable error should stop immediately, got %d calls", calls)
	}
}

func TestRetryAllowListFiltersCodes(t *testing.T) {
	cfg := fastRetry(5)
	cfg.RetryOn = []Code{RateLimited}

	calls := 0
	res := WithRetry(context.Background(), "op", cfg, func(ctx context.Context) (any, error) {
		calls++
		return nil, New(AgentTimeout) // retryable but not allow-listed
	})

	if res.Success {
		t.Fatal("expected failure")
	}
	if calls != 1 {
		t.Errorf("expected 1 call for disallowed code, got %d", calls)
	}
}

func TestRetryWrapsPlainErrors(t *testing.T) {
	res := WithRetry(context.Background(), "op", fastRetry(3), func(ctx context.Context) (any, error) {
		return nil, errors.New("boom")
	})

	if res.Success {
		t.Fatal("expected failure")
	}
	if res.Attempts != 1 {
		t.Errorf("plain errors are non-retryable, got %d attempts", res.Attempts)
	}
	if len(res.Errors) != 1 || res.Errors[0].Code != StoreFailed {
		t.Errorf("expected wrapped STORE_FAILED error, got %+v", res.Errors)
	}
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	cfg := fastRetry(10)
	cfg.InitialDelay = 100 * time.Millisecond
	calls := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	res := WithRetry(ctx, "op", cfg, func(ctx context.Context) (any, error) {
		calls++
		return nil, New(RateLimited)
	})

	if res.Success {
		t.Fatal("expected failure")
	}
	if calls != 1 {
		t.Errorf("expected cancellation during first backoff, got %d calls", calls)
	}
}

func TestDelayBackoffGrowsAndCaps(t *testing.T) {
	cfg := RetryConfig{InitialDelay: 10 * time.Millisecond, MaxDelay: 35 * time.Millisecond, Multiplier: 2}

	d0 := cfg.delayBefore(0)
	d1 := cfg.delayBefore(1)
	d2 := cfg.delayBefore(2)
	d3 := cfg.delayBefore(3)

	if d0 != 10*time.Millisecond || d1 != 20*time.Millisecond {
		t.Errorf("unexpected early delays: %v %v", d0, d1)
	}
	if d2 != 35*time.Millisecond || d3 != 35*time.Millisecond {
		t.Errorf("expected cap at 35ms, got %v %v", d2, d3)
	}
}

func TestDelayJitterStaysBounded(t *testing.T) {
	cfg := RetryConfig{InitialDelay: 100 * time.Millisecond, Multiplier: 2, JitterPercent: 20}
	for i := 0; i < 50; i++ {
		d := cfg.delayBefore(0)
		if d < 100*time.Millisecond || d > 120*time.Millisecond {
			t.Fatalf("jittered delay out of bounds: %v", d)
		}
	}
}
