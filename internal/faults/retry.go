package faults

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"time"
)

// RetryConfig controls WithRetry. A nil RetryOn list allows any retryable code.
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	Multiplier    float64
	JitterPercent int
	RetryOn       []Code
}

// RetryResult reports the outcome of a retried operation.
type RetryResult struct {
	Success       bool
	Result        any
	Attempts      int
	TotalDuration time.Duration
	Errors        []*SwarmError
}

func (c RetryConfig) allows(code Code) bool {
	if c.RetryOn == nil {
		return true
	}
	for _, allowed := range c.RetryOn {
		if allowed == code {
			return true
		}
	}
	return false
}

func (c RetryConfig) delayBefore(attempt int) time.Duration {
	mult := c.Multiplier
	if mult <= 0 {
		mult = 2
	}
	d := float64(c.InitialDelay) * math.Pow(mult, float64(attempt))
	if max := float64(c.MaxDelay); c.MaxDelay > 0 && d > max {
		d = max
	}
	if c.JitterPercent > 0 {
		d += d * rand.Float64() * float64(c.JitterPercent) / 100
	}
	return time.Duration(d)
}

// WithRetry runs op up to MaxRetries+1 times with exponential backoff and
// jitter. The loop continues only while the most recent error is retryable
// and its code is in the allow-list; any other error stops it immediately.
func WithRetry(ctx context.Context, name string, cfg RetryConfig, op func(context.Context) (any, error)) RetryResult {
	start := time.Now()
	res := RetryResult{}

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		res.Attempts = attempt + 1

		out, err := op(ctx)
		if err == nil {
			res.Success = true
			res.Result = out
			res.TotalDuration = time.Since(start)
			return res
		}

		se := As(err)
		if se == nil {
			se = New(StoreFailed).WithMessage(err.Error()).WithCause(err).WithComponent(name)
			se.Retryable = false
		}
		res.Errors = append(res.Errors, se)

		if !se.Retryable || !cfg.allows(se.Code) {
			break
		}
		if attempt == cfg.MaxRetries {
			break
		}

		delay := cfg.delayBefore(attempt)
		slog.Debug("retrying operation", "op", name, "attempt", attempt+1, "delay", delay, "code", se.Code)

		select {
		case <-ctx.Done():
			res.TotalDuration = time.Since(start)
			return res
		case <-time.After(delay):
		}
	}

	res.TotalDuration = time.Since(start)
	return res
}
