// ABOUTME: Retry policy with exponential backoff and jitter for provider invocations.
// ABOUTME: The AI executor uses a small fixed budget before switching to its fallback model.
package provider

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy configures retry behavior for provider calls.
type RetryPolicy struct {
	// MaxRetries is the number of retry attempts, not counting the initial call.
	MaxRetries int

	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration

	// MaxDelay caps the delay between retries.
	MaxDelay time.Duration

	// BackoffMultiplier controls exponential growth of the delay.
	BackoffMultiplier float64

	// Jitter randomizes each delay to avoid thundering herds.
	Jitter bool

	// OnRetry is an optional callback invoked before each retry sleep with
	// the triggering error and the 0-indexed attempt number.
	OnRetry func(err error, attempt int)
}

// DefaultRetryPolicy returns the engine's bounded provider retry budget:
// 2 retries, 500ms base delay, 30s cap, 2x backoff, jitter on.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        2,
		BaseDelay:         500 * time.Millisecond,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
}

// CalculateDelay computes the backoff delay for a 0-indexed attempt.
func (p RetryPolicy) CalculateDelay(attempt int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(p.BackoffMultiplier, float64(attempt))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.Jitter {
		delay = rand.Float64() * delay
	}
	return time.Duration(delay)
}

// Invoke calls the provider under the policy, sleeping between attempts and
// honoring context cancellation.
func (p RetryPolicy) Invoke(ctx context.Context, prov Provider, req Request) (*Response, error) {
	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := prov.Invoke(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if attempt < p.MaxRetries {
			if p.OnRetry != nil {
				p.OnRetry(err, attempt)
			}
			delay := p.CalculateDelay(attempt)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
	}
	return nil, lastErr
}
