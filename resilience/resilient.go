package resilience

import (
	"context"
	"time"
)

// Call bundles a Breaker and RetryConfig into the §4.1 `resilient_call`
// composition: enforced timeout → circuit-breaker gate → retry loop, where
// each retry attempt itself passes back through the timeout and breaker.
// A call that trips ErrCircuitOpen fails immediately without being retried,
// since IsRetryable(ErrCircuitOpen) is always false.
type Call struct {
	Breaker *Breaker
	Retry   RetryConfig
	// Timeout bounds each individual attempt. Zero disables the deadline.
	Timeout time.Duration
}

// NewCall constructs a Call for the given endpoint breaker.
func NewCall(breaker *Breaker, retry RetryConfig, timeout time.Duration) *Call {
	return &Call{Breaker: breaker, Retry: retry, Timeout: timeout}
}

// Do executes op through the full resilient_call pipeline.
func (c *Call) Do(ctx context.Context, op func(context.Context) error) error {
	return Retry(ctx, c.Retry, func(ctx context.Context) error {
		attemptCtx := ctx
		if c.Timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, c.Timeout)
			defer cancel()
		}
		return c.Breaker.Execute(attemptCtx, op)
	})
}
