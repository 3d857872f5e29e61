package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/orchestra/resilience"
	"goa.design/orchestra/telemetry"
)

func TestCall_CircuitOpenSkipsRetry(t *testing.T) {
	breaker := resilience.NewBreaker("svc", resilience.BreakerConfig{
		Threshold:   1,
		Timeout:     time.Hour,
		HalfOpenMax: 1,
	}, telemetry.Noop())
	_ = breaker.Execute(context.Background(), func(context.Context) error { return errors.New("boom") })
	require.Equal(t, resilience.Open, breaker.State())

	call := resilience.NewCall(breaker, resilience.RetryConfig{
		MaxAttempts: 5,
		BaseDelay:   time.Millisecond,
		MaxDelay:    time.Millisecond,
	}, 0)

	attempts := 0
	err := call.Do(context.Background(), func(context.Context) error {
		attempts++
		return nil
	})
	require.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, 0, attempts)
}

func TestCall_RetriesThroughBreaker(t *testing.T) {
	breaker := resilience.NewBreaker("svc", resilience.DefaultBreakerConfig(), telemetry.Noop())
	call := resilience.NewCall(breaker, resilience.RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    time.Millisecond,
	}, time.Second)

	attempts := 0
	err := call.Do(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 2 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}
