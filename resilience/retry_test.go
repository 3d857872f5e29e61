package resilience_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/orchestra/resilience"
)

func TestRetry_StopsAtFirstSuccess(t *testing.T) {
	attempts := 0
	err := resilience.Retry(context.Background(), resilience.RetryConfig{
		MaxAttempts: 5,
		BaseDelay:   time.Millisecond,
		MaxDelay:    time.Millisecond,
	}, func(context.Context) error {
		attempts++
		if attempts < 3 {
			return &resilience.HTTPStatusError{StatusCode: http.StatusServiceUnavailable}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_NonRetryableStopsImmediately(t *testing.T) {
	attempts := 0
	err := resilience.Retry(context.Background(), resilience.DefaultRetryConfig(), func(context.Context) error {
		attempts++
		return &resilience.HTTPStatusError{StatusCode: http.StatusBadRequest}
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	attempts := 0
	boom := errors.New("boom")
	err := resilience.Retry(context.Background(), resilience.RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    time.Millisecond,
	}, func(context.Context) error {
		attempts++
		return boom
	})
	var exhausted *resilience.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.Equal(t, 3, attempts)
	assert.ErrorIs(t, err, boom)
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"circuit open", resilience.ErrCircuitOpen, false},
		{"cancelled", &resilience.Cancelled{Reason: "user"}, false},
		{"context cancelled", context.Canceled, false},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"http 400", &resilience.HTTPStatusError{StatusCode: 400}, false},
		{"http 429", &resilience.HTTPStatusError{StatusCode: 429}, true},
		{"http 503", &resilience.HTTPStatusError{StatusCode: 503}, true},
		{"unclassified", errors.New("weird"), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, resilience.IsRetryable(tc.err))
		})
	}
}
