package backoff

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errRetryable = errors.New("rate limited")

func fastOpts() Options {
	return Options{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: 8 * time.Millisecond}
}

func isRetryable(err error) bool { return errors.Is(err, errRetryable) }

func TestRunSucceedsAfterRetries(t *testing.T) {
	calls := 0
	out, err := Run(context.Background(), fastOpts(), isRetryable, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errRetryable
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 3, calls)
}

func TestRunFatalErrorNotRetried(t *testing.T) {
	fatal := errors.New("invalid signer")
	calls := 0
	_, err := Run(context.Background(), fastOpts(), isRetryable, func(context.Context) (int, error) {
		calls++
		return 0, fatal
	})
	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls)
}

func TestRunExhaustsAttempts(t *testing.T) {
	calls := 0
	_, err := Run(context.Background(), fastOpts(), isRetryable, func(context.Context) (int, error) {
		calls++
		return 0, errRetryable
	})
	assert.ErrorIs(t, err, errRetryable)
	assert.Equal(t, 5, calls)
}

func TestRunRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	opts := Options{MaxAttempts: 3, BaseDelay: time.Minute, MaxDelay: time.Minute}
	_, err := Run(ctx, opts, isRetryable, func(context.Context) (int, error) {
		return 0, errRetryable
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDelayForCapsAtMax(t *testing.T) {
	opts := Options{MaxAttempts: 10, BaseDelay: 500 * time.Millisecond, MaxDelay: 30 * time.Second}

	assert.Equal(t, 500*time.Millisecond, delayFor(opts, 1))
	assert.Equal(t, time.Second, delayFor(opts, 2))
	assert.Equal(t, 16*time.Second, delayFor(opts, 6))
	assert.Equal(t, 30*time.Second, delayFor(opts, 7))  // 32s passa do teto
	assert.Equal(t, 30*time.Second, delayFor(opts, 64)) // shift estourado também
}
