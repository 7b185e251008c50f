package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"example.com/runtheworld/internal/domain"
)

func testPolicy(attempts int, opts ...Option) Policy {
	return New(attempts, zerolog.Nop(), opts...)
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := testPolicy(3).Do(context.Background(), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}

func TestDoRetriesGenericFailures(t *testing.T) {
	calls := 0
	err := testPolicy(3, WithBaseDelay(time.Millisecond)).Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("boom")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestDoReturnsLastErrorWhenExhausted(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := testPolicy(3, WithBaseDelay(time.Millisecond)).Do(context.Background(), func() error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 3, calls)
}

func TestDoWaitsProviderDelayOnThrottle(t *testing.T) {
	retryAfter := 50 * time.Millisecond
	calls := 0
	start := time.Now()

	err := testPolicy(3).Do(context.Background(), func() error {
		calls++
		if calls == 1 {
			return &domain.ThrottledError{RetryAfter: retryAfter}
		}
		return nil
	})
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.Equal(t, 2, calls, "exactly one retry expected")
	require.GreaterOrEqual(t, elapsed, retryAfter)
	require.Less(t, elapsed, 10*retryAfter)
}

func TestDoUsesThrottleFallbackWithoutHint(t *testing.T) {
	fallback := 30 * time.Millisecond
	calls := 0
	start := time.Now()

	err := testPolicy(2, WithThrottleDelay(fallback)).Do(context.Background(), func() error {
		calls++
		if calls == 1 {
			return &domain.ThrottledError{}
		}
		return nil
	})

	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), fallback)
}

func TestDoPropagatesThrottledTypeWhenExhausted(t *testing.T) {
	err := testPolicy(2).Do(context.Background(), func() error {
		return &domain.ThrottledError{RetryAfter: time.Millisecond}
	})
	require.Error(t, err)
	_, throttled := domain.IsThrottled(err)
	require.True(t, throttled, "throttling signal must survive wrapping")
}

func TestDoStopsOnContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- testPolicy(5, WithBaseDelay(time.Minute)).Do(ctx, func() error {
			return errors.New("always fails")
		})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("retry did not observe cancellation")
	}
}
