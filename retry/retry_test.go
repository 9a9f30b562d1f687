package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fastPolicy keeps test sleeps in the microsecond range.
func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts: attempts,
		BaseDelay:   time.Microsecond,
		Multiplier:  2.0,
		MaxDelay:    time.Millisecond,
		Retryable:   func(error) bool { return true },
	}
}

func TestDoSucceedsFirstTry(t *testing.T) {
	calls := 0
	v, err := Do(context.Background(), fastPolicy(3), func() (string, error) {
		calls++
		return "ok", nil
	})

	require.NoError(t, err)
	require.Equal(t, "ok", v)
	require.Equal(t, 1, calls)
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	errTransient := errors.New("transient")

	calls := 0
	v, err := Do(context.Background(), fastPolicy(5), func() (int, error) {
		calls++
		if calls < 3 {
			return 0, errTransient
		}
		return 42, nil
	})

	require.NoError(t, err)
	require.Equal(t, 42, v)
	require.Equal(t, 3, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	errTransient := errors.New("transient")

	calls := 0
	_, err := Do(context.Background(), fastPolicy(3), func() (int, error) {
		calls++
		return 0, errTransient
	})

	require.ErrorIs(t, err, errTransient)
	require.Equal(t, 3, calls)
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	errFatal := errors.New("fatal")

	p := fastPolicy(5)
	p.Retryable = func(err error) bool { return !errors.Is(err, errFatal) }

	calls := 0
	_, err := Do(context.Background(), p, func() (int, error) {
		calls++
		return 0, errFatal
	})

	require.ErrorIs(t, err, errFatal)
	require.Equal(t, 1, calls)
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	p := fastPolicy(10)
	p.BaseDelay = time.Hour // the sleep must be interrupted, not awaited
	p.MaxDelay = time.Hour

	calls := 0
	done := make(chan error, 1)
	go func() {
		_, err := Do(ctx, p, func() (int, error) {
			calls++
			return 0, errors.New("transient")
		})
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		require.Equal(t, 1, calls)
	case <-time.After(5 * time.Second):
		t.Fatal("Do did not return after cancellation")
	}
}

type hintedError struct {
	wait time.Duration
}

func (e *hintedError) Error() string { return "rate limited" }

func (e *hintedError) RetryAfterHint() (time.Duration, bool) {
	return e.wait, e.wait > 0
}

func TestDoHonoursRetryAfterHint(t *testing.T) {
	hinted := &hintedError{wait: 50 * time.Millisecond}

	p := fastPolicy(3)

	calls := 0
	start := time.Now()
	v, err := Do(context.Background(), p, func() (int, error) {
		calls++
		if calls == 1 {
			return 0, hinted
		}
		return 7, nil
	})

	require.NoError(t, err)
	require.Equal(t, 7, v)
	require.Equal(t, 2, calls)
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestDoSurfacesOriginalErrorAfterHintedExhaustion(t *testing.T) {
	hinted := &hintedError{wait: time.Microsecond}

	_, err := Do(context.Background(), fastPolicy(2), func() (int, error) {
		return 0, hinted
	})

	var got *hintedError
	require.ErrorAs(t, err, &got)
}

func TestDoOnRetryCallback(t *testing.T) {
	var delays []time.Duration

	p := fastPolicy(3)
	p.OnRetry = func(err error, next time.Duration) {
		delays = append(delays, next)
	}

	_, err := Do(context.Background(), p, func() (int, error) {
		return 0, errors.New("transient")
	})

	require.Error(t, err)
	require.Len(t, delays, 2) // one sleep between each of the 3 attempts
}

func TestDelay(t *testing.T) {
	p := Policy{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		Multiplier:  2.0,
		MaxDelay:    5 * time.Second,
	}

	require.Equal(t, time.Second, p.Delay(0))
	require.Equal(t, 2*time.Second, p.Delay(1))
	require.Equal(t, 4*time.Second, p.Delay(2))
	require.Equal(t, 5*time.Second, p.Delay(3)) // capped
	require.Equal(t, 5*time.Second, p.Delay(10))

	// Monotonically non-decreasing.
	for i := 1; i < 20; i++ {
		require.GreaterOrEqual(t, p.Delay(i), p.Delay(i-1))
	}
}

func TestPresets(t *testing.T) {
	require.Equal(t, 3, Default().MaxAttempts)
	require.Equal(t, 5, Aggressive().MaxAttempts)
	require.Equal(t, 2, Conservative().MaxAttempts)

	for _, p := range []Policy{Default(), Aggressive(), Conservative()} {
		require.True(t, p.Jitter)
		require.Greater(t, p.MaxDelay, p.BaseDelay)
	}
}
