package errorhandler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoffDoublesEachAttempt(t *testing.T) {
	h := New(Config{BaseDelay: 100 * time.Millisecond, Multiplier: 2.0, MaxDelay: time.Second, MaxRetries: 5}, nil, nil)

	require.Equal(t, 100*time.Millisecond, h.Backoff(0))
	require.Equal(t, 200*time.Millisecond, h.Backoff(1))
	require.Equal(t, 400*time.Millisecond, h.Backoff(2))
}

func TestBackoffClampsToMaxDelay(t *testing.T) {
	h := New(Config{BaseDelay: 100 * time.Millisecond, Multiplier: 2.0, MaxDelay: 300 * time.Millisecond, MaxRetries: 10}, nil, nil)
	require.Equal(t, 300*time.Millisecond, h.Backoff(5))
}

func TestExecuteRetriesUntilSuccess(t *testing.T) {
	h := New(Config{BaseDelay: time.Millisecond, Multiplier: 2.0, MaxDelay: 10 * time.Millisecond, MaxRetries: 5}, nil, nil)

	attempts := 0
	err := h.Execute(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient failure")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestExecuteStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("bad request")
	h := New(Config{BaseDelay: time.Millisecond, MaxRetries: 5}, func(err error) Classification {
		return Classification{Category: CategoryPermanent, Severity: SeverityHigh}
	}, nil)

	attempts := 0
	err := h.Execute(context.Background(), func() error {
		attempts++
		return permanent
	})
	require.ErrorIs(t, err, permanent)
	require.Equal(t, 1, attempts)
}

func TestExecuteExhaustsRetries(t *testing.T) {
	h := New(Config{BaseDelay: time.Millisecond, Multiplier: 1.0, MaxDelay: 5 * time.Millisecond, MaxRetries: 2}, nil, nil)

	attempts := 0
	err := h.Execute(context.Background(), func() error {
		attempts++
		return errors.New("still failing")
	})
	require.ErrorIs(t, err, ErrRetriesExhausted)
	require.Equal(t, 3, attempts) // initial + 2 retries
}

func TestPauseBlocksRetryUntilResume(t *testing.T) {
	h := New(Config{BaseDelay: 5 * time.Millisecond, MaxRetries: 3}, nil, nil)
	h.Pause()

	done := make(chan error, 1)
	attempts := 0
	go func() {
		done <- h.Execute(context.Background(), func() error {
			attempts++
			if attempts < 2 {
				return errors.New("fail")
			}
			return nil
		})
	}()

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, attempts, "second attempt should be blocked while paused")

	h.Resume()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Execute did not unblock after Resume")
	}
}

func TestOnRetryHookInvoked(t *testing.T) {
	h := New(Config{BaseDelay: time.Millisecond, MaxRetries: 3}, nil, nil)
	var seenAttempts []int
	h.SetOnRetry(func(attempt int, delay time.Duration, err error, class Classification) {
		seenAttempts = append(seenAttempts, attempt)
	})

	attempts := 0
	_ = h.Execute(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("fail")
		}
		return nil
	})
	require.Equal(t, []int{0, 1}, seenAttempts)
}
