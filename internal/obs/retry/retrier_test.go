package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_StopsOnSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func() error {
		calls++
		if calls < 2 {
			return errors.New("flaky")
		}
		return nil
	}, Policy{Name: "test_success", Attempts: 5, Backoff: Fixed(time.Millisecond)})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDo_NonRetryableStopsImmediately(t *testing.T) {
	permanent := errors.New("permanent")
	calls := 0
	exhausted := false
	err := Do(context.Background(), func() error {
		calls++
		return permanent
	}, Policy{
		Name:      "test_permanent",
		Attempts:  5,
		Backoff:   Fixed(time.Millisecond),
		Retryable: func(err error) bool { return !errors.Is(err, permanent) },
		OnExhaust: func(error) { exhausted = true },
	})

	require.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
	assert.True(t, exhausted)
}

func TestDo_ContextCancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, func() error {
		calls++
		cancel()
		return errors.New("boom")
	}, Policy{Name: "test_cancel", Attempts: 3, Backoff: Fixed(time.Hour)})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestExpoJitter_Capped(t *testing.T) {
	b := ExpoJitter{Base: 100 * time.Millisecond, Max: time.Second}
	assert.Equal(t, 100*time.Millisecond, b.Next(0))
	assert.Equal(t, 400*time.Millisecond, b.Next(2))
	assert.Equal(t, time.Second, b.Next(10))
}
