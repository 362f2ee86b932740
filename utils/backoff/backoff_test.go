package backoff

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetry(t *testing.T) {
	var calls int
	err := Retry(context.Background(), 5, 20*time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryGivesUp(t *testing.T) {
	boom := errors.New("boom")

	var calls int
	err := Retry(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, ErrMaxAttempts)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
}

func TestRetryContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var calls int
	err := Retry(ctx, 100, time.Hour, func() error {
		calls++
		cancel()
		return errors.New("down")
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
