package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordSleeps(waits *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
}

func TestRunSucceedsAfterTransientFailures(t *testing.T) {
	var waits []time.Duration
	calls := 0
	p := Policy{MaxAttempts: 3, Sleep: recordSleeps(&waits)}
	err := p.Run(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, waits)
}

func TestRunReturnsLastError(t *testing.T) {
	var waits []time.Duration
	calls := 0
	p := Policy{MaxAttempts: 4, Sleep: recordSleeps(&waits)}
	err := p.Run(context.Background(), func(context.Context) error {
		calls++
		return errors.New("attempt " + string(rune('0'+calls)))
	})
	require.Error(t, err)
	assert.Equal(t, "attempt 4", err.Error())
	assert.Len(t, waits, 3)
}

func TestDelayDoublesAndCaps(t *testing.T) {
	p := Policy{BaseDelay: time.Second, MaxDelay: 5 * time.Second}
	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
	assert.Equal(t, 4*time.Second, p.Delay(3))
	assert.Equal(t, 5*time.Second, p.Delay(4))
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := Policy{MaxAttempts: 5, BaseDelay: time.Hour}.Run(ctx, func(context.Context) error {
		calls++
		return errors.New("down")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestValueAndDo(t *testing.T) {
	var waits []time.Duration
	n := 0
	v, err := Value(context.Background(), Policy{Sleep: recordSleeps(&waits)}, func(context.Context) (int, error) {
		n++
		if n == 1 {
			return 0, errors.New("once")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	assert.NoError(t, Do(context.Background(), 1, func(context.Context) error { return nil }))
}

func TestPermanentStopsImmediately(t *testing.T) {
	sentinel := errors.New("missing")
	calls := 0
	var waits []time.Duration
	err := Policy{MaxAttempts: 5, Sleep: recordSleeps(&waits)}.Run(context.Background(), func(context.Context) error {
		calls++
		return Permanent(sentinel)
	})
	assert.Same(t, sentinel, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, waits)
	assert.NoError(t, Permanent(nil))
}
