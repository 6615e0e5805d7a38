package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stakegate/stakegate/pkg/errkind"
)

func fastPolicy(attempts int) Policy {
	return Policy{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := fastPolicy(5).Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errkind.New(errkind.Transient, "rate limited")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestDo_GivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	err := fastPolicy(3).Do(context.Background(), func() error {
		calls++
		return errkind.New(errkind.Transient, "still down")
	})
	require.Error(t, err)
	require.Equal(t, 3, calls)
	require.True(t, errkind.IsTransient(err))
	require.ErrorContains(t, err, "giving up after 3 attempts")
}

func TestDo_PolicyFailuresAreNotRetried(t *testing.T) {
	calls := 0
	declined := errkind.New(errkind.UserDeclined, "signature rejected")
	err := fastPolicy(5).Do(context.Background(), func() error {
		calls++
		return declined
	})
	require.ErrorIs(t, err, declined)
	require.Equal(t, 1, calls)
}

func TestDo_UnclassifiedErrorsAreNotRetried(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	err := fastPolicy(5).Do(context.Background(), func() error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, calls)
}

func TestDo_ContextCancelStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Policy{MaxAttempts: 10, BaseDelay: time.Hour}.Do(ctx, func() error {
		calls++
		cancel()
		return errkind.New(errkind.Transient, "down")
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}

func TestDelay_CappedByMaxDelay(t *testing.T) {
	p := Policy{MaxAttempts: 10, BaseDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond}
	for attempt := 1; attempt < 10; attempt++ {
		require.LessOrEqual(t, p.delay(attempt), 300*time.Millisecond)
	}
}
