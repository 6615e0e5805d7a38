// Package retry provides the single backoff policy used for transient RPC
// failures. Policy failures (declined signatures, insufficient funds) are
// never retried here, they bubble to the caller unchanged.
package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/stakegate/stakegate/pkg/errkind"
)

type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter adds up to this fraction of the delay, 0..1.
	Jitter float64
}

// DefaultPolicy suits provider rate limiting: a handful of attempts with
// sub-second initial spacing.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Jitter:      0.2,
	}
}

// Do runs fn, retrying while the returned error is classified transient and
// attempts remain. The last error is returned when attempts are exhausted.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(p.delay(attempt)):
			case <-ctx.Done():
				return fmt.Errorf("retry interrupted: %w", ctx.Err())
			}
		}
		if err = fn(); err == nil {
			return nil
		}
		if !errkind.IsTransient(err) {
			return err
		}
	}
	return fmt.Errorf("giving up after %d attempts: %w", attempts, err)
}

func (p Policy) delay(attempt int) time.Duration {
	delay := p.BaseDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			delay = p.MaxDelay
			break
		}
	}
	if p.Jitter > 0 {
		delay += time.Duration(rand.Int63n(int64(float64(delay)*p.Jitter) + 1))
	}
	return delay
}
