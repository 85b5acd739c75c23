package pos

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultRequestsPerMinute matches the documented vendor cap
	DefaultRequestsPerMinute = 200
	// DefaultRequestsPerSecond keeps short bursts under the vendor's burst cap
	DefaultRequestsPerSecond = 10
)

// RateLimiter enforces sliding-window caps on requests per minute and per
// second. It records a timestamp per admitted operation, prunes stamps older
// than each window, and when a cap is reached sleeps exactly until the oldest
// stamp exits its window. Instances are scoped per sync run; the mutex only
// covers the executor's worker goroutines inside that run.
type RateLimiter struct {
	mu        sync.Mutex
	perMinute int
	perSecond int
	minute    []time.Time
	second    []time.Time

	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	logger zerolog.Logger
}

// NewRateLimiter creates a limiter with the given caps. A cap of zero
// disables that window.
func NewRateLimiter(perMinute, perSecond int, logger zerolog.Logger) *RateLimiter {
	return &RateLimiter{
		perMinute: perMinute,
		perSecond: perSecond,
		now:       time.Now,
		sleep:     sleepContext,
		logger:    logger,
	}
}

// Wait blocks until the next operation may be admitted under both windows,
// then records its timestamp. Returns early if ctx is cancelled.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		rl.mu.Lock()
		now := rl.now()
		rl.minute = pruneBefore(rl.minute, now.Add(-time.Minute))
		rl.second = pruneBefore(rl.second, now.Add(-time.Second))

		var wait time.Duration
		if rl.perSecond > 0 && len(rl.second) >= rl.perSecond {
			wait = rl.second[0].Add(time.Second).Sub(now)
		}
		if rl.perMinute > 0 && len(rl.minute) >= rl.perMinute {
			if w := rl.minute[0].Add(time.Minute).Sub(now); w > wait {
				wait = w
			}
		}

		if wait <= 0 {
			rl.minute = append(rl.minute, now)
			rl.second = append(rl.second, now)
			rl.mu.Unlock()
			return nil
		}
		rl.mu.Unlock()

		rl.logger.Debug().
			Dur("wait", wait).
			Msg("Rate limit window full, sleeping")

		if err := rl.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// pruneBefore drops timestamps at or before the cutoff. Stamps are appended
// in order, so the slice stays sorted.
func pruneBefore(stamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(stamps) && !stamps[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return stamps
	}
	return append(stamps[:0:0], stamps[i:]...)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
