package poller

import (
	"context"
	"math/rand/v2"
	"time"
)

// Backoff produces randomized exponential waits bounded by Min and Max
type Backoff struct {
	Min time.Duration
	Max time.Duration

	// rand returns a value in [0, n); nil means math/rand/v2
	rand func(n int64) int64
}

// Duration returns the wait before retry number attempt (0-based). The ceiling
// doubles with each attempt up to Max and the wait is drawn uniformly between
// Min and the ceiling.
func (b Backoff) Duration(attempt int) time.Duration {
	lo, hi := b.Min, b.Max
	if lo <= 0 {
		lo = time.Second
	}
	if hi < lo {
		hi = lo
	}

	ceiling := lo
	for i := 0; i < attempt && ceiling < hi; i++ {
		ceiling *= 2
	}
	if ceiling > hi {
		ceiling = hi
	}

	span := int64(ceiling - lo)
	if span <= 0 {
		return lo
	}
	r := b.rand
	if r == nil {
		r = rand.Int64N
	}
	return lo + time.Duration(r(span+1))
}

// sleep waits for d or until ctx is done
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
