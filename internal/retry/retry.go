// Package retry runs an operation with jittered exponential backoff.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"
)

// Policy controls Do. Zero fields take defaults (see withDefaults).
type Policy struct {
	// Max is the number of retries after the first attempt. Negative disables retries.
	Max      int
	Base     time.Duration
	MaxDelay time.Duration
	Jitter   float64 // 0.2 = 20%

	// Sleep waits between attempts. Tests inject an instant sleeper.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (p Policy) withDefaults() Policy {
	if p.Max < 0 {
		p.Max = 0
	}
	if p.Base <= 0 {
		p.Base = time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.Jitter <= 0 {
		p.Jitter = 0.2
	}
	if p.Sleep == nil {
		p.Sleep = sleepCtx
	}
	return p
}

var (
	rngMu sync.Mutex
	rng   = rand.New(rand.NewSource(time.Now().UnixNano()))
)

func jitterFactor(j float64) float64 {
	rngMu.Lock()
	r := rng.Float64()
	rngMu.Unlock()
	return 1 + (r*2-1)*j
}

// Do calls fn until it succeeds, returns a NoRetry error, the retry budget is
// spent, or ctx is done. The attempt number passed to fn starts at 1.
// The returned error is the last error from fn (NoRetry wrappers removed).
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) error {
	p = p.withDefaults()
	maxAttempts := 1 + p.Max

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			if err != nil {
				return err
			}
			return cerr
		}
		err = fn(ctx, attempt)
		if err == nil {
			return nil
		}
		var nr noRetryError
		if errors.As(err, &nr) {
			return nr.err
		}
		if attempt >= maxAttempts {
			break
		}
		if serr := p.Sleep(ctx, Delay(p, attempt, err)); serr != nil {
			return err
		}
	}
	return err
}

// Delay returns the wait before retry number `retry` (1-based).
// Explicit RetryAfter hints win over the exponential schedule.
func Delay(p Policy, retry int, err error) time.Duration {
	p = p.withDefaults()

	var d time.Duration
	var ra RetryAfterError
	if err != nil && errors.As(err, &ra) {
		d = ra.RetryAfter()
	} else {
		d = p.Base
		for i := 1; i < retry; i++ {
			d *= 2
			if d > p.MaxDelay {
				d = p.MaxDelay
				break
			}
		}
	}
	if d > 0 {
		d = time.Duration(float64(d) * jitterFactor(p.Jitter))
	}
	if d < 0 {
		d = 0
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
