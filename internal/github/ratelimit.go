package github

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// rateLimitTracker keeps the latest X-RateLimit-* state seen on
// responses. Before a request is sent it blocks until the reset window
// when the remaining budget is known to be zero.
type rateLimitTracker struct {
	mu        sync.Mutex
	remaining int
	reset     time.Time
	known     bool
	now       func() time.Time
}

func newRateLimitTracker(now func() time.Time) *rateLimitTracker {
	if now == nil {
		now = time.Now
	}
	return &rateLimitTracker{now: now}
}

func (t *rateLimitTracker) update(header http.Header) {
	remainingStr := header.Get("X-RateLimit-Remaining")
	resetStr := header.Get("X-RateLimit-Reset")
	if remainingStr == "" || resetStr == "" {
		return
	}
	remaining, err := strconv.Atoi(remainingStr)
	if err != nil {
		return
	}
	resetUnix, err := strconv.ParseInt(resetStr, 10, 64)
	if err != nil {
		return
	}

	t.mu.Lock()
	t.remaining = remaining
	t.reset = time.Unix(resetUnix, 0)
	t.known = true
	t.mu.Unlock()
}

// wait returns an error only if ctx ends while waiting.
func (t *rateLimitTracker) wait(ctx context.Context) error {
	t.mu.Lock()
	if !t.known || t.remaining > 0 {
		t.mu.Unlock()
		return nil
	}
	d := t.reset.Sub(t.now())
	t.mu.Unlock()
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// retryAfter derives a backoff from a rate-limited response: Retry-After
// (secondary limits) first, then X-RateLimit-Reset. Zero when neither is usable.
func (t *rateLimitTracker) retryAfter(header http.Header) time.Duration {
	if v := header.Get("Retry-After"); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	if v := header.Get("X-RateLimit-Reset"); v != "" {
		if resetUnix, err := strconv.ParseInt(v, 10, 64); err == nil {
			if d := time.Unix(resetUnix, 0).Sub(t.now()); d > 0 {
				// A few seconds of slack so the window has actually rolled over.
				return d + 5*time.Second
			}
		}
	}
	return 0
}
