package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func instant(ctx context.Context, d time.Duration) error { return ctx.Err() }

func TestDoRetriesUntilSuccess(t *testing.T) {
	t.Parallel()
	calls := 0
	err := Do(context.Background(), Policy{Max: 3, Sleep: instant}, func(ctx context.Context, attempt int) error {
		calls++
		if attempt < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestDoStopsOnNoRetry(t *testing.T) {
	t.Parallel()
	permanent := errors.New("bad request")
	calls := 0
	err := Do(context.Background(), Policy{Max: 5, Sleep: instant}, func(ctx context.Context, attempt int) error {
		calls++
		return NoRetry(permanent)
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("err = %v, want %v", err, permanent)
	}
	if IsNoRetry(err) {
		t.Fatal("returned error should be unwrapped from NoRetry")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestDoExhaustsBudget(t *testing.T) {
	t.Parallel()
	calls := 0
	err := Do(context.Background(), Policy{Max: 2, Sleep: instant}, func(ctx context.Context, attempt int) error {
		calls++
		return errors.New("still failing")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestDoHonorsCanceledContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := Do(ctx, Policy{Max: 3, Sleep: instant}, func(ctx context.Context, attempt int) error {
		calls++
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls != 0 {
		t.Fatalf("calls = %d, want 0", calls)
	}
}

func TestDelayBounds(t *testing.T) {
	t.Parallel()
	p := Policy{Base: time.Second, MaxDelay: 10 * time.Second, Jitter: 0.2}
	tests := []struct {
		name    string
		retry   int
		err     error
		min     time.Duration
		max     time.Duration
	}{
		{name: "first retry", retry: 1, min: 800 * time.Millisecond, max: 1200 * time.Millisecond},
		{name: "third retry", retry: 3, min: 3200 * time.Millisecond, max: 4800 * time.Millisecond},
		{name: "capped", retry: 10, min: 8 * time.Second, max: 10 * time.Second},
		{name: "hint", retry: 1, err: RetryAfter(errors.New("rl"), 5*time.Second), min: 4 * time.Second, max: 6 * time.Second},
		{name: "hint capped", retry: 1, err: RetryAfter(errors.New("rl"), time.Hour), min: 8 * time.Second, max: 10 * time.Second},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := Delay(p, tt.retry, tt.err)
			if got < tt.min || got > tt.max {
				t.Fatalf("Delay = %v, want within [%v, %v]", got, tt.min, tt.max)
			}
		})
	}
}
