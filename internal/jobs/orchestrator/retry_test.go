package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xuan1250/Transfer2Read-sub004/internal/domain"
)

func fastPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		Backoff:    []time.Duration{time.Millisecond, 2 * time.Millisecond, 3 * time.Millisecond},
		JitterFrac: 0,
	}
}

func TestDoRetriesTransientExactlyMaxRetriesPlusOne(t *testing.T) {
	p := fastPolicy()
	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return domain.NewError(domain.KindProviderTransient, "rate limited")
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls != p.MaxRetries+1 {
		t.Fatalf("got %d attempts, want %d", calls, p.MaxRetries+1)
	}
	if domain.KindOf(err) != domain.KindProviderTransient {
		t.Fatalf("kind = %s, want PROVIDER_TRANSIENT", domain.KindOf(err))
	}
}

func TestDoEscalatesPermanentImmediately(t *testing.T) {
	p := fastPolicy()
	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return domain.NewError(domain.KindValidation, "unsupported input")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("got %d attempts, want 1", calls)
	}
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	p := fastPolicy()
	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return domain.NewError(domain.KindProviderTransient, "flaky")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("got %d attempts, want 3", calls)
	}
}

func TestDoUntypedErrorsAreRetried(t *testing.T) {
	p := fastPolicy()
	calls := 0
	_ = p.Do(context.Background(), func(context.Context) error {
		calls++
		return context.DeadlineExceeded
	})
	if calls != p.MaxRetries+1 {
		t.Fatalf("untyped error got %d attempts, want %d", calls, p.MaxRetries+1)
	}
}

func TestDoFailsFastWhenBackoffWouldExceedDeadline(t *testing.T) {
	p := Policy{
		MaxRetries: 3,
		Backoff:    []time.Duration{time.Hour},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	calls := 0
	start := time.Now()
	err := p.Do(ctx, func(context.Context) error {
		calls++
		return domain.NewError(domain.KindProviderTransient, "flaky")
	})
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Do slept past the deadline: %v", elapsed)
	}
	if calls != 1 {
		t.Fatalf("got %d attempts, want 1 before deadline check", calls)
	}
	if domain.KindOf(err) != domain.KindTimeout {
		t.Fatalf("kind = %s, want TIMEOUT", domain.KindOf(err))
	}
}

func TestDoDoesNotLabelCancellationAsTimeout(t *testing.T) {
	p := fastPolicy()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := p.Do(ctx, func(context.Context) error {
		calls++
		return domain.NewError(domain.KindProviderTransient, "flaky")
	})
	if calls != 0 {
		t.Fatalf("got %d attempts on a dead context, want 0", calls)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if domain.KindOf(err) == domain.KindTimeout {
		t.Fatal("cancellation reported as TIMEOUT")
	}
}

func TestDelayLadderBounds(t *testing.T) {
	p := DefaultPolicy()
	ladder := []time.Duration{1 * time.Second, 5 * time.Second, 15 * time.Second, 15 * time.Second}
	for attempt, base := range ladder {
		d := p.delay(attempt)
		low := time.Duration(float64(base) * (1 - p.JitterFrac))
		high := time.Duration(float64(base) * (1 + p.JitterFrac))
		if d < low || d > high {
			t.Fatalf("delay(%d) = %v outside [%v, %v]", attempt, d, low, high)
		}
	}
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	if p.MaxRetries != 3 {
		t.Fatalf("MaxRetries = %d, want 3", p.MaxRetries)
	}
	want := []time.Duration{1 * time.Second, 5 * time.Second, 15 * time.Second}
	for i, d := range want {
		if p.Backoff[i] != d {
			t.Fatalf("Backoff[%d] = %v, want %v", i, p.Backoff[i], d)
		}
	}
}
