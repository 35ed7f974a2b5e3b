package orchestrator

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/xuan1250/Transfer2Read-sub004/internal/domain"
)

// Policy wraps a stage invocation with bounded retries. Error classification
// happens here, at the stage boundary, never inside stage executors: errors
// whose kind is not retryable escalate immediately, retryable kinds get up
// to MaxRetries additional attempts on the backoff ladder.
type Policy struct {
	MaxRetries int
	// Backoff is the per-retry sleep ladder; the last entry repeats once
	// the ladder is exhausted.
	Backoff    []time.Duration
	JitterFrac float64
}

func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		Backoff:    []time.Duration{1 * time.Second, 5 * time.Second, 15 * time.Second},
		JitterFrac: 0.20,
	}
}

// StageFn is one attempt of a stage invocation.
type StageFn func(ctx context.Context) (*domain.StageOutput, error)

// Execute runs fn with the retry contract and returns its output.
func (p Policy) Execute(ctx context.Context, fn StageFn) (*domain.StageOutput, error) {
	var out *domain.StageOutput
	err := p.Do(ctx, func(c context.Context) error {
		var ferr error
		out, ferr = fn(c)
		return ferr
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Do runs fn with the retry contract: a permanently-transient fn is invoked
// exactly MaxRetries+1 times. A backoff sleep that would overrun the context
// deadline fails fast with TIMEOUT instead of sleeping past it.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			if errors.Is(cerr, context.DeadlineExceeded) {
				return domain.WrapError(domain.KindTimeout, "deadline exceeded before attempt", cerr)
			}
			return cerr
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !domain.KindOf(err).Retryable() {
			return err
		}
		if attempt == p.MaxRetries {
			break
		}
		delay := p.delay(attempt)
		if dl, ok := ctx.Deadline(); ok && time.Now().Add(delay).After(dl) {
			return domain.WrapError(domain.KindTimeout, "backoff would exceed job deadline", err)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return domain.WrapError(domain.KindTimeout, "deadline exceeded during backoff", ctx.Err())
			}
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}

func (p Policy) delay(attempt int) time.Duration {
	if len(p.Backoff) == 0 {
		return 0
	}
	idx := attempt
	if idx >= len(p.Backoff) {
		idx = len(p.Backoff) - 1
	}
	base := p.Backoff[idx]
	j := p.JitterFrac
	if j <= 0 {
		return base
	}
	delta := float64(base) * j
	low := float64(base) - delta
	if low < 0 {
		low = 0
	}
	return time.Duration(low + rand.Float64()*2*delta)
}
