package services

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/xuan1250/Transfer2Read-sub004/internal/data/repos/jobs"
	"github.com/xuan1250/Transfer2Read-sub004/internal/platform/dbctx"
	"github.com/xuan1250/Transfer2Read-sub004/internal/platform/logger"
)

// countingRepo stubs only the method the quota gate touches.
type countingRepo struct {
	jobs.JobRepo
	active int64
	err    error
	calls  int
}

func (r *countingRepo) CountActiveForAccount(_ dbctx.Context, _ uuid.UUID) (int64, error) {
	r.calls++
	return r.active, r.err
}

func TestQuotaDisabledWhenLimitZero(t *testing.T) {
	repo := &countingRepo{active: 99}
	qs := NewQuotaService(nil, logger.NewNop(), repo, 0)

	ok, err := qs.MayProceed(context.Background(), uuid.New())
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v, want allowed", ok, err)
	}
	if repo.calls != 0 {
		t.Fatal("disabled gate should not hit the store")
	}
}

func TestQuotaAllowsAtLimit(t *testing.T) {
	// The job being gated is already QUEUED and counts itself, so active
	// equal to the limit is still within quota.
	repo := &countingRepo{active: 3}
	qs := NewQuotaService(nil, logger.NewNop(), repo, 3)

	ok, err := qs.MayProceed(context.Background(), uuid.New())
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v, want allowed at limit", ok, err)
	}
}

func TestQuotaDeniesOverLimit(t *testing.T) {
	repo := &countingRepo{active: 4}
	qs := NewQuotaService(nil, logger.NewNop(), repo, 3)

	ok, err := qs.MayProceed(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("over-limit account allowed")
	}
}

func TestQuotaPropagatesStoreError(t *testing.T) {
	storeErr := errors.New("connection reset")
	repo := &countingRepo{err: storeErr}
	qs := NewQuotaService(nil, logger.NewNop(), repo, 3)

	ok, err := qs.MayProceed(context.Background(), uuid.New())
	if ok || !errors.Is(err, storeErr) {
		t.Fatalf("ok=%v err=%v, want store error surfaced", ok, err)
	}
}
