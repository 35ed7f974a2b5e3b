package services

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/xuan1250/Transfer2Read-sub004/internal/data/repos/jobs"
	"github.com/xuan1250/Transfer2Read-sub004/internal/platform/dbctx"
	"github.com/xuan1250/Transfer2Read-sub004/internal/platform/logger"
)

// QuotaService bounds concurrent conversions per account. A limit of zero
// or below disables the gate entirely.
type QuotaService interface {
	MayProceed(ctx context.Context, accountID uuid.UUID) (bool, error)
}

type quotaService struct {
	db      *gorm.DB
	log     *logger.Logger
	jobRepo jobs.JobRepo
	limit   int
}

func NewQuotaService(db *gorm.DB, log *logger.Logger, jobRepo jobs.JobRepo, maxActivePerAccount int) QuotaService {
	return &quotaService{
		db:      db,
		log:     log.With("service", "QuotaService"),
		jobRepo: jobRepo,
		limit:   maxActivePerAccount,
	}
}

func (qs *quotaService) MayProceed(ctx context.Context, accountID uuid.UUID) (bool, error) {
	if qs.limit <= 0 {
		return true, nil
	}
	active, err := qs.jobRepo.CountActiveForAccount(dbctx.Context{Ctx: ctx, Tx: qs.db}, accountID)
	if err != nil {
		return false, err
	}
	if active > int64(qs.limit) {
		qs.log.Warn("Account over conversion quota", "account_id", accountID, "active", active, "limit", qs.limit)
		return false, nil
	}
	return true, nil
}
