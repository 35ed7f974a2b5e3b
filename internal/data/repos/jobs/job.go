package jobs

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/xuan1250/Transfer2Read-sub004/internal/domain"
	"github.com/xuan1250/Transfer2Read-sub004/internal/platform/dbctx"
	"github.com/xuan1250/Transfer2Read-sub004/internal/platform/logger"
)

// ErrNotFound is returned when a job id does not exist.
var ErrNotFound = errors.New("job not found")

// JobRepo is the durable state store for conversion jobs. Row updates are
// atomic full-field writes; the orchestrator never advances to the next
// stage until a write has returned.
type JobRepo interface {
	Create(dbc dbctx.Context, job *domain.ConversionJob) (*domain.ConversionJob, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.ConversionJob, error)
	// ClaimNextRunnable picks one runnable job and bumps its claim
	// bookkeeping (SKIP LOCKED). Runnable means QUEUED, or mid-pipeline
	// with a stale heartbeat (crashed worker), attempts permitting. A
	// cancel-requested job stays claimable: the orchestrator's first
	// boundary check is what performs the CANCELLED transition, so
	// filtering the flag here would strand the job non-terminal.
	ClaimNextRunnable(dbc dbctx.Context, maxAttempts int, staleRunning time.Duration) (*domain.ConversionJob, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	// UpdateFieldsUnlessStatus applies updates only when the row's status is
	// not in disallowedStatuses. Returns false when the guard rejected it.
	UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowedStatuses []string, updates map[string]interface{}) (bool, error)
	// RequestCancel sets the cancel flag. No-op on terminal jobs; the
	// orchestrator performs the actual CANCELLED transition at the next
	// stage boundary.
	RequestCancel(dbc dbctx.Context, id uuid.UUID) (*domain.ConversionJob, error)
	Heartbeat(dbc dbctx.Context, id uuid.UUID) error
	CountActiveForAccount(dbc dbctx.Context, accountID uuid.UUID) (int64, error)
}

type jobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobRepo(db *gorm.DB, baseLog *logger.Logger) JobRepo {
	return &jobRepo{
		db:  db,
		log: baseLog.With("repo", "JobRepo"),
	}
}

func (r *jobRepo) conn(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *jobRepo) Create(dbc dbctx.Context, job *domain.ConversionJob) (*domain.ConversionJob, error) {
	if job == nil {
		return nil, errors.New("nil job")
	}
	if err := r.conn(dbc).WithContext(dbc.Ctx).Create(job).Error; err != nil {
		return nil, err
	}
	return job, nil
}

func (r *jobRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.ConversionJob, error) {
	if id == uuid.Nil {
		return nil, ErrNotFound
	}
	var job domain.ConversionJob
	err := r.conn(dbc).WithContext(dbc.Ctx).
		Where("id = ?", id).
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *jobRepo) ClaimNextRunnable(dbc dbctx.Context, maxAttempts int, staleRunning time.Duration) (*domain.ConversionJob, error) {
	now := time.Now()
	staleCutoff := now.Add(-staleRunning)
	running := []string{
		string(domain.StatusAnalyzing),
		string(domain.StatusExtracting),
		string(domain.StatusStructuring),
		string(domain.StatusRendering),
		string(domain.StatusScoring),
	}
	var claimed *domain.ConversionJob
	err := r.conn(dbc).WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		var job domain.ConversionJob
		q := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where(`
        (
          status = ?
          OR (
            status IN ?
            AND heartbeat_at IS NOT NULL
            AND heartbeat_at < ?
          )
        )
        AND attempts < ?
      `, string(domain.StatusQueued), running, staleCutoff, maxAttempts).
			Order("created_at ASC")
		qErr := q.First(&job).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		uErr := txx.Model(&domain.ConversionJob{}).
			Where("id = ?", job.ID).
			Updates(map[string]interface{}{
				"attempts":     gorm.Expr("attempts + 1"),
				"locked_at":    now,
				"heartbeat_at": now,
				"updated_at":   now,
			}).Error
		if uErr != nil {
			return uErr
		}
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *jobRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return r.conn(dbc).WithContext(dbc.Ctx).
		Model(&domain.ConversionJob{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *jobRepo) UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowedStatuses []string, updates map[string]interface{}) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	q := r.conn(dbc).WithContext(dbc.Ctx).
		Model(&domain.ConversionJob{}).
		Where("id = ?", id)
	if len(disallowedStatuses) > 0 {
		q = q.Where("status NOT IN ?", disallowedStatuses)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *jobRepo) RequestCancel(dbc dbctx.Context, id uuid.UUID) (*domain.ConversionJob, error) {
	job, err := r.GetByID(dbc, id)
	if err != nil {
		return nil, err
	}
	if job.CurrentStatus().Terminal() {
		return job, nil
	}
	now := time.Now().UTC()
	ok, err := r.UpdateFieldsUnlessStatus(dbc, id, domain.TerminalStatuses(), map[string]interface{}{
		"cancel_requested": true,
		"updated_at":       now,
	})
	if err != nil {
		return nil, err
	}
	if ok {
		job.CancelRequested = true
		job.UpdatedAt = now
	}
	return job, nil
}

func (r *jobRepo) Heartbeat(dbc dbctx.Context, id uuid.UUID) error {
	now := time.Now()
	return r.UpdateFields(dbc, id, map[string]interface{}{
		"heartbeat_at": now,
		"updated_at":   now,
	})
}

func (r *jobRepo) CountActiveForAccount(dbc dbctx.Context, accountID uuid.UUID) (int64, error) {
	if accountID == uuid.Nil {
		return 0, nil
	}
	var n int64
	err := r.conn(dbc).WithContext(dbc.Ctx).
		Model(&domain.ConversionJob{}).
		Where("account_id = ? AND status NOT IN ?", accountID, domain.TerminalStatuses()).
		Count(&n).Error
	if err != nil {
		return 0, err
	}
	return n, nil
}
