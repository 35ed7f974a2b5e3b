package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/xuan1250/Transfer2Read-sub004/internal/data/repos/jobs"
	"github.com/xuan1250/Transfer2Read-sub004/internal/domain"
	"github.com/xuan1250/Transfer2Read-sub004/internal/platform/dbctx"
)

// memRepo is an in-memory JobRepo with the same guarded-update semantics as
// the database implementation.
type memRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*domain.ConversionJob
}

func newMemRepo() *memRepo {
	return &memRepo{rows: make(map[uuid.UUID]*domain.ConversionJob)}
}

func dbc() dbctx.Context {
	return dbctx.Context{Ctx: context.Background()}
}

func (r *memRepo) Create(_ dbctx.Context, job *domain.ConversionJob) (*domain.ConversionJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *job
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	cp.UpdatedAt = time.Now()
	r.rows[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (r *memRepo) GetByID(_ dbctx.Context, id uuid.UUID) (*domain.ConversionJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return nil, jobs.ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (r *memRepo) ClaimNextRunnable(_ dbctx.Context, maxAttempts int, staleRunning time.Duration) (*domain.ConversionJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for _, row := range r.rows {
		if row.Attempts >= maxAttempts {
			continue
		}
		runnable := row.Status == string(domain.StatusQueued)
		if !runnable && !domain.Status(row.Status).Terminal() {
			runnable = row.HeartbeatAt == nil || now.Sub(*row.HeartbeatAt) > staleRunning
		}
		if !runnable {
			continue
		}
		row.Attempts++
		row.LockedAt = &now
		row.HeartbeatAt = &now
		cp := *row
		return &cp, nil
	}
	return nil, nil
}

func (r *memRepo) UpdateFields(_ dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return jobs.ErrNotFound
	}
	applyUpdates(row, updates)
	return nil
}

func (r *memRepo) UpdateFieldsUnlessStatus(_ dbctx.Context, id uuid.UUID, disallowed []string, updates map[string]interface{}) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return false, jobs.ErrNotFound
	}
	for _, s := range disallowed {
		if row.Status == s {
			return false, nil
		}
	}
	applyUpdates(row, updates)
	return true, nil
}

func (r *memRepo) RequestCancel(_ dbctx.Context, id uuid.UUID) (*domain.ConversionJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return nil, jobs.ErrNotFound
	}
	if !domain.Status(row.Status).Terminal() {
		row.CancelRequested = true
	}
	cp := *row
	return &cp, nil
}

func (r *memRepo) Heartbeat(_ dbctx.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return jobs.ErrNotFound
	}
	now := time.Now()
	row.HeartbeatAt = &now
	return nil
}

func (r *memRepo) CountActiveForAccount(_ dbctx.Context, accountID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, row := range r.rows {
		if row.AccountID == accountID && !domain.Status(row.Status).Terminal() {
			n++
		}
	}
	return n, nil
}

func (r *memRepo) setCancelFlag(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[id].CancelRequested = true
}

func applyUpdates(row *domain.ConversionJob, updates map[string]interface{}) {
	for key, val := range updates {
		switch key {
		case "status":
			row.Status = val.(string)
		case "progress":
			row.Progress = val.(int)
		case "stage_outputs":
			row.StageOutputs = val.(datatypes.JSON)
		case "quality_report":
			row.QualityReport = val.(datatypes.JSON)
		case "error_kind":
			row.ErrorKind = val.(string)
		case "error_detail":
			row.ErrorDetail = val.(string)
		case "cancel_requested":
			row.CancelRequested = val.(bool)
		case "attempts":
			row.Attempts = val.(int)
		case "heartbeat_at":
			t := val.(time.Time)
			row.HeartbeatAt = &t
		case "last_error_at":
			t := val.(time.Time)
			row.LastErrorAt = &t
		case "completed_at":
			t := val.(time.Time)
			row.CompletedAt = &t
		case "locked_at":
			if val == nil {
				row.LockedAt = nil
			} else {
				t := val.(time.Time)
				row.LockedAt = &t
			}
		case "updated_at":
			row.UpdatedAt = val.(time.Time)
		}
	}
}

// allowAll is a quota gate that always admits.
type allowAll struct{}

func (allowAll) MayProceed(context.Context, uuid.UUID) (bool, error) { return true, nil }

// denyAll is a quota gate that always rejects.
type denyAll struct{}

func (denyAll) MayProceed(context.Context, uuid.UUID) (bool, error) { return false, nil }
