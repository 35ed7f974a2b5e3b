package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/xuan1250/Transfer2Read-sub004/internal/data/repos/jobs"
	"github.com/xuan1250/Transfer2Read-sub004/internal/domain"
	"github.com/xuan1250/Transfer2Read-sub004/internal/pipeline/convert"
	"github.com/xuan1250/Transfer2Read-sub004/internal/platform/dbctx"
	"github.com/xuan1250/Transfer2Read-sub004/internal/platform/logger"
	"github.com/xuan1250/Transfer2Read-sub004/internal/telemetry"
)

// JobView is the API-facing snapshot of a conversion job.
type JobView struct {
	ID          uuid.UUID             `json:"id"`
	AccountID   uuid.UUID             `json:"account_id"`
	Status      domain.Status         `json:"status"`
	Progress    int                   `json:"progress"`
	InputRef    string                `json:"input_ref"`
	SizeClass   string                `json:"size_class"`
	OutputRef   string                `json:"output_ref,omitempty"`
	OutputURL   string                `json:"output_url,omitempty"`
	ErrorKind   string                `json:"error_kind,omitempty"`
	ErrorDetail string                `json:"error_detail,omitempty"`
	Report      *domain.QualityReport `json:"quality_report,omitempty"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
	CompletedAt *time.Time            `json:"completed_at,omitempty"`
}

type SubmitRequest struct {
	AccountID uuid.UUID `json:"account_id"`
	InputRef  string    `json:"input_ref"`
	SizeClass string    `json:"size_class"`
}

// JobService is the write path for conversion jobs: submission, lookup and
// cancellation. Execution belongs to the worker.
type JobService interface {
	Submit(ctx context.Context, req SubmitRequest) (*JobView, error)
	GetByID(ctx context.Context, id uuid.UUID) (*JobView, error)
	RequestCancel(ctx context.Context, id uuid.UUID) (*JobView, error)
}

// ArtifactURLs resolves a storage ref to its externally reachable URL.
type ArtifactURLs interface {
	PublicURL(ref string) string
}

type jobService struct {
	db      *gorm.DB
	log     *logger.Logger
	jobRepo jobs.JobRepo
	sink    telemetry.Sink
	urls    ArtifactURLs
}

func NewJobService(db *gorm.DB, log *logger.Logger, jobRepo jobs.JobRepo, sink telemetry.Sink, urls ArtifactURLs) JobService {
	return &jobService{
		db:      db,
		log:     log.With("service", "JobService"),
		jobRepo: jobRepo,
		sink:    sink,
		urls:    urls,
	}
}

func (js *jobService) Submit(ctx context.Context, req SubmitRequest) (*JobView, error) {
	if req.AccountID == uuid.Nil {
		return nil, domain.NewError(domain.KindValidation, "account_id is required")
	}
	if strings.TrimSpace(req.InputRef) == "" {
		return nil, domain.NewError(domain.KindValidation, "input_ref is required")
	}
	sizeClass := req.SizeClass
	switch sizeClass {
	case "":
		sizeClass = domain.SizeClassSimple
	case domain.SizeClassSimple, domain.SizeClassComplex:
	default:
		return nil, domain.NewError(domain.KindValidation, "size_class must be simple or complex")
	}

	job := &domain.ConversionJob{
		ID:        uuid.New(),
		AccountID: req.AccountID,
		Status:    string(domain.StatusQueued),
		Progress:  0,
		InputRef:  strings.TrimSpace(req.InputRef),
		SizeClass: sizeClass,
	}
	job, err := js.jobRepo.Create(dbctx.Context{Ctx: ctx, Tx: js.db}, job)
	if err != nil {
		return nil, domain.WrapError(domain.KindStorageFailure, "create conversion job", err)
	}

	js.log.Info("Job submitted", "job_id", job.ID, "account_id", job.AccountID, "size_class", sizeClass)
	return js.view(job), nil
}

func (js *jobService) GetByID(ctx context.Context, id uuid.UUID) (*JobView, error) {
	job, err := js.jobRepo.GetByID(dbctx.Context{Ctx: ctx, Tx: js.db}, id)
	if err != nil {
		return nil, err
	}
	return js.view(job), nil
}

// RequestCancel flags the job; the worker performs the actual transition at
// the next stage boundary. Cancelling a terminal job returns the job
// unchanged.
func (js *jobService) RequestCancel(ctx context.Context, id uuid.UUID) (*JobView, error) {
	dbc := dbctx.Context{Ctx: ctx, Tx: js.db}
	job, err := js.jobRepo.GetByID(dbc, id)
	if err != nil {
		return nil, err
	}
	if job.CurrentStatus().Terminal() {
		return js.view(job), nil
	}

	if _, err := js.jobRepo.RequestCancel(dbc, id); err != nil {
		return nil, domain.WrapError(domain.KindStorageFailure, "request cancel", err)
	}

	// A QUEUED job has no worker to observe the flag, so it transitions
	// here instead of at a stage boundary. The guard keeps the update from
	// clobbering a job a worker claimed in the meantime.
	if job.CurrentStatus() == domain.StatusQueued {
		notQueued := []string{
			string(domain.StatusAnalyzing),
			string(domain.StatusExtracting),
			string(domain.StatusStructuring),
			string(domain.StatusRendering),
			string(domain.StatusScoring),
		}
		notQueued = append(notQueued, domain.TerminalStatuses()...)
		_, err := js.jobRepo.UpdateFieldsUnlessStatus(dbc, id, notQueued, map[string]interface{}{
			"status":       string(domain.StatusCancelled),
			"completed_at": time.Now().UTC(),
		})
		if err != nil {
			return nil, domain.WrapError(domain.KindStorageFailure, "cancel queued job", err)
		}
	}

	job, err = js.jobRepo.GetByID(dbc, id)
	if err != nil {
		return nil, err
	}
	if job.CurrentStatus() == domain.StatusCancelled {
		if perr := js.sink.Publish(ctx, telemetry.Event{
			Type:      telemetry.EventCancelled,
			JobID:     job.ID,
			AccountID: job.AccountID,
			Status:    job.CurrentStatus(),
			Progress:  job.Progress,
			At:        time.Now().UTC(),
		}); perr != nil {
			js.log.Warn("Telemetry publish failed", "job_id", id, "error", perr)
		}
	}
	js.log.Info("Cancellation requested", "job_id", id, "status", job.Status)
	return js.view(job), nil
}

func (js *jobService) view(job *domain.ConversionJob) *JobView {
	v := &JobView{
		ID:          job.ID,
		AccountID:   job.AccountID,
		Status:      job.CurrentStatus(),
		Progress:    job.Progress,
		InputRef:    job.InputRef,
		SizeClass:   job.SizeClass,
		ErrorKind:   job.ErrorKind,
		ErrorDetail: job.ErrorDetail,
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
		CompletedAt: job.CompletedAt,
	}
	if job.CurrentStatus() == domain.StatusCompleted {
		if outputs, err := job.Outputs(); err == nil {
			for _, out := range outputs {
				if out.Stage == convert.StageRender {
					v.OutputRef = out.Ref
					if js.urls != nil && out.Ref != "" {
						v.OutputURL = js.urls.PublicURL(out.Ref)
					}
				}
			}
		}
		if report, err := job.Report(); err == nil {
			v.Report = report
		}
	}
	return v
}
