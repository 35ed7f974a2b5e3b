package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/xuan1250/Transfer2Read-sub004/internal/data/repos/jobs"
	"github.com/xuan1250/Transfer2Read-sub004/internal/domain"
	"github.com/xuan1250/Transfer2Read-sub004/internal/jobs/runtime"
	"github.com/xuan1250/Transfer2Read-sub004/internal/platform/dbctx"
	"github.com/xuan1250/Transfer2Read-sub004/internal/platform/logger"
	"github.com/xuan1250/Transfer2Read-sub004/internal/telemetry"
)

// Stage is one ordered unit of the conversion pipeline.
type Stage struct {
	Name   string
	Status domain.Status
	Run    func(ctx context.Context, job *domain.ConversionJob, prior []domain.StageOutput) (*domain.StageOutput, error)
	// Routed stages manage their own retry budget (the provider router
	// retries each provider independently); the orchestrator does not wrap
	// them again.
	Routed bool
}

// FinalizeFunc assembles the quality report from the accumulated stage
// outputs after the last stage succeeds.
type FinalizeFunc func(outputs []domain.StageOutput) (*domain.QualityReport, error)

// QuotaGate is consulted exactly once before the QUEUED->ANALYZING
// transition. Tier logic lives with the external collaborator.
type QuotaGate interface {
	MayProceed(ctx context.Context, accountID uuid.UUID) (bool, error)
}

// Budgets are the global wall-clock deadlines per document size class.
type Budgets struct {
	Simple  time.Duration
	Complex time.Duration
}

func (b Budgets) For(sizeClass string) time.Duration {
	if sizeClass == domain.SizeClassComplex {
		return b.Complex
	}
	return b.Simple
}

// Orchestrator drives a single job through the fixed stage sequence,
// persisting every transition before moving on. One Run per job; stages are
// strictly sequential within a run.
type Orchestrator struct {
	log      *logger.Logger
	repo     jobs.JobRepo
	quota    QuotaGate
	sink     telemetry.Sink
	stages   []Stage
	finalize FinalizeFunc
	policy   Policy
	budgets  Budgets
}

func New(
	baseLog *logger.Logger,
	repo jobs.JobRepo,
	quota QuotaGate,
	sink telemetry.Sink,
	stages []Stage,
	finalize FinalizeFunc,
	policy Policy,
	budgets Budgets,
) *Orchestrator {
	return &Orchestrator{
		log:      baseLog.With("component", "Orchestrator"),
		repo:     repo,
		quota:    quota,
		sink:     sink,
		stages:   stages,
		finalize: finalize,
		policy:   policy,
		budgets:  budgets,
	}
}

/*
Run executes the pipeline for one job and returns its terminal status.

Contract:
  - A job already terminal is a no-op; the existing status returns
    immediately with zero stage executions.
  - Cancellation is cooperative: the request flag is checked at stage
    boundaries only, so a cancel takes effect within one stage duration.
  - The global deadline is fixed at run start from the job's size class;
    it is checked before each stage and before each retry sleep, and a
    stage still in flight when it expires is abandoned, not awaited.
  - Resume after a crash skips stages whose output is already persisted
    (at-least-once stage execution; executors are idempotent).
*/
func (o *Orchestrator) Run(ctx context.Context, jobID uuid.UUID) (domain.Status, error) {
	job, err := o.repo.GetByID(dbctx.Context{Ctx: ctx}, jobID)
	if err != nil {
		return "", err
	}
	if job.CurrentStatus().Terminal() {
		return job.CurrentStatus(), nil
	}

	rc := runtime.NewContext(ctx, o.repo, job, o.sink, o.log)

	if job.CurrentStatus() == domain.StatusQueued {
		allowed, qerr := o.quota.MayProceed(ctx, job.AccountID)
		if qerr != nil {
			rc.Fail("quota", domain.KindStorageFailure, qerr)
			return domain.StatusFailed, nil
		}
		if !allowed {
			rc.Fail("quota", domain.KindValidation, domain.NewError(domain.KindValidation, "account usage limit reached"))
			return domain.StatusFailed, nil
		}
	}

	deadline := time.Now().Add(o.budgets.For(job.SizeClass))
	dctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	tracer := otel.Tracer("orchestrator")

	for _, st := range o.stages {
		if err := rc.Reload(); err != nil {
			rc.Fail(st.Name, domain.KindStorageFailure, err)
			return domain.StatusFailed, nil
		}
		if rc.Job.CancelRequested {
			rc.Cancel(st.Name)
			return domain.StatusCancelled, nil
		}
		if time.Now().After(deadline) {
			rc.Fail(st.Name, domain.KindTimeout, domain.NewError(domain.KindTimeout, "job deadline exceeded"))
			return domain.StatusFailed, nil
		}
		if rc.Job.HasStageOutput(st.Name) {
			continue
		}

		if err := rc.Progress(st.Status, "Running "+st.Name); err != nil {
			rc.Fail(st.Name, domain.KindStorageFailure, err)
			return domain.StatusFailed, nil
		}

		prior, perr := rc.Job.Outputs()
		if perr != nil {
			rc.Fail(st.Name, domain.KindStorageFailure, perr)
			return domain.StatusFailed, nil
		}

		sctx, span := tracer.Start(dctx, "stage."+st.Name,
			trace.WithAttributes(
				attribute.String("job.id", jobID.String()),
				attribute.String("job.stage", st.Name),
			))
		out, err := o.invoke(sctx, st, rc.Job, prior)
		span.End()
		if err != nil {
			// A shutdown interruption is not a job fault: leave the row
			// mid-pipeline so the stale-heartbeat reclaim resumes it.
			if errors.Is(err, context.Canceled) {
				o.log.Warn("Run interrupted, job stays claimable", "job_id", jobID, "stage", st.Name)
				return rc.Job.CurrentStatus(), err
			}
			kind := domain.KindOf(err)
			o.log.Warn("Stage failed", "job_id", jobID, "stage", st.Name, "kind", kind, "error", err)
			rc.Fail(st.Name, kind, err)
			return domain.StatusFailed, nil
		}
		out.Stage = st.Name
		if out.CompletedAt.IsZero() {
			out.CompletedAt = time.Now().UTC()
		}
		if err := rc.AppendStageOutput(*out); err != nil {
			rc.Fail(st.Name, domain.KindStorageFailure, err)
			return domain.StatusFailed, nil
		}
	}

	outputs, err := rc.Job.Outputs()
	if err != nil {
		rc.Fail("finalize", domain.KindStorageFailure, err)
		return domain.StatusFailed, nil
	}
	report, err := o.finalize(outputs)
	if err != nil {
		rc.Fail("finalize", domain.KindOf(err), err)
		return domain.StatusFailed, nil
	}
	rc.Complete(report)
	return domain.StatusCompleted, nil
}

// invoke runs one stage under the job deadline. The executor runs in its
// own goroutine so an expired deadline abandons it instead of waiting out
// the call.
func (o *Orchestrator) invoke(ctx context.Context, st Stage, job *domain.ConversionJob, prior []domain.StageOutput) (*domain.StageOutput, error) {
	run := func(c context.Context) (*domain.StageOutput, error) {
		return st.Run(c, job, prior)
	}
	exec := func() (*domain.StageOutput, error) {
		if st.Routed {
			return run(ctx)
		}
		return o.policy.Execute(ctx, run)
	}

	type result struct {
		out *domain.StageOutput
		err error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				o.log.Error("Stage panic", "job_id", job.ID, "stage", st.Name, "panic", r)
				ch <- result{err: domain.NewError(domain.KindProviderPermanent, fmt.Sprintf("stage %s panicked: %v", st.Name, r))}
			}
		}()
		out, err := exec()
		ch <- result{out: out, err: err}
	}()

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, domain.WrapError(domain.KindTimeout, "stage "+st.Name+" abandoned at deadline", ctx.Err())
		}
		// Parent context cancelled: process shutdown, not a job fault.
		return nil, ctx.Err()
	case r := <-ch:
		return r.out, r.err
	}
}
