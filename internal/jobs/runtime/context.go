package runtime

import (
	"context"
	"time"

	"github.com/xuan1250/Transfer2Read-sub004/internal/data/repos/jobs"
	"github.com/xuan1250/Transfer2Read-sub004/internal/domain"
	"github.com/xuan1250/Transfer2Read-sub004/internal/platform/dbctx"
	"github.com/xuan1250/Transfer2Read-sub004/internal/platform/logger"
	"github.com/xuan1250/Transfer2Read-sub004/internal/telemetry"
)

/*
Context is the execution handle for one claimed conversion job. It wraps:
  - the job row in memory,
  - the state store,
  - the telemetry side channel,
  - and the only sanctioned ways to report progress or terminate the run.

Stage executors never touch it; all persistence goes through the
orchestrator, which owns exactly one Context per run (single-writer
discipline). Terminal transitions are guarded in storage so a job reaches
its terminal status exactly once.
*/
type Context struct {
	Ctx  context.Context
	Repo jobs.JobRepo
	Job  *domain.ConversionJob
	Sink telemetry.Sink
	Log  *logger.Logger
}

// State-store writes are retried with their own bounded attempts before the
// failure escalates as STORAGE_FAILURE.
const (
	saveAttempts = 3
	saveDelay    = 200 * time.Millisecond
)

func NewContext(ctx context.Context, repo jobs.JobRepo, job *domain.ConversionJob, sink telemetry.Sink, baseLog *logger.Logger) *Context {
	return &Context{
		Ctx:  ctx,
		Repo: repo,
		Job:  job,
		Sink: sink,
		Log:  baseLog.With("component", "JobRuntime", "job_id", job.ID),
	}
}

// Reload refreshes the in-memory job from storage. Called at every stage
// boundary so cancel requests are observed.
func (c *Context) Reload() error {
	job, err := c.getWithRetry()
	if err != nil {
		return domain.WrapError(domain.KindStorageFailure, "reload job", err)
	}
	c.Job = job
	return nil
}

/*
Progress transitions the job to a running status and persists the canonical
progress for it. Guarded so a terminal row is never overwritten; the
in-memory job and the telemetry sink are updated to match.
*/
func (c *Context) Progress(status domain.Status, msg string) error {
	pct, ok := domain.ProgressFor(status)
	if !ok {
		pct = c.Job.Progress
	}
	now := time.Now()
	saveErr := c.saveWithRetry(domain.TerminalStatuses(), map[string]interface{}{
		"status":       string(status),
		"progress":     pct,
		"heartbeat_at": now,
		"updated_at":   now,
	})
	if saveErr != nil {
		return domain.WrapError(domain.KindStorageFailure, "persist progress", saveErr)
	}

	c.Job.Status = string(status)
	c.Job.Progress = pct
	c.Job.HeartbeatAt = &now
	c.Job.UpdatedAt = now

	c.publish(telemetry.Event{
		Type:      telemetry.EventProgress,
		JobID:     c.Job.ID,
		AccountID: c.Job.AccountID,
		Status:    status,
		Progress:  pct,
		Message:   msg,
		At:        now,
	})
	return nil
}

// AppendStageOutput grows the append-only output list. Existing entries are
// never mutated or truncated.
func (c *Context) AppendStageOutput(out domain.StageOutput) error {
	outs, err := c.Job.Outputs()
	if err != nil {
		return domain.WrapError(domain.KindStorageFailure, "decode stage outputs", err)
	}
	outs = append(outs, out)
	encoded, err := domain.EncodeStageOutputs(outs)
	if err != nil {
		return domain.WrapError(domain.KindStorageFailure, "encode stage outputs", err)
	}
	now := time.Now()
	saveErr := c.saveWithRetry(domain.TerminalStatuses(), map[string]interface{}{
		"stage_outputs": encoded,
		"heartbeat_at":  now,
		"updated_at":    now,
	})
	if saveErr != nil {
		return domain.WrapError(domain.KindStorageFailure, "persist stage output", saveErr)
	}
	c.Job.StageOutputs = encoded
	c.Job.HeartbeatAt = &now
	c.Job.UpdatedAt = now
	return nil
}

/*
Complete marks the job terminally COMPLETED with progress 100 and the
assembled quality report, then emits the final progress and cost events.
*/
func (c *Context) Complete(report *domain.QualityReport) {
	encoded, err := domain.EncodeQualityReport(report)
	if err != nil {
		c.Fail("finalize", domain.KindStorageFailure, err)
		return
	}
	now := time.Now()
	saveErr := c.saveWithRetry(domain.TerminalStatuses(), map[string]interface{}{
		"status":         string(domain.StatusCompleted),
		"progress":       100,
		"quality_report": encoded,
		"completed_at":   now,
		"locked_at":      nil,
		"updated_at":     now,
	})
	if saveErr != nil {
		c.Log.Error("Persist COMPLETED failed", "error", saveErr)
		return
	}
	c.Job.Status = string(domain.StatusCompleted)
	c.Job.Progress = 100
	c.Job.QualityReport = encoded
	c.Job.CompletedAt = &now
	c.Job.LockedAt = nil
	c.Job.UpdatedAt = now

	tokens := report.Tokens
	c.publish(telemetry.Event{
		Type:      telemetry.EventCompleted,
		JobID:     c.Job.ID,
		AccountID: c.Job.AccountID,
		Status:    domain.StatusCompleted,
		Progress:  100,
		At:        now,
	})
	c.publish(telemetry.Event{
		Type:      telemetry.EventCost,
		JobID:     c.Job.ID,
		AccountID: c.Job.AccountID,
		Tokens:    &tokens,
		CostUSD:   report.CostUSD,
		At:        now,
	})
}

/*
Fail marks the job terminally FAILED with one error kind and one
human-readable detail. Progress stays frozen at its last value.
*/
func (c *Context) Fail(stage string, kind domain.ErrorKind, err error) {
	now := time.Now()
	detail := domain.DetailOf(err)
	saveErr := c.saveWithRetry(domain.TerminalStatuses(), map[string]interface{}{
		"status":        string(domain.StatusFailed),
		"error_kind":    string(kind),
		"error_detail":  detail,
		"last_error_at": now,
		"locked_at":     nil,
		"updated_at":    now,
	})
	if saveErr != nil {
		c.Log.Error("Persist FAILED failed", "stage", stage, "error", saveErr)
		return
	}
	c.Job.Status = string(domain.StatusFailed)
	c.Job.ErrorKind = string(kind)
	c.Job.ErrorDetail = detail
	c.Job.LastErrorAt = &now
	c.Job.LockedAt = nil
	c.Job.UpdatedAt = now

	c.publish(telemetry.Event{
		Type:      telemetry.EventFailed,
		JobID:     c.Job.ID,
		AccountID: c.Job.AccountID,
		Status:    domain.StatusFailed,
		Stage:     stage,
		Progress:  c.Job.Progress,
		Message:   detail,
		ErrorKind: string(kind),
		At:        now,
	})
}

// Cancel transitions to terminal CANCELLED. Only the orchestrator calls
// this, at a stage boundary; callers merely set the request flag.
func (c *Context) Cancel(stage string) {
	now := time.Now()
	saveErr := c.saveWithRetry(domain.TerminalStatuses(), map[string]interface{}{
		"status":     string(domain.StatusCancelled),
		"locked_at":  nil,
		"updated_at": now,
	})
	if saveErr != nil {
		c.Log.Error("Persist CANCELLED failed", "stage", stage, "error", saveErr)
		return
	}
	c.Job.Status = string(domain.StatusCancelled)
	c.Job.LockedAt = nil
	c.Job.UpdatedAt = now

	c.publish(telemetry.Event{
		Type:      telemetry.EventCancelled,
		JobID:     c.Job.ID,
		AccountID: c.Job.AccountID,
		Status:    domain.StatusCancelled,
		Stage:     stage,
		Progress:  c.Job.Progress,
		At:        now,
	})
}

func (c *Context) publish(ev telemetry.Event) {
	if c.Sink == nil {
		return
	}
	if err := c.Sink.Publish(c.Ctx, ev); err != nil {
		c.Log.Warn("Telemetry publish failed", "type", ev.Type, "error", err)
	}
}

func (c *Context) getWithRetry() (*domain.ConversionJob, error) {
	var lastErr error
	for attempt := 0; attempt < saveAttempts; attempt++ {
		job, err := c.Repo.GetByID(dbctx.Context{Ctx: c.Ctx}, c.Job.ID)
		if err == nil {
			return job, nil
		}
		if err == jobs.ErrNotFound {
			return nil, err
		}
		lastErr = err
		time.Sleep(saveDelay)
	}
	return nil, lastErr
}

func (c *Context) saveWithRetry(guard []string, updates map[string]interface{}) error {
	var lastErr error
	for attempt := 0; attempt < saveAttempts; attempt++ {
		ok, err := c.Repo.UpdateFieldsUnlessStatus(dbctx.Context{Ctx: c.Ctx}, c.Job.ID, guard, updates)
		if err == nil {
			if !ok {
				c.Log.Warn("Guarded update rejected; row already terminal")
			}
			return nil
		}
		lastErr = err
		time.Sleep(saveDelay)
	}
	return lastErr
}
