package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"gorm.io/gorm"

	"github.com/xuan1250/Transfer2Read-sub004/internal/data/repos/jobs"
	"github.com/xuan1250/Transfer2Read-sub004/internal/domain"
	"github.com/xuan1250/Transfer2Read-sub004/internal/jobs/orchestrator"
	"github.com/xuan1250/Transfer2Read-sub004/internal/jobs/runtime"
	"github.com/xuan1250/Transfer2Read-sub004/internal/platform/dbctx"
	"github.com/xuan1250/Transfer2Read-sub004/internal/platform/logger"
	"github.com/xuan1250/Transfer2Read-sub004/internal/telemetry"
)

type WorkerConfig struct {
	Concurrency  int
	PollInterval time.Duration
	MaxAttempts  int
	StaleRunning time.Duration
}

// Worker polls for runnable jobs and hands each claim to the orchestrator.
// Claims use row locks, so any number of worker processes can share one
// queue; Concurrency bounds in-flight conversions per process.
type Worker struct {
	db   *gorm.DB
	log  *logger.Logger
	repo jobs.JobRepo
	orch *orchestrator.Orchestrator
	sink telemetry.Sink
	cfg  WorkerConfig

	sem *semaphore.Weighted
}

func NewWorker(db *gorm.DB, baseLog *logger.Logger, repo jobs.JobRepo, orch *orchestrator.Orchestrator, sink telemetry.Sink, cfg WorkerConfig) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 1 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.StaleRunning <= 0 {
		cfg.StaleRunning = 2 * time.Minute
	}
	return &Worker{
		db:   db,
		log:  baseLog.With("component", "JobWorker"),
		repo: repo,
		orch: orch,
		sink: sink,
		cfg:  cfg,
		sem:  semaphore.NewWeighted(int64(cfg.Concurrency)),
	}
}

func (w *Worker) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(w.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.claimAndRun(ctx)
			}
		}
	}()
}

func (w *Worker) claimAndRun(ctx context.Context) {
	if !w.sem.TryAcquire(1) {
		return
	}
	released := false
	release := func() {
		if !released {
			released = true
			w.sem.Release(1)
		}
	}

	job, err := w.repo.ClaimNextRunnable(dbctx.Context{Ctx: ctx, Tx: w.db}, w.cfg.MaxAttempts, w.cfg.StaleRunning)
	if err != nil {
		w.log.Warn("ClaimNextRunnable failed", "error", err)
		release()
		return
	}
	if job == nil {
		release()
		return
	}

	go func() {
		defer release()
		defer func() {
			if r := recover(); r != nil {
				w.log.Error("Conversion panic", "job_id", job.ID, "panic", r)
				rc := runtime.NewContext(ctx, w.repo, job, w.sink, w.log)
				rc.Fail("panic", domain.KindProviderPermanent, fmt.Errorf("conversion panicked: %v", r))
			}
		}()

		// Keep the claim fresh while a stage is in flight. A single stage
		// can legitimately outlive StaleRunning (provider calls plus the
		// backoff ladder); without heartbeats another worker would reclaim
		// the live job mid-stage and run it twice.
		hbDone := make(chan struct{})
		go w.keepAlive(ctx, job.ID, hbDone)
		defer close(hbDone)

		status, err := w.orch.Run(ctx, job.ID)
		if err != nil {
			w.log.Error("Conversion run failed", "job_id", job.ID, "error", err)
			return
		}
		w.log.Info("Conversion finished", "job_id", job.ID, "status", status)
	}()
}

func (w *Worker) keepAlive(ctx context.Context, jobID uuid.UUID, done <-chan struct{}) {
	interval := w.cfg.StaleRunning / 3
	if interval <= 0 {
		interval = w.cfg.PollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.repo.Heartbeat(dbctx.Context{Ctx: ctx, Tx: w.db}, jobID); err != nil {
				w.log.Warn("Heartbeat failed", "job_id", jobID, "error", err)
			}
		}
	}
}
