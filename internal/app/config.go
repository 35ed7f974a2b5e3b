package app

import (
	"time"

	"github.com/xuan1250/Transfer2Read-sub004/internal/platform/envutil"
)

type Config struct {
	Port    string
	LogMode string

	WorkerConcurrency int
	PollInterval      time.Duration
	MaxAttempts       int
	StaleRunning      time.Duration

	BudgetSimple  time.Duration
	BudgetComplex time.Duration

	MaxRetries    int
	JitterFrac    float64
	BackoffLadder []time.Duration

	MaxActiveJobsPerAccount int
	LowConfidenceThreshold  float64
}

func LoadConfig() Config {
	return Config{
		Port:    envutil.Str("PORT", "8080"),
		LogMode: envutil.Str("LOG_MODE", "development"),

		WorkerConcurrency: envutil.Int("WORKER_CONCURRENCY", 4),
		PollInterval:      envutil.Duration("WORKER_POLL_INTERVAL", 1*time.Second),
		MaxAttempts:       envutil.Int("WORKER_MAX_ATTEMPTS", 5),
		StaleRunning:      envutil.Duration("WORKER_STALE_RUNNING", 2*time.Minute),

		BudgetSimple:  envutil.Duration("PIPELINE_BUDGET_SIMPLE", 10*time.Minute),
		BudgetComplex: envutil.Duration("PIPELINE_BUDGET_COMPLEX", 30*time.Minute),

		MaxRetries: envutil.Int("STAGE_MAX_RETRIES", 3),
		JitterFrac: envutil.Float("STAGE_RETRY_JITTER", 0.20),
		BackoffLadder: []time.Duration{
			envutil.Duration("STAGE_BACKOFF_1", 1*time.Second),
			envutil.Duration("STAGE_BACKOFF_2", 5*time.Second),
			envutil.Duration("STAGE_BACKOFF_3", 15*time.Second),
		},

		MaxActiveJobsPerAccount: envutil.Int("MAX_ACTIVE_JOBS_PER_ACCOUNT", 3),
		LowConfidenceThreshold:  envutil.Float("LOW_CONFIDENCE_THRESHOLD", 0.80),
	}
}
