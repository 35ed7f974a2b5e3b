package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xuan1250/Transfer2Read-sub004/internal/domain"
	"github.com/xuan1250/Transfer2Read-sub004/internal/platform/logger"
)

type EventType string

const (
	EventProgress  EventType = "progress"
	EventCost      EventType = "cost"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
	EventCancelled EventType = "cancelled"
)

// Event is the structured progress/cost record emitted by the orchestrator.
// Consumed externally for UI polling and cost monitoring; retries and
// fallback attempts are visible only here, never on the job record.
type Event struct {
	Type      EventType          `json:"type"`
	JobID     uuid.UUID          `json:"job_id"`
	AccountID uuid.UUID          `json:"account_id"`
	Status    domain.Status      `json:"status,omitempty"`
	Stage     string             `json:"stage,omitempty"`
	Progress  int                `json:"progress"`
	Message   string             `json:"message,omitempty"`
	ErrorKind string             `json:"error_kind,omitempty"`
	Tokens    *domain.TokenUsage `json:"tokens,omitempty"`
	CostUSD   float64            `json:"cost_usd,omitempty"`
	At        time.Time          `json:"at"`
}

// Sink receives orchestrator events. Publishing is best effort from the
// pipeline's point of view; a failing sink never fails a job.
type Sink interface {
	Publish(ctx context.Context, ev Event) error
}

// LogSink writes events to the structured log. Used standalone in dev and
// as the fallback when no bus is configured.
type LogSink struct {
	log *logger.Logger
}

func NewLogSink(baseLog *logger.Logger) *LogSink {
	return &LogSink{log: baseLog.With("component", "TelemetryLogSink")}
}

func (s *LogSink) Publish(_ context.Context, ev Event) error {
	s.log.Info("conversion event",
		"type", ev.Type,
		"job_id", ev.JobID,
		"status", ev.Status,
		"stage", ev.Stage,
		"progress", ev.Progress,
		"message", ev.Message,
		"error_kind", ev.ErrorKind,
		"cost_usd", ev.CostUSD,
	)
	return nil
}

// Recorder captures events in memory. Test double.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}
