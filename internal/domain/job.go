package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Size classes select the global deadline budget for a job.
const (
	SizeClassSimple  = "simple"
	SizeClassComplex = "complex"
)

// ElementCounts are the structural elements detected during analysis.
type ElementCounts struct {
	Pages     int `json:"pages"`
	Tables    int `json:"tables"`
	Images    int `json:"images"`
	Equations int `json:"equations"`
}

// TokenUsage accumulates LLM token consumption across structure inference.
type TokenUsage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

func (u TokenUsage) Add(other TokenUsage) TokenUsage {
	return TokenUsage{
		Prompt:     u.Prompt + other.Prompt,
		Completion: u.Completion + other.Completion,
		Total:      u.Total + other.Total,
	}
}

// LowConfidenceItem flags an outline chapter whose inferred confidence fell
// below the scoring threshold.
type LowConfidenceItem struct {
	Chapter    string  `json:"chapter"`
	Confidence float64 `json:"confidence"`
}

// QualityReport is populated only on COMPLETED jobs.
type QualityReport struct {
	OverallConfidence float64             `json:"overall_confidence"`
	Elements          ElementCounts       `json:"elements"`
	LowConfidence     []LowConfidenceItem `json:"low_confidence,omitempty"`
	Tokens            TokenUsage          `json:"tokens"`
	CostUSD           float64             `json:"cost_usd"`
	Warnings          []string            `json:"warnings,omitempty"`
}

// StageOutput is one entry of a job's append-only stage output list. Large
// artifacts are referenced by storage key, never inlined.
type StageOutput struct {
	Stage       string         `json:"stage"`
	Ref         string         `json:"ref,omitempty"`
	Meta        map[string]any `json:"meta,omitempty"`
	CompletedAt time.Time      `json:"completed_at"`
}

// ConversionJob is the durable record of one document conversion. It is
// mutated exclusively by the orchestrator after submission (single-writer
// discipline); callers only ever set CancelRequested.
type ConversionJob struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	AccountID       uuid.UUID      `gorm:"type:uuid;not null;index" json:"account_id"`
	Status          string         `gorm:"column:status;not null;index" json:"status"`
	Progress        int            `gorm:"column:progress;not null;default:0" json:"progress"`
	InputRef        string         `gorm:"column:input_ref;not null" json:"input_ref"`
	SizeClass       string         `gorm:"column:size_class;not null;default:simple" json:"size_class"`
	CancelRequested bool           `gorm:"column:cancel_requested;not null;default:false" json:"cancel_requested"`
	StageOutputs    datatypes.JSON `gorm:"column:stage_outputs;type:jsonb" json:"stage_outputs"`
	QualityReport   datatypes.JSON `gorm:"column:quality_report;type:jsonb" json:"quality_report,omitempty"`
	ErrorKind       string         `gorm:"column:error_kind" json:"error_kind,omitempty"`
	ErrorDetail     string         `gorm:"column:error_detail" json:"error_detail,omitempty"`
	Attempts        int            `gorm:"column:attempts;not null;default:0" json:"attempts"`
	LockedAt        *time.Time     `gorm:"column:locked_at;index" json:"locked_at,omitempty"`
	HeartbeatAt     *time.Time     `gorm:"column:heartbeat_at;index" json:"heartbeat_at,omitempty"`
	LastErrorAt     *time.Time     `gorm:"column:last_error_at" json:"last_error_at,omitempty"`
	CreatedAt       time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"not null" json:"updated_at"`
	CompletedAt     *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
}

func (ConversionJob) TableName() string { return "conversion_job" }

func (j *ConversionJob) CurrentStatus() Status { return Status(j.Status) }

// Outputs decodes the append-only stage output list. An unset column decodes
// to an empty list.
func (j *ConversionJob) Outputs() ([]StageOutput, error) {
	if len(j.StageOutputs) == 0 || string(j.StageOutputs) == "null" {
		return []StageOutput{}, nil
	}
	var out []StageOutput
	if err := json.Unmarshal(j.StageOutputs, &out); err != nil {
		return nil, fmt.Errorf("decode stage_outputs: %w", err)
	}
	return out, nil
}

func (j *ConversionJob) HasStageOutput(stage string) bool {
	outs, err := j.Outputs()
	if err != nil {
		return false
	}
	for _, o := range outs {
		if o.Stage == stage {
			return true
		}
	}
	return false
}

// Report decodes the quality report, or nil when absent.
func (j *ConversionJob) Report() (*QualityReport, error) {
	if len(j.QualityReport) == 0 || string(j.QualityReport) == "null" {
		return nil, nil
	}
	var r QualityReport
	if err := json.Unmarshal(j.QualityReport, &r); err != nil {
		return nil, fmt.Errorf("decode quality_report: %w", err)
	}
	return &r, nil
}

func EncodeStageOutputs(outs []StageOutput) (datatypes.JSON, error) {
	b, err := json.Marshal(outs)
	if err != nil {
		return nil, fmt.Errorf("encode stage_outputs: %w", err)
	}
	return datatypes.JSON(b), nil
}

func EncodeQualityReport(r *QualityReport) (datatypes.JSON, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode quality_report: %w", err)
	}
	return datatypes.JSON(b), nil
}
