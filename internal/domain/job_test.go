package domain

import (
	"testing"
	"time"
)

func TestProgressForCoversEveryForwardStatus(t *testing.T) {
	want := map[Status]int{
		StatusQueued:      0,
		StatusAnalyzing:   10,
		StatusExtracting:  35,
		StatusStructuring: 60,
		StatusRendering:   80,
		StatusScoring:     90,
		StatusCompleted:   100,
	}
	for status, pct := range want {
		got, ok := ProgressFor(status)
		if !ok {
			t.Fatalf("ProgressFor(%s) not defined", status)
		}
		if got != pct {
			t.Fatalf("ProgressFor(%s) = %d, want %d", status, got, pct)
		}
	}
	for _, status := range []Status{StatusFailed, StatusCancelled} {
		if _, ok := ProgressFor(status); ok {
			t.Fatalf("ProgressFor(%s) should have no canonical value", status)
		}
	}
}

func TestProgressIsMonotonicAcrossTheStageSequence(t *testing.T) {
	seq := []Status{StatusQueued, StatusAnalyzing, StatusExtracting, StatusStructuring, StatusRendering, StatusScoring, StatusCompleted}
	prev := -1
	for _, status := range seq {
		pct, _ := ProgressFor(status)
		if pct <= prev && status != StatusQueued {
			t.Fatalf("progress not increasing at %s: %d after %d", status, pct, prev)
		}
		prev = pct
	}
}

func TestTerminal(t *testing.T) {
	for _, status := range []Status{StatusCompleted, StatusFailed, StatusCancelled} {
		if !status.Terminal() {
			t.Fatalf("%s should be terminal", status)
		}
	}
	for _, status := range []Status{StatusQueued, StatusAnalyzing, StatusExtracting, StatusStructuring, StatusRendering, StatusScoring} {
		if status.Terminal() {
			t.Fatalf("%s should not be terminal", status)
		}
	}
}

func TestStageOutputsRoundTrip(t *testing.T) {
	outs := []StageOutput{
		{Stage: "analyze", Ref: "in.pdf", Meta: map[string]any{"page_count": 12}, CompletedAt: time.Now().UTC()},
		{Stage: "extract", Ref: "in.intermediate.json", CompletedAt: time.Now().UTC()},
	}
	encoded, err := EncodeStageOutputs(outs)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	job := &ConversionJob{StageOutputs: encoded}
	decoded, err := job.Outputs()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded) != 2 {
		t.Fatalf("got %d outputs, want 2", len(decoded))
	}
	if decoded[0].Stage != "analyze" || decoded[1].Stage != "extract" {
		t.Fatalf("stages out of order: %s, %s", decoded[0].Stage, decoded[1].Stage)
	}
	if !job.HasStageOutput("extract") {
		t.Fatal("HasStageOutput(extract) = false")
	}
	if job.HasStageOutput("render") {
		t.Fatal("HasStageOutput(render) = true for missing stage")
	}
}

func TestOutputsOnEmptyJob(t *testing.T) {
	job := &ConversionJob{}
	outs, err := job.Outputs()
	if err != nil {
		t.Fatalf("empty outputs: %v", err)
	}
	if len(outs) != 0 {
		t.Fatalf("got %d outputs, want 0", len(outs))
	}
}

func TestQualityReportRoundTrip(t *testing.T) {
	report := &QualityReport{
		OverallConfidence: 0.91,
		Elements:          ElementCounts{Pages: 42, Tables: 3},
		LowConfidence:     []LowConfidenceItem{{Chapter: "Appendix B", Confidence: 0.61}},
		Tokens:            TokenUsage{Prompt: 1000, Completion: 200, Total: 1200},
		CostUSD:           0.0045,
	}
	encoded, err := EncodeQualityReport(report)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	job := &ConversionJob{QualityReport: encoded}
	got, err := job.Report()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.OverallConfidence != report.OverallConfidence {
		t.Fatalf("confidence %v, want %v", got.OverallConfidence, report.OverallConfidence)
	}
	if len(got.LowConfidence) != 1 || got.LowConfidence[0].Chapter != "Appendix B" {
		t.Fatalf("low confidence items lost: %+v", got.LowConfidence)
	}
	if got.Tokens.Total != 1200 {
		t.Fatalf("tokens %d, want 1200", got.Tokens.Total)
	}
}

func TestTokenUsageAdd(t *testing.T) {
	sum := TokenUsage{Prompt: 10, Completion: 5, Total: 15}.Add(TokenUsage{Prompt: 1, Completion: 2, Total: 3})
	if sum.Prompt != 11 || sum.Completion != 7 || sum.Total != 18 {
		t.Fatalf("unexpected sum: %+v", sum)
	}
}
