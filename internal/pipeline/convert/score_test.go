package convert

import (
	"context"
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/xuan1250/Transfer2Read-sub004/internal/domain"
	"github.com/xuan1250/Transfer2Read-sub004/internal/platform/logger"
)

func scorePipeline(threshold float64) *Pipeline {
	return New(logger.NewNop(), nil, nil, nil, nil, nil, NewPricing(logger.NewNop()), threshold)
}

// recordingStore tracks deletions so cleanup behavior is observable.
type recordingStore struct {
	deleted []string
}

func (s *recordingStore) Resolve(context.Context, string) ([]byte, error) { return nil, nil }

func (s *recordingStore) Write(context.Context, string, []byte, string) error { return nil }

func (s *recordingStore) Size(context.Context, string) (int64, error) { return 0, nil }

func (s *recordingStore) Delete(_ context.Context, ref string) error {
	s.deleted = append(s.deleted, ref)
	return nil
}

func scorePrior(chapters []Chapter, confidence float64) []domain.StageOutput {
	return []domain.StageOutput{
		{
			Stage: StageExtract,
			Ref:   "doc.intermediate.json",
			Meta: map[string]any{
				"pages": 24, "tables": 2, "images": 5, "equations": 0,
				"warnings": []string{"page 7 partially unreadable"},
			},
			CompletedAt: time.Now(),
		},
		{
			Stage: StageStructure,
			Ref:   "doc.intermediate.json",
			Meta: map[string]any{
				"provider":   "openai",
				"outline":    Outline{Title: "Book", Chapters: chapters},
				"confidence": confidence,
				"usage":      domain.TokenUsage{Prompt: 2000, Completion: 400, Total: 2400},
			},
			CompletedAt: time.Now(),
		},
		{
			Stage:       StageRender,
			Ref:         "out.epub",
			Meta:        map[string]any{"size_bytes": 12345, "warnings": []string{}},
			CompletedAt: time.Now(),
		},
	}
}

func TestScoreBuildsFullReport(t *testing.T) {
	p := scorePipeline(0.80)
	chapters := []Chapter{
		{Title: "One", Level: 1, StartPage: 1, Confidence: 0.95},
		{Title: "Two", Level: 1, StartPage: 9, Confidence: 0.62},
	}
	job := &domain.ConversionJob{ID: uuid.New()}

	out, err := p.runScore(context.Background(), job, scorePrior(chapters, 0.88))
	if err != nil {
		t.Fatalf("runScore: %v", err)
	}
	report, err := reportFromMeta(out.Meta)
	if err != nil {
		t.Fatalf("report: %v", err)
	}

	if report.OverallConfidence != 0.88 {
		t.Fatalf("overall confidence %v, want 0.88", report.OverallConfidence)
	}
	if report.Elements.Pages != 24 || report.Elements.Images != 5 {
		t.Fatalf("element counts lost: %+v", report.Elements)
	}
	if len(report.LowConfidence) != 1 || report.LowConfidence[0].Chapter != "Two" {
		t.Fatalf("low confidence items: %+v", report.LowConfidence)
	}
	if report.Tokens.Total != 2400 {
		t.Fatalf("tokens %d, want 2400", report.Tokens.Total)
	}
	// openai default rate: 2000/1000*0.0025 + 400/1000*0.0100
	wantCost := 0.005 + 0.004
	if math.Abs(report.CostUSD-wantCost) > 1e-9 {
		t.Fatalf("cost %v, want %v", report.CostUSD, wantCost)
	}
	if len(report.Warnings) != 1 {
		t.Fatalf("warnings %v, want the extract warning carried through", report.Warnings)
	}
	if out.Ref != "out.epub" {
		t.Fatalf("score output ref %s, want the rendered artifact", out.Ref)
	}
}

func TestScoreSurvivesStorageRoundTrip(t *testing.T) {
	// Meta maps decoded from jsonb have float64 numbers and generic maps;
	// scoring must work on those as well as on freshly built values.
	p := scorePipeline(0.80)
	chapters := []Chapter{{Title: "One", Level: 1, StartPage: 1, Confidence: 0.70}}
	prior := scorePrior(chapters, 0.70)

	encoded, err := domain.EncodeStageOutputs(prior)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var decoded []domain.StageOutput
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}

	out, err := p.runScore(context.Background(), &domain.ConversionJob{ID: uuid.New()}, decoded)
	if err != nil {
		t.Fatalf("runScore after round trip: %v", err)
	}
	report, err := reportFromMeta(out.Meta)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if len(report.LowConfidence) != 1 {
		t.Fatalf("low confidence lost across round trip: %+v", report.LowConfidence)
	}
	if report.Elements.Pages != 24 {
		t.Fatalf("pages %d, want 24", report.Elements.Pages)
	}
}

func TestScoreCleansUpIntermediateArtifact(t *testing.T) {
	store := &recordingStore{}
	p := New(logger.NewNop(), nil, store, nil, nil, nil, NewPricing(logger.NewNop()), 0.80)
	chapters := []Chapter{{Title: "One", Level: 1, StartPage: 1, Confidence: 0.95}}

	_, err := p.runScore(context.Background(), &domain.ConversionJob{ID: uuid.New()}, scorePrior(chapters, 0.95))
	if err != nil {
		t.Fatalf("runScore: %v", err)
	}
	if len(store.deleted) != 1 || store.deleted[0] != "doc.intermediate.json" {
		t.Fatalf("deleted %v, want just the intermediate artifact", store.deleted)
	}
}

func TestScoreRequiresPriorStages(t *testing.T) {
	p := scorePipeline(0.80)
	_, err := p.runScore(context.Background(), &domain.ConversionJob{ID: uuid.New()}, nil)
	if err == nil {
		t.Fatal("expected error without prior outputs")
	}
	if domain.KindOf(err) != domain.KindValidation {
		t.Fatalf("kind = %s, want VALIDATION", domain.KindOf(err))
	}
}

func TestFinalizePullsReportFromScoreOutput(t *testing.T) {
	p := scorePipeline(0.80)
	report := domain.QualityReport{OverallConfidence: 0.9}
	outputs := []domain.StageOutput{
		{Stage: StageAnalyze},
		{Stage: StageScore, Meta: map[string]any{"report": report}},
	}
	got, err := p.Finalize(outputs)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if got.OverallConfidence != 0.9 {
		t.Fatalf("confidence %v", got.OverallConfidence)
	}
}

func TestFinalizeWithoutScoreOutputFails(t *testing.T) {
	p := scorePipeline(0.80)
	if _, err := p.Finalize([]domain.StageOutput{{Stage: StageAnalyze}}); err == nil {
		t.Fatal("expected error when score output missing")
	}
}
