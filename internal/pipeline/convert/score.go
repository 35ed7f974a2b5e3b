package convert

import (
	"context"
	"time"

	"github.com/xuan1250/Transfer2Read-sub004/internal/domain"
)

// runScore folds the per-stage evidence into the quality report: overall
// confidence, element counts, chapters below the confidence threshold,
// token usage, and estimated provider cost.
func (p *Pipeline) runScore(ctx context.Context, job *domain.ConversionJob, prior []domain.StageOutput) (*domain.StageOutput, error) {
	extracted, ok := priorOutput(prior, StageExtract)
	if !ok {
		return nil, domain.NewError(domain.KindValidation, "score requires a completed extract stage")
	}
	structured, ok := priorOutput(prior, StageStructure)
	if !ok {
		return nil, domain.NewError(domain.KindValidation, "score requires a completed structure stage")
	}
	rendered, ok := priorOutput(prior, StageRender)
	if !ok {
		return nil, domain.NewError(domain.KindValidation, "score requires a completed render stage")
	}

	var outline Outline
	if err := metaDecode(structured.Meta, "outline", &outline); err != nil {
		return nil, err
	}
	var usage domain.TokenUsage
	if err := metaDecode(structured.Meta, "usage", &usage); err != nil {
		return nil, err
	}

	var low []domain.LowConfidenceItem
	sum := 0.0
	for _, ch := range outline.Chapters {
		sum += ch.Confidence
		if ch.Confidence < p.threshold {
			low = append(low, domain.LowConfidenceItem{Chapter: ch.Title, Confidence: ch.Confidence})
		}
	}
	overall := metaFloat(structured.Meta, "confidence")
	if overall == 0 && len(outline.Chapters) > 0 {
		overall = sum / float64(len(outline.Chapters))
	}

	warnings := metaStrSlice(extracted.Meta, "warnings")
	warnings = append(warnings, metaStrSlice(rendered.Meta, "warnings")...)

	provider := metaStr(structured.Meta, "provider")
	cost := 0.0
	if p.pricing != nil {
		cost = p.pricing.Cost(provider, usage)
	}

	report := domain.QualityReport{
		OverallConfidence: overall,
		Elements: domain.ElementCounts{
			Pages:     metaInt(extracted.Meta, "pages"),
			Tables:    metaInt(extracted.Meta, "tables"),
			Images:    metaInt(extracted.Meta, "images"),
			Equations: metaInt(extracted.Meta, "equations"),
		},
		LowConfidence: low,
		Tokens:        usage,
		CostUSD:       cost,
		Warnings:      warnings,
	}

	p.log.Info("Quality scored",
		"job_id", job.ID,
		"confidence", report.OverallConfidence,
		"low_confidence", len(low),
		"cost_usd", cost,
	)

	// The intermediate artifact is dead weight once the report is
	// assembled. Cleanup is best effort; the rendered output is untouched.
	if p.artifacts != nil && extracted.Ref != "" {
		if err := p.artifacts.Delete(ctx, extracted.Ref); err != nil {
			p.log.Warn("Intermediate artifact cleanup failed", "job_id", job.ID, "ref", extracted.Ref, "error", err)
		}
	}

	return &domain.StageOutput{
		Stage: StageScore,
		Ref:   rendered.Ref,
		Meta: map[string]any{
			"report": report,
		},
		CompletedAt: time.Now().UTC(),
	}, nil
}
