package convert

import (
	"context"
	"time"

	"github.com/xuan1250/Transfer2Read-sub004/internal/domain"
)

// runStructure infers the document outline through the provider router.
// This is the only routed stage: the router owns retry and fallback, so the
// orchestrator invokes it exactly once.
func (p *Pipeline) runStructure(ctx context.Context, job *domain.ConversionJob, prior []domain.StageOutput) (*domain.StageOutput, error) {
	extracted, ok := priorOutput(prior, StageExtract)
	if !ok {
		return nil, domain.NewError(domain.KindValidation, "structure requires a completed extract stage")
	}
	content := contentFromOutput(extracted)

	result, provider, err := p.router.Infer(ctx, content)
	if err != nil {
		return nil, err
	}
	if len(result.Outline.Chapters) == 0 {
		return nil, domain.NewError(domain.KindProviderPermanent, "provider returned an empty outline")
	}

	p.log.Info("Structure inferred",
		"job_id", job.ID,
		"provider", provider,
		"chapters", len(result.Outline.Chapters),
		"confidence", result.Confidence,
	)

	return &domain.StageOutput{
		Stage: StageStructure,
		Ref:   extracted.Ref,
		Meta: map[string]any{
			"provider":   provider,
			"outline":    result.Outline,
			"confidence": result.Confidence,
			"usage":      result.Usage,
		},
		CompletedAt: time.Now().UTC(),
	}, nil
}
