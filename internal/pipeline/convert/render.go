package convert

import (
	"context"
	"time"

	"github.com/xuan1250/Transfer2Read-sub004/internal/domain"
)

// runRender assembles the output artifact from the intermediate content and
// the inferred outline. A missing cover is filled in with a generated one;
// cover generation failure is a warning, not a stage failure.
func (p *Pipeline) runRender(ctx context.Context, job *domain.ConversionJob, prior []domain.StageOutput) (*domain.StageOutput, error) {
	extracted, ok := priorOutput(prior, StageExtract)
	if !ok {
		return nil, domain.NewError(domain.KindValidation, "render requires a completed extract stage")
	}
	structured, ok := priorOutput(prior, StageStructure)
	if !ok {
		return nil, domain.NewError(domain.KindValidation, "render requires a completed structure stage")
	}

	content := contentFromOutput(extracted)
	var outline Outline
	if err := metaDecode(structured.Meta, "outline", &outline); err != nil {
		return nil, err
	}

	var warnings []string
	coverRef := ""
	if p.covers != nil {
		ref, err := p.covers.Generate(ctx, outline.Title)
		if err != nil {
			p.log.Warn("Cover generation failed", "job_id", job.ID, "error", err)
			warnings = append(warnings, "cover generation failed, output has no cover image")
		} else {
			coverRef = ref
		}
	}

	ref, size, err := p.renderer.Render(ctx, content, &outline)
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		return nil, domain.NewError(domain.KindProviderPermanent, "renderer produced an empty artifact")
	}

	p.log.Info("Artifact rendered", "job_id", job.ID, "ref", ref, "bytes", size)

	return &domain.StageOutput{
		Stage: StageRender,
		Ref:   ref,
		Meta: map[string]any{
			"size_bytes": size,
			"cover_ref":  coverRef,
			"warnings":   warnings,
		},
		CompletedAt: time.Now().UTC(),
	}, nil
}
