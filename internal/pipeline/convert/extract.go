package convert

import (
	"context"
	"time"

	"github.com/xuan1250/Transfer2Read-sub004/internal/domain"
)

// runExtract converts the raw document into normalized intermediate
// content. Idempotent: resubmitting the same input overwrites the same
// artifact ref, so a resumed run that re-executes this stage is harmless.
func (p *Pipeline) runExtract(ctx context.Context, job *domain.ConversionJob, prior []domain.StageOutput) (*domain.StageOutput, error) {
	analyzed, ok := priorOutput(prior, StageAnalyze)
	if !ok {
		return nil, domain.NewError(domain.KindValidation, "extract requires a completed analyze stage")
	}

	analysis := &DocumentAnalysis{
		PageCount:     metaInt(analyzed.Meta, "page_count"),
		TableCount:    metaInt(analyzed.Meta, "table_count"),
		ImageCount:    metaInt(analyzed.Meta, "image_count"),
		EquationCount: metaInt(analyzed.Meta, "equation_count"),
		ScannedRatio:  metaFloat(analyzed.Meta, "scanned_ratio"),
		SizeClass:     metaStr(analyzed.Meta, "size_class"),
	}

	content, err := p.engine.ConvertToIntermediate(ctx, job.InputRef, analysis)
	if err != nil {
		return nil, err
	}
	if content.Ref == "" {
		return nil, domain.NewError(domain.KindStorageFailure, "extraction produced no intermediate artifact")
	}

	p.log.Info("Content extracted", "job_id", job.ID, "ref", content.Ref, "warnings", len(content.Warnings))

	return &domain.StageOutput{
		Stage: StageExtract,
		Ref:   content.Ref,
		Meta: map[string]any{
			"pages":     content.Elements.Pages,
			"tables":    content.Elements.Tables,
			"images":    content.Elements.Images,
			"equations": content.Elements.Equations,
			"warnings":  content.Warnings,
		},
		CompletedAt: time.Now().UTC(),
	}, nil
}

func contentFromOutput(out *domain.StageOutput) *IntermediateContent {
	return &IntermediateContent{
		Ref: out.Ref,
		Elements: domain.ElementCounts{
			Pages:     metaInt(out.Meta, "pages"),
			Tables:    metaInt(out.Meta, "tables"),
			Images:    metaInt(out.Meta, "images"),
			Equations: metaInt(out.Meta, "equations"),
		},
		Warnings: metaStrSlice(out.Meta, "warnings"),
	}
}
