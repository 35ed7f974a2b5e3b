package convert

import (
	"context"
	"time"

	"github.com/xuan1250/Transfer2Read-sub004/internal/domain"
)

// runAnalyze classifies the input document and fixes its size class for the
// rest of the run. The size class recorded here is informational once the
// run has started: the deadline was already chosen from the class stored at
// submission.
func (p *Pipeline) runAnalyze(ctx context.Context, job *domain.ConversionJob, _ []domain.StageOutput) (*domain.StageOutput, error) {
	if job.InputRef == "" {
		return nil, domain.NewError(domain.KindValidation, "job has no input document reference")
	}

	analysis, err := p.engine.Analyze(ctx, job.InputRef)
	if err != nil {
		return nil, err
	}
	if analysis.PageCount <= 0 {
		return nil, domain.NewError(domain.KindValidation, "document contains no readable pages")
	}

	p.log.Info("Document analyzed",
		"job_id", job.ID,
		"pages", analysis.PageCount,
		"tables", analysis.TableCount,
		"images", analysis.ImageCount,
		"size_class", analysis.SizeClass,
	)

	return &domain.StageOutput{
		Stage: StageAnalyze,
		Ref:   job.InputRef,
		Meta: map[string]any{
			"page_count":     analysis.PageCount,
			"table_count":    analysis.TableCount,
			"image_count":    analysis.ImageCount,
			"equation_count": analysis.EquationCount,
			"scanned_ratio":  analysis.ScannedRatio,
			"size_class":     analysis.SizeClass,
		},
		CompletedAt: time.Now().UTC(),
	}, nil
}
