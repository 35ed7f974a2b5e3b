package convert

import (
	"github.com/xuan1250/Transfer2Read-sub004/internal/domain"
	"github.com/xuan1250/Transfer2Read-sub004/internal/jobs/orchestrator"
	"github.com/xuan1250/Transfer2Read-sub004/internal/platform/logger"
)

const (
	StageAnalyze   = "analyze"
	StageExtract   = "extract"
	StageStructure = "structure"
	StageRender    = "render"
	StageScore     = "score"
)

// Pipeline binds the conversion collaborators into the ordered stage list
// the orchestrator executes.
type Pipeline struct {
	log       *logger.Logger
	engine    ConversionEngine
	artifacts ArtifactStore
	router    *Router
	renderer  RenderEngine
	covers    CoverGenerator
	pricing   *Pricing
	threshold float64
}

func New(
	baseLog *logger.Logger,
	engine ConversionEngine,
	artifacts ArtifactStore,
	router *Router,
	renderer RenderEngine,
	covers CoverGenerator,
	pricing *Pricing,
	lowConfidenceThreshold float64,
) *Pipeline {
	if lowConfidenceThreshold <= 0 {
		lowConfidenceThreshold = 0.80
	}
	return &Pipeline{
		log:       baseLog.With("component", "ConversionPipeline"),
		engine:    engine,
		artifacts: artifacts,
		router:    router,
		renderer:  renderer,
		covers:    covers,
		pricing:   pricing,
		threshold: lowConfidenceThreshold,
	}
}

// Stages returns the fixed stage sequence. Order matters: each stage reads
// the outputs of the ones before it.
func (p *Pipeline) Stages() []orchestrator.Stage {
	return []orchestrator.Stage{
		{Name: StageAnalyze, Status: domain.StatusAnalyzing, Run: p.runAnalyze},
		{Name: StageExtract, Status: domain.StatusExtracting, Run: p.runExtract},
		{Name: StageStructure, Status: domain.StatusStructuring, Run: p.runStructure, Routed: true},
		{Name: StageRender, Status: domain.StatusRendering, Run: p.runRender},
		{Name: StageScore, Status: domain.StatusScoring, Run: p.runScore},
	}
}

// Finalize pulls the quality report assembled by the score stage out of the
// accumulated outputs.
func (p *Pipeline) Finalize(outputs []domain.StageOutput) (*domain.QualityReport, error) {
	for _, out := range outputs {
		if out.Stage == StageScore {
			return reportFromMeta(out.Meta)
		}
	}
	return nil, domain.NewError(domain.KindStorageFailure, "score output missing from completed pipeline")
}

func priorOutput(prior []domain.StageOutput, stage string) (*domain.StageOutput, bool) {
	for i := range prior {
		if prior[i].Stage == stage {
			return &prior[i], true
		}
	}
	return nil, false
}
