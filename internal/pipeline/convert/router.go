package convert

import (
	"context"

	"github.com/xuan1250/Transfer2Read-sub004/internal/domain"
	"github.com/xuan1250/Transfer2Read-sub004/internal/jobs/orchestrator"
	"github.com/xuan1250/Transfer2Read-sub004/internal/platform/logger"
)

/*
Router owns provider selection for structure inference.

  - The primary provider runs first, under its own retry budget.
  - If the primary escalates (retries exhausted or a permanent failure),
    exactly one fallback runs, again under its own retry budget.
  - Only the winning provider's result survives; a primary failure that the
    fallback recovers from never reaches the job record.
*/
type Router struct {
	log      *logger.Logger
	primary  StructureProvider
	fallback StructureProvider
	retry    orchestrator.Policy
}

func NewRouter(baseLog *logger.Logger, primary, fallback StructureProvider, retry orchestrator.Policy) *Router {
	return &Router{
		log:      baseLog.With("component", "ProviderRouter"),
		primary:  primary,
		fallback: fallback,
		retry:    retry,
	}
}

// Infer returns the outline and the name of the provider that produced it.
func (r *Router) Infer(ctx context.Context, content *IntermediateContent) (*OutlineResult, string, error) {
	result, err := r.attempt(ctx, r.primary, content)
	if err == nil {
		return result, r.primary.Name(), nil
	}
	if r.fallback == nil {
		return nil, "", err
	}

	r.log.Warn("Primary provider escalated, routing to fallback",
		"primary", r.primary.Name(),
		"fallback", r.fallback.Name(),
		"kind", domain.KindOf(err),
		"error", err,
	)

	result, ferr := r.attempt(ctx, r.fallback, content)
	if ferr != nil {
		return nil, "", ferr
	}
	return result, r.fallback.Name(), nil
}

func (r *Router) attempt(ctx context.Context, provider StructureProvider, content *IntermediateContent) (*OutlineResult, error) {
	var result *OutlineResult
	err := r.retry.Do(ctx, func(c context.Context) error {
		res, err := provider.InferStructure(c, content)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
