package convert

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/xuan1250/Transfer2Read-sub004/internal/domain"
	"github.com/xuan1250/Transfer2Read-sub004/internal/platform/envutil"
	"github.com/xuan1250/Transfer2Read-sub004/internal/platform/logger"
)

// Rate is the per-1K-token price for one provider, in USD.
type Rate struct {
	PromptPer1K     float64 `yaml:"prompt_per_1k"`
	CompletionPer1K float64 `yaml:"completion_per_1k"`
}

// Pricing estimates provider spend from token usage. Rates load from the
// YAML file at PRICING_CONFIG_PATH; an unknown provider costs zero so a
// stale rate table never fails a conversion.
type Pricing struct {
	rates map[string]Rate
}

var defaultRates = map[string]Rate{
	"openai": {PromptPer1K: 0.0025, CompletionPer1K: 0.0100},
	"gemini": {PromptPer1K: 0.0013, CompletionPer1K: 0.0050},
}

func NewPricing(log *logger.Logger) *Pricing {
	rates := make(map[string]Rate, len(defaultRates))
	for name, rate := range defaultRates {
		rates[name] = rate
	}
	p := &Pricing{rates: rates}
	path := envutil.Str("PRICING_CONFIG_PATH", "")
	if path == "" {
		return p
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		log.Warn("Pricing config unreadable, using built-in rates", "path", path, "error", err)
		return p
	}
	var loaded map[string]Rate
	if err := yaml.Unmarshal(raw, &loaded); err != nil {
		log.Warn("Pricing config invalid, using built-in rates", "path", path, "error", err)
		return p
	}
	for name, rate := range loaded {
		p.rates[strings.ToLower(name)] = rate
	}
	return p
}

func (p *Pricing) Cost(provider string, usage domain.TokenUsage) float64 {
	rate, ok := p.rates[strings.ToLower(provider)]
	if !ok {
		return 0
	}
	return float64(usage.Prompt)/1000*rate.PromptPer1K +
		float64(usage.Completion)/1000*rate.CompletionPer1K
}
