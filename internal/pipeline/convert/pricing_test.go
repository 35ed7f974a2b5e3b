package convert

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/xuan1250/Transfer2Read-sub004/internal/domain"
	"github.com/xuan1250/Transfer2Read-sub004/internal/platform/logger"
)

func TestPricingBuiltInRates(t *testing.T) {
	p := NewPricing(logger.NewNop())
	usage := domain.TokenUsage{Prompt: 1000, Completion: 1000}

	got := p.Cost("openai", usage)
	want := 0.0025 + 0.0100
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("openai cost %v, want %v", got, want)
	}
	if p.Cost("unknown-provider", usage) != 0 {
		t.Fatal("unknown provider should cost zero")
	}
}

func TestPricingLoadsOverridesFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pricing.yaml")
	content := "openai:\n  prompt_per_1k: 0.01\n  completion_per_1k: 0.02\nclaude:\n  prompt_per_1k: 0.003\n  completion_per_1k: 0.015\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("PRICING_CONFIG_PATH", path)

	p := NewPricing(logger.NewNop())
	usage := domain.TokenUsage{Prompt: 1000, Completion: 1000}

	if got := p.Cost("openai", usage); math.Abs(got-0.03) > 1e-9 {
		t.Fatalf("overridden openai cost %v, want 0.03", got)
	}
	if got := p.Cost("claude", usage); math.Abs(got-0.018) > 1e-9 {
		t.Fatalf("new provider cost %v, want 0.018", got)
	}
	// Providers absent from the file keep their defaults.
	if got := p.Cost("gemini", usage); math.Abs(got-(0.0013+0.0050)) > 1e-9 {
		t.Fatalf("gemini cost %v, want default", got)
	}
}

func TestPricingIgnoresUnreadableConfig(t *testing.T) {
	t.Setenv("PRICING_CONFIG_PATH", "/nonexistent/pricing.yaml")
	p := NewPricing(logger.NewNop())
	if p.Cost("openai", domain.TokenUsage{Prompt: 1000}) == 0 {
		t.Fatal("defaults lost when config unreadable")
	}
}
