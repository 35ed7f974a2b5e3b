package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/xuan1250/Transfer2Read-sub004/internal/domain"
	"github.com/xuan1250/Transfer2Read-sub004/internal/pipeline/convert"
	"github.com/xuan1250/Transfer2Read-sub004/internal/platform/envutil"
	"github.com/xuan1250/Transfer2Read-sub004/internal/platform/logger"
)

// Client is the fallback structure provider. It asks Gemini for the outline
// as raw JSON (ResponseMIMEType) rather than a typed schema, then validates
// the decoded shape itself.
type Client struct {
	log       *logger.Logger
	client    *genai.Client
	model     string
	artifacts convert.ArtifactStore
}

func NewClient(log *logger.Logger, artifacts convert.ArtifactStore) (*Client, error) {
	apiKey := strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("missing GEMINI_API_KEY")
	}
	model := strings.TrimSpace(envutil.Str("GEMINI_MODEL", "models/gemini-2.5-pro"))

	ctx := context.Background()
	gc, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &Client{
		log:       log.With("service", "GeminiClient"),
		client:    gc,
		model:     model,
		artifacts: artifacts,
	}, nil
}

func (c *Client) Name() string { return "gemini" }

func (c *Client) Close() error { return c.client.Close() }

const structurePrompt = `Analyze the following extracted document content and return its chapter structure as JSON with this exact shape:
{"title": string, "language": string, "confidence": number 0..1, "chapters": [{"title": string, "level": integer >= 1, "start_page": integer >= 1, "confidence": number 0..1}]}
Infer chapter boundaries from headings, page markers and typography cues. Return only the JSON object.

Document content:
`

func (c *Client) InferStructure(ctx context.Context, content *convert.IntermediateContent) (*convert.OutlineResult, error) {
	body, err := c.artifacts.Resolve(ctx, content.Ref)
	if err != nil {
		return nil, domain.WrapError(domain.KindStorageFailure, "resolve intermediate content", err)
	}

	model := c.client.GenerativeModel(c.model)
	model.GenerationConfig.ResponseMIMEType = "application/json"
	model.GenerationConfig.Temperature = genai.Ptr[float32](0.2)

	resp, err := model.GenerateContent(ctx, genai.Text(structurePrompt+string(body)))
	if err != nil {
		// The genai transport does not expose status codes in a stable
		// way, so provider failures default to transient and the retry
		// budget bounds the damage.
		return nil, domain.WrapError(domain.KindProviderTransient, "gemini request failed", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, domain.NewError(domain.KindProviderTransient, "gemini returned no candidates")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return nil, domain.NewError(domain.KindProviderTransient, "gemini returned no text parts")
	}

	var parsed struct {
		Title      string            `json:"title"`
		Language   string            `json:"language"`
		Confidence float64           `json:"confidence"`
		Chapters   []convert.Chapter `json:"chapters"`
	}
	if err := json.Unmarshal([]byte(text.String()), &parsed); err != nil {
		return nil, domain.WrapError(domain.KindProviderTransient, "parse gemini JSON", err)
	}

	var usage domain.TokenUsage
	if resp.UsageMetadata != nil {
		usage = domain.TokenUsage{
			Prompt:     int(resp.UsageMetadata.PromptTokenCount),
			Completion: int(resp.UsageMetadata.CandidatesTokenCount),
			Total:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}

	return &convert.OutlineResult{
		Outline: convert.Outline{
			Title:    parsed.Title,
			Language: parsed.Language,
			Chapters: parsed.Chapters,
		},
		Confidence: parsed.Confidence,
		Usage:      usage,
	}, nil
}
