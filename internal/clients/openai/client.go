package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/xuan1250/Transfer2Read-sub004/internal/domain"
	"github.com/xuan1250/Transfer2Read-sub004/internal/pipeline/convert"
	"github.com/xuan1250/Transfer2Read-sub004/internal/platform/envutil"
	"github.com/xuan1250/Transfer2Read-sub004/internal/platform/logger"
)

// Client infers document outlines through the OpenAI responses API with a
// strict json_schema output format. Each call is a single attempt; retry and
// fallback belong to the provider router, so a failure here surfaces with
// its error kind and nothing else.
type Client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	artifacts  convert.ArtifactStore
}

func NewClient(log *logger.Logger, artifacts convert.ArtifactStore) (*Client, error) {
	apiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}

	baseURL := strings.TrimSpace(envutil.Str("OPENAI_BASE_URL", "https://api.openai.com"))
	baseURL = strings.TrimRight(baseURL, "/")

	model := strings.TrimSpace(envutil.Str("OPENAI_MODEL", "gpt-5.2"))
	timeout := envutil.Duration("OPENAI_TIMEOUT", 180*time.Second)

	return &Client{
		log:        log.With("service", "OpenAIClient"),
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		artifacts:  artifacts,
	}, nil
}

func (c *Client) Name() string { return "openai" }

type httpError struct {
	StatusCode int
	Body       string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("openai http %d: %s", e.StatusCode, e.Body)
}

type responsesRequest struct {
	Model string `json:"model"`

	Input []struct {
		Role    string `json:"role"`
		Content any    `json:"content"`
	} `json:"input"`

	Text struct {
		Format map[string]any `json:"format,omitempty"`
	} `json:"text,omitempty"`

	Temperature float64 `json:"temperature,omitempty"`
}

type responsesResponse struct {
	Output []struct {
		Type    string `json:"type"`
		Role    string `json:"role,omitempty"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text,omitempty"`
		} `json:"content,omitempty"`
	} `json:"output"`
	Refusal string `json:"refusal,omitempty"`
	Usage   struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

var outlineSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"title":    map[string]any{"type": "string"},
		"language": map[string]any{"type": "string"},
		"confidence": map[string]any{
			"type": "number", "minimum": 0, "maximum": 1,
		},
		"chapters": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"title":      map[string]any{"type": "string"},
					"level":      map[string]any{"type": "integer", "minimum": 1},
					"start_page": map[string]any{"type": "integer", "minimum": 1},
					"confidence": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
				},
				"required":             []string{"title", "level", "start_page", "confidence"},
				"additionalProperties": false,
			},
		},
	},
	"required":             []string{"title", "chapters", "confidence"},
	"additionalProperties": false,
}

const structureSystemPrompt = "You analyze extracted document content and return its chapter structure. " +
	"Infer the logical outline from headings, page markers and typography cues. " +
	"Assign each chapter a confidence between 0 and 1 reflecting how certain its boundary is."

func (c *Client) InferStructure(ctx context.Context, content *convert.IntermediateContent) (*convert.OutlineResult, error) {
	body, err := c.artifacts.Resolve(ctx, content.Ref)
	if err != nil {
		return nil, domain.WrapError(domain.KindStorageFailure, "resolve intermediate content", err)
	}

	req := responsesRequest{
		Model: c.model,
		Input: []struct {
			Role    string `json:"role"`
			Content any    `json:"content"`
		}{
			{Role: "system", Content: structureSystemPrompt},
			{Role: "user", Content: string(body)},
		},
		Temperature: 0.2,
	}
	req.Text.Format = map[string]any{
		"type":   "json_schema",
		"name":   "document_outline",
		"schema": outlineSchema,
		"strict": true,
	}

	var resp responsesResponse
	if err := c.do(ctx, "POST", "/v1/responses", req, &resp); err != nil {
		return nil, classify(err)
	}
	if resp.Refusal != "" {
		return nil, domain.NewError(domain.KindProviderPermanent, "model refused: "+resp.Refusal)
	}

	jsonText := extractOutputText(resp)
	if strings.TrimSpace(jsonText) == "" {
		return nil, domain.NewError(domain.KindProviderTransient, "no output_text found in response")
	}

	var parsed struct {
		Title      string            `json:"title"`
		Language   string            `json:"language"`
		Confidence float64           `json:"confidence"`
		Chapters   []convert.Chapter `json:"chapters"`
	}
	if err := json.Unmarshal([]byte(jsonText), &parsed); err != nil {
		return nil, domain.WrapError(domain.KindProviderTransient, "parse model JSON", err)
	}

	return &convert.OutlineResult{
		Outline: convert.Outline{
			Title:    parsed.Title,
			Language: parsed.Language,
			Chapters: parsed.Chapters,
		},
		Confidence: parsed.Confidence,
		Usage: domain.TokenUsage{
			Prompt:     resp.Usage.InputTokens,
			Completion: resp.Usage.OutputTokens,
			Total:      resp.Usage.TotalTokens,
		},
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}

	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return readErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &httpError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	if out == nil {
		return nil
	}
	if uErr := json.Unmarshal(raw, out); uErr != nil {
		return fmt.Errorf("openai decode error: %w; raw=%s", uErr, string(raw))
	}
	return nil
}

func extractOutputText(resp responsesResponse) string {
	var out strings.Builder
	for _, item := range resp.Output {
		if item.Type == "message" && item.Role == "assistant" {
			for _, c := range item.Content {
				if c.Type == "output_text" && c.Text != "" {
					out.WriteString(c.Text)
				}
			}
		}
	}
	return out.String()
}

// classify maps transport failures onto the shared error kinds. Client-side
// errors (bad request, auth) will not succeed on retry; rate limits and
// server errors may.
func classify(err error) error {
	he, ok := err.(*httpError)
	if !ok {
		return domain.WrapError(domain.KindProviderTransient, "openai request failed", err)
	}
	switch {
	case he.StatusCode == http.StatusTooManyRequests:
		return domain.WrapError(domain.KindProviderTransient, "openai rate limited", he)
	case he.StatusCode >= 500:
		return domain.WrapError(domain.KindProviderTransient, "openai server error", he)
	default:
		return domain.WrapError(domain.KindProviderPermanent, "openai rejected request", he)
	}
}
