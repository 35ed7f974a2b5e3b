package renderer

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

// Client talks to the EPUB render service. The service reads the
// intermediate artifact itself; the request carries refs plus the outline,
// never document bodies.
type Client struct {
	log        *logger.Logger
	baseURL    string
	httpClient *http.Client
}

func NewClient(log *logger.Logger) (*Client, error) {
	baseURL := strings.TrimSpace(os.Getenv("RENDERER_BASE_URL"))
	if baseURL == "" {
		return nil, fmt.Errorf("missing RENDERER_BASE_URL")
	}
	timeout := envutil.Duration("RENDERER_TIMEOUT", 5*time.Minute)

	return &Client{
		log:        log.With("service", "RendererClient"),
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type renderRequest struct {
	ContentRef string           `json:"content_ref"`
	Outline    *convert.Outline `json:"outline"`
}

type renderResponse struct {
	OutputRef string `json:"output_ref"`
	SizeBytes int64  `json:"size_bytes"`
}

func (c *Client) Render(ctx context.Context, content *convert.IntermediateContent, outline *convert.Outline) (string, int64, error) {
	body := renderRequest{ContentRef: content.Ref, Outline: outline}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return "", 0, domain.WrapError(domain.KindProviderPermanent, "encode render request", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/render", &buf)
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, domain.WrapError(domain.KindProviderTransient, "render request failed", err)
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return "", 0, domain.WrapError(domain.KindProviderTransient, "read render response", readErr)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("renderer http %d: %s", resp.StatusCode, string(raw))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return "", 0, domain.NewError(domain.KindProviderTransient, msg)
		}
		return "", 0, domain.NewError(domain.KindProviderPermanent, msg)
	}

	var out renderResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", 0, domain.WrapError(domain.KindProviderTransient, "decode render response", err)
	}
	if out.OutputRef == "" {
		return "", 0, domain.NewError(domain.KindProviderPermanent, "renderer returned no output ref")
	}
	return out.OutputRef, out.SizeBytes, nil
}
