package convert

import (
	"context"

	"github.com/xuan1250/Transfer2Read-sub004/internal/domain"
)

// DocumentAnalysis is the analyze stage's view of the input file: enough to
// classify the document and size the downstream work.
type DocumentAnalysis struct {
	PageCount     int     `json:"page_count"`
	TableCount    int     `json:"table_count"`
	ImageCount    int     `json:"image_count"`
	EquationCount int     `json:"equation_count"`
	ScannedRatio  float64 `json:"scanned_ratio"`
	SizeClass     string  `json:"size_class"`
}

// IntermediateContent is the normalized representation produced by the
// extract stage and consumed by structure and render. Bodies live in the
// artifact store; this carries the reference plus summary counts.
type IntermediateContent struct {
	Ref      string               `json:"ref"`
	Elements domain.ElementCounts `json:"elements"`
	Warnings []string             `json:"warnings,omitempty"`
}

// Chapter is one entry of the inferred outline.
type Chapter struct {
	Title      string  `json:"title"`
	Level      int     `json:"level"`
	StartPage  int     `json:"start_page"`
	Confidence float64 `json:"confidence"`
}

// Outline is the document structure inferred by a provider.
type Outline struct {
	Title    string    `json:"title"`
	Language string    `json:"language,omitempty"`
	Chapters []Chapter `json:"chapters"`
}

// OutlineResult pairs an outline with the provider's own confidence and the
// token usage it cost to produce.
type OutlineResult struct {
	Outline    Outline           `json:"outline"`
	Confidence float64           `json:"confidence"`
	Usage      domain.TokenUsage `json:"usage"`
}

// ConversionEngine turns the raw input document into intermediate content.
type ConversionEngine interface {
	Analyze(ctx context.Context, inputRef string) (*DocumentAnalysis, error)
	ConvertToIntermediate(ctx context.Context, inputRef string, analysis *DocumentAnalysis) (*IntermediateContent, error)
}

// ArtifactStore persists stage artifacts between stages and across process
// restarts.
type ArtifactStore interface {
	Resolve(ctx context.Context, ref string) ([]byte, error)
	Write(ctx context.Context, ref string, data []byte, contentType string) error
	Size(ctx context.Context, ref string) (int64, error)
	Delete(ctx context.Context, ref string) error
}

// StructureProvider infers the document outline from intermediate content.
// Implementations map their own transport failures onto the shared error
// kinds so the router can tell transient from permanent.
type StructureProvider interface {
	Name() string
	InferStructure(ctx context.Context, content *IntermediateContent) (*OutlineResult, error)
}

// RenderEngine produces the output artifact from intermediate content plus
// the inferred outline.
type RenderEngine interface {
	Render(ctx context.Context, content *IntermediateContent, outline *Outline) (ref string, sizeBytes int64, err error)
}

// CoverGenerator produces a cover image for documents that arrive without
// one.
type CoverGenerator interface {
	Generate(ctx context.Context, title string) (ref string, err error)
}
