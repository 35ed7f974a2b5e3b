package gcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/fieldmaskpb"

	"github.com/xuan1250/Transfer2Read-sub004/internal/domain"
	"github.com/xuan1250/Transfer2Read-sub004/internal/pipeline/convert"
	"github.com/xuan1250/Transfer2Read-sub004/internal/platform/envutil"
	"github.com/xuan1250/Transfer2Read-sub004/internal/platform/logger"
)

// DocumentService extracts text and layout from input documents through
// Document AI and writes the normalized intermediate artifact back to the
// bucket. It is the pipeline's conversion engine.
type DocumentService struct {
	log       *logger.Logger
	docClient *documentai.DocumentProcessorClient
	artifacts BucketService

	projectID        string
	location         string
	processorID      string
	processorVersion string
	bucketName       string

	complexPageThreshold int
}

func NewDocumentService(log *logger.Logger, artifacts BucketService) (*DocumentService, error) {
	projectID := strings.TrimSpace(os.Getenv("DOCUMENTAI_PROJECT_ID"))
	processorID := strings.TrimSpace(os.Getenv("DOCUMENTAI_PROCESSOR_ID"))
	if projectID == "" || processorID == "" {
		return nil, fmt.Errorf("missing env var DOCUMENTAI_PROJECT_ID or DOCUMENTAI_PROCESSOR_ID")
	}
	location := strings.TrimSpace(envutil.Str("DOCUMENTAI_LOCATION", "us"))
	bucketName := strings.TrimSpace(os.Getenv("ARTIFACT_GCS_BUCKET_NAME"))
	if bucketName == "" {
		return nil, fmt.Errorf("missing env var ARTIFACT_GCS_BUCKET_NAME")
	}

	endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", location)
	docOpts := append([]option.ClientOption{option.WithEndpoint(endpoint)}, ClientOptionsFromEnv()...)

	ctx := context.Background()
	c, err := documentai.NewDocumentProcessorClient(ctx, docOpts...)
	if err != nil {
		return nil, fmt.Errorf("documentai client: %w", err)
	}

	slog := log.With("service", "DocumentService")
	slog.Info("Document AI initialized", "endpoint", endpoint)

	return &DocumentService{
		log:                  slog,
		docClient:            c,
		artifacts:            artifacts,
		projectID:            projectID,
		location:             location,
		processorID:          processorID,
		processorVersion:     strings.TrimSpace(os.Getenv("DOCUMENTAI_PROCESSOR_VERSION")),
		bucketName:           bucketName,
		complexPageThreshold: envutil.Int("SIZE_CLASS_COMPLEX_PAGES", 200),
	}, nil
}

func (s *DocumentService) Close() error {
	if s.docClient != nil {
		return s.docClient.Close()
	}
	return nil
}

func (s *DocumentService) processorName() string {
	if s.processorVersion != "" {
		return fmt.Sprintf("projects/%s/locations/%s/processors/%s/processorVersions/%s",
			s.projectID, s.location, s.processorID, s.processorVersion)
	}
	return fmt.Sprintf("projects/%s/locations/%s/processors/%s", s.projectID, s.location, s.processorID)
}

func (s *DocumentService) process(ctx context.Context, inputRef string, fieldMask []string) (*documentaipb.Document, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Minute)
	defer cancel()

	r := &documentaipb.ProcessRequest{
		Name: s.processorName(),
		Source: &documentaipb.ProcessRequest_GcsDocument{
			GcsDocument: &documentaipb.GcsDocument{
				GcsUri:   fmt.Sprintf("gs://%s/%s", s.bucketName, inputRef),
				MimeType: "application/pdf",
			},
		},
	}
	if len(fieldMask) > 0 {
		r.FieldMask = &fieldmaskpb.FieldMask{Paths: fieldMask}
	}

	resp, err := s.docClient.ProcessDocument(ctx, r)
	if err != nil {
		return nil, classifyGRPC(err)
	}
	if resp == nil || resp.Document == nil {
		return nil, domain.NewError(domain.KindProviderTransient, "documentai returned no document")
	}
	return resp.Document, nil
}

// Analyze runs a layout-only pass to classify the document.
func (s *DocumentService) Analyze(ctx context.Context, inputRef string) (*convert.DocumentAnalysis, error) {
	doc, err := s.process(ctx, inputRef, []string{"pages.tables", "pages.image", "pages.visual_elements", "pages.layout"})
	if err != nil {
		return nil, err
	}

	analysis := &convert.DocumentAnalysis{PageCount: len(doc.Pages)}
	scanned := 0
	for _, p := range doc.Pages {
		analysis.TableCount += len(p.Tables)
		for _, ve := range p.VisualElements {
			switch ve.Type {
			case "image", "figure":
				analysis.ImageCount++
			case "equation", "formula":
				analysis.EquationCount++
			}
		}
		if p.Layout.GetTextAnchor().GetContent() == "" && len(p.Layout.GetTextAnchor().GetTextSegments()) == 0 {
			scanned++
		}
	}
	if analysis.PageCount > 0 {
		analysis.ScannedRatio = float64(scanned) / float64(analysis.PageCount)
	}
	analysis.SizeClass = domain.SizeClassSimple
	if analysis.PageCount >= s.complexPageThreshold || analysis.EquationCount > 0 || analysis.ScannedRatio > 0.5 {
		analysis.SizeClass = domain.SizeClassComplex
	}
	return analysis, nil
}

// intermediateDoc is the JSON layout of the intermediate artifact.
type intermediateDoc struct {
	Text     string               `json:"text"`
	Elements domain.ElementCounts `json:"elements"`
	Pages    []intermediatePage   `json:"pages"`
}

type intermediatePage struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
}

// ConvertToIntermediate runs the full extraction pass and persists the
// normalized content next to the input. The artifact key is derived from
// the input ref, so re-running the extraction overwrites the same object.
func (s *DocumentService) ConvertToIntermediate(ctx context.Context, inputRef string, analysis *convert.DocumentAnalysis) (*convert.IntermediateContent, error) {
	doc, err := s.process(ctx, inputRef, nil)
	if err != nil {
		return nil, err
	}

	inter := intermediateDoc{
		Text: doc.Text,
		Elements: domain.ElementCounts{
			Pages:     len(doc.Pages),
			Tables:    analysis.TableCount,
			Images:    analysis.ImageCount,
			Equations: analysis.EquationCount,
		},
	}
	for i, p := range doc.Pages {
		inter.Pages = append(inter.Pages, intermediatePage{
			Number: i + 1,
			Text:   anchorText(doc.Text, p.Layout.GetTextAnchor()),
		})
	}

	var warnings []string
	if analysis.ScannedRatio > 0 {
		warnings = append(warnings, fmt.Sprintf("%.0f%% of pages appear scanned, OCR text may be lossy", analysis.ScannedRatio*100))
	}

	payload, err := json.Marshal(inter)
	if err != nil {
		return nil, domain.WrapError(domain.KindStorageFailure, "encode intermediate content", err)
	}

	ref := intermediateRef(inputRef)
	if err := s.artifacts.Write(ctx, ref, payload, "application/json"); err != nil {
		return nil, domain.WrapError(domain.KindStorageFailure, "persist intermediate content", err)
	}

	return &convert.IntermediateContent{
		Ref:      ref,
		Elements: inter.Elements,
		Warnings: warnings,
	}, nil
}

func intermediateRef(inputRef string) string {
	base := inputRef
	if i := strings.LastIndex(base, "."); i > 0 {
		base = base[:i]
	}
	return base + ".intermediate.json"
}

// anchorText materializes a text anchor against the full document text.
func anchorText(full string, anchor *documentaipb.Document_TextAnchor) string {
	if anchor == nil {
		return ""
	}
	if anchor.Content != "" {
		return anchor.Content
	}
	var b strings.Builder
	for _, seg := range anchor.TextSegments {
		start, end := int(seg.StartIndex), int(seg.EndIndex)
		if start < 0 || end > len(full) || start >= end {
			continue
		}
		b.WriteString(full[start:end])
	}
	return b.String()
}

func classifyGRPC(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return domain.WrapError(domain.KindProviderTransient, "documentai request failed", err)
	}
	switch st.Code() {
	case codes.InvalidArgument, codes.NotFound, codes.PermissionDenied, codes.Unauthenticated, codes.FailedPrecondition:
		return domain.WrapError(domain.KindProviderPermanent, "documentai rejected request", err)
	case codes.DeadlineExceeded:
		return domain.WrapError(domain.KindTimeout, "documentai deadline exceeded", err)
	default:
		return domain.WrapError(domain.KindProviderTransient, "documentai request failed", err)
	}
}
