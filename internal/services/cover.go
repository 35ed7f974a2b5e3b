package services

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"image/color"
	"os"
	"strings"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"github.com/google/uuid"
	"golang.org/x/image/font"

	"github.com/xuan1250/Transfer2Read-sub004/internal/clients/gcp"
	"github.com/xuan1250/Transfer2Read-sub004/internal/platform/logger"
)

const (
	coverWidth  = 1200
	coverHeight = 1600
)

// CoverService generates a cover image for documents that arrive without
// one: a solid background picked by title hash with the title centered in
// the upper third.
type CoverService interface {
	Generate(ctx context.Context, title string) (string, error)
}

type coverService struct {
	log           *logger.Logger
	bucketService gcp.BucketService

	bgColors  []color.NRGBA
	titleFace font.Face
}

func NewCoverService(log *logger.Logger, bucketService gcp.BucketService) (CoverService, error) {
	serviceLog := log.With("service", "CoverService")

	fontPath := os.Getenv("COVER_FONT")
	if strings.TrimSpace(fontPath) == "" {
		return nil, fmt.Errorf("env var COVER_FONT is empty")
	}
	serviceLog.Info("Loading cover font", "font", fontPath)

	face, err := loadFontFace(fontPath, 72)
	if err != nil {
		return nil, fmt.Errorf("could not load cover font: %w", err)
	}

	return &coverService{
		log:           serviceLog,
		bucketService: bucketService,
		bgColors: []color.NRGBA{
			{R: 0x26, G: 0x32, B: 0x38, A: 0xFF},
			{R: 0x37, G: 0x47, B: 0x4F, A: 0xFF},
			{R: 0x4E, G: 0x34, B: 0x2E, A: 0xFF},
			{R: 0x1B, G: 0x5E, B: 0x20, A: 0xFF},
			{R: 0x0D, G: 0x47, B: 0xA1, A: 0xFF},
			{R: 0x4A, G: 0x14, B: 0x8C, A: 0xFF},
			{R: 0x88, G: 0x0E, B: 0x4F, A: 0xFF},
		},
		titleFace: face,
	}, nil
}

func (cs *coverService) Generate(ctx context.Context, title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = "Untitled Document"
	}

	dc := gg.NewContext(coverWidth, coverHeight)
	dc.SetColor(cs.colorFor(title))
	dc.DrawRectangle(0, 0, coverWidth, coverHeight)
	dc.Fill()

	dc.SetFontFace(cs.titleFace)
	dc.SetColor(color.White)
	dc.DrawStringWrapped(title, coverWidth/2, coverHeight/3, 0.5, 0.5, coverWidth*0.8, 1.4, gg.AlignCenter)

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return "", fmt.Errorf("encode cover PNG: %w", err)
	}

	ref := fmt.Sprintf("covers/%s.png", uuid.New().String())
	if err := cs.bucketService.Write(ctx, ref, buf.Bytes(), "image/png"); err != nil {
		return "", fmt.Errorf("upload cover: %w", err)
	}

	cs.log.Info("Cover generated", "ref", ref, "title", title)
	return ref, nil
}

func (cs *coverService) colorFor(title string) color.NRGBA {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.ToLower(title)))
	return cs.bgColors[int(h.Sum32())%len(cs.bgColors)]
}

func loadFontFace(fontPath string, size float64) (font.Face, error) {
	fontBytes, err := os.ReadFile(fontPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read font file: %w", err)
	}
	parsedFont, err := truetype.Parse(fontBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse TTF: %w", err)
	}
	face := truetype.NewFace(parsedFont, &truetype.Options{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingNone,
	})
	return face, nil
}
