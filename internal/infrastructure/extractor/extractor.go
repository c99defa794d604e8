// Package extractor picks a text extractor by brochure type.
package extractor

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/nurturingai/leadnurture/internal/core/domain"
	"github.com/nurturingai/leadnurture/internal/core/ports"
)

type ByType struct {
	pdf  ports.TextExtractor
	text ports.TextExtractor
}

func NewByType(pdf, text ports.TextExtractor) *ByType {
	return &ByType{pdf: pdf, text: text}
}

func (e *ByType) Extract(ctx context.Context, brochure *domain.Brochure) (string, error) {
	if IsPDF(brochure) {
		return e.pdf.Extract(ctx, brochure)
	}
	return e.text.Extract(ctx, brochure)
}

func IsPDF(brochure *domain.Brochure) bool {
	if strings.EqualFold(strings.TrimSpace(brochure.MimeType), "application/pdf") {
		return true
	}
	return strings.EqualFold(filepath.Ext(brochure.Filename), ".pdf")
}
