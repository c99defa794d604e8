package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nurturingai/leadnurture/internal/core/domain"
	"github.com/nurturingai/leadnurture/internal/core/ports"
)

type IngestBrochureUseCase struct {
	repo    ports.BrochureRepository
	storage ports.ObjectStorage
	queue   ports.BrochureQueue
}

func NewIngestBrochureUseCase(
	repo ports.BrochureRepository,
	storage ports.ObjectStorage,
	queue ports.BrochureQueue,
) *IngestBrochureUseCase {
	return &IngestBrochureUseCase{
		repo:    repo,
		storage: storage,
		queue:   queue,
	}
}

func (uc *IngestBrochureUseCase) Upload(
	ctx context.Context,
	projectName, filename, mimeType string,
	body io.Reader,
) (*domain.Brochure, error) {
	projectName = strings.TrimSpace(projectName)
	if projectName == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload brochure", errors.New("project_name is required"))
	}

	id := uuid.NewString()
	storageKey := fmt.Sprintf("%s_%s", id, sanitizeFilename(filename))
	now := time.Now().UTC()

	if err := uc.storage.Save(ctx, storageKey, body); err != nil {
		return nil, fmt.Errorf("save to object storage: %w", err)
	}

	brochure := &domain.Brochure{
		ID:          id,
		ProjectName: projectName,
		Filename:    filename,
		MimeType:    mimeType,
		StoragePath: storageKey,
		Status:      domain.BrochureUploaded,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := uc.repo.Create(ctx, brochure); err != nil {
		return nil, fmt.Errorf("create brochure metadata: %w", err)
	}

	if err := uc.queue.PublishBrochureUploaded(ctx, brochure.ID); err != nil {
		return nil, fmt.Errorf("publish ingestion event: %w", err)
	}

	return brochure, nil
}

func (uc *IngestBrochureUseCase) GetByID(ctx context.Context, id string) (*domain.Brochure, error) {
	return uc.repo.GetByID(ctx, id)
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." {
		return "brochure.bin"
	}
	return base
}
