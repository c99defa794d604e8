package usecase

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/nurturingai/leadnurture/internal/core/domain"
	"github.com/nurturingai/leadnurture/internal/core/ports"
)

type ProcessBrochureUseCase struct {
	repo      ports.BrochureRepository
	extractor ports.TextExtractor
	chunker   ports.Chunker
	store     ports.SemanticStore
}

func NewProcessBrochureUseCase(
	repo ports.BrochureRepository,
	extractor ports.TextExtractor,
	chunker ports.Chunker,
	store ports.SemanticStore,
) *ProcessBrochureUseCase {
	return &ProcessBrochureUseCase{
		repo:      repo,
		extractor: extractor,
		chunker:   chunker,
		store:     store,
	}
}

func (uc *ProcessBrochureUseCase) ProcessByID(ctx context.Context, brochureID string) error {
	if err := uc.markStatus(ctx, brochureID, domain.BrochureProcessing, ""); err != nil {
		return fmt.Errorf("set status=processing: %w", err)
	}

	count, err := uc.processPipeline(ctx, brochureID)
	if err != nil {
		if failErr := uc.markFailed(ctx, brochureID, err); failErr != nil {
			return fmt.Errorf("%w; mark failed status: %v", err, failErr)
		}
		return err
	}

	if err := uc.repo.SetChunkCount(ctx, brochureID, count); err != nil {
		return fmt.Errorf("save chunk count: %w", err)
	}

	if err := uc.markStatus(ctx, brochureID, domain.BrochureReady, ""); err != nil {
		return fmt.Errorf("set status=ready: %w", err)
	}

	return nil
}

func (uc *ProcessBrochureUseCase) processPipeline(ctx context.Context, brochureID string) (int, error) {
	brochure, err := uc.repo.GetByID(ctx, brochureID)
	if err != nil {
		return 0, fmt.Errorf("fetch brochure by id: %w", err)
	}

	text, err := uc.extractor.Extract(ctx, brochure)
	if err != nil {
		return 0, fmt.Errorf("extract text: %w", err)
	}
	if text == "" {
		return 0, domain.WrapError(domain.ErrInvalidInput, "extract text", errors.New("empty extracted text"))
	}

	chunks := uc.chunker.Split(text)
	if len(chunks) == 0 {
		return 0, domain.WrapError(domain.ErrInvalidInput, "chunk brochure", errors.New("chunking produced zero chunks"))
	}

	if err := uc.store.Add(ctx, brochureRecords(brochure, chunks)); err != nil {
		return 0, fmt.Errorf("index chunks in semantic store: %w", err)
	}
	return len(chunks), nil
}

func brochureRecords(brochure *domain.Brochure, chunks []string) []domain.SemanticRecord {
	records := make([]domain.SemanticRecord, 0, len(chunks))
	for i, chunk := range chunks {
		records = append(records, domain.SemanticRecord{
			ID:   fmt.Sprintf("%s:%d", brochure.ID, i),
			Text: chunk,
			Metadata: map[string]string{
				domain.MetaSource:      brochure.Filename,
				domain.MetaProjectName: brochure.ProjectName,
				domain.MetaBrochureID:  brochure.ID,
				domain.MetaChunkIndex:  strconv.Itoa(i),
			},
		})
	}
	return records
}

func (uc *ProcessBrochureUseCase) markStatus(ctx context.Context, brochureID string, status domain.BrochureStatus, errMessage string) error {
	return uc.repo.UpdateStatus(ctx, brochureID, status, errMessage)
}

func (uc *ProcessBrochureUseCase) markFailed(ctx context.Context, brochureID string, processErr error) error {
	if processErr == nil {
		return nil
	}
	return uc.markStatus(ctx, brochureID, domain.BrochureFailed, processErr.Error())
}
