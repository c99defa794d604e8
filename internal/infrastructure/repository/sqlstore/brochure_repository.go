package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nurturingai/leadnurture/internal/core/domain"
)

type BrochureRepository struct {
	db *sql.DB
}

func NewBrochureRepository(db *sql.DB) *BrochureRepository {
	return &BrochureRepository{db: db}
}

func (r *BrochureRepository) Create(ctx context.Context, b *domain.Brochure) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO brochures (
	id, project_name, filename, mime_type, storage_path, chunk_count, status, error_message, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
`,
		b.ID, b.ProjectName, b.Filename, b.MimeType, b.StoragePath, b.ChunkCount,
		string(b.Status), b.Error, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert brochure: %w", err)
	}
	return nil
}

func (r *BrochureRepository) GetByID(ctx context.Context, id string) (*domain.Brochure, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, project_name, filename, mime_type, storage_path, chunk_count, status, error_message, created_at, updated_at
FROM brochures
WHERE id = $1
`, id)

	var b domain.Brochure
	var status string
	err := row.Scan(
		&b.ID, &b.ProjectName, &b.Filename, &b.MimeType, &b.StoragePath, &b.ChunkCount,
		&status, &b.Error, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get brochure", fmt.Errorf("brochure %s", id))
		}
		return nil, fmt.Errorf("scan brochure: %w", err)
	}
	b.Status = domain.BrochureStatus(status)
	return &b, nil
}

func (r *BrochureRepository) UpdateStatus(ctx context.Context, id string, status domain.BrochureStatus, errMessage string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE brochures
SET status = $1, error_message = $2, updated_at = $3
WHERE id = $4
`, string(status), errMessage, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update brochure status: %w", err)
	}
	return requireAffected(res, "update brochure status", id)
}

func (r *BrochureRepository) SetChunkCount(ctx context.Context, id string, count int) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE brochures
SET chunk_count = $1, updated_at = $2
WHERE id = $3
`, count, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set brochure chunk count: %w", err)
	}
	return requireAffected(res, "set brochure chunk count", id)
}

func requireAffected(res sql.Result, operation, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", operation, err)
	}
	if n == 0 {
		return domain.WrapError(domain.ErrNotFound, operation, fmt.Errorf("id %s", id))
	}
	return nil
}
