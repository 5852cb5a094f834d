package repo

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"lorekeeper/internal/domain"
)

// AssetRepositoryPG persists generated assets in PostgreSQL.
type AssetRepositoryPG struct {
	db DBTX
}

// NewAssetRepository constructs a new asset repository instance.
func NewAssetRepository(db DBTX) *AssetRepositoryPG {
	return &AssetRepositoryPG{db: db}
}

const assetColumns = `
id, world_id, asset_type, format, status, storage_key, content_type,
duration_seconds, size_bytes, checksum, created_by, created_at`

// Insert persists a new asset record.
func (r *AssetRepositoryPG) Insert(ctx context.Context, a *domain.Asset) error {
	query := `
INSERT INTO assets (id, world_id, asset_type, format, status, storage_key, content_type, duration_seconds, size_bytes, checksum, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11);
`
	_, err := r.db.Exec(ctx, query,
		a.ID,
		a.WorldID,
		a.Type,
		a.Format,
		a.Status,
		a.StorageKey,
		a.ContentType,
		a.DurationSeconds,
		a.SizeBytes,
		a.Checksum,
		a.CreatedBy,
	)
	return err
}

// GetByID fetches an asset by its identifier.
func (r *AssetRepositoryPG) GetByID(ctx context.Context, assetID uuid.UUID) (*domain.Asset, error) {
	row := r.db.QueryRow(ctx, `SELECT `+assetColumns+` FROM assets WHERE id = $1;`, assetID)
	return scanAsset(row)
}

// ListByWorld returns a world's non-deleted assets, newest first.
func (r *AssetRepositoryPG) ListByWorld(ctx context.Context, worldID uuid.UUID, assetType domain.AssetType, limit int) ([]domain.Asset, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(ctx, `
SELECT `+assetColumns+`
FROM assets
WHERE world_id = $1 AND status <> $2 AND ($3 = '' OR asset_type = $3)
ORDER BY created_at DESC
LIMIT $4;
`, worldID, domain.AssetStatusDeleted, string(assetType), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []domain.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, *a)
	}
	return assets, rows.Err()
}

// SoftDelete marks an asset DELETED. The storage object and derivation rows
// stay behind for provenance.
func (r *AssetRepositoryPG) SoftDelete(ctx context.Context, assetID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `
UPDATE assets SET status = $2 WHERE id = $1 AND status <> $2;
`, assetID, domain.AssetStatusDeleted)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanAsset(row pgx.Row) (*domain.Asset, error) {
	var a domain.Asset
	if err := row.Scan(
		&a.ID,
		&a.WorldID,
		&a.Type,
		&a.Format,
		&a.Status,
		&a.StorageKey,
		&a.ContentType,
		&a.DurationSeconds,
		&a.SizeBytes,
		&a.Checksum,
		&a.CreatedBy,
		&a.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}
