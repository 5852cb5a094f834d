package repo

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"lorekeeper/internal/domain"
)

// LoreRepositoryPG reads the lore tables that asset jobs reference. Jobs only
// need existence, world scoping, and update timestamps from them.
type LoreRepositoryPG struct {
	db DBTX
}

// NewLoreRepository constructs a lore repository.
func NewLoreRepository(db DBTX) *LoreRepositoryPG {
	return &LoreRepositoryPG{db: db}
}

// WorldExists reports whether the world is known.
func (r *LoreRepositoryPG) WorldExists(ctx context.Context, worldID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM worlds WHERE id = $1);`, worldID).Scan(&exists)
	return exists, err
}

// ClaimRefs resolves claim IDs within a world. Missing or out-of-world IDs
// are simply absent from the result.
func (r *LoreRepositoryPG) ClaimRefs(ctx context.Context, worldID uuid.UUID, ids []uuid.UUID) ([]domain.LoreRef, error) {
	return r.refs(ctx, "claims", worldID, ids)
}

// EntityRefs resolves entity IDs within a world.
func (r *LoreRepositoryPG) EntityRefs(ctx context.Context, worldID uuid.UUID, ids []uuid.UUID) ([]domain.LoreRef, error) {
	return r.refs(ctx, "entities", worldID, ids)
}

// SourceChunkRefs resolves source chunk IDs within a world.
func (r *LoreRepositoryPG) SourceChunkRefs(ctx context.Context, worldID uuid.UUID, ids []uuid.UUID) ([]domain.LoreRef, error) {
	return r.refs(ctx, "source_chunks", worldID, ids)
}

// SourceRef resolves a single source ID within a world.
func (r *LoreRepositoryPG) SourceRef(ctx context.Context, worldID, sourceID uuid.UUID) (*domain.LoreRef, error) {
	var ref domain.LoreRef
	err := r.db.QueryRow(ctx, `
SELECT id, world_id, updated_at FROM sources WHERE id = $1 AND world_id = $2;
`, sourceID, worldID).Scan(&ref.ID, &ref.WorldID, &ref.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ref, nil
}

func (r *LoreRepositoryPG) refs(ctx context.Context, table string, worldID uuid.UUID, ids []uuid.UUID) ([]domain.LoreRef, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q := `SELECT id, world_id, updated_at FROM ` + table + ` WHERE world_id = $1 AND id = ANY($2);`
	rows, err := r.db.Query(ctx, q, worldID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []domain.LoreRef
	for rows.Next() {
		var ref domain.LoreRef
		if err := rows.Scan(&ref.ID, &ref.WorldID, &ref.UpdatedAt); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}
