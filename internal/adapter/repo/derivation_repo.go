package repo

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"lorekeeper/internal/domain"
)

// DerivationRepositoryPG persists derivation records and their lore joins.
type DerivationRepositoryPG struct {
	db DBTX
}

// NewDerivationRepository constructs a derivation repository.
func NewDerivationRepository(db DBTX) *DerivationRepositoryPG {
	return &DerivationRepositoryPG{db: db}
}

// Create inserts the derivation and one join row per referenced lore ID.
// Callers run it in the same transaction as the job insert.
func (r *DerivationRepositoryPG) Create(ctx context.Context, d *domain.Derivation) error {
	query := `
INSERT INTO asset_derivations (id, world_id, job_id, asset_id, source_id, prompt_spec, input_digest, lore_snapshot)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
`
	if _, err := r.db.Exec(ctx, query,
		d.ID,
		d.WorldID,
		d.JobID,
		d.AssetID,
		d.SourceID,
		d.PromptSpec,
		d.InputDigest,
		d.LoreSnapshot,
	); err != nil {
		return err
	}

	joins := []struct {
		table  string
		column string
		ids    []uuid.UUID
	}{
		{"derivation_claims", "claim_id", d.ClaimIDs},
		{"derivation_entities", "entity_id", d.EntityIDs},
		{"derivation_source_chunks", "source_chunk_id", d.SourceChunkIDs},
	}
	for _, j := range joins {
		for _, id := range j.ids {
			q := `INSERT INTO ` + j.table + ` (derivation_id, ` + j.column + `) VALUES ($1, $2);`
			if _, err := r.db.Exec(ctx, q, d.ID, id); err != nil {
				return err
			}
		}
	}
	return nil
}

// GetByJobID fetches the derivation recorded for a job, join rows included.
func (r *DerivationRepositoryPG) GetByJobID(ctx context.Context, jobID uuid.UUID) (*domain.Derivation, error) {
	row := r.db.QueryRow(ctx, `
SELECT id, world_id, job_id, asset_id, source_id, prompt_spec, input_digest, lore_snapshot, created_at
FROM asset_derivations
WHERE job_id = $1;
`, jobID)

	var d domain.Derivation
	if err := row.Scan(
		&d.ID,
		&d.WorldID,
		&d.JobID,
		&d.AssetID,
		&d.SourceID,
		&d.PromptSpec,
		&d.InputDigest,
		&d.LoreSnapshot,
		&d.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	var err error
	if d.ClaimIDs, err = r.joinIDs(ctx, "derivation_claims", "claim_id", d.ID); err != nil {
		return nil, err
	}
	if d.EntityIDs, err = r.joinIDs(ctx, "derivation_entities", "entity_id", d.ID); err != nil {
		return nil, err
	}
	if d.SourceChunkIDs, err = r.joinIDs(ctx, "derivation_source_chunks", "source_chunk_id", d.ID); err != nil {
		return nil, err
	}
	return &d, nil
}

// AttachAsset links the produced asset to the job's derivation. The link is
// write-once: a derivation that already points at an asset is left alone and
// the call fails with AlreadyLinkedError.
func (r *DerivationRepositoryPG) AttachAsset(ctx context.Context, jobID, assetID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `
UPDATE asset_derivations
SET asset_id = $2
WHERE job_id = $1 AND asset_id IS NULL;
`, jobID, assetID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var derivationID uuid.UUID
	err = r.db.QueryRow(ctx, `SELECT id FROM asset_derivations WHERE job_id = $1;`, jobID).Scan(&derivationID)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return err
	}
	return &domain.AlreadyLinkedError{DerivationID: derivationID.String()}
}

// ListByAssetID returns derivation refs whose generated asset matches.
func (r *DerivationRepositoryPG) ListByAssetID(ctx context.Context, assetID uuid.UUID) ([]domain.DerivationRef, error) {
	return r.listRefs(ctx, `
SELECT id, job_id, asset_id FROM asset_derivations WHERE asset_id = $1 ORDER BY created_at ASC;
`, assetID)
}

// ListByClaimID returns derivation refs that cite the claim.
func (r *DerivationRepositoryPG) ListByClaimID(ctx context.Context, claimID uuid.UUID) ([]domain.DerivationRef, error) {
	return r.listRefs(ctx, `
SELECT d.id, d.job_id, d.asset_id
FROM asset_derivations d
JOIN derivation_claims j ON j.derivation_id = d.id
WHERE j.claim_id = $1
ORDER BY d.created_at ASC;
`, claimID)
}

// ListByEntityID returns derivation refs that cite the entity.
func (r *DerivationRepositoryPG) ListByEntityID(ctx context.Context, entityID uuid.UUID) ([]domain.DerivationRef, error) {
	return r.listRefs(ctx, `
SELECT d.id, d.job_id, d.asset_id
FROM asset_derivations d
JOIN derivation_entities j ON j.derivation_id = d.id
WHERE j.entity_id = $1
ORDER BY d.created_at ASC;
`, entityID)
}

// ListBySourceID returns derivation refs tied to the source, either directly
// or through one of its chunks.
func (r *DerivationRepositoryPG) ListBySourceID(ctx context.Context, sourceID uuid.UUID) ([]domain.DerivationRef, error) {
	return r.listRefs(ctx, `
SELECT DISTINCT d.id, d.job_id, d.asset_id
FROM asset_derivations d
LEFT JOIN derivation_source_chunks j ON j.derivation_id = d.id
LEFT JOIN source_chunks c ON c.id = j.source_chunk_id
WHERE d.source_id = $1 OR c.source_id = $1
ORDER BY d.id ASC;
`, sourceID)
}

func (r *DerivationRepositoryPG) listRefs(ctx context.Context, query string, arg any) ([]domain.DerivationRef, error) {
	rows, err := r.db.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []domain.DerivationRef
	for rows.Next() {
		var ref domain.DerivationRef
		if err := rows.Scan(&ref.DerivationID, &ref.JobID, &ref.AssetID); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func (r *DerivationRepositoryPG) joinIDs(ctx context.Context, table, column string, derivationID uuid.UUID) ([]uuid.UUID, error) {
	q := `SELECT ` + column + ` FROM ` + table + ` WHERE derivation_id = $1 ORDER BY ` + column + ` ASC;`
	rows, err := r.db.Query(ctx, q, derivationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
