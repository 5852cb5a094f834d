// Package service holds the application logic between the HTTP layer and the
// repositories: request validation, lore snapshotting, idempotent job
// creation, and queue publication.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"lorekeeper/internal/canonical"
	"lorekeeper/internal/domain"
)

// JobStore is the slice of the persistence layer submission writes through.
type JobStore interface {
	GetOrCreateJob(ctx context.Context, job *domain.Job, d *domain.Derivation) (*domain.Job, domain.CreateOutcome, error)
	CancelJob(ctx context.Context, jobID uuid.UUID) error
}

// LoreReader resolves referenced lore for scoping checks and snapshots.
type LoreReader interface {
	WorldExists(ctx context.Context, worldID uuid.UUID) (bool, error)
	ClaimRefs(ctx context.Context, worldID uuid.UUID, ids []uuid.UUID) ([]domain.LoreRef, error)
	EntityRefs(ctx context.Context, worldID uuid.UUID, ids []uuid.UUID) ([]domain.LoreRef, error)
	SourceChunkRefs(ctx context.Context, worldID uuid.UUID, ids []uuid.UUID) ([]domain.LoreRef, error)
	SourceRef(ctx context.Context, worldID, sourceID uuid.UUID) (*domain.LoreRef, error)
}

// DerivationReader loads provenance records for responses.
type DerivationReader interface {
	GetByJobID(ctx context.Context, jobID uuid.UUID) (*domain.Derivation, error)
}

// AssetReader loads assets for responses.
type AssetReader interface {
	GetByID(ctx context.Context, assetID uuid.UUID) (*domain.Asset, error)
}

// Publisher pushes newly created jobs onto the broker.
type Publisher interface {
	PublishJob(ctx context.Context, job *domain.Job) error
}

// SubmitRequest is a validated asset generation request.
type SubmitRequest struct {
	WorldID     uuid.UUID        `validate:"required"`
	AssetType   domain.AssetType `validate:"required"`
	Provider    string           `validate:"required"`
	ModelID     string
	Priority    int            `validate:"gte=0,lte=9"`
	RequestedBy string         `validate:"required"`
	PromptSpec  map[string]any `validate:"required,min=1"`

	ClaimIDs       []uuid.UUID
	EntityIDs      []uuid.UUID
	SourceChunkIDs []uuid.UUID
	SourceID       *uuid.UUID
}

// SubmitResult is everything a submission response needs: the job (existing
// or new), its derivation, and the finished asset when an identical digest
// already completed.
type SubmitResult struct {
	Job        *domain.Job
	Derivation *domain.Derivation
	Asset      *domain.Asset
	Outcome    domain.CreateOutcome
}

// Submission coordinates job creation.
type Submission struct {
	store       JobStore
	lore        LoreReader
	derivations DerivationReader
	assets      AssetReader
	publisher   Publisher
	validate    *validator.Validate
	log         zerolog.Logger
}

// NewSubmission wires a submission service.
func NewSubmission(store JobStore, lore LoreReader, derivations DerivationReader, assets AssetReader, publisher Publisher, log zerolog.Logger) *Submission {
	return &Submission{
		store:       store,
		lore:        lore,
		derivations: derivations,
		assets:      assets,
		publisher:   publisher,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		log:         log,
	}
}

// Submit validates the request, computes the idempotency digest, and runs the
// get-or-create. New and reopened jobs are published to the broker after the
// database commit; a publish failure is logged, not returned, because the job
// row is already durable and the sweeper republishes stuck QUEUED jobs.
func (s *Submission) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	// validator's `required` only checks non-nil for maps; `min=1` above
	// covers emptiness, and this keeps the field name in the error.
	if len(req.PromptSpec) == 0 {
		return nil, domain.Validationf("prompt_spec", "prompt spec must not be empty")
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, domain.Validationf("request", "%v", err)
	}
	if !domain.ValidAssetType(req.AssetType) {
		return nil, domain.Validationf("asset_type", "unsupported asset type %q", req.AssetType)
	}

	ok, err := s.lore.WorldExists(ctx, req.WorldID)
	if err != nil {
		return nil, fmt.Errorf("check world: %w", err)
	}
	if !ok {
		return nil, domain.Validationf("world_id", "unknown world %s", req.WorldID)
	}

	req.ClaimIDs = canonical.SortedIDs(req.ClaimIDs)
	req.EntityIDs = canonical.SortedIDs(req.EntityIDs)
	req.SourceChunkIDs = canonical.SortedIDs(req.SourceChunkIDs)

	snapshot, err := s.snapshotLore(ctx, req)
	if err != nil {
		return nil, err
	}

	digest, err := canonical.Digest(canonical.Input{
		WorldID:   req.WorldID,
		AssetType: req.AssetType,
		Provider:  req.Provider,
		ModelID:   req.ModelID,
		PromptSpec: req.PromptSpec,
		References: canonical.References{
			ClaimIDs:       req.ClaimIDs,
			EntityIDs:      req.EntityIDs,
			SourceChunkIDs: req.SourceChunkIDs,
			SourceID:       req.SourceID,
		},
		Snapshot: snapshot,
	})
	if err != nil {
		return nil, fmt.Errorf("compute digest: %w", err)
	}

	promptJSON, err := json.Marshal(req.PromptSpec)
	if err != nil {
		return nil, domain.Validationf("prompt_spec", "not serializable: %v", err)
	}
	snapshotJSON, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("serialize snapshot: %w", err)
	}

	job := &domain.Job{
		ID:          uuid.New(),
		WorldID:     req.WorldID,
		Type:        domain.JobTypeAssetGeneration,
		AssetType:   req.AssetType,
		Provider:    req.Provider,
		ModelID:     req.ModelID,
		Status:      domain.JobStatusQueued,
		Priority:    req.Priority,
		RequestedBy: req.RequestedBy,
		InputDigest: digest,
		PromptSpec:  promptJSON,
	}
	derivation := &domain.Derivation{
		ID:             uuid.New(),
		WorldID:        req.WorldID,
		JobID:          job.ID,
		SourceID:       req.SourceID,
		PromptSpec:     promptJSON,
		InputDigest:    digest,
		LoreSnapshot:   snapshotJSON,
		ClaimIDs:       req.ClaimIDs,
		EntityIDs:      req.EntityIDs,
		SourceChunkIDs: req.SourceChunkIDs,
	}

	created, outcome, err := s.store.GetOrCreateJob(ctx, job, derivation)
	if err != nil {
		return nil, fmt.Errorf("get or create job: %w", err)
	}

	if outcome == domain.OutcomeCreated || outcome == domain.OutcomeRequeued {
		if err := s.publisher.PublishJob(ctx, created); err != nil {
			// The row is committed; losing the message only delays pickup
			// until the sweeper republishes it.
			s.log.Error().Err(err).
				Str("job_id", created.ID.String()).
				Msg("job created but publish failed")
		}
	}

	return s.buildResult(ctx, created, outcome)
}

// Cancel cancels a QUEUED job. RUNNING and terminal jobs refuse with a
// transition error.
func (s *Submission) Cancel(ctx context.Context, jobID uuid.UUID) error {
	return s.store.CancelJob(ctx, jobID)
}

// snapshotLore verifies every referenced lore object exists in the request's
// world and freezes its update timestamp. A reference that resolves to
// nothing, or to another world, rejects the submission.
func (s *Submission) snapshotLore(ctx context.Context, req SubmitRequest) (canonical.Snapshot, error) {
	snapshot := canonical.Snapshot{
		Claims:       map[string]string{},
		Entities:     map[string]string{},
		SourceChunks: map[string]string{},
	}

	resolve := func(field string, ids []uuid.UUID, lookup func(context.Context, uuid.UUID, []uuid.UUID) ([]domain.LoreRef, error), into map[string]string) error {
		if len(ids) == 0 {
			return nil
		}
		refs, err := lookup(ctx, req.WorldID, ids)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", field, err)
		}
		if len(refs) != len(ids) {
			return domain.Validationf(field, "%d of %d references not found in world %s", len(ids)-len(refs), len(ids), req.WorldID)
		}
		for _, ref := range refs {
			into[ref.ID.String()] = ref.UpdatedAt.UTC().Format(time.RFC3339Nano)
		}
		return nil
	}

	if err := resolve("claim_ids", req.ClaimIDs, s.lore.ClaimRefs, snapshot.Claims); err != nil {
		return snapshot, err
	}
	if err := resolve("entity_ids", req.EntityIDs, s.lore.EntityRefs, snapshot.Entities); err != nil {
		return snapshot, err
	}
	if err := resolve("source_chunk_ids", req.SourceChunkIDs, s.lore.SourceChunkRefs, snapshot.SourceChunks); err != nil {
		return snapshot, err
	}

	if req.SourceID != nil {
		if _, err := s.lore.SourceRef(ctx, req.WorldID, *req.SourceID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return snapshot, domain.Validationf("source_id", "source %s not found in world %s", req.SourceID, req.WorldID)
			}
			return snapshot, fmt.Errorf("resolve source: %w", err)
		}
	}
	return snapshot, nil
}

func (s *Submission) buildResult(ctx context.Context, job *domain.Job, outcome domain.CreateOutcome) (*SubmitResult, error) {
	result := &SubmitResult{Job: job, Outcome: outcome}

	derivation, err := s.derivations.GetByJobID(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("load derivation: %w", err)
	}
	result.Derivation = derivation

	if job.Status == domain.JobStatusSucceeded && derivation.AssetID != nil {
		asset, err := s.assets.GetByID(ctx, *derivation.AssetID)
		if err != nil {
			return nil, fmt.Errorf("load asset: %w", err)
		}
		result.Asset = asset
	}
	return result, nil
}
