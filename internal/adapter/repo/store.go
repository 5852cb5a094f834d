package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"lorekeeper/internal/domain"
)

// Store bundles the repositories over one pool and owns the multi-table
// transactions: job creation with its derivation, and job completion with its
// asset. Everything else delegates to the individual repositories.
type Store struct {
	pool *pgxpool.Pool

	Jobs        *JobRepositoryPG
	Assets      *AssetRepositoryPG
	Derivations *DerivationRepositoryPG
	Lore        *LoreRepositoryPG
}

// NewStore wires the repositories over a shared pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		pool:        pool,
		Jobs:        NewJobRepository(pool),
		Assets:      NewAssetRepository(pool),
		Derivations: NewDerivationRepository(pool),
		Lore:        NewLoreRepository(pool),
	}
}

// GetOrCreateJob atomically creates the job plus its derivation record, or
// resolves the duplicate when the idempotency key already exists. A FAILED
// duplicate is reopened as a fresh QUEUED attempt.
func (s *Store) GetOrCreateJob(ctx context.Context, job *domain.Job, d *domain.Derivation) (*domain.Job, domain.CreateOutcome, error) {
	var (
		result  *domain.Job
		outcome domain.CreateOutcome
	)
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		jobs := NewJobRepository(tx)

		inserted, err := jobs.Insert(ctx, job)
		if err != nil {
			return fmt.Errorf("insert job: %w", err)
		}
		if inserted {
			if err := NewDerivationRepository(tx).Create(ctx, d); err != nil {
				return fmt.Errorf("insert derivation: %w", err)
			}
			result, outcome = job, domain.OutcomeCreated
			return nil
		}

		existing, err := jobs.GetByDigest(ctx, job.WorldID, job.Provider, job.ModelID, job.InputDigest)
		if err != nil {
			return fmt.Errorf("fetch duplicate job: %w", err)
		}
		result, outcome = existing, domain.OutcomeExisting

		if existing.Status == domain.JobStatusFailed {
			if _, err := jobs.ResetFailed(ctx, existing.ID); err != nil {
				return fmt.Errorf("reset failed job: %w", err)
			}
			existing.Status = domain.JobStatusQueued
			existing.StartedAt, existing.FinishedAt = nil, nil
			existing.ErrorCode, existing.ErrorMessage = "", ""
			outcome = domain.OutcomeRequeued
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return result, outcome, nil
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID uuid.UUID) (*domain.Job, error) {
	return s.Jobs.GetByID(ctx, jobID)
}

// ListStuckQueued lists QUEUED jobs old enough to be presumed orphaned from
// the broker.
func (s *Store) ListStuckQueued(ctx context.Context, olderThan time.Duration, limit int) ([]domain.Job, error) {
	return s.Jobs.ListStuckQueued(ctx, olderThan, limit)
}

// ClaimJob moves a job QUEUED -> RUNNING.
func (s *Store) ClaimJob(ctx context.Context, jobID uuid.UUID) error {
	ok, err := s.Jobs.Claim(ctx, jobID)
	if err != nil {
		return err
	}
	if !ok {
		return s.transitionError(ctx, jobID, domain.JobStatusRunning)
	}
	return nil
}

// RequeueJob moves a job RUNNING -> QUEUED after a transient failure.
func (s *Store) RequeueJob(ctx context.Context, jobID uuid.UUID, errCode, errMsg string) error {
	ok, err := s.Jobs.Requeue(ctx, jobID, errCode, errMsg)
	if err != nil {
		return err
	}
	if !ok {
		return s.transitionError(ctx, jobID, domain.JobStatusQueued)
	}
	return nil
}

// FailJob moves a job RUNNING -> FAILED with the permanent error recorded.
func (s *Store) FailJob(ctx context.Context, jobID uuid.UUID, errCode, errMsg string) error {
	ok, err := s.Jobs.Fail(ctx, jobID, errCode, errMsg)
	if err != nil {
		return err
	}
	if !ok {
		return s.transitionError(ctx, jobID, domain.JobStatusFailed)
	}
	return nil
}

// CancelJob moves a job QUEUED -> CANCELLED.
func (s *Store) CancelJob(ctx context.Context, jobID uuid.UUID) error {
	ok, err := s.Jobs.Cancel(ctx, jobID)
	if err != nil {
		return err
	}
	if !ok {
		return s.transitionError(ctx, jobID, domain.JobStatusCancelled)
	}
	return nil
}

// CompleteJob records a successful run in one transaction: the asset row, the
// derivation link, and the RUNNING -> SUCCEEDED transition. If any step
// refuses (job not RUNNING, derivation already linked) the whole completion
// rolls back.
func (s *Store) CompleteJob(ctx context.Context, jobID uuid.UUID, artifact domain.ArtifactInput) (*domain.Asset, error) {
	var asset *domain.Asset
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		jobs := NewJobRepository(tx)

		job, err := jobs.GetByID(ctx, jobID)
		if err != nil {
			return err
		}

		ok, err := jobs.Succeed(ctx, jobID)
		if err != nil {
			return fmt.Errorf("finish job: %w", err)
		}
		if !ok {
			return succeedConflict(jobID, job.Status)
		}

		a := &domain.Asset{
			ID:          uuid.New(),
			WorldID:     job.WorldID,
			Type:        artifact.Type,
			Format:      artifact.Format,
			Status:      domain.AssetStatusReady,
			StorageKey:  artifact.StorageKey,
			ContentType: artifact.ContentType,
			Checksum:    artifact.Checksum,
			CreatedBy:   artifact.CreatedBy,
		}
		if artifact.SizeBytes > 0 {
			size := artifact.SizeBytes
			a.SizeBytes = &size
		}
		if artifact.DurationSeconds > 0 {
			dur := artifact.DurationSeconds
			a.DurationSeconds = &dur
		}
		if err := NewAssetRepository(tx).Insert(ctx, a); err != nil {
			return fmt.Errorf("insert asset: %w", err)
		}
		if err := NewDerivationRepository(tx).AttachAsset(ctx, jobID, a.ID); err != nil {
			return fmt.Errorf("attach asset: %w", err)
		}
		asset = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Assets.GetByID(ctx, asset.ID)
}

// succeedConflict explains a Succeed UPDATE that matched no rows. The status
// read earlier in the transaction may still say RUNNING when a concurrent
// writer settled the job between the read and the UPDATE, so this must return
// an error even when the transition looks legal on paper.
func succeedConflict(jobID uuid.UUID, seen domain.JobStatus) error {
	if err := domain.CheckTransition(jobID.String(), seen, domain.JobStatusSucceeded); err != nil {
		return err
	}
	return &domain.TransitionError{JobID: jobID.String(), From: seen, To: domain.JobStatusSucceeded}
}

// transitionError reconstructs the reason a guarded UPDATE matched no rows.
func (s *Store) transitionError(ctx context.Context, jobID uuid.UUID, to domain.JobStatus) error {
	job, err := s.Jobs.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if err := domain.CheckTransition(jobID.String(), job.Status, to); err != nil {
		return err
	}
	// The guard lost a race but the transition is now legal on paper; report
	// the conflict rather than pretending it succeeded.
	return &domain.TransitionError{JobID: jobID.String(), From: job.Status, To: to}
}
