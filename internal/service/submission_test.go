package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lorekeeper/internal/domain"
)

type fakeStore struct {
	outcome  domain.CreateOutcome
	existing *domain.Job

	gotJob        *domain.Job
	gotDerivation *domain.Derivation
	cancelled     []uuid.UUID
}

func (f *fakeStore) GetOrCreateJob(_ context.Context, job *domain.Job, d *domain.Derivation) (*domain.Job, domain.CreateOutcome, error) {
	f.gotJob, f.gotDerivation = job, d
	if f.existing != nil {
		return f.existing, f.outcome, nil
	}
	return job, f.outcome, nil
}

func (f *fakeStore) CancelJob(_ context.Context, jobID uuid.UUID) error {
	f.cancelled = append(f.cancelled, jobID)
	return nil
}

type fakeLore struct {
	worlds   map[uuid.UUID]bool
	claims   map[uuid.UUID]time.Time
	entities map[uuid.UUID]time.Time
	chunks   map[uuid.UUID]time.Time
	sources  map[uuid.UUID]time.Time
}

func (f *fakeLore) WorldExists(_ context.Context, worldID uuid.UUID) (bool, error) {
	return f.worlds[worldID], nil
}

func refsFrom(worldID uuid.UUID, known map[uuid.UUID]time.Time, ids []uuid.UUID) []domain.LoreRef {
	var refs []domain.LoreRef
	for _, id := range ids {
		if t, ok := known[id]; ok {
			refs = append(refs, domain.LoreRef{ID: id, WorldID: worldID, UpdatedAt: t})
		}
	}
	return refs
}

func (f *fakeLore) ClaimRefs(_ context.Context, worldID uuid.UUID, ids []uuid.UUID) ([]domain.LoreRef, error) {
	return refsFrom(worldID, f.claims, ids), nil
}

func (f *fakeLore) EntityRefs(_ context.Context, worldID uuid.UUID, ids []uuid.UUID) ([]domain.LoreRef, error) {
	return refsFrom(worldID, f.entities, ids), nil
}

func (f *fakeLore) SourceChunkRefs(_ context.Context, worldID uuid.UUID, ids []uuid.UUID) ([]domain.LoreRef, error) {
	return refsFrom(worldID, f.chunks, ids), nil
}

func (f *fakeLore) SourceRef(_ context.Context, worldID, sourceID uuid.UUID) (*domain.LoreRef, error) {
	if t, ok := f.sources[sourceID]; ok {
		return &domain.LoreRef{ID: sourceID, WorldID: worldID, UpdatedAt: t}, nil
	}
	return nil, domain.ErrNotFound
}

type fakeDerivations struct {
	store *fakeStore
	fixed *domain.Derivation
}

func (f *fakeDerivations) GetByJobID(context.Context, uuid.UUID) (*domain.Derivation, error) {
	if f.fixed != nil {
		return f.fixed, nil
	}
	if f.store.gotDerivation == nil {
		return nil, domain.ErrNotFound
	}
	return f.store.gotDerivation, nil
}

type fakeAssets struct {
	asset *domain.Asset
}

func (f *fakeAssets) GetByID(context.Context, uuid.UUID) (*domain.Asset, error) {
	if f.asset == nil {
		return nil, domain.ErrNotFound
	}
	return f.asset, nil
}

type fakePublisher struct {
	published []*domain.Job
	err       error
}

func (f *fakePublisher) PublishJob(_ context.Context, job *domain.Job) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, job)
	return nil
}

type fixture struct {
	svc       *Submission
	store     *fakeStore
	lore      *fakeLore
	publisher *fakePublisher
	assets    *fakeAssets

	worldID  uuid.UUID
	claimID  uuid.UUID
	entityID uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:     &fakeStore{outcome: domain.OutcomeCreated},
		publisher: &fakePublisher{},
		assets:    &fakeAssets{},
		worldID:   uuid.New(),
		claimID:   uuid.New(),
		entityID:  uuid.New(),
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.lore = &fakeLore{
		worlds:   map[uuid.UUID]bool{f.worldID: true},
		claims:   map[uuid.UUID]time.Time{f.claimID: now},
		entities: map[uuid.UUID]time.Time{f.entityID: now.Add(time.Hour)},
		chunks:   map[uuid.UUID]time.Time{},
		sources:  map[uuid.UUID]time.Time{},
	}
	f.svc = NewSubmission(f.store, f.lore, &fakeDerivations{store: f.store}, f.assets, f.publisher, zerolog.Nop())
	return f
}

func (f *fixture) request() SubmitRequest {
	return SubmitRequest{
		WorldID:     f.worldID,
		AssetType:   domain.AssetTypeVideo,
		Provider:    "sora",
		ModelID:     "sora-2",
		RequestedBy: "user-1",
		PromptSpec:  map[string]any{"description": "dragon"},
		ClaimIDs:    []uuid.UUID{f.claimID},
		EntityIDs:   []uuid.UUID{f.entityID},
	}
}

func TestSubmitCreatesAndPublishes(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Submit(context.Background(), f.request())
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeCreated, res.Outcome)
	assert.Equal(t, domain.JobStatusQueued, res.Job.Status)
	assert.NotEmpty(t, res.Job.InputDigest)
	require.NotNil(t, res.Derivation)
	assert.Equal(t, res.Job.ID, res.Derivation.JobID)
	assert.Equal(t, []uuid.UUID{f.claimID}, res.Derivation.ClaimIDs)
	require.Len(t, f.publisher.published, 1)
	assert.Equal(t, res.Job.ID, f.publisher.published[0].ID)
}

func TestSubmitDuplicateDoesNotPublish(t *testing.T) {
	f := newFixture(t)
	existing := &domain.Job{ID: uuid.New(), WorldID: f.worldID, Status: domain.JobStatusQueued}
	f.store.outcome = domain.OutcomeExisting
	f.store.existing = existing

	res, err := f.svc.Submit(context.Background(), f.request())
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeExisting, res.Outcome)
	assert.Equal(t, existing.ID, res.Job.ID)
	assert.Empty(t, f.publisher.published)
}

func TestSubmitRequeuedFailedJobPublishes(t *testing.T) {
	f := newFixture(t)
	existing := &domain.Job{ID: uuid.New(), WorldID: f.worldID, Status: domain.JobStatusQueued}
	f.store.outcome = domain.OutcomeRequeued
	f.store.existing = existing

	res, err := f.svc.Submit(context.Background(), f.request())
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeRequeued, res.Outcome)
	require.Len(t, f.publisher.published, 1)
	assert.Equal(t, existing.ID, f.publisher.published[0].ID)
}

func TestSubmitDigestIgnoresReferenceOrder(t *testing.T) {
	f := newFixture(t)
	extra := uuid.New()
	f.lore.claims[extra] = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	req1 := f.request()
	req1.ClaimIDs = []uuid.UUID{f.claimID, extra}
	_, err := f.svc.Submit(context.Background(), req1)
	require.NoError(t, err)
	first := f.store.gotJob.InputDigest

	req2 := f.request()
	req2.ClaimIDs = []uuid.UUID{extra, f.claimID}
	_, err = f.svc.Submit(context.Background(), req2)
	require.NoError(t, err)

	assert.Equal(t, first, f.store.gotJob.InputDigest)
}

func TestSubmitDigestChangesWithSnapshot(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Submit(context.Background(), f.request())
	require.NoError(t, err)
	first := f.store.gotJob.InputDigest

	f.lore.claims[f.claimID] = f.lore.claims[f.claimID].Add(time.Minute)
	_, err = f.svc.Submit(context.Background(), f.request())
	require.NoError(t, err)

	assert.NotEqual(t, first, f.store.gotJob.InputDigest)
}

func TestSubmitRejectsUnknownWorld(t *testing.T) {
	f := newFixture(t)
	req := f.request()
	req.WorldID = uuid.New()

	_, err := f.svc.Submit(context.Background(), req)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "world_id", verr.Field)
}

func TestSubmitRejectsForeignReference(t *testing.T) {
	f := newFixture(t)
	req := f.request()
	req.ClaimIDs = append(req.ClaimIDs, uuid.New())

	_, err := f.svc.Submit(context.Background(), req)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "claim_ids", verr.Field)
	assert.Nil(t, f.store.gotJob)
}

func TestSubmitRejectsUnknownSource(t *testing.T) {
	f := newFixture(t)
	req := f.request()
	src := uuid.New()
	req.SourceID = &src

	_, err := f.svc.Submit(context.Background(), req)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "source_id", verr.Field)
}

func TestSubmitRejectsBadAssetType(t *testing.T) {
	f := newFixture(t)
	req := f.request()
	req.AssetType = "HOLOGRAM"

	_, err := f.svc.Submit(context.Background(), req)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestSubmitRejectsMissingFields(t *testing.T) {
	f := newFixture(t)
	req := f.request()
	req.Provider = ""

	_, err := f.svc.Submit(context.Background(), req)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestSubmitRejectsEmptyPromptSpec(t *testing.T) {
	f := newFixture(t)

	for name, spec := range map[string]map[string]any{
		"nil":   nil,
		"empty": {},
	} {
		t.Run(name, func(t *testing.T) {
			req := f.request()
			req.PromptSpec = spec

			_, err := f.svc.Submit(context.Background(), req)
			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, "prompt_spec", verr.Field)
			assert.Nil(t, f.store.gotJob)
		})
	}
}

func TestSubmitSurvivesPublishFailure(t *testing.T) {
	f := newFixture(t)
	f.publisher.err = errors.New("broker down")

	res, err := f.svc.Submit(context.Background(), f.request())
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusQueued, res.Job.Status)
}

func TestSubmitReturnsAssetForCompletedDuplicate(t *testing.T) {
	f := newFixture(t)
	assetID := uuid.New()
	existing := &domain.Job{ID: uuid.New(), WorldID: f.worldID, Status: domain.JobStatusSucceeded}
	f.store.outcome = domain.OutcomeExisting
	f.store.existing = existing
	f.assets.asset = &domain.Asset{ID: assetID, WorldID: f.worldID, Status: domain.AssetStatusReady}

	derivations := &fakeDerivations{fixed: &domain.Derivation{
		ID: uuid.New(), JobID: existing.ID, AssetID: &assetID,
	}}
	f.svc = NewSubmission(f.store, f.lore, derivations, f.assets, f.publisher, zerolog.Nop())

	res, err := f.svc.Submit(context.Background(), f.request())
	require.NoError(t, err)
	require.NotNil(t, res.Asset)
	assert.Equal(t, assetID, res.Asset.ID)
	assert.Empty(t, f.publisher.published)
}

func TestCancelDelegates(t *testing.T) {
	f := newFixture(t)
	id := uuid.New()
	require.NoError(t, f.svc.Cancel(context.Background(), id))
	assert.Equal(t, []uuid.UUID{id}, f.store.cancelled)
}
