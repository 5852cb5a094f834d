// Package handlers exposes the job pipeline over HTTP. The handlers stay
// thin: decode, delegate to the service or store, map domain errors onto
// status codes.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"lorekeeper/internal/domain"
	"lorekeeper/internal/service"
)

// SubmissionAPI is the submission service surface.
type SubmissionAPI interface {
	Submit(ctx context.Context, req service.SubmitRequest) (*service.SubmitResult, error)
	Cancel(ctx context.Context, jobID uuid.UUID) error
}

// JobReader reads job rows.
type JobReader interface {
	GetByID(ctx context.Context, jobID uuid.UUID) (*domain.Job, error)
	ListByWorld(ctx context.Context, worldID uuid.UUID, statuses []domain.JobStatus, limit int) ([]domain.Job, error)
}

// AssetStore reads and soft-deletes assets.
type AssetStore interface {
	GetByID(ctx context.Context, assetID uuid.UUID) (*domain.Asset, error)
	ListByWorld(ctx context.Context, worldID uuid.UUID, assetType domain.AssetType, limit int) ([]domain.Asset, error)
	SoftDelete(ctx context.Context, assetID uuid.UUID) error
}

// DerivationStore reads provenance records and their reverse indexes.
type DerivationStore interface {
	GetByJobID(ctx context.Context, jobID uuid.UUID) (*domain.Derivation, error)
	ListByClaimID(ctx context.Context, claimID uuid.UUID) ([]domain.DerivationRef, error)
	ListByEntityID(ctx context.Context, entityID uuid.UUID) ([]domain.DerivationRef, error)
	ListBySourceID(ctx context.Context, sourceID uuid.UUID) ([]domain.DerivationRef, error)
	ListByAssetID(ctx context.Context, assetID uuid.UUID) ([]domain.DerivationRef, error)
}

// WorkerStore is the status-mutation surface behind the worker auth gate.
type WorkerStore interface {
	ClaimJob(ctx context.Context, jobID uuid.UUID) error
	FailJob(ctx context.Context, jobID uuid.UUID, errCode, errMsg string) error
	CompleteJob(ctx context.Context, jobID uuid.UUID, artifact domain.ArtifactInput) (*domain.Asset, error)
}

// BlobReader serves stored artifact bytes for downloads.
type BlobReader interface {
	Read(ctx context.Context, key string) ([]byte, error)
}

// App bundles the handler dependencies.
type App struct {
	Submission  SubmissionAPI
	Jobs        JobReader
	Assets      AssetStore
	Derivations DerivationStore
	Worker      WorkerStore
	Blobs       BlobReader
	Log         zerolog.Logger
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// fail maps domain errors onto HTTP status codes.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr *domain.ValidationError
		terr *domain.TransitionError
		lerr *domain.AlreadyLinkedError
	)
	switch {
	case errors.As(err, &verr):
		a.json(w, http.StatusBadRequest, errorBody("VALIDATION", verr.Error()))
	case errors.Is(err, domain.ErrNotFound):
		a.json(w, http.StatusNotFound, errorBody("NOT_FOUND", "resource not found"))
	case errors.As(err, &terr):
		a.json(w, http.StatusConflict, errorBody("ILLEGAL_TRANSITION", terr.Error()))
	case errors.As(err, &lerr):
		a.json(w, http.StatusConflict, errorBody("ALREADY_LINKED", lerr.Error()))
	case errors.Is(err, domain.ErrUnauthorized):
		a.json(w, http.StatusUnauthorized, errorBody("UNAUTHORIZED", "unauthorized"))
	default:
		a.Log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		a.json(w, http.StatusInternalServerError, errorBody("INTERNAL", "internal error"))
	}
}

func errorBody(code, message string) map[string]any {
	return map[string]any{"error": map[string]string{"code": code, "message": message}}
}

// pathUUID parses a UUID path parameter or writes a 400.
func (a *App) pathUUID(w http.ResponseWriter, raw, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		a.json(w, http.StatusBadRequest, errorBody("VALIDATION", name+" must be a UUID"))
		return uuid.Nil, false
	}
	return id, true
}

// Health reports liveness.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]string{"status": "ok"})
}
