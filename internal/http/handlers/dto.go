package handlers

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"lorekeeper/internal/domain"
)

type jobResponse struct {
	ID           uuid.UUID       `json:"id"`
	WorldID      uuid.UUID       `json:"world_id"`
	Type         string          `json:"type"`
	AssetType    string          `json:"asset_type"`
	Provider     string          `json:"provider"`
	ModelID      string          `json:"model_id,omitempty"`
	Status       string          `json:"status"`
	Priority     int             `json:"priority"`
	RequestedBy  string          `json:"requested_by"`
	InputDigest  string          `json:"input_digest"`
	PromptSpec   json.RawMessage `json:"prompt_spec"`
	ErrorCode    string          `json:"error_code,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
}

func toJobResponse(j *domain.Job) jobResponse {
	return jobResponse{
		ID:           j.ID,
		WorldID:      j.WorldID,
		Type:         string(j.Type),
		AssetType:    string(j.AssetType),
		Provider:     j.Provider,
		ModelID:      j.ModelID,
		Status:       string(j.Status),
		Priority:     j.Priority,
		RequestedBy:  j.RequestedBy,
		InputDigest:  j.InputDigest,
		PromptSpec:   json.RawMessage(j.PromptSpec),
		ErrorCode:    j.ErrorCode,
		ErrorMessage: j.ErrorMessage,
		CreatedAt:    j.CreatedAt,
		StartedAt:    j.StartedAt,
		FinishedAt:   j.FinishedAt,
	}
}

type derivationResponse struct {
	ID             uuid.UUID       `json:"id"`
	JobID          uuid.UUID       `json:"job_id"`
	AssetID        *uuid.UUID      `json:"asset_id,omitempty"`
	SourceID       *uuid.UUID      `json:"source_id,omitempty"`
	ClaimIDs       []uuid.UUID     `json:"claim_ids"`
	EntityIDs      []uuid.UUID     `json:"entity_ids"`
	SourceChunkIDs []uuid.UUID     `json:"source_chunk_ids"`
	InputDigest    string          `json:"input_digest"`
	LoreSnapshot   json.RawMessage `json:"lore_snapshot"`
	CreatedAt      time.Time       `json:"created_at"`
}

func toDerivationResponse(d *domain.Derivation) derivationResponse {
	return derivationResponse{
		ID:             d.ID,
		JobID:          d.JobID,
		AssetID:        d.AssetID,
		SourceID:       d.SourceID,
		ClaimIDs:       emptyIfNil(d.ClaimIDs),
		EntityIDs:      emptyIfNil(d.EntityIDs),
		SourceChunkIDs: emptyIfNil(d.SourceChunkIDs),
		InputDigest:    d.InputDigest,
		LoreSnapshot:   json.RawMessage(d.LoreSnapshot),
		CreatedAt:      d.CreatedAt,
	}
}

type assetResponse struct {
	ID              uuid.UUID `json:"id"`
	WorldID         uuid.UUID `json:"world_id"`
	Type            string    `json:"type"`
	Format          string    `json:"format"`
	Status          string    `json:"status"`
	StorageKey      string    `json:"storage_key"`
	ContentType     string    `json:"content_type"`
	DurationSeconds *int      `json:"duration_seconds,omitempty"`
	SizeBytes       *int64    `json:"size_bytes,omitempty"`
	Checksum        string    `json:"checksum,omitempty"`
	CreatedBy       string    `json:"created_by"`
	CreatedAt       time.Time `json:"created_at"`
}

func toAssetResponse(a *domain.Asset) assetResponse {
	return assetResponse{
		ID:              a.ID,
		WorldID:         a.WorldID,
		Type:            string(a.Type),
		Format:          a.Format,
		Status:          string(a.Status),
		StorageKey:      a.StorageKey,
		ContentType:     a.ContentType,
		DurationSeconds: a.DurationSeconds,
		SizeBytes:       a.SizeBytes,
		Checksum:        a.Checksum,
		CreatedBy:       a.CreatedBy,
		CreatedAt:       a.CreatedAt,
	}
}

type derivationRefResponse struct {
	DerivationID uuid.UUID  `json:"derivation_id"`
	JobID        uuid.UUID  `json:"job_id"`
	AssetID      *uuid.UUID `json:"asset_id,omitempty"`
}

func toDerivationRefs(refs []domain.DerivationRef) []derivationRefResponse {
	out := make([]derivationRefResponse, len(refs))
	for i, ref := range refs {
		out[i] = derivationRefResponse{
			DerivationID: ref.DerivationID,
			JobID:        ref.JobID,
			AssetID:      ref.AssetID,
		}
	}
	return out
}

func emptyIfNil(ids []uuid.UUID) []uuid.UUID {
	if ids == nil {
		return []uuid.UUID{}
	}
	return ids
}
