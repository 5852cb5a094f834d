package worker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"lorekeeper/internal/domain"
	"lorekeeper/internal/providers"
	"lorekeeper/internal/storage"
)

// BlobStore is the object store surface the generation handler writes to.
type BlobStore interface {
	Write(ctx context.Context, key string, data []byte) (string, error)
}

// AssetGeneration handles ASSET_GENERATION jobs: resolve the provider, run
// the generation, persist the blob, and describe the artifact for the
// completion transaction.
type AssetGeneration struct {
	registry *providers.Registry
	blobs    BlobStore
	log      zerolog.Logger
}

// NewAssetGeneration wires the generation handler.
func NewAssetGeneration(registry *providers.Registry, blobs BlobStore, log zerolog.Logger) *AssetGeneration {
	return &AssetGeneration{registry: registry, blobs: blobs, log: log}
}

// Handle implements Handler.
func (h *AssetGeneration) Handle(ctx context.Context, job *domain.Job) (*domain.ArtifactInput, error) {
	var promptSpec map[string]any
	if err := json.Unmarshal(job.PromptSpec, &promptSpec); err != nil {
		return nil, &HandlerError{Code: "PROMPT_INVALID", Message: fmt.Sprintf("decode prompt spec: %v", err)}
	}

	generator, err := h.registry.Resolve(job.Provider)
	if err != nil {
		return nil, err
	}

	artifact, err := generator.Generate(ctx, providers.GenerateRequest{
		JobID:      job.ID.String(),
		WorldID:    job.WorldID.String(),
		AssetType:  job.AssetType,
		ModelID:    job.ModelID,
		PromptSpec: promptSpec,
	})
	if err != nil {
		return nil, err
	}
	if len(artifact.Data) == 0 {
		return nil, &HandlerError{Code: "ARTIFACT_EMPTY", Message: "provider returned an empty artifact"}
	}

	key := storage.ArtifactKey(job.WorldID.String(), job.ID.String(), artifact.Format)
	storedKey, err := h.blobs.Write(ctx, key, artifact.Data)
	if err != nil {
		// Storage hiccups are worth another attempt; the blob write is
		// idempotent per job key.
		return nil, &HandlerError{Code: "STORAGE_WRITE", Message: err.Error(), Transient: true}
	}

	sum := sha256.Sum256(artifact.Data)
	h.log.Debug().
		Str("job_id", job.ID.String()).
		Str("storage_key", storedKey).
		Int("size", len(artifact.Data)).
		Msg("artifact stored")

	return &domain.ArtifactInput{
		Type:            job.AssetType,
		Format:          artifact.Format,
		ContentType:     artifact.ContentType,
		StorageKey:      storedKey,
		SizeBytes:       int64(len(artifact.Data)),
		Checksum:        hex.EncodeToString(sum[:]),
		DurationSeconds: artifact.DurationSeconds,
		CreatedBy:       job.RequestedBy,
	}, nil
}

var _ Handler = (*AssetGeneration)(nil)
