package domain

import (
	"time"

	"github.com/google/uuid"
)

// Derivation is the immutable provenance record created alongside a job. It
// ties the job (and later its produced asset) to the lore it was derived
// from. Only the asset link may change after creation, and only once.
type Derivation struct {
	ID             uuid.UUID
	WorldID        uuid.UUID
	JobID          uuid.UUID
	AssetID        *uuid.UUID
	SourceID       *uuid.UUID
	PromptSpec     []byte
	InputDigest    string
	LoreSnapshot   []byte
	ClaimIDs       []uuid.UUID
	EntityIDs      []uuid.UUID
	SourceChunkIDs []uuid.UUID
	CreatedAt      time.Time
}

// DerivationRef is a reverse-lookup result: which derivation (and job/asset)
// references a given piece of lore.
type DerivationRef struct {
	DerivationID uuid.UUID
	JobID        uuid.UUID
	AssetID      *uuid.UUID
}
