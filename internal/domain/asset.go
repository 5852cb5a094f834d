package domain

import (
	"time"

	"github.com/google/uuid"
)

// AssetStatus enumerates asset states.
type AssetStatus string

const (
	AssetStatusReady   AssetStatus = "READY"
	AssetStatusFailed  AssetStatus = "FAILED"
	AssetStatusDeleted AssetStatus = "DELETED"
)

// Asset is an artifact produced by a succeeded job and stored in the object
// store. Assets are immutable after creation apart from soft deletion.
type Asset struct {
	ID              uuid.UUID
	WorldID         uuid.UUID
	Type            AssetType
	Format          string
	Status          AssetStatus
	StorageKey      string
	ContentType     string
	DurationSeconds *int
	SizeBytes       *int64
	Checksum        string
	CreatedBy       string
	CreatedAt       time.Time
}

// ArtifactInput carries the description of a generated artifact from a
// handler (or an external worker's complete call) into asset creation.
type ArtifactInput struct {
	Type            AssetType
	Format          string
	ContentType     string
	StorageKey      string
	SizeBytes       int64
	Checksum        string
	DurationSeconds int
	CreatedBy       string
}
