package domain

import (
	"time"

	"github.com/google/uuid"
)

// JobType enumerates the categories of work carried by queue messages.
type JobType string

const (
	JobTypeAssetGeneration JobType = "ASSET_GENERATION"
)

// AssetType enumerates the kinds of artifacts a job can produce.
type AssetType string

const (
	AssetTypeVideo AssetType = "VIDEO"
	AssetTypeAudio AssetType = "AUDIO"
	AssetTypeImage AssetType = "IMAGE"
	AssetTypeMap   AssetType = "MAP"
	AssetTypePDF   AssetType = "PDF"
)

// ValidAssetType reports whether t is a supported asset type.
func ValidAssetType(t AssetType) bool {
	switch t {
	case AssetTypeVideo, AssetTypeAudio, AssetTypeImage, AssetTypeMap, AssetTypePDF:
		return true
	}
	return false
}

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "QUEUED"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusSucceeded JobStatus = "SUCCEEDED"
	JobStatusFailed    JobStatus = "FAILED"
	JobStatusCancelled JobStatus = "CANCELLED"
)

// Job tracks an asynchronous asset generation request through its lifecycle.
// The tuple (world, provider, model, input digest) is unique: resubmitting
// semantically identical inputs resolves to the same row.
type Job struct {
	ID           uuid.UUID
	WorldID      uuid.UUID
	Type         JobType
	AssetType    AssetType
	Provider     string
	ModelID      string
	Status       JobStatus
	Priority     int
	RequestedBy  string
	InputDigest  string
	PromptSpec   []byte
	ErrorCode    string
	ErrorMessage string
	CreatedAt    time.Time
	StartedAt    *time.Time
	FinishedAt   *time.Time
}

// CreateOutcome describes how a get-or-create submission resolved.
type CreateOutcome int

const (
	// OutcomeCreated means a new job row was inserted and must be published.
	OutcomeCreated CreateOutcome = iota
	// OutcomeExisting means an identical submission already exists; nothing
	// is published.
	OutcomeExisting
	// OutcomeRequeued means an identical submission previously failed and the
	// row was reset to QUEUED for another attempt; it must be re-published.
	OutcomeRequeued
)
