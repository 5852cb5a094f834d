package domain

import (
	"time"

	"github.com/google/uuid"
)

// LoreRef is the minimal read-model view of a claim, entity, or source chunk
// needed for reference validation and snapshotting: identity, world scope,
// and last-modified time.
type LoreRef struct {
	ID        uuid.UUID
	WorldID   uuid.UUID
	UpdatedAt time.Time
}
