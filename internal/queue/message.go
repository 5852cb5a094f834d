// Package queue is the broker between job submission and the worker runtime.
// It rides Redis Streams with consumer groups: at-least-once delivery, a
// visibility window enforced through pending-entry idle time, and a dead
// letter stream for messages that exhaust their attempts.
package queue

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"lorekeeper/internal/domain"
)

// Message is the payload published per job. It carries identifiers only; the
// worker loads the authoritative job row before doing anything.
type Message struct {
	JobID      uuid.UUID        `json:"job_id"`
	Type       domain.JobType   `json:"type"`
	WorldID    uuid.UUID        `json:"world_id"`
	AssetType  domain.AssetType `json:"asset_type"`
	Priority   int              `json:"priority"`
	EnqueuedAt time.Time        `json:"enqueued_at"`
}

// Delivery is one received message plus the broker bookkeeping needed to ack,
// extend, or dead-letter it.
type Delivery struct {
	Message

	// Stream is the stream the message was read from; acks must go back to it.
	Stream string
	// MessageID is the Redis stream entry ID.
	MessageID string
	// Attempts counts deliveries of this message including the current one.
	Attempts int64
}

// OpError wraps a failed broker operation with enough context to log it.
type OpError struct {
	Op     string
	Stream string
	Err    error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("queue %s on %s: %v", e.Op, e.Stream, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }
