package queue

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"lorekeeper/internal/domain"
)

// Producer publishes jobs onto the broker. Submission and the sweeper share
// it; both publish after the database row is already committed.
type Producer struct {
	client *Client
	log    zerolog.Logger
}

// NewProducer wraps a connected client.
func NewProducer(client *Client, log zerolog.Logger) *Producer {
	return &Producer{client: client, log: log}
}

// PublishJob enqueues the job for pickup by the worker fleet.
func (p *Producer) PublishJob(ctx context.Context, job *domain.Job) error {
	msg := Message{
		JobID:      job.ID,
		Type:       job.Type,
		WorldID:    job.WorldID,
		AssetType:  job.AssetType,
		Priority:   job.Priority,
		EnqueuedAt: time.Now().UTC(),
	}
	id, err := p.client.Publish(ctx, msg)
	if err != nil {
		return err
	}
	p.log.Debug().
		Str("job_id", job.ID.String()).
		Str("message_id", id).
		Int("priority", job.Priority).
		Msg("job published")
	return nil
}
