package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"lorekeeper/internal/domain"
)

type fakeLister struct {
	jobs []domain.Job
	err  error
}

func (f *fakeLister) ListStuckQueued(context.Context, time.Duration, int) ([]domain.Job, error) {
	return f.jobs, f.err
}

type recordingPublisher struct {
	published []uuid.UUID
	failFirst bool
}

func (p *recordingPublisher) PublishJob(_ context.Context, job *domain.Job) error {
	if p.failFirst && len(p.published) == 0 {
		p.failFirst = false
		return errors.New("broker hiccup")
	}
	p.published = append(p.published, job.ID)
	return nil
}

func TestSweepRepublishesStuckJobs(t *testing.T) {
	jobs := []domain.Job{
		{ID: uuid.New(), Status: domain.JobStatusQueued},
		{ID: uuid.New(), Status: domain.JobStatusQueued},
	}
	pub := &recordingPublisher{}
	s := NewSweeper(&fakeLister{jobs: jobs}, pub, time.Minute, time.Hour, zerolog.Nop())

	s.sweep(context.Background())

	assert.Equal(t, []uuid.UUID{jobs[0].ID, jobs[1].ID}, pub.published)
}

func TestSweepToleratesPublishFailure(t *testing.T) {
	jobs := []domain.Job{
		{ID: uuid.New(), Status: domain.JobStatusQueued},
		{ID: uuid.New(), Status: domain.JobStatusQueued},
	}
	pub := &recordingPublisher{failFirst: true}
	s := NewSweeper(&fakeLister{jobs: jobs}, pub, time.Minute, time.Hour, zerolog.Nop())

	s.sweep(context.Background())

	assert.Equal(t, []uuid.UUID{jobs[1].ID}, pub.published)
}

func TestSweepSkipsOnScanError(t *testing.T) {
	pub := &recordingPublisher{}
	s := NewSweeper(&fakeLister{err: errors.New("db down")}, pub, time.Minute, time.Hour, zerolog.Nop())

	s.sweep(context.Background())

	assert.Empty(t, pub.published)
}

func TestSweeperRunStopsOnCancel(t *testing.T) {
	pub := &recordingPublisher{}
	s := NewSweeper(&fakeLister{}, pub, 5*time.Millisecond, time.Hour, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancellation")
	}
}
