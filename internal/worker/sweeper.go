package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"lorekeeper/internal/domain"
)

// StuckLister finds QUEUED jobs presumed orphaned from the broker.
type StuckLister interface {
	ListStuckQueued(ctx context.Context, olderThan time.Duration, limit int) ([]domain.Job, error)
}

// Publisher republishes jobs onto the broker.
type Publisher interface {
	PublishJob(ctx context.Context, job *domain.Job) error
}

// Sweeper periodically republishes QUEUED jobs that have sat unpicked longer
// than the grace period. This closes the gap left by the publish-after-commit
// trade-off: a job whose publish failed stays QUEUED forever unless someone
// puts a message back on the broker for it.
type Sweeper struct {
	store     StuckLister
	publisher Publisher
	interval  time.Duration
	olderThan time.Duration
	limit     int
	log       zerolog.Logger
}

// NewSweeper builds a sweeper. The grace period must comfortably exceed the
// queue visibility window, otherwise the sweeper duplicates messages that are
// merely in flight.
func NewSweeper(store StuckLister, publisher Publisher, interval, olderThan time.Duration, log zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if olderThan <= 0 {
		olderThan = 30 * time.Minute
	}
	return &Sweeper{
		store:     store,
		publisher: publisher,
		interval:  interval,
		olderThan: olderThan,
		limit:     100,
		log:       log,
	}
}

// Run sweeps on a ticker until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep republishes one batch of stuck jobs. Duplicate messages are safe: the
// runtime discards deliveries for jobs that are no longer QUEUED.
func (s *Sweeper) sweep(ctx context.Context) {
	jobs, err := s.store.ListStuckQueued(ctx, s.olderThan, s.limit)
	if err != nil {
		s.log.Error().Err(err).Msg("stuck job scan failed")
		return
	}
	if len(jobs) == 0 {
		return
	}

	republished := 0
	for i := range jobs {
		if err := s.publisher.PublishJob(ctx, &jobs[i]); err != nil {
			s.log.Error().Err(err).Str("job_id", jobs[i].ID.String()).Msg("republish failed")
			continue
		}
		republished++
	}
	s.log.Info().Int("found", len(jobs)).Int("republished", republished).Msg("swept stuck jobs")
}
