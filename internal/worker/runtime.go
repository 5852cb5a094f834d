// Package worker is the consumer side of the job pipeline: a poll loop that
// pulls deliveries off the broker, drives the job state machine, and
// dispatches to the handler registered for each job type.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"lorekeeper/internal/domain"
	"lorekeeper/internal/providers"
	"lorekeeper/internal/queue"
)

// Broker is the queue surface the runtime consumes.
type Broker interface {
	Receive(ctx context.Context, max int) ([]queue.Delivery, error)
	Ack(ctx context.Context, d queue.Delivery) error
	ExtendVisibility(ctx context.Context, d queue.Delivery) error
	DeadLetter(ctx context.Context, d queue.Delivery, reason string) error
	MaxAttempts() int
}

// JobStore is the persistence surface the runtime mutates.
type JobStore interface {
	GetJob(ctx context.Context, jobID uuid.UUID) (*domain.Job, error)
	ClaimJob(ctx context.Context, jobID uuid.UUID) error
	RequeueJob(ctx context.Context, jobID uuid.UUID, errCode, errMsg string) error
	FailJob(ctx context.Context, jobID uuid.UUID, errCode, errMsg string) error
	CompleteJob(ctx context.Context, jobID uuid.UUID, artifact domain.ArtifactInput) (*domain.Asset, error)
}

// Handler executes one job and returns the artifact to persist. Failures are
// classified through HandlerError or providers.Error; anything else counts as
// permanent.
type Handler interface {
	Handle(ctx context.Context, job *domain.Job) (*domain.ArtifactInput, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, job *domain.Job) (*domain.ArtifactInput, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, job *domain.Job) (*domain.ArtifactInput, error) {
	return f(ctx, job)
}

// HandlerError is a classified failure raised by a handler.
type HandlerError struct {
	Code      string
	Message   string
	Transient bool
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Options tunes the runtime loop.
type Options struct {
	// MaxMessages is the batch size per poll round (1-10).
	MaxMessages int
	// PollInterval is the pause between rounds that returned nothing.
	PollInterval time.Duration
	// ExtendEvery is the lease keepalive period while a handler runs; zero
	// disables keepalive and lets long handlers lose their lease.
	ExtendEvery time.Duration
	// StaleAfter is how old a RUNNING job's started_at must be before a
	// redelivered message is treated as an abandoned lease and requeued.
	StaleAfter time.Duration
}

// Runtime runs the consume loop.
type Runtime struct {
	broker   Broker
	store    JobStore
	handlers map[domain.JobType]Handler
	opts     Options
	log      zerolog.Logger
}

// NewRuntime builds a runtime. The handler table is fixed at construction;
// there is no dynamic registration after the loop starts.
func NewRuntime(broker Broker, store JobStore, handlers map[domain.JobType]Handler, opts Options, log zerolog.Logger) *Runtime {
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = 1
	}
	if opts.MaxMessages > 10 {
		opts.MaxMessages = 10
	}
	if opts.StaleAfter == 0 {
		opts.StaleAfter = 15 * time.Minute
	}
	return &Runtime{
		broker:   broker,
		store:    store,
		handlers: handlers,
		opts:     opts,
		log:      log,
	}
}

// Run polls until ctx is cancelled. In-flight deliveries finish before it
// returns; broker errors back off exponentially up to 30s so a dead broker
// does not spin the loop.
func (r *Runtime) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return nil
		}

		deliveries, err := r.broker.Receive(ctx, r.opts.MaxMessages)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.log.Error().Err(err).Dur("backoff", backoff).Msg("receive failed")
			if !sleepCtx(ctx, backoff) {
				return nil
			}
			backoff = min(backoff*2, 30*time.Second)
			continue
		}
		backoff = time.Second

		for _, d := range deliveries {
			r.process(ctx, d)
		}

		if len(deliveries) == 0 && r.opts.PollInterval > 0 {
			if !sleepCtx(ctx, r.opts.PollInterval) {
				return nil
			}
		}
	}
}

// process drives one delivery through the state machine. Deliveries finish in
// exactly one of four ways: discarded (stale), completed, failed, or left
// unacked for redelivery after a transient error.
func (r *Runtime) process(ctx context.Context, d queue.Delivery) {
	log := r.log.With().
		Str("job_id", d.JobID.String()).
		Str("message_id", d.MessageID).
		Int64("attempts", d.Attempts).
		Logger()

	job, err := r.store.GetJob(ctx, d.JobID)
	if errors.Is(err, domain.ErrNotFound) {
		log.Warn().Msg("message references unknown job, dropping")
		r.ack(ctx, d, log)
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("load job failed, leaving message for redelivery")
		return
	}

	if job.Status == domain.JobStatusRunning {
		// A redelivered message for a RUNNING job means either the original
		// worker is still going (fresh started_at; back off) or it died with
		// the lease (stale started_at; reclaim for a clean retry).
		if job.StartedAt == nil || time.Since(*job.StartedAt) < r.opts.StaleAfter {
			log.Debug().Msg("job already running, dropping stale delivery")
			r.ack(ctx, d, log)
			return
		}
		log.Warn().Time("started_at", *job.StartedAt).Msg("reclaiming job from expired lease")
		if err := r.store.RequeueJob(ctx, job.ID, "LEASE_EXPIRED", "worker lease expired before completion"); err != nil {
			log.Error().Err(err).Msg("reclaim failed, leaving message for redelivery")
			return
		}
		job.Status = domain.JobStatusQueued
	}

	if job.Status != domain.JobStatusQueued {
		log.Debug().Str("status", string(job.Status)).Msg("job already settled, dropping delivery")
		r.ack(ctx, d, log)
		return
	}

	handler, ok := r.handlers[job.Type]
	if !ok {
		r.fail(ctx, d, job.ID, &HandlerError{Code: "HANDLER_UNKNOWN", Message: fmt.Sprintf("no handler for job type %q", job.Type)}, log)
		return
	}

	if int(d.Attempts) > r.broker.MaxAttempts() {
		r.fail(ctx, d, job.ID, &HandlerError{
			Code:    "ATTEMPTS_EXHAUSTED",
			Message: fmt.Sprintf("gave up after %d deliveries", d.Attempts),
		}, log)
		return
	}

	if err := r.store.ClaimJob(ctx, job.ID); err != nil {
		var terr *domain.TransitionError
		if errors.As(err, &terr) {
			log.Debug().Str("from", string(terr.From)).Msg("lost claim race, dropping delivery")
			r.ack(ctx, d, log)
			return
		}
		log.Error().Err(err).Msg("claim failed, leaving message for redelivery")
		return
	}

	artifact, err := r.runHandler(ctx, d, handler, job)
	if err != nil {
		code, msg, transient := classify(err)
		if transient {
			log.Warn().Str("code", code).Str("error", msg).Msg("transient failure, requeueing for redelivery")
			fctx, cancel := r.finishCtx(ctx)
			defer cancel()
			if err := r.store.RequeueJob(fctx, job.ID, code, msg); err != nil {
				log.Error().Err(err).Msg("requeue after transient failure failed")
			}
			// No ack: the broker redelivers after the visibility window.
			return
		}
		r.fail(ctx, d, job.ID, &HandlerError{Code: code, Message: msg}, log)
		return
	}

	fctx, cancel := r.finishCtx(ctx)
	defer cancel()
	asset, err := r.store.CompleteJob(fctx, job.ID, *artifact)
	if err != nil {
		log.Error().Err(err).Msg("complete failed, restoring job for retry")
		if err := r.store.RequeueJob(fctx, job.ID, "COMPLETE_FAILED", err.Error()); err != nil {
			log.Error().Err(err).Msg("restore after failed completion also failed")
		}
		return
	}

	log.Info().Str("asset_id", asset.ID.String()).Str("storage_key", asset.StorageKey).Msg("job succeeded")
	r.ack(ctx, d, log)
}

// runHandler invokes the handler with a lease keepalive ticking in the
// background so long generations keep exclusive ownership of the message.
func (r *Runtime) runHandler(ctx context.Context, d queue.Delivery, handler Handler, job *domain.Job) (*domain.ArtifactInput, error) {
	if r.opts.ExtendEvery <= 0 {
		return handler.Handle(ctx, job)
	}

	keepaliveCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		ticker := time.NewTicker(r.opts.ExtendEvery)
		defer ticker.Stop()
		for {
			select {
			case <-keepaliveCtx.Done():
				return
			case <-ticker.C:
				if err := r.broker.ExtendVisibility(keepaliveCtx, d); err != nil {
					r.log.Warn().Err(err).Str("message_id", d.MessageID).Msg("lease extension failed")
				}
			}
		}
	}()

	return handler.Handle(ctx, job)
}

// fail records a permanent failure and settles the message: dead letter once
// the attempt budget is gone, plain ack otherwise.
func (r *Runtime) fail(ctx context.Context, d queue.Delivery, jobID uuid.UUID, herr *HandlerError, log zerolog.Logger) {
	fctx, cancel := r.finishCtx(ctx)
	defer cancel()

	if err := r.store.ClaimJob(fctx, jobID); err != nil {
		var terr *domain.TransitionError
		if !errors.As(err, &terr) {
			log.Error().Err(err).Msg("claim before fail errored, leaving message for redelivery")
			return
		}
		// Already RUNNING from the main path, or settled elsewhere; FailJob's
		// own guard decides.
	}
	if err := r.store.FailJob(fctx, jobID, herr.Code, herr.Message); err != nil {
		log.Error().Err(err).Str("code", herr.Code).Msg("record failure errored")
	} else {
		log.Warn().Str("code", herr.Code).Str("error", herr.Message).Msg("job failed permanently")
	}

	if int(d.Attempts) >= r.broker.MaxAttempts() {
		if err := r.broker.DeadLetter(fctx, d, herr.Code); err != nil {
			log.Error().Err(err).Msg("dead letter failed")
		}
		return
	}
	r.ack(ctx, d, log)
}

func (r *Runtime) ack(ctx context.Context, d queue.Delivery, log zerolog.Logger) {
	fctx, cancel := r.finishCtx(ctx)
	defer cancel()
	if err := r.broker.Ack(fctx, d); err != nil {
		log.Error().Err(err).Msg("ack failed")
	}
}

// finishCtx detaches status writes from loop cancellation: a shutdown must
// not leave a claimed job without its final transition recorded.
func (r *Runtime) finishCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx.Err() == nil {
		return ctx, func() {}
	}
	return context.WithTimeout(context.Background(), 10*time.Second)
}

// classify maps an arbitrary handler failure onto the error taxonomy.
func classify(err error) (code, msg string, transient bool) {
	var herr *HandlerError
	if errors.As(err, &herr) {
		return herr.Code, herr.Message, herr.Transient
	}
	var perr *providers.Error
	if errors.As(err, &perr) {
		return perr.Code, perr.Message, perr.Transient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "HANDLER_TIMEOUT", err.Error(), true
	}
	return "HANDLER_ERROR", err.Error(), false
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
