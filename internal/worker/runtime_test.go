package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lorekeeper/internal/domain"
	"lorekeeper/internal/queue"
)

type fakeBroker struct {
	mu           sync.Mutex
	pending      []queue.Delivery
	acked        []string
	deadLettered []string
	extended     int
	maxAttempts  int
	receiveErr   error
}

func (b *fakeBroker) Receive(_ context.Context, max int) ([]queue.Delivery, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.receiveErr != nil {
		return nil, b.receiveErr
	}
	if len(b.pending) == 0 {
		return nil, nil
	}
	if max > len(b.pending) {
		max = len(b.pending)
	}
	out := b.pending[:max]
	b.pending = b.pending[max:]
	return out, nil
}

func (b *fakeBroker) Ack(_ context.Context, d queue.Delivery) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.acked = append(b.acked, d.MessageID)
	return nil
}

func (b *fakeBroker) ExtendVisibility(context.Context, queue.Delivery) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.extended++
	return nil
}

func (b *fakeBroker) DeadLetter(_ context.Context, d queue.Delivery, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deadLettered = append(b.deadLettered, d.MessageID)
	return nil
}

func (b *fakeBroker) MaxAttempts() int {
	if b.maxAttempts == 0 {
		return 3
	}
	return b.maxAttempts
}

type fakeJobStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*domain.Job

	requeueCodes []string
	failCodes    []string
	completeErr  error
	completed    []uuid.UUID
}

func newFakeJobStore(jobs ...*domain.Job) *fakeJobStore {
	s := &fakeJobStore{jobs: make(map[uuid.UUID]*domain.Job)}
	for _, j := range jobs {
		s.jobs[j.ID] = j
	}
	return s
}

func (s *fakeJobStore) GetJob(_ context.Context, jobID uuid.UUID) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *job
	return &copied, nil
}

func (s *fakeJobStore) transition(jobID uuid.UUID, from, to domain.JobStatus) error {
	job, ok := s.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if job.Status != from {
		return &domain.TransitionError{JobID: jobID.String(), From: job.Status, To: to}
	}
	job.Status = to
	return nil
}

func (s *fakeJobStore) ClaimJob(_ context.Context, jobID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transition(jobID, domain.JobStatusQueued, domain.JobStatusRunning); err != nil {
		return err
	}
	now := time.Now()
	s.jobs[jobID].StartedAt = &now
	return nil
}

func (s *fakeJobStore) RequeueJob(_ context.Context, jobID uuid.UUID, code, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transition(jobID, domain.JobStatusRunning, domain.JobStatusQueued); err != nil {
		return err
	}
	s.jobs[jobID].ErrorCode = code
	s.requeueCodes = append(s.requeueCodes, code)
	return nil
}

func (s *fakeJobStore) FailJob(_ context.Context, jobID uuid.UUID, code, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transition(jobID, domain.JobStatusRunning, domain.JobStatusFailed); err != nil {
		return err
	}
	s.jobs[jobID].ErrorCode, s.jobs[jobID].ErrorMessage = code, msg
	s.failCodes = append(s.failCodes, code)
	return nil
}

func (s *fakeJobStore) CompleteJob(_ context.Context, jobID uuid.UUID, artifact domain.ArtifactInput) (*domain.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completeErr != nil {
		return nil, s.completeErr
	}
	if err := s.transition(jobID, domain.JobStatusRunning, domain.JobStatusSucceeded); err != nil {
		return nil, err
	}
	s.completed = append(s.completed, jobID)
	return &domain.Asset{
		ID:         uuid.New(),
		WorldID:    s.jobs[jobID].WorldID,
		Type:       artifact.Type,
		StorageKey: artifact.StorageKey,
		Status:     domain.AssetStatusReady,
	}, nil
}

func (s *fakeJobStore) status(jobID uuid.UUID) domain.JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[jobID].Status
}

func queuedJob() *domain.Job {
	return &domain.Job{
		ID:         uuid.New(),
		WorldID:    uuid.New(),
		Type:       domain.JobTypeAssetGeneration,
		AssetType:  domain.AssetTypeImage,
		Provider:   "synthetic",
		Status:     domain.JobStatusQueued,
		PromptSpec: []byte(`{"description":"dragon"}`),
	}
}

func deliveryFor(job *domain.Job, attempts int64) queue.Delivery {
	return queue.Delivery{
		Message: queue.Message{
			JobID:     job.ID,
			Type:      job.Type,
			WorldID:   job.WorldID,
			AssetType: job.AssetType,
		},
		Stream:    "test:jobs:default",
		MessageID: uuid.New().String(),
		Attempts:  attempts,
	}
}

func okHandler(calls *int) Handler {
	return HandlerFunc(func(_ context.Context, job *domain.Job) (*domain.ArtifactInput, error) {
		*calls++
		return &domain.ArtifactInput{
			Type:       job.AssetType,
			Format:     "png",
			StorageKey: "worlds/w/assets/j.png",
		}, nil
	})
}

func newRuntime(broker *fakeBroker, store *fakeJobStore, handler Handler, opts Options) *Runtime {
	handlers := map[domain.JobType]Handler{domain.JobTypeAssetGeneration: handler}
	return NewRuntime(broker, store, handlers, opts, zerolog.Nop())
}

func TestProcessSuccess(t *testing.T) {
	job := queuedJob()
	store := newFakeJobStore(job)
	broker := &fakeBroker{}
	calls := 0
	r := newRuntime(broker, store, okHandler(&calls), Options{})

	d := deliveryFor(job, 1)
	r.process(context.Background(), d)

	assert.Equal(t, 1, calls)
	assert.Equal(t, domain.JobStatusSucceeded, store.status(job.ID))
	assert.Equal(t, []string{d.MessageID}, broker.acked)
	assert.Len(t, store.completed, 1)
}

func TestProcessDiscardsSettledJob(t *testing.T) {
	job := queuedJob()
	job.Status = domain.JobStatusSucceeded
	store := newFakeJobStore(job)
	broker := &fakeBroker{}
	calls := 0
	r := newRuntime(broker, store, okHandler(&calls), Options{})

	d := deliveryFor(job, 2)
	r.process(context.Background(), d)

	assert.Zero(t, calls)
	assert.Equal(t, domain.JobStatusSucceeded, store.status(job.ID))
	assert.Equal(t, []string{d.MessageID}, broker.acked)
}

func TestProcessTransientFailureRequeues(t *testing.T) {
	job := queuedJob()
	store := newFakeJobStore(job)
	broker := &fakeBroker{}
	handler := HandlerFunc(func(context.Context, *domain.Job) (*domain.ArtifactInput, error) {
		return nil, &HandlerError{Code: "PROVIDER_TIMEOUT", Message: "slow provider", Transient: true}
	})
	r := newRuntime(broker, store, handler, Options{})

	d := deliveryFor(job, 1)
	r.process(context.Background(), d)

	assert.Equal(t, domain.JobStatusQueued, store.status(job.ID))
	assert.Equal(t, []string{"PROVIDER_TIMEOUT"}, store.requeueCodes)
	assert.Empty(t, broker.acked)
	assert.Empty(t, broker.deadLettered)
}

func TestProcessPermanentFailureFailsAndAcks(t *testing.T) {
	job := queuedJob()
	store := newFakeJobStore(job)
	broker := &fakeBroker{}
	handler := HandlerFunc(func(context.Context, *domain.Job) (*domain.ArtifactInput, error) {
		return nil, &HandlerError{Code: "PROVIDER_REJECTED", Message: "bad prompt"}
	})
	r := newRuntime(broker, store, handler, Options{})

	d := deliveryFor(job, 1)
	r.process(context.Background(), d)

	assert.Equal(t, domain.JobStatusFailed, store.status(job.ID))
	assert.Equal(t, []string{"PROVIDER_REJECTED"}, store.failCodes)
	assert.Equal(t, []string{d.MessageID}, broker.acked)
	assert.Empty(t, broker.deadLettered)
}

func TestProcessPermanentFailureOnLastAttemptDeadLetters(t *testing.T) {
	job := queuedJob()
	store := newFakeJobStore(job)
	broker := &fakeBroker{maxAttempts: 3}
	handler := HandlerFunc(func(context.Context, *domain.Job) (*domain.ArtifactInput, error) {
		return nil, &HandlerError{Code: "PROVIDER_REJECTED", Message: "bad prompt"}
	})
	r := newRuntime(broker, store, handler, Options{})

	d := deliveryFor(job, 3)
	r.process(context.Background(), d)

	assert.Equal(t, domain.JobStatusFailed, store.status(job.ID))
	assert.Equal(t, []string{d.MessageID}, broker.deadLettered)
}

func TestProcessExhaustedAttemptsSkipsHandler(t *testing.T) {
	job := queuedJob()
	store := newFakeJobStore(job)
	broker := &fakeBroker{maxAttempts: 3}
	calls := 0
	r := newRuntime(broker, store, okHandler(&calls), Options{})

	d := deliveryFor(job, 4)
	r.process(context.Background(), d)

	assert.Zero(t, calls)
	assert.Equal(t, domain.JobStatusFailed, store.status(job.ID))
	assert.Equal(t, []string{"ATTEMPTS_EXHAUSTED"}, store.failCodes)
	assert.Equal(t, []string{d.MessageID}, broker.deadLettered)
}

func TestProcessReclaimsStaleRunningJob(t *testing.T) {
	job := queuedJob()
	job.Status = domain.JobStatusRunning
	stale := time.Now().Add(-time.Hour)
	job.StartedAt = &stale
	store := newFakeJobStore(job)
	broker := &fakeBroker{}
	calls := 0
	r := newRuntime(broker, store, okHandler(&calls), Options{StaleAfter: 30 * time.Minute})

	d := deliveryFor(job, 2)
	r.process(context.Background(), d)

	// Reclaimed back to QUEUED, then cleanly re-run to completion.
	assert.Equal(t, 1, calls)
	assert.Equal(t, domain.JobStatusSucceeded, store.status(job.ID))
	assert.Equal(t, []string{"LEASE_EXPIRED"}, store.requeueCodes)
}

func TestProcessLeavesFreshRunningJobAlone(t *testing.T) {
	job := queuedJob()
	job.Status = domain.JobStatusRunning
	now := time.Now()
	job.StartedAt = &now
	store := newFakeJobStore(job)
	broker := &fakeBroker{}
	calls := 0
	r := newRuntime(broker, store, okHandler(&calls), Options{StaleAfter: 30 * time.Minute})

	d := deliveryFor(job, 2)
	r.process(context.Background(), d)

	assert.Zero(t, calls)
	assert.Equal(t, domain.JobStatusRunning, store.status(job.ID))
	assert.Equal(t, []string{d.MessageID}, broker.acked)
}

func TestProcessDropsUnknownJob(t *testing.T) {
	store := newFakeJobStore()
	broker := &fakeBroker{}
	calls := 0
	r := newRuntime(broker, store, okHandler(&calls), Options{})

	d := deliveryFor(queuedJob(), 1)
	r.process(context.Background(), d)

	assert.Zero(t, calls)
	assert.Equal(t, []string{d.MessageID}, broker.acked)
}

func TestProcessFailsUnknownJobType(t *testing.T) {
	job := queuedJob()
	job.Type = "TRANSCODE"
	store := newFakeJobStore(job)
	broker := &fakeBroker{}
	calls := 0
	r := newRuntime(broker, store, okHandler(&calls), Options{})

	r.process(context.Background(), deliveryFor(job, 1))

	assert.Zero(t, calls)
	assert.Equal(t, domain.JobStatusFailed, store.status(job.ID))
	assert.Equal(t, []string{"HANDLER_UNKNOWN"}, store.failCodes)
}

func TestProcessCompleteFailureRestoresJob(t *testing.T) {
	job := queuedJob()
	store := newFakeJobStore(job)
	store.completeErr = errors.New("db down")
	broker := &fakeBroker{}
	calls := 0
	r := newRuntime(broker, store, okHandler(&calls), Options{})

	r.process(context.Background(), deliveryFor(job, 1))

	assert.Equal(t, domain.JobStatusQueued, store.status(job.ID))
	assert.Equal(t, []string{"COMPLETE_FAILED"}, store.requeueCodes)
	assert.Empty(t, broker.acked)
}

func TestRunProcessesAndStops(t *testing.T) {
	job := queuedJob()
	store := newFakeJobStore(job)
	broker := &fakeBroker{pending: []queue.Delivery{deliveryFor(job, 1)}}
	calls := 0
	r := newRuntime(broker, store, okHandler(&calls), Options{PollInterval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool {
		return store.status(job.ID) == domain.JobStatusSucceeded
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("runtime did not stop after cancellation")
	}
	assert.Equal(t, 1, calls)
}

func TestRunHandlerExtendsLease(t *testing.T) {
	job := queuedJob()
	store := newFakeJobStore(job)
	broker := &fakeBroker{}
	handler := HandlerFunc(func(ctx context.Context, j *domain.Job) (*domain.ArtifactInput, error) {
		time.Sleep(60 * time.Millisecond)
		return &domain.ArtifactInput{Type: j.AssetType, Format: "png", StorageKey: "k"}, nil
	})
	r := newRuntime(broker, store, handler, Options{ExtendEvery: 10 * time.Millisecond})

	r.process(context.Background(), deliveryFor(job, 1))

	broker.mu.Lock()
	defer broker.mu.Unlock()
	assert.Greater(t, broker.extended, 0)
}
