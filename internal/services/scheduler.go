package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/studyforge/studyforge-backend/internal/config"
	"github.com/studyforge/studyforge-backend/internal/data/repos"
	"github.com/studyforge/studyforge-backend/internal/domain"
	"github.com/studyforge/studyforge-backend/internal/observability"
	"github.com/studyforge/studyforge-backend/internal/platform/logger"
)

const (
	cancelMessage    = "Job cancelled by user"
	autoPauseNote    = "Approaching execution time limit - job paused for safety"
	defaultPauseNote = "Job paused"
)

// Scheduler owns the generation job state machine. It is the only writer of
// job records while a job runs; pause and cancel are cooperative flags the
// run loop observes at batch boundaries.
type Scheduler interface {
	CreateJob(ctx context.Context, documentID uuid.UUID, jobType domain.JobType, outline []domain.OutlineLesson, batchSize int) (*domain.GenerationJob, error)
	StartJob(ctx context.Context, jobID uuid.UUID) error
	PauseJob(ctx context.Context, jobID uuid.UUID, reason string) error
	ResumeJob(ctx context.Context, jobID uuid.UUID) error
	CancelJob(ctx context.Context, jobID uuid.UUID) error
	RestartJob(ctx context.Context, jobID uuid.UUID) error
	GetJob(ctx context.Context, jobID uuid.UUID) (*domain.GenerationJob, error)
	GetAllJobs(ctx context.Context) ([]*domain.GenerationJob, error)
	Shutdown(ctx context.Context) error
}

// jobRuntime is the in-memory control block for one running job. All fields
// except done are guarded by mu; the timer pointer is read from other
// goroutines than the one that arms it.
type jobRuntime struct {
	mu           sync.Mutex
	timer        *time.Timer
	pauseWanted  bool
	pauseReason  string
	cancelWanted bool
	done         chan struct{}
}

func (rt *jobRuntime) armTimer(t *time.Timer) {
	rt.mu.Lock()
	rt.timer = t
	rt.mu.Unlock()
}

func (rt *jobRuntime) stopTimer() {
	rt.mu.Lock()
	if rt.timer != nil {
		rt.timer.Stop()
	}
	rt.mu.Unlock()
}

func (rt *jobRuntime) requestPause(reason string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if !rt.pauseWanted {
		rt.pauseWanted = true
		rt.pauseReason = reason
	}
}

func (rt *jobRuntime) requestCancel() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.cancelWanted = true
}

func (rt *jobRuntime) snapshot() (pause bool, reason string, cancel bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.pauseWanted, rt.pauseReason, rt.cancelWanted
}

type scheduler struct {
	log      *logger.Logger
	store    repos.JobStore
	runner   BatchRunner
	notifier JobNotifier
	metrics  *observability.Metrics
	cfg      config.SchedulerConfig

	mu     sync.Mutex
	active map[uuid.UUID]*jobRuntime
	wg     sync.WaitGroup
}

func NewScheduler(baseLog *logger.Logger, store repos.JobStore, runner BatchRunner, notifier JobNotifier, metrics *observability.Metrics, cfg config.SchedulerConfig) Scheduler {
	return &scheduler{
		log:      baseLog.With("service", "Scheduler"),
		store:    store,
		runner:   runner,
		notifier: notifier,
		metrics:  metrics,
		cfg:      cfg,
		active:   map[uuid.UUID]*jobRuntime{},
	}
}

func (s *scheduler) CreateJob(ctx context.Context, documentID uuid.UUID, jobType domain.JobType, outline []domain.OutlineLesson, batchSize int) (*domain.GenerationJob, error) {
	if documentID == uuid.Nil {
		return nil, fmt.Errorf("missing document id")
	}
	if len(outline) == 0 {
		return nil, fmt.Errorf("outline is empty")
	}
	if jobType == domain.JobTypeOutline {
		return nil, fmt.Errorf("job type %q is not schedulable, outlines are supplied with the request", jobType)
	}
	if batchSize <= 0 {
		batchSize = s.cfg.DefaultBatchSize
	}
	payload, err := json.Marshal(outline)
	if err != nil {
		return nil, fmt.Errorf("encode outline payload: %w", err)
	}

	now := time.Now().UTC()
	job := &domain.GenerationJob{
		ID:         uuid.New(),
		DocumentID: documentID,
		JobType:    jobType,
		Status:     domain.JobStatusPending,
		BatchSize:  batchSize,
		TotalItems: len(outline),
		Payload:    payload,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.Create(ctx, job); err != nil {
		return nil, err
	}
	s.metrics.IncJobTransition(string(jobType), string(domain.JobStatusPending))
	s.notifier.JobCreated(ctx, job)
	s.log.Info("Job created",
		"job_id", job.ID, "job_type", jobType, "items", job.TotalItems, "batch_size", batchSize)
	return job.Clone(), nil
}

// StartJob transitions pending to running, arms the time-box timer, and
// launches the batch loop on its own goroutine.
func (s *scheduler) StartJob(ctx context.Context, jobID uuid.UUID) error {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != domain.JobStatusPending {
		return fmt.Errorf("job %s is %s, not pending", jobID, job.Status)
	}
	return s.launch(ctx, job, false)
}

// ResumeJob transitions paused back to running and re-enters the batch loop
// at the cursor offset. Batch boundaries reproduce exactly because the loop
// always starts each batch at CompletedItems.
func (s *scheduler) ResumeJob(ctx context.Context, jobID uuid.UUID) error {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != domain.JobStatusPaused {
		return fmt.Errorf("job %s is %s, not paused", jobID, job.Status)
	}
	if job.Cursor != "" {
		cur, err := domain.DecodeCursor(job.Cursor)
		if err != nil {
			return fmt.Errorf("job %s has a corrupt cursor: %w", jobID, err)
		}
		if cur.CompletedItems != job.CompletedItems {
			s.log.Warn("Cursor disagrees with job record, trusting cursor",
				"job_id", jobID, "cursor_completed", cur.CompletedItems, "job_completed", job.CompletedItems)
			job.CompletedItems = cur.CompletedItems
		}
	}
	job.ErrorMessage = ""
	return s.launch(ctx, job, true)
}

func (s *scheduler) launch(ctx context.Context, job *domain.GenerationJob, resuming bool) error {
	// A paused job's run goroutine may still be winding down; wait for its
	// runtime to release rather than failing a prompt resume.
	var rt *jobRuntime
	for {
		s.mu.Lock()
		existing, running := s.active[job.ID]
		if !running {
			rt = &jobRuntime{done: make(chan struct{})}
			s.active[job.ID] = rt
			s.mu.Unlock()
			break
		}
		s.mu.Unlock()
		select {
		case <-existing.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if current, err := s.store.Get(ctx, job.ID); err == nil {
		if current.Status == domain.JobStatusRunning || current.Status.Terminal() {
			s.release(job.ID, rt)
			return fmt.Errorf("job %s is %s, cannot launch", job.ID, current.Status)
		}
	}

	now := time.Now().UTC()
	job.Status = domain.JobStatusRunning
	if !resuming || job.StartedAt == nil {
		job.StartedAt = &now
	}
	job.UpdatedAt = now
	if err := s.store.Update(ctx, job); err != nil {
		s.release(job.ID, rt)
		return err
	}
	s.metrics.IncJobTransition(string(job.JobType), string(domain.JobStatusRunning))
	s.notifier.JobUpdated(ctx, job)

	rt.armTimer(time.AfterFunc(s.cfg.WarningThreshold, func() {
		s.log.Warn("Time-box threshold reached, requesting auto-pause", "job_id", job.ID)
		rt.requestPause(autoPauseNote)
	}))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(job.ID, rt)
		s.runLoop(context.WithoutCancel(ctx), job, rt)
	}()
	return nil
}

func (s *scheduler) release(jobID uuid.UUID, rt *jobRuntime) {
	rt.stopTimer()
	s.mu.Lock()
	delete(s.active, jobID)
	s.mu.Unlock()
	close(rt.done)
}

// runLoop processes batches from CompletedItems to TotalItems, persisting the
// cursor after every batch and checking the pause/cancel flags between them.
func (s *scheduler) runLoop(ctx context.Context, job *domain.GenerationJob, rt *jobRuntime) {
	for job.CompletedItems < job.TotalItems {
		if halted := s.checkFlags(ctx, job, rt); halted {
			return
		}

		start := job.CompletedItems
		end := start + job.BatchSize
		if end > job.TotalItems {
			end = job.TotalItems
		}

		batchStart := time.Now()
		tokens, err := s.runner.Run(ctx, job, start, end)
		if err != nil {
			s.fail(ctx, job, err.Error())
			return
		}
		s.metrics.ObserveJobBatch(string(job.JobType), time.Since(batchStart), end-start)

		job.CompletedItems = end
		job.Progress = progressOf(end, job.TotalItems)
		job.TokenUsage += tokens
		job.CostEstimate += EstimateCost(tokens)
		s.metrics.AddCost(string(job.JobType), EstimateCost(tokens))
		job.Cursor = domain.EncodeCursor(domain.Cursor{
			JobType:        job.JobType,
			CompletedItems: job.CompletedItems,
			BatchSize:      job.BatchSize,
			Timestamp:      time.Now().UTC(),
		})
		job.UpdatedAt = time.Now().UTC()
		if err := s.store.Update(ctx, job); err != nil {
			s.fail(ctx, job, fmt.Sprintf("persist batch progress: %v", err))
			return
		}
		s.notifier.JobUpdated(ctx, job)
		s.log.Debug("Batch complete",
			"job_id", job.ID, "completed", job.CompletedItems, "total", job.TotalItems)

		if job.CompletedItems < job.TotalItems {
			if err := sleepCtx(ctx, s.cfg.InterBatchDelay); err != nil {
				s.fail(ctx, job, err.Error())
				return
			}
		}
	}

	if halted := s.checkFlags(ctx, job, rt); halted {
		return
	}
	s.complete(ctx, job)
}

// checkFlags applies a pending cancel or pause request. Cancel wins over
// pause when both are set.
func (s *scheduler) checkFlags(ctx context.Context, job *domain.GenerationJob, rt *jobRuntime) bool {
	// nothing left to process; completion beats a late pause request
	if job.CompletedItems >= job.TotalItems {
		_, _, cancel := rt.snapshot()
		if cancel {
			s.fail(ctx, job, cancelMessage)
			return true
		}
		return false
	}
	pause, reason, cancel := rt.snapshot()
	if cancel {
		s.fail(ctx, job, cancelMessage)
		return true
	}
	if pause {
		s.pause(ctx, job, reason)
		return true
	}
	return false
}

func (s *scheduler) pause(ctx context.Context, job *domain.GenerationJob, reason string) {
	if reason == "" {
		reason = defaultPauseNote
	}
	job.Status = domain.JobStatusPaused
	job.ErrorMessage = reason
	job.Cursor = domain.EncodeCursor(domain.Cursor{
		JobType:        job.JobType,
		CompletedItems: job.CompletedItems,
		BatchSize:      job.BatchSize,
		Timestamp:      time.Now().UTC(),
	})
	job.UpdatedAt = time.Now().UTC()
	if err := s.store.Update(ctx, job); err != nil {
		s.log.Error("Failed to persist paused job", "job_id", job.ID, "error", err)
	}
	s.metrics.IncJobTransition(string(job.JobType), string(domain.JobStatusPaused))
	s.notifier.JobUpdated(ctx, job)
	s.log.Info("Job paused",
		"job_id", job.ID, "completed", job.CompletedItems, "reason", reason)
}

func (s *scheduler) complete(ctx context.Context, job *domain.GenerationJob) {
	now := time.Now().UTC()
	job.Status = domain.JobStatusCompleted
	job.Progress = 100
	job.CompletedAt = &now
	job.UpdatedAt = now
	if err := s.store.Update(ctx, job); err != nil {
		s.log.Error("Failed to persist completed job", "job_id", job.ID, "error", err)
	}
	s.metrics.IncJobTransition(string(job.JobType), string(domain.JobStatusCompleted))
	s.notifier.JobCompleted(ctx, job)
	s.log.Info("Job completed",
		"job_id", job.ID, "items", job.TotalItems, "usage", job.TokenUsage)
}

func (s *scheduler) fail(ctx context.Context, job *domain.GenerationJob, message string) {
	now := time.Now().UTC()
	job.Status = domain.JobStatusFailed
	job.ErrorMessage = message
	job.CompletedAt = &now
	job.UpdatedAt = now
	if err := s.store.Update(ctx, job); err != nil {
		s.log.Error("Failed to persist failed job", "job_id", job.ID, "error", err)
	}
	s.metrics.IncJobTransition(string(job.JobType), string(domain.JobStatusFailed))
	s.notifier.JobCompleted(ctx, job)
	s.log.Warn("Job failed", "job_id", job.ID, "message", message)
}

// PauseJob requests a cooperative pause of a running job; it takes effect at
// the next batch boundary and the call returns once requested, not once
// applied.
func (s *scheduler) PauseJob(ctx context.Context, jobID uuid.UUID, reason string) error {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != domain.JobStatusRunning {
		return fmt.Errorf("job %s is %s, not running", jobID, job.Status)
	}
	s.mu.Lock()
	rt, ok := s.active[jobID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %s has no active run", jobID)
	}
	rt.stopTimer()
	rt.requestPause(reason)
	return nil
}

// CancelJob fails the job with the cancellation message. A paused or pending
// job transitions immediately; a running one cancels at the next batch
// boundary, letting the in-flight batch finish.
func (s *scheduler) CancelJob(ctx context.Context, jobID uuid.UUID) error {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return fmt.Errorf("job %s is already %s", jobID, job.Status)
	}

	s.mu.Lock()
	rt, running := s.active[jobID]
	s.mu.Unlock()
	if running && job.Status == domain.JobStatusRunning {
		rt.stopTimer()
		rt.requestCancel()
		return nil
	}
	if running {
		// paused job whose run goroutine is still winding down
		select {
		case <-rt.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.fail(ctx, job, cancelMessage)
	return nil
}

// RestartJob resets a terminal or paused job back to pending and starts it
// from item zero.
func (s *scheduler) RestartJob(ctx context.Context, jobID uuid.UUID) error {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	_, running := s.active[jobID]
	s.mu.Unlock()
	if running {
		return fmt.Errorf("job %s is still running", jobID)
	}

	job.Status = domain.JobStatusPending
	job.Progress = 0
	job.CompletedItems = 0
	job.Cursor = ""
	job.ErrorMessage = ""
	job.TokenUsage = 0
	job.CostEstimate = 0
	job.StartedAt = nil
	job.CompletedAt = nil
	job.UpdatedAt = time.Now().UTC()
	if err := s.store.Update(ctx, job); err != nil {
		return err
	}
	s.metrics.IncJobTransition(string(job.JobType), string(domain.JobStatusPending))
	s.notifier.JobUpdated(ctx, job)
	return s.launch(ctx, job, false)
}

func (s *scheduler) GetJob(ctx context.Context, jobID uuid.UUID) (*domain.GenerationJob, error) {
	return s.store.Get(ctx, jobID)
}

func (s *scheduler) GetAllJobs(ctx context.Context) ([]*domain.GenerationJob, error) {
	return s.store.List(ctx)
}

// Shutdown waits for active run loops to reach a batch boundary and stop.
// Jobs still mid-run when the context expires stay running; their cursors
// persist after every batch so a restart resumes them losslessly.
func (s *scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for _, rt := range s.active {
		rt.requestPause("Service shutting down")
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func progressOf(completed, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(completed) / float64(total)))
}
