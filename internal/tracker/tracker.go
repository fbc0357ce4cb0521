package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/cuongbtq/media-fetch/internal/executor"
	"github.com/cuongbtq/media-fetch/internal/job"
	"github.com/cuongbtq/media-fetch/internal/metrics"
	"github.com/google/uuid"
)

// Store persists job records. Claim, Reclaim and Finish must be atomic with
// respect to the status check so that a job leaves Pending once and reaches
// a terminal status once.
type Store interface {
	Create(ctx context.Context, j *job.Job) error
	Get(ctx context.Context, id string) (*job.Job, error)
	Claim(ctx context.Context, id string, startedAt time.Time) (*job.Job, error)
	Reclaim(ctx context.Context, id string, staleBefore, startedAt time.Time) (*job.Job, error)
	Finish(ctx context.Context, j *job.Job) error
}

// Executor runs the unit of work for one job
type Executor interface {
	Execute(ctx context.Context, req executor.Request) (*executor.Artifact, error)
}

// Dispatcher hands a job id to whatever will eventually call Process
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID string) error
}

// Config holds tracker configuration
type Config struct {
	Store    Store
	Executor Executor
	// Dispatcher is optional. When nil every job runs on its own goroutine
	// in this process.
	Dispatcher       Dispatcher
	Logger           *slog.Logger
	FinishRetries    int
	FinishRetryDelay time.Duration
	// StaleAfter is how long a Processing job may go without reaching a
	// terminal status before Process takes it over. Zero never takes over.
	StaleAfter time.Duration
	// RetryDelay spaces local retries of a job that failed transiently
	RetryDelay time.Duration
	Now        func() time.Time
}

// Tracker owns job identity and status transitions
type Tracker struct {
	store            Store
	executor         Executor
	dispatcher       Dispatcher
	logger           *slog.Logger
	finishRetries    int
	finishRetryDelay time.Duration
	staleAfter       time.Duration
	retryDelay       time.Duration
	now              func() time.Time
	wg               sync.WaitGroup
}

// New creates a new Tracker
func New(cfg *Config) (*Tracker, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}

	t := &Tracker{
		store:            cfg.Store,
		executor:         cfg.Executor,
		dispatcher:       cfg.Dispatcher,
		logger:           cfg.Logger,
		finishRetries:    cfg.FinishRetries,
		finishRetryDelay: cfg.FinishRetryDelay,
		staleAfter:       cfg.StaleAfter,
		retryDelay:       cfg.RetryDelay,
		now:              cfg.Now,
	}

	if t.logger == nil {
		t.logger = slog.Default()
	}
	if t.finishRetries <= 0 {
		t.finishRetries = 3
	}
	if t.finishRetryDelay <= 0 {
		t.finishRetryDelay = 100 * time.Millisecond
	}
	if t.retryDelay <= 0 {
		t.retryDelay = 5 * time.Second
	}
	if t.now == nil {
		t.now = time.Now
	}

	return t, nil
}

// Submit records a Pending job for url and dispatches it. It returns as soon
// as the record exists; the work itself never runs on the caller's goroutine.
func (t *Tracker) Submit(ctx context.Context, url string) (string, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return "", job.ErrInvalidInput
	}

	j := job.New(uuid.New().String(), url, t.now())
	if err := t.store.Create(ctx, j); err != nil {
		t.logger.Error("Failed to create job record",
			slog.String("job_id", j.ID),
			slog.Any("error", err),
		)
		return "", fmt.Errorf("failed to create job: %w", err)
	}

	metrics.IncJobsSubmitted()
	t.logger.Info("Job submitted",
		slog.String("job_id", j.ID),
		slog.String("url", url),
	)

	if t.dispatcher == nil {
		t.dispatchLocal(ctx, j.ID)
		return j.ID, nil
	}

	if err := t.dispatcher.Dispatch(ctx, j.ID); err != nil {
		t.logger.Error("Failed to dispatch job",
			slog.String("job_id", j.ID),
			slog.Any("error", err),
		)
		t.failUndispatched(ctx, j.ID, err)
	}

	return j.ID, nil
}

// dispatchLocal runs the job on its own goroutine, detached from the
// request that submitted it. Nothing redelivers a local job, so retryable
// failures are retried here.
func (t *Tracker) dispatchLocal(ctx context.Context, jobID string) {
	workCtx := context.WithoutCancel(ctx)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for {
			err := t.Process(workCtx, jobID)
			if err == nil {
				return
			}

			var retryable *RetryableError
			if !errors.As(err, &retryable) {
				t.logger.Warn("Local job processing returned error",
					slog.String("job_id", jobID),
					slog.Any("error", err),
				)
				return
			}

			t.logger.Warn("Local job processing failed, retrying...",
				slog.String("job_id", jobID),
				slog.Duration("retry_after", t.retryDelay),
				slog.Any("error", err),
			)
			time.Sleep(t.retryDelay)
		}
	}()
}

// failUndispatched terminates a job nobody will ever pick up
func (t *Tracker) failUndispatched(ctx context.Context, jobID string, cause error) {
	ctx = context.WithoutCancel(ctx)

	j, err := t.store.Claim(ctx, jobID, t.now())
	if err != nil {
		t.logger.Error("Failed to claim undispatched job",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
		return
	}

	metrics.JobStarted()
	jobErr := job.NewError(job.KindInternalFault, fmt.Sprintf("failed to dispatch job: %v", cause))
	if err := j.Fail(jobErr, t.now()); err != nil {
		t.logger.Error("Failed to mark undispatched job as failed",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
		return
	}
	if err := t.finish(ctx, j); err != nil {
		t.logger.Error("Failed to persist undispatched job failure",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
	}
}

// Poll returns the current status payload of a job. It never waits for the
// job to progress.
func (t *Tracker) Poll(ctx context.Context, jobID string) (*job.View, error) {
	j, err := t.store.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			return nil, job.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return j.View(t.now()), nil
}

// Process claims jobID, runs the executor and writes the terminal record.
// A job that already reached a terminal status is skipped with
// job.ErrAlreadyClaimed. Transient store failures, and a job another owner
// is still processing, are returned as *RetryableError.
func (t *Tracker) Process(ctx context.Context, jobID string) error {
	j, err := t.claim(ctx, jobID)
	if err != nil {
		return err
	}

	metrics.JobStarted()
	t.logger.Info("Processing job",
		slog.String("job_id", j.ID),
		slog.String("url", j.URL),
	)

	artifact, execErr := t.execute(ctx, j)
	finishedAt := t.now()

	if execErr != nil {
		jobErr := classify(execErr)
		logAttrs := []any{
			slog.String("job_id", j.ID),
			slog.String("kind", string(jobErr.Kind)),
			slog.Any("error", execErr),
		}
		var fault *faultError
		if errors.As(execErr, &fault) {
			logAttrs = append(logAttrs, slog.String("stack", string(fault.stack)))
		}
		t.logger.Error("Job failed", logAttrs...)

		err = j.Fail(jobErr, finishedAt)
	} else {
		t.logger.Info("Job completed",
			slog.String("job_id", j.ID),
			slog.String("artifact", artifact.Filename),
			slog.String("profile", artifact.Profile),
		)

		err = j.Complete(job.Result{
			ArtifactPath: artifact.Filename,
			Title:        artifact.Metadata.Title,
			Duration:     artifact.Metadata.Duration,
			Uploader:     artifact.Metadata.Uploader,
			Profile:      artifact.Profile,
		}, finishedAt)
	}
	if err != nil {
		return fmt.Errorf("failed to finalize job %s: %w", j.ID, err)
	}

	// The terminal write must survive a canceled worker context
	return t.finish(context.WithoutCancel(ctx), j)
}

// claim takes ownership of jobID. A Processing job started more than
// staleAfter ago has lost its owner and is taken over.
func (t *Tracker) claim(ctx context.Context, jobID string) (*job.Job, error) {
	now := t.now()
	j, err := t.store.Claim(ctx, jobID, now)
	if err == nil {
		return j, nil
	}

	if errors.Is(err, job.ErrAlreadyClaimed) && t.staleAfter > 0 {
		j, err = t.store.Reclaim(ctx, jobID, now.Add(-t.staleAfter), now)
		if err == nil {
			t.logger.Warn("Reclaimed stale job",
				slog.String("job_id", jobID),
				slog.Duration("stale_after", t.staleAfter),
			)
			return j, nil
		}
	}

	switch {
	case errors.Is(err, job.ErrInProgress):
		t.logger.Info("Job is still being processed, retrying later",
			slog.String("job_id", jobID),
		)
		return nil, NewRetryableError(fmt.Errorf("job in progress: %w", err))
	case errors.Is(err, job.ErrAlreadyClaimed):
		t.logger.Warn("Job already claimed, skipping",
			slog.String("job_id", jobID),
		)
		return nil, fmt.Errorf("job already claimed: %w", err)
	case errors.Is(err, job.ErrNotFound):
		t.logger.Warn("Job record not found, skipping",
			slog.String("job_id", jobID),
		)
		return nil, fmt.Errorf("job not found: %w", err)
	default:
		t.logger.Error("Failed to claim job",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
		return nil, NewRetryableError(fmt.Errorf("failed to claim job: %w", err))
	}
}

// execute is the crash boundary between the tracker and the executor. A
// panic inside Execute comes back as a *faultError.
func (t *Tracker) execute(ctx context.Context, j *job.Job) (artifact *executor.Artifact, err error) {
	defer func() {
		if r := recover(); r != nil {
			artifact = nil
			err = &faultError{value: r, stack: debug.Stack()}
		}
	}()

	artifact, err = t.executor.Execute(ctx, executor.Request{JobID: j.ID, URL: j.URL})
	if err == nil && artifact == nil {
		err = errors.New("executor returned neither artifact nor error")
	}
	return artifact, err
}

// classify maps an executor error to the kind recorded on the job
func classify(err error) *job.Error {
	var fault *faultError
	switch {
	case errors.As(err, &fault):
		return job.NewError(job.KindInternalFault, fault.Error())
	case errors.Is(err, executor.ErrTimeout):
		return job.NewError(job.KindTimeout, err.Error())
	case errors.Is(err, executor.ErrExecutionFailed):
		return job.NewError(job.KindExecutionFailed, err.Error())
	default:
		return job.NewError(job.KindInternalFault, err.Error())
	}
}

// finish writes the terminal record with exponential backoff between
// attempts. A lost race on the transition is not retried. Running out of
// attempts leaves the record Processing and returns a *RetryableError, so
// the job is redelivered and reclaimed once it is stale.
func (t *Tracker) finish(ctx context.Context, j *job.Job) error {
	var lastErr error
	for attempt := 0; attempt <= t.finishRetries; attempt++ {
		err := t.store.Finish(ctx, j)
		if err == nil {
			t.observeFinished(j)
			if attempt > 0 {
				t.logger.Info("Persisted terminal job status after retry",
					slog.String("job_id", j.ID),
					slog.Int("attempt", attempt+1),
				)
			}
			return nil
		}

		if errors.Is(err, job.ErrInvalidTransition) || errors.Is(err, job.ErrNotFound) {
			return fmt.Errorf("failed to persist terminal status: %w", err)
		}

		lastErr = err
		if attempt < t.finishRetries {
			backoffDelay := time.Duration(float64(t.finishRetryDelay) * float64(uint(1)<<uint(attempt)))
			t.logger.Warn("Failed to persist terminal job status, retrying...",
				slog.String("job_id", j.ID),
				slog.Int("attempt", attempt+1),
				slog.Int("max_retries", t.finishRetries),
				slog.Duration("retry_after", backoffDelay),
				slog.Any("error", err),
			)
			time.Sleep(backoffDelay)
		}
	}

	metrics.JobAbandoned()
	t.logger.Error("Failed to persist terminal job status after all retries",
		slog.String("job_id", j.ID),
		slog.Int("attempts", t.finishRetries+1),
		slog.Any("error", lastErr),
	)
	return NewRetryableError(fmt.Errorf("failed to persist terminal status after %d attempts: %w", t.finishRetries+1, lastErr))
}

func (t *Tracker) observeFinished(j *job.Job) {
	kind := ""
	if j.Error != nil {
		kind = string(j.Error.Kind)
	}

	var d time.Duration
	if j.StartedAt != nil && j.FinishedAt != nil {
		d = j.FinishedAt.Sub(*j.StartedAt)
	}
	metrics.ObserveJobFinished(string(j.Status), kind, d)
}

// Wait blocks until every locally dispatched job has returned
func (t *Tracker) Wait() {
	t.wg.Wait()
}
