package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/media-fetch/internal/tracker"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("worker_id", w.workerID),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}
}

// workerLoop runs jobs from jobsChan until the worker stops
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	logger := w.logger.With(slog.String("worker_name", workerName))
	logger.Debug("Worker goroutine started")

	for {
		select {
		case <-w.stopChan:
			logger.Debug("Worker goroutine stopping - stopChan closed")
			return

		case <-ctx.Done():
			logger.Debug("Worker goroutine stopping - context canceled")
			return

		case msg := <-w.jobsChan:
			w.handle(ctx, logger, msg)
		}
	}
}

// handle processes one message and settles it with the broker. The job
// record is terminal by the time Process returns nil, so the message is
// acknowledged.
func (w *Worker) handle(ctx context.Context, logger *slog.Logger, msg *jobMessage) {
	logger.Info("Worker received job",
		slog.String("job_id", msg.JobID),
		slog.Uint64("delivery_tag", msg.delivery.DeliveryTag),
	)

	err := w.processor.Process(ctx, msg.JobID)
	if err == nil {
		if ackErr := msg.delivery.Ack(false); ackErr != nil {
			logger.Error("Failed to ACK message",
				slog.String("job_id", msg.JobID),
				slog.Any("error", ackErr),
			)
			return
		}
		logger.Info("Job processed",
			slog.String("job_id", msg.JobID),
		)
		return
	}

	requeue := shouldRequeueJob(err)
	logger.Error("Job processing failed",
		slog.String("job_id", msg.JobID),
		slog.Bool("requeue", requeue),
		slog.Any("error", err),
	)
	if requeue {
		w.waitBeforeRequeue(ctx)
	}
	w.nack(msg.delivery, msg.JobID, requeue)
}

// waitBeforeRequeue sleeps for requeueDelay unless the worker is stopping
func (w *Worker) waitBeforeRequeue(ctx context.Context) {
	if w.requeueDelay <= 0 {
		return
	}

	timer := time.NewTimer(w.requeueDelay)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-w.stopChan:
	case <-ctx.Done():
	}
}

// shouldRequeueJob requeues only transient errors. An already claimed or
// unknown job will not get better on redelivery.
func shouldRequeueJob(err error) bool {
	var retryableErr *tracker.RetryableError
	return errors.As(err, &retryableErr)
}
