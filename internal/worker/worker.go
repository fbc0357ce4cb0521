package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Source delivers job messages from the broker
type Source interface {
	Consume(consumerTag string, prefetch int) (<-chan amqp.Delivery, error)
}

// Processor runs one job to its terminal status
type Processor interface {
	Process(ctx context.Context, jobID string) error
}

// Config holds worker configuration
type Config struct {
	Logger        *slog.Logger
	Source        Source
	Processor     Processor
	WorkerID      string
	Concurrency   int
	PrefetchCount int
	// RequeueDelay holds a retryable message before it goes back to the
	// queue, so a job still owned elsewhere is not redelivered in a tight loop
	RequeueDelay time.Duration
}

// Worker consumes job messages and runs them on a fixed goroutine pool
type Worker struct {
	logger        *slog.Logger
	source        Source
	processor     Processor
	workerID      string
	concurrency   int
	prefetchCount int
	requeueDelay  time.Duration
	jobsChan      chan *jobMessage
	wg            sync.WaitGroup
	stopChan      chan struct{}
	stopOnce      sync.Once
}

// jobMessage is a validated delivery handed to the pool
type jobMessage struct {
	JobID    string
	delivery amqp.Delivery
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) (*Worker, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("message source is required")
	}
	if cfg.Processor == nil {
		return nil, fmt.Errorf("processor is required")
	}

	w := &Worker{
		logger:        cfg.Logger,
		source:        cfg.Source,
		processor:     cfg.Processor,
		workerID:      cfg.WorkerID,
		concurrency:   cfg.Concurrency,
		prefetchCount: cfg.PrefetchCount,
		requeueDelay:  cfg.RequeueDelay,
		stopChan:      make(chan struct{}),
	}

	if w.logger == nil {
		w.logger = slog.Default()
	}
	if w.workerID == "" {
		w.workerID = "worker"
	}
	if w.concurrency <= 0 {
		w.concurrency = 1
	}
	if w.prefetchCount <= 0 {
		w.prefetchCount = w.concurrency
	}
	w.jobsChan = make(chan *jobMessage)

	return w, nil
}

// Start subscribes to the queue and spawns the pool. It returns once both
// are running; Stop or ctx cancellation ends them.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Int("prefetch_count", w.prefetchCount),
	)

	deliveries, err := w.source.Consume(w.workerID, w.prefetchCount)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	w.spawnWorkerPool(ctx)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.startMessageDispatcher(ctx, deliveries)
	}()

	return nil
}

// Stop gracefully stops the worker and waits for in-flight jobs
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	w.stopOnce.Do(func() { close(w.stopChan) })
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}
