package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// Message is the body of a job message on the queue
type Message struct {
	JobID string `json:"job_id"`
}

// Broker publishes raw message bodies
type Broker interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// Publisher hands job ids to the worker service through the broker
type Publisher struct {
	broker Broker
	logger *slog.Logger
}

// NewPublisher creates a new Publisher
func NewPublisher(broker Broker, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		broker: broker,
		logger: logger,
	}
}

// Dispatch publishes a job message for jobID
func (p *Publisher) Dispatch(ctx context.Context, jobID string) error {
	body, err := json.Marshal(Message{JobID: jobID})
	if err != nil {
		return fmt.Errorf("failed to marshal job message: %w", err)
	}

	if err := p.broker.PublishWithRetry(ctx, body, "application/json"); err != nil {
		return fmt.Errorf("failed to publish job %s: %w", jobID, err)
	}

	p.logger.Info("Job published to queue",
		slog.String("job_id", jobID),
	)
	return nil
}
