package worker

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/cuongbtq/media-fetch/internal/queue"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// startMessageDispatcher validates deliveries and hands them to the pool
func (w *Worker) startMessageDispatcher(ctx context.Context, deliveries <-chan amqp.Delivery) {
	w.logger.Info("Message dispatcher started",
		slog.String("worker_id", w.workerID),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Message dispatcher stopped - context canceled")
			return

		case <-w.stopChan:
			w.logger.Info("Message dispatcher stopped - worker stopping")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("RabbitMQ delivery channel closed")
				return
			}

			msg, ok := w.parseDelivery(delivery)
			if !ok {
				continue
			}

			select {
			case w.jobsChan <- msg:
				w.logger.Debug("Job dispatched to worker pool",
					slog.String("job_id", msg.JobID),
					slog.Uint64("delivery_tag", delivery.DeliveryTag),
				)
			case <-ctx.Done():
				w.requeue(delivery, msg.JobID)
				return
			case <-w.stopChan:
				w.requeue(delivery, msg.JobID)
				return
			}
		}
	}
}

// parseDelivery extracts the job id. Malformed messages are rejected
// without requeue so they end up in the dead letter queue.
func (w *Worker) parseDelivery(delivery amqp.Delivery) (*jobMessage, bool) {
	var msg queue.Message
	if err := json.Unmarshal(delivery.Body, &msg); err != nil {
		w.logger.Error("Failed to parse message JSON",
			slog.Any("error", err),
			slog.String("body", string(delivery.Body)),
		)
		w.nack(delivery, "", false)
		return nil, false
	}

	if _, err := uuid.Parse(msg.JobID); err != nil {
		w.logger.Error("Invalid job_id format - not a UUID",
			slog.String("job_id", msg.JobID),
			slog.Any("error", err),
		)
		w.nack(delivery, msg.JobID, false)
		return nil, false
	}

	return &jobMessage{JobID: msg.JobID, delivery: delivery}, true
}

// requeue returns a message the pool never picked up
func (w *Worker) requeue(delivery amqp.Delivery, jobID string) {
	w.logger.Info("Message dispatcher stopped while dispatching job",
		slog.String("job_id", jobID),
	)
	w.nack(delivery, jobID, true)
}

func (w *Worker) nack(delivery amqp.Delivery, jobID string, requeue bool) {
	if err := delivery.Nack(false, requeue); err != nil {
		w.logger.Error("Failed to NACK message",
			slog.String("job_id", jobID),
			slog.Bool("requeue", requeue),
			slog.Any("error", err),
		)
	}
}
