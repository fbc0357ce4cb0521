package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuongbtq/media-fetch/internal/job"
	"github.com/cuongbtq/media-fetch/internal/tracker"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type settlement struct {
	tag     uint64
	ack     bool
	requeue bool
}

// fakeAcknowledger records how each delivery was settled
type fakeAcknowledger struct {
	mu      sync.Mutex
	settled []settlement
	done    chan struct{}
}

func newFakeAcknowledger() *fakeAcknowledger {
	return &fakeAcknowledger{done: make(chan struct{}, 64)}
}

func (a *fakeAcknowledger) record(s settlement) error {
	a.mu.Lock()
	a.settled = append(a.settled, s)
	a.mu.Unlock()
	a.done <- struct{}{}
	return nil
}

func (a *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	return a.record(settlement{tag: tag, ack: true})
}

func (a *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	return a.record(settlement{tag: tag, requeue: requeue})
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return a.record(settlement{tag: tag, requeue: requeue})
}

func (a *fakeAcknowledger) wait(t *testing.T, n int) []settlement {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-a.done:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for settlement %d of %d", i+1, n)
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]settlement(nil), a.settled...)
}

type fakeSource struct {
	deliveries chan amqp.Delivery
	prefetch   int
	err        error
}

func (s *fakeSource) Consume(consumerTag string, prefetch int) (<-chan amqp.Delivery, error) {
	s.prefetch = prefetch
	return s.deliveries, s.err
}

type processorFunc func(ctx context.Context, jobID string) error

func (f processorFunc) Process(ctx context.Context, jobID string) error {
	return f(ctx, jobID)
}

func newTestWorker(t *testing.T, source Source, processor Processor, concurrency int) *Worker {
	t.Helper()
	w, err := NewWorker(&Config{
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Source:      source,
		Processor:   processor,
		WorkerID:    "test-worker",
		Concurrency: concurrency,
	})
	require.NoError(t, err)
	return w
}

func delivery(ack amqp.Acknowledger, tag uint64, body string) amqp.Delivery {
	return amqp.Delivery{Acknowledger: ack, DeliveryTag: tag, Body: []byte(body)}
}

func TestNewWorker(t *testing.T) {
	_, err := NewWorker(&Config{Processor: processorFunc(nil)})
	assert.Error(t, err)

	_, err = NewWorker(&Config{Source: &fakeSource{}})
	assert.Error(t, err)

	w, err := NewWorker(&Config{Source: &fakeSource{}, Processor: processorFunc(nil), Concurrency: 4})
	require.NoError(t, err)
	assert.Equal(t, 4, w.prefetchCount)
}

func TestWorker_SettlesDeliveries(t *testing.T) {
	defer goleak.VerifyNone(t)

	jobID := uuid.New().String()
	tests := []struct {
		name        string
		body        string
		processErr  error
		wantAck     bool
		wantRequeue bool
		wantProcess bool
	}{
		{
			name:        "processed",
			body:        fmt.Sprintf(`{"job_id":%q}`, jobID),
			wantAck:     true,
			wantProcess: true,
		},
		{
			name:        "malformed json",
			body:        `{"job_id":`,
			wantAck:     false,
			wantRequeue: false,
		},
		{
			name:        "job id is not a uuid",
			body:        `{"job_id":"../../etc/passwd"}`,
			wantAck:     false,
			wantRequeue: false,
		},
		{
			name:        "transient claim failure",
			body:        fmt.Sprintf(`{"job_id":%q}`, jobID),
			processErr:  tracker.NewRetryableError(errors.New("connection refused")),
			wantRequeue: true,
			wantProcess: true,
		},
		{
			name:        "already claimed",
			body:        fmt.Sprintf(`{"job_id":%q}`, jobID),
			processErr:  fmt.Errorf("job already claimed: %w", job.ErrAlreadyClaimed),
			wantRequeue: false,
			wantProcess: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var processed atomic.Int32
			source := &fakeSource{deliveries: make(chan amqp.Delivery, 1)}
			w := newTestWorker(t, source, processorFunc(func(ctx context.Context, id string) error {
				processed.Add(1)
				assert.Equal(t, jobID, id)
				return tt.processErr
			}), 2)

			require.NoError(t, w.Start(context.Background()))
			defer w.Stop()

			ack := newFakeAcknowledger()
			source.deliveries <- delivery(ack, 7, tt.body)

			settled := ack.wait(t, 1)
			require.Len(t, settled, 1)
			assert.Equal(t, uint64(7), settled[0].tag)
			assert.Equal(t, tt.wantAck, settled[0].ack)
			assert.Equal(t, tt.wantRequeue, settled[0].requeue)
			assert.Equal(t, tt.wantProcess, processed.Load() == 1)
		})
	}
}

func TestWorker_DelaysRequeue(t *testing.T) {
	defer goleak.VerifyNone(t)

	source := &fakeSource{deliveries: make(chan amqp.Delivery, 1)}
	w, err := NewWorker(&Config{
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		Source:       source,
		WorkerID:     "test-worker",
		Concurrency:  1,
		RequeueDelay: 50 * time.Millisecond,
		Processor: processorFunc(func(ctx context.Context, id string) error {
			return tracker.NewRetryableError(fmt.Errorf("job in progress: %w", job.ErrInProgress))
		}),
	})
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	ack := newFakeAcknowledger()
	sent := time.Now()
	source.deliveries <- delivery(ack, 9, fmt.Sprintf(`{"job_id":%q}`, uuid.New().String()))

	settled := ack.wait(t, 1)
	require.Len(t, settled, 1)
	assert.True(t, settled[0].requeue)
	assert.GreaterOrEqual(t, time.Since(sent), 50*time.Millisecond)
}

func TestWorker_StopCutsRequeueDelayShort(t *testing.T) {
	defer goleak.VerifyNone(t)

	source := &fakeSource{deliveries: make(chan amqp.Delivery, 1)}
	processed := make(chan struct{})
	w, err := NewWorker(&Config{
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		Source:       source,
		WorkerID:     "test-worker",
		Concurrency:  1,
		RequeueDelay: time.Hour,
		Processor: processorFunc(func(ctx context.Context, id string) error {
			close(processed)
			return tracker.NewRetryableError(errors.New("connection refused"))
		}),
	})
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))

	ack := newFakeAcknowledger()
	source.deliveries <- delivery(ack, 10, fmt.Sprintf(`{"job_id":%q}`, uuid.New().String()))
	<-processed

	w.Stop()
	settled := ack.wait(t, 1)
	require.Len(t, settled, 1)
	assert.True(t, settled[0].requeue)
}

func TestWorker_RunsJobsConcurrently(t *testing.T) {
	defer goleak.VerifyNone(t)

	const concurrency = 3
	var running atomic.Int32
	release := make(chan struct{})

	source := &fakeSource{deliveries: make(chan amqp.Delivery, concurrency)}
	w := newTestWorker(t, source, processorFunc(func(ctx context.Context, id string) error {
		running.Add(1)
		<-release
		return nil
	}), concurrency)

	require.NoError(t, w.Start(context.Background()))
	assert.Equal(t, concurrency, source.prefetch)

	ack := newFakeAcknowledger()
	for i := 0; i < concurrency; i++ {
		source.deliveries <- delivery(ack, uint64(i+1), fmt.Sprintf(`{"job_id":%q}`, uuid.New().String()))
	}

	require.Eventually(t, func() bool { return running.Load() == concurrency }, 2*time.Second, time.Millisecond)
	close(release)

	settled := ack.wait(t, concurrency)
	for _, s := range settled {
		assert.True(t, s.ack)
	}

	w.Stop()
}

func TestWorker_StopsWhenDeliveriesClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	source := &fakeSource{deliveries: make(chan amqp.Delivery)}
	w := newTestWorker(t, source, processorFunc(func(ctx context.Context, id string) error { return nil }), 1)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))

	close(source.deliveries)
	cancel()
	w.Stop()
}

func TestWorker_ConsumeError(t *testing.T) {
	source := &fakeSource{err: errors.New("channel closed")}
	w := newTestWorker(t, source, processorFunc(nil), 1)

	err := w.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel closed")
}
