package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/media-fetch/internal/job"
	goredis "github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "mediajob:"

	// maxTxRetries bounds optimistic transaction retries under contention
	maxTxRetries = 16
)

// Store keeps one JSON document per job under mediajob:<id>. Claim and
// Finish run as WATCH/MULTI transactions.
type Store struct {
	client *goredis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewStore creates a Store. A zero ttl keeps records until removed externally.
func NewStore(client *goredis.Client, ttl time.Duration, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

func key(id string) string {
	return keyPrefix + id
}

// Create stores a new job record, failing with job.ErrDuplicate if the key exists
func (s *Store) Create(ctx context.Context, j *job.Job) error {
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	ok, err := s.client.SetNX(ctx, key(j.ID), data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	if !ok {
		return job.ErrDuplicate
	}
	return nil
}

// Get retrieves a job by its ID
func (s *Store) Get(ctx context.Context, id string) (*job.Job, error) {
	data, err := s.client.Get(ctx, key(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, job.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return decode(data)
}

// Claim moves a Pending job to Processing
func (s *Store) Claim(ctx context.Context, id string, startedAt time.Time) (*job.Job, error) {
	return s.update(ctx, id, func(j *job.Job) error {
		return j.Start(startedAt)
	})
}

// Reclaim restamps a Processing job that was started before staleBefore
func (s *Store) Reclaim(ctx context.Context, id string, staleBefore, startedAt time.Time) (*job.Job, error) {
	return s.update(ctx, id, func(j *job.Job) error {
		return j.Restart(staleBefore, startedAt)
	})
}

// Finish stores a terminal job over its Processing record
func (s *Store) Finish(ctx context.Context, j *job.Job) error {
	if !j.Status.IsTerminal() {
		return job.ErrInvalidTransition
	}

	_, err := s.update(ctx, j.ID, func(current *job.Job) error {
		if !current.Status.CanTransition(j.Status) {
			return job.ErrInvalidTransition
		}
		*current = *j.Clone()
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("Job status updated",
		slog.String("job_id", j.ID),
		slog.String("status", string(j.Status)),
	)
	return nil
}

// update applies mutate to the stored job inside an optimistic transaction
// and keeps the key's remaining TTL.
func (s *Store) update(ctx context.Context, id string, mutate func(*job.Job) error) (*job.Job, error) {
	k := key(id)

	var updated *job.Job
	txf := func(tx *goredis.Tx) error {
		data, err := tx.Get(ctx, k).Bytes()
		if errors.Is(err, goredis.Nil) {
			return job.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to read job: %w", err)
		}

		j, err := decode(data)
		if err != nil {
			return err
		}
		if err := mutate(j); err != nil {
			return err
		}

		out, err := json.Marshal(j)
		if err != nil {
			return fmt.Errorf("failed to marshal job: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.SetArgs(ctx, k, out, goredis.SetArgs{KeepTTL: true})
			return nil
		})
		if err != nil {
			return err
		}

		updated = j
		return nil
	}

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := s.client.Watch(ctx, txf, k)
		if err == nil {
			return updated, nil
		}
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		return nil, err
	}

	return nil, fmt.Errorf("failed to update job %s: too much contention", id)
}

func decode(data []byte) (*job.Job, error) {
	var j job.Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("failed to decode job: %w", err)
	}
	return &j, nil
}
