// Package storetest holds the behavior every job record store must share.
package storetest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuongbtq/media-fetch/internal/job"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Store mirrors tracker.Store
type Store interface {
	Create(ctx context.Context, j *job.Job) error
	Get(ctx context.Context, id string) (*job.Job, error)
	Claim(ctx context.Context, id string, startedAt time.Time) (*job.Job, error)
	Reclaim(ctx context.Context, id string, staleBefore, startedAt time.Time) (*job.Job, error)
	Finish(ctx context.Context, j *job.Job) error
}

// timestamps survive every backend at microsecond precision in UTC
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func newPending(t *testing.T, ctx context.Context, s Store) *job.Job {
	t.Helper()
	j := job.New(uuid.New().String(), "https://example.com/video/abc12345678", now())
	require.NoError(t, s.Create(ctx, j))
	return j
}

// Run exercises newStore against the shared store contract
func Run(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		s := newStore(t)
		j := newPending(t, ctx, s)

		got, err := s.Get(ctx, j.ID)
		require.NoError(t, err)
		assert.Equal(t, j.ID, got.ID)
		assert.Equal(t, j.URL, got.URL)
		assert.Equal(t, job.StatusPending, got.Status)
		assert.True(t, j.SubmittedAt.Equal(got.SubmittedAt))
		assert.Nil(t, got.StartedAt)
		assert.Nil(t, got.Result)
		assert.Nil(t, got.Error)
	})

	t.Run("get unknown", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, uuid.New().String())
		assert.ErrorIs(t, err, job.ErrNotFound)
	})

	t.Run("create duplicate", func(t *testing.T) {
		s := newStore(t)
		j := newPending(t, ctx, s)
		err := s.Create(ctx, job.New(j.ID, "https://example.com/other", now()))
		assert.ErrorIs(t, err, job.ErrDuplicate)
	})

	t.Run("claim once", func(t *testing.T) {
		s := newStore(t)
		j := newPending(t, ctx, s)
		startedAt := now()

		claimed, err := s.Claim(ctx, j.ID, startedAt)
		require.NoError(t, err)
		assert.Equal(t, job.StatusProcessing, claimed.Status)
		require.NotNil(t, claimed.StartedAt)
		assert.True(t, startedAt.Equal(*claimed.StartedAt))

		_, err = s.Claim(ctx, j.ID, now())
		assert.ErrorIs(t, err, job.ErrAlreadyClaimed)

		got, err := s.Get(ctx, j.ID)
		require.NoError(t, err)
		assert.Equal(t, job.StatusProcessing, got.Status)
	})

	t.Run("claim unknown", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Claim(ctx, uuid.New().String(), now())
		assert.ErrorIs(t, err, job.ErrNotFound)
	})

	t.Run("concurrent claims have one winner", func(t *testing.T) {
		s := newStore(t)
		j := newPending(t, ctx, s)

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.Claim(ctx, j.ID, now()); err == nil {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), wins.Load())
	})

	t.Run("reclaim stale processing job", func(t *testing.T) {
		s := newStore(t)
		j := newPending(t, ctx, s)
		startedAt := now().Add(-time.Hour)
		_, err := s.Claim(ctx, j.ID, startedAt)
		require.NoError(t, err)

		_, err = s.Reclaim(ctx, j.ID, startedAt, now())
		assert.ErrorIs(t, err, job.ErrInProgress)

		restartedAt := now()
		reclaimed, err := s.Reclaim(ctx, j.ID, startedAt.Add(time.Minute), restartedAt)
		require.NoError(t, err)
		assert.Equal(t, job.StatusProcessing, reclaimed.Status)
		require.NotNil(t, reclaimed.StartedAt)
		assert.True(t, restartedAt.Equal(*reclaimed.StartedAt))

		// the new owner is fresh again
		_, err = s.Reclaim(ctx, j.ID, startedAt.Add(time.Minute), now())
		assert.ErrorIs(t, err, job.ErrInProgress)
	})

	t.Run("reclaim pending or terminal job", func(t *testing.T) {
		s := newStore(t)
		j := newPending(t, ctx, s)

		_, err := s.Reclaim(ctx, j.ID, now().Add(time.Hour), now())
		assert.ErrorIs(t, err, job.ErrAlreadyClaimed)

		claimed, err := s.Claim(ctx, j.ID, now().Add(-time.Hour))
		require.NoError(t, err)
		require.NoError(t, claimed.Fail(job.NewError(job.KindTimeout, "too slow"), now()))
		require.NoError(t, s.Finish(ctx, claimed))

		_, err = s.Reclaim(ctx, j.ID, now().Add(time.Hour), now())
		assert.ErrorIs(t, err, job.ErrAlreadyClaimed)

		_, err = s.Reclaim(ctx, uuid.New().String(), now(), now())
		assert.ErrorIs(t, err, job.ErrNotFound)
	})

	t.Run("finish completed is frozen", func(t *testing.T) {
		s := newStore(t)
		j := newPending(t, ctx, s)
		claimed, err := s.Claim(ctx, j.ID, now())
		require.NoError(t, err)

		require.NoError(t, claimed.Complete(job.Result{
			ArtifactPath: j.ID + ".mp3",
			Title:        "title",
			Duration:     12.5,
			Uploader:     "uploader",
			Profile:      "audio-mp3",
		}, now()))
		require.NoError(t, s.Finish(ctx, claimed))

		got, err := s.Get(ctx, j.ID)
		require.NoError(t, err)
		assert.Equal(t, job.StatusCompleted, got.Status)
		require.NotNil(t, got.Result)
		assert.Equal(t, *claimed.Result, *got.Result)
		assert.Nil(t, got.Error)
		require.NotNil(t, got.FinishedAt)

		failed := got.Clone()
		failed.Status = job.StatusFailed
		failed.Result = nil
		failed.Error = job.NewError(job.KindInternalFault, "late writer")
		assert.ErrorIs(t, s.Finish(ctx, failed), job.ErrInvalidTransition)

		again, err := s.Get(ctx, j.ID)
		require.NoError(t, err)
		assert.Equal(t, job.StatusCompleted, again.Status)
	})

	t.Run("finish failed", func(t *testing.T) {
		s := newStore(t)
		j := newPending(t, ctx, s)
		claimed, err := s.Claim(ctx, j.ID, now())
		require.NoError(t, err)

		require.NoError(t, claimed.Fail(job.NewError(job.KindExecutionFailed, "ERROR: unavailable"), now()))
		require.NoError(t, s.Finish(ctx, claimed))

		got, err := s.Get(ctx, j.ID)
		require.NoError(t, err)
		assert.Equal(t, job.StatusFailed, got.Status)
		require.NotNil(t, got.Error)
		assert.Equal(t, job.KindExecutionFailed, got.Error.Kind)
		assert.Equal(t, "ERROR: unavailable", got.Error.Message)
		assert.Nil(t, got.Result)
	})

	t.Run("finish unclaimed job", func(t *testing.T) {
		s := newStore(t)
		j := newPending(t, ctx, s)

		terminal := j.Clone()
		terminal.Status = job.StatusFailed
		terminal.Error = job.NewError(job.KindInternalFault, "skipped processing")
		assert.ErrorIs(t, s.Finish(ctx, terminal), job.ErrInvalidTransition)
	})

	t.Run("returned records are copies", func(t *testing.T) {
		s := newStore(t)
		j := newPending(t, ctx, s)

		got, err := s.Get(ctx, j.ID)
		require.NoError(t, err)
		got.Status = job.StatusFailed
		got.URL = "mutated"

		again, err := s.Get(ctx, j.ID)
		require.NoError(t, err)
		assert.Equal(t, job.StatusPending, again.Status)
		assert.Equal(t, j.URL, again.URL)
	})
}
