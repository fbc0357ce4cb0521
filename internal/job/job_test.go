package job

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_CanTransition(t *testing.T) {
	tests := []struct {
		name     string
		from     Status
		to       Status
		expected bool
	}{
		{name: "pending to processing", from: StatusPending, to: StatusProcessing, expected: true},
		{name: "pending to completed", from: StatusPending, to: StatusCompleted, expected: false},
		{name: "pending to failed", from: StatusPending, to: StatusFailed, expected: false},
		{name: "processing to completed", from: StatusProcessing, to: StatusCompleted, expected: true},
		{name: "processing to failed", from: StatusProcessing, to: StatusFailed, expected: true},
		{name: "processing to pending", from: StatusProcessing, to: StatusPending, expected: false},
		{name: "completed to failed", from: StatusCompleted, to: StatusFailed, expected: false},
		{name: "completed to processing", from: StatusCompleted, to: StatusProcessing, expected: false},
		{name: "failed to completed", from: StatusFailed, to: StatusCompleted, expected: false},
		{name: "unknown status", from: Status("weird"), to: StatusProcessing, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.from.CanTransition(tt.to))
		})
	}
}

func TestJob_Lifecycle(t *testing.T) {
	submitted := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	j := New("id-1", "https://example.com/video/abc12345678", submitted)
	assert.Equal(t, StatusPending, j.Status)

	started := submitted.Add(time.Second)
	require.NoError(t, j.Start(started))
	assert.Equal(t, StatusProcessing, j.Status)
	assert.ErrorIs(t, j.Start(started), ErrAlreadyClaimed)

	finished := started.Add(3 * time.Second)
	require.NoError(t, j.Complete(Result{ArtifactPath: "id-1.mp3", Title: "abc"}, finished))
	assert.Equal(t, StatusCompleted, j.Status)
	require.NotNil(t, j.Result)
	assert.Equal(t, 3.0, j.Result.ElapsedSeconds)
	assert.Nil(t, j.Error)

	t.Run("no transition out of terminal state", func(t *testing.T) {
		assert.ErrorIs(t, j.Fail(NewError(KindInternalFault, "late"), finished), ErrInvalidTransition)
		assert.ErrorIs(t, j.Complete(Result{}, finished), ErrInvalidTransition)
		assert.Equal(t, StatusCompleted, j.Status)
		assert.Nil(t, j.Error)
	})
}

func TestJob_Restart(t *testing.T) {
	submitted := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	started := submitted.Add(time.Second)

	j := New("id", "https://example.com/v", submitted)
	assert.ErrorIs(t, j.Restart(started, started), ErrAlreadyClaimed)

	require.NoError(t, j.Start(started))
	assert.ErrorIs(t, j.Restart(started, started.Add(time.Minute)), ErrInProgress)
	assert.True(t, started.Equal(*j.StartedAt))

	restarted := started.Add(time.Hour)
	require.NoError(t, j.Restart(started.Add(time.Minute), restarted))
	assert.Equal(t, StatusProcessing, j.Status)
	assert.True(t, restarted.Equal(*j.StartedAt))

	require.NoError(t, j.Complete(Result{ArtifactPath: "id.mp3"}, restarted.Add(time.Second)))
	assert.ErrorIs(t, j.Restart(restarted.Add(time.Hour), restarted.Add(time.Hour)), ErrAlreadyClaimed)
}

func TestJob_FailWithoutError(t *testing.T) {
	j := New("id-2", "u", time.Now())
	require.NoError(t, j.Start(time.Now()))
	require.NoError(t, j.Fail(nil, time.Now()))

	require.NotNil(t, j.Error)
	assert.Equal(t, KindInternalFault, j.Error.Kind)
	assert.Nil(t, j.Result)
}

func TestJob_Clone(t *testing.T) {
	j := New("id-3", "u", time.Now())
	require.NoError(t, j.Start(time.Now()))
	require.NoError(t, j.Complete(Result{ArtifactPath: "a.mp3"}, time.Now()))

	c := j.Clone()
	c.Result.ArtifactPath = "changed"
	*c.StartedAt = time.Time{}

	assert.Equal(t, "a.mp3", j.Result.ArtifactPath)
	assert.False(t, j.StartedAt.IsZero())
}

func TestJob_View(t *testing.T) {
	submitted := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("pending has no elapsed time", func(t *testing.T) {
		j := New("id", "u", submitted)
		v := j.View(submitted.Add(time.Minute))
		assert.Equal(t, StatusPending, v.Status)
		assert.Nil(t, v.ElapsedSeconds)
		assert.Nil(t, v.Result)
		assert.Nil(t, v.Error)
	})

	t.Run("processing reports elapsed since submission", func(t *testing.T) {
		j := New("id", "u", submitted)
		require.NoError(t, j.Start(submitted))
		v := j.View(submitted.Add(1500 * time.Millisecond))
		require.NotNil(t, v.ElapsedSeconds)
		assert.Equal(t, 1.5, *v.ElapsedSeconds)
	})

	t.Run("processing clamps clock skew to zero", func(t *testing.T) {
		j := New("id", "u", submitted)
		require.NoError(t, j.Start(submitted))
		v := j.View(submitted.Add(-time.Hour))
		require.NotNil(t, v.ElapsedSeconds)
		assert.Equal(t, 0.0, *v.ElapsedSeconds)
	})

	t.Run("terminal view is identical across polls", func(t *testing.T) {
		j := New("id", "u", submitted)
		require.NoError(t, j.Start(submitted))
		require.NoError(t, j.Fail(NewError(KindTimeout, "too slow"), submitted.Add(time.Second)))

		first, err := json.Marshal(j.View(submitted.Add(time.Minute)))
		require.NoError(t, err)
		second, err := json.Marshal(j.View(submitted.Add(time.Hour)))
		require.NoError(t, err)

		assert.Equal(t, first, second)
		assert.Contains(t, string(first), `"kind":"Timeout"`)
		assert.NotContains(t, string(first), "result")
	})
}

func TestError_Error(t *testing.T) {
	assert.Equal(t, "Timeout", NewError(KindTimeout, "").Error())
	assert.Equal(t, "ExecutionFailed: boom", NewError(KindExecutionFailed, "boom").Error())
}
