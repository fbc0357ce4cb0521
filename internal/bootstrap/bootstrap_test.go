package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cuongbtq/media-fetch/internal/config"
	"github.com/cuongbtq/media-fetch/internal/job"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOpenStore_Memory(t *testing.T) {
	store, err := OpenStore(context.Background(), &config.StorageConfig{Driver: config.StorageMemory}, discardLogger())
	require.NoError(t, err)
	defer store.Close()

	assert.Equal(t, config.StorageMemory, store.Driver)
	assert.Nil(t, store.Check)

	j := job.New("11111111-1111-4111-8111-111111111111", "https://example.com/v", time.Now())
	require.NoError(t, store.Create(context.Background(), j))

	got, err := store.Get(context.Background(), j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusPending, got.Status)
}

func TestOpenStore_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	store, err := OpenStore(context.Background(), &config.StorageConfig{
		Driver: config.StorageRedis,
		Redis:  config.RedisConfig{Host: mr.Host(), Port: port, KeyTTL: time.Hour},
	}, discardLogger())
	require.NoError(t, err)

	assert.Equal(t, config.StorageRedis, store.Driver)
	require.NotNil(t, store.Check)
	assert.NoError(t, store.Check(context.Background()))

	j := job.New("22222222-2222-4222-8222-222222222222", "https://example.com/v", time.Now())
	require.NoError(t, store.Create(context.Background(), j))
	assert.True(t, mr.Exists("mediajob:"+j.ID))

	require.NoError(t, store.Close())
}

func TestOpenStore_UnknownDriver(t *testing.T) {
	store, err := OpenStore(context.Background(), &config.StorageConfig{Driver: "badger"}, discardLogger())
	require.Error(t, err)
	assert.Nil(t, store)
	assert.Contains(t, err.Error(), "unknown storage driver")
}

func TestNewExecutor(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "downloads")

	e, err := NewExecutor(&config.ExecutorConfig{
		OutputDir: dir,
		Timeout:   time.Minute,
		Profiles: []config.ProfileConfig{
			{Name: "audio", Format: "bestaudio", ExtractAudio: true, AudioFormat: "mp3"},
		},
	}, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, dir, e.OutputDir())
	assert.DirExists(t, dir)

	_, err = NewExecutor(&config.ExecutorConfig{
		OutputDir: dir,
		Timeout:   time.Minute,
		Profiles:  []config.ProfileConfig{{Name: "audio", ExtractAudio: true}},
	}, discardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid profile")
}

func TestNewLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "app.log")

	l, err := NewLogger(&config.LoggingConfig{Level: "debug", Format: "json", Output: path})
	require.NoError(t, err)
	l.Info("hello")
	require.NoError(t, l.Close())

	assert.FileExists(t, path)
}
