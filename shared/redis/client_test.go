package redis

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client, err := NewClient(&Config{Host: mr.Host(), Port: port, PoolSize: 2}, logger)
	require.NoError(t, err)

	assert.NoError(t, client.HealthCheck(context.Background()))
	assert.NotNil(t, client.GetClient())
	assert.NoError(t, client.Close())
}

func TestNewClient_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	host := mr.Host()
	mr.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client, err := NewClient(&Config{Host: host, Port: port}, logger)
	assert.Error(t, err)
	assert.Nil(t, client)
}
