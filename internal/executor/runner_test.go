package executor

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireShell(t *testing.T) string {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	return sh
}

func TestExecRunner_CapturesStreams(t *testing.T) {
	sh := requireShell(t)

	stdout, stderr, err := ExecRunner{}.Run(context.Background(), sh, []string{"-c", "echo out; echo err 1>&2"})
	require.NoError(t, err)
	assert.Equal(t, "out\n", string(stdout))
	assert.Equal(t, "err\n", string(stderr))
}

func TestExecRunner_NonZeroExit(t *testing.T) {
	sh := requireShell(t)

	_, stderr, err := ExecRunner{}.Run(context.Background(), sh, []string{"-c", "echo 'ERROR: unavailable' 1>&2; exit 3"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed")
	assert.Contains(t, string(stderr), "ERROR: unavailable")

	var exitErr *exec.ExitError
	assert.True(t, errors.As(err, &exitErr))
}

func TestExecRunner_DeadlineKillsProcess(t *testing.T) {
	sh := requireShell(t)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, _, err := ExecRunner{WaitDelay: time.Second}.Run(ctx, sh, []string{"-c", "sleep 10"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}
