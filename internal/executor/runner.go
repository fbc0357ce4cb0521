package executor

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"
)

// Runner runs one external process to completion.
type Runner interface {
	Run(ctx context.Context, name string, args []string) (stdout, stderr []byte, err error)
}

// ExecRunner runs processes with os/exec. The process group is killed when
// ctx is done so a transcoder spawned by the extractor dies with it.
type ExecRunner struct {
	// WaitDelay bounds how long Run waits for pipes after the process is killed
	WaitDelay time.Duration
}

// Run executes name with args and captures both output streams.
func (r ExecRunner) Run(ctx context.Context, name string, args []string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	waitDelay := r.WaitDelay
	if waitDelay <= 0 {
		waitDelay = 5 * time.Second
	}
	cmd.WaitDelay = waitDelay
	setProcessGroup(cmd)

	err := cmd.Run()
	if err != nil && ctx.Err() != nil {
		return stdout.Bytes(), stderr.Bytes(), fmt.Errorf("%s interrupted: %w", name, ctx.Err())
	}
	if err != nil {
		return stdout.Bytes(), stderr.Bytes(), fmt.Errorf("%s failed: %w", name, err)
	}

	return stdout.Bytes(), stderr.Bytes(), nil
}
