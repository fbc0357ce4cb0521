package executor

import "errors"

var (
	// ErrTimeout is returned when the execution exceeded its configured bound
	ErrTimeout = errors.New("execution timed out")

	// ErrExecutionFailed is returned when the tool ran but produced no usable artifact
	ErrExecutionFailed = errors.New("execution failed")
)
