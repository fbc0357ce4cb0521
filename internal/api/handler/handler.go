package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/media-fetch/internal/job"
)

// JobService is the part of the tracker the HTTP surface relays to
type JobService interface {
	Submit(ctx context.Context, url string) (string, error)
	Poll(ctx context.Context, jobID string) (*job.View, error)
}

// HealthCheck reports the state of one dependency
type HealthCheck func(ctx context.Context) error

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger       *slog.Logger
	Jobs         JobService
	OutputDir    string
	ServiceName  string
	HealthChecks map[string]HealthCheck
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger    *slog.Logger
	jobs      JobService
	outputDir string
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:    deps.Logger,
		jobs:      deps.Jobs,
		outputDir: deps.OutputDir,
	}
}
