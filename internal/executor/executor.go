package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cuongbtq/media-fetch/internal/artifact"
	"github.com/cuongbtq/media-fetch/internal/metrics"
)

// maxDiagnosticBytes bounds the stderr tail kept per failed attempt
const maxDiagnosticBytes = 2048

// Config holds executor configuration
type Config struct {
	BinaryPath    string
	FFmpegPath    string
	OutputDir     string
	Timeout       time.Duration
	SocketTimeout time.Duration
	Profiles      []Profile
	Runner        Runner
	Logger        *slog.Logger
}

// Request identifies one unit of work
type Request struct {
	JobID string
	URL   string
}

// Metadata is the descriptive information reported by the tool
type Metadata struct {
	Title    string  `json:"title"`
	Duration float64 `json:"duration"`
	Uploader string  `json:"uploader"`
}

// Artifact is the file produced by a successful attempt
type Artifact struct {
	// Filename is relative to the output directory
	Filename string
	Path     string
	Profile  string
	Metadata Metadata
}

// Executor runs the extraction tool against an ordered list of option
// profiles and stops at the first one that produces an artifact.
type Executor struct {
	binaryPath    string
	ffmpegPath    string
	outputDir     string
	timeout       time.Duration
	socketTimeout time.Duration
	profiles      []Profile
	runner        Runner
	logger        *slog.Logger
}

// New creates a new Executor and makes sure the output directory exists
func New(cfg *Config) (*Executor, error) {
	if cfg.OutputDir == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be greater than 0")
	}

	profiles := cfg.Profiles
	if len(profiles) == 0 {
		profiles = DefaultProfiles()
	}
	for _, p := range profiles {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("invalid profile: %w", err)
		}
	}

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", cfg.OutputDir, err)
	}

	e := &Executor{
		binaryPath:    cfg.BinaryPath,
		ffmpegPath:    cfg.FFmpegPath,
		outputDir:     cfg.OutputDir,
		timeout:       cfg.Timeout,
		socketTimeout: cfg.SocketTimeout,
		profiles:      profiles,
		runner:        cfg.Runner,
		logger:        cfg.Logger,
	}

	if e.binaryPath == "" {
		e.binaryPath = "yt-dlp"
	}
	if e.socketTimeout <= 0 {
		e.socketTimeout = 20 * time.Second
	}
	if e.runner == nil {
		e.runner = ExecRunner{}
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}

	return e, nil
}

// OutputDir returns the directory artifacts are written to
func (e *Executor) OutputDir() string {
	return e.outputDir
}

// Execute tries each profile in order until one yields an artifact.
// A deadline hit aborts the remaining profiles and reports ErrTimeout.
func (e *Executor) Execute(ctx context.Context, req Request) (*Artifact, error) {
	if req.JobID == "" || req.URL == "" {
		return nil, fmt.Errorf("job id and url are required")
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	failures := make([]string, 0, len(e.profiles))
	for i, profile := range e.profiles {
		e.logger.Info("Starting extraction attempt",
			slog.String("job_id", req.JobID),
			slog.String("profile", profile.Name),
			slog.Int("attempt", i+1),
			slog.Int("max_attempts", len(e.profiles)),
		)

		start := time.Now()
		out, err := e.attempt(ctx, req, profile)
		metrics.ObserveAttempt(profile.Name, err, time.Since(start))
		if err == nil {
			e.logger.Info("Extraction attempt succeeded",
				slog.String("job_id", req.JobID),
				slog.String("profile", profile.Name),
				slog.String("artifact", out.Filename),
			)
			return out, nil
		}

		e.removeJobFiles(req.JobID)

		if ctxErr := ctx.Err(); ctxErr != nil {
			e.logger.Warn("Extraction attempt interrupted",
				slog.String("job_id", req.JobID),
				slog.String("profile", profile.Name),
				slog.Any("error", ctxErr),
			)
			if errors.Is(ctxErr, context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: exceeded %s during profile %q", ErrTimeout, e.timeout, profile.Name)
			}
			return nil, fmt.Errorf("execution canceled: %w", ctxErr)
		}

		e.logger.Warn("Extraction attempt failed, trying next profile",
			slog.String("job_id", req.JobID),
			slog.String("profile", profile.Name),
			slog.Any("error", err),
		)
		failures = append(failures, fmt.Sprintf("[%s] %v", profile.Name, err))
	}

	return nil, fmt.Errorf("%w: all %d profiles failed: %s", ErrExecutionFailed, len(e.profiles), strings.Join(failures, "; "))
}

// attempt runs the tool once with one profile
func (e *Executor) attempt(ctx context.Context, req Request, profile Profile) (*Artifact, error) {
	args := e.buildArgs(req, profile)

	stdout, stderr, err := e.runner.Run(ctx, e.binaryPath, args)
	if err != nil {
		if diag := diagnostic(stderr); diag != "" {
			return nil, fmt.Errorf("%w: %s", err, diag)
		}
		return nil, err
	}

	meta, err := parseMetadata(stdout)
	if err != nil {
		return nil, err
	}

	path, err := e.findArtifact(req.JobID, profile)
	if err != nil {
		return nil, err
	}

	return &Artifact{
		Filename: filepath.Base(path),
		Path:     path,
		Profile:  profile.Name,
		Metadata: *meta,
	}, nil
}

// parseMetadata reads the last JSON object the tool printed on stdout
func parseMetadata(stdout []byte) (*Metadata, error) {
	lines := bytes.Split(bytes.TrimSpace(stdout), []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		line := bytes.TrimSpace(lines[i])
		if len(line) == 0 || line[0] != '{' {
			continue
		}

		var meta Metadata
		if err := json.Unmarshal(line, &meta); err != nil {
			return nil, fmt.Errorf("malformed tool output: %w", err)
		}
		return &meta, nil
	}

	return nil, fmt.Errorf("tool output contained no metadata")
}

// findArtifact locates the file written for jobID. The tool decides the
// extension so the file is discovered, never assumed.
func (e *Executor) findArtifact(jobID string, profile Profile) (string, error) {
	candidates := e.jobFiles(jobID)

	var artifacts []string
	for _, path := range candidates {
		if artifact.IsPartial(path) {
			continue
		}
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		artifacts = append(artifacts, path)
	}

	if len(artifacts) == 0 {
		return "", fmt.Errorf("tool exited cleanly but no artifact was written for job %s", jobID)
	}

	sort.Strings(artifacts)
	if profile.ExtractAudio {
		want := "." + strings.ToLower(profile.AudioFormat)
		for _, path := range artifacts {
			if strings.ToLower(filepath.Ext(path)) == want {
				return path, nil
			}
		}
	}

	return artifacts[0], nil
}

// jobFiles lists every file in the output dir named after jobID
func (e *Executor) jobFiles(jobID string) []string {
	matches, err := filepath.Glob(filepath.Join(e.outputDir, jobID+".*"))
	if err != nil {
		return nil
	}
	return matches
}

// removeJobFiles drops whatever a failed attempt left behind
func (e *Executor) removeJobFiles(jobID string) {
	for _, path := range e.jobFiles(jobID) {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			e.logger.Warn("Failed to remove partial output",
				slog.String("job_id", jobID),
				slog.String("path", path),
				slog.Any("error", err),
			)
		}
	}
}

// diagnostic returns the tail of the tool's stderr
func diagnostic(stderr []byte) string {
	s := strings.TrimSpace(string(stderr))
	if len(s) > maxDiagnosticBytes {
		s = "..." + s[len(s)-maxDiagnosticBytes:]
	}
	return s
}
