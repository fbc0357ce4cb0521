package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cuongbtq/media-fetch/internal/api/dto"
	"github.com/cuongbtq/media-fetch/internal/job"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeJobs struct {
	submitted []string
	submitErr error
	views     map[string]*job.View
	pollErr   error
}

func (f *fakeJobs) Submit(ctx context.Context, url string) (string, error) {
	f.submitted = append(f.submitted, url)
	if f.submitErr != nil {
		return "", f.submitErr
	}
	if strings.TrimSpace(url) == "" {
		return "", job.ErrInvalidInput
	}
	return "0b6e1c0a-6a4f-4c1e-8f0e-2f5d5c3b9a77", nil
}

func (f *fakeJobs) Poll(ctx context.Context, jobID string) (*job.View, error) {
	if f.pollErr != nil {
		return nil, f.pollErr
	}
	v, ok := f.views[jobID]
	if !ok {
		return nil, job.ErrNotFound
	}
	return v, nil
}

func newTestEngine(jobs JobService, outputDir string) *gin.Engine {
	h := NewJobHandler(&Dependencies{
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Jobs:      jobs,
		OutputDir: outputDir,
	})

	r := gin.New()
	r.UseRawPath = true
	r.POST("/api/v1/jobs", h.SubmitJob)
	r.GET("/api/v1/jobs/:job_id", h.GetJob)
	r.GET("/api/v1/files/:filename", h.DownloadFile)
	r.GET("/fast-audio", h.FastAudio)
	return r
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) *job.Error {
	t.Helper()
	var body dto.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotNil(t, body.Error)
	return body.Error
}

func TestJobHandler_SubmitJob(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		submitErr  error
		wantStatus int
		wantKind   job.ErrorKind
	}{
		{name: "accepted", body: `{"url":"https://example.com/video/abc12345678"}`, wantStatus: http.StatusAccepted},
		{name: "empty url", body: `{"url":""}`, wantStatus: http.StatusBadRequest, wantKind: job.KindInvalidInput},
		{name: "missing url", body: `{}`, wantStatus: http.StatusBadRequest, wantKind: job.KindInvalidInput},
		{name: "not json", body: `url=x`, wantStatus: http.StatusBadRequest, wantKind: job.KindInvalidInput},
		{name: "store failure", body: `{"url":"https://example.com/v"}`, submitErr: errors.New("db down"), wantStatus: http.StatusInternalServerError, wantKind: job.KindInternalFault},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs := &fakeJobs{submitErr: tt.submitErr}
			r := newTestEngine(jobs, t.TempDir())

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			r.ServeHTTP(w, req)

			require.Equal(t, tt.wantStatus, w.Code)
			if tt.wantKind != "" {
				assert.Equal(t, tt.wantKind, decodeError(t, w).Kind)
				assert.NotContains(t, w.Body.String(), "jobId")
				return
			}

			var resp dto.SubmitJobResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, "0b6e1c0a-6a4f-4c1e-8f0e-2f5d5c3b9a77", resp.JobID)
			assert.Equal(t, job.StatusPending, resp.Status)
			assert.Equal(t, "/api/v1/jobs/"+resp.JobID, resp.StatusURL)
		})
	}
}

func TestJobHandler_FastAudio(t *testing.T) {
	jobs := &fakeJobs{}
	r := newTestEngine(jobs, t.TempDir())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/fast-audio?url=https%3A%2F%2Fexample.com%2Fv", nil))
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []string{"https://example.com/v"}, jobs.submitted)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/fast-audio", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, job.KindInvalidInput, decodeError(t, w).Kind)
}

func TestJobHandler_GetJob(t *testing.T) {
	completedID := uuid.New().String()
	processingID := uuid.New().String()
	elapsed := 1.5

	jobs := &fakeJobs{views: map[string]*job.View{
		completedID: {
			JobID:       completedID,
			Status:      job.StatusCompleted,
			SubmittedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
			Result:      &job.Result{ArtifactPath: "out_abc123.ext", Title: "t", ElapsedSeconds: 3},
		},
		processingID: {
			JobID:          processingID,
			Status:         job.StatusProcessing,
			SubmittedAt:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
			ElapsedSeconds: &elapsed,
		},
	}}
	r := newTestEngine(jobs, t.TempDir())

	tests := []struct {
		name       string
		id         string
		wantStatus int
		check      func(t *testing.T, body map[string]interface{})
	}{
		{
			name:       "completed",
			id:         completedID,
			wantStatus: http.StatusOK,
			check: func(t *testing.T, body map[string]interface{}) {
				assert.Equal(t, "Completed", body["status"])
				assert.Equal(t, completedID, body["jobId"])
				result := body["result"].(map[string]interface{})
				assert.Equal(t, "out_abc123.ext", result["artifactPath"])
				assert.NotContains(t, body, "error")
				assert.NotContains(t, body, "elapsedSeconds")
			},
		},
		{
			name:       "processing",
			id:         processingID,
			wantStatus: http.StatusOK,
			check: func(t *testing.T, body map[string]interface{}) {
				assert.Equal(t, "Processing", body["status"])
				assert.Equal(t, 1.5, body["elapsedSeconds"])
			},
		},
		{
			name:       "unknown",
			id:         uuid.New().String(),
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "not a uuid",
			id:         "abc",
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+tt.id, nil))
			require.Equal(t, tt.wantStatus, w.Code)

			if tt.wantStatus == http.StatusNotFound {
				assert.Equal(t, job.KindNotFound, decodeError(t, w).Kind)
				return
			}

			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			tt.check(t, body)
		})
	}
}

func TestJobHandler_GetJob_StoreFailure(t *testing.T) {
	r := newTestEngine(&fakeJobs{pollErr: errors.New("connection refused")}, t.TempDir())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+uuid.New().String(), nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, job.KindInternalFault, decodeError(t, w).Kind)
}

func TestJobHandler_DownloadFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "out_abc123.mp3"), []byte("ID3audio"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "out_def456.webm.part"), []byte("partial"), 0o644))
	r := newTestEngine(&fakeJobs{}, dir)

	tests := []struct {
		name       string
		path       string
		wantStatus int
	}{
		{name: "existing", path: "/api/v1/files/out_abc123.mp3", wantStatus: http.StatusOK},
		{name: "missing", path: "/api/v1/files/missing.mp3", wantStatus: http.StatusNotFound},
		{name: "download in progress", path: "/api/v1/files/out_def456.webm.part", wantStatus: http.StatusNotFound},
		{name: "encoded traversal", path: "/api/v1/files/..%2Fsecret", wantStatus: http.StatusBadRequest},
		{name: "backslash", path: "/api/v1/files/..%5Csecret", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))
			require.Equal(t, tt.wantStatus, w.Code)

			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, "ID3audio", w.Body.String())
				assert.Contains(t, w.Header().Get("Content-Disposition"), "out_abc123.mp3")
			}
		})
	}
}
