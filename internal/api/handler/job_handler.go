package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/media-fetch/internal/api/dto"
	"github.com/cuongbtq/media-fetch/internal/artifact"
	"github.com/cuongbtq/media-fetch/internal/job"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// SubmitJob handles POST /api/v1/jobs
func (h *JobHandler) SubmitJob(c *gin.Context) {
	var req dto.SubmitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", slog.Any("error", err))
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse(job.KindInvalidInput, "request body must be a JSON object with a url field"))
		return
	}

	h.submit(c, req.URL)
}

// FastAudio handles GET /fast-audio?url=
func (h *JobHandler) FastAudio(c *gin.Context) {
	var query dto.FastAudioQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse(job.KindInvalidInput, err.Error()))
		return
	}

	h.submit(c, query.URL)
}

func (h *JobHandler) submit(c *gin.Context, url string) {
	jobID, err := h.jobs.Submit(c.Request.Context(), url)
	if err != nil {
		if errors.Is(err, job.ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, dto.NewErrorResponse(job.KindInvalidInput, err.Error()))
			return
		}
		h.logger.Error("Failed to submit job", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse(job.KindInternalFault, "failed to submit job"))
		return
	}

	c.JSON(http.StatusAccepted, dto.SubmitJobResponse{
		JobID:     jobID,
		Status:    job.StatusPending,
		StatusURL: "/api/v1/jobs/" + jobID,
	})
}

// GetJob handles GET /api/v1/jobs/:job_id
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")

	// Ids are always UUIDs, anything else was never issued
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusNotFound, dto.NewErrorResponse(job.KindNotFound, job.ErrNotFound.Error()))
		return
	}

	view, err := h.jobs.Poll(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			c.JSON(http.StatusNotFound, dto.NewErrorResponse(job.KindNotFound, err.Error()))
			return
		}
		h.logger.Error("Failed to get job",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse(job.KindInternalFault, "failed to get job"))
		return
	}

	c.JSON(http.StatusOK, view)
}

// DownloadFile handles GET /api/v1/files/:filename
func (h *JobHandler) DownloadFile(c *gin.Context) {
	name := c.Param("filename")

	path, err := artifact.Resolve(h.outputDir, name)
	if err != nil {
		switch {
		case errors.Is(err, artifact.ErrInvalidName):
			h.logger.Warn("Rejected artifact name",
				slog.String("filename", name),
				slog.String("ip", c.ClientIP()),
			)
			c.JSON(http.StatusBadRequest, dto.NewErrorResponse(job.KindInvalidInput, "invalid file name"))
		case errors.Is(err, artifact.ErrNotFound):
			c.JSON(http.StatusNotFound, dto.NewErrorResponse(job.KindNotFound, "file not found"))
		default:
			h.logger.Error("Failed to resolve artifact",
				slog.String("filename", name),
				slog.Any("error", err),
			)
			c.JSON(http.StatusInternalServerError, dto.NewErrorResponse(job.KindInternalFault, "failed to read file"))
		}
		return
	}

	c.FileAttachment(path, name)
}
