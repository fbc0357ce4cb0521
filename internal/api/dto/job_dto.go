package dto

import "github.com/cuongbtq/media-fetch/internal/job"

// SubmitJobRequest is the body of POST /api/v1/jobs
type SubmitJobRequest struct {
	URL string `json:"url"`
}

// FastAudioQuery is the query of GET /fast-audio
type FastAudioQuery struct {
	URL string `form:"url"`
}

// SubmitJobResponse is returned once a job is accepted
type SubmitJobResponse struct {
	JobID     string     `json:"jobId"`
	Status    job.Status `json:"status"`
	StatusURL string     `json:"statusUrl"`
}

// ErrorResponse wraps every error body
type ErrorResponse struct {
	Error *job.Error `json:"error"`
}

// NewErrorResponse builds an error body
func NewErrorResponse(kind job.ErrorKind, message string) ErrorResponse {
	return ErrorResponse{Error: job.NewError(kind, message)}
}
