package job

import (
	"time"
)

// Job is one asynchronous unit of submitted work and its tracked lifecycle.
type Job struct {
	ID          string     `json:"id"`
	URL         string     `json:"url"`
	Status      Status     `json:"status"`
	SubmittedAt time.Time  `json:"submittedAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	FinishedAt  *time.Time `json:"finishedAt,omitempty"`
	Result      *Result    `json:"result,omitempty"`
	Error       *Error     `json:"error,omitempty"`
}

// Result describes the artifact produced by a completed job
type Result struct {
	ArtifactPath   string  `json:"artifactPath"`
	Title          string  `json:"title,omitempty"`
	Duration       float64 `json:"duration,omitempty"`
	Uploader       string  `json:"uploader,omitempty"`
	Profile        string  `json:"profile,omitempty"`
	ElapsedSeconds float64 `json:"elapsedSeconds"`
}

// View is the status payload returned to pollers.
type View struct {
	JobID          string    `json:"jobId"`
	Status         Status    `json:"status"`
	SubmittedAt    time.Time `json:"submittedAt"`
	ElapsedSeconds *float64  `json:"elapsedSeconds,omitempty"`
	Result         *Result   `json:"result,omitempty"`
	Error          *Error    `json:"error,omitempty"`
}

// New creates a Pending job.
func New(id, url string, submittedAt time.Time) *Job {
	return &Job{
		ID:          id,
		URL:         url,
		Status:      StatusPending,
		SubmittedAt: submittedAt,
	}
}

// Start moves the job from Pending to Processing.
func (j *Job) Start(at time.Time) error {
	if !j.Status.CanTransition(StatusProcessing) {
		return ErrAlreadyClaimed
	}
	j.Status = StatusProcessing
	j.StartedAt = &at
	return nil
}

// Restart hands a Processing job to a new owner when the previous one
// started it before staleBefore. A later start is ErrInProgress; any other
// status is ErrAlreadyClaimed.
func (j *Job) Restart(staleBefore, at time.Time) error {
	if j.Status != StatusProcessing {
		return ErrAlreadyClaimed
	}
	if j.StartedAt != nil && !j.StartedAt.Before(staleBefore) {
		return ErrInProgress
	}
	j.StartedAt = &at
	return nil
}

// Complete moves the job to Completed and freezes its result.
// ElapsedSeconds is filled from the processing window.
func (j *Job) Complete(res Result, at time.Time) error {
	if !j.Status.CanTransition(StatusCompleted) {
		return ErrInvalidTransition
	}
	if j.StartedAt != nil {
		res.ElapsedSeconds = at.Sub(*j.StartedAt).Seconds()
	}
	j.Status = StatusCompleted
	j.FinishedAt = &at
	j.Result = &res
	j.Error = nil
	return nil
}

// Fail moves the job to Failed with the given error.
func (j *Job) Fail(e *Error, at time.Time) error {
	if !j.Status.CanTransition(StatusFailed) {
		return ErrInvalidTransition
	}
	if e == nil {
		e = &Error{Kind: KindInternalFault, Message: "job failed without a recorded error"}
	}
	errCopy := *e
	j.Status = StatusFailed
	j.FinishedAt = &at
	j.Result = nil
	j.Error = &errCopy
	return nil
}

// Clone returns a deep copy so stored records never alias caller memory.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	if j.Result != nil {
		r := *j.Result
		c.Result = &r
	}
	if j.Error != nil {
		e := *j.Error
		c.Error = &e
	}
	return &c
}

// View renders the poll payload. Elapsed time is only reported while the
// job is Processing and never goes below zero.
func (j *Job) View(now time.Time) *View {
	v := &View{
		JobID:       j.ID,
		Status:      j.Status,
		SubmittedAt: j.SubmittedAt,
	}

	switch j.Status {
	case StatusProcessing:
		elapsed := now.Sub(j.SubmittedAt).Seconds()
		if elapsed < 0 {
			elapsed = 0
		}
		v.ElapsedSeconds = &elapsed
	case StatusCompleted:
		if j.Result != nil {
			r := *j.Result
			v.Result = &r
		}
	case StatusFailed:
		if j.Error != nil {
			e := *j.Error
			v.Error = &e
		}
	}

	return v
}
