package memory

import (
	"context"
	"sync"
	"time"

	"github.com/cuongbtq/media-fetch/internal/job"
)

// Store keeps job records in a map guarded by a RWMutex. Records are copied
// on the way in and out so callers never share memory with the store.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*job.Job
}

// New creates an empty Store
func New() *Store {
	return &Store{jobs: make(map[string]*job.Job)}
}

// Create stores a new job record
func (s *Store) Create(ctx context.Context, j *job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[j.ID]; ok {
		return job.ErrDuplicate
	}
	s.jobs[j.ID] = j.Clone()
	return nil
}

// Get retrieves a job by its ID
func (s *Store) Get(ctx context.Context, id string) (*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, job.ErrNotFound
	}
	return j.Clone(), nil
}

// Claim moves a Pending job to Processing
func (s *Store) Claim(ctx context.Context, id string, startedAt time.Time) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, job.ErrNotFound
	}

	claimed := j.Clone()
	if err := claimed.Start(startedAt); err != nil {
		return nil, err
	}
	s.jobs[id] = claimed
	return claimed.Clone(), nil
}

// Reclaim restamps a Processing job that was started before staleBefore
func (s *Store) Reclaim(ctx context.Context, id string, staleBefore, startedAt time.Time) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, job.ErrNotFound
	}

	reclaimed := j.Clone()
	if err := reclaimed.Restart(staleBefore, startedAt); err != nil {
		return nil, err
	}
	s.jobs[id] = reclaimed
	return reclaimed.Clone(), nil
}

// Finish stores a terminal job over its Processing record
func (s *Store) Finish(ctx context.Context, j *job.Job) error {
	if !j.Status.IsTerminal() {
		return job.ErrInvalidTransition
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.jobs[j.ID]
	if !ok {
		return job.ErrNotFound
	}
	if !current.Status.CanTransition(j.Status) {
		return job.ErrInvalidTransition
	}
	s.jobs[j.ID] = j.Clone()
	return nil
}

// Len returns the number of records
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}
