// Package jobs tracks per-document processing state in memory. Every
// document identifier maps to at most one job; an active run must acquire
// the slot before mutating it, so two runs can never interleave on the
// same document.
package jobs

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/egtimer/invoice-ai-processor/constants"
	"github.com/egtimer/invoice-ai-processor/internal/entity"
)

type Store struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]*entity.ProcessingJob
}

func NewStore() *Store {
	return &Store{jobs: make(map[uuid.UUID]*entity.ProcessingJob)}
}

// Acquire transitions a document into the processing state. It fails when a
// run is already active, which is the concurrency gate for the whole
// pipeline: callers must only start work after a successful acquire.
func (s *Store) Acquire(id uuid.UUID) (entity.ProcessingJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if j, ok := s.jobs[id]; ok && j.Status == constants.JobStatusProcessing {
		return *j, false
	}
	now := time.Now().UTC()
	j := &entity.ProcessingJob{
		DocumentID: id,
		Status:     constants.JobStatusProcessing,
		Progress:   0,
		Message:    "queued",
		StartedAt:  now,
		UpdatedAt:  now,
	}
	s.jobs[id] = j
	return *j, true
}

// Get returns a snapshot of the job for id.
func (s *Store) Get(id uuid.UUID) (entity.ProcessingJob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return entity.ProcessingJob{}, false
	}
	return *j, true
}

// Progress updates the active job's progress and message. Terminal jobs are
// left untouched.
func (s *Store) Progress(id uuid.UUID, pct float64, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.Status.Terminal() {
		return
	}
	j.Progress = pct
	j.Message = message
	j.UpdatedAt = time.Now().UTC()
}

// Complete marks the job done and attaches the extracted record.
func (s *Store) Complete(id uuid.UUID, rec *entity.InvoiceJSON, method constants.ExtractionMethod, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return
	}
	j.Status = constants.JobStatusCompleted
	j.Progress = 100
	j.Message = message
	j.Error = ""
	j.Record = rec
	j.Method = method
	j.UpdatedAt = time.Now().UTC()
}

// Fail marks the job as errored with a terminal message.
func (s *Store) Fail(id uuid.UUID, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return
	}
	j.Status = constants.JobStatusError
	j.Error = errMsg
	j.UpdatedAt = time.Now().UTC()
}

// Pending registers a document that has been uploaded but not yet processed.
// Existing jobs are preserved.
func (s *Store) Pending(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; ok {
		return
	}
	now := time.Now().UTC()
	s.jobs[id] = &entity.ProcessingJob{
		DocumentID: id,
		Status:     constants.JobStatusPending,
		Message:    "uploaded",
		StartedAt:  now,
		UpdatedAt:  now,
	}
}
