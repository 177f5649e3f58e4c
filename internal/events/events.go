// Package events announces domain changes that require background work.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/rehearse/internal/storage"
)

// JobReindexCandidate rebuilds a candidate's context index.
const JobReindexCandidate = "reindex_candidate"

// SessionCompleted is emitted once per session when it first completes.
type SessionCompleted struct {
	SessionID   string    `json:"session_id"`
	CandidateID string    `json:"candidate_id"`
	Overall     float64   `json:"overall"`
	CompletedAt time.Time `json:"completed_at"`
}

// Sink receives domain events. Implementations must not block for long;
// callers treat failures as best-effort.
type Sink interface {
	SessionCompleted(ctx context.Context, e SessionCompleted) error
	ProfileChanged(ctx context.Context, candidateID string) error
}

// JobQueue is the subset of storage.Store used by JobSink.
type JobQueue interface {
	EnqueueUniqueJob(ctx context.Context, job storage.Job) (bool, error)
}

// ReindexPayload is the payload of a reindex_candidate job.
type ReindexPayload struct {
	CandidateID string `json:"candidate_id"`
}

// JobSink turns events into reindex jobs. Repeated events for a candidate
// collapse into one pending job.
type JobSink struct {
	queue  JobQueue
	logger *slog.Logger
}

func NewJobSink(q JobQueue, logger *slog.Logger) *JobSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobSink{queue: q, logger: logger}
}

func (s *JobSink) SessionCompleted(ctx context.Context, e SessionCompleted) error {
	s.logger.Info("session completed", "session_id", e.SessionID, "candidate_id", e.CandidateID, "overall", e.Overall)
	return s.enqueueReindex(ctx, e.CandidateID)
}

func (s *JobSink) ProfileChanged(ctx context.Context, candidateID string) error {
	return s.enqueueReindex(ctx, candidateID)
}

func (s *JobSink) enqueueReindex(ctx context.Context, candidateID string) error {
	payload, err := json.Marshal(ReindexPayload{CandidateID: candidateID})
	if err != nil {
		return err
	}
	added, err := s.queue.EnqueueUniqueJob(ctx, storage.Job{
		ID:          uuid.NewString(),
		Type:        JobReindexCandidate,
		PayloadJSON: string(payload),
	})
	if err != nil {
		return fmt.Errorf("enqueueing reindex for %s: %w", candidateID, err)
	}
	if !added {
		s.logger.Debug("reindex already pending", "candidate_id", candidateID)
	}
	return nil
}

// Recorder keeps events in memory. Useful in tests and when no background
// worker runs.
type Recorder struct {
	mu        sync.Mutex
	completed []SessionCompleted
	profiles  []string
}

func (r *Recorder) SessionCompleted(_ context.Context, e SessionCompleted) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, e)
	return nil
}

func (r *Recorder) ProfileChanged(_ context.Context, candidateID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles = append(r.profiles, candidateID)
	return nil
}

// Completed returns a copy of the recorded completion events.
func (r *Recorder) Completed() []SessionCompleted {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]SessionCompleted(nil), r.completed...)
}

// ProfilesChanged returns a copy of the recorded candidate ids.
func (r *Recorder) ProfilesChanged() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.profiles...)
}
