// Package ingest keeps each candidate's context index current. It consumes
// reindex jobs from the SQLite job queue and extracts résumé text.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/rehearse/internal/events"
	"github.com/kalambet/rehearse/internal/interview"
	"github.com/kalambet/rehearse/internal/metrics"
	"github.com/kalambet/rehearse/internal/retrieval"
	"github.com/kalambet/rehearse/internal/storage"
)

// RecentSessions is how many completed sessions feed a candidate's index.
const RecentSessions = 10

// JobStore abstracts the job queue operations.
type JobStore interface {
	ClaimNextJob(ctx context.Context, types []string) (*storage.Job, error)
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id string, errMsg string) error
}

// SessionSource lists a candidate's finished sessions.
type SessionSource interface {
	RecentCompletedSessions(ctx context.Context, candidateID string, limit int) ([]interview.Session, error)
}

// ProfileSource is satisfied by *profile.Manager.
type ProfileSource interface {
	Get(ctx context.Context, candidateID string) (interview.CandidateProfile, error)
}

// IndexBuilder is satisfied by *retrieval.Indexer.
type IndexBuilder interface {
	Rebuild(ctx context.Context, candidateID string, docs []retrieval.Document) (int, error)
}

// Worker processes reindex_candidate jobs from the SQLite job queue.
type Worker struct {
	jobs     JobStore
	sessions SessionSource
	profiles ProfileSource
	index    IndexBuilder
	poll     time.Duration
	logger   *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(jobs JobStore, sessions SessionSource, profiles ProfileSource, index IndexBuilder, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		jobs:     jobs,
		sessions: sessions,
		profiles: profiles,
		index:    index,
		poll:     pollInterval,
		logger:   slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single reindex job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.jobs.ClaimNextJob(ctx, []string{events.JobReindexCandidate})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "attempt", job.Attempts+1, "error", err)
		metrics.Jobs.WithLabelValues(job.Type, "failed").Inc()
		if failErr := w.jobs.FailJob(ctx, job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.jobs.CompleteJob(ctx, job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	metrics.Jobs.WithLabelValues(job.Type, "completed").Inc()
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload events.ReindexPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}
	if payload.CandidateID == "" {
		return errors.New("payload has no candidate_id")
	}
	n, err := w.Reindex(ctx, payload.CandidateID)
	if err != nil {
		return err
	}
	w.logger.Info("candidate reindexed", "candidate_id", payload.CandidateID, "records", n)
	return nil
}

// Reindex rebuilds the candidate's context index from their profile, résumé
// and recent sessions. A candidate without a profile is indexed from
// sessions alone.
func (w *Worker) Reindex(ctx context.Context, candidateID string) (int, error) {
	var p *interview.CandidateProfile
	got, err := w.profiles.Get(ctx, candidateID)
	switch {
	case err == nil:
		p = &got
	case errors.Is(err, interview.ErrProfileNotFound):
	default:
		return 0, fmt.Errorf("loading profile %s: %w", candidateID, err)
	}

	sessions, err := w.sessions.RecentCompletedSessions(ctx, candidateID, RecentSessions)
	if err != nil {
		return 0, fmt.Errorf("loading sessions for %s: %w", candidateID, err)
	}

	n, err := w.index.Rebuild(ctx, candidateID, Documents(p, sessions))
	if err != nil {
		return 0, fmt.Errorf("rebuilding index for %s: %w", candidateID, err)
	}
	return n, nil
}
