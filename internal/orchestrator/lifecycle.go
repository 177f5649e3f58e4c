package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/kalambet/rehearse/internal/events"
	"github.com/kalambet/rehearse/internal/interview"
	"github.com/kalambet/rehearse/internal/metrics"
)

// Page selects a slice of a listing.
type Page struct {
	Limit  int
	Offset int
}

// Complete ends an active session and assesses it. Calling it again on a
// completed session recomputes and overwrites the assessment. The completion
// event is emitted once, when the first assessment is stored.
func (o *Orchestrator) Complete(ctx context.Context, sessionID string) (interview.Assessment, error) {
	const op = "complete interview"
	unlock := o.locks.Lock(sessionID)
	defer unlock()

	dctx, cancel := o.detach(ctx)
	defer cancel()

	s, err := o.load(dctx, op, sessionID)
	if err != nil {
		return interview.Assessment{}, err
	}

	switch s.Status {
	case interview.StatusAbandoned:
		return interview.Assessment{}, interview.StateConflict(op, interview.ErrSessionNotActive)
	case interview.StatusActive:
		now := o.clock.Now().UTC()
		s.Status = interview.StatusCompleted
		s.CompletedAt = &now
		// An assessment taken while active is superseded by the final one.
		s.Assessment = nil
		transition(&s, interview.StateDone)
		// Completion is durable before scoring starts, so a failed
		// assessment can be retried.
		if err := o.store.SaveProgress(dctx, s, nil); err != nil {
			return interview.Assessment{}, fmt.Errorf("%s: %w", op, err)
		}
		metrics.Sessions.WithLabelValues("completed").Inc()
	}

	return o.assess(ctx, op, s)
}

// Assess recomputes the assessment from the full history and overwrites the
// stored one. The session status is left untouched.
func (o *Orchestrator) Assess(ctx context.Context, sessionID string) (interview.Assessment, error) {
	const op = "assess interview"
	unlock := o.locks.Lock(sessionID)
	defer unlock()

	dctx, cancel := o.detach(ctx)
	defer cancel()

	s, err := o.load(dctx, op, sessionID)
	if err != nil {
		return interview.Assessment{}, err
	}
	return o.assess(ctx, op, s)
}

// assess scores s and stores the result. Scoring gets its own budget of two
// dependency calls (rating and feedback) and the write gets a fresh one.
//
// A completed session without an assessment has not been announced yet:
// the completion event goes out with the first assessment stored after
// completion, whichever call stores it.
func (o *Orchestrator) assess(ctx context.Context, op string, s interview.Session) (interview.Assessment, error) {
	announce := s.Status == interview.StatusCompleted && s.Assessment == nil

	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.AssessTimeout)
	a := o.assessor.Assess(actx, o.personalizer.Profile(actx, s.CandidateID), s)
	cancel()

	sctx, cancel := o.storeContext(ctx)
	defer cancel()

	s.Assessment = &a
	if err := o.store.SaveProgress(sctx, s, nil); err != nil {
		return interview.Assessment{}, fmt.Errorf("%s: storing assessment: %w", op, err)
	}
	metrics.Sessions.WithLabelValues("assessed").Inc()

	if announce {
		o.personalizer.Forget(sctx, s.ID)
		completedAt := o.clock.Now().UTC()
		if s.CompletedAt != nil {
			completedAt = *s.CompletedAt
		}
		o.emit(func(sink events.Sink) error {
			return sink.SessionCompleted(sctx, events.SessionCompleted{
				SessionID:   s.ID,
				CandidateID: s.CandidateID,
				Overall:     a.Overall,
				CompletedAt: completedAt,
			})
		})
		o.logger.Info("interview completed", "session_id", s.ID, "candidate_id", s.CandidateID, "overall", a.Overall, "degraded", a.Degraded)
	}
	return a, nil
}

// Abandon ends an active session without assessing it.
func (o *Orchestrator) Abandon(ctx context.Context, sessionID string) (interview.SessionSummary, error) {
	const op = "abandon interview"
	unlock := o.locks.Lock(sessionID)
	defer unlock()

	dctx, cancel := o.detach(ctx)
	defer cancel()

	s, err := o.load(dctx, op, sessionID)
	if err != nil {
		return interview.SessionSummary{}, err
	}
	if s.Status != interview.StatusActive {
		return interview.SessionSummary{}, interview.StateConflict(op, interview.ErrSessionNotActive)
	}
	s.Status = interview.StatusAbandoned
	s.State = interview.StateDone
	if err := o.store.SaveProgress(dctx, s, nil); err != nil {
		return interview.SessionSummary{}, fmt.Errorf("%s: %w", op, err)
	}
	o.personalizer.Forget(dctx, s.ID)
	metrics.Sessions.WithLabelValues("abandoned").Inc()
	o.logger.Info("interview abandoned", "session_id", s.ID, "answers", s.QuestionsAnswered())
	return s.Summary(), nil
}

// GetSession returns a session with its full history.
func (o *Orchestrator) GetSession(ctx context.Context, sessionID string) (interview.Session, error) {
	return o.load(ctx, "get session", sessionID)
}

// ListSessions returns a candidate's sessions, newest first, without turns.
func (o *Orchestrator) ListSessions(ctx context.Context, candidateID string, p Page) ([]interview.SessionSummary, error) {
	const op = "list sessions"
	if strings.TrimSpace(candidateID) == "" {
		return nil, interview.Validation(op, "candidate id is required")
	}
	if p.Limit < 0 || p.Limit > MaxPageLimit {
		return nil, interview.Validation(op, "limit must be between 1 and %d", MaxPageLimit)
	}
	if p.Offset < 0 {
		return nil, interview.Validation(op, "offset must not be negative")
	}
	if p.Limit == 0 {
		p.Limit = DefaultPageLimit
	}
	out, err := o.store.ListSessions(ctx, candidateID, p.Limit, p.Offset)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if out == nil {
		out = []interview.SessionSummary{}
	}
	return out, nil
}
