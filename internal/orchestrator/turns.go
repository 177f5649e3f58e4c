package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kalambet/rehearse/internal/interview"
	"github.com/kalambet/rehearse/internal/metrics"
	"github.com/kalambet/rehearse/internal/storage"
)

// StartResult is returned by Start.
type StartResult struct {
	SessionID      string          `json:"session_id"`
	OpeningMessage string          `json:"opening_message"`
	Status         interview.Status `json:"status"`
	State          interview.State  `json:"state"`
	QuestionCount  int             `json:"question_count"`
	// Templated is set when the opening came from the question bank.
	Templated bool `json:"templated"`
}

// AnswerInput is one candidate answer.
type AnswerInput struct {
	Text   string                   `json:"text"`
	Speech *interview.SpeechMetrics `json:"speech,omitempty"`
	// AudioRef points at a recording the speech analyzer can fetch. It is
	// analyzed only when Speech is nil.
	AudioRef             string  `json:"audio_ref,omitempty"`
	AudioDurationSeconds float64 `json:"audio_duration_seconds,omitempty"`
}

// AnswerResult is returned by SubmitAnswer and Resume.
type AnswerResult struct {
	SessionID string `json:"session_id"`
	// Message is the next question or the closing remark; empty when the
	// interview is ready to complete without one or generation failed.
	Message         string                  `json:"message,omitempty"`
	Kind            interview.TurnKind      `json:"kind,omitempty"`
	QuestionCount   int                     `json:"question_count"`
	Status          interview.Status        `json:"status"`
	State           interview.State         `json:"state"`
	ReadyToComplete bool                    `json:"ready_to_complete"`
	Analysis        *interview.TurnAnalysis `json:"analysis,omitempty"`
	// GenerationError reports a failed follow-up question. The answer
	// itself was stored; Resume retries the generation.
	GenerationError string `json:"generation_error,omitempty"`
	Retryable       bool   `json:"retryable,omitempty"`
}

// Start opens a new interview for candidateID.
func (o *Orchestrator) Start(ctx context.Context, candidateID string, cfg interview.SessionConfig) (StartResult, error) {
	const op = "start interview"
	candidateID = strings.TrimSpace(candidateID)
	if candidateID == "" {
		return StartResult{}, interview.Validation(op, "candidate id is required")
	}
	if !cfg.Type.Valid() {
		return StartResult{}, interview.Validation(op, "unknown interview type %q", cfg.Type)
	}
	if cfg.Difficulty != "" && !cfg.Difficulty.Valid() {
		return StartResult{}, interview.Validation(op, "unknown difficulty %q", cfg.Difficulty)
	}
	if cfg.MaxQuestions < 0 {
		return StartResult{}, interview.Validation(op, "max questions must not be negative")
	}

	allowed, err := o.limiter.Allow(ctx, candidateID)
	if err != nil {
		o.logger.Warn("rate limiter unavailable, allowing request", "candidate_id", candidateID, "error", err)
		allowed = true
	}
	if !allowed {
		metrics.RateLimited.Inc()
		return StartResult{}, interview.Validation(op, "%w", interview.ErrRateLimited)
	}

	dctx, cancel := o.detach(ctx)
	defer cancel()

	id := o.newID()
	pc, meta := o.personalizer.Prepare(dctx, id, candidateID, cfg)

	if cfg.Difficulty == "" {
		cfg.Difficulty = interview.DifficultyMedium
		if pc.Profile != nil && pc.Profile.PreferredDifficulty.Valid() {
			cfg.Difficulty = pc.Profile.PreferredDifficulty
		}
	}
	if cfg.MaxQuestions == 0 {
		cfg.MaxQuestions = o.cfg.MaxQuestions
	}

	now := o.clock.Now().UTC()
	s := interview.Session{
		ID:          id,
		CandidateID: candidateID,
		Config:      cfg,
		Status:      interview.StatusActive,
		State:       interview.StatePreparing,
		CreatedAt:   now,
	}
	transition(&s, interview.StateAsking)

	u, err := o.interviewer.Opening(dctx, id, pc.Profile, o.brief(s, pc))
	if err != nil {
		o.personalizer.Forget(dctx, id)
		return StartResult{}, interview.Unavailable(op, err)
	}

	s.Turns = []interview.Turn{{
		Seq:       0,
		Role:      interview.RoleInterviewer,
		Kind:      interview.KindOpening,
		Content:   u.Text,
		CreatedAt: now,
	}}
	transition(&s, interview.StateAwaitingAnswer)

	if err := o.store.CreateSession(dctx, s); err != nil {
		o.personalizer.Forget(dctx, id)
		return StartResult{}, fmt.Errorf("%s: %w", op, err)
	}

	metrics.Sessions.WithLabelValues("started").Inc()
	metrics.Turns.WithLabelValues(string(interview.KindOpening)).Inc()
	o.logger.Info("interview started",
		"session_id", id,
		"candidate_id", candidateID,
		"type", cfg.Type,
		"snippets", len(pc.Snippets),
		"templated_opening", u.Templated,
		"personalization_ms", meta.DurationMs,
	)

	return StartResult{
		SessionID:      id,
		OpeningMessage: u.Text,
		Status:         s.Status,
		State:          s.State,
		QuestionCount:  s.QuestionCount,
		Templated:      u.Templated,
	}, nil
}

// SubmitAnswer records the candidate's answer and asks the next question,
// unless the interview should end. The answer is stored before any
// dependency is called; a failed follow-up is reported in the result, not
// as an error.
func (o *Orchestrator) SubmitAnswer(ctx context.Context, sessionID string, in AnswerInput) (AnswerResult, error) {
	const op = "submit answer"
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return AnswerResult{}, interview.Validation(op, "answer text is required")
	}

	unlock := o.locks.Lock(sessionID)
	defer unlock()

	dctx, cancel := o.detach(ctx)
	defer cancel()

	s, err := o.load(dctx, op, sessionID)
	if err != nil {
		return AnswerResult{}, err
	}
	if s.Status != interview.StatusActive {
		return AnswerResult{}, interview.StateConflict(op, interview.ErrSessionNotActive)
	}
	switch s.State {
	case interview.StateCompleting:
		return AnswerResult{}, interview.StateConflict(op, interview.ErrReadyToComplete)
	case interview.StateAnalyzing:
		return AnswerResult{}, interview.StateConflict(op, interview.ErrQuestionPending)
	}

	sm := o.speechMetrics(dctx, sessionID, in)
	analysis := o.analyzer.Analyze(text, sm)
	answer := interview.Turn{
		Seq:       len(s.Turns),
		Role:      interview.RoleCandidate,
		Kind:      interview.KindAnswer,
		Content:   text,
		CreatedAt: o.clock.Now().UTC(),
		Speech:    sm,
		Analysis:  &analysis,
	}
	s.Turns = append(s.Turns, answer)
	transition(&s, interview.StateAnalyzing)

	if err := o.store.SaveProgress(dctx, s, []interview.Turn{answer}); err != nil {
		if errors.Is(err, storage.ErrDuplicateTurn) {
			return AnswerResult{}, interview.StateConflict(op, err)
		}
		return AnswerResult{}, fmt.Errorf("%s: storing answer: %w", op, err)
	}
	metrics.Turns.WithLabelValues(string(interview.KindAnswer)).Inc()

	res, err := o.proceed(dctx, &s)
	res.Analysis = &analysis
	return res, err
}

// Resume retries the follow-up question for a session whose last
// generation failed.
func (o *Orchestrator) Resume(ctx context.Context, sessionID string) (AnswerResult, error) {
	const op = "resume interview"
	unlock := o.locks.Lock(sessionID)
	defer unlock()

	dctx, cancel := o.detach(ctx)
	defer cancel()

	s, err := o.load(dctx, op, sessionID)
	if err != nil {
		return AnswerResult{}, err
	}
	if s.Status != interview.StatusActive {
		return AnswerResult{}, interview.StateConflict(op, interview.ErrSessionNotActive)
	}
	if last := s.LastTurn(); last == nil || last.Role != interview.RoleCandidate {
		return AnswerResult{}, interview.StateConflict(op, interview.ErrNothingToResume)
	}
	return o.proceed(dctx, &s)
}

// proceed runs after a stored answer: it either marks the session ready to
// complete or generates and stores the next interviewer turn.
func (o *Orchestrator) proceed(ctx context.Context, s *interview.Session) (AnswerResult, error) {
	res := AnswerResult{SessionID: s.ID}

	if interview.DecideNextAction(*s, o.termination()) == interview.ActionComplete {
		transition(s, interview.StateCompleting)
		if err := o.store.SaveProgress(ctx, *s, nil); err != nil {
			return AnswerResult{}, fmt.Errorf("marking session ready to complete: %w", err)
		}
		o.logger.Info("interview ready to complete", "session_id", s.ID, "answers", s.QuestionsAnswered())
		return o.result(res, *s), nil
	}

	answer := s.LastTurn().Content
	question := ""
	for i := len(s.Turns) - 1; i >= 0; i-- {
		if s.Turns[i].Role == interview.RoleInterviewer {
			question = s.Turns[i].Content
			break
		}
	}
	pc, meta := o.personalizer.ForAnswer(ctx, *s, answer, question)
	if meta.Drifted {
		o.logger.Debug("answer drifted from topic", "session_id", s.ID, "overlap", meta.Overlap)
	}

	u, err := o.interviewer.Next(ctx, o.brief(*s, pc), s.Turns)
	if err != nil {
		o.logger.Warn("next question generation failed", "session_id", s.ID, "error", err)
		metrics.Fallbacks.WithLabelValues("next_question", interview.KindOf(err).String()).Inc()
		res = o.result(res, *s)
		res.GenerationError = err.Error()
		res.Retryable = interview.KindOf(err) == interview.KindTransientDependency
		return res, nil
	}

	turn := interview.Turn{
		Seq:       len(s.Turns),
		Role:      interview.RoleInterviewer,
		Kind:      interview.KindQuestion,
		Content:   u.Text,
		CreatedAt: o.clock.Now().UTC(),
	}
	transition(s, interview.StateAsking)
	if u.Complete {
		turn.Kind = interview.KindClosing
		transition(s, interview.StateCompleting)
	} else {
		s.QuestionCount++
		transition(s, interview.StateAwaitingAnswer)
	}
	s.Turns = append(s.Turns, turn)

	if err := o.store.SaveProgress(ctx, *s, []interview.Turn{turn}); err != nil {
		return AnswerResult{}, fmt.Errorf("storing %s: %w", turn.Kind, err)
	}
	metrics.Turns.WithLabelValues(string(turn.Kind)).Inc()

	res = o.result(res, *s)
	res.Message = turn.Content
	res.Kind = turn.Kind
	return res, nil
}

func (o *Orchestrator) result(res AnswerResult, s interview.Session) AnswerResult {
	res.QuestionCount = s.QuestionCount
	res.Status = s.Status
	res.State = s.State
	res.ReadyToComplete = s.State == interview.StateCompleting
	return res
}

// speechMetrics returns the caller's metrics, or asks the speech analyzer
// when only a recording reference was supplied. Analyzer failures leave
// the answer without metrics.
func (o *Orchestrator) speechMetrics(ctx context.Context, sessionID string, in AnswerInput) *interview.SpeechMetrics {
	if in.Speech != nil {
		sm := *in.Speech
		if sm.AudioRef == "" {
			sm.AudioRef = in.AudioRef
		}
		if sm.DurationSeconds == 0 {
			sm.DurationSeconds = in.AudioDurationSeconds
		}
		return &sm
	}
	if in.AudioRef == "" {
		if in.AudioDurationSeconds > 0 {
			return &interview.SpeechMetrics{DurationSeconds: in.AudioDurationSeconds}
		}
		return nil
	}
	sm, err := o.speech.Analyze(ctx, in.AudioRef, in.AudioDurationSeconds)
	if err != nil {
		o.logger.Warn("speech analysis failed", "session_id", sessionID, "error", err)
		metrics.Fallbacks.WithLabelValues("speech_analysis", "error").Inc()
		return &interview.SpeechMetrics{AudioRef: in.AudioRef, DurationSeconds: in.AudioDurationSeconds}
	}
	return sm
}
