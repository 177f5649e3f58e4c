// Package orchestrator runs the interview workflow: it starts sessions,
// ingests answers, decides when an interview ends and hands finished
// sessions to the assessment engine.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/rehearse/internal/analyzer"
	"github.com/kalambet/rehearse/internal/composer"
	"github.com/kalambet/rehearse/internal/dialogue"
	"github.com/kalambet/rehearse/internal/events"
	"github.com/kalambet/rehearse/internal/interview"
	"github.com/kalambet/rehearse/internal/pipeline"
	"github.com/kalambet/rehearse/internal/ratelimit"
	"github.com/kalambet/rehearse/internal/speech"
	"github.com/kalambet/rehearse/internal/storage"
)

// SessionStore persists sessions. Satisfied by *storage.Store.
type SessionStore interface {
	CreateSession(ctx context.Context, sess interview.Session) error
	SaveProgress(ctx context.Context, sess interview.Session, newTurns []interview.Turn) error
	GetSession(ctx context.Context, id string) (interview.Session, error)
	ListSessions(ctx context.Context, candidateID string, limit, offset int) ([]interview.SessionSummary, error)
}

// Interviewer produces the interviewer's utterances. Satisfied by
// *dialogue.Policy.
type Interviewer interface {
	Opening(ctx context.Context, sessionID string, prof *interview.CandidateProfile, b composer.Brief) (dialogue.Utterance, error)
	Next(ctx context.Context, b composer.Brief, turns []interview.Turn) (dialogue.Utterance, error)
}

// Assessor scores sessions. Satisfied by *assessment.Engine.
type Assessor interface {
	Assess(ctx context.Context, profile *interview.CandidateProfile, s interview.Session) interview.Assessment
}

// Config holds the interview policy.
type Config struct {
	MaxQuestions int
	EndPhrases   []string
	// CallTimeout bounds each dependency call including its retries.
	CallTimeout time.Duration
	// AssessTimeout bounds scoring a session. Zero means two call timeouts.
	AssessTimeout time.Duration
	// StoreTimeout bounds a single write made after a dependency call.
	StoreTimeout time.Duration
}

const (
	DefaultCallTimeout  = 2 * time.Minute
	DefaultStoreTimeout = 10 * time.Second
	DefaultPageLimit    = 20
	MaxPageLimit        = 100
)

// Deps are the collaborators of an Orchestrator. Store, Interviewer,
// Personalizer and Assessor are required.
type Deps struct {
	Store        SessionStore
	Interviewer  Interviewer
	Personalizer *pipeline.Personalizer
	Assessor     Assessor
	Composer     *composer.Composer
	Speech       speech.Analyzer
	Limiter      ratelimit.Limiter
	Events       events.Sink
	Logger       *slog.Logger
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Orchestrator is safe for concurrent use. Operations on one session are
// serialized; different sessions proceed in parallel.
type Orchestrator struct {
	store        SessionStore
	interviewer  Interviewer
	personalizer *pipeline.Personalizer
	assessor     Assessor
	composer     *composer.Composer
	speech       speech.Analyzer
	limiter      ratelimit.Limiter
	events       events.Sink
	analyzer     *analyzer.Analyzer
	cfg          Config
	locks        *keyedMutex
	clock        Clock
	newID        func() string
	logger       *slog.Logger
}

func New(d Deps, cfg Config) *Orchestrator {
	if cfg.MaxQuestions <= 0 {
		cfg.MaxQuestions = interview.DefaultMaxQuestions
	}
	if len(cfg.EndPhrases) == 0 {
		cfg.EndPhrases = interview.DefaultEndPhrases
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.AssessTimeout <= 0 {
		cfg.AssessTimeout = 2 * cfg.CallTimeout
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DefaultStoreTimeout
	}
	o := &Orchestrator{
		store:        d.Store,
		interviewer:  d.Interviewer,
		personalizer: d.Personalizer,
		assessor:     d.Assessor,
		composer:     d.Composer,
		speech:       d.Speech,
		limiter:      d.Limiter,
		events:       d.Events,
		analyzer:     analyzer.New(),
		cfg:          cfg,
		locks:        newKeyedMutex(),
		clock:        realClock{},
		newID:        uuid.NewString,
		logger:       d.Logger,
	}
	if o.composer == nil {
		o.composer = composer.New(0)
	}
	if o.speech == nil {
		o.speech = speech.Disabled{}
	}
	if o.limiter == nil {
		o.limiter = ratelimit.Unlimited{}
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// detach keeps dependency calls and writes alive when the caller goes away,
// so a session is never left half-written. The returned context is bounded
// by the call timeout.
func (o *Orchestrator) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), o.cfg.CallTimeout)
}

// storeContext is a fresh detached context for a write that follows a
// dependency call, whatever budget that call used up.
func (o *Orchestrator) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), o.cfg.StoreTimeout)
}

func (o *Orchestrator) load(ctx context.Context, op, id string) (interview.Session, error) {
	if id == "" {
		return interview.Session{}, interview.Validation(op, "session id is required")
	}
	s, err := o.store.GetSession(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return interview.Session{}, interview.NotFound(op, interview.ErrSessionNotFound)
	}
	if err != nil {
		return interview.Session{}, err
	}
	return s, nil
}

// transition moves s to the next workflow state.
func transition(s *interview.Session, to interview.State) {
	if !interview.CanTransition(s.State, to) {
		slog.Debug("unexpected state transition", "session_id", s.ID, "from", s.State, "to", to)
	}
	s.State = to
}

func (o *Orchestrator) termination() interview.TerminationPolicy {
	return interview.TerminationPolicy{EndPhrases: o.cfg.EndPhrases}
}

func (o *Orchestrator) brief(s interview.Session, pc pipeline.Context) composer.Brief {
	return composer.Brief{
		Config:         s.Config,
		ProfileSummary: pc.ProfileSummary,
		Snippets:       pc.Snippets,
		QuestionsAsked: s.QuestionCount,
		MaxQuestions:   s.Config.MaxQuestions,
	}
}

// emit delivers an event best-effort.
func (o *Orchestrator) emit(fn func(events.Sink) error) {
	if o.events == nil {
		return
	}
	if err := fn(o.events); err != nil {
		o.logger.Warn("event delivery failed", "error", err)
	}
}
