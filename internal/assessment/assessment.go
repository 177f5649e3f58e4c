// Package assessment scores a finished interview and writes feedback.
//
// Scores combine rule-based heuristics over the candidate's answers with a
// model rating of the dimensions rules cannot judge. When the model is
// unavailable the rules stand in and the assessment is marked degraded.
package assessment

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/rehearse/internal/cache"
	"github.com/kalambet/rehearse/internal/engine"
	"github.com/kalambet/rehearse/internal/interview"
	"github.com/kalambet/rehearse/internal/metrics"
)

// RubricVersion is stored with every assessment and keys the rating cache.
const RubricVersion = "2025-06"

const (
	DefaultFeedbackTemperature = 0.2
	DefaultRatingTTL           = 7 * 24 * time.Hour
)

// Fallback reasons recorded on degraded assessments.
const (
	ReasonNoAnswers         = "no_answers"
	ReasonRatingUnavailable = "rating_unavailable"
	ReasonRatingInvalid     = "rating_invalid"
	ReasonFeedbackFailed    = "feedback_unavailable"
)

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Engine computes assessments. It is safe for concurrent use.
type Engine struct {
	engine              engine.Engine
	model               string
	cache               cache.Cache
	ratingTTL           time.Duration
	feedbackTemperature float64
	callTimeout         time.Duration
	clock               Clock
	logger              *slog.Logger
}

type Option func(*Engine)

// WithCache shares the rating cache, e.g. a Redis cache across replicas.
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(e *Engine) {
		e.cache = c
		if ttl > 0 {
			e.ratingTTL = ttl
		}
	}
}

func WithClock(c Clock) Option { return func(e *Engine) { e.clock = c } }

func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithCallTimeout bounds the rating call and the feedback call separately,
// so a hung rating still leaves feedback its own budget.
func WithCallTimeout(d time.Duration) Option {
	return func(e *Engine) { e.callTimeout = d }
}

func WithFeedbackTemperature(t float64) Option {
	return func(e *Engine) { e.feedbackTemperature = t }
}

func New(e engine.Engine, model string, opts ...Option) *Engine {
	a := &Engine{
		engine:              e,
		model:               model,
		cache:               cache.NewMemory(1024),
		ratingTTL:           DefaultRatingTTL,
		feedbackTemperature: DefaultFeedbackTemperature,
		clock:               realClock{},
		logger:              slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Assess scores the session. It never fails: dependency problems produce a
// degraded assessment with FallbackReason set. profile may be nil.
func (e *Engine) Assess(ctx context.Context, profile *interview.CandidateProfile, s interview.Session) interview.Assessment {
	a := interview.Assessment{
		SessionID:     s.ID,
		RubricVersion: RubricVersion,
		AssessedAt:    e.clock.Now().UTC(),
	}
	var reasons []string

	f := Extract(s)
	if f.Answers == 0 {
		a.Categories = emptyCategories(s)
		a.Weights = map[interview.Category]float64{}
		a.Feedback = templatedFeedback(s.Config.Type, a.Categories, 0)
		a.Degraded = true
		a.FallbackReason = ReasonNoAnswers
		metrics.Fallbacks.WithLabelValues("assessment", ReasonNoAnswers).Inc()
		metrics.Assessments.WithLabelValues("degraded").Inc()
		return a
	}

	scores := ruleScores(f)
	dims := ratedFor(s.Config.Type)
	rctx, cancel := e.callContext(ctx)
	rated, err := e.rate(rctx, s, profile, dims)
	cancel()
	if err != nil {
		reason := ReasonRatingUnavailable
		if errors.Is(err, ErrInvalidRating) {
			reason = ReasonRatingInvalid
		}
		e.logger.Warn("rating failed, using rule-based estimates", "session_id", s.ID, "error", err)
		metrics.Fallbacks.WithLabelValues("rating", reason).Inc()
		reasons = append(reasons, reason)
		for _, d := range dims {
			scores[d] = estimate(d, f)
		}
	} else {
		for d, v := range rated {
			scores[d] = v
		}
	}
	scores[DimVerbalCommunication] = (scores[DimClarity] + scores[DimConfidence] + scores[DimPace]) / 3

	a.Categories = categorize(s, f, scores)
	a.Overall, a.Weights = Aggregate(a.Categories)

	fctx, cancel := e.callContext(ctx)
	fb, err := e.feedback(fctx, s, a.Categories, a.Overall)
	cancel()
	if err != nil {
		e.logger.Warn("feedback generation failed, using template", "session_id", s.ID, "error", err)
		metrics.Fallbacks.WithLabelValues("feedback", ReasonFeedbackFailed).Inc()
		reasons = append(reasons, ReasonFeedbackFailed)
		fb = templatedFeedback(s.Config.Type, a.Categories, a.Overall)
	}
	a.Feedback = fb

	if len(reasons) > 0 {
		a.Degraded = true
		a.FallbackReason = strings.Join(reasons, ",")
		metrics.Assessments.WithLabelValues("degraded").Inc()
	} else {
		metrics.Assessments.WithLabelValues("full").Inc()
	}
	return a
}

func (e *Engine) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.callTimeout)
}

// categorize groups scores into categories. Behavioral dimensions exist only
// for behavioral and general interviews, nonverbal only with video metrics.
func categorize(s interview.Session, f Features, scores map[string]float64) map[interview.Category]interview.CategoryScore {
	cats := map[interview.Category]interview.CategoryScore{}
	for _, c := range []interview.Category{interview.CategoryCommunication, interview.CategoryContent, interview.CategoryBehavioral} {
		if c == interview.CategoryBehavioral && !s.Config.Type.HasBehavioralDimensions() {
			continue
		}
		cs := interview.CategoryScore{Dimensions: map[string]*float64{}}
		for _, d := range Dimensions[c] {
			v := Round1(Clamp(scores[d]))
			cs.Dimensions[d] = &v
		}
		cats[c] = cs
	}
	if s.HasVideoMetrics() {
		cs := interview.CategoryScore{Dimensions: map[string]*float64{
			DimEyeContact:   roundPtr(f.EyeContact),
			DimBodyLanguage: roundPtr(f.BodyLanguage),
			DimEngagement:   roundPtr(f.Engagement),
		}}
		cats[interview.CategoryNonVerbal] = cs
	}
	return cats
}

// emptyCategories lists the applicable categories with every score nil.
func emptyCategories(s interview.Session) map[interview.Category]interview.CategoryScore {
	cats := map[interview.Category]interview.CategoryScore{}
	for _, c := range []interview.Category{interview.CategoryCommunication, interview.CategoryContent, interview.CategoryBehavioral} {
		if c == interview.CategoryBehavioral && !s.Config.Type.HasBehavioralDimensions() {
			continue
		}
		cs := interview.CategoryScore{Dimensions: map[string]*float64{}}
		for _, d := range Dimensions[c] {
			cs.Dimensions[d] = nil
		}
		cats[c] = cs
	}
	return cats
}

func roundPtr(v *float64) *float64 {
	if v == nil {
		return nil
	}
	r := Round1(Clamp(*v))
	return &r
}
