// Package pipeline assembles the personalization context an interview is
// conducted with: the candidate's profile summary and snippets retrieved
// from their context index, cached per session.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/rehearse/internal/cache"
	"github.com/kalambet/rehearse/internal/interview"
	"github.com/kalambet/rehearse/internal/metrics"
	"github.com/kalambet/rehearse/internal/profile"
)

const (
	DefaultTopK             = 5
	DefaultDriftThreshold   = 0.2
	DefaultContextTTL       = 2 * time.Hour
	DefaultRetrievalTimeout = 10 * time.Second
)

// ContextRetriever is satisfied by *retrieval.Retriever.
type ContextRetriever interface {
	Retrieve(ctx context.Context, candidateID, query string, topK int) ([]interview.Snippet, error)
}

// ProfileSource is satisfied by *profile.Manager.
type ProfileSource interface {
	Get(ctx context.Context, candidateID string) (interview.CandidateProfile, error)
}

// Reranker is satisfied by the reranking package.
type Reranker interface {
	Rerank(ctx context.Context, focus string, snippets []interview.Snippet, topK int) []interview.Snippet
}

// Context is what the interviewer knows about the candidate.
type Context struct {
	Query          string              `json:"query"`
	Keywords       []string            `json:"keywords"`
	Snippets       []interview.Snippet `json:"snippets"`
	ProfileSummary string              `json:"profile_summary,omitempty"`
	CandidateName  string              `json:"candidate_name,omitempty"`
	// Profile is nil when the candidate has none.
	Profile *interview.CandidateProfile `json:"profile,omitempty"`
}

// Metadata captures diagnostics about one personalization step.
type Metadata struct {
	CacheHit   bool
	Drifted    bool
	Retrieved  bool
	Overlap    float64
	DurationMs int64
}

// Personalizer builds and caches per-session Contexts. Every failure
// degrades to less context; personalization never blocks an interview.
type Personalizer struct {
	retriever        ContextRetriever
	reranker         Reranker
	profiles         ProfileSource
	cache            cache.Cache
	topK             int
	driftThreshold   float64
	ttl              time.Duration
	retrievalTimeout time.Duration
	logger           *slog.Logger
}

type Option func(*Personalizer)

func WithTopK(k int) Option {
	return func(p *Personalizer) {
		if k > 0 {
			p.topK = k
		}
	}
}

// WithDriftThreshold sets the keyword overlap below which an answer counts
// as a topic change.
func WithDriftThreshold(t float64) Option {
	return func(p *Personalizer) {
		if t > 0 {
			p.driftThreshold = t
		}
	}
}

func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(p *Personalizer) {
		p.cache = c
		if ttl > 0 {
			p.ttl = ttl
		}
	}
}

func WithRetrievalTimeout(d time.Duration) Option {
	return func(p *Personalizer) {
		if d > 0 {
			p.retrievalTimeout = d
		}
	}
}

// WithReranker over-fetches twice topK snippets and lets r pick the best.
func WithReranker(r Reranker) Option { return func(p *Personalizer) { p.reranker = r } }

func WithLogger(l *slog.Logger) Option { return func(p *Personalizer) { p.logger = l } }

func NewPersonalizer(r ContextRetriever, profiles ProfileSource, opts ...Option) *Personalizer {
	p := &Personalizer{
		retriever:        r,
		profiles:         profiles,
		cache:            cache.NewMemory(4096),
		topK:             DefaultTopK,
		driftThreshold:   DefaultDriftThreshold,
		ttl:              DefaultContextTTL,
		retrievalTimeout: DefaultRetrievalTimeout,
		logger:           slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Query builds the retrieval query for a session configuration.
func Query(cfg interview.SessionConfig) string {
	parts := []string{cfg.Type.Label(), "interview preparation", cfg.RoleContext, cfg.CompanyContext}
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}

// Prepare builds the initial context for a new session and caches it.
func (p *Personalizer) Prepare(ctx context.Context, sessionID, candidateID string, cfg interview.SessionConfig) (c Context, meta Metadata) {
	start := time.Now()
	defer func() { meta.DurationMs = time.Since(start).Milliseconds() }()

	c = p.loadProfile(ctx, candidateID)
	c.Query = Query(cfg)
	c.Keywords = Keywords(c.Query)
	c.Snippets = p.retrieve(ctx, sessionID, candidateID, c.Query)
	meta.Retrieved = true

	p.store(ctx, sessionID, c)
	return c, meta
}

// ForAnswer returns the context for generating the question after answer.
// Cached snippets are reused unless the answer shares too few keywords with
// the cached topic and the question it responds to; then the index is
// queried again with the answer's keywords.
func (p *Personalizer) ForAnswer(ctx context.Context, s interview.Session, answer, question string) (c Context, meta Metadata) {
	start := time.Now()
	defer func() { meta.DurationMs = time.Since(start).Milliseconds() }()

	if err := cache.GetJSON(ctx, p.cache, contextKey(s.ID), &c); err == nil {
		meta.CacheHit = true
	} else {
		if !errors.Is(err, cache.ErrMiss) {
			p.logger.Warn("context cache read failed", "session_id", s.ID, "error", err)
		}
		c = p.loadProfile(ctx, s.CandidateID)
		c.Query = Query(s.Config)
		c.Keywords = Keywords(c.Query)
	}

	topic := append(append([]string(nil), c.Keywords...), Keywords(question)...)
	drifted, overlap, answerKeywords := Drifted(answer, topic, p.driftThreshold)
	meta.Overlap = overlap

	switch {
	case !meta.CacheHit:
		c.Snippets = p.retrieve(ctx, s.ID, s.CandidateID, c.Query)
		meta.Retrieved = true
	case drifted:
		meta.Drifted = true
		c.Query = driftQuery(s.Config, answerKeywords)
		c.Keywords = Keywords(c.Query)
		c.Snippets = p.retrieve(ctx, s.ID, s.CandidateID, c.Query)
		meta.Retrieved = true
		p.logger.Debug("topic drift, context refreshed", "session_id", s.ID, "overlap", overlap, "query", c.Query)
	}

	if meta.Retrieved {
		p.store(ctx, s.ID, c)
	}
	return c, meta
}

// Forget drops a session's cached context.
func (p *Personalizer) Forget(ctx context.Context, sessionID string) {
	if err := p.cache.Delete(ctx, contextKey(sessionID)); err != nil {
		p.logger.Warn("context cache delete failed", "session_id", sessionID, "error", err)
	}
}

// Profile returns the candidate's profile, or nil when there is none.
func (p *Personalizer) Profile(ctx context.Context, candidateID string) *interview.CandidateProfile {
	return p.loadProfile(ctx, candidateID).Profile
}

func (p *Personalizer) loadProfile(ctx context.Context, candidateID string) Context {
	var c Context
	if p.profiles == nil {
		return c
	}
	prof, err := p.profiles.Get(ctx, candidateID)
	if err != nil {
		if !errors.Is(err, interview.ErrProfileNotFound) {
			p.logger.Warn("personalization: failed to load profile", "candidate_id", candidateID, "error", err)
		}
		return c
	}
	c.Profile = &prof
	c.ProfileSummary = profile.Summarize(prof)
	c.CandidateName = prof.Name
	return c
}

func (p *Personalizer) retrieve(ctx context.Context, sessionID, candidateID, query string) []interview.Snippet {
	if p.retriever == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, p.retrievalTimeout)
	defer cancel()

	k := p.topK
	if p.reranker != nil {
		k *= 2
	}
	snippets, err := p.retriever.Retrieve(ctx, candidateID, query, k)
	if err != nil {
		p.logger.Warn("personalization: retrieval failed, continuing without snippets", "session_id", sessionID, "error", err)
		metrics.Fallbacks.WithLabelValues("retrieval", "error").Inc()
		return nil
	}
	if p.reranker != nil {
		snippets = p.reranker.Rerank(ctx, query, snippets, p.topK)
	}
	return snippets
}

func (p *Personalizer) store(ctx context.Context, sessionID string, c Context) {
	if err := cache.SetJSON(ctx, p.cache, contextKey(sessionID), c, p.ttl); err != nil {
		p.logger.Warn("context cache write failed", "session_id", sessionID, "error", err)
	}
}

func contextKey(sessionID string) string {
	return "context:" + sessionID
}

func driftQuery(cfg interview.SessionConfig, answerKeywords []string) string {
	if len(answerKeywords) > 6 {
		answerKeywords = answerKeywords[:6]
	}
	return fmt.Sprintf("%s %s", Query(cfg), strings.Join(answerKeywords, " "))
}
