package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kalambet/rehearse/internal/extract"
	"github.com/kalambet/rehearse/internal/interview"
	"github.com/kalambet/rehearse/internal/metrics"
	"github.com/kalambet/rehearse/internal/orchestrator"
)

// Interviews is the session surface served over HTTP and MCP.
type Interviews interface {
	Start(ctx context.Context, candidateID string, cfg interview.SessionConfig) (orchestrator.StartResult, error)
	SubmitAnswer(ctx context.Context, sessionID string, in orchestrator.AnswerInput) (orchestrator.AnswerResult, error)
	Resume(ctx context.Context, sessionID string) (orchestrator.AnswerResult, error)
	Complete(ctx context.Context, sessionID string) (interview.Assessment, error)
	Assess(ctx context.Context, sessionID string) (interview.Assessment, error)
	Abandon(ctx context.Context, sessionID string) (interview.SessionSummary, error)
	GetSession(ctx context.Context, sessionID string) (interview.Session, error)
	ListSessions(ctx context.Context, candidateID string, p orchestrator.Page) ([]interview.SessionSummary, error)
}

// Profiles reads and writes candidate profiles.
type Profiles interface {
	Get(ctx context.Context, candidateID string) (interview.CandidateProfile, error)
	Save(ctx context.Context, p interview.CandidateProfile) (interview.CandidateProfile, error)
	SetField(ctx context.Context, candidateID, key, raw string) error
}

// ContextSearcher searches a candidate's indexed background.
type ContextSearcher interface {
	Retrieve(ctx context.Context, candidateID, query string, topK int) ([]interview.Snippet, error)
}

// ReindexQueue schedules a rebuild of a candidate's context index.
type ReindexQueue interface {
	ProfileChanged(ctx context.Context, candidateID string) error
}

// ResumeExtractor reads profile fields out of résumé text.
type ResumeExtractor interface {
	Extract(ctx context.Context, text string) (extract.Fields, error)
}

type Deps struct {
	Interviews Interviews
	Profiles   Profiles
	Context    ContextSearcher // optional; context search answers 503 when nil
	Reindex    ReindexQueue    // optional; reindex answers 503 when nil
	Extractor  ResumeExtractor // optional; résumé uploads skip extraction when nil
	Token      string
}

// NewHandler returns the HTTP API. /health is public; every other route
// requires the bearer token.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Handle("/metrics", promhttp.Handler())

		r.Route("/profiles/{candidateID}", func(r chi.Router) {
			r.Get("/", handleGetProfile(deps))
			r.Put("/", handlePutProfile(deps))
			r.Patch("/", handlePatchProfile(deps))
			r.Post("/resume", handleUploadResume(deps))
			r.Post("/reindex", handleReindex(deps))
			r.Get("/context", handleSearchContext(deps))
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", handleStartSession(deps))
			r.Get("/", handleListSessions(deps))
			r.Get("/{sessionID}", handleGetSession(deps))
			r.Post("/{sessionID}/answers", handleSubmitAnswer(deps))
			r.Post("/{sessionID}/resume", handleResumeSession(deps))
			r.Post("/{sessionID}/complete", handleCompleteSession(deps))
			r.Post("/{sessionID}/assess", handleAssessSession(deps))
			r.Post("/{sessionID}/abandon", handleAbandonSession(deps))
		})
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
