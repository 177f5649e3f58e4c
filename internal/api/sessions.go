package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/rehearse/internal/interview"
	"github.com/kalambet/rehearse/internal/orchestrator"
)

// StartRequest opens an interview for a candidate.
type StartRequest struct {
	CandidateID string `json:"candidate_id"`
	interview.SessionConfig
}

func handleStartSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req StartRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "validation_error", "invalid request body: %v", err)
			return
		}

		res, err := deps.Interviews.Start(r.Context(), req.CandidateID, req.SessionConfig)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, res)
	}
}

func handleListSessions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var page orchestrator.Page
		for _, p := range []struct {
			key string
			dst *int
		}{{"limit", &page.Limit}, {"offset", &page.Offset}} {
			raw := q.Get(p.key)
			if raw == "" {
				continue
			}
			v, err := strconv.Atoi(raw)
			if err != nil {
				httpError(w, http.StatusBadRequest, "validation_error", "%s must be an integer", p.key)
				return
			}
			*p.dst = v
		}

		list, err := deps.Interviews.ListSessions(r.Context(), q.Get("candidate_id"), page)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func handleGetSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := deps.Interviews.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s)
	}
}

func handleSubmitAnswer(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var in orchestrator.AnswerInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			httpError(w, http.StatusBadRequest, "validation_error", "invalid request body: %v", err)
			return
		}

		res, err := deps.Interviews.SubmitAnswer(r.Context(), chi.URLParam(r, "sessionID"), in)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleResumeSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := deps.Interviews.Resume(r.Context(), chi.URLParam(r, "sessionID"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleCompleteSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := deps.Interviews.Complete(r.Context(), chi.URLParam(r, "sessionID"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, a)
	}
}

func handleAssessSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := deps.Interviews.Assess(r.Context(), chi.URLParam(r, "sessionID"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, a)
	}
}

func handleAbandonSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sum, err := deps.Interviews.Abandon(r.Context(), chi.URLParam(r, "sessionID"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sum)
	}
}
