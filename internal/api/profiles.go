package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/rehearse/internal/extract"
	"github.com/kalambet/rehearse/internal/ingest"
	"github.com/kalambet/rehearse/internal/interview"
	"github.com/kalambet/rehearse/internal/profile"
)

// maxUploadSize leaves room for multipart framing around the largest résumé.
const maxUploadSize = ingest.MaxResumeBytes + 1<<20

const (
	defaultContextLimit = 5
	maxContextLimit     = 20
)

func handleGetProfile(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := deps.Profiles.Get(r.Context(), chi.URLParam(r, "candidateID"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func handlePutProfile(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var p interview.CandidateProfile
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			httpError(w, http.StatusBadRequest, "validation_error", "invalid request body: %v", err)
			return
		}
		// The path names the candidate; a body candidate_id is ignored.
		p.CandidateID = chi.URLParam(r, "candidateID")

		saved, err := deps.Profiles.Save(r.Context(), p)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, saved)
	}
}

func handlePatchProfile(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var body struct {
			Key   string `json:"key"`
			Value string `json:"value"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			httpError(w, http.StatusBadRequest, "validation_error", "invalid request body: %v", err)
			return
		}
		if body.Key == "" {
			httpError(w, http.StatusBadRequest, "validation_error", "key is required (one of %s)", strings.Join(profile.ValidKeys(), ", "))
			return
		}

		candidateID := chi.URLParam(r, "candidateID")
		if err := deps.Profiles.SetField(r.Context(), candidateID, body.Key, body.Value); err != nil {
			writeError(w, err)
			return
		}
		p, err := deps.Profiles.Get(r.Context(), candidateID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

// handleUploadResume accepts a PDF or plain-text résumé either as the
// multipart field "file" or as the raw request body.
func handleUploadResume(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)

		data, err := readUpload(r)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				httpError(w, http.StatusRequestEntityTooLarge, "validation_error", "resume exceeds %d bytes", ingest.MaxResumeBytes)
				return
			}
			httpError(w, http.StatusBadRequest, "validation_error", "reading upload: %v", err)
			return
		}

		text, err := ingest.ResumeText(data)
		if err != nil {
			writeError(w, err)
			return
		}

		candidateID := chi.URLParam(r, "candidateID")
		if err := deps.Profiles.SetField(r.Context(), candidateID, profile.KeyResumeText, text); err != nil {
			writeError(w, err)
			return
		}

		filled := []string{}
		if deps.Extractor != nil && r.URL.Query().Get("extract") == "true" {
			filled, err = fillFromResume(r, deps, candidateID, text)
			if err != nil {
				writeError(w, err)
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"candidate_id": candidateID,
			"characters":   utf8.RuneCountInString(text),
			"status":       "stored",
			"filled":       filled,
		})
	}
}

// fillFromResume copies fields the model finds in the résumé into empty
// profile fields. A failed extraction leaves the profile as it is.
func fillFromResume(r *http.Request, deps Deps, candidateID, text string) ([]string, error) {
	fields, err := deps.Extractor.Extract(r.Context(), text)
	if err != nil {
		slog.Warn("résumé extraction failed", "candidate_id", candidateID, "error", err)
		return []string{}, nil
	}
	p, err := deps.Profiles.Get(r.Context(), candidateID)
	if err != nil {
		return nil, err
	}
	merged, filled := extract.Merge(p, fields)
	if len(filled) == 0 {
		return []string{}, nil
	}
	if _, err := deps.Profiles.Save(r.Context(), merged); err != nil {
		return nil, err
	}
	return filled, nil
}

func readUpload(r *http.Request) ([]byte, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		return io.ReadAll(r.Body)
	}
	f, _, err := r.FormFile("file")
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func handleReindex(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Reindex == nil {
			httpError(w, http.StatusServiceUnavailable, "dependency_unavailable_error", "reindexing is not configured")
			return
		}
		candidateID := chi.URLParam(r, "candidateID")
		if err := deps.Reindex.ProfileChanged(r.Context(), candidateID); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"candidate_id": candidateID,
			"status":       "queued",
		})
	}
}

func handleSearchContext(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Context == nil {
			httpError(w, http.StatusServiceUnavailable, "dependency_unavailable_error", "context search is not configured")
			return
		}
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		if q == "" {
			httpError(w, http.StatusBadRequest, "validation_error", "q is required")
			return
		}
		limit := parseIntParam(r, "limit", defaultContextLimit, maxContextLimit)
		if limit == 0 {
			limit = defaultContextLimit
		}

		snippets, err := deps.Context.Retrieve(r.Context(), chi.URLParam(r, "candidateID"), q, limit)
		if err != nil {
			writeError(w, err)
			return
		}
		if snippets == nil {
			snippets = []interview.Snippet{}
		}
		writeJSON(w, http.StatusOK, snippets)
	}
}
