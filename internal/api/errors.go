package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/kalambet/rehearse/internal/interview"
)

const maxRequestBodySize = 1 << 20 // 1MB

// retryAfterSeconds is advertised on 503 responses for transient failures.
const retryAfterSeconds = "5"

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encoding response", "error", err)
	}
}

// writeError maps a domain error onto an HTTP status.
func writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, interview.ErrRateLimited) {
		w.Header().Set("Retry-After", "60")
		httpError(w, http.StatusTooManyRequests, "rate_limit_error", "%v", err)
		return
	}

	kind := interview.KindOf(err)
	switch kind {
	case interview.KindValidation:
		httpError(w, http.StatusBadRequest, kind.String(), "%v", err)
	case interview.KindNotFound:
		httpError(w, http.StatusNotFound, kind.String(), "%v", err)
	case interview.KindStateConflict:
		httpError(w, http.StatusConflict, kind.String(), "%v", err)
	case interview.KindTransientDependency:
		w.Header().Set("Retry-After", retryAfterSeconds)
		httpError(w, http.StatusServiceUnavailable, kind.String(), "%v", err)
	case interview.KindDependencyUnavailable:
		httpError(w, http.StatusServiceUnavailable, kind.String(), "%v", err)
	default:
		slog.Error("request failed", "error", err)
		httpError(w, http.StatusInternalServerError, kind.String(), "internal error")
	}
}
