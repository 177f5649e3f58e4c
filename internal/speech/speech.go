// Package speech is the client side of the external speech and video
// analysis capability.
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kalambet/rehearse/internal/interview"
	"github.com/kalambet/rehearse/internal/metrics"
)

// ErrDisabled is returned by Disabled.
var ErrDisabled = errors.New("speech analysis is not configured")

// Analyzer turns a recorded answer into speech metrics.
type Analyzer interface {
	Analyze(ctx context.Context, audioRef string, durationSeconds float64) (*interview.SpeechMetrics, error)
}

// Disabled is used when no speech service is configured.
type Disabled struct{}

func (Disabled) Analyze(context.Context, string, float64) (*interview.SpeechMetrics, error) {
	return nil, ErrDisabled
}

// Static returns the same metrics for every recording.
type Static struct {
	Metrics interview.SpeechMetrics
}

func (s Static) Analyze(_ context.Context, audioRef string, durationSeconds float64) (*interview.SpeechMetrics, error) {
	m := s.Metrics
	m.AudioRef = audioRef
	if m.DurationSeconds == 0 {
		m.DurationSeconds = durationSeconds
	}
	return &m, nil
}

// HTTPAnalyzer calls a speech analysis service:
//
//	POST {baseURL}/v1/analyze {"audio_ref": "...", "duration_seconds": 42.5}
//
// The response body is a JSON SpeechMetrics object.
type HTTPAnalyzer struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPAnalyzer creates a client for the service at baseURL.
func NewHTTPAnalyzer(baseURL, apiKey string, timeout time.Duration) *HTTPAnalyzer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPAnalyzer{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type analyzeRequest struct {
	AudioRef        string  `json:"audio_ref"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
}

func (a *HTTPAnalyzer) Analyze(ctx context.Context, audioRef string, durationSeconds float64) (m *interview.SpeechMetrics, err error) {
	start := time.Now()
	defer func() { metrics.ObserveDependency("speech_analyze", start, err) }()

	body, err := json.Marshal(analyzeRequest{AudioRef: audioRef, DurationSeconds: durationSeconds})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating analyze request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("analyze request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("analyze: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var out interview.SpeechMetrics
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding analyze response: %w", err)
	}
	out.AudioRef = audioRef
	if out.DurationSeconds == 0 {
		out.DurationSeconds = durationSeconds
	}
	return &out, nil
}
