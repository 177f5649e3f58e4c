package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/manifoldco/promptui"

	"github.com/kalambet/rehearse/internal/api"
	"github.com/kalambet/rehearse/internal/config"
	"github.com/kalambet/rehearse/internal/engine/enginetest"
	"github.com/kalambet/rehearse/internal/interview"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type reply struct {
	status int
	body   string
}

func ok(body string) reply { return reply{status: http.StatusOK, body: body} }

type testServer struct {
	server *httptest.Server

	mu        sync.Mutex
	responses map[string][]reply
	requests  []recordedRequest
}

// newTestServer replays responses keyed by "METHOD /path". A key with several
// replies answers them in order and repeats the last one.
func newTestServer(t *testing.T, responses map[string][]reply) *testServer {
	t.Helper()
	ts := &testServer{responses: responses}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.mu.Lock()
		defer ts.mu.Unlock()
		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if queue := ts.responses[key]; len(queue) > 0 {
			resp := queue[0]
			if len(queue) > 1 {
				ts.responses[key] = queue[1:]
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(resp.status)
			w.Write([]byte(resp.body))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found_error"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

func (ts *testServer) paths() []string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	out := make([]string, len(ts.requests))
	for i, r := range ts.requests {
		out[i] = r.Method + " " + r.Path
	}
	return out
}

// useServer points the CLI commands at ts for the rest of the test.
func useServer(t *testing.T, ts *testServer) {
	t.Helper()
	old := newAPIClient
	newAPIClient = func() (*apiClient, error) { return ts.client(), nil }
	t.Cleanup(func() { newAPIClient = old })
}

func runCLI(t *testing.T, args ...string) error {
	t.Helper()
	defer rootCmd.SetArgs(nil)
	rootCmd.SetArgs(append([]string{"--no-color"}, args...))
	return rootCmd.Execute()
}

// scriptPrompts replaces the terminal prompts with canned input.
func scriptPrompts(t *testing.T, answers []string, answerErr error, choices ...string) {
	t.Helper()
	oldRead, oldChoose := readAnswer, choose
	readAnswer = func(string) (string, error) {
		if len(answers) == 0 {
			if answerErr != nil {
				return "", answerErr
			}
			t.Fatal("prompted for more answers than scripted")
		}
		a := answers[0]
		answers = answers[1:]
		return a, nil
	}
	choose = func(_ string, items []string) (string, error) {
		if len(choices) == 0 {
			t.Fatalf("unexpected choice among %v", items)
		}
		c := choices[0]
		choices = choices[1:]
		return c, nil
	}
	t.Cleanup(func() { readAnswer, choose = oldRead, oldChoose })
}

var ctx = context.Background()

const assessmentJSON = `{
	"session_id":"s-1",
	"overall_score":72,
	"degraded":false,
	"categories":{"communication":{"average":80,"dimensions":{"clarity":80,"pace":null}}},
	"feedback":{"strengths":["Clear structure"],"weaknesses":["Few metrics"],"narrative":"Solid answer.","next_steps":["Quantify impact"]}
}`

func TestProfileSetCommand(t *testing.T) {
	ts := newTestServer(t, map[string][]reply{
		"PATCH /profiles/cand-1/": {ok(`{"candidate_id":"cand-1","name":"Ada"}`)},
	})
	useServer(t, ts)

	if err := runCLI(t, "--candidate", "cand-1", "profile", "set", "name", "Ada"); err != nil {
		t.Fatalf("profile set: %v", err)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	r := ts.requests[0]
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", r.Auth)
	}
	var body map[string]string
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["key"] != "name" || body["value"] != "Ada" {
		t.Errorf("body = %v", body)
	}
}

func TestProfileSetCommand_ServerRejects(t *testing.T) {
	ts := newTestServer(t, map[string][]reply{
		"PATCH /profiles/cand-1/": {{status: 400, body: `{"error":{"message":"unknown profile key \"hobby\"","type":"validation_error"}}`}},
	})
	useServer(t, ts)

	err := runCLI(t, "--candidate", "cand-1", "profile", "set", "hobby", "chess")
	var apiErr *apiError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *apiError", err)
	}
	if apiErr.Status != 400 || apiErr.Type != "validation_error" {
		t.Errorf("apiErr = %+v", apiErr)
	}
}

func TestProfileImportResume_PDFContentType(t *testing.T) {
	var gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotType = r.Header.Get("Content-Type")
		w.Write([]byte(`{"candidate_id":"cand-1","characters":42,"status":"stored"}`))
	}))
	defer srv.Close()
	old := newAPIClient
	newAPIClient = func() (*apiClient, error) {
		return &apiClient{baseURL: srv.URL, token: "t", httpClient: srv.Client()}, nil
	}
	defer func() { newAPIClient = old }()

	path := filepath.Join(t.TempDir(), "CV.PDF")
	if err := os.WriteFile(path, []byte("%PDF-1.4 fake"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := runCLI(t, "--candidate", "cand-1", "profile", "import-resume", path); err != nil {
		t.Fatalf("import-resume: %v", err)
	}
	if gotType != "application/pdf" {
		t.Errorf("content type = %q, want application/pdf", gotType)
	}
}

func TestContextCommand_URLEncoding(t *testing.T) {
	ts := newTestServer(t, map[string][]reply{
		"GET /profiles/cand-1/context": {ok(`[{"text":"Led the payments migration","score":0.91,"source_type":"session"}]`)},
	})
	useServer(t, ts)

	if err := runCLI(t, "--candidate", "cand-1", "context", "payments", "&", "scale"); err != nil {
		t.Fatalf("context: %v", err)
	}

	reqPath := ts.requests[0].Path
	if strings.Contains(reqPath, "& scale") {
		t.Errorf("query not URL-encoded: %q", reqPath)
	}
	if !strings.Contains(reqPath, "q=payments+%26+scale") {
		t.Errorf("unexpected encoded path: %q", reqPath)
	}
}

func TestSessionsList(t *testing.T) {
	ts := newTestServer(t, map[string][]reply{
		"GET /sessions": {ok(`[{"id":"0f8c2d4e-aaaa","candidate_id":"cand-1","type":"behavioral","difficulty":"medium","status":"completed","questions_answered":4,"overall_score":68,"created_at":"2026-01-01T00:00:00Z"}]`)},
	})
	useServer(t, ts)

	if err := runCLI(t, "--candidate", "cand-1", "sessions", "list", "--limit", "5"); err != nil {
		t.Fatalf("sessions list: %v", err)
	}
	if got := ts.requests[0].Path; got != "/sessions?candidate_id=cand-1&limit=5&offset=0" {
		t.Errorf("path = %q", got)
	}
}

func TestSessionsAbandon(t *testing.T) {
	ts := newTestServer(t, map[string][]reply{
		"POST /sessions/s-1/abandon": {ok(`{"id":"s-1","status":"abandoned","questions_answered":2}`)},
	})
	useServer(t, ts)

	if err := runCLI(t, "sessions", "abandon", "s-1"); err != nil {
		t.Fatalf("sessions abandon: %v", err)
	}
	if got := ts.paths(); len(got) != 1 || got[0] != "POST /sessions/s-1/abandon" {
		t.Errorf("requests = %v", got)
	}
}

func TestPractice_AnswerThenDone(t *testing.T) {
	noColor = true
	ts := newTestServer(t, map[string][]reply{
		"POST /sessions":             {ok(`{"session_id":"s-1","opening_message":"Tell me about a conflict you resolved.","status":"active"}`)},
		"POST /sessions/s-1/answers": {ok(`{"session_id":"s-1","message":"What would you do differently?","kind":"question","question_count":2}`)},
		"POST /sessions/s-1/complete": {ok(assessmentJSON)},
	})
	scriptPrompts(t, []string{"  ", "We split the on-call rotation and it worked.", "/done"}, nil)

	var out bytes.Buffer
	req := api.StartRequest{CandidateID: "cand-1"}
	req.Type = interview.TypeBehavioral
	if err := runPractice(ctx, ts.client(), &out, req); err != nil {
		t.Fatalf("runPractice: %v", err)
	}

	want := []string{"POST /sessions", "POST /sessions/s-1/answers", "POST /sessions/s-1/complete"}
	if got := ts.paths(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("requests = %v, want %v", got, want)
	}

	var start api.StartRequest
	if err := json.Unmarshal([]byte(ts.requests[0].Body), &start); err != nil {
		t.Fatalf("start body: %v", err)
	}
	if start.CandidateID != "cand-1" || start.Type != interview.TypeBehavioral {
		t.Errorf("start = %+v", start)
	}

	text := out.String()
	for _, s := range []string{"Tell me about a conflict", "What would you do differently?", "Overall:  72 / 100", "Clear structure", "n/a"} {
		if !strings.Contains(text, s) {
			t.Errorf("output missing %q:\n%s", s, text)
		}
	}
}

func TestPractice_ReadyToCompleteScores(t *testing.T) {
	noColor = true
	ts := newTestServer(t, map[string][]reply{
		"POST /sessions":              {ok(`{"session_id":"s-1","opening_message":"Design a URL shortener."}`)},
		"POST /sessions/s-1/answers":  {ok(`{"session_id":"s-1","message":"Thanks, that's all.","kind":"closing","ready_to_complete":true}`)},
		"POST /sessions/s-1/complete": {ok(assessmentJSON)},
	})
	scriptPrompts(t, []string{"Hash the URL and store it in a KV store."}, nil)

	var out bytes.Buffer
	if err := runPractice(ctx, ts.client(), &out, api.StartRequest{CandidateID: "cand-1"}); err != nil {
		t.Fatalf("runPractice: %v", err)
	}
	if !strings.Contains(out.String(), "Thanks, that's all.") {
		t.Errorf("closing remark not shown:\n%s", out.String())
	}
	if got := ts.paths(); got[len(got)-1] != "POST /sessions/s-1/complete" {
		t.Errorf("requests = %v", got)
	}
}

func TestPractice_GenerationErrorRetry(t *testing.T) {
	noColor = true
	ts := newTestServer(t, map[string][]reply{
		"POST /sessions":              {ok(`{"session_id":"s-1","opening_message":"Walk me through a project."}`)},
		"POST /sessions/s-1/answers":  {ok(`{"session_id":"s-1","generation_error":"model timed out","retryable":true}`)},
		"POST /sessions/s-1/resume":   {ok(`{"session_id":"s-1","message":"Which metric improved most?"}`)},
		"POST /sessions/s-1/complete": {ok(assessmentJSON)},
	})
	scriptPrompts(t, []string{"I rebuilt the billing pipeline."}, promptui.ErrInterrupt, choiceRetry)

	var out bytes.Buffer
	if err := runPractice(ctx, ts.client(), &out, api.StartRequest{CandidateID: "cand-1"}); err != nil {
		t.Fatalf("runPractice: %v", err)
	}

	want := []string{"POST /sessions", "POST /sessions/s-1/answers", "POST /sessions/s-1/resume", "POST /sessions/s-1/complete"}
	if got := ts.paths(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("requests = %v, want %v", got, want)
	}
	if !strings.Contains(out.String(), "Which metric improved most?") {
		t.Errorf("retried question not shown:\n%s", out.String())
	}
}

func TestPractice_RejectedAnswerKeepsGoing(t *testing.T) {
	noColor = true
	ts := newTestServer(t, map[string][]reply{
		"POST /sessions": {ok(`{"session_id":"s-1","opening_message":"Hi."}`)},
		"POST /sessions/s-1/answers": {
			{status: 429, body: `{"error":{"message":"too many answers, slow down","type":"rate_limit_error"}}`},
			ok(`{"session_id":"s-1","message":"Next question."}`),
		},
		"POST /sessions/s-1/abandon": {ok(`{"id":"s-1","status":"abandoned"}`)},
	})
	scriptPrompts(t, []string{"first", "second", "/quit"}, nil)

	var out bytes.Buffer
	err := runPractice(ctx, ts.client(), &out, api.StartRequest{CandidateID: "cand-1"})
	if !errors.Is(err, errAbandoned) {
		t.Fatalf("err = %v, want errAbandoned", err)
	}
	if !strings.Contains(out.String(), "Next question.") {
		t.Errorf("output:\n%s", out.String())
	}
}

func TestPractice_StartFails(t *testing.T) {
	ts := newTestServer(t, map[string][]reply{
		"POST /sessions": {{status: 503, body: `{"error":{"message":"interviewer unavailable","type":"dependency_unavailable_error"}}`}},
	})
	scriptPrompts(t, nil, nil)

	err := runPractice(ctx, ts.client(), &bytes.Buffer{}, api.StartRequest{CandidateID: "cand-1"})
	var apiErr *apiError
	if !errors.As(err, &apiErr) || apiErr.Status != 503 {
		t.Fatalf("err = %v, want 503 apiError", err)
	}
}

func TestStatusCommand_Stopped(t *testing.T) {
	ts := newTestServer(t, map[string][]reply{})
	ts.server.Close()

	client := ts.client()
	_, err := client.get(ctx, "/health")
	if err == nil {
		t.Fatal("expected error for stopped server")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestDecodeJSON_ErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(401)
		w.Write([]byte(`{"error":{"message":"unauthorized","type":"authentication_error"}}`))
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	err = decodeJSON(resp, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if got := err.Error(); got != "authentication_error (401): unauthorized" {
		t.Errorf("error = %q", got)
	}
}

func TestWriteAssessment_Degraded(t *testing.T) {
	noColor = true
	avg := 55.0
	a := interview.Assessment{
		Overall:        55,
		Degraded:       true,
		FallbackReason: "rating model unavailable",
		Categories: map[interview.Category]interview.CategoryScore{
			interview.CategoryContent: {Average: &avg, Dimensions: map[string]*float64{"depth": &avg}},
			interview.CategoryNonVerbal: {},
		},
	}

	var buf bytes.Buffer
	writeAssessment(&buf, a)
	out := buf.String()
	if !strings.Contains(out, "rating model unavailable") {
		t.Errorf("missing fallback reason:\n%s", out)
	}
	if strings.Contains(out, "nonverbal") {
		t.Errorf("unscored category should be hidden:\n%s", out)
	}
	if !strings.Contains(out, "depth") {
		t.Errorf("missing dimension:\n%s", out)
	}
}

func TestPIDFile(t *testing.T) {
	path := pidFilePath(filepath.Join(t.TempDir(), "nested"))
	if err := writePIDFile(path); err != nil {
		t.Fatalf("writePIDFile: %v", err)
	}
	pid, err := readPIDFile(path)
	if err != nil {
		t.Fatalf("readPIDFile: %v", err)
	}
	if pid <= 0 {
		t.Errorf("pid = %d", pid)
	}
	removePIDFile(path)
	if _, err := readPIDFile(path); err == nil {
		t.Error("expected error after removal")
	}
}

func TestBuildApp(t *testing.T) {
	cfg := config.Config{
		Server:    config.ServerConfig{Port: 4000, MCPPort: 4001, Token: "tok"},
		Engine:    config.EngineConfig{Backend: "ollama", ChatModel: "chat", RatingModel: "rate", EmbedModel: "embed", Timeout: "5s"},
		Storage:   config.StorageConfig{DataDir: t.TempDir()},
		Retrieval: config.RetrievalConfig{TopK: 3},
		Interview: config.InterviewConfig{RateLimitPerMinute: 10, RateLimitBurst: 3},
	}
	policy, err := config.LoadPolicy("")
	if err != nil {
		t.Fatalf("LoadPolicy: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	a, err := buildApp(ctx, cfg, policy, enginetest.New("Hello! Tell me about yourself."), logger)
	if err != nil {
		t.Fatalf("buildApp: %v", err)
	}
	defer a.Close()

	if a.deps.Token != "tok" || a.deps.Context == nil || a.deps.Reindex == nil {
		t.Errorf("deps = %+v", a.deps)
	}

	res, err := a.deps.Interviews.Start(ctx, "cand-1", interview.SessionConfig{Type: interview.TypeGeneral})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if res.OpeningMessage != "Hello! Tell me about yourself." {
		t.Errorf("opening = %q", res.OpeningMessage)
	}

	// Saving a profile queues a reindex job that the worker consumes.
	if err := a.deps.Profiles.SetField(ctx, "cand-1", "name", "Ada"); err != nil {
		t.Fatalf("SetField: %v", err)
	}
	if ran, err := a.worker.RunOnce(ctx); err != nil || !ran {
		t.Errorf("RunOnce = %v, %v", ran, err)
	}
}
