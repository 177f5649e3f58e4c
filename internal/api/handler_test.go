package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kalambet/rehearse/internal/assessment"
	"github.com/kalambet/rehearse/internal/composer"
	"github.com/kalambet/rehearse/internal/dialogue"
	"github.com/kalambet/rehearse/internal/engine"
	"github.com/kalambet/rehearse/internal/engine/enginetest"
	"github.com/kalambet/rehearse/internal/events"
	"github.com/kalambet/rehearse/internal/extract"
	"github.com/kalambet/rehearse/internal/interview"
	"github.com/kalambet/rehearse/internal/orchestrator"
	"github.com/kalambet/rehearse/internal/pipeline"
	"github.com/kalambet/rehearse/internal/profile"
	"github.com/kalambet/rehearse/internal/ratelimit"
	"github.com/kalambet/rehearse/internal/retrieval"
	"github.com/kalambet/rehearse/internal/storage"
)

const testToken = "test-token-12345"

type testServer struct {
	handler http.Handler
	deps    Deps
	store   *storage.Store
	chat    *enginetest.Fake
}

func setupHandler(t *testing.T, limiter ratelimit.Limiter, replies ...string) *testServer {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	sink := events.NewJobSink(store, nil)
	profiles := profile.NewManager(store, sink)

	embedEngine := enginetest.New()
	retriever := retrieval.NewRetriever(retrieval.NewEmbedder(embedEngine, "embed"), retrieval.NewSQLiteStore(store.DB()))

	chat := enginetest.New(replies...)
	offline := &enginetest.Fake{ChatFunc: func(engine.ChatRequest) (string, error) {
		return "", errors.New("scoring model offline")
	}}

	orch := orchestrator.New(orchestrator.Deps{
		Store:        store,
		Interviewer:  dialogue.New(chat, composer.New(0), "interviewer"),
		Personalizer: pipeline.NewPersonalizer(retriever, profiles),
		Assessor:     assessment.New(offline, "scorer"),
		Limiter:      limiter,
		Events:       sink,
	}, orchestrator.Config{})

	deps := Deps{
		Interviews: orch,
		Profiles:   profiles,
		Context:    retriever,
		Reindex:    sink,
		Token:      testToken,
	}
	return &testServer{handler: NewHandler(deps), deps: deps, store: store, chat: chat}
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func (ts *testServer) do(t *testing.T, method, url, body string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, authReq(method, url, body, testToken))
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("decoding %s: %v", rr.Body.String(), err)
	}
	return v
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (ts *testServer) startSession(t *testing.T) orchestrator.StartResult {
	t.Helper()
	rr := ts.do(t, http.MethodPost, "/sessions", `{"candidate_id":"cand-1","type":"behavioral","role_context":"Staff Engineer"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("start status = %d; body = %s", rr.Code, rr.Body.String())
	}
	return decode[orchestrator.StartResult](t, rr)
}

func TestHealth_NoAuth(t *testing.T) {
	ts := setupHandler(t, nil)

	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
}

func TestAuth(t *testing.T) {
	ts := setupHandler(t, nil)

	for _, token := range []string{"", "wrong-token"} {
		rr := httptest.NewRecorder()
		ts.handler.ServeHTTP(rr, authReq(http.MethodGet, "/sessions?candidate_id=cand-1", "", token))
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("token %q: status = %d, want 401", token, rr.Code)
		}
		if got := decode[errorBody](t, rr).Error.Type; got != "authentication_error" {
			t.Errorf("error type = %q", got)
		}
	}
}

func TestMetrics_RequiresAuth(t *testing.T) {
	ts := setupHandler(t, nil)

	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}

	rr = ts.do(t, http.MethodGet, "/metrics", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "rehearse_") {
		t.Errorf("status = %d, body lacks rehearse metrics", rr.Code)
	}
}

func TestSessionLifecycle(t *testing.T) {
	ts := setupHandler(t, nil,
		"Welcome! Tell me about a time you resolved a conflict.",
		"Thanks. What would you do differently next time?",
	)

	start := ts.startSession(t)
	if start.SessionID == "" || start.OpeningMessage == "" {
		t.Fatalf("start = %+v", start)
	}

	rr := ts.do(t, http.MethodPost, "/sessions/"+start.SessionID+"/answers",
		`{"text":"In my last role two teams disagreed on an API contract. I set up a design review and we agreed on a versioned schema, which cut integration bugs by 30%."}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("answer status = %d; body = %s", rr.Code, rr.Body.String())
	}
	ans := decode[orchestrator.AnswerResult](t, rr)
	if ans.Message != "Thanks. What would you do differently next time?" || ans.QuestionCount != 1 {
		t.Errorf("answer = %+v", ans)
	}
	if ans.Analysis == nil || ans.Analysis.WordCount == 0 {
		t.Error("answer analysis missing")
	}

	rr = ts.do(t, http.MethodGet, "/sessions/"+start.SessionID, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get status = %d", rr.Code)
	}
	if s := decode[interview.Session](t, rr); len(s.Turns) != 3 {
		t.Errorf("turns = %d, want 3", len(s.Turns))
	}

	rr = ts.do(t, http.MethodPost, "/sessions/"+start.SessionID+"/complete", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("complete status = %d; body = %s", rr.Code, rr.Body.String())
	}
	a := decode[interview.Assessment](t, rr)
	if a.SessionID != start.SessionID || !a.Degraded {
		t.Errorf("assessment = %+v", a)
	}

	rr = ts.do(t, http.MethodPost, "/sessions/"+start.SessionID+"/answers", `{"text":"one more thing"}`)
	if rr.Code != http.StatusConflict {
		t.Errorf("answer after completion: status = %d, want 409", rr.Code)
	}
	if got := decode[errorBody](t, rr).Error.Type; got != "state_conflict_error" {
		t.Errorf("error type = %q", got)
	}

	rr = ts.do(t, http.MethodGet, "/sessions?candidate_id=cand-1", "")
	list := decode[[]interview.SessionSummary](t, rr)
	if len(list) != 1 || list[0].Status != interview.StatusCompleted || list[0].OverallScore == nil {
		t.Errorf("list = %+v", list)
	}
}

func TestSubmitAnswer_GenerationFailureThenResume(t *testing.T) {
	ts := setupHandler(t, nil, "Welcome! Describe a project you led.")
	start := ts.startSession(t)

	ts.chat.Fail(errors.New("model overloaded"))
	rr := ts.do(t, http.MethodPost, "/sessions/"+start.SessionID+"/answers", `{"text":"I led the billing rewrite."}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	if ans := decode[orchestrator.AnswerResult](t, rr); ans.GenerationError == "" || ans.Message != "" {
		t.Fatalf("expected a generation error, got %+v", ans)
	}

	rr = ts.do(t, http.MethodPost, "/sessions/"+start.SessionID+"/answers", `{"text":"again"}`)
	if rr.Code != http.StatusConflict {
		t.Errorf("answer while question pending: status = %d, want 409", rr.Code)
	}

	ts.chat.Reply("What was the hardest trade-off?")
	rr = ts.do(t, http.MethodPost, "/sessions/"+start.SessionID+"/resume", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("resume status = %d; body = %s", rr.Code, rr.Body.String())
	}
	if ans := decode[orchestrator.AnswerResult](t, rr); ans.Message != "What was the hardest trade-off?" {
		t.Errorf("resume = %+v", ans)
	}
}

func TestAbandonAndAssess(t *testing.T) {
	ts := setupHandler(t, nil, "Welcome! Walk me through your background.")
	start := ts.startSession(t)

	rr := ts.do(t, http.MethodPost, "/sessions/"+start.SessionID+"/abandon", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("abandon status = %d; body = %s", rr.Code, rr.Body.String())
	}
	if sum := decode[interview.SessionSummary](t, rr); sum.Status != interview.StatusAbandoned {
		t.Errorf("status = %s", sum.Status)
	}

	rr = ts.do(t, http.MethodPost, "/sessions/"+start.SessionID+"/assess", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("assess status = %d; body = %s", rr.Code, rr.Body.String())
	}
}

func TestSessionErrors(t *testing.T) {
	ts := setupHandler(t, nil)

	tests := []struct {
		name   string
		method string
		url    string
		body   string
		want   int
	}{
		{"malformed body", http.MethodPost, "/sessions", `{`, http.StatusBadRequest},
		{"unknown type", http.MethodPost, "/sessions", `{"candidate_id":"c","type":"trivia"}`, http.StatusBadRequest},
		{"missing candidate", http.MethodPost, "/sessions", `{"type":"technical"}`, http.StatusBadRequest},
		{"unknown session", http.MethodGet, "/sessions/nope", "", http.StatusNotFound},
		{"answer unknown session", http.MethodPost, "/sessions/nope/answers", `{"text":"hi"}`, http.StatusNotFound},
		{"list without candidate", http.MethodGet, "/sessions", "", http.StatusBadRequest},
		{"list bad limit", http.MethodGet, "/sessions?candidate_id=c&limit=ten", "", http.StatusBadRequest},
		{"list limit too high", http.MethodGet, "/sessions?candidate_id=c&limit=500", "", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := ts.do(t, tt.method, tt.url, tt.body)
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d; body = %s", rr.Code, tt.want, rr.Body.String())
			}
		})
	}
}

func TestStart_RateLimited(t *testing.T) {
	ts := setupHandler(t, ratelimit.NewTokenBucket(1, 1), "Welcome!", "Welcome again!")

	ts.startSession(t)
	rr := ts.do(t, http.MethodPost, "/sessions", `{"candidate_id":"cand-1","type":"behavioral"}`)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429; body = %s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header missing")
	}
}

func TestProfile_PutGetPatch(t *testing.T) {
	ts := setupHandler(t, nil)

	rr := ts.do(t, http.MethodGet, "/profiles/cand-1", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("missing profile: status = %d, want 404", rr.Code)
	}

	rr = ts.do(t, http.MethodPut, "/profiles/cand-1",
		`{"candidate_id":"someone-else","name":"Robin","experience_years":6,"technical_skills":["Go","Go","Kafka"]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("put status = %d; body = %s", rr.Code, rr.Body.String())
	}
	p := decode[interview.CandidateProfile](t, rr)
	if p.CandidateID != "cand-1" || len(p.TechnicalSkills) != 2 {
		t.Errorf("profile = %+v", p)
	}

	rr = ts.do(t, http.MethodPatch, "/profiles/cand-1", `{"key":"current_role","value":"Staff Engineer"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("patch status = %d; body = %s", rr.Code, rr.Body.String())
	}
	if p := decode[interview.CandidateProfile](t, rr); p.CurrentRole != "Staff Engineer" || p.Name != "Robin" {
		t.Errorf("profile after patch = %+v", p)
	}

	rr = ts.do(t, http.MethodPatch, "/profiles/cand-1", `{"key":"shoe_size","value":"44"}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("unknown key: status = %d, want 400", rr.Code)
	}
	rr = ts.do(t, http.MethodPut, "/profiles/cand-1", `{"experience_years":-1}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("negative experience: status = %d, want 400", rr.Code)
	}

	// Every successful write queues one deduplicated reindex job.
	if n, err := ts.store.CountJobs(context.Background(), "pending"); err != nil || n != 1 {
		t.Errorf("pending jobs = %d, %v; want 1", n, err)
	}
}

func TestUploadResume_Multipart(t *testing.T) {
	ts := setupHandler(t, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "resume.txt")
	if err != nil {
		t.Fatal(err)
	}
	fmt.Fprint(fw, "Robin Doe\n\n\n\nSenior engineer.   Built the ledger service.")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/profiles/cand-1/resume", &buf)
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}

	p, err := ts.deps.Profiles.Get(context.Background(), "cand-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if p.ResumeText != "Robin Doe\n\nSenior engineer. Built the ledger service." {
		t.Errorf("ResumeText = %q", p.ResumeText)
	}
}

func TestUploadResume_Extract(t *testing.T) {
	ts := setupHandler(t, nil)
	ts.deps.Extractor = extract.New(enginetest.New(
		`{"current_role":"Staff Engineer","current_company":"Acme","experience_years":9,"technical_skills":["Go","Kafka"],"soft_skills":[],"industries":["payments"]}`,
	).Fail(errors.New("model offline")), "extract", 0)
	ts.handler = NewHandler(ts.deps)

	rr := ts.do(t, http.MethodPatch, "/profiles/cand-1", `{"key":"current_role","value":"Tech Lead"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("patch: status = %d; body = %s", rr.Code, rr.Body.String())
	}

	rr = ts.do(t, http.MethodPost, "/profiles/cand-1/resume?extract=true", "Staff Engineer at Acme. Go, Kafka.")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	body := decode[struct {
		Filled []string `json:"filled"`
	}](t, rr)
	want := []string{"current_company", "experience_years", "technical_skills", "industries"}
	if strings.Join(body.Filled, ",") != strings.Join(want, ",") {
		t.Errorf("filled = %v, want %v", body.Filled, want)
	}

	p, err := ts.deps.Profiles.Get(context.Background(), "cand-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if p.CurrentRole != "Tech Lead" || p.CurrentCompany != "Acme" || len(p.TechnicalSkills) != 2 {
		t.Errorf("profile = %+v", p)
	}

	// The second extraction fails; the résumé is still stored.
	rr = ts.do(t, http.MethodPost, "/profiles/cand-1/resume?extract=true", "Updated résumé")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	body = decode[struct {
		Filled []string `json:"filled"`
	}](t, rr)
	if len(body.Filled) != 0 {
		t.Errorf("filled = %v, want none", body.Filled)
	}
}

func TestUploadResume_RawBody(t *testing.T) {
	ts := setupHandler(t, nil)

	rr := ts.do(t, http.MethodPost, "/profiles/cand-1/resume", "Plain text resume")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	body := decode[map[string]any](t, rr)
	if body["characters"] != float64(len("Plain text resume")) {
		t.Errorf("body = %v", body)
	}

	rr = ts.do(t, http.MethodPost, "/profiles/cand-1/resume", "\xff\xfe\x00\x81")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("binary upload: status = %d, want 400", rr.Code)
	}
}

func TestReindex(t *testing.T) {
	ts := setupHandler(t, nil)

	rr := ts.do(t, http.MethodPost, "/profiles/cand-1/reindex", "")
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	if n, _ := ts.store.CountJobs(context.Background(), "pending"); n != 1 {
		t.Errorf("pending jobs = %d, want 1", n)
	}
}

func TestSearchContext(t *testing.T) {
	ts := setupHandler(t, nil)
	ctx := context.Background()

	embedder := retrieval.NewEmbedder(enginetest.New(), "embed")
	indexer := retrieval.NewIndexer(embedder, retrieval.NewSQLiteStore(ts.store.DB()))
	if _, err := indexer.Rebuild(ctx, "cand-1", []retrieval.Document{
		{SourceID: "cand-1:resume", SourceType: retrieval.SourceResume, Text: "Migrated the payments ledger to Postgres."},
	}); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	rr := ts.do(t, http.MethodGet, "/profiles/cand-1/context?q=payments+ledger&limit=3", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	snippets := decode[[]interview.Snippet](t, rr)
	if len(snippets) != 1 || snippets[0].SourceType != retrieval.SourceResume {
		t.Errorf("snippets = %+v", snippets)
	}

	rr = ts.do(t, http.MethodGet, "/profiles/cand-2/context?q=payments", "")
	if rr.Code != http.StatusOK || strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Errorf("other candidate: status = %d, body = %s", rr.Code, rr.Body.String())
	}

	rr = ts.do(t, http.MethodGet, "/profiles/cand-1/context", "")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("missing q: status = %d, want 400", rr.Code)
	}
}

func TestOptionalDependencies(t *testing.T) {
	ts := setupHandler(t, nil)
	deps := ts.deps
	deps.Context = nil
	deps.Reindex = nil
	h := NewHandler(deps)

	for _, url := range []string{"/profiles/cand-1/context?q=x", "/profiles/cand-1/reindex"} {
		method := http.MethodGet
		if strings.HasSuffix(url, "reindex") {
			method = http.MethodPost
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, authReq(method, url, "", testToken))
		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("%s: status = %d, want 503", url, rr.Code)
		}
	}
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		err        error
		want       int
		retryAfter bool
	}{
		{interview.Validation("op", "bad"), http.StatusBadRequest, false},
		{interview.NotFound("op", interview.ErrSessionNotFound), http.StatusNotFound, false},
		{interview.StateConflict("op", interview.ErrSessionNotActive), http.StatusConflict, false},
		{interview.Transient("op", errors.New("timeout")), http.StatusServiceUnavailable, true},
		{interview.Unavailable("op", errors.New("down")), http.StatusServiceUnavailable, false},
		{interview.Validation("op", "%w", interview.ErrRateLimited), http.StatusTooManyRequests, true},
		{errors.New("disk on fire"), http.StatusInternalServerError, false},
	}
	for _, tt := range tests {
		rr := httptest.NewRecorder()
		writeError(rr, tt.err)
		if rr.Code != tt.want {
			t.Errorf("%v: status = %d, want %d", tt.err, rr.Code, tt.want)
		}
		if got := rr.Header().Get("Retry-After") != ""; got != tt.retryAfter {
			t.Errorf("%v: Retry-After present = %v", tt.err, got)
		}
	}

	rr := httptest.NewRecorder()
	writeError(rr, errors.New("secret internals"))
	if strings.Contains(rr.Body.String(), "secret internals") {
		t.Error("internal error details leaked to the client")
	}
}
