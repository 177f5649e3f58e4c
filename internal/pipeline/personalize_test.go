package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/kalambet/rehearse/internal/interview"
)

type mockRetriever struct {
	queries []string
	topKs   []int
	err     error
}

func (m *mockRetriever) Retrieve(_ context.Context, candidateID, query string, topK int) ([]interview.Snippet, error) {
	m.queries = append(m.queries, query)
	m.topKs = append(m.topKs, topK)
	if m.err != nil {
		return nil, m.err
	}
	return []interview.Snippet{{Text: fmt.Sprintf("snippet for %s", query), Score: 0.9, SourceType: "profile"}}, nil
}

type mockProfiles struct {
	profiles map[string]interview.CandidateProfile
}

func (m *mockProfiles) Get(_ context.Context, id string) (interview.CandidateProfile, error) {
	p, ok := m.profiles[id]
	if !ok {
		return interview.CandidateProfile{}, interview.NotFound("get profile", interview.ErrProfileNotFound)
	}
	return p, nil
}

func testSession() interview.Session {
	return interview.Session{
		ID:          "sess-1",
		CandidateID: "cand-1",
		Config:      interview.SessionConfig{Type: interview.TypeSystemDesign, RoleContext: "Backend Engineer", CompanyContext: "Acme"},
	}
}

func TestQuery(t *testing.T) {
	got := Query(testSession().Config)
	if want := "system design interview preparation Backend Engineer Acme"; got != want {
		t.Errorf("Query = %q, want %q", got, want)
	}
	if got := Query(interview.SessionConfig{Type: interview.TypeGeneral}); got != "general interview preparation" {
		t.Errorf("Query without context = %q", got)
	}
}

func TestPrepare_WithProfile(t *testing.T) {
	r := &mockRetriever{}
	profiles := &mockProfiles{profiles: map[string]interview.CandidateProfile{
		"cand-1": {CandidateID: "cand-1", Name: "Sam", CurrentRole: "SRE", TechnicalSkills: []string{"Go"}},
	}}
	p := NewPersonalizer(r, profiles)

	c, meta := p.Prepare(context.Background(), "sess-1", "cand-1", testSession().Config)

	if !meta.Retrieved || len(c.Snippets) != 1 {
		t.Errorf("snippets = %v, meta = %+v", c.Snippets, meta)
	}
	if c.CandidateName != "Sam" || c.Profile == nil || c.ProfileSummary == "" {
		t.Errorf("profile not loaded: %+v", c)
	}
}

type reverseReranker struct{ focus string }

func (r *reverseReranker) Rerank(_ context.Context, focus string, in []interview.Snippet, topK int) []interview.Snippet {
	r.focus = focus
	out := []interview.Snippet{{Text: "reranked", Score: 1}}
	return append(out, in...)[:min(topK, len(in)+1)]
}

func TestPrepare_Reranks(t *testing.T) {
	r := &mockRetriever{}
	rr := &reverseReranker{}
	p := NewPersonalizer(r, &mockProfiles{}, WithTopK(3), WithReranker(rr))

	c, _ := p.Prepare(context.Background(), "sess-1", "cand-1", testSession().Config)

	if diff := cmp.Diff([]int{6}, r.topKs); diff != "" {
		t.Errorf("retrieval topK (-want +got):\n%s", diff)
	}
	if rr.focus != Query(testSession().Config) {
		t.Errorf("focus = %q", rr.focus)
	}
	if len(c.Snippets) != 2 || c.Snippets[0].Text != "reranked" {
		t.Errorf("snippets = %+v", c.Snippets)
	}
}

func TestPrepare_DegradesWithoutProfileOrIndex(t *testing.T) {
	r := &mockRetriever{err: errors.New("store closed")}
	p := NewPersonalizer(r, &mockProfiles{})

	c, _ := p.Prepare(context.Background(), "sess-1", "nobody", testSession().Config)

	if c.Profile != nil || c.ProfileSummary != "" || len(c.Snippets) != 0 {
		t.Errorf("expected empty context, got %+v", c)
	}
}

func TestForAnswer_ReusesCacheOnTopic(t *testing.T) {
	r := &mockRetriever{}
	p := NewPersonalizer(r, &mockProfiles{})
	s := testSession()
	ctx := context.Background()
	p.Prepare(ctx, s.ID, s.CandidateID, s.Config)

	question := "How would you design the storage layer for a URL shortener?"
	answer := "For the storage layer of the shortener I would design a key value table keyed by the short code."

	_, meta := p.ForAnswer(ctx, s, answer, question)

	if !meta.CacheHit || meta.Drifted || meta.Retrieved {
		t.Errorf("meta = %+v, want cache hit without retrieval", meta)
	}
	if len(r.queries) != 1 {
		t.Errorf("retrievals = %d, want 1", len(r.queries))
	}
}

func TestForAnswer_DriftRetrieves(t *testing.T) {
	r := &mockRetriever{}
	p := NewPersonalizer(r, &mockProfiles{})
	s := testSession()
	ctx := context.Background()
	p.Prepare(ctx, s.ID, s.CandidateID, s.Config)

	question := "How would you design the storage layer for a URL shortener?"
	answer := "Honestly my favourite project was mentoring junior colleagues through kubernetes migrations and payroll reconciliation."

	c, meta := p.ForAnswer(ctx, s, answer, question)

	if !meta.Drifted || !meta.Retrieved {
		t.Fatalf("meta = %+v, want drift", meta)
	}
	if len(r.queries) != 2 {
		t.Fatalf("retrievals = %d, want 2", len(r.queries))
	}
	if c.Query != r.queries[1] || c.Query == Query(s.Config) {
		t.Errorf("drift query = %q", c.Query)
	}

	// The refreshed topic is cached: answering on it again does not drift.
	_, meta = p.ForAnswer(ctx, s, "The kubernetes migrations were the hardest part of mentoring junior engineers.", "Tell me more.")
	if meta.Drifted {
		t.Errorf("second answer drifted, overlap %v", meta.Overlap)
	}
}

func TestForAnswer_CacheMissRetrieves(t *testing.T) {
	r := &mockRetriever{}
	p := NewPersonalizer(r, &mockProfiles{})

	c, meta := p.ForAnswer(context.Background(), testSession(), "short", "q")

	if meta.CacheHit || !meta.Retrieved || len(c.Snippets) != 1 {
		t.Errorf("meta = %+v, snippets = %d", meta, len(c.Snippets))
	}
}

func TestForget(t *testing.T) {
	r := &mockRetriever{}
	p := NewPersonalizer(r, &mockProfiles{})
	s := testSession()
	ctx := context.Background()
	p.Prepare(ctx, s.ID, s.CandidateID, s.Config)
	p.Forget(ctx, s.ID)

	if _, meta := p.ForAnswer(ctx, s, "x", "y"); meta.CacheHit {
		t.Error("context should be gone after Forget")
	}
}

func TestKeywords(t *testing.T) {
	got := Keywords("I would use a Hash-Map, then shard the hash-map by user. Also C++ and Node.js!")
	want := []string{"hash-map", "shard", "user", "node.js"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Keywords mismatch (-want +got):\n%s", diff)
	}
}

func TestDrifted(t *testing.T) {
	topic := Keywords("system design interview preparation caching services")
	tests := []struct {
		name   string
		answer string
		want   bool
	}{
		{"on topic with plural", "I'd put caching in front of the service and shard the caches", false},
		{"too short to judge", "No idea, sorry", false},
		{"new topic", "My hobbies include gardening, photography and marathon running", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got, overlap, _ := Drifted(tt.answer, topic, DefaultDriftThreshold); got != tt.want {
				t.Errorf("Drifted = %v (overlap %v), want %v", got, overlap, tt.want)
			}
		})
	}
}
