package retrieval

import (
	"context"
	"fmt"
	"testing"

	"github.com/kalambet/rehearse/internal/storage"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return NewSQLiteStore(st.DB())
}

func makeTestVector(dim int, seed float32) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = seed + float32(i)*0.001
	}
	return v
}

func TestReplaceAndSearch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.ReplaceCandidate(ctx, "cand-1", []Record{
		{ID: "r1", SourceID: "profile", SourceType: SourceProfile, TextChunk: "Go engineer", Embedding: []float32{1, 0, 0}},
		{ID: "r2", SourceID: "resume", SourceType: SourceResume, TextChunk: "Built Kafka pipelines", Embedding: []float32{0, 1, 0}},
		{ID: "r3", SourceID: "resume", SourceType: SourceResume, TextChunk: "Led a team of four", Embedding: []float32{0.7, 0.7, 0}},
	})
	if err != nil {
		t.Fatalf("ReplaceCandidate: %v", err)
	}

	got, err := s.Search(ctx, "cand-1", []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d results, want 2", len(got))
	}
	if got[0].ID != "r1" || got[1].ID != "r3" {
		t.Errorf("order = [%s %s], want [r1 r3]", got[0].ID, got[1].ID)
	}
	if got[0].Score < got[1].Score {
		t.Errorf("scores not descending: %v, %v", got[0].Score, got[1].Score)
	}
	if got[0].CandidateID != "cand-1" || got[0].Tags != "[]" {
		t.Errorf("unexpected record fields: %+v", got[0].Record)
	}
}

func TestSearch_IsolatedPerCandidate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.ReplaceCandidate(ctx, "a", []Record{{ID: "a1", SourceType: SourceProfile, TextChunk: "a", Embedding: []float32{1, 0}}}); err != nil {
		t.Fatal(err)
	}
	if err := s.ReplaceCandidate(ctx, "b", []Record{{ID: "b1", SourceType: SourceProfile, TextChunk: "b", Embedding: []float32{1, 0}}}); err != nil {
		t.Fatal(err)
	}

	got, err := s.Search(ctx, "a", []float32{1, 0}, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0].ID != "a1" {
		t.Errorf("candidate a saw %+v", got)
	}
}

func TestReplaceCandidate_SwapsSnapshot(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := make([]Record, 5)
	for i := range first {
		first[i] = Record{ID: fmt.Sprintf("old-%d", i), SourceType: SourceResume, TextChunk: "old", Embedding: makeTestVector(16, float32(i))}
	}
	if err := s.ReplaceCandidate(ctx, "c", first); err != nil {
		t.Fatal(err)
	}
	if err := s.ReplaceCandidate(ctx, "c", []Record{{ID: "new-0", SourceType: SourceProfile, TextChunk: "new", Embedding: makeTestVector(16, 1)}}); err != nil {
		t.Fatal(err)
	}

	n, err := s.CountCandidate(ctx, "c")
	if err != nil {
		t.Fatalf("CountCandidate: %v", err)
	}
	if n != 1 {
		t.Errorf("count = %d, want 1 after replacement", n)
	}
}

func TestReplaceCandidate_FailureKeepsPrevious(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.ReplaceCandidate(ctx, "c", []Record{{ID: "keep", SourceType: SourceProfile, TextChunk: "x", Embedding: []float32{1}}}); err != nil {
		t.Fatal(err)
	}
	// Duplicate ids violate the primary key and abort the transaction.
	err := s.ReplaceCandidate(ctx, "c", []Record{
		{ID: "dup", SourceType: SourceProfile, TextChunk: "x", Embedding: []float32{1}},
		{ID: "dup", SourceType: SourceProfile, TextChunk: "y", Embedding: []float32{1}},
	})
	if err == nil {
		t.Fatal("expected error on duplicate ids")
	}

	got, err := s.Search(ctx, "c", []float32{1}, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0].ID != "keep" {
		t.Errorf("previous snapshot lost: %+v", got)
	}
}

func TestSearch_EmptyAndZeroVector(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	got, err := s.Search(ctx, "nobody", []float32{1, 2}, 5)
	if err != nil || len(got) != 0 {
		t.Errorf("empty index: got %v, %v", got, err)
	}
	got, err = s.Search(ctx, "nobody", []float32{0, 0}, 5)
	if err != nil || got != nil {
		t.Errorf("zero vector: got %v, %v", got, err)
	}
}

func TestCosine_DimensionMismatch(t *testing.T) {
	a := []float32{1, 0}
	if got := cosine(a, []float32{1, 0, 0}, norm(a)); got != 0 {
		t.Errorf("cosine with mismatched dims = %v, want 0", got)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := makeTestVector(32, 0.5)
	out, err := decodeVector(nil, encodeVector(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	for i := range in {
		if in[i] != out[i] {
			t.Fatalf("index %d: %v != %v", i, in[i], out[i])
		}
	}
	if _, err := decodeVector(nil, []byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated blob")
	}
}
