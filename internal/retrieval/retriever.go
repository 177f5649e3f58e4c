package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/kalambet/rehearse/internal/interview"
	"github.com/kalambet/rehearse/internal/metrics"
)

// DefaultTopK is the number of snippets fetched per query.
const DefaultTopK = 5

// Retriever combines embedding and vector search to find relevant context
// for one candidate.
type Retriever struct {
	embedder *Embedder
	store    VectorStore
}

// NewRetriever creates a Retriever backed by the given Embedder and VectorStore.
func NewRetriever(embedder *Embedder, store VectorStore) *Retriever {
	return &Retriever{embedder: embedder, store: store}
}

// Retrieve returns up to topK snippets from the candidate's index, best
// first. A candidate without an index or an empty query yields an empty
// slice and no error; the embedding backend is not called in that case.
func (r *Retriever) Retrieve(ctx context.Context, candidateID, query string, topK int) ([]interview.Snippet, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if strings.TrimSpace(query) == "" {
		return []interview.Snippet{}, nil
	}

	n, err := r.store.CountCandidate(ctx, candidateID)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		metrics.RetrievalSnippets.Observe(0)
		return []interview.Snippet{}, nil
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	scored, err := r.store.Search(ctx, candidateID, vec, topK)
	if err != nil {
		return nil, err
	}

	snippets := make([]interview.Snippet, len(scored))
	for i, s := range scored {
		snippets[i] = interview.Snippet{Text: s.TextChunk, Score: s.Score, SourceType: s.SourceType}
	}
	metrics.RetrievalSnippets.Observe(float64(len(snippets)))
	return snippets, nil
}

// Document is one source text to index for a candidate.
type Document struct {
	SourceID   string
	SourceType string
	Text       string
	Tags       string
}

// Indexer builds a candidate's context index from documents.
type Indexer struct {
	embedder *Embedder
	store    VectorStore
}

func NewIndexer(embedder *Embedder, store VectorStore) *Indexer {
	return &Indexer{embedder: embedder, store: store}
}

// Rebuild chunks and embeds docs, then replaces the candidate's index in one
// step. If embedding fails the previous index is left untouched.
// It returns the number of records written.
func (ix *Indexer) Rebuild(ctx context.Context, candidateID string, docs []Document) (int, error) {
	var records []Record
	var texts []string
	for _, d := range docs {
		for _, c := range Chunk(d.Text, ChunkSize, ChunkOverlap) {
			records = append(records, Record{
				ID:          uuid.NewString(),
				CandidateID: candidateID,
				SourceID:    d.SourceID,
				SourceType:  d.SourceType,
				TextChunk:   c,
				Tags:        d.Tags,
			})
			texts = append(texts, c)
		}
	}

	vecs, err := ix.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embedding index for %s: %w", candidateID, err)
	}
	for i := range records {
		records[i].Embedding = vecs[i]
	}

	if err := ix.store.ReplaceCandidate(ctx, candidateID, records); err != nil {
		return 0, err
	}
	return len(records), nil
}
