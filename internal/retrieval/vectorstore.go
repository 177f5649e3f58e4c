package retrieval

import (
	"context"
	"time"
)

// VectorStore holds each candidate's context index. A candidate's vectors
// are only ever replaced as a whole, so readers observe either the previous
// or the next snapshot.
type VectorStore interface {
	// ReplaceCandidate atomically swaps the candidate's index for records.
	ReplaceCandidate(ctx context.Context, candidateID string, records []Record) error

	// Search returns the candidate's topK records most similar to vector.
	Search(ctx context.Context, candidateID string, vector []float32, topK int) ([]ScoredRecord, error)

	// CountCandidate returns how many records the candidate has indexed.
	CountCandidate(ctx context.Context, candidateID string) (int, error)
}

// Source types of indexed documents.
const (
	SourceProfile = "profile"
	SourceResume  = "resume"
	SourceSession = "session"
)

// Record represents a row in the vector store.
type Record struct {
	ID          string
	CandidateID string
	SourceID    string
	SourceType  string
	TextChunk   string
	Embedding   []float32
	CreatedAt   time.Time
	Tags        string // JSON array stored as text
}

// ScoredRecord is a Record with a similarity score attached.
type ScoredRecord struct {
	Record
	Score float32
}
