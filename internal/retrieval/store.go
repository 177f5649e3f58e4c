package retrieval

import (
	"cmp"
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"
)

var _ VectorStore = (*SQLiteStore)(nil)

// SQLiteStore provides per-candidate vector storage and brute-force cosine
// similarity search backed by SQLite. Candidate indexes are small (a
// profile, a résumé and a handful of session summaries), so a scan over the
// candidate's rows is fast enough.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an existing *sql.DB for vector operations.
// The context_vectors table must already exist (created via migrations).
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// ReplaceCandidate deletes the candidate's vectors and inserts records in a
// single transaction.
func (s *SQLiteStore) ReplaceCandidate(ctx context.Context, candidateID string, records []Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning replace transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM context_vectors WHERE candidate_id = ?`, candidateID); err != nil {
		return fmt.Errorf("clearing vectors for %s: %w", candidateID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO context_vectors (id, candidate_id, source_id, source_type, text_chunk, embedding, created_at, tags)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, r := range records {
		createdAt := r.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		tags := r.Tags
		if tags == "" {
			tags = "[]"
		}
		if _, err := stmt.ExecContext(ctx, r.ID, candidateID, r.SourceID, r.SourceType, r.TextChunk,
			encodeVector(r.Embedding), createdAt.Format(time.RFC3339), tags); err != nil {
			return fmt.Errorf("inserting record %s: %w", r.ID, err)
		}
	}

	return tx.Commit()
}

// Search scores every vector the candidate owns against vector and returns
// the topK best, highest first. Ties break on id.
func (s *SQLiteStore) Search(ctx context.Context, candidateID string, vector []float32, topK int) ([]ScoredRecord, error) {
	qn := norm(vector)
	if qn == 0 || topK <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, candidate_id, source_id, source_type, text_chunk, embedding, created_at, tags
		FROM context_vectors WHERE candidate_id = ?`, candidateID)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	var (
		results []ScoredRecord
		vec     []float32
	)
	for rows.Next() {
		var (
			r         Record
			blob      []byte
			createdAt string
		)
		if err := rows.Scan(&r.ID, &r.CandidateID, &r.SourceID, &r.SourceType, &r.TextChunk, &blob, &createdAt, &r.Tags); err != nil {
			return nil, fmt.Errorf("scanning vector row: %w", err)
		}
		if vec, err = decodeVector(vec, blob); err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", r.ID, err)
		}
		if r.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at for %s: %w", r.ID, err)
		}
		results = append(results, ScoredRecord{Record: r, Score: cosine(vector, vec, qn)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating vectors: %w", err)
	}

	slices.SortFunc(results, func(a, b ScoredRecord) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// CountCandidate returns the number of records indexed for the candidate.
func (s *SQLiteStore) CountCandidate(ctx context.Context, candidateID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM context_vectors WHERE candidate_id = ?`, candidateID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting vectors for %s: %w", candidateID, err)
	}
	return n, nil
}

// encodeVector stores v as little-endian float32s.
func encodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeVector decodes b into buf, reusing its capacity across rows.
func decodeVector(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// cosine returns dot(a,b) / (aNorm * |b|). Mismatched dimensions score 0.
func cosine(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}
