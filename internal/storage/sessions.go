package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/rehearse/internal/interview"
)

const sessionColumns = `id, candidate_id, config_json, status, state, question_count, assessment_json, created_at, completed_at`

// CreateSession inserts a new session together with its initial turns.
func (s *Store) CreateSession(ctx context.Context, sess interview.Session) error {
	cfg, err := json.Marshal(sess.Config)
	if err != nil {
		return fmt.Errorf("marshalling session config: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning session transaction: %w", err)
	}
	defer tx.Rollback()

	now := formatTime(time.Now())
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (id, candidate_id, config_json, status, state, question_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.CandidateID, string(cfg), string(sess.Status), string(sess.State),
		sess.QuestionCount, formatTime(sess.CreatedAt), now,
	); err != nil {
		return fmt.Errorf("inserting session %s: %w", sess.ID, err)
	}

	if err := insertTurns(ctx, tx, sess.ID, sess.Turns); err != nil {
		return err
	}
	return tx.Commit()
}

// SaveProgress appends newTurns and writes the session header (status, state,
// question count, completion time, assessment) in one transaction. A turn
// whose sequence number already exists fails with ErrDuplicateTurn and
// nothing is written.
func (s *Store) SaveProgress(ctx context.Context, sess interview.Session, newTurns []interview.Turn) error {
	var assessment sql.NullString
	if sess.Assessment != nil {
		b, err := json.Marshal(sess.Assessment)
		if err != nil {
			return fmt.Errorf("marshalling assessment: %w", err)
		}
		assessment = sql.NullString{String: string(b), Valid: true}
	}
	var completedAt sql.NullString
	if sess.CompletedAt != nil {
		completedAt = sql.NullString{String: formatTime(*sess.CompletedAt), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning progress transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertTurns(ctx, tx, sess.ID, newTurns); err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE sessions SET status = ?, state = ?, question_count = ?, assessment_json = ?, completed_at = ?, updated_at = ?
		WHERE id = ?`,
		string(sess.Status), string(sess.State), sess.QuestionCount, assessment, completedAt,
		formatTime(time.Now()), sess.ID,
	)
	if err != nil {
		return fmt.Errorf("updating session %s: %w", sess.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

func insertTurns(ctx context.Context, tx *sql.Tx, sessionID string, turns []interview.Turn) error {
	for _, t := range turns {
		speech, err := marshalNullable(t.Speech)
		if err != nil {
			return fmt.Errorf("marshalling speech metrics: %w", err)
		}
		analysis, err := marshalNullable(t.Analysis)
		if err != nil {
			return fmt.Errorf("marshalling turn analysis: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO turns (session_id, seq, role, kind, content, speech_json, analysis_json, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			sessionID, t.Seq, string(t.Role), string(t.Kind), t.Content, speech, analysis, formatTime(t.CreatedAt),
		)
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE constraint failed") {
				return fmt.Errorf("turn %d of session %s: %w", t.Seq, sessionID, ErrDuplicateTurn)
			}
			return fmt.Errorf("inserting turn %d: %w", t.Seq, err)
		}
	}
	return nil
}

func marshalNullable[T any](v *T) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

// GetSession loads a session with its full turn history in conversation order.
func (s *Store) GetSession(ctx context.Context, id string) (interview.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return interview.Session{}, ErrNotFound
	}
	if err != nil {
		return interview.Session{}, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, role, kind, content, speech_json, analysis_json, created_at
		FROM turns WHERE session_id = ? ORDER BY seq ASC`, id)
	if err != nil {
		return interview.Session{}, fmt.Errorf("querying turns: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t interview.Turn
		var role, kind, createdAt string
		var speech, analysis sql.NullString
		if err := rows.Scan(&t.Seq, &role, &kind, &t.Content, &speech, &analysis, &createdAt); err != nil {
			return interview.Session{}, fmt.Errorf("scanning turn: %w", err)
		}
		t.Role = interview.Role(role)
		t.Kind = interview.TurnKind(kind)
		if t.CreatedAt, err = parseTime(createdAt); err != nil {
			return interview.Session{}, fmt.Errorf("parsing turn created_at: %w", err)
		}
		if speech.Valid {
			t.Speech = &interview.SpeechMetrics{}
			if err := json.Unmarshal([]byte(speech.String), t.Speech); err != nil {
				return interview.Session{}, fmt.Errorf("decoding speech metrics of turn %d: %w", t.Seq, err)
			}
		}
		if analysis.Valid {
			t.Analysis = &interview.TurnAnalysis{}
			if err := json.Unmarshal([]byte(analysis.String), t.Analysis); err != nil {
				return interview.Session{}, fmt.Errorf("decoding analysis of turn %d: %w", t.Seq, err)
			}
		}
		sess.Turns = append(sess.Turns, t)
	}
	return sess, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (interview.Session, error) {
	var sess interview.Session
	var cfg, status, state, createdAt string
	var assessment, completedAt sql.NullString
	if err := row.Scan(&sess.ID, &sess.CandidateID, &cfg, &status, &state, &sess.QuestionCount,
		&assessment, &createdAt, &completedAt); err != nil {
		return interview.Session{}, err
	}
	sess.Status = interview.Status(status)
	sess.State = interview.State(state)
	if err := json.Unmarshal([]byte(cfg), &sess.Config); err != nil {
		return interview.Session{}, fmt.Errorf("decoding session config: %w", err)
	}
	if assessment.Valid {
		sess.Assessment = &interview.Assessment{}
		if err := json.Unmarshal([]byte(assessment.String), sess.Assessment); err != nil {
			return interview.Session{}, fmt.Errorf("decoding assessment: %w", err)
		}
	}
	var err error
	if sess.CreatedAt, err = parseTime(createdAt); err != nil {
		return interview.Session{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if sess.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return interview.Session{}, fmt.Errorf("parsing completed_at: %w", err)
	}
	return sess, nil
}

// ListSessions returns a candidate's session summaries, newest first.
func (s *Store) ListSessions(ctx context.Context, candidateID string, limit, offset int) ([]interview.SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+`,
			(SELECT COUNT(*) FROM turns t WHERE t.session_id = sessions.id AND t.role = 'candidate')
		FROM sessions WHERE candidate_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`, candidateID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	results := []interview.SessionSummary{}
	for rows.Next() {
		var answered int
		sess, err := scanSession(scanFunc(func(dest ...any) error {
			return rows.Scan(append(dest, &answered)...)
		}))
		if err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sum := sess.Summary()
		sum.QuestionsAnswered = answered
		results = append(results, sum)
	}
	return results, rows.Err()
}

// RecentCompletedSessions returns up to limit completed sessions, newest
// first, without turns.
func (s *Store) RecentCompletedSessions(ctx context.Context, candidateID string, limit int) ([]interview.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE candidate_id = ? AND status = 'completed'
		ORDER BY completed_at DESC LIMIT ?`, candidateID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying completed sessions: %w", err)
	}
	defer rows.Close()

	var results []interview.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		results = append(results, sess)
	}
	return results, rows.Err()
}

type scanFunc func(dest ...any) error

func (f scanFunc) Scan(dest ...any) error { return f(dest...) }
