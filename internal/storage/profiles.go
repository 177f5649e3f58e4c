package storage

import (
	"context"
	"fmt"
	"time"
)

// SetProfileField upserts one field of a candidate profile.
func (s *Store) SetProfileField(ctx context.Context, candidateID, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO candidate_profile_fields (candidate_id, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(candidate_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		candidateID, key, value, formatTime(time.Now()),
	)
	return err
}

// ReplaceProfileFields overwrites every field of a candidate profile in one
// transaction. Keys absent from fields are removed.
func (s *Store) ReplaceProfileFields(ctx context.Context, candidateID string, fields map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning profile transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM candidate_profile_fields WHERE candidate_id = ?`, candidateID); err != nil {
		return fmt.Errorf("clearing profile %s: %w", candidateID, err)
	}

	now := formatTime(time.Now())
	for k, v := range fields {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO candidate_profile_fields (candidate_id, key, value, updated_at) VALUES (?, ?, ?, ?)`,
			candidateID, k, v, now,
		); err != nil {
			return fmt.Errorf("writing profile field %q: %w", k, err)
		}
	}
	return tx.Commit()
}

// GetProfileFields returns every stored field of a candidate profile, along
// with the latest update time. Returns ErrNotFound when none exist.
func (s *Store) GetProfileFields(ctx context.Context, candidateID string) (map[string]string, time.Time, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value, updated_at FROM candidate_profile_fields WHERE candidate_id = ?`, candidateID)
	if err != nil {
		return nil, time.Time{}, err
	}
	defer rows.Close()

	result := make(map[string]string)
	var latest time.Time
	for rows.Next() {
		var k, v, updated string
		if err := rows.Scan(&k, &v, &updated); err != nil {
			return nil, time.Time{}, err
		}
		result[k] = v
		if t, err := parseTime(updated); err == nil && t.After(latest) {
			latest = t
		}
	}
	if err := rows.Err(); err != nil {
		return nil, time.Time{}, err
	}
	if len(result) == 0 {
		return nil, time.Time{}, ErrNotFound
	}
	return result, latest, nil
}
