package store

import (
	"context"
	"fmt"
)

type secretRow struct {
	id     int64
	first  *string
	second *string
}

// RotateSecrets passes every stored ciphertext through fn and writes the
// result back, all inside one transaction. It returns the number of
// values rewritten.
func (s *SQLiteStore) RotateSecrets(ctx context.Context, fn func(*string) (*string, error)) (int, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	targets := []struct {
		table, first, second string
	}{
		{"users", "enc_access_token", "enc_refresh_token"},
		{"emails", "ai_summary_enc", "ai_classification_enc"},
	}

	count := 0
	for _, t := range targets {
		// Read everything before writing; the transaction holds one connection.
		rows, err := tx.QueryxContext(ctx, fmt.Sprintf(
			"SELECT id, %s, %s FROM %s WHERE %s IS NOT NULL OR %s IS NOT NULL",
			t.first, t.second, t.table, t.first, t.second,
		))
		if err != nil {
			return 0, fmt.Errorf("reading %s secrets: %w", t.table, err)
		}
		var pending []secretRow
		for rows.Next() {
			var r secretRow
			if err := rows.Scan(&r.id, &r.first, &r.second); err != nil {
				rows.Close()
				return 0, fmt.Errorf("scanning %s secrets: %w", t.table, err)
			}
			pending = append(pending, r)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return 0, fmt.Errorf("reading %s secrets: %w", t.table, err)
		}

		update := fmt.Sprintf("UPDATE %s SET %s = ?, %s = ? WHERE id = ?", t.table, t.first, t.second)
		for _, r := range pending {
			first, err := fn(r.first)
			if err != nil {
				return 0, fmt.Errorf("rotating %s %d: %w", t.table, r.id, err)
			}
			second, err := fn(r.second)
			if err != nil {
				return 0, fmt.Errorf("rotating %s %d: %w", t.table, r.id, err)
			}
			if _, err := tx.ExecContext(ctx, update, first, second, r.id); err != nil {
				return 0, fmt.Errorf("writing %s %d: %w", t.table, r.id, err)
			}
			if r.first != nil {
				count++
			}
			if r.second != nil {
				count++
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing rotation: %w", err)
	}
	return count, nil
}
