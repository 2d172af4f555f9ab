package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nhle/mailpipe/internal/model"
)

const userColumns = `id, email, google_id, enc_refresh_token, enc_access_token, token_expiry, created_at`

// UpsertUserTokens creates the user or updates their tokens in a single
// statement. A nil refresh token keeps the stored one.
func (s *SQLiteStore) UpsertUserTokens(ctx context.Context, upd model.TokenUpdate) (*model.User, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (
			email, google_id, enc_access_token, enc_refresh_token, token_expiry, created_at
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(email) DO UPDATE SET
			google_id         = COALESCE(excluded.google_id, users.google_id),
			enc_access_token  = excluded.enc_access_token,
			enc_refresh_token = COALESCE(excluded.enc_refresh_token, users.enc_refresh_token),
			token_expiry      = excluded.token_expiry`,
		upd.Email, nullIfEmpty(upd.GoogleID),
		upd.EncAccessToken, upd.EncRefreshToken, upd.TokenExpiry,
		time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("upserting user %s: %w", upd.Email, err)
	}
	return s.GetUserByEmail(ctx, upd.Email)
}

// GetUser retrieves a user by ID.
func (s *SQLiteStore) GetUser(ctx context.Context, id int64) (*model.User, error) {
	row := s.db.QueryRowxContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id)
	u, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("getting user %d: %w", id, err)
	}
	return u, nil
}

// GetUserByEmail retrieves a user by email address.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	row := s.db.QueryRowxContext(ctx, "SELECT "+userColumns+" FROM users WHERE email = ?", email)
	u, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("getting user %s: %w", email, err)
	}
	return u, nil
}

// MostRecentUser returns the most recently created user.
func (s *SQLiteStore) MostRecentUser(ctx context.Context) (*model.User, error) {
	row := s.db.QueryRowxContext(ctx,
		"SELECT "+userColumns+" FROM users ORDER BY created_at DESC, id DESC LIMIT 1")
	u, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("getting most recent user: %w", err)
	}
	return u, nil
}

// ListUsers returns every user ordered by ID.
func (s *SQLiteStore) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.db.QueryxContext(ctx, "SELECT "+userColumns+" FROM users ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// DeleteUser removes a user. Their messages are removed by cascade.
func (s *SQLiteStore) DeleteUser(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM users WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting user %d: %w", id, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	return nil
}

func scanUser(row sqlx.ColScanner) (*model.User, error) {
	var (
		u        model.User
		googleID *string
	)
	err := row.Scan(
		&u.ID, &u.Email, &googleID,
		&u.EncRefreshToken, &u.EncAccessToken, &u.TokenExpiry,
		&u.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning user row: %w", err)
	}
	if googleID != nil {
		u.GoogleID = *googleID
	}
	return &u, nil
}
