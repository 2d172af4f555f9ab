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

const messageColumns = `
	id, message_id, user_id,
	sender, recipients, subject, snippet, labels,
	ai_summary_enc, ai_classification_enc,
	is_spam, is_read, is_draft,
	status, created_at`

const insertMessageQuery = `
	INSERT INTO emails (
		message_id, user_id,
		sender, recipients, subject, snippet, labels,
		is_spam, is_read, is_draft,
		status, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// ExistingExternalIDs returns which of ids are already stored.
func (s *SQLiteStore) ExistingExternalIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	found := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return found, nil
	}

	query, args, err := sqlx.In("SELECT message_id FROM emails WHERE message_id IN (?)", ids)
	if err != nil {
		return nil, fmt.Errorf("building external id query: %w", err)
	}

	var existing []string
	if err := s.db.SelectContext(ctx, &existing, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("querying external ids: %w", err)
	}
	for _, id := range existing {
		found[id] = true
	}
	return found, nil
}

// InsertMessages inserts a batch in one transaction. Rows whose external
// ID already exists are skipped, so only the rows actually written are
// returned.
func (s *SQLiteStore) InsertMessages(ctx context.Context, msgs []model.Message) ([]model.Message, error) {
	if len(msgs) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, insertMessageQuery)
	if err != nil {
		return nil, fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	inserted := make([]model.Message, 0, len(msgs))
	for _, m := range msgs {
		row, err := execInsertMessage(ctx, stmt, m)
		if errors.Is(err, ErrDuplicate) {
			continue
		}
		if err != nil {
			return nil, err
		}
		inserted = append(inserted, row)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing messages: %w", err)
	}
	return inserted, nil
}

// InsertMessage inserts a single locally created message. A colliding
// external ID yields ErrDuplicate.
func (s *SQLiteStore) InsertMessage(ctx context.Context, msg model.Message) (*model.Message, error) {
	stmt, err := s.db.PreparexContext(ctx, insertMessageQuery)
	if err != nil {
		return nil, fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	m, err := execInsertMessage(ctx, stmt, msg)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func execInsertMessage(ctx context.Context, stmt *sqlx.Stmt, m model.Message) (model.Message, error) {
	if m.Status == "" {
		m.Status = model.StatusInbox
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	result, err := stmt.ExecContext(ctx,
		m.ExternalID, m.UserID,
		m.Sender, m.Recipients, m.Subject, m.Snippet, m.Labels,
		boolToInt(m.IsSpam), boolToInt(m.IsRead), boolToInt(m.IsDraft),
		string(m.Status), m.CreatedAt,
	)
	if isUniqueViolation(err) {
		return model.Message{}, fmt.Errorf("message %s: %w", m.ExternalID, ErrDuplicate)
	}
	if err != nil {
		return model.Message{}, fmt.Errorf("inserting message %s: %w", m.ExternalID, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return model.Message{}, fmt.Errorf("reading id of message %s: %w", m.ExternalID, err)
	}
	m.ID = id
	return m, nil
}

// GetMessage retrieves a message by ID regardless of owner. It is meant
// for background jobs, not user actions.
func (s *SQLiteStore) GetMessage(ctx context.Context, id int64) (*model.Message, error) {
	row := s.db.QueryRowxContext(ctx, "SELECT "+messageColumns+" FROM emails WHERE id = ?", id)
	m, err := scanMessage(row)
	if err != nil {
		return nil, fmt.Errorf("getting message %d: %w", id, err)
	}
	return m, nil
}

// GetUserMessage retrieves a message only if userID owns it.
func (s *SQLiteStore) GetUserMessage(ctx context.Context, userID, id int64) (*model.Message, error) {
	row := s.db.QueryRowxContext(ctx,
		"SELECT "+messageColumns+" FROM emails WHERE id = ? AND user_id = ?", id, userID)
	m, err := scanMessage(row)
	if err != nil {
		return nil, fmt.Errorf("getting message %d: %w", id, err)
	}
	return m, nil
}

// ListMessages returns a user's messages, newest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, userID int64, filter MessageFilter) ([]model.Message, error) {
	query := "SELECT " + messageColumns + " FROM emails WHERE user_id = ?"
	args := []interface{}{userID}

	if filter.Status != nil {
		query += " AND status = ?"
		args = append(args, string(*filter.Status))
	}
	query += " ORDER BY created_at DESC, id DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	return s.queryMessages(ctx, query, args...)
}

// ListUnannotated returns mirrored messages still missing a summary or a
// classification, oldest first. Drafts and sent mail are never annotated.
func (s *SQLiteStore) ListUnannotated(ctx context.Context, limit int) ([]model.Message, error) {
	query := "SELECT " + messageColumns + ` FROM emails
		WHERE (ai_summary_enc IS NULL OR ai_classification_enc IS NULL)
		  AND status NOT IN ('draft', 'sent')
		ORDER BY created_at, id`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	return s.queryMessages(ctx, query)
}

// CountUnannotated returns the size of the annotation backlog.
func (s *SQLiteStore) CountUnannotated(ctx context.Context) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM emails
		WHERE (ai_summary_enc IS NULL OR ai_classification_enc IS NULL)
		  AND status NOT IN ('draft', 'sent')`)
	if err != nil {
		return 0, fmt.Errorf("counting unannotated messages: %w", err)
	}
	return n, nil
}

// SetClassification replaces the encrypted classification. A spam verdict
// also raises is_spam; it is never lowered here.
func (s *SQLiteStore) SetClassification(ctx context.Context, id int64, enc string, spam bool) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE emails SET ai_classification_enc = ?, is_spam = MAX(is_spam, ?) WHERE id = ?",
		enc, boolToInt(spam), id,
	)
	if err != nil {
		return fmt.Errorf("setting classification of message %d: %w", id, err)
	}
	return expectRow(result, "message", id)
}

// SetSummary replaces the encrypted summary.
func (s *SQLiteStore) SetSummary(ctx context.Context, id int64, enc string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE emails SET ai_summary_enc = ? WHERE id = ?", enc, id)
	if err != nil {
		return fmt.Errorf("setting summary of message %d: %w", id, err)
	}
	return expectRow(result, "message", id)
}

// SetStatus moves a message owned by userID to status.
func (s *SQLiteStore) SetStatus(ctx context.Context, userID, id int64, status model.Status) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE emails SET status = ? WHERE id = ? AND user_id = ?",
		string(status), id, userID,
	)
	if err != nil {
		return fmt.Errorf("setting status of message %d: %w", id, err)
	}
	return expectRow(result, "message", id)
}

// MarkRead flags a message owned by userID as read.
func (s *SQLiteStore) MarkRead(ctx context.Context, userID, id int64) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE emails SET is_read = 1 WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return fmt.Errorf("marking message %d read: %w", id, err)
	}
	return expectRow(result, "message", id)
}

func (s *SQLiteStore) queryMessages(ctx context.Context, query string, args ...interface{}) ([]model.Message, error) {
	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var msgs []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

func scanMessage(row sqlx.ColScanner) (*model.Message, error) {
	var (
		m                       model.Message
		status                  string
		isSpam, isRead, isDraft int
	)
	err := row.Scan(
		&m.ID, &m.ExternalID, &m.UserID,
		&m.Sender, &m.Recipients, &m.Subject, &m.Snippet, &m.Labels,
		&m.SummaryEnc, &m.ClassificationEnc,
		&isSpam, &isRead, &isDraft,
		&status, &m.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning message row: %w", err)
	}

	m.Status = model.Status(status)
	m.IsSpam = isSpam != 0
	m.IsRead = isRead != 0
	m.IsDraft = isDraft != 0
	return &m, nil
}

func expectRow(result sql.Result, what string, id interface{}) error {
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%s %v: %w", what, id, ErrNotFound)
	}
	return nil
}
