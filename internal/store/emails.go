package store

import (
	"context"
	"fmt"
	"time"

	"github.com/taskwell/mailsync/internal/model"
)

// CreateEmail inserts a metadata record in status EXTRACTED, together
// with its outbox entry when evt is non-nil, in one transaction. It
// returns false without error when the (user, provider, message id) key
// already exists, so a retried sync pass never duplicates rows.
func (s *Store) CreateEmail(ctx context.Context, m *model.EmailMetadata, evt *OutboxEntry) (bool, error) {
	m.Status = model.StatusExtracted
	m.CreatedAt = time.Now().UTC()
	m.Snippet = model.TruncateSnippet(m.Snippet)
	if m.LabelsJSON == "" {
		m.LabelsJSON = "[]"
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO email_metadata
			(user_id, provider, provider_message_id, thread_id, sender,
			 subject, snippet, received_at, labels_json, web_link, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, provider, provider_message_id) DO NOTHING
	`, m.UserID, m.Provider, m.ProviderMessageID, m.ThreadID, m.Sender,
		m.Subject, m.Snippet, m.ReceivedAt.UTC(), m.LabelsJSON, m.WebLink, m.Status, m.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert email metadata: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return false, nil
	}

	if evt != nil {
		if err := enqueueOutboxTx(ctx, tx, evt); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit email metadata: %w", err)
	}
	return true, nil
}

// EmailExists reports whether a metadata record exists for the key.
func (s *Store) EmailExists(ctx context.Context, userID string, p model.Provider, providerMessageID string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM email_metadata
		WHERE user_id = ? AND provider = ? AND provider_message_id = ?
	`, userID, p, providerMessageID)
	if err != nil {
		return false, fmt.Errorf("check email existence: %w", err)
	}
	return n > 0, nil
}

// ListEmailsByStatus returns records for one user/provider in the given
// status, in insertion order. limit <= 0 means no cap.
func (s *Store) ListEmailsByStatus(ctx context.Context, userID string, p model.Provider, status model.EmailStatus, limit int) ([]model.EmailMetadata, error) {
	query := `
		SELECT * FROM email_metadata
		WHERE user_id = ? AND provider = ? AND status = ?
		ORDER BY id`
	args := []any{userID, p, status}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var out []model.EmailMetadata
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("list emails by status: %w", err)
	}
	return out, nil
}

// MarkEmailAnalyzed transitions a record from EXTRACTED to ANALYZED.
// Re-marking an already-ANALYZED record is a no-op; the reverse
// transition does not exist.
func (s *Store) MarkEmailAnalyzed(ctx context.Context, userID string, p model.Provider, providerMessageID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE email_metadata
		SET status = ?, analyzed_at = ?
		WHERE user_id = ? AND provider = ? AND provider_message_id = ? AND status = ?
	`, model.StatusAnalyzed, time.Now().UTC(), userID, p, providerMessageID, model.StatusExtracted)
	if err != nil {
		return fmt.Errorf("mark email analyzed: %w", err)
	}
	return nil
}

// ListIgnoredEmails returns ANALYZED records with no linked action.
// "Ignored" is derived by this anti-join, never stored as a flag.
func (s *Store) ListIgnoredEmails(ctx context.Context, userID string) ([]model.EmailMetadata, error) {
	var out []model.EmailMetadata
	err := s.db.SelectContext(ctx, &out, `
		SELECT e.* FROM email_metadata e
		WHERE e.user_id = ? AND e.status = ?
		  AND NOT EXISTS (
			SELECT 1 FROM actions a
			WHERE a.user_id = e.user_id
			  AND a.provider = e.provider
			  AND a.provider_message_id = e.provider_message_id
		  )
		ORDER BY e.id
	`, userID, model.StatusAnalyzed)
	if err != nil {
		return nil, fmt.Errorf("list ignored emails: %w", err)
	}
	return out, nil
}
