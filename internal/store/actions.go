package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/taskwell/mailsync/internal/model"
)

// CreateAction persists a new action draft in status TODO, together with
// its outbox entry when evt is non-nil, in one transaction. It returns
// false without error when the id already exists, so a retried analysis
// pass that re-derives the same id never duplicates a draft.
func (s *Store) CreateAction(ctx context.Context, a *model.Action, evt *OutboxEntry) (bool, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.Status = model.ActionTodo
	a.CreatedAt = time.Now().UTC()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO actions
			(id, user_id, provider, provider_message_id, title, type,
			 source_sentence, due_date, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`, a.ID, a.UserID, a.Provider, a.ProviderMessageID, a.Title, a.Type,
		a.SourceSentence, a.DueDate, a.Status, a.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert action: %w", err)
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
		return false, fmt.Errorf("commit action: %w", err)
	}
	return true, nil
}

// ListActionsForEmail returns the actions linked to one source message,
// oldest first.
func (s *Store) ListActionsForEmail(ctx context.Context, userID string, p model.Provider, providerMessageID string) ([]model.Action, error) {
	var out []model.Action
	err := s.db.SelectContext(ctx, &out, `
		SELECT * FROM actions
		WHERE user_id = ? AND provider = ? AND provider_message_id = ?
		ORDER BY created_at, id
	`, userID, p, providerMessageID)
	if err != nil {
		return nil, fmt.Errorf("list actions for email: %w", err)
	}
	return out, nil
}

// CountActionsForEmail returns how many actions reference the message.
func (s *Store) CountActionsForEmail(ctx context.Context, userID string, p model.Provider, providerMessageID string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM actions
		WHERE user_id = ? AND provider = ? AND provider_message_id = ?
	`, userID, p, providerMessageID)
	if err != nil {
		return 0, fmt.Errorf("count actions for email: %w", err)
	}
	return n, nil
}
