package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// OutboxEntry is an event waiting to be published to the message bus.
// Rows are written in the same transaction as the state change they
// describe and drained by the events dispatcher.
type OutboxEntry struct {
	ID        int64  `db:"id"`
	Subject   string `db:"subject"`
	EventType string `db:"event_type"`
	Payload   []byte `db:"payload"`
	MsgID     string `db:"msg_id"`
}

func enqueueOutboxTx(ctx context.Context, tx *sqlx.Tx, evt *OutboxEntry) error {
	now := time.Now().Unix()
	// Duplicate msg_id means the event was already queued by an earlier
	// run of the same pass; skip silently.
	_, err := tx.ExecContext(ctx, `
		INSERT INTO outbox (ts, subject, event_type, payload, msg_id, next_attempt_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (msg_id) DO NOTHING
	`, now, evt.Subject, evt.EventType, evt.Payload, evt.MsgID, now)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

// DequeueOutbox fetches up to limit unpublished entries that are due.
func (s *Store) DequeueOutbox(ctx context.Context, limit int) ([]OutboxEntry, error) {
	var out []OutboxEntry
	err := s.db.SelectContext(ctx, &out, `
		SELECT id, subject, event_type, payload, msg_id
		FROM outbox
		WHERE published_at IS NULL AND next_attempt_at <= ?
		ORDER BY id
		LIMIT ?
	`, time.Now().Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	return out, nil
}

// MarkOutboxPublished records a successful publish.
func (s *Store) MarkOutboxPublished(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE outbox SET published_at = ? WHERE id = ?`, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}
	return nil
}

// MarkOutboxRetry bumps the retry counter and reschedules the entry.
func (s *Store) MarkOutboxRetry(ctx context.Context, id int64, backoff time.Duration) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox
		SET retries = retries + 1, next_attempt_at = ?
		WHERE id = ?
	`, time.Now().Add(backoff).Unix(), id)
	if err != nil {
		return fmt.Errorf("mark outbox retry: %w", err)
	}
	return nil
}
