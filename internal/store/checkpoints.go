package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/taskwell/mailsync/internal/model"
)

// LoadCheckpoint returns the sync checkpoint for (user, provider). The
// zero checkpoint is returned when the user has never completed a pass.
func (s *Store) LoadCheckpoint(ctx context.Context, userID string, p model.Provider) (model.Checkpoint, error) {
	var row struct {
		Since  sql.NullTime `db:"since_ts"`
		Cursor string       `db:"cursor"`
	}
	err := s.db.GetContext(ctx, &row, `
		SELECT since_ts, cursor FROM sync_checkpoints
		WHERE user_id = ? AND provider = ?
	`, userID, p)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Checkpoint{}, nil
	}
	if err != nil {
		return model.Checkpoint{}, fmt.Errorf("load checkpoint: %w", err)
	}

	cp := model.Checkpoint{Cursor: row.Cursor}
	if row.Since.Valid {
		cp.Since = row.Since.Time
	}
	return cp, nil
}

// SaveCheckpoint upserts the checkpoint. Callers only invoke this after
// a full listing pass completed without a fatal error.
func (s *Store) SaveCheckpoint(ctx context.Context, userID string, p model.Provider, cp model.Checkpoint) error {
	var since any
	if !cp.Since.IsZero() {
		since = cp.Since.UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_checkpoints (user_id, provider, since_ts, cursor, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, provider) DO UPDATE SET
			since_ts = excluded.since_ts,
			cursor = excluded.cursor,
			updated_at = excluded.updated_at
	`, userID, p, since, cp.Cursor, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}
