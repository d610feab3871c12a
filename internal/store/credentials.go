package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/taskwell/mailsync/internal/model"
)

// ErrNoCredential is returned when no grant is stored for the pair.
var ErrNoCredential = errors.New("no stored credential")

// LoadCredential returns the OAuth grant for (user, provider).
func (s *Store) LoadCredential(ctx context.Context, userID string, p model.Provider) (*model.OAuthCredential, error) {
	var cred model.OAuthCredential
	err := s.db.GetContext(ctx, &cred, `
		SELECT * FROM oauth_credentials
		WHERE user_id = ? AND provider = ?
	`, userID, p)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoCredential
	}
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}
	return &cred, nil
}

// SaveCredential upserts the grant. Adapters call this right after a
// refresh so a crash never loses the rotated token.
func (s *Store) SaveCredential(ctx context.Context, cred *model.OAuthCredential) error {
	cred.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO oauth_credentials
			(user_id, provider, access_token, refresh_token, expiry, scope, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, provider) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expiry = excluded.expiry,
			scope = excluded.scope,
			updated_at = excluded.updated_at
	`, cred.UserID, cred.Provider, cred.AccessToken, cred.RefreshToken,
		cred.Expiry.UTC(), cred.Scope, cred.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	return nil
}
