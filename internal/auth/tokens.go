// Package auth manages OAuth grants for mailbox backends and verifies
// the bearer tokens on the HTTP surface.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/taskwell/mailsync/internal/model"
	"github.com/taskwell/mailsync/internal/provider"
	"github.com/taskwell/mailsync/internal/store"
)

// refreshMargin refreshes tokens proactively this long before expiry so
// a request never races the deadline.
const refreshMargin = 2 * time.Minute

// TokenSource is a store-backed oauth2.TokenSource for one
// (user, provider) pair. It refreshes expired access tokens with the
// stored refresh token and persists the rotated grant before handing
// the token out, so a retried call after a 401 sees the new token.
type TokenSource struct {
	store    *store.Store
	cfg      *oauth2.Config
	userID   string
	provider model.Provider

	mu  sync.Mutex
	tok *oauth2.Token
}

// NewTokenSource loads the stored grant for (user, provider). It fails
// with ErrProviderUnavailable when no grant exists at all.
func NewTokenSource(ctx context.Context, st *store.Store, cfg *oauth2.Config, userID string, p model.Provider) (*TokenSource, error) {
	cred, err := st.LoadCredential(ctx, userID, p)
	if err != nil {
		if errors.Is(err, store.ErrNoCredential) {
			return nil, fmt.Errorf("%s %s: %w", userID, p, provider.ErrProviderUnavailable)
		}
		return nil, err
	}

	return &TokenSource{
		store:    st,
		cfg:      cfg,
		userID:   userID,
		provider: p,
		tok: &oauth2.Token{
			AccessToken:  cred.AccessToken,
			RefreshToken: cred.RefreshToken,
			Expiry:       cred.Expiry,
		},
	}, nil
}

// Token returns a valid access token, refreshing when the stored one is
// within the safety margin of expiry. A failed refresh surfaces
// ErrReconnectRequired rather than an empty result.
func (ts *TokenSource) Token() (*oauth2.Token, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.tok.AccessToken != "" && time.Until(ts.tok.Expiry) > refreshMargin {
		return ts.tok, nil
	}

	if ts.tok.RefreshToken == "" {
		return nil, fmt.Errorf("%s %s: token expired and no refresh token: %w",
			ts.userID, ts.provider, provider.ErrReconnectRequired)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	fresh, err := ts.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: ts.tok.RefreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("%s %s: refresh failed: %v: %w",
			ts.userID, ts.provider, err, provider.ErrReconnectRequired)
	}

	// A provider may rotate the refresh token; keep the old one when it
	// does not.
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = ts.tok.RefreshToken
	}

	if err := ts.store.SaveCredential(ctx, &model.OAuthCredential{
		UserID:       ts.userID,
		Provider:     ts.provider,
		AccessToken:  fresh.AccessToken,
		RefreshToken: fresh.RefreshToken,
		Expiry:       fresh.Expiry,
	}); err != nil {
		return nil, fmt.Errorf("persist refreshed token: %w", err)
	}

	ts.tok = fresh
	return ts.tok, nil
}

var _ oauth2.TokenSource = (*TokenSource)(nil)
