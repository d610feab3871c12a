package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/taskwell/mailsync/internal/model"
	"github.com/taskwell/mailsync/internal/provider"
	"github.com/taskwell/mailsync/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("opening test store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNewTokenSourceMissingGrant(t *testing.T) {
	st := newTestStore(t)

	_, err := NewTokenSource(context.Background(), st, &oauth2.Config{}, "u1", model.ProviderGmail)
	if !errors.Is(err, provider.ErrProviderUnavailable) {
		t.Fatalf("err = %v, want ErrProviderUnavailable", err)
	}
}

func TestTokenFreshGrantNoRefresh(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.SaveCredential(ctx, &model.OAuthCredential{
		UserID:       "u1",
		Provider:     model.ProviderGmail,
		AccessToken:  "fresh",
		RefreshToken: "rt",
		Expiry:       time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatalf("save credential: %v", err)
	}

	ts, err := NewTokenSource(ctx, st, &oauth2.Config{}, "u1", model.ProviderGmail)
	if err != nil {
		t.Fatalf("new token source: %v", err)
	}

	tok, err := ts.Token()
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if tok.AccessToken != "fresh" {
		t.Fatalf("access token = %q, want the stored one", tok.AccessToken)
	}
}

func TestTokenExpiredWithoutRefreshToken(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.SaveCredential(ctx, &model.OAuthCredential{
		UserID:      "u1",
		Provider:    model.ProviderGmail,
		AccessToken: "stale",
		Expiry:      time.Now().Add(-time.Hour),
	}); err != nil {
		t.Fatalf("save credential: %v", err)
	}

	ts, err := NewTokenSource(ctx, st, &oauth2.Config{}, "u1", model.ProviderGmail)
	if err != nil {
		t.Fatalf("new token source: %v", err)
	}

	if _, err := ts.Token(); !errors.Is(err, provider.ErrReconnectRequired) {
		t.Fatalf("err = %v, want ErrReconnectRequired", err)
	}
}
