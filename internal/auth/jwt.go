package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// User is the authenticated caller extracted from a bearer token.
// Sessions, registration and everything else live outside this service.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// JWTVerifier validates bearer tokens against a JWKS endpoint, with the
// key set cached and refreshed in the background.
type JWTVerifier struct {
	jwksURL string
	cache   *jwk.Cache
}

// NewJWTVerifier registers the JWKS URL and warms the cache.
func NewJWTVerifier(ctx context.Context, jwksURL string) (*JWTVerifier, error) {
	cache := jwk.NewCache(ctx)
	if err := cache.Register(jwksURL, jwk.WithMinRefreshInterval(5*time.Minute)); err != nil {
		return nil, fmt.Errorf("register JWKS URL: %w", err)
	}

	warmCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := cache.Refresh(warmCtx, jwksURL); err != nil {
		return nil, fmt.Errorf("initial JWKS fetch: %w", err)
	}

	return &JWTVerifier{jwksURL: jwksURL, cache: cache}, nil
}

// UserFromRequest parses and validates the Authorization header.
func (v *JWTVerifier) UserFromRequest(r *http.Request) (*User, error) {
	keySet, err := v.cache.Get(r.Context(), v.jwksURL)
	if err != nil {
		return nil, fmt.Errorf("load JWKS: %w", err)
	}

	token, err := jwt.ParseRequest(r,
		jwt.WithKeySet(keySet),
		jwt.WithValidate(true),
	)
	if err != nil {
		return nil, fmt.Errorf("parse JWT: %w", err)
	}

	userID := token.Subject()
	if userID == "" {
		return nil, fmt.Errorf("token missing subject")
	}

	u := &User{ID: userID}
	if emailClaim, ok := token.Get("email"); ok {
		u.Email, _ = emailClaim.(string)
	}
	return u, nil
}
