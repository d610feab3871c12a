package graph

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"golang.org/x/oauth2"
)

// TokenCredential bridges the stored OAuth grant into the Azure
// credential interface the Graph SDK expects. Refresh and persistence
// happen inside the token source; each Graph request just asks for the
// current token.
type TokenCredential struct {
	ts oauth2.TokenSource
}

// NewTokenCredential wraps an oauth2 token source.
func NewTokenCredential(ts oauth2.TokenSource) *TokenCredential {
	return &TokenCredential{ts: ts}
}

// GetToken implements azcore.TokenCredential.
func (c *TokenCredential) GetToken(ctx context.Context, options policy.TokenRequestOptions) (azcore.AccessToken, error) {
	tok, err := c.ts.Token()
	if err != nil {
		return azcore.AccessToken{}, fmt.Errorf("graph credential: %w", err)
	}
	return azcore.AccessToken{
		Token:     tok.AccessToken,
		ExpiresOn: tok.Expiry,
	}, nil
}

var _ azcore.TokenCredential = (*TokenCredential)(nil)
