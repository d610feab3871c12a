package sync

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/microsoft"
	gmailapi "google.golang.org/api/gmail/v1"

	"github.com/taskwell/mailsync/internal/auth"
	"github.com/taskwell/mailsync/internal/config"
	"github.com/taskwell/mailsync/internal/model"
	"github.com/taskwell/mailsync/internal/provider"
	"github.com/taskwell/mailsync/internal/provider/gmail"
	"github.com/taskwell/mailsync/internal/provider/graph"
	"github.com/taskwell/mailsync/internal/provider/imap"
	"github.com/taskwell/mailsync/internal/rate"
	"github.com/taskwell/mailsync/internal/store"
)

// Factory builds a connected MailProvider for one user and backend
// kind, wiring the stored OAuth grant, the rate limiter and the shared
// orchestration service together.
type Factory struct {
	cfg   *config.Config
	store *store.Store
	log   *zap.Logger
}

// NewFactory wires the provider factory.
func NewFactory(cfg *config.Config, st *store.Store, log *zap.Logger) *Factory {
	return &Factory{cfg: cfg, store: st, log: log}
}

// Provider returns a ready MailProvider. The caller owns the result and
// must Disconnect it when done.
func (f *Factory) Provider(ctx context.Context, userID string, p model.Provider) (provider.MailProvider, error) {
	backend, err := f.backend(ctx, userID, p)
	if err != nil {
		return nil, err
	}
	return NewService(f.store, backend, userID, p, f.cfg.Lookback(), f.log), nil
}

func (f *Factory) backend(ctx context.Context, userID string, p model.Provider) (provider.Backend, error) {
	switch p {
	case model.ProviderGmail:
		ts, err := auth.NewTokenSource(ctx, f.store, f.googleOAuth(), userID, p)
		if err != nil {
			return nil, err
		}
		return gmail.New(ctx, ts, f.cfg.Sync.PageSize, f.limiter())

	case model.ProviderGraph:
		ts, err := auth.NewTokenSource(ctx, f.store, f.microsoftOAuth(), userID, p)
		if err != nil {
			return nil, err
		}
		return graph.New(graph.NewTokenCredential(ts), f.cfg.Sync.PageSize, f.limiter())

	case model.ProviderIMAP:
		cfg := imap.Config{
			Host:     f.cfg.IMAP.Host,
			Port:     f.cfg.IMAP.Port,
			Username: f.cfg.IMAP.Username,
			Password: f.cfg.IMAP.Password,
			Folder:   f.cfg.IMAP.Folder,
		}
		if cfg.Password == "" {
			// Without a password the mailbox authenticates with the
			// stored OAuth grant over OAUTHBEARER.
			ts, err := auth.NewTokenSource(ctx, f.store, f.googleOAuth(), userID, p)
			if err != nil {
				return nil, err
			}
			cfg.TokenSource = ts
		}
		return imap.New(cfg), nil

	default:
		return nil, fmt.Errorf("unsupported provider %q", p)
	}
}

func (f *Factory) limiter() rate.Limiter {
	return rate.NewTokenBucket(int(f.cfg.Sync.RatePerSecond))
}

func (f *Factory) googleOAuth() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     f.cfg.Google.ClientID,
		ClientSecret: f.cfg.Google.ClientSecret,
		RedirectURL:  f.cfg.Google.RedirectURL,
		Endpoint:     google.Endpoint,
		Scopes:       []string{gmailapi.GmailReadonlyScope},
	}
}

func (f *Factory) microsoftOAuth() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     f.cfg.Microsoft.ClientID,
		ClientSecret: f.cfg.Microsoft.ClientSecret,
		RedirectURL:  f.cfg.Microsoft.RedirectURL,
		Endpoint:     microsoft.AzureADEndpoint(f.cfg.Microsoft.TenantID),
		Scopes:       []string{"offline_access", "https://graph.microsoft.com/Mail.Read"},
	}
}
