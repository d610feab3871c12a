// Package sync implements the provider contract on top of a backend
// adapter. Every backend shares this one orchestration path, so dedup,
// persistence and checkpoint rules behave identically across Gmail,
// IMAP and Graph.
package sync

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/taskwell/mailsync/internal/events"
	"github.com/taskwell/mailsync/internal/model"
	"github.com/taskwell/mailsync/internal/provider"
	"github.com/taskwell/mailsync/internal/store"
)

// defaultLookback bounds the first sync of a never-synced user.
const defaultLookback = 24 * time.Hour

// Service implements provider.MailProvider for one (user, backend)
// pair. The backend only lists and fetches; the service owns dedup,
// metadata persistence and checkpoint advancement.
type Service struct {
	store    *store.Store
	backend  provider.Backend
	userID   string
	prov     model.Provider
	lookback time.Duration
	log      *zap.Logger

	mu     sync.Mutex
	status provider.Status
}

// NewService wires a backend to the shared orchestration path.
// lookback <= 0 falls back to 24 hours.
func NewService(st *store.Store, backend provider.Backend, userID string, p model.Provider, lookback time.Duration, log *zap.Logger) *Service {
	if lookback <= 0 {
		lookback = defaultLookback
	}
	return &Service{
		store:    st,
		backend:  backend,
		userID:   userID,
		prov:     p,
		lookback: lookback,
		log:      log,
		status:   provider.Status{IsConnected: true},
	}
}

// FetchNewEmails runs one listing pass. Each streamed message is
// persisted individually, so a crash mid-pass loses nothing already
// inserted and the next pass re-covers the window without duplicates.
// The checkpoint only advances after the pass completes cleanly; it is
// rewritten even when the pass found nothing new, so delta cursors
// never go stale.
func (s *Service) FetchNewEmails(ctx context.Context, opts provider.FetchOptions) ([]model.EmailMetadata, error) {
	cp, err := s.store.LoadCheckpoint(ctx, s.userID, s.prov)
	if err != nil {
		s.fail(err)
		return nil, err
	}
	if cp.IsZero() {
		cp.Since = time.Now().UTC().Add(-s.lookback)
	}

	var created []model.EmailMetadata
	next, err := s.backend.ListSince(ctx, cp, opts, func(m model.EmailMetadata) error {
		m.UserID = s.userID
		m.Provider = s.prov
		m.Snippet = model.TruncateSnippet(m.Snippet)

		inserted, err := s.store.CreateEmail(ctx, &m, events.EmailReceived(&m))
		if err != nil {
			return err
		}
		if inserted {
			created = append(created, m)
		}
		return nil
	})
	if err != nil {
		s.fail(err)
		return nil, err
	}

	if err := s.store.SaveCheckpoint(ctx, s.userID, s.prov, next); err != nil {
		s.fail(err)
		return nil, err
	}

	s.ok()
	s.log.Info("sync pass complete",
		zap.String("user_id", s.userID),
		zap.String("provider", string(s.prov)),
		zap.Int("new_emails", len(created)))
	return created, nil
}

// GetEmailBodyForAnalysis fetches one body transiently. A message whose
// body cannot be read anymore yields an empty body, not an error, so
// analysis can still settle the record.
func (s *Service) GetEmailBodyForAnalysis(ctx context.Context, providerMessageID string) (string, error) {
	body, err := s.backend.FetchBody(ctx, providerMessageID)
	if errors.Is(err, provider.ErrBodyUnavailable) {
		return "", nil
	}
	if err != nil {
		s.fail(err)
		return "", err
	}
	return body, nil
}

// GetExtractedEmails returns the analysis backlog in insertion order.
func (s *Service) GetExtractedEmails(ctx context.Context) ([]model.EmailMetadata, error) {
	return s.store.ListEmailsByStatus(ctx, s.userID, s.prov, model.StatusExtracted, 0)
}

// MarkEmailAsAnalyzed settles one record. Idempotent.
func (s *Service) MarkEmailAsAnalyzed(ctx context.Context, providerMessageID string) error {
	return s.store.MarkEmailAnalyzed(ctx, s.userID, s.prov, providerMessageID)
}

// CountNewEmails reports how many backend messages since the checkpoint
// have no persisted record yet. It writes nothing and leaves the
// checkpoint untouched, so polling it repeatedly is harmless.
func (s *Service) CountNewEmails(ctx context.Context) (int, error) {
	cp, err := s.store.LoadCheckpoint(ctx, s.userID, s.prov)
	if err != nil {
		return 0, err
	}
	if cp.IsZero() {
		cp.Since = time.Now().UTC().Add(-s.lookback)
	}

	ids, err := s.backend.ListIDsSince(ctx, cp)
	if err != nil {
		s.fail(err)
		return 0, err
	}

	count := 0
	for _, id := range ids {
		exists, err := s.store.EmailExists(ctx, s.userID, s.prov, id)
		if err != nil {
			return 0, err
		}
		if !exists {
			count++
		}
	}
	return count, nil
}

// Disconnect releases the backend connection. Safe to call repeatedly.
func (s *Service) Disconnect() error {
	s.mu.Lock()
	s.status.IsConnected = false
	s.mu.Unlock()
	return s.backend.Close()
}

// GetStatus returns a snapshot of the connection state.
func (s *Service) GetStatus() provider.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Service) ok() {
	s.mu.Lock()
	s.status.LastSync = time.Now().UTC()
	s.status.LastError = ""
	s.mu.Unlock()
}

func (s *Service) fail(err error) {
	s.mu.Lock()
	s.status.LastError = err.Error()
	s.mu.Unlock()
	s.log.Warn("provider operation failed",
		zap.String("user_id", s.userID),
		zap.String("provider", string(s.prov)),
		zap.Error(err))
}

var _ provider.MailProvider = (*Service)(nil)
