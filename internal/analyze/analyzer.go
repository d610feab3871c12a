// Package analyze drives the extraction pass: it drains the EXTRACTED
// backlog of one user/provider, runs each body through the extraction
// engine and persists the resulting actions.
package analyze

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taskwell/mailsync/internal/events"
	"github.com/taskwell/mailsync/internal/extract"
	"github.com/taskwell/mailsync/internal/model"
	"github.com/taskwell/mailsync/internal/provider"
	"github.com/taskwell/mailsync/internal/store"
)

// Result summarizes one analysis run.
type Result struct {
	ProcessedEmails  int `json:"processed_emails"`
	ExtractedActions int `json:"extracted_actions"`
	SkippedEmails    int `json:"skipped_emails"`
}

// Analyzer processes the backlog for one user/provider pair.
type Analyzer struct {
	store  *store.Store
	engine *extract.Engine
	log    *zap.Logger
}

// NewAnalyzer wires the analyzer.
func NewAnalyzer(st *store.Store, engine *extract.Engine, log *zap.Logger) *Analyzer {
	return &Analyzer{store: st, engine: engine, log: log}
}

// Run processes every EXTRACTED record. Each record is isolated: a body
// fetch failure skips that record and the run continues, so one broken
// message never blocks the backlog. Bodies are fetched transiently,
// analyzed and dropped; an empty body still settles the record as
// analyzed with zero actions.
func (a *Analyzer) Run(ctx context.Context, mp provider.MailProvider, userID string) (*Result, error) {
	emails, err := mp.GetExtractedEmails(ctx)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	for _, email := range emails {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		body, err := mp.GetEmailBodyForAnalysis(ctx, email.ProviderMessageID)
		if err != nil {
			res.SkippedEmails++
			a.log.Warn("body fetch failed, skipping record",
				zap.String("user_id", userID),
				zap.String("provider", string(email.Provider)),
				zap.String("provider_message_id", email.ProviderMessageID),
				zap.Error(err))
			continue
		}

		created, err := a.analyzeOne(ctx, &email, body)
		if err != nil {
			res.SkippedEmails++
			a.log.Warn("analysis failed, skipping record",
				zap.String("user_id", userID),
				zap.String("provider_message_id", email.ProviderMessageID),
				zap.Error(err))
			continue
		}

		if err := mp.MarkEmailAsAnalyzed(ctx, email.ProviderMessageID); err != nil {
			res.SkippedEmails++
			continue
		}

		res.ProcessedEmails++
		res.ExtractedActions += created
	}

	a.log.Info("analysis run complete",
		zap.String("user_id", userID),
		zap.Int("processed", res.ProcessedEmails),
		zap.Int("actions", res.ExtractedActions),
		zap.Int("skipped", res.SkippedEmails))
	return res, nil
}

// analyzeOne extracts and persists actions for one record. The body is
// never written anywhere; only drafts derived from it are. Action ids
// are derived from the draft's identity, so re-processing a record that
// failed to settle re-derives the same ids and inserts nothing twice.
func (a *Analyzer) analyzeOne(ctx context.Context, email *model.EmailMetadata, body string) (int, error) {
	if body == "" {
		return 0, nil
	}

	drafts := a.engine.Extract(extract.Input{
		From:       email.Sender,
		Subject:    email.Subject,
		Body:       body,
		ReceivedAt: email.ReceivedAt,
	})

	created := 0
	for _, d := range drafts {
		action := &model.Action{
			ID:                actionID(email, d),
			UserID:            email.UserID,
			Provider:          email.Provider,
			ProviderMessageID: email.ProviderMessageID,
			Title:             d.Title,
			Type:              d.Type,
			SourceSentence:    d.SourceSentence,
			DueDate:           d.DueDate,
		}
		inserted, err := a.store.CreateAction(ctx, action, events.ActionCreated(action))
		if err != nil {
			return created, err
		}
		if inserted {
			created++
		}
	}
	return created, nil
}

// actionNamespace seeds the name-based action ids.
var actionNamespace = uuid.MustParse("76c326e3-9a5e-4c9c-b8a1-6f3f3f9d2d41")

// actionID derives a stable id for one draft of one message. The same
// sentence yielding the same action type always maps to the same id.
func actionID(email *model.EmailMetadata, d extract.Draft) string {
	key := strings.Join([]string{
		email.UserID,
		string(email.Provider),
		email.ProviderMessageID,
		string(d.Type),
		d.SourceSentence,
	}, "|")
	return uuid.NewSHA1(actionNamespace, []byte(key)).String()
}
