package analyze

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/taskwell/mailsync/internal/extract"
	"github.com/taskwell/mailsync/internal/model"
	"github.com/taskwell/mailsync/internal/provider"
	"github.com/taskwell/mailsync/internal/provider/memory"
	"github.com/taskwell/mailsync/internal/store"
	syncsvc "github.com/taskwell/mailsync/internal/sync"
)

func setup(t *testing.T, backend *memory.Backend) (*store.Store, provider.MailProvider, *Analyzer) {
	t.Helper()

	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("opening test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	mp := syncsvc.NewService(st, backend, "u1", model.ProviderGmail, 0, zap.NewNop())
	analyzer := NewAnalyzer(st, extract.NewEngine(), zap.NewNop())
	return st, mp, analyzer
}

func seed(id, body string, receivedAt time.Time) memory.Message {
	return memory.Message{
		Meta: model.EmailMetadata{
			ProviderMessageID: id,
			Sender:            "bob@example.com",
			Subject:           "subject " + id,
			ReceivedAt:        receivedAt,
		},
		Body: body,
	}
}

func TestRunExtractsAndSettles(t *testing.T) {
	now := time.Now().UTC()
	backend := memory.New(
		seed("m1", "Can you send me the final report?", now.Add(-2*time.Hour)),
		seed("m2", "Just an FYI, nothing needed.", now.Add(-time.Hour)),
	)
	st, mp, analyzer := setup(t, backend)
	ctx := context.Background()

	if _, err := mp.FetchNewEmails(ctx, provider.FetchOptions{}); err != nil {
		t.Fatalf("sync: %v", err)
	}

	res, err := analyzer.Run(ctx, mp, "u1")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.ProcessedEmails != 2 || res.SkippedEmails != 0 {
		t.Fatalf("result = %+v", res)
	}
	if res.ExtractedActions != 1 {
		t.Fatalf("actions = %d, want 1", res.ExtractedActions)
	}

	actions, err := st.ListActionsForEmail(ctx, "u1", model.ProviderGmail, "m1")
	if err != nil {
		t.Fatalf("list actions: %v", err)
	}
	if len(actions) != 1 {
		t.Fatalf("persisted actions = %d, want 1", len(actions))
	}
	a := actions[0]
	if a.Type != model.ActionSend || a.Status != model.ActionTodo {
		t.Errorf("action = %+v", a)
	}
	if a.SourceSentence != "Can you send me the final report" {
		t.Errorf("source sentence = %q", a.SourceSentence)
	}

	// Backlog fully drained.
	backlog, _ := mp.GetExtractedEmails(ctx)
	if len(backlog) != 0 {
		t.Fatalf("backlog = %d, want 0", len(backlog))
	}

	// m2 produced nothing, so it shows up as ignored.
	ignored, err := st.ListIgnoredEmails(ctx, "u1")
	if err != nil {
		t.Fatalf("list ignored: %v", err)
	}
	if len(ignored) != 1 || ignored[0].ProviderMessageID != "m2" {
		t.Fatalf("ignored = %+v, want only m2", ignored)
	}
}

func TestRunIsolatesPerRecordFailures(t *testing.T) {
	now := time.Now().UTC()
	backend := memory.New(
		seed("m1", "Please confirm the schedule.", now.Add(-5*time.Hour)),
		seed("m2", "Hello there.", now.Add(-4*time.Hour)),
		seed("m3", "Please pay the invoice.", now.Add(-3*time.Hour)),
		seed("m4", "Please call me back today.", now.Add(-2*time.Hour)),
		seed("m5", "Nothing to do here.", now.Add(-time.Hour)),
	)
	backend.BodyErr = map[string]error{
		"m3": &provider.TransientError{Op: "fetch", Err: errors.New("boom")},
	}
	_, mp, analyzer := setup(t, backend)
	ctx := context.Background()

	if _, err := mp.FetchNewEmails(ctx, provider.FetchOptions{}); err != nil {
		t.Fatalf("sync: %v", err)
	}

	res, err := analyzer.Run(ctx, mp, "u1")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.ProcessedEmails != 4 {
		t.Errorf("processed = %d, want 4", res.ProcessedEmails)
	}
	if res.SkippedEmails != 1 {
		t.Errorf("skipped = %d, want 1", res.SkippedEmails)
	}

	// The failed record stays in the backlog for the next run.
	backlog, _ := mp.GetExtractedEmails(ctx)
	if len(backlog) != 1 || backlog[0].ProviderMessageID != "m3" {
		t.Fatalf("backlog = %+v, want only m3", backlog)
	}
}

func TestRunEmptyBodyStillSettles(t *testing.T) {
	now := time.Now().UTC()
	backend := memory.New(seed("m1", "", now.Add(-time.Hour)))
	_, mp, analyzer := setup(t, backend)
	ctx := context.Background()

	if _, err := mp.FetchNewEmails(ctx, provider.FetchOptions{}); err != nil {
		t.Fatalf("sync: %v", err)
	}

	res, err := analyzer.Run(ctx, mp, "u1")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.ProcessedEmails != 1 || res.ExtractedActions != 0 {
		t.Fatalf("result = %+v", res)
	}

	backlog, _ := mp.GetExtractedEmails(ctx)
	if len(backlog) != 0 {
		t.Fatalf("record not settled: %+v", backlog)
	}
}

func TestRunIdempotentAcrossRuns(t *testing.T) {
	now := time.Now().UTC()
	backend := memory.New(seed("m1", "Can you send me the numbers?", now.Add(-time.Hour)))
	st, mp, analyzer := setup(t, backend)
	ctx := context.Background()

	if _, err := mp.FetchNewEmails(ctx, provider.FetchOptions{}); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if _, err := analyzer.Run(ctx, mp, "u1"); err != nil {
		t.Fatalf("first run: %v", err)
	}
	// A second run sees an empty backlog and creates nothing new.
	res, err := analyzer.Run(ctx, mp, "u1")
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if res.ProcessedEmails != 0 || res.ExtractedActions != 0 {
		t.Fatalf("second run result = %+v", res)
	}

	n, err := st.CountActionsForEmail(ctx, "u1", model.ProviderGmail, "m1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("actions = %d, want 1", n)
	}
}

// flakyMark fails the first settle calls, leaving the record EXTRACTED
// after its drafts were already persisted.
type flakyMark struct {
	provider.MailProvider
	failures int
}

func (f *flakyMark) MarkEmailAsAnalyzed(ctx context.Context, id string) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("settle temporarily unavailable")
	}
	return f.MailProvider.MarkEmailAsAnalyzed(ctx, id)
}

func TestRunRetriedRecordCreatesNoDuplicateActions(t *testing.T) {
	now := time.Now().UTC()
	backend := memory.New(seed("m1", "Please pay the invoice.", now.Add(-time.Hour)))
	st, mp, analyzer := setup(t, backend)
	ctx := context.Background()

	if _, err := mp.FetchNewEmails(ctx, provider.FetchOptions{}); err != nil {
		t.Fatalf("sync: %v", err)
	}

	flaky := &flakyMark{MailProvider: mp, failures: 1}
	res, err := analyzer.Run(ctx, flaky, "u1")
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if res.SkippedEmails != 1 {
		t.Fatalf("first run skipped = %d, want 1", res.SkippedEmails)
	}

	// The retry re-derives the same action id, so the draft persisted
	// before the failed settle is not inserted again.
	res, err = analyzer.Run(ctx, flaky, "u1")
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if res.ProcessedEmails != 1 {
		t.Fatalf("second run processed = %d, want 1", res.ProcessedEmails)
	}

	n, err := st.CountActionsForEmail(ctx, "u1", model.ProviderGmail, "m1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("actions = %d, want 1", n)
	}
}

func TestManagerSerializesRuns(t *testing.T) {
	backend := memory.New()
	_, mp, analyzer := setup(t, backend)
	m := NewManager(analyzer, zap.NewNop())

	if m.IsRunning("u1", "GMAIL") {
		t.Fatal("fresh manager reports running")
	}
	if _, err := m.Run(context.Background(), mp, "u1", "GMAIL"); err != nil {
		t.Fatalf("run: %v", err)
	}
	if m.IsRunning("u1", "GMAIL") {
		t.Fatal("slot not released after run")
	}
}
