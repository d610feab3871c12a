package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/taskwell/mailsync/internal/model"
	"github.com/taskwell/mailsync/internal/provider"
	"github.com/taskwell/mailsync/internal/provider/memory"
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

func seedMessage(id string, receivedAt time.Time) memory.Message {
	return memory.Message{
		Meta: model.EmailMetadata{
			ProviderMessageID: id,
			Sender:            "alice@example.com",
			Subject:           "subject " + id,
			Snippet:           "snippet " + id,
			ReceivedAt:        receivedAt,
		},
		Body: "Please review the attached file.",
	}
}

func TestFetchNewEmailsPersistsAndDedups(t *testing.T) {
	st := newTestStore(t)
	now := time.Now().UTC()

	backend := memory.New(
		seedMessage("m1", now.Add(-2*time.Hour)),
		seedMessage("m2", now.Add(-1*time.Hour)),
	)
	svc := NewService(st, backend, "u1", model.ProviderGmail, 0, zap.NewNop())

	created, err := svc.FetchNewEmails(context.Background(), provider.FetchOptions{})
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	if len(created) != 2 {
		t.Fatalf("first pass created = %d, want 2", len(created))
	}
	if created[0].UserID != "u1" || created[0].Provider != model.ProviderGmail {
		t.Errorf("identity not stamped: %+v", created[0])
	}
	if created[0].Status != model.StatusExtracted {
		t.Errorf("status = %s, want EXTRACTED", created[0].Status)
	}
	if svc.GetStatus().LastSync.IsZero() {
		t.Error("last sync time not recorded")
	}

	// Second pass over the same mailbox creates nothing.
	created, err = svc.FetchNewEmails(context.Background(), provider.FetchOptions{})
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if len(created) != 0 {
		t.Fatalf("second pass created = %d, want 0", len(created))
	}

	// Both passes queued exactly one event per message.
	entries, err := st.DequeueOutbox(context.Background(), 10)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("outbox entries = %d, want 2", len(entries))
	}
}

func TestFetchNewEmailsAdvancesCheckpoint(t *testing.T) {
	st := newTestStore(t)
	now := time.Now().UTC()

	backend := memory.New(seedMessage("m1", now.Add(-time.Hour)))
	backend.Cursor = "cursor-1"
	svc := NewService(st, backend, "u1", model.ProviderGraph, 0, zap.NewNop())

	if _, err := svc.FetchNewEmails(context.Background(), provider.FetchOptions{}); err != nil {
		t.Fatalf("pass: %v", err)
	}

	cp, err := st.LoadCheckpoint(context.Background(), "u1", model.ProviderGraph)
	if err != nil {
		t.Fatalf("load checkpoint: %v", err)
	}
	if cp.Cursor != "cursor-1" {
		t.Errorf("cursor = %q, want cursor-1", cp.Cursor)
	}
	if !cp.Since.Equal(now.Add(-time.Hour).Truncate(0)) && !cp.Since.Equal(now.Add(-time.Hour)) {
		t.Errorf("since = %v, want message received time", cp.Since)
	}

	// An empty pass still rewrites the checkpoint with the fresh cursor.
	backend.Cursor = "cursor-2"
	if _, err := svc.FetchNewEmails(context.Background(), provider.FetchOptions{}); err != nil {
		t.Fatalf("empty pass: %v", err)
	}
	cp, _ = st.LoadCheckpoint(context.Background(), "u1", model.ProviderGraph)
	if cp.Cursor != "cursor-2" {
		t.Errorf("cursor after empty pass = %q, want cursor-2", cp.Cursor)
	}
}

func TestFetchNewEmailsKeepsCheckpointOnFailure(t *testing.T) {
	st := newTestStore(t)
	now := time.Now().UTC()

	backend := memory.New(seedMessage("m1", now.Add(-time.Hour)))
	svc := NewService(st, backend, "u1", model.ProviderGmail, 0, zap.NewNop())

	if _, err := svc.FetchNewEmails(context.Background(), provider.FetchOptions{}); err != nil {
		t.Fatalf("seed pass: %v", err)
	}
	before, _ := st.LoadCheckpoint(context.Background(), "u1", model.ProviderGmail)

	backend.ListErr = errors.New("backend down")
	if _, err := svc.FetchNewEmails(context.Background(), provider.FetchOptions{}); err == nil {
		t.Fatal("expected listing error")
	}

	after, _ := st.LoadCheckpoint(context.Background(), "u1", model.ProviderGmail)
	if !after.Since.Equal(before.Since) || after.Cursor != before.Cursor {
		t.Errorf("checkpoint moved on failure: before %+v after %+v", before, after)
	}

	status := svc.GetStatus()
	if status.LastError == "" {
		t.Error("failure not recorded in status")
	}
}

func TestCountNewEmailsReadOnly(t *testing.T) {
	st := newTestStore(t)
	now := time.Now().UTC()

	backend := memory.New(
		seedMessage("m1", now.Add(-2*time.Hour)),
		seedMessage("m2", now.Add(-1*time.Hour)),
	)
	svc := NewService(st, backend, "u1", model.ProviderGmail, 0, zap.NewNop())

	count, err := svc.CountNewEmails(context.Background())
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}

	// Counting persisted nothing and moved no checkpoint.
	cp, _ := st.LoadCheckpoint(context.Background(), "u1", model.ProviderGmail)
	if !cp.IsZero() {
		t.Errorf("checkpoint moved by count: %+v", cp)
	}
	rows, _ := st.ListEmailsByStatus(context.Background(), "u1", model.ProviderGmail, model.StatusExtracted, 0)
	if len(rows) != 0 {
		t.Errorf("count persisted %d rows", len(rows))
	}

	// After a sync the same mailbox counts zero.
	if _, err := svc.FetchNewEmails(context.Background(), provider.FetchOptions{}); err != nil {
		t.Fatalf("sync: %v", err)
	}
	count, err = svc.CountNewEmails(context.Background())
	if err != nil {
		t.Fatalf("recount: %v", err)
	}
	if count != 0 {
		t.Fatalf("count after sync = %d, want 0", count)
	}
}

func TestCappedPassDoesNotAdvanceCheckpoint(t *testing.T) {
	st := newTestStore(t)
	now := time.Now().UTC()

	// Newest listed first, like the real backends under a result cap.
	backend := memory.New(
		seedMessage("newest", now.Add(-1*time.Hour)),
		seedMessage("mid", now.Add(-2*time.Hour)),
		seedMessage("oldest", now.Add(-3*time.Hour)),
	)
	svc := NewService(st, backend, "u1", model.ProviderGmail, 0, zap.NewNop())

	created, err := svc.FetchNewEmails(context.Background(), provider.FetchOptions{MaxResults: 2})
	if err != nil {
		t.Fatalf("capped pass: %v", err)
	}
	if len(created) != 2 {
		t.Fatalf("capped pass created = %d, want 2", len(created))
	}

	// The window did not move past the capped-off message; a follow-up
	// pass still lists and persists it.
	created, err = svc.FetchNewEmails(context.Background(), provider.FetchOptions{})
	if err != nil {
		t.Fatalf("follow-up pass: %v", err)
	}
	if len(created) != 1 || created[0].ProviderMessageID != "oldest" {
		t.Fatalf("follow-up created = %+v, want only the capped-off message", created)
	}
}

func TestGetEmailBodyUnavailableIsEmpty(t *testing.T) {
	st := newTestStore(t)
	backend := memory.New()
	svc := NewService(st, backend, "u1", model.ProviderGmail, 0, zap.NewNop())

	body, err := svc.GetEmailBodyForAnalysis(context.Background(), "gone")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body != "" {
		t.Fatalf("body = %q, want empty", body)
	}
}

func TestDisconnectIdempotent(t *testing.T) {
	st := newTestStore(t)
	backend := memory.New()
	svc := NewService(st, backend, "u1", model.ProviderGmail, 0, zap.NewNop())

	if err := svc.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if err := svc.Disconnect(); err != nil {
		t.Fatalf("second disconnect: %v", err)
	}
	if svc.GetStatus().IsConnected {
		t.Error("still connected after disconnect")
	}
	if backend.CloseCount() != 2 {
		t.Errorf("close count = %d", backend.CloseCount())
	}
}

func TestFirstSyncBoundedByLookback(t *testing.T) {
	st := newTestStore(t)
	now := time.Now().UTC()

	backend := memory.New(
		seedMessage("old", now.Add(-48*time.Hour)),
		seedMessage("recent", now.Add(-time.Hour)),
	)
	svc := NewService(st, backend, "u1", model.ProviderGmail, 24*time.Hour, zap.NewNop())

	created, err := svc.FetchNewEmails(context.Background(), provider.FetchOptions{})
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if len(created) != 1 || created[0].ProviderMessageID != "recent" {
		t.Fatalf("created = %+v, want only the recent message", created)
	}
}
