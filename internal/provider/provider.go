// Package provider defines the capability contract every mailbox
// backend adapter implements, and the typed errors adapters surface.
package provider

import (
	"context"
	"time"

	"github.com/taskwell/mailsync/internal/model"
)

// FetchOptions narrows a listing pass.
type FetchOptions struct {
	// MaxResults caps the number of messages returned. Zero means the
	// adapter drains every page the backend offers.
	MaxResults int
	// Folder scopes the listing for folder-oriented backends. Empty
	// means the backend default (the inbox).
	Folder string
}

// Status is a point-in-time connection report.
type Status struct {
	IsConnected bool      `json:"is_connected"`
	LastSync    time.Time `json:"last_sync"`
	LastError   string    `json:"last_error,omitempty"`
}

// MailProvider is the uniform contract callers use, regardless of which
// backend serves the mailbox. Implementations persist metadata only;
// message bodies are fetched transiently and must never be stored.
type MailProvider interface {
	// FetchNewEmails lists messages since the checkpoint, persists
	// metadata-only records in state EXTRACTED and returns what was
	// newly created (pre-existing duplicates excluded).
	FetchNewEmails(ctx context.Context, opts FetchOptions) ([]model.EmailMetadata, error)

	// GetEmailBodyForAnalysis fetches the full body transiently. The
	// caller must not persist the result. An unavailable body yields
	// ("", nil), not an error.
	GetEmailBodyForAnalysis(ctx context.Context, providerMessageID string) (string, error)

	// GetExtractedEmails returns every record still in status EXTRACTED
	// for this user/provider.
	GetExtractedEmails(ctx context.Context) ([]model.EmailMetadata, error)

	// MarkEmailAsAnalyzed transitions the record to ANALYZED.
	// Idempotent; never transitions backwards.
	MarkEmailAsAnalyzed(ctx context.Context, providerMessageID string) error

	// CountNewEmails reports how many provider messages since the
	// checkpoint are not yet persisted. Read-only: it creates no
	// records and never moves the checkpoint.
	CountNewEmails(ctx context.Context) (int, error)

	// Disconnect releases backend resources. Safe to call more than
	// once.
	Disconnect() error

	// GetStatus reports connection state for polling surfaces.
	GetStatus() Status
}

// Backend is the narrow surface a concrete adapter implements: native
// listing/paging/cursor mechanics translated to normalized metadata.
// Dedup, persistence and checkpoint advancement live above it, in one
// place, so every backend shares the same orchestration semantics.
type Backend interface {
	// ListSince streams messages newer than the checkpoint, in backend
	// order, invoking fn once per message. It returns the checkpoint to
	// persist after the pass completes cleanly. An error from fn aborts
	// the pass and is returned unchanged.
	ListSince(ctx context.Context, cp model.Checkpoint, opts FetchOptions, fn func(model.EmailMetadata) error) (model.Checkpoint, error)

	// ListIDsSince returns only the provider message ids newer than the
	// checkpoint, for read-only counting.
	ListIDsSince(ctx context.Context, cp model.Checkpoint) ([]string, error)

	// FetchBody returns the plain-text body of one message. It returns
	// ErrBodyUnavailable when the message or its body cannot be read.
	FetchBody(ctx context.Context, providerMessageID string) (string, error)

	// Close releases backend connections.
	Close() error
}
