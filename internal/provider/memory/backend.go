// Package memory provides an in-memory backend used by tests. It
// implements the same contract as the real adapters, with hooks to
// inject failures at the listing and body-fetch boundaries.
package memory

import (
	"context"
	"sync"

	"github.com/taskwell/mailsync/internal/model"
	"github.com/taskwell/mailsync/internal/provider"
)

// Message is one seeded mailbox entry.
type Message struct {
	Meta model.EmailMetadata
	Body string
}

// Backend is a seeded mailbox.
type Backend struct {
	mu       sync.Mutex
	messages []Message

	// ListErr, when set, fails every listing call.
	ListErr error
	// BodyErr fails FetchBody for specific message ids.
	BodyErr map[string]error
	// Cursor is returned as the new checkpoint cursor after a pass.
	Cursor string

	closed int
}

// New seeds a backend with messages.
func New(msgs ...Message) *Backend {
	return &Backend{messages: msgs}
}

// Add appends a message to the mailbox.
func (b *Backend) Add(m Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, m)
}

// CloseCount reports how many times Close was called.
func (b *Backend) CloseCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Backend) ListSince(ctx context.Context, cp model.Checkpoint, opts provider.FetchOptions, fn func(model.EmailMetadata) error) (model.Checkpoint, error) {
	b.mu.Lock()
	msgs := append([]Message(nil), b.messages...)
	listErr := b.ListErr
	cursor := b.Cursor
	b.mu.Unlock()

	if listErr != nil {
		return model.Checkpoint{}, listErr
	}

	next := model.Checkpoint{Since: cp.Since, Cursor: cursor}
	seen := 0
	for _, m := range msgs {
		if !m.Meta.ReceivedAt.After(cp.Since) {
			continue
		}
		if err := fn(m.Meta); err != nil {
			return model.Checkpoint{}, err
		}
		if m.Meta.ReceivedAt.After(next.Since) {
			next.Since = m.Meta.ReceivedAt
		}
		seen++
		if opts.MaxResults > 0 && seen >= opts.MaxResults {
			// Capped like the real adapters: the window stays put so the
			// remaining messages are listed on the next pass.
			next.Since = cp.Since
			break
		}
	}
	return next, nil
}

func (b *Backend) ListIDsSince(ctx context.Context, cp model.Checkpoint) ([]string, error) {
	b.mu.Lock()
	msgs := append([]Message(nil), b.messages...)
	listErr := b.ListErr
	b.mu.Unlock()

	if listErr != nil {
		return nil, listErr
	}

	var ids []string
	for _, m := range msgs {
		if m.Meta.ReceivedAt.After(cp.Since) {
			ids = append(ids, m.Meta.ProviderMessageID)
		}
	}
	return ids, nil
}

func (b *Backend) FetchBody(ctx context.Context, providerMessageID string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err, ok := b.BodyErr[providerMessageID]; ok {
		return "", err
	}
	for _, m := range b.messages {
		if m.Meta.ProviderMessageID == providerMessageID {
			return m.Body, nil
		}
	}
	return "", provider.ErrBodyUnavailable
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed++
	return nil
}

var _ provider.Backend = (*Backend)(nil)
