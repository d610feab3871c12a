// Package gmail adapts the Gmail REST API to the backend contract.
package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/taskwell/mailsync/internal/model"
	"github.com/taskwell/mailsync/internal/provider"
	"github.com/taskwell/mailsync/internal/rate"
)

const webLinkBase = "https://mail.google.com/mail/u/0/#inbox/"

// errPageLimit aborts paging once the caller's cap is reached.
var errPageLimit = errors.New("page limit reached")

// Backend lists and fetches messages for one Gmail account. The token
// source refreshes transparently, so a long pass survives an access
// token expiring mid-way.
type Backend struct {
	svc      *gmail.Service
	limiter  rate.Limiter
	policy   rate.Policy
	pageSize int64
}

// New builds a Gmail backend over the given token source.
func New(ctx context.Context, ts oauth2.TokenSource, pageSize int, limiter rate.Limiter) (*Backend, error) {
	svc, err := gmail.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Backend{
		svc:      svc,
		limiter:  limiter,
		policy:   rate.DefaultPolicy,
		pageSize: int64(pageSize),
	}, nil
}

// ListSince drains the "after:" query window page by page, fetching
// metadata-only projections of each message. The returned checkpoint
// carries the highest received time observed; the boundary message may
// be re-listed on the next pass and is absorbed by dedup upstream.
// Listing is newest-first, so a pass cut short by MaxResults keeps the
// incoming bound: the capped-off older messages must stay inside the
// window for the next pass.
func (b *Backend) ListSince(ctx context.Context, cp model.Checkpoint, opts provider.FetchOptions, fn func(model.EmailMetadata) error) (model.Checkpoint, error) {
	next := model.Checkpoint{Since: cp.Since}
	seen := 0

	call := b.svc.Users.Messages.List("me").
		Q(query(cp)).
		IncludeSpamTrash(false).
		MaxResults(b.pageSize)
	if opts.Folder != "" {
		call = call.LabelIds(opts.Folder)
	}

	err := b.do(ctx, "gmail list", func() error {
		return call.Pages(ctx, func(page *gmail.ListMessagesResponse) error {
			for _, ref := range page.Messages {
				meta, err := b.getMetadata(ctx, ref.Id)
				if err != nil {
					return err
				}

				if err := fn(meta); err != nil {
					return err
				}
				if meta.ReceivedAt.After(next.Since) {
					next.Since = meta.ReceivedAt
				}

				seen++
				if opts.MaxResults > 0 && seen >= opts.MaxResults {
					return errPageLimit
				}
			}
			return nil
		})
	})
	if errors.Is(err, errPageLimit) {
		next.Since = cp.Since
		return next, nil
	}
	if err != nil {
		return model.Checkpoint{}, err
	}
	return next, nil
}

// ListIDsSince lists only message ids in the window. No per-message
// fetches, so polling stays one API call per page.
func (b *Backend) ListIDsSince(ctx context.Context, cp model.Checkpoint) ([]string, error) {
	var ids []string
	call := b.svc.Users.Messages.List("me").
		Q(query(cp)).
		IncludeSpamTrash(false).
		MaxResults(b.pageSize)

	err := b.do(ctx, "gmail list ids", func() error {
		ids = ids[:0]
		return call.Pages(ctx, func(page *gmail.ListMessagesResponse) error {
			for _, ref := range page.Messages {
				ids = append(ids, ref.Id)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// FetchBody returns the plain-text body, falling back to stripped HTML
// when the message has no text/plain part.
func (b *Backend) FetchBody(ctx context.Context, providerMessageID string) (string, error) {
	var msg *gmail.Message
	err := b.do(ctx, "gmail get body", func() error {
		var err error
		msg, err = b.svc.Users.Messages.Get("me", providerMessageID).Format("full").Context(ctx).Do()
		return err
	})
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
			return "", provider.ErrBodyUnavailable
		}
		return "", err
	}
	if msg.Payload == nil {
		return "", provider.ErrBodyUnavailable
	}

	if text := partText(msg.Payload, "text/plain"); text != "" {
		return text, nil
	}
	if html := partText(msg.Payload, "text/html"); html != "" {
		return provider.StripHTML(html), nil
	}
	return "", provider.ErrBodyUnavailable
}

// Close releases the limiter. The HTTP client itself holds no
// connection state worth tearing down.
func (b *Backend) Close() error {
	if s, ok := b.limiter.(interface{ Stop() }); ok {
		s.Stop()
	}
	return nil
}

func (b *Backend) getMetadata(ctx context.Context, id string) (model.EmailMetadata, error) {
	var msg *gmail.Message
	err := b.do(ctx, "gmail get metadata", func() error {
		var err error
		msg, err = b.svc.Users.Messages.Get("me", id).
			Format("metadata").
			MetadataHeaders("From", "Subject").
			Context(ctx).Do()
		return err
	})
	if err != nil {
		return model.EmailMetadata{}, err
	}

	headers := make(map[string]string)
	if msg.Payload != nil {
		for _, kv := range msg.Payload.Headers {
			headers[kv.Name] = kv.Value
		}
	}
	labels, _ := json.Marshal(msg.LabelIds)

	return model.EmailMetadata{
		ProviderMessageID: msg.Id,
		ThreadID:          msg.ThreadId,
		Sender:            headers["From"],
		Subject:           headers["Subject"],
		Snippet:           msg.Snippet,
		ReceivedAt:        time.UnixMilli(msg.InternalDate).UTC(),
		LabelsJSON:        string(labels),
		WebLink:           webLinkBase + msg.Id,
	}, nil
}

// do wraps one API call with the shared limiter and retry budget.
func (b *Backend) do(ctx context.Context, op string, fn func() error) error {
	return rate.Retry(ctx, b.policy, func() error {
		if err := b.limiter.Wait(ctx); err != nil {
			return err
		}
		if err := fn(); err != nil {
			return classify(op, err)
		}
		return nil
	})
}

// query builds the Gmail search expression for the checkpoint window.
// "after:" takes epoch seconds and is second-granular; the overlap at
// the boundary is intentional.
func query(cp model.Checkpoint) string {
	return fmt.Sprintf("after:%d", cp.Since.Unix())
}

// classify maps Gmail API failures onto the retry taxonomy.
func classify(op string, err error) error {
	if errors.Is(err, errPageLimit) {
		return err
	}

	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return err
	}

	switch {
	case apiErr.Code == http.StatusTooManyRequests,
		apiErr.Code == http.StatusForbidden && strings.Contains(apiErr.Message, "rateLimitExceeded"):
		return &provider.RateLimitError{Provider: "gmail", Delay: retryAfter(apiErr)}
	case apiErr.Code == http.StatusUnauthorized:
		return fmt.Errorf("%s: %v: %w", op, apiErr, provider.ErrReconnectRequired)
	case apiErr.Code >= 500:
		return &provider.TransientError{Op: op, Err: apiErr}
	}
	return err
}

func retryAfter(apiErr *googleapi.Error) time.Duration {
	for _, h := range apiErr.Header.Values("Retry-After") {
		if secs, err := strconv.Atoi(h); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}

// partText walks the MIME tree for the first part of the wanted type.
func partText(p *gmail.MessagePart, mimeType string) string {
	if p.MimeType == mimeType && p.Body != nil && p.Body.Data != "" {
		return decodeB64(p.Body.Data)
	}
	for _, child := range p.Parts {
		if text := partText(child, mimeType); text != "" {
			return text
		}
	}
	return ""
}

// decodeB64 handles both padded and unpadded URL-safe base64, which
// Gmail emits inconsistently.
func decodeB64(data string) string {
	if b, err := base64.URLEncoding.DecodeString(data); err == nil {
		return string(b)
	}
	if b, err := base64.RawURLEncoding.DecodeString(data); err == nil {
		return string(b)
	}
	return ""
}

var _ provider.Backend = (*Backend)(nil)
