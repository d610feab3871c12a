// Package imap adapts IMAP mailboxes to the backend contract using
// go-imap v2. Connections are short-lived: every operation dials,
// authenticates, runs and logs out, so a flaky server never wedges a
// long-lived session.
package imap

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"golang.org/x/oauth2"

	"github.com/taskwell/mailsync/internal/model"
	"github.com/taskwell/mailsync/internal/provider"
)

// Config holds connection settings for one IMAP account.
type Config struct {
	Host     string
	Port     int
	Username string
	// Password authenticates with plain LOGIN. When empty, TokenSource
	// must be set and OAUTHBEARER is used instead.
	Password    string
	Folder      string
	TokenSource oauth2.TokenSource
}

// Backend lists and fetches messages over IMAP. Message ids are the
// mailbox UIDs rendered as decimal strings.
type Backend struct {
	cfg Config
}

// New builds an IMAP backend. The dial happens lazily per operation.
func New(cfg Config) *Backend {
	if cfg.Port == 0 {
		cfg.Port = 993
	}
	if cfg.Folder == "" {
		cfg.Folder = "INBOX"
	}
	return &Backend{cfg: cfg}
}

// ListSince searches UIDs received since the checkpoint and fetches
// their envelopes. IMAP SINCE is date-granular, so the window overlaps
// by up to a day; dedup upstream absorbs the overlap.
func (b *Backend) ListSince(ctx context.Context, cp model.Checkpoint, opts provider.FetchOptions, fn func(model.EmailMetadata) error) (model.Checkpoint, error) {
	folder := opts.Folder
	if folder == "" {
		folder = b.cfg.Folder
	}

	client, err := b.connect(ctx, folder)
	if err != nil {
		return model.Checkpoint{}, err
	}
	defer logout(client)

	uids, err := searchSince(client, cp)
	if err != nil {
		return model.Checkpoint{}, err
	}
	// The cap keeps the newest UIDs; dropping older ones means the
	// window must not advance past them.
	truncated := false
	if opts.MaxResults > 0 && len(uids) > opts.MaxResults {
		uids = uids[len(uids)-opts.MaxResults:]
		truncated = true
	}

	next := model.Checkpoint{Since: cp.Since}
	if len(uids) == 0 {
		return next, nil
	}

	fetchCmd := client.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
		Envelope: true,
		UID:      true,
	})
	defer fetchCmd.Close()

	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}
		buf, err := msg.Collect()
		if err != nil {
			continue
		}

		meta := normalize(buf)
		if err := fn(meta); err != nil {
			return model.Checkpoint{}, err
		}
		if meta.ReceivedAt.After(next.Since) {
			next.Since = meta.ReceivedAt
		}
	}

	if err := fetchCmd.Close(); err != nil {
		return model.Checkpoint{}, &provider.TransientError{Op: "imap fetch", Err: err}
	}
	if truncated {
		next.Since = cp.Since
	}
	return next, nil
}

// ListIDsSince searches UIDs only, without fetching envelopes.
func (b *Backend) ListIDsSince(ctx context.Context, cp model.Checkpoint) ([]string, error) {
	client, err := b.connect(ctx, b.cfg.Folder)
	if err != nil {
		return nil, err
	}
	defer logout(client)

	uids, err := searchSince(client, cp)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(uids))
	for _, uid := range uids {
		ids = append(ids, strconv.FormatUint(uint64(uid), 10))
	}
	return ids, nil
}

// FetchBody fetches and parses one message, preferring the text/plain
// part and falling back to stripped HTML.
func (b *Backend) FetchBody(ctx context.Context, providerMessageID string) (string, error) {
	uid, err := strconv.ParseUint(providerMessageID, 10, 32)
	if err != nil {
		return "", provider.ErrBodyUnavailable
	}

	client, err := b.connect(ctx, b.cfg.Folder)
	if err != nil {
		return "", err
	}
	defer logout(client)

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchCmd := client.Fetch(imap.UIDSetNum(imap.UID(uid)), &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	})
	defer fetchCmd.Close()

	msg := fetchCmd.Next()
	if msg == nil {
		return "", provider.ErrBodyUnavailable
	}
	buf, err := msg.Collect()
	if err != nil {
		return "", provider.ErrBodyUnavailable
	}

	raw := buf.FindBodySection(bodySection)
	if raw == nil {
		return "", provider.ErrBodyUnavailable
	}

	text, html := parseBody(raw)
	if text != "" {
		return text, nil
	}
	if html != "" {
		return provider.StripHTML(html), nil
	}
	return "", provider.ErrBodyUnavailable
}

// Close is a no-op; connections never outlive a single operation.
func (b *Backend) Close() error {
	return nil
}

// connect dials, authenticates and selects the folder.
func (b *Backend) connect(ctx context.Context, folder string) (*imapclient.Client, error) {
	addr := fmt.Sprintf("%s:%d", b.cfg.Host, b.cfg.Port)

	client, err := imapclient.DialTLS(addr, nil)
	if err != nil {
		return nil, &provider.TransientError{Op: "imap dial " + addr, Err: err}
	}

	if err := b.authenticate(client); err != nil {
		logout(client)
		return nil, err
	}

	if _, err := client.Select(folder, nil).Wait(); err != nil {
		logout(client)
		return nil, fmt.Errorf("select %s: %w", folder, err)
	}
	return client, nil
}

func (b *Backend) authenticate(client *imapclient.Client) error {
	if b.cfg.Password != "" {
		if err := client.Login(b.cfg.Username, b.cfg.Password).Wait(); err != nil {
			return fmt.Errorf("imap login %s: %v: %w", b.cfg.Username, err, provider.ErrReconnectRequired)
		}
		return nil
	}

	if b.cfg.TokenSource == nil {
		return fmt.Errorf("imap %s: no password and no oauth grant: %w", b.cfg.Username, provider.ErrProviderUnavailable)
	}

	tok, err := b.cfg.TokenSource.Token()
	if err != nil {
		return err
	}

	saslClient := sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
		Username: b.cfg.Username,
		Token:    tok.AccessToken,
		Host:     b.cfg.Host,
		Port:     b.cfg.Port,
	})
	if err := client.Authenticate(saslClient); err != nil {
		return fmt.Errorf("imap oauthbearer %s: %v: %w", b.cfg.Username, err, provider.ErrReconnectRequired)
	}
	return nil
}

func searchSince(client *imapclient.Client, cp model.Checkpoint) ([]imap.UID, error) {
	criteria := &imap.SearchCriteria{Since: cp.Since}

	data, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, &provider.TransientError{Op: "imap search", Err: err}
	}
	return data.AllUIDs(), nil
}

func logout(client *imapclient.Client) {
	_ = client.Logout().Wait()
}

// normalize projects an envelope onto the shared metadata shape. IMAP
// has no server-side snippet; the snippet stays empty until analysis.
func normalize(buf *imapclient.FetchMessageBuffer) model.EmailMetadata {
	meta := model.EmailMetadata{
		ProviderMessageID: strconv.FormatUint(uint64(buf.UID), 10),
	}

	if buf.Envelope != nil {
		meta.Subject = buf.Envelope.Subject
		meta.ReceivedAt = buf.Envelope.Date.UTC()
		if len(buf.Envelope.From) > 0 {
			meta.Sender = buf.Envelope.From[0].Addr()
		}
	}
	return meta
}

// parseBody walks the MIME tree for the text and HTML parts.
func parseBody(raw []byte) (textBody, htmlBody string) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return string(raw), ""
	}
	defer mr.Close()

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()
		body, readErr := io.ReadAll(part.Body)
		if readErr != nil {
			continue
		}

		switch {
		case strings.HasPrefix(contentType, "text/plain") && textBody == "":
			textBody = string(body)
		case strings.HasPrefix(contentType, "text/html") && htmlBody == "":
			htmlBody = string(body)
		}
	}
	return textBody, htmlBody
}

var _ provider.Backend = (*Backend)(nil)
