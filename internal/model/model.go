// Package model holds the entities shared by the sync and analysis layers.
package model

import (
	"time"
	"unicode/utf8"
)

// Provider identifies a mailbox backend.
type Provider string

const (
	ProviderGmail Provider = "GMAIL"
	ProviderIMAP  Provider = "IMAP"
	ProviderGraph Provider = "GRAPH"
)

// EmailStatus tracks how far a message has moved through the pipeline.
type EmailStatus string

const (
	// StatusExtracted means metadata is persisted, body not yet analyzed.
	StatusExtracted EmailStatus = "EXTRACTED"
	// StatusAnalyzed means the body was fetched once, run through
	// extraction and discarded.
	StatusAnalyzed EmailStatus = "ANALYZED"
)

// SnippetMaxLen bounds the stored snippet, in runes.
const SnippetMaxLen = 200

// EmailMetadata is one row per provider message, keyed by
// (user, provider, provider message id). The full body is never a field
// of this entity.
type EmailMetadata struct {
	ID                int64       `db:"id" json:"id"`
	UserID            string      `db:"user_id" json:"user_id"`
	Provider          Provider    `db:"provider" json:"provider"`
	ProviderMessageID string      `db:"provider_message_id" json:"provider_message_id"`
	ThreadID          string      `db:"thread_id" json:"thread_id,omitempty"`
	Sender            string      `db:"sender" json:"sender"`
	Subject           string      `db:"subject" json:"subject,omitempty"`
	Snippet           string      `db:"snippet" json:"snippet"`
	ReceivedAt        time.Time   `db:"received_at" json:"received_at"`
	LabelsJSON        string      `db:"labels_json" json:"-"`
	WebLink           string      `db:"web_link" json:"web_link,omitempty"`
	Status            EmailStatus `db:"status" json:"status"`
	CreatedAt         time.Time   `db:"created_at" json:"created_at"`
	AnalyzedAt        *time.Time  `db:"analyzed_at" json:"analyzed_at,omitempty"`
}

// ActionType classifies what the email explicitly asks the recipient to do.
type ActionType string

const (
	ActionSend     ActionType = "SEND"
	ActionCall     ActionType = "CALL"
	ActionFollowUp ActionType = "FOLLOW_UP"
	ActionPay      ActionType = "PAY"
	ActionValidate ActionType = "VALIDATE"
)

// ActionStatus is owned by the task-facing layer after creation.
type ActionStatus string

const (
	ActionTodo    ActionStatus = "TODO"
	ActionDone    ActionStatus = "DONE"
	ActionIgnored ActionStatus = "IGNORED"
)

// Action is a user-facing task derived from exactly one sentence of
// exactly one email. Its existence is the sole signal that the email was
// not ignored.
type Action struct {
	ID                string       `db:"id" json:"id"`
	UserID            string       `db:"user_id" json:"user_id"`
	Provider          Provider     `db:"provider" json:"provider"`
	ProviderMessageID string       `db:"provider_message_id" json:"provider_message_id"`
	Title             string       `db:"title" json:"title"`
	Type              ActionType   `db:"type" json:"type"`
	SourceSentence    string       `db:"source_sentence" json:"source_sentence"`
	DueDate           *time.Time   `db:"due_date" json:"due_date,omitempty"`
	Status            ActionStatus `db:"status" json:"status"`
	CreatedAt         time.Time    `db:"created_at" json:"created_at"`
}

// Checkpoint is the per-(user, provider) sync cursor: a since-timestamp
// for time-windowed backends or an opaque delta cursor for delta
// backends. A zero checkpoint means the user has never been synced.
type Checkpoint struct {
	Since  time.Time `db:"since_ts"`
	Cursor string    `db:"cursor"`
}

// IsZero reports whether no sync has completed yet.
func (c Checkpoint) IsZero() bool {
	return c.Since.IsZero() && c.Cursor == ""
}

// OAuthCredential is the stored grant for one (user, provider) pair.
// Adapters read it on connect and write it back after a refresh.
type OAuthCredential struct {
	UserID       string    `db:"user_id"`
	Provider     Provider  `db:"provider"`
	AccessToken  string    `db:"access_token"`
	RefreshToken string    `db:"refresh_token"`
	Expiry       time.Time `db:"expiry"`
	Scope        string    `db:"scope"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// TruncateSnippet clamps s to SnippetMaxLen runes.
func TruncateSnippet(s string) string {
	if utf8.RuneCountInString(s) <= SnippetMaxLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:SnippetMaxLen])
}
