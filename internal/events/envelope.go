package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/taskwell/mailsync/internal/model"
	"github.com/taskwell/mailsync/internal/store"
)

const (
	TypeEmailReceived = "email.received"
	TypeActionCreated = "action.created"
)

// EmailReceived builds the outbox entry emitted alongside a new
// metadata record. The msg id is derived from the message key so a
// re-run of the same pass cannot queue the event twice.
func EmailReceived(m *model.EmailMetadata) *store.OutboxEntry {
	payload, _ := json.Marshal(map[string]any{
		"event_id":            uuid.NewString(),
		"ts":                  time.Now().Unix(),
		"user_id":             m.UserID,
		"provider":            m.Provider,
		"provider_message_id": m.ProviderMessageID,
		"thread_id":           m.ThreadID,
		"sender":              m.Sender,
		"subject":             m.Subject,
		"snippet":             m.Snippet,
		"received_at":         m.ReceivedAt.UTC(),
	})

	return &store.OutboxEntry{
		Subject:   fmt.Sprintf("user.%s.mail.received", m.UserID),
		EventType: TypeEmailReceived,
		Payload:   payload,
		MsgID:     fmt.Sprintf("%s|%s|%s|%s", TypeEmailReceived, m.UserID, m.Provider, m.ProviderMessageID),
	}
}

// ActionCreated builds the outbox entry emitted alongside a new action.
func ActionCreated(a *model.Action) *store.OutboxEntry {
	payload, _ := json.Marshal(map[string]any{
		"event_id":            uuid.NewString(),
		"ts":                  time.Now().Unix(),
		"user_id":             a.UserID,
		"action_id":           a.ID,
		"type":                a.Type,
		"title":               a.Title,
		"due_date":            a.DueDate,
		"provider":            a.Provider,
		"provider_message_id": a.ProviderMessageID,
	})

	return &store.OutboxEntry{
		Subject:   fmt.Sprintf("user.%s.mail.action", a.UserID),
		EventType: TypeActionCreated,
		Payload:   payload,
		MsgID:     fmt.Sprintf("%s|%s", TypeActionCreated, a.ID),
	}
}
