package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/taskwell/mailsync/internal/model"
)

func TestEmailReceivedStableMsgID(t *testing.T) {
	m := &model.EmailMetadata{
		UserID:            "u1",
		Provider:          model.ProviderGmail,
		ProviderMessageID: "m1",
		Sender:            "alice@example.com",
		ReceivedAt:        time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC),
	}

	first := EmailReceived(m)
	second := EmailReceived(m)

	// The payload carries a fresh event id, but the msg id is derived
	// from the message key so re-queues dedup on the stream.
	if first.MsgID != second.MsgID {
		t.Fatalf("msg ids differ: %q vs %q", first.MsgID, second.MsgID)
	}
	if first.MsgID != "email.received|u1|GMAIL|m1" {
		t.Fatalf("msg id = %q", first.MsgID)
	}
	if first.Subject != "user.u1.mail.received" {
		t.Fatalf("subject = %q", first.Subject)
	}

	var payload map[string]any
	if err := json.Unmarshal(first.Payload, &payload); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if payload["provider_message_id"] != "m1" {
		t.Fatalf("payload = %v", payload)
	}
}

func TestActionCreatedEnvelope(t *testing.T) {
	a := &model.Action{
		ID:                "a1",
		UserID:            "u1",
		Provider:          model.ProviderIMAP,
		ProviderMessageID: "42",
		Title:             "Send the report",
		Type:              model.ActionSend,
	}

	evt := ActionCreated(a)
	if evt.Subject != "user.u1.mail.action" {
		t.Fatalf("subject = %q", evt.Subject)
	}
	if evt.MsgID != "action.created|a1" {
		t.Fatalf("msg id = %q", evt.MsgID)
	}
	if evt.EventType != TypeActionCreated {
		t.Fatalf("event type = %q", evt.EventType)
	}
}
