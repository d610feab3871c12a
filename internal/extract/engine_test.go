package extract

import (
	"reflect"
	"testing"
	"time"

	"github.com/taskwell/mailsync/internal/model"
)

// Monday, so weekday resolution is easy to follow in the assertions.
var anchor = time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC)

func TestExtractExplicitRequest(t *testing.T) {
	engine := NewEngine()

	drafts := engine.Extract(Input{
		From:       "alice@example.com",
		Subject:    "Report",
		Body:       "Hello, can you send me the report before Friday? Thanks.",
		ReceivedAt: anchor,
	})

	if len(drafts) != 1 {
		t.Fatalf("expected 1 draft, got %d: %+v", len(drafts), drafts)
	}

	d := drafts[0]
	if d.Type != model.ActionSend {
		t.Errorf("type = %s, want SEND", d.Type)
	}
	if d.Title != "Send the report before Friday" {
		t.Errorf("title = %q", d.Title)
	}
	if d.SourceSentence != "Hello, can you send me the report before Friday" {
		t.Errorf("source sentence = %q", d.SourceSentence)
	}

	wantDue := time.Date(2024, 1, 19, 18, 0, 0, 0, time.UTC)
	if d.DueDate == nil || !d.DueDate.Equal(wantDue) {
		t.Errorf("due = %v, want %v", d.DueDate, wantDue)
	}
}

func TestExtractSuppressesHedgedSentences(t *testing.T) {
	engine := NewEngine()

	bodies := []string{
		"If you have time, can you send me the deck?",
		"Maybe you could call me back about this.",
		"Please review the budget when you get a chance.",
		"No rush, but please pay the invoice.",
	}
	for _, body := range bodies {
		drafts := engine.Extract(Input{Body: body, ReceivedAt: anchor})
		if len(drafts) != 0 {
			t.Errorf("body %q: expected no drafts, got %+v", body, drafts)
		}
	}
}

func TestExtractNoTriggerNoDraft(t *testing.T) {
	engine := NewEngine()

	drafts := engine.Extract(Input{
		Body:       "I sent the documents yesterday. The meeting went well.",
		ReceivedAt: anchor,
	})
	if len(drafts) != 0 {
		t.Fatalf("expected no drafts, got %+v", drafts)
	}
}

func TestExtractDeterministic(t *testing.T) {
	engine := NewEngine()
	in := Input{
		Body: "Please review the contract by 2024-02-01.\n" +
			"Also, can you send me the signed copy? Don't forget to cc legal.",
		ReceivedAt: anchor,
	}

	first := engine.Extract(in)
	if len(first) != 3 {
		t.Fatalf("expected 3 drafts, got %d: %+v", len(first), first)
	}

	for i := 0; i < 10; i++ {
		again := engine.Extract(in)
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d diverged:\nfirst %+v\nagain %+v", i, first, again)
		}
	}
}

func TestExtractOneDraftPerSentencePerFamily(t *testing.T) {
	engine := NewEngine()

	// One sentence matching two families yields one draft per family,
	// in family order.
	drafts := engine.Extract(Input{
		Body:       "Can you send the invoice and please confirm receipt",
		ReceivedAt: anchor,
	})
	if len(drafts) != 2 {
		t.Fatalf("expected 2 drafts, got %d: %+v", len(drafts), drafts)
	}
	if drafts[0].Type != model.ActionSend || drafts[1].Type != model.ActionValidate {
		t.Errorf("order = %s, %s; want SEND, VALIDATE", drafts[0].Type, drafts[1].Type)
	}
}

func TestExtractDueDateFromFollowingSentence(t *testing.T) {
	engine := NewEngine()

	drafts := engine.Extract(Input{
		Body:       "Please pay the invoice. It is due on Friday.",
		ReceivedAt: anchor,
	})
	if len(drafts) != 1 {
		t.Fatalf("expected 1 draft, got %d: %+v", len(drafts), drafts)
	}
	wantDue := time.Date(2024, 1, 19, 18, 0, 0, 0, time.UTC)
	if drafts[0].DueDate == nil || !drafts[0].DueDate.Equal(wantDue) {
		t.Errorf("due = %v, want %v", drafts[0].DueDate, wantDue)
	}
}

func TestExtractNoDueDateFromHedgedFollowingSentence(t *testing.T) {
	engine := NewEngine()

	drafts := engine.Extract(Input{
		Body:       "Please pay the invoice. Maybe by Friday.",
		ReceivedAt: anchor,
	})
	if len(drafts) != 1 {
		t.Fatalf("expected 1 draft, got %d: %+v", len(drafts), drafts)
	}
	if drafts[0].DueDate != nil {
		t.Errorf("due = %v, want nil from a hedged follow-up", drafts[0].DueDate)
	}
}

func TestExtractFallbackTitle(t *testing.T) {
	engine := NewEngine()

	drafts := engine.Extract(Input{
		Body:       "Call me back.",
		ReceivedAt: anchor,
	})
	if len(drafts) != 1 {
		t.Fatalf("expected 1 draft, got %d: %+v", len(drafts), drafts)
	}
	if drafts[0].Type != model.ActionCall {
		t.Errorf("type = %s, want CALL", drafts[0].Type)
	}
	if drafts[0].Title != "Call back" {
		t.Errorf("title = %q, want fallback", drafts[0].Title)
	}
}

func TestSplitSentences(t *testing.T) {
	got := splitSentences("One. Two!  Three?\nFour\r\n\r\n")
	want := []string{"One", "Two", "Three", "Four"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("splitSentences = %v, want %v", got, want)
	}
}
