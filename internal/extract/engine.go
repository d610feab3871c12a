// Package extract turns a message body into zero or more typed action
// drafts. The engine is a pure function: no network, no store, no
// clock. Identical input always produces an identical, order-stable
// result.
package extract

import (
	"time"

	"github.com/taskwell/mailsync/internal/model"
)

// Input is one in-memory message. The body is consumed exactly once and
// never retained.
type Input struct {
	From       string
	Subject    string
	Body       string
	ReceivedAt time.Time
}

// Draft is one extracted action candidate. The source sentence is the
// literal matched sentence, kept for display and audit.
type Draft struct {
	Title          string
	Type           model.ActionType
	SourceSentence string
	DueDate        *time.Time
}

// Engine evaluates the fixed trigger-phrase families against each
// candidate sentence of a body.
type Engine struct{}

// NewEngine returns the deterministic extraction engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Extract segments the body into sentences and evaluates every family
// against each one. A sentence carrying a hedging marker yields nothing,
// even when a trigger phrase is textually present; suppression
// dominates matching. Due dates resolve against ReceivedAt; an
// expression that cannot be parsed confidently leaves the due date nil.
func (e *Engine) Extract(in Input) []Draft {
	sentences := splitSentences(in.Body)

	var drafts []Draft
	for i, sentence := range sentences {
		if isConditional(sentence) {
			continue
		}

		for _, f := range families {
			loc, ok := f.match(sentence)
			if !ok {
				continue
			}

			due := resolveDueDate(sentence, in.ReceivedAt)
			if due == nil && i+1 < len(sentences) && !isConditional(sentences[i+1]) {
				// The deadline often sits in the sentence right after
				// the request; a hedged follow-up is not a deadline.
				due = resolveDueDate(sentences[i+1], in.ReceivedAt)
			}

			drafts = append(drafts, Draft{
				Title:          f.titleFor(sentence, loc),
				Type:           f.typ,
				SourceSentence: sentence,
				DueDate:        due,
			})
		}
	}
	return drafts
}
