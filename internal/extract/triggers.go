package extract

import (
	"regexp"
	"strings"

	"github.com/taskwell/mailsync/internal/model"
)

// A family maps explicit request phrases to one action type. Families
// are evaluated in a fixed order so identical input always yields the
// same, identically ordered drafts.
type family struct {
	typ      model.ActionType
	verb     string
	fallback string
	patterns []*regexp.Regexp
}

var families = []family{
	{
		typ:      model.ActionSend,
		verb:     "Send",
		fallback: "Send a reply",
		patterns: compile(
			`can you (?:please )?send\b`,
			`could you (?:please )?send\b`,
			`please send\b`,
			`(?:^|\b)send (?:me|us|over|back)\b`,
			`would you mind sending\b`,
			`can you share\b`,
			`please share\b`,
			`please attach\b`,
			`please forward\b`,
		),
	},
	{
		typ:      model.ActionCall,
		verb:     "Call",
		fallback: "Call back",
		patterns: compile(
			`please call(?: me)?(?: back)?\b`,
			`can you call(?: me)?(?: back)?\b`,
			`could you call(?: me)?(?: back)?\b`,
			`call me back\b`,
			`give (?:me|us) a call\b`,
			`please (?:phone|ring)\b`,
			`can we (?:talk|speak) on the phone\b`,
		),
	},
	{
		typ:      model.ActionFollowUp,
		verb:     "Follow up",
		fallback: "Follow up",
		patterns: compile(
			`don'?t forget to\b`,
			`do not forget to\b`,
			`remember to\b`,
			`make sure (?:to|you)\b`,
			`be sure to\b`,
			`please follow up\b`,
			`can you follow up\b`,
			`need you to follow up\b`,
		),
	},
	{
		typ:      model.ActionPay,
		verb:     "Pay",
		fallback: "Pay the invoice",
		patterns: compile(
			`please pay\b`,
			`can you pay\b`,
			`could you pay\b`,
			`payment is due\b`,
			`please settle\b`,
			`settle the invoice\b`,
			`please transfer\b`,
			`can you transfer\b`,
			`reimburse\b`,
		),
	},
	{
		typ:      model.ActionValidate,
		verb:     "Review",
		fallback: "Review and confirm",
		patterns: compile(
			`please (?:confirm|approve|validate|review|check|verify)\b`,
			`can you (?:please )?(?:confirm|approve|validate|review|check|verify)\b`,
			`could you (?:please )?(?:confirm|approve|validate|review|check|verify)\b`,
			`needs? your (?:approval|validation|confirmation|review|sign-?off)\b`,
			`waiting for your (?:approval|validation|confirmation)\b`,
			`let me know if (?:this|that|it) (?:works|is ok|is okay|looks good)\b`,
		),
	},
}

// conditionalMarkers implement the suppression rule: any hedge in a
// sentence discards every match from that sentence.
var conditionalMarkers = compile(
	`if you have (?:the |some )?time\b`,
	`if you get (?:a|the) chance\b`,
	`if you can\b`,
	`if you want\b`,
	`if you'?d like\b`,
	`if possible\b`,
	`when you (?:have|get) a (?:chance|minute|moment|sec|second)\b`,
	`when you have time\b`,
	`at some point\b`,
	`\bno rush\b`,
	`\bno hurry\b`,
	`\bnot urgent\b`,
	`\bpossibly\b`,
	`\bperhaps\b`,
	`\bmaybe\b`,
	`\beventually\b`,
	`\bideally\b`,
)

func compile(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(`(?i)`+p))
	}
	return out
}

// isConditional reports whether the sentence carries a hedging marker.
func isConditional(sentence string) bool {
	for _, re := range conditionalMarkers {
		if re.MatchString(sentence) {
			return true
		}
	}
	return false
}

// matchFamily returns the first pattern match of f in the sentence.
func (f family) match(sentence string) (loc []int, ok bool) {
	for _, re := range f.patterns {
		if loc := re.FindStringIndex(sentence); loc != nil {
			return loc, true
		}
	}
	return nil, false
}

// titleFor builds the action title as a deterministic transform of the
// matched phrase: the family verb plus the clause remainder, never a
// summary.
func (f family) titleFor(sentence string, loc []int) string {
	rest := strings.TrimSpace(sentence[loc[1]:])
	rest = strings.TrimLeft(rest, ",:;- ")
	for _, lead := range []string{"me ", "us ", "them ", "it "} {
		if strings.HasPrefix(strings.ToLower(rest), lead) {
			rest = rest[len(lead):]
			break
		}
	}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return f.fallback
	}

	title := f.verb + " " + rest
	runes := []rune(title)
	if len(runes) > 80 {
		title = string(runes[:80])
	}
	return title
}
