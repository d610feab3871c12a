package extract

import "strings"

// maxSentenceLen drops implausibly long segments (signature blocks,
// pasted logs) so a trigger never matches across unrelated paragraphs.
const maxSentenceLen = 400

// splitSentences segments a body on sentence-terminating punctuation and
// line breaks. Returned segments are trimmed, non-empty and bounded in
// length; commas never split, so hedging markers stay attached to the
// clause they qualify.
func splitSentences(body string) []string {
	var sentences []string
	var b strings.Builder

	flush := func() {
		s := strings.TrimSpace(b.String())
		b.Reset()
		if s == "" {
			return
		}
		if len([]rune(s)) > maxSentenceLen {
			return
		}
		sentences = append(sentences, s)
	}

	for _, r := range body {
		switch r {
		case '.', '!', '?', ';', '\n', '\r':
			flush()
		default:
			b.WriteRune(r)
		}
	}
	flush()

	return sentences
}
