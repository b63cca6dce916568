package chunk

import "regexp"

// sentenceEndPattern is a punctuation heuristic for sentence boundaries:
// a run of terminators, optionally followed by a closing quote or bracket,
// then whitespace or end of string. The character after the whitespace is
// not examined. It intentionally stays simple rather than attempting full
// abbreviation-aware segmentation.
var sentenceEndPattern = regexp.MustCompile(`[.!?]+["')\]]?(\s+|$)`)

// splitSentences breaks text into a sequence of sentences, preserving
// original spacing within each sentence so re-joining with a single space
// reconstructs readable text.
func splitSentences(text string) []string {
	if text == "" {
		return nil
	}
	locs := sentenceEndPattern.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return []string{text}
	}

	var sentences []string
	start := 0
	for _, loc := range locs {
		end := loc[1]
		sentences = append(sentences, text[start:end])
		start = end
	}
	if start < len(text) {
		sentences = append(sentences, text[start:])
	}

	out := sentences[:0:0]
	for _, s := range sentences {
		if trimmed := trimSpace(s); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && isSpace(s[start]) {
		start++
	}
	for end > start && isSpace(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
