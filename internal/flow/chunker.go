package flow

import (
	"regexp"
	"strings"
)

// MaxChunkLen is the upper bound for one WhatsApp message chunk. A single
// sentence longer than this is emitted whole rather than truncated.
const MaxChunkLen = 300

var (
	paragraphSplitRegex = regexp.MustCompile(`\n\s*\n`)
	sentenceRegex       = regexp.MustCompile(`[^.!?\n]+[.!?]*`)
)

// SplitBySentences splits a block of text into WhatsApp-sized chunks whose
// boundaries fall on sentence boundaries. Sentences are packed greedily:
// the current chunk is flushed once adding the next sentence would exceed
// MaxChunkLen. Pure function of its input.
func SplitBySentences(text string) []string {
	var sentences []string
	for _, para := range paragraphSplitRegex.Split(text, -1) {
		sentences = append(sentences, sentenceRegex.FindAllString(para, -1)...)
	}

	var chunks []string
	current := ""
	for _, part := range sentences {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		if current != "" && len(current)+1+len(trimmed) > MaxChunkLen {
			chunks = append(chunks, current)
			current = trimmed
			continue
		}
		if current == "" {
			current = trimmed
		} else {
			current += " " + trimmed
		}
	}
	if current != "" {
		chunks = append(chunks, current)
	}
	return chunks
}
