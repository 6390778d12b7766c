package content

import (
	"strings"
	"unicode/utf8"
)

// WordsPerMinute is the reading speed used for read-time estimates.
const WordsPerMinute = 200

const ellipsis = "…"

func textPayloads(doc *Node) []string {
	var parts []string
	Walk(doc, func(node, _ *Node) bool {
		if node.Kind == KindText && node.Text != "" {
			parts = append(parts, node.Text)
		}
		return true
	})
	return parts
}

// PlainText joins every text payload in doc with a single space.
func PlainText(doc *Node) string {
	return strings.Join(textPayloads(doc), " ")
}

// ExtractPreviewText returns the document's plain text cut to maxLen characters, with an
// ellipsis appended when it was cut.
func ExtractPreviewText(doc *Node, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	text := PlainText(doc)
	if utf8.RuneCountInString(text) <= maxLen {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxLen]) + ellipsis
}

// WordCount counts whitespace-separated words across all text payloads.
func WordCount(doc *Node) int {
	count := 0
	for _, part := range textPayloads(doc) {
		count += len(strings.Fields(part))
	}
	return count
}

// EstimateReadMinutes returns ceil(words/200), never less than one minute.
func EstimateReadMinutes(doc *Node) int {
	return ReadMinutesForWords(WordCount(doc))
}

// ReadMinutesForWords is the read-time formula applied to a word count.
func ReadMinutesForWords(words int) int {
	minutes := (words + WordsPerMinute - 1) / WordsPerMinute
	if minutes < 1 {
		return 1
	}
	return minutes
}
