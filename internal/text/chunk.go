package text

import (
	"strings"
	"unicode/utf8"
)

// ChunkBySentence groups consecutive sentences into chunks of at most
// maxChars characters. A sentence longer than maxChars becomes its own chunk.
// If maxChars is 0 or less, the text is returned as one chunk.
func ChunkBySentence(text string, maxChars int) []string {
	if maxChars <= 0 {
		return []string{text}
	}

	sentences := splitSentences(text)
	if len(sentences) <= 1 {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder
	currentLen := 0

	for _, s := range sentences {
		n := utf8.RuneCountInString(s)
		if currentLen == 0 {
			current.WriteString(s)
			currentLen = n
			continue
		}

		if currentLen+1+n > maxChars {
			chunks = append(chunks, current.String())
			current.Reset()
			current.WriteString(s)
			currentLen = n
		} else {
			current.WriteByte(' ')
			current.WriteString(s)
			currentLen += 1 + n
		}
	}
	if currentLen > 0 {
		chunks = append(chunks, current.String())
	}

	return chunks
}

func isTerminator(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？':
		return true
	}
	return false
}

// splitSentences splits after runs of sentence-ending punctuation, so "..."
// and "?!" stay attached to their sentence. Empty segments are dropped.
func splitSentences(text string) []string {
	var sentences []string
	start := 0
	inRun := false

	for i, r := range text {
		if isTerminator(r) {
			inRun = true
			continue
		}
		if inRun {
			if s := strings.TrimSpace(text[start:i]); s != "" {
				sentences = append(sentences, s)
			}
			start = i
			inRun = false
		}
	}

	if s := strings.TrimSpace(text[start:]); s != "" {
		sentences = append(sentences, s)
	}

	return sentences
}
