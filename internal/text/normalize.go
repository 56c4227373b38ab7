// Package text prepares request text for tokenization: whitespace cleanup,
// sentence chunking and per-language preprocessing.
package text

import (
	"errors"
	"strings"
)

// ErrEmptyText is returned when the input text is empty or whitespace-only.
var ErrEmptyText = errors.New("text is empty")

// Normalize collapses every whitespace run (newlines included) to a single
// space and trims the ends. Empty or whitespace-only input is rejected.
func Normalize(s string) (string, error) {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return "", ErrEmptyText
	}

	return s, nil
}
