// Package tokenizer turns prepared text into the input ids of the
// embed_tokens graph. Exports ship a HuggingFace tokenizer.json; SentencePiece
// .model files are accepted too.
package tokenizer

import (
	"errors"
	"path/filepath"
	"strings"
)

// ErrEmptyPath is returned when a tokenizer is requested without a path.
var ErrEmptyPath = errors.New("tokenizer model path must not be empty")

// Tokenizer encodes text into token ids.
type Tokenizer interface {
	Encode(text string) ([]int64, error)
	Close() error
}

// Load picks the implementation from the file extension: ".model" is
// SentencePiece, anything else is treated as a HuggingFace tokenizer.json.
func Load(path string) (Tokenizer, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}

	if strings.EqualFold(filepath.Ext(path), ".model") {
		sp, err := NewSentencePieceTokenizer(path)
		if err != nil {
			return nil, err
		}
		return sp, nil
	}

	hf, err := NewHuggingFaceTokenizer(path)
	if err != nil {
		return nil, err
	}

	return hf, nil
}
