//go:build cgo

package tokenizer

import (
	"fmt"
	"sync"

	"github.com/daulet/tokenizers"
)

// SupportsJSON reports whether tokenizer.json files can be loaded.
func SupportsJSON() bool { return true }

// HuggingFaceTokenizer wraps the Rust tokenizers library. Linking requires
// libtokenizers.a on the CGO library path.
type HuggingFaceTokenizer struct {
	mu sync.Mutex
	tk *tokenizers.Tokenizer
}

// NewHuggingFaceTokenizer loads a tokenizer.json file.
func NewHuggingFaceTokenizer(path string) (*HuggingFaceTokenizer, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}

	tk, err := tokenizers.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer %q: %w", path, err)
	}

	return &HuggingFaceTokenizer{tk: tk}, nil
}

// Encode tokenizes text with the special tokens the tokenizer's
// post-processor adds.
func (t *HuggingFaceTokenizer) Encode(text string) ([]int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.tk == nil {
		return nil, fmt.Errorf("tokenizer is closed")
	}

	ids, _ := t.tk.Encode(text, true)

	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}

	return out, nil
}

func (t *HuggingFaceTokenizer) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.tk == nil {
		return nil
	}

	err := t.tk.Close()
	t.tk = nil

	return err
}
