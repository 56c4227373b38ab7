//go:build !cgo

package tokenizer

import "errors"

var errNoCGO = errors.New("tokenizer.json support requires a cgo build linked against libtokenizers")

func SupportsJSON() bool { return false }

type HuggingFaceTokenizer struct{}

func NewHuggingFaceTokenizer(path string) (*HuggingFaceTokenizer, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}

	return nil, errNoCGO
}

func (t *HuggingFaceTokenizer) Encode(string) ([]int64, error) { return nil, errNoCGO }

func (t *HuggingFaceTokenizer) Close() error { return nil }
