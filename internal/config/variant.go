package config

import (
	"fmt"
	"strings"
)

// ModelVariant is the closed set of model families the service can serve.
type ModelVariant int

const (
	VariantOriginal ModelVariant = iota + 1
	VariantTurbo
	VariantCustom
)

var variantAliases = map[string]ModelVariant{
	"chatterbox":                  VariantOriginal,
	"original":                    VariantOriginal,
	"resembleai/chatterbox":       VariantOriginal,
	"chatterbox-turbo":            VariantTurbo,
	"turbo":                       VariantTurbo,
	"resembleai/chatterbox-turbo": VariantTurbo,
	"chatterbox-es-latam":         VariantCustom,
	"es-latam":                    VariantCustom,
	"custom":                      VariantCustom,
}

// ParseVariant resolves a free-form model selector. Unknown selectors are a
// configuration error.
func ParseVariant(raw string) (ModelVariant, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if key == "" {
		return VariantCustom, nil
	}
	v, ok := variantAliases[key]
	if !ok {
		return 0, fmt.Errorf("%w: unknown model selector %q (expected chatterbox|chatterbox-turbo|chatterbox-es-latam)",
			ErrInvalidConfig, raw)
	}

	return v, nil
}

func (v ModelVariant) String() string {
	switch v {
	case VariantOriginal:
		return "chatterbox"
	case VariantTurbo:
		return "chatterbox-turbo"
	case VariantCustom:
		return "chatterbox-es-latam"
	default:
		return fmt.Sprintf("variant(%d)", int(v))
	}
}

// Repo is the Hugging Face repository the variant's ONNX export is fetched from.
func (v ModelVariant) Repo() string {
	switch v {
	case VariantOriginal:
		return "onnx-community/chatterbox-multilingual-ONNX"
	case VariantTurbo:
		return "ResembleAI/chatterbox-turbo-ONNX"
	case VariantCustom:
		return "onnx-community/chatterbox-multilingual-ONNX"
	default:
		return ""
	}
}

// SupportsParalinguisticTags reports whether bracketed event tags such as
// [laugh] are rendered rather than read out.
func (v ModelVariant) SupportsParalinguisticTags() bool {
	switch v {
	case VariantTurbo:
		return true
	case VariantOriginal, VariantCustom:
		return false
	default:
		return false
	}
}

// ParalinguisticTags lists the event tags the turbo variant understands.
func ParalinguisticTags() []string {
	return []string{"laugh", "chuckle", "sigh", "gasp", "cough", "clear throat", "sniff", "groan", "shush"}
}
