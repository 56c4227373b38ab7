package text

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var ErrUnsupportedLanguage = errors.New("unsupported language")

// Languages maps the language ids the multilingual model was trained on to
// their English names.
var Languages = map[string]string{
	"ar": "Arabic",
	"da": "Danish",
	"de": "German",
	"el": "Greek",
	"en": "English",
	"es": "Spanish",
	"fi": "Finnish",
	"fr": "French",
	"he": "Hebrew",
	"hi": "Hindi",
	"it": "Italian",
	"ja": "Japanese",
	"ko": "Korean",
	"ms": "Malay",
	"nl": "Dutch",
	"no": "Norwegian",
	"pl": "Polish",
	"pt": "Portuguese",
	"ru": "Russian",
	"sv": "Swedish",
	"sw": "Swahili",
	"tr": "Turkish",
	"zh": "Chinese",
}

// LanguageIDs returns the supported ids in sorted order.
func LanguageIDs() []string {
	ids := make([]string, 0, len(Languages))
	for id := range Languages {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return ids
}

// PrepareLanguage applies language-specific rewriting and prepends the
// "[lang]" marker the tokenizer expects. An empty lang leaves txt untouched.
// Chinese text is expanded through cj; a nil cj leaves Han glyphs as they are.
func PrepareLanguage(txt, lang string, cj *Cangjie) (string, error) {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if lang == "" {
		return txt, nil
	}

	if _, ok := Languages[lang]; !ok {
		return "", fmt.Errorf("%w %q (supported: %s)", ErrUnsupportedLanguage, lang, strings.Join(LanguageIDs(), ", "))
	}

	switch lang {
	case "zh":
		txt = cj.Convert(txt)
	case "ja":
		txt = norm.NFKD.String(txt)
	case "ko":
		txt = strings.TrimSpace(DecomposeHangul(txt))
	}

	return "[" + lang + "]" + txt, nil
}

const (
	hangulBase  = 0xAC00
	hangulLast  = 0xD7AF
	jamoInitial = 0x1100
	jamoMedial  = 0x1161
	jamoFinal   = 0x11A7
	medials     = 21
	finals      = 28
)

// DecomposeHangul rewrites precomposed Hangul syllables as conjoining Jamo
// (initial, medial and optional final). Other runes pass through.
func DecomposeHangul(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	for _, r := range s {
		if r < hangulBase || r > hangulLast {
			b.WriteRune(r)
			continue
		}

		idx := int(r - hangulBase)
		b.WriteRune(rune(jamoInitial + idx/(medials*finals)))
		b.WriteRune(rune(jamoMedial + (idx%(medials*finals))/finals))
		if f := idx % finals; f > 0 {
			b.WriteRune(rune(jamoFinal + f))
		}
	}

	return b.String()
}
