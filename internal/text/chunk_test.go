package text

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestChunkBySentence(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		maxChars int
		want     []string
	}{
		{name: "single sentence", text: "Hola mundo.", maxChars: 100, want: []string{"Hola mundo."}},
		{name: "two sentences within limit", text: "Hola. Mundo.", maxChars: 100, want: []string{"Hola. Mundo."}},
		{name: "two sentences exceeding limit", text: "Hola. Mundo.", maxChars: 8, want: []string{"Hola.", "Mundo."}},
		{name: "exclamation and question", text: "¡Hola! ¿Qué tal?", maxChars: 8, want: []string{"¡Hola!", "¿Qué tal?"}},
		{name: "ellipsis stays with its sentence", text: "Bueno... Vamos.", maxChars: 9, want: []string{"Bueno...", "Vamos."}},
		{name: "trailing text without terminator", text: "Uno. Dos", maxChars: 4, want: []string{"Uno.", "Dos"}},
		{name: "cjk terminators", text: "你好。再见！", maxChars: 3, want: []string{"你好。", "再见！"}},
		{name: "oversized sentence kept intact", text: "Short. This sentence is far too long.", maxChars: 10,
			want: []string{"Short.", "This sentence is far too long."}},
		{name: "zero limit disables splitting", text: "A. B. C.", maxChars: 0, want: []string{"A. B. C."}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ChunkBySentence(tt.text, tt.maxChars)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("ChunkBySentence(%q, %d) = %q; want %q", tt.text, tt.maxChars, got, tt.want)
			}
		})
	}
}

func TestChunkBySentence_CountsCharactersNotBytes(t *testing.T) {
	// Each sentence is 6 runes but more than 6 bytes.
	text := "Añejo. Ñandú."
	got := ChunkBySentence(text, 13)
	if len(got) != 1 {
		t.Fatalf("ChunkBySentence = %q; want one chunk of %d runes", got, utf8.RuneCountInString(text))
	}
}

func TestChunkBySentence_DefaultChunkSize(t *testing.T) {
	sentence := "Esta es una oración de prueba bastante normal."
	text := strings.Repeat(sentence+" ", 10)

	for i, chunk := range ChunkBySentence(text, 120) {
		if n := utf8.RuneCountInString(chunk); n > 120 {
			t.Errorf("chunk %d has %d runes; want <= 120", i, n)
		}
	}
}
