package text

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode"

	"github.com/goccy/go-json"
)

// CangjieFile is the mapping the multilingual repo publishes for Chinese input.
const CangjieFile = "Cangjie5_TC.json"

// Cangjie rewrites Han glyphs as the "[cj_x]...[cj_.]" tokens the
// multilingual tokenizer was trained on.
type Cangjie struct {
	codes map[rune]string
}

// LoadCangjie reads a Cangjie mapping file from disk.
func LoadCangjie(path string) (*Cangjie, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open cangjie mapping: %w", err)
	}
	defer f.Close()

	return ReadCangjie(f)
}

// ReadCangjie parses a JSON array of "glyph\tcode" entries. When several
// glyphs share a code, every glyph after the first gets its position in
// that group appended to the code.
func ReadCangjie(r io.Reader) (*Cangjie, error) {
	var entries []string
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode cangjie mapping: %w", err)
	}

	glyphCode := make(map[rune]string, len(entries))
	groups := make(map[string][]rune)
	for i, entry := range entries {
		fields := strings.Split(entry, "\t")
		if len(fields) < 2 {
			return nil, fmt.Errorf("cangjie entry %d: want glyph and code, got %q", i, entry)
		}
		glyph := []rune(fields[0])
		if len(glyph) != 1 || fields[1] == "" {
			continue
		}
		// Later duplicates overwrite the glyph's code but keep their group slot.
		glyphCode[glyph[0]] = fields[1]
		groups[fields[1]] = append(groups[fields[1]], glyph[0])
	}

	codes := make(map[rune]string, len(glyphCode))
	for glyph, code := range glyphCode {
		idx := 0
		for i, g := range groups[code] {
			if g == glyph {
				idx = i
				break
			}
		}
		if idx > 0 {
			code += strconv.Itoa(idx)
		}
		codes[glyph] = code
	}

	return &Cangjie{codes: codes}, nil
}

// Len reports how many glyphs the mapping covers.
func (c *Cangjie) Len() int {
	if c == nil {
		return 0
	}

	return len(c.codes)
}

// Convert expands every mapped letter-other glyph. Unmapped glyphs and all
// other runes pass through. A nil converter returns s unchanged.
func (c *Cangjie) Convert(s string) string {
	if c == nil || len(c.codes) == 0 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		code, ok := c.codes[r]
		if !ok || !unicode.Is(unicode.Lo, r) {
			b.WriteRune(r)
			continue
		}
		for _, ch := range code {
			b.WriteString("[cj_")
			b.WriteRune(ch)
			b.WriteByte(']')
		}
		b.WriteString("[cj_.]")
	}

	return b.String()
}
