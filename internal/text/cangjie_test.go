package text

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testCangjieJSON = `["日\ta", "明\tab", "曰\ta", "月\tb\textra", "x\tzz"]`

func testCangjie(t *testing.T) *Cangjie {
	t.Helper()

	cj, err := ReadCangjie(strings.NewReader(testCangjieJSON))
	if err != nil {
		t.Fatalf("ReadCangjie: %v", err)
	}

	return cj
}

func TestCangjie_Convert(t *testing.T) {
	cj := testCangjie(t)

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "single code", in: "明", want: "[cj_a][cj_b][cj_.]"},
		{name: "first of shared code", in: "日", want: "[cj_a][cj_.]"},
		{name: "shared code gets index", in: "曰", want: "[cj_a][cj_1][cj_.]"},
		{name: "extra columns ignored", in: "月", want: "[cj_b][cj_.]"},
		{name: "unmapped glyph passes", in: "中", want: "中"},
		{name: "non letter-other passes", in: "x, 1!", want: "x, 1!"},
		{name: "mixed", in: "日x明", want: "[cj_a][cj_.]x[cj_a][cj_b][cj_.]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cj.Convert(tt.in); got != tt.want {
				t.Errorf("Convert(%q) = %q; want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCangjie_NilPassesThrough(t *testing.T) {
	var cj *Cangjie
	if got := cj.Convert("明日"); got != "明日" {
		t.Errorf("nil Convert = %q", got)
	}
	if cj.Len() != 0 {
		t.Errorf("nil Len = %d", cj.Len())
	}
}

func TestPrepareLanguage_ChineseUsesCangjie(t *testing.T) {
	cj := testCangjie(t)

	got, err := PrepareLanguage("明日。", "zh", cj)
	if err != nil {
		t.Fatalf("PrepareLanguage: %v", err)
	}
	if want := "[zh][cj_a][cj_b][cj_.][cj_a][cj_.]。"; got != want {
		t.Errorf("PrepareLanguage = %q; want %q", got, want)
	}

	// Other languages never go through the converter.
	got, err = PrepareLanguage("明", "ja", cj)
	if err != nil {
		t.Fatalf("PrepareLanguage: %v", err)
	}
	if got != "[ja]明" {
		t.Errorf("japanese = %q", got)
	}
}

func TestLoadCangjie(t *testing.T) {
	path := filepath.Join(t.TempDir(), CangjieFile)
	if err := os.WriteFile(path, []byte(testCangjieJSON), 0o600); err != nil {
		t.Fatal(err)
	}

	cj, err := LoadCangjie(path)
	if err != nil {
		t.Fatalf("LoadCangjie: %v", err)
	}
	if cj.Len() != 5 {
		t.Errorf("Len = %d; want 5", cj.Len())
	}

	if _, err := LoadCangjie(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestReadCangjie_Malformed(t *testing.T) {
	if _, err := ReadCangjie(strings.NewReader(`{"not": "a list"}`)); err == nil {
		t.Error("expected decode error")
	}
	if _, err := ReadCangjie(strings.NewReader(`["no-tab"]`)); err == nil {
		t.Error("expected entry error")
	}
}
