// Package voice persists enrolled speaker profiles and resolves predefined
// reference clips.
package voice

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/cespare/xxhash/v2"
	json "github.com/goccy/go-json"

	"github.com/example/go-chatterbox/internal/onnx"
)

var (
	ErrNotFound = errors.New("voice not found")
	ErrCorrupt  = errors.New("voice profile corrupt")
)

var validID = regexp.MustCompile(`^[a-z0-9_-]+$`)

// Metadata describes an enrolled voice. RefAudioPath is relative to the
// store's reference audio directory.
type Metadata struct {
	ID                    string    `json:"id"`
	Name                  string    `json:"name"`
	CreatedAt             time.Time `json:"created_at"`
	EnrollmentTimeSeconds float64   `json:"enrollment_time_seconds"`
	RefAudioPath          string    `json:"ref_audio_path,omitempty"`
	Checksum              string    `json:"checksum"`
}

// Store keeps one `<id>.safetensors` profile and one `<id>.json` metadata
// file per voice in dir, and the uploaded reference clip in audioDir.
type Store struct {
	dir      string
	audioDir string
	now      func() time.Time

	mu sync.Mutex
}

func NewStore(dir, audioDir string) (*Store, error) {
	for _, d := range []string{dir, audioDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("create voice directory %s: %w", d, err)
		}
	}

	return &Store{dir: dir, audioDir: audioDir, now: time.Now}, nil
}

// Dir returns the profile directory, which also holds predefined WAV voices.
func (s *Store) Dir() string {
	return s.dir
}

// NewID derives a voice id from a display name: alphanumerics, '-' and '_'
// lowercased, then an underscore and the unix timestamp.
func NewID(name string, at time.Time) string {
	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' {
			if r < unicode.MaxASCII {
				b.WriteRune(unicode.ToLower(r))
			}
		}
	}

	safe := b.String()
	if safe == "" {
		safe = "voice"
	}

	return safe + "_" + strconv.FormatInt(at.Unix(), 10)
}

// Save persists a profile with its reference clip. refAudio may be nil.
func (s *Store) Save(name string, p onnx.VoiceProfile, refAudio []byte, enrollSeconds float64) (Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	at := s.now()
	id := NewID(name, at)
	for s.exists(id) {
		at = at.Add(time.Second)
		id = NewID(name, at)
	}

	data, err := EncodeProfile(p, map[string]string{metaVoiceID: id})
	if err != nil {
		return Metadata{}, fmt.Errorf("encode voice profile: %w", err)
	}

	meta := Metadata{
		ID:                    id,
		Name:                  name,
		CreatedAt:             at.UTC(),
		EnrollmentTimeSeconds: enrollSeconds,
		Checksum:              checksum(data),
	}

	if len(refAudio) > 0 {
		meta.RefAudioPath = id + ".wav"
		if err := writeFileAtomic(filepath.Join(s.audioDir, meta.RefAudioPath), refAudio); err != nil {
			return Metadata{}, err
		}
	}

	if err := writeFileAtomic(s.profilePath(id), data); err != nil {
		return Metadata{}, err
	}

	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return Metadata{}, fmt.Errorf("encode voice metadata: %w", err)
	}

	if err := writeFileAtomic(s.metadataPath(id), metaJSON); err != nil {
		return Metadata{}, err
	}

	slog.Info("voice saved", "voice_id", id, "name", name, "prompt_tokens", len(p.PromptTokens))

	return meta, nil
}

func (s *Store) Get(id string) (Metadata, error) {
	if !validID.MatchString(id) {
		return Metadata{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}

	data, err := os.ReadFile(s.metadataPath(id))
	if errors.Is(err, os.ErrNotExist) {
		return Metadata{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	if err != nil {
		return Metadata{}, fmt.Errorf("read voice metadata: %w", err)
	}

	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return Metadata{}, fmt.Errorf("%w: metadata for %q: %w", ErrCorrupt, id, err)
	}

	return meta, nil
}

// List returns all enrolled voices, newest first. Unreadable metadata files
// are logged and skipped.
func (s *Store) List() ([]Metadata, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list voices: %w", err)
	}

	voices := make([]Metadata, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}

		meta, err := s.Get(strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			slog.Warn("skipping voice metadata", "file", e.Name(), "error", err)
			continue
		}
		voices = append(voices, meta)
	}

	sort.SliceStable(voices, func(i, j int) bool {
		return voices[i].CreatedAt.After(voices[j].CreatedAt)
	})

	return voices, nil
}

// Delete removes the profile, its metadata and its reference clip.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := s.Get(id)
	if err != nil {
		return err
	}

	if meta.RefAudioPath != "" {
		ref := filepath.Join(s.audioDir, filepath.Base(meta.RefAudioPath))
		if err := os.Remove(ref); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove reference audio: %w", err)
		}
	}

	for _, p := range []string{s.profilePath(id), s.metadataPath(id)} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove voice %q: %w", id, err)
		}
	}

	slog.Info("voice deleted", "voice_id", id)

	return nil
}

// LoadProfile reads a profile and verifies it against the recorded checksum.
func (s *Store) LoadProfile(id string) (onnx.VoiceProfile, error) {
	meta, err := s.Get(id)
	if err != nil {
		return onnx.VoiceProfile{}, err
	}

	data, err := os.ReadFile(s.profilePath(id))
	if errors.Is(err, os.ErrNotExist) {
		return onnx.VoiceProfile{}, fmt.Errorf("%w: profile for %q missing", ErrCorrupt, id)
	}
	if err != nil {
		return onnx.VoiceProfile{}, fmt.Errorf("read voice profile: %w", err)
	}

	if got := checksum(data); meta.Checksum != "" && got != meta.Checksum {
		return onnx.VoiceProfile{}, fmt.Errorf("%w: %q checksum %s, recorded %s", ErrCorrupt, id, got, meta.Checksum)
	}

	p, tags, err := decodeProfile(data)
	if err != nil {
		return onnx.VoiceProfile{}, err
	}
	// Profiles written without metadata are accepted as-is.
	if owner, ok := tags[metaVoiceID]; ok && owner != id {
		return onnx.VoiceProfile{}, fmt.Errorf("%w: profile for %q belongs to %q", ErrCorrupt, id, owner)
	}

	return p, nil
}

// PredefinedPath resolves a predefined reference clip `<dir>/<name>` or
// `<dir>/<name>.wav`.
func (s *Store) PredefinedPath(name string) (string, bool) {
	if name == "" || filepath.Base(name) != name || strings.HasPrefix(name, ".") {
		return "", false
	}

	for _, candidate := range []string{name, name + ".wav"} {
		if !strings.EqualFold(filepath.Ext(candidate), ".wav") {
			continue
		}
		p := filepath.Join(s.dir, candidate)
		if st, err := os.Stat(p); err == nil && !st.IsDir() {
			return p, true
		}
	}

	return "", false
}

// Predefined lists the file names of WAV clips in the voice directory.
func (s *Store) Predefined() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list predefined voices: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".wav") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	return names, nil
}

func (s *Store) exists(id string) bool {
	_, err := os.Stat(s.metadataPath(id))
	return err == nil
}

func (s *Store) profilePath(id string) string {
	return filepath.Join(s.dir, id+".safetensors")
}

func (s *Store) metadataPath(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func checksum(data []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(data))
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", path, err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", path, err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", path, err)
	}

	return nil
}
