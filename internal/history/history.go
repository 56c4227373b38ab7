// Package history records past inferences: one JSON file per item in the
// history directory and the rendered WAV in the output directory.
package history

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

var ErrNotFound = errors.New("history item not found")

type Item struct {
	ID                   string    `json:"id"`
	VoiceID              string    `json:"voice_id"`
	Text                 string    `json:"text"`
	Language             string    `json:"language,omitempty"`
	AudioFile            string    `json:"audio_file"`
	DurationSeconds      float64   `json:"duration_seconds"`
	InferenceTimeSeconds float64   `json:"inference_time_seconds"`
	CreatedAt            time.Time `json:"created_at"`
}

type Store struct {
	dir      string
	audioDir string
	now      func() time.Time

	mu sync.Mutex
}

func NewStore(dir, audioDir string) (*Store, error) {
	for _, d := range []string{dir, audioDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
	}

	return &Store{dir: dir, audioDir: audioDir, now: time.Now}, nil
}

// AudioDir is where rendered WAV files are written.
func (s *Store) AudioDir() string { return s.audioDir }

// Add writes wav under a fresh id and records item. ID, AudioFile and
// CreatedAt are filled in.
func (s *Store) Add(item Item, wav []byte) (Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item.ID = uuid.NewString()
	item.AudioFile = item.ID + ".wav"
	item.CreatedAt = s.now().UTC()

	if err := writeFile(filepath.Join(s.audioDir, item.AudioFile), wav); err != nil {
		return Item{}, err
	}

	data, err := json.MarshalIndent(item, "", "  ")
	if err != nil {
		return Item{}, fmt.Errorf("encode history item: %w", err)
	}
	if err := writeFile(s.itemPath(item.ID), data); err != nil {
		_ = os.Remove(filepath.Join(s.audioDir, item.AudioFile))
		return Item{}, err
	}

	return item, nil
}

func (s *Store) Get(id string) (Item, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Item{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}

	data, err := os.ReadFile(s.itemPath(id))
	if errors.Is(err, os.ErrNotExist) {
		return Item{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	if err != nil {
		return Item{}, fmt.Errorf("read history item: %w", err)
	}

	var item Item
	if err := json.Unmarshal(data, &item); err != nil {
		return Item{}, fmt.Errorf("decode history item %q: %w", id, err)
	}

	return item, nil
}

// List returns all items, newest first.
func (s *Store) List() ([]Item, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}

	items := make([]Item, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		item, err := s.Get(strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			slog.Warn("skipping history item", "file", e.Name(), "error", err)
			continue
		}
		items = append(items, item)
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})

	return items, nil
}

// Delete removes the item and its audio file.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, err := s.Get(id)
	if err != nil {
		return err
	}

	if item.AudioFile != "" {
		p := filepath.Join(s.audioDir, filepath.Base(item.AudioFile))
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove history audio: %w", err)
		}
	}
	if err := os.Remove(s.itemPath(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove history item: %w", err)
	}

	return nil
}

func (s *Store) itemPath(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func writeFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}

	return nil
}
