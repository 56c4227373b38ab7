package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/example/go-chatterbox/internal/config"
	"github.com/example/go-chatterbox/internal/onnx"
	"github.com/example/go-chatterbox/internal/text"
	"github.com/example/go-chatterbox/internal/tokenizer"
)

var ErrModelNotLoaded = errors.New("model not loaded")

// Model is one loaded export: its graphs, its tokenizer and where it came from.
type Model struct {
	Engine    *onnx.Engine
	Tokenizer tokenizer.Tokenizer
	// Cangjie is nil when the export ships no Chinese mapping.
	Cangjie   *text.Cangjie
	Variant   config.ModelVariant
	Dir       string
	LoadedAt  time.Time
}

// Close releases the graphs and the tokenizer.
func (m *Model) Close() {
	if m == nil {
		return
	}
	if m.Engine != nil {
		m.Engine.Close()
	}
	if m.Tokenizer != nil {
		if err := m.Tokenizer.Close(); err != nil {
			slog.Warn("close tokenizer", "error", err)
		}
	}
}

// Loader builds a fresh Model.
type Loader func(ctx context.Context) (*Model, error)

// DefaultLoader opens the ONNX graphs and tokenizer described by cfg.
func DefaultLoader(cfg config.Config) Loader {
	return func(_ context.Context) (*Model, error) {
		rt, err := onnx.DetectRuntime(cfg.Runtime)
		if err != nil {
			return nil, err
		}

		cj, err := LoadCangjie(cfg.Paths.ModelDir)
		if err != nil {
			return nil, err
		}

		tok, err := tokenizer.Load(cfg.TokenizerFile())
		if err != nil {
			return nil, fmt.Errorf("load tokenizer: %w", err)
		}

		engine, err := onnx.NewEngine(cfg.Paths.ModelDir, onnx.RunnerConfig{
			LibraryPath: rt.LibraryPath,
			APIVersion:  uint32(cfg.Runtime.ORTAPIVersion),
		}, cfg.Model)
		if err != nil {
			_ = tok.Close()
			return nil, err
		}

		return &Model{
			Engine:    engine,
			Tokenizer: tok,
			Cangjie:   cj,
			Variant:   cfg.Variant,
			Dir:       cfg.Paths.ModelDir,
			LoadedAt:  time.Now(),
		}, nil
	}
}

// LoadCangjie reads the Chinese glyph mapping from modelDir. A missing file
// is not an error; Chinese text then reaches the tokenizer unconverted.
func LoadCangjie(modelDir string) (*text.Cangjie, error) {
	path := filepath.Join(modelDir, text.CangjieFile)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		slog.Debug("no cangjie mapping", "path", path)
		return nil, nil
	}

	cj, err := text.LoadCangjie(path)
	if err != nil {
		return nil, err
	}
	slog.Debug("cangjie mapping loaded", "path", path, "glyphs", cj.Len())

	return cj, nil
}

// ModelHandle owns the currently served Model. Requests hold a read lock for
// their whole run; Reload swaps the pointer under the write lock, so a model
// is never closed while a request still uses it.
type ModelHandle struct {
	loader Loader

	mu    sync.RWMutex
	model *Model
	gen   uint64
}

func NewModelHandle(loader Loader) *ModelHandle {
	return &ModelHandle{loader: loader}
}

// Load builds the model if none is loaded yet.
func (h *ModelHandle) Load(ctx context.Context) error {
	if h.Loaded() {
		return nil
	}

	return h.Reload(ctx)
}

// Reload builds a new model outside the lock, then swaps it in and closes the
// previous one. On failure the current model keeps serving.
func (h *ModelHandle) Reload(ctx context.Context) error {
	if h.loader == nil {
		return errors.New("model handle has no loader")
	}

	start := time.Now()
	next, err := h.loader(ctx)
	if err != nil {
		return fmt.Errorf("load model: %w", err)
	}

	h.mu.Lock()
	prev := h.model
	h.model = next
	h.gen++
	gen := h.gen
	h.mu.Unlock()

	prev.Close()
	slog.Info("model loaded", "dir", next.Dir, "variant", next.Variant.String(), "generation", gen, "took", time.Since(start))

	return nil
}

// Acquire returns the current model and a release func the caller must call
// when done. The model cannot be swapped out before release.
func (h *ModelHandle) Acquire() (*Model, uint64, func(), error) {
	h.mu.RLock()
	if h.model == nil {
		h.mu.RUnlock()
		return nil, 0, nil, ErrModelNotLoaded
	}

	return h.model, h.gen, h.mu.RUnlock, nil
}

func (h *ModelHandle) Loaded() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.model != nil
}

// Close waits for in-flight users and releases the model.
func (h *ModelHandle) Close() {
	h.mu.Lock()
	prev := h.model
	h.model = nil
	h.mu.Unlock()

	prev.Close()
}
