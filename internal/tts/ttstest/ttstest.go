// Package ttstest wires a tts.Service to the scripted graphs of onnxtest so
// HTTP and worker code can be tested end to end without model files.
package ttstest

import (
	"context"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/example/go-chatterbox/internal/audio"
	"github.com/example/go-chatterbox/internal/config"
	"github.com/example/go-chatterbox/internal/onnx/onnxtest"
	"github.com/example/go-chatterbox/internal/tts"
	"github.com/example/go-chatterbox/internal/voice"
)

// Tokenizer maps every rune to one id and records its inputs.
type Tokenizer struct {
	mu     sync.Mutex
	texts  []string
	closed int
}

func (t *Tokenizer) Encode(s string) ([]int64, error) {
	t.mu.Lock()
	t.texts = append(t.texts, s)
	t.mu.Unlock()

	ids := make([]int64, 0, len(s))
	for _, r := range s {
		ids = append(ids, int64(r)%500+1)
	}

	return ids, nil
}

func (t *Tokenizer) Close() error {
	t.mu.Lock()
	t.closed++
	t.mu.Unlock()

	return nil
}

// Texts returns every string passed to Encode.
func (t *Tokenizer) Texts() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]string(nil), t.texts...)
}

// Closed returns how often Close was called.
func (t *Tokenizer) Closed() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.closed
}

type Fixture struct {
	Config    config.Config
	Model     *onnxtest.Model
	Tokenizer *Tokenizer
	Store     *voice.Store
	Handle    *tts.ModelHandle
	Service   *tts.Service

	mu    sync.Mutex
	loads int
}

// Loads returns how many models the handle has built.
func (f *Fixture) Loads() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.loads
}

// NewConfig returns a configuration rooted in dir using the fake model dimensions.
func NewConfig(dir string) config.Config {
	cfg := config.DefaultConfig()
	cfg.Variant = config.VariantCustom
	cfg.Model = onnxtest.Dims()
	cfg.Paths.ModelDir = filepath.Join(dir, "model")
	cfg.Paths.VoicesDir = filepath.Join(dir, "voices")
	cfg.Paths.AudioInputDir = filepath.Join(dir, "input")
	cfg.Paths.AudioOutputDir = filepath.Join(dir, "output")
	cfg.Paths.HistoryDir = filepath.Join(dir, "history")
	cfg.TTS.MaxNewTokens = 16

	return cfg
}

// New builds a loaded service over a fresh fake model following script.
func New(tb testing.TB, script onnxtest.Script, opts ...tts.Option) *Fixture {
	tb.Helper()

	f := &Fixture{
		Config:    NewConfig(tb.TempDir()),
		Model:     onnxtest.NewModel(script),
		Tokenizer: &Tokenizer{},
	}

	store, err := voice.NewStore(f.Config.Paths.VoicesDir, f.Config.Paths.AudioInputDir)
	if err != nil {
		tb.Fatalf("voice store: %v", err)
	}
	f.Store = store

	f.Handle = tts.NewModelHandle(func(context.Context) (*tts.Model, error) {
		f.mu.Lock()
		f.loads++
		f.mu.Unlock()

		cj, err := tts.LoadCangjie(f.Config.Paths.ModelDir)
		if err != nil {
			return nil, err
		}

		return &tts.Model{
			Engine:    f.Model.Engine(),
			Tokenizer: f.Tokenizer,
			Cangjie:   cj,
			Variant:   f.Config.Variant,
			Dir:       f.Config.Paths.ModelDir,
			LoadedAt:  time.Now(),
		}, nil
	})
	if err := f.Handle.Load(context.Background()); err != nil {
		tb.Fatalf("load fake model: %v", err)
	}
	tb.Cleanup(f.Handle.Close)

	f.Service = tts.NewService(f.Config, f.Handle, store, opts...)

	return f
}

// EnrollVoice stores a profile with a two-token prompt under name.
func (f *Fixture) EnrollVoice(tb testing.TB, name string) voice.Metadata {
	tb.Helper()

	meta, err := f.Store.Save(name, onnxtest.Profile(3, []int64{7, 8}), SineWAV(tb, 1, 16000), 0.1)
	if err != nil {
		tb.Fatalf("enroll %s: %v", name, err)
	}

	return meta
}

// SineWAV encodes a 220 Hz tone of the given length.
func SineWAV(tb testing.TB, seconds float64, rate int) []byte {
	tb.Helper()

	n := int(seconds * float64(rate))
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = 0.5 * float32(math.Sin(2*math.Pi*220*float64(i)/float64(rate)))
	}

	data, err := audio.EncodeWAV(samples, rate)
	if err != nil {
		tb.Fatalf("encode wav: %v", err)
	}

	return data
}
