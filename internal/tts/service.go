// Package tts turns text into speech with a loaded chatterbox model and
// manages voice enrollment. Synthesis runs one request at a time.
package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/example/go-chatterbox/internal/audio"
	"github.com/example/go-chatterbox/internal/config"
	"github.com/example/go-chatterbox/internal/doctor"
	"github.com/example/go-chatterbox/internal/onnx"
	"github.com/example/go-chatterbox/internal/text"
	"github.com/example/go-chatterbox/internal/voice"
)

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrAudioTooShort  = errors.New("reference audio too short")
)

// Request is one synthesis job. Fields left out of a JSON body keep the
// values from DefaultRequest.
type Request struct {
	Text              string  `json:"text"`
	Voice             string  `json:"voice"`
	ReferenceAudio    string  `json:"reference_audio_filename,omitempty"`
	Language          string  `json:"language"`
	Exaggeration      float64 `json:"exaggeration"`
	MaxNewTokens      int     `json:"max_new_tokens"`
	RepetitionPenalty float64 `json:"repetition_penalty"`
	SplitText         bool    `json:"split_text"`
	ChunkSize         int     `json:"chunk_size"`
	SpeedFactor       float64 `json:"speed_factor"`

	OnStep onnx.StepObserver `json:"-"`
}

// Result is a rendered waveform plus decoding statistics.
type Result struct {
	Samples      []float32
	SampleRate   int
	Chunks       int
	SpeechTokens int
	Truncated    bool
	Elapsed      time.Duration
}

// Duration returns the audio length in seconds.
func (r *Result) Duration() float64 {
	return audio.Clip{Samples: r.Samples, SampleRate: r.SampleRate}.Duration()
}

// Info describes the served model.
type Info struct {
	Variant            string               `json:"variant"`
	Repo               string               `json:"repo"`
	Dir                string               `json:"model_dir"`
	Loaded             bool                 `json:"loaded"`
	LoadedAt           *time.Time           `json:"loaded_at,omitempty"`
	SampleRate         int                  `json:"sample_rate"`
	Languages          []string             `json:"languages"`
	ParalinguisticTags []string             `json:"paralinguistic_tags,omitempty"`
	Capabilities       *doctor.Capabilities `json:"capabilities,omitempty"`
}

type Option func(*Service)

// WithCapabilities attaches the startup probe result reported by ModelInfo.
func WithCapabilities(caps doctor.Capabilities) Option {
	return func(s *Service) { s.caps = &caps }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

type Service struct {
	cfg    config.Config
	handle *ModelHandle
	voices *voice.Store
	caps   *doctor.Capabilities
	logger *slog.Logger

	// slot admits one synthesis or enrollment at a time.
	slot chan struct{}

	cacheMu  sync.Mutex
	cacheGen uint64
	refCache map[string]onnx.VoiceProfile
}

func NewService(cfg config.Config, handle *ModelHandle, voices *voice.Store, opts ...Option) *Service {
	s := &Service{
		cfg:      cfg,
		handle:   handle,
		voices:   voices,
		logger:   slog.Default(),
		slot:     make(chan struct{}, 1),
		refCache: make(map[string]onnx.VoiceProfile),
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// DefaultRequest returns a request carrying the configured tts defaults.
func (s *Service) DefaultRequest() Request {
	t := s.cfg.TTS

	return Request{
		Voice:             t.Voice,
		Language:          t.Language,
		Exaggeration:      t.Exaggeration,
		MaxNewTokens:      t.MaxNewTokens,
		RepetitionPenalty: t.RepetitionPenalty,
		SplitText:         t.SplitText,
		ChunkSize:         t.ChunkSize,
		SpeedFactor:       t.SpeedFactor,
	}
}

func (s *Service) Voices() *voice.Store { return s.voices }

func (s *Service) Handle() *ModelHandle { return s.handle }

func validate(req *Request) error {
	normalized, err := text.Normalize(req.Text)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	req.Text = normalized

	if p := req.RepetitionPenalty; p <= 0 || math.IsNaN(p) || math.IsInf(p, 0) {
		return fmt.Errorf("%w: %w (got %v)", ErrInvalidRequest, onnx.ErrInvalidPenalty, p)
	}
	if req.MaxNewTokens < 1 {
		return fmt.Errorf("%w: max_new_tokens must be >= 1 (got %d)", ErrInvalidRequest, req.MaxNewTokens)
	}
	if !audio.ValidSpeedFactor(req.SpeedFactor) {
		return fmt.Errorf("%w: speed_factor must be in [%v, %v] (got %v)",
			ErrInvalidRequest, audio.MinSpeedFactor, audio.MaxSpeedFactor, req.SpeedFactor)
	}
	if req.ChunkSize < 1 {
		return fmt.Errorf("%w: chunk_size must be >= 1 (got %d)", ErrInvalidRequest, req.ChunkSize)
	}
	if req.Language != "" {
		if _, ok := text.Languages[req.Language]; !ok {
			return fmt.Errorf("%w: %w: %q", ErrInvalidRequest, text.ErrUnsupportedLanguage, req.Language)
		}
	}

	return nil
}

// acquire takes the synthesis slot and a read hold on the current model.
func (s *Service) acquire(ctx context.Context) (*Model, uint64, func(), error) {
	select {
	case s.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, 0, nil, ctx.Err()
	}

	m, gen, release, err := s.handle.Acquire()
	if err != nil {
		<-s.slot
		return nil, 0, nil, err
	}

	return m, gen, func() {
		release()
		<-s.slot
	}, nil
}

// Synthesize renders req to a mono waveform. Chunks are decoded one after the
// other and concatenated; cancellation is honoured between chunks only.
func (s *Service) Synthesize(ctx context.Context, req Request) (*Result, error) {
	if err := validate(&req); err != nil {
		return nil, err
	}

	m, gen, release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	start := time.Now()
	profile, err := s.resolveVoice(ctx, m, gen, req.Voice, req.ReferenceAudio)
	if err != nil {
		return nil, err
	}

	chunks := []string{req.Text}
	if req.SplitText {
		chunks = text.ChunkBySentence(req.Text, req.ChunkSize)
	}

	res := &Result{SampleRate: m.Engine.Dims().SampleRate, Chunks: len(chunks)}
	for i, chunk := range chunks {
		if i > 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		pcm, tokens, truncated, err := s.synthesizeChunk(ctx, m, profile, chunk, req)
		if err != nil {
			return nil, fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
		}
		res.Samples = append(res.Samples, pcm...)
		res.SpeechTokens += tokens
		res.Truncated = res.Truncated || truncated
	}

	var speed audio.Hook
	if req.SpeedFactor != 1 {
		factor := req.SpeedFactor
		speed = func(samples []float32) []float32 { return audio.ChangeSpeed(samples, factor) }
	}
	res.Samples = audio.ApplyHooks(res.Samples, speed)
	res.Elapsed = time.Since(start)

	s.logger.Info("synthesized",
		"voice", req.Voice,
		"language", req.Language,
		"chunks", res.Chunks,
		"speech_tokens", res.SpeechTokens,
		"samples", len(res.Samples),
		"truncated", res.Truncated,
		"elapsed", res.Elapsed,
	)

	return res, nil
}

func (s *Service) synthesizeChunk(ctx context.Context, m *Model, profile onnx.VoiceProfile, chunk string, req Request) ([]float32, int, bool, error) {
	prepared, err := text.PrepareLanguage(chunk, req.Language, m.Cangjie)
	if err != nil {
		return nil, 0, false, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	ids, err := m.Tokenizer.Encode(prepared)
	if err != nil {
		return nil, 0, false, fmt.Errorf("tokenize: %w", err)
	}
	if len(ids) == 0 {
		return nil, 0, false, fmt.Errorf("%w: text produced no tokens", ErrInvalidRequest)
	}

	gen, err := m.Engine.GenerateSpeechTokens(ctx, profile, [][]int64{ids}, onnx.GenerateConfig{
		MaxNewTokens:      req.MaxNewTokens,
		RepetitionPenalty: req.RepetitionPenalty,
		Exaggeration:      float32(req.Exaggeration),
		OnStep:            req.OnStep,
	})
	if err != nil {
		return nil, 0, false, err
	}

	speech := gen.SpeechTokens[0]
	if len(speech) == 0 {
		// STOP on the first step with no voice prompt leaves nothing to render.
		return nil, 0, gen.Truncated, nil
	}

	pcm, err := m.Engine.RenderWaveform(ctx, speech, profile)
	if err != nil {
		return nil, 0, false, err
	}

	return pcm, len(speech) - len(profile.PromptTokens), gen.Truncated, nil
}

// Enroll builds a voice profile from a WAV upload and stores it under a new id.
func (s *Service) Enroll(ctx context.Context, name string, wav []byte) (voice.Metadata, error) {
	if name == "" {
		return voice.Metadata{}, fmt.Errorf("%w: voice name is required", ErrInvalidRequest)
	}

	clip, err := audio.DecodeWAV(wav)
	if err != nil {
		return voice.Metadata{}, err
	}

	start := time.Now()
	samples, err := s.prepareReference(clip)
	if err != nil {
		return voice.Metadata{}, err
	}

	m, _, release, err := s.acquire(ctx)
	if err != nil {
		return voice.Metadata{}, err
	}
	defer release()

	profile, err := m.Engine.EncodeSpeech(ctx, samples)
	if err != nil {
		return voice.Metadata{}, err
	}

	return s.voices.Save(name, profile, wav, time.Since(start).Seconds())
}

// prepareReference resamples, trims and normalises a reference clip and
// enforces the enrollment duration bounds.
func (s *Service) prepareReference(clip audio.Clip) ([]float32, error) {
	rate := s.cfg.Model.SampleRate
	e := s.cfg.Enroll

	samples := audio.Resample(clip.Samples, clip.SampleRate, rate)
	samples = audio.TrimSilence(samples, e.TrimTopDB)
	samples = audio.PeakNormalize(samples)

	if secs := float64(len(samples)) / float64(rate); secs < e.MinSeconds {
		return nil, fmt.Errorf("%w: %.2fs after trimming, need at least %.1fs", ErrAudioTooShort, secs, e.MinSeconds)
	}

	return audio.TruncateSeconds(samples, rate, e.MaxSeconds), nil
}

func (s *Service) ListVoices() ([]voice.Metadata, error) {
	return s.voices.List()
}

func (s *Service) DeleteVoice(id string) error {
	return s.voices.Delete(id)
}

// PredefinedVoices lists the reference clips shipped in the voice directory.
func (s *Service) PredefinedVoices() ([]string, error) {
	return s.voices.Predefined()
}

// Reload hot-swaps the model. Cached reference profiles belong to the old
// model and are dropped on the next lookup.
func (s *Service) Reload(ctx context.Context) error {
	return s.handle.Reload(ctx)
}

func (s *Service) ModelInfo() Info {
	v := s.cfg.Variant
	info := Info{
		Variant:      v.String(),
		Repo:         v.Repo(),
		Dir:          s.cfg.Paths.ModelDir,
		SampleRate:   s.cfg.Model.SampleRate,
		Languages:    text.LanguageIDs(),
		Capabilities: s.caps,
	}
	if v.SupportsParalinguisticTags() {
		info.ParalinguisticTags = config.ParalinguisticTags()
	}

	if m, _, release, err := s.handle.Acquire(); err == nil {
		loadedAt := m.LoadedAt
		info.Loaded = true
		info.LoadedAt = &loadedAt
		info.Dir = m.Dir
		release()
	}

	return info
}
