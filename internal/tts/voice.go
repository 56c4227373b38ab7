package tts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/example/go-chatterbox/internal/audio"
	"github.com/example/go-chatterbox/internal/onnx"
	"github.com/example/go-chatterbox/internal/voice"
)

const defaultVoiceFile = "default_voice.wav"

// resolveVoice picks the conditioning for a request, in order: a reference
// clip from the audio input directory, an enrolled voice id, a predefined
// clip in the voice directory, the configured default voice and finally the
// default_voice.wav shipped with the model.
func (s *Service) resolveVoice(ctx context.Context, m *Model, gen uint64, id, reference string) (onnx.VoiceProfile, error) {
	if reference != "" {
		path, err := s.referencePath(reference)
		if err != nil {
			return onnx.VoiceProfile{}, err
		}
		return s.encodeReference(ctx, m, gen, path)
	}

	if id == "" {
		id = s.cfg.TTS.Voice
	}

	if id == "" {
		path := filepath.Join(m.Dir, defaultVoiceFile)
		if _, err := os.Stat(path); err != nil {
			return onnx.VoiceProfile{}, fmt.Errorf("%w: no voice requested and %s is missing", voice.ErrNotFound, path)
		}
		return s.encodeReference(ctx, m, gen, path)
	}

	profile, err := s.voices.LoadProfile(id)
	if err == nil {
		return profile, nil
	}
	if !errors.Is(err, voice.ErrNotFound) {
		return onnx.VoiceProfile{}, err
	}

	if path, ok := s.voices.PredefinedPath(id); ok {
		return s.encodeReference(ctx, m, gen, path)
	}

	return onnx.VoiceProfile{}, fmt.Errorf("%w: %q", voice.ErrNotFound, id)
}

func (s *Service) referencePath(name string) (string, error) {
	if filepath.Base(name) != name || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: reference audio %q", voice.ErrNotFound, name)
	}

	path := filepath.Join(s.cfg.Paths.AudioInputDir, name)
	if st, err := os.Stat(path); err != nil || st.IsDir() {
		return "", fmt.Errorf("%w: reference audio %q", voice.ErrNotFound, name)
	}

	return path, nil
}

// encodeReference runs the speech encoder over a WAV file. Profiles are cached
// per file for the lifetime of the model that produced them.
func (s *Service) encodeReference(ctx context.Context, m *Model, gen uint64, path string) (onnx.VoiceProfile, error) {
	s.cacheMu.Lock()
	if s.cacheGen != gen {
		s.refCache = make(map[string]onnx.VoiceProfile)
		s.cacheGen = gen
	}
	if p, ok := s.refCache[path]; ok {
		s.cacheMu.Unlock()
		return p, nil
	}
	s.cacheMu.Unlock()

	clip, err := audio.ReadWAVFile(path)
	if err != nil {
		return onnx.VoiceProfile{}, fmt.Errorf("reference %s: %w", filepath.Base(path), err)
	}

	rate := s.cfg.Model.SampleRate
	samples := audio.Resample(clip.Samples, clip.SampleRate, rate)
	samples = audio.TruncateSeconds(samples, rate, s.cfg.Enroll.MaxSeconds)

	profile, err := m.Engine.EncodeSpeech(ctx, samples)
	if err != nil {
		return onnx.VoiceProfile{}, err
	}

	s.cacheMu.Lock()
	if s.cacheGen == gen {
		s.refCache[path] = profile
	}
	s.cacheMu.Unlock()

	return profile, nil
}
