package server_test

import (
	"context"
	"errors"
	"sync"

	"github.com/example/go-chatterbox/internal/tts"
	"github.com/example/go-chatterbox/internal/voice"
)

// stubBackend returns a short silent waveform unless synth is set.
type stubBackend struct {
	synth func(ctx context.Context, req tts.Request) (*tts.Result, error)

	predefined []string
	info       tts.Info
	reloadErr  error

	mu       sync.Mutex
	requests []tts.Request
	reloads  int
}

func (s *stubBackend) DefaultRequest() tts.Request {
	return tts.Request{
		Voice:             "default",
		Language:          "es",
		Exaggeration:      0.5,
		MaxNewTokens:      16,
		RepetitionPenalty: 1.2,
		SplitText:         true,
		ChunkSize:         120,
		SpeedFactor:       1,
	}
}

func (s *stubBackend) Synthesize(ctx context.Context, req tts.Request) (*tts.Result, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	if s.synth != nil {
		return s.synth(ctx, req)
	}

	return &tts.Result{Samples: make([]float32, 240), SampleRate: 24000, Chunks: 1}, nil
}

func (s *stubBackend) Enroll(context.Context, string, []byte) (voice.Metadata, error) {
	return voice.Metadata{}, errors.New("enroll not supported by stub")
}

func (s *stubBackend) ListVoices() ([]voice.Metadata, error) { return nil, nil }

func (s *stubBackend) DeleteVoice(string) error { return voice.ErrNotFound }

func (s *stubBackend) PredefinedVoices() ([]string, error) { return s.predefined, nil }

func (s *stubBackend) ModelInfo() tts.Info { return s.info }

func (s *stubBackend) Reload(context.Context) error {
	s.mu.Lock()
	s.reloads++
	s.mu.Unlock()

	return s.reloadErr
}

func (s *stubBackend) lastRequest() tts.Request {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.requests) == 0 {
		return tts.Request{}
	}
	return s.requests[len(s.requests)-1]
}

// blockUntilDone blocks until ctx is cancelled.
func blockUntilDone(ctx context.Context, _ tts.Request) (*tts.Result, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
