package onnx

import (
	"context"
	"errors"
	"fmt"
)

// RenderWaveform runs the conditional decoder over the final speech token
// sequence and returns mono float32 PCM at the model sample rate.
func (e *Engine) RenderWaveform(ctx context.Context, speechTokens []int64, profile VoiceProfile) ([]float32, error) {
	if len(speechTokens) == 0 {
		return nil, errors.New("conditional_decoder: empty speech token sequence")
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}

	runner, err := e.runner(GraphConditionalDecoder)
	if err != nil {
		return nil, err
	}

	tokens, err := NewTensor(speechTokens, []int64{1, int64(len(speechTokens))})
	if err != nil {
		return nil, fmt.Errorf("conditional_decoder: speech_tokens: %w", err)
	}

	outputs, err := runner.Run(context.WithoutCancel(ctx), map[string]*Tensor{
		"speech_tokens":      tokens,
		"speaker_embeddings": profile.SpeakerEmbeddings,
		"speaker_features":   profile.SpeakerFeatures,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: conditional_decoder: run: %w", ErrInference, err)
	}

	wav, err := pickOutput(GraphConditionalDecoder, outputs, "waveform", "wav", "audio")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInference, err)
	}

	pcm, err := ExtractFloat32(wav)
	if err != nil {
		return nil, fmt.Errorf("conditional_decoder: %w", err)
	}

	return pcm, nil
}
