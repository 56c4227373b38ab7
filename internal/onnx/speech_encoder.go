package onnx

import (
	"context"
	"errors"
	"fmt"
)

// EncodeSpeech runs the speech encoder over a mono reference clip sampled at
// the model rate and returns the voice conditioning bundle.
func (e *Engine) EncodeSpeech(ctx context.Context, samples []float32) (VoiceProfile, error) {
	if len(samples) == 0 {
		return VoiceProfile{}, errors.New("speech_encoder: empty audio samples")
	}

	runner, err := e.runner(GraphSpeechEncoder)
	if err != nil {
		return VoiceProfile{}, err
	}

	audioTensor, err := NewTensor(samples, []int64{1, int64(len(samples))})
	if err != nil {
		return VoiceProfile{}, fmt.Errorf("speech_encoder: build audio tensor: %w", err)
	}

	outputs, err := runner.Run(ctx, map[string]*Tensor{"audio_values": audioTensor})
	if err != nil {
		return VoiceProfile{}, fmt.Errorf("%w: speech_encoder: run: %w", ErrInference, err)
	}
	if len(outputs) < 4 {
		return VoiceProfile{}, fmt.Errorf("speech_encoder: expected 4 outputs, got %d", len(outputs))
	}

	cond, err := pickOutput(GraphSpeechEncoder, outputs, "cond_emb", "audio_features")
	if err != nil {
		return VoiceProfile{}, err
	}
	prompt, err := pickOutput(GraphSpeechEncoder, outputs, "prompt_token", "audio_tokens")
	if err != nil {
		return VoiceProfile{}, err
	}
	speakerEmb, err := pickOutput(GraphSpeechEncoder, outputs, "speaker_embeddings", "ref_x_vector")
	if err != nil {
		return VoiceProfile{}, err
	}
	speakerFeat, err := pickOutput(GraphSpeechEncoder, outputs, "speaker_features", "prompt_feat")
	if err != nil {
		return VoiceProfile{}, err
	}

	promptTokens, err := ExtractInt64(prompt)
	if err != nil {
		return VoiceProfile{}, fmt.Errorf("speech_encoder: prompt tokens: %w", err)
	}

	profile := VoiceProfile{
		CondEmb:           cond,
		PromptTokens:      promptTokens,
		SpeakerEmbeddings: speakerEmb,
		SpeakerFeatures:   speakerFeat,
	}
	if err := profile.Validate(); err != nil {
		return VoiceProfile{}, fmt.Errorf("speech_encoder: %w", err)
	}

	return profile, nil
}
