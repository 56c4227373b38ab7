package onnx

import (
	"context"
	"errors"
	"fmt"
)

// VoiceProfile is the speaker conditioning produced by the speech encoder and
// persisted per enrolled voice.
type VoiceProfile struct {
	CondEmb           *Tensor // [1, Tc, D] float32, prepended to the text embeddings
	PromptTokens      []int64 // speech tokens of the reference clip, prepended before decoding
	SpeakerEmbeddings *Tensor // [1, E] float32
	SpeakerFeatures   *Tensor // [1, F, M] float32
}

func (p VoiceProfile) Validate() error {
	if p.CondEmb == nil || p.SpeakerEmbeddings == nil || p.SpeakerFeatures == nil {
		return errors.New("voice profile: missing conditioning tensor")
	}
	if len(p.CondEmb.Shape()) != 3 || p.CondEmb.Dim(0) != 1 {
		return fmt.Errorf("voice profile: cond_emb shape %v, want [1, T, D]", p.CondEmb.Shape())
	}
	if p.CondEmb.DType() != DTypeFloat32 {
		return fmt.Errorf("voice profile: cond_emb dtype %s, want float32", p.CondEmb.DType())
	}
	if p.SpeakerEmbeddings.Dim(0) != 1 || p.SpeakerFeatures.Dim(0) != 1 {
		return fmt.Errorf("voice profile: speaker tensors must have batch 1, got %v and %v",
			p.SpeakerEmbeddings.Shape(), p.SpeakerFeatures.Shape())
	}

	return nil
}

// AssembleInputs embeds the tokenized prompt and prepends the voice
// conditioning embedding along the sequence axis. The result has shape
// [B, Tc+T, D].
func (e *Engine) AssembleInputs(ctx context.Context, profile VoiceProfile, inputIDs [][]int64, exaggeration float32) (*Tensor, error) {
	if err := profile.Validate(); err != nil {
		return nil, err
	}

	positions := PromptPositionIDs(inputIDs, e.dims.StartSpeechToken)
	textEmbeds, err := e.EmbedTokens(ctx, inputIDs, positions, exaggeration)
	if err != nil {
		return nil, err
	}

	cond, err := BroadcastBatch(profile.CondEmb, len(inputIDs))
	if err != nil {
		return nil, fmt.Errorf("assemble inputs: %w", err)
	}

	embeds, err := ConcatSequence(cond, textEmbeds)
	if err != nil {
		return nil, fmt.Errorf("assemble inputs: %w", err)
	}

	return embeds, nil
}
