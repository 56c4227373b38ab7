package voice

import (
	"fmt"

	"github.com/example/go-chatterbox/internal/onnx"
	"github.com/example/go-chatterbox/internal/safetensors"
)

const (
	tensorCondEmb           = "cond_emb"
	tensorPromptToken       = "prompt_token"
	tensorSpeakerEmbeddings = "speaker_embeddings"
	tensorSpeakerFeatures   = "speaker_features"

	metaVoiceID = "voice_id"
)

// EncodeProfile serializes a voice profile as safetensors.
func EncodeProfile(p onnx.VoiceProfile, metadata map[string]string) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	tensors := []safetensors.Tensor{{
		Name:  tensorPromptToken,
		DType: safetensors.DTypeI64,
		Shape: []int64{1, int64(len(p.PromptTokens))},
		Ints:  p.PromptTokens,
	}}

	for name, t := range map[string]*onnx.Tensor{
		tensorCondEmb:           p.CondEmb,
		tensorSpeakerEmbeddings: p.SpeakerEmbeddings,
		tensorSpeakerFeatures:   p.SpeakerFeatures,
	} {
		data, err := onnx.ExtractFloat32(t)
		if err != nil {
			return nil, fmt.Errorf("voice profile %s: %w", name, err)
		}
		tensors = append(tensors, safetensors.Tensor{
			Name:  name,
			DType: safetensors.DTypeF32,
			Shape: t.Shape(),
			Data:  data,
		})
	}

	return safetensors.Encode(tensors, metadata)
}

// decodeProfile parses a safetensors voice profile and the string metadata
// written alongside its tensors.
func decodeProfile(data []byte) (onnx.VoiceProfile, map[string]string, error) {
	store, err := safetensors.OpenStoreFromBytes(data)
	if err != nil {
		return onnx.VoiceProfile{}, nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	defer store.Close()

	floats := make(map[string]*onnx.Tensor, 3)
	for _, name := range []string{tensorCondEmb, tensorSpeakerEmbeddings, tensorSpeakerFeatures} {
		st, err := store.Tensor(name)
		if err != nil {
			return onnx.VoiceProfile{}, nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		if st.DType == safetensors.DTypeI64 {
			return onnx.VoiceProfile{}, nil, fmt.Errorf("%w: %s stored as I64", ErrCorrupt, name)
		}
		t, err := onnx.NewTensor(st.Data, st.Shape)
		if err != nil {
			return onnx.VoiceProfile{}, nil, fmt.Errorf("%w: %s: %w", ErrCorrupt, name, err)
		}
		floats[name] = t
	}

	prompt, err := store.Tensor(tensorPromptToken)
	if err != nil {
		return onnx.VoiceProfile{}, nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if prompt.DType != safetensors.DTypeI64 {
		return onnx.VoiceProfile{}, nil, fmt.Errorf("%w: prompt_token has dtype %s, want I64", ErrCorrupt, prompt.DType)
	}

	p := onnx.VoiceProfile{
		CondEmb:           floats[tensorCondEmb],
		PromptTokens:      prompt.Ints,
		SpeakerEmbeddings: floats[tensorSpeakerEmbeddings],
		SpeakerFeatures:   floats[tensorSpeakerFeatures],
	}
	if err := p.Validate(); err != nil {
		return onnx.VoiceProfile{}, nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	return p, store.Metadata(), nil
}
