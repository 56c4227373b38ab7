// Package onnxtest provides scripted in-memory stand-ins for the chatterbox
// graphs so decoding, synthesis and HTTP code can be exercised without ONNX
// Runtime or model files.
package onnxtest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/example/go-chatterbox/internal/config"
	"github.com/example/go-chatterbox/internal/onnx"
)

const (
	// Hidden is the embedding width of the fake graphs.
	Hidden = 4
	// SamplesPerToken is how many PCM samples the fake decoder emits per speech token.
	SamplesPerToken = 10
)

// ErrScripted is returned by a graph configured to fail.
var ErrScripted = errors.New("scripted graph failure")

// Script picks the token the fake language model favours at a decoding step
// for a batch row.
type Script func(step, row int) int64

// StopAt returns a script emitting speech tokens until step n, then STOP.
func StopAt(n int, stop int64) Script {
	return func(step, _ int) int64 {
		if step >= n {
			return stop
		}
		return int64(100 + step)
	}
}

// Never returns a script that never emits STOP.
func Never() Script {
	return func(step, _ int) int64 { return int64(100 + step%50) }
}

// Dims returns small model dimensions with the production token ids.
func Dims() config.ModelConfig {
	return config.ModelConfig{
		NumLayers:        2,
		NumKVHeads:       2,
		HeadDim:          4,
		StartSpeechToken: 6561,
		StopSpeechToken:  6562,
		SampleRate:       24000,
	}
}

// Model is a fake chatterbox export. All fields may be set before the first
// run; counters are safe to read after runs complete.
type Model struct {
	Dims   config.ModelConfig
	Vocab  int
	Script Script

	// FailLanguageModelAt makes the language model call with this index fail; -1 disables it.
	FailLanguageModelAt int
	// FailDecoder makes the conditional decoder fail.
	FailDecoder bool

	mu                 sync.Mutex
	lmCalls            int
	embedPositions     [][][]int64
	embedExaggerations []float32
	decodedTokens      [][]int64
	ctxErrs            []error
}

// NewModel returns a fake model following script.
func NewModel(script Script) *Model {
	dims := Dims()

	return &Model{
		Dims:                dims,
		Vocab:               int(dims.StopSpeechToken) + 1,
		Script:              script,
		FailLanguageModelAt: -1,
	}
}

// Engine builds an engine over the fake graphs.
func (m *Model) Engine() *onnx.Engine {
	return onnx.NewEngineWithRunners(m.Runners(), m.Dims)
}

// Runners returns the four fake graph runners.
func (m *Model) Runners() map[string]onnx.GraphRunner {
	return map[string]onnx.GraphRunner{
		onnx.GraphSpeechEncoder:      &runner{name: onnx.GraphSpeechEncoder, fn: m.speechEncoder},
		onnx.GraphEmbedTokens:        &runner{name: onnx.GraphEmbedTokens, fn: m.embedTokens},
		onnx.GraphLanguageModel:      &runner{name: onnx.GraphLanguageModel, fn: m.languageModel},
		onnx.GraphConditionalDecoder: &runner{name: onnx.GraphConditionalDecoder, fn: m.conditionalDecoder},
	}
}

// LanguageModelCalls returns how many times the language model ran.
func (m *Model) LanguageModelCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.lmCalls
}

// EmbedPositions returns the position ids passed to each embed call.
func (m *Model) EmbedPositions() [][][]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([][][]int64(nil), m.embedPositions...)
}

// EmbedExaggerations returns the exaggeration passed to each embed call.
func (m *Model) EmbedExaggerations() []float32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]float32(nil), m.embedExaggerations...)
}

// DecodedTokens returns the speech token sequences handed to the decoder.
func (m *Model) DecodedTokens() [][]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([][]int64(nil), m.decodedTokens...)
}

// ContextErrors returns ctx.Err() as observed by each language model call.
func (m *Model) ContextErrors() []error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]error(nil), m.ctxErrs...)
}

// Profile returns a voice profile with condLen conditioning frames and the
// given prompt tokens.
func Profile(condLen int, prompt []int64) onnx.VoiceProfile {
	cond, _ := onnx.NewTensor(make([]float32, condLen*Hidden), []int64{1, int64(condLen), Hidden})
	emb, _ := onnx.NewTensor(make([]float32, 8), []int64{1, 8})
	feat, _ := onnx.NewTensor(make([]float32, 5*Hidden), []int64{1, 5, Hidden})

	return onnx.VoiceProfile{
		CondEmb:           cond,
		PromptTokens:      append([]int64(nil), prompt...),
		SpeakerEmbeddings: emb,
		SpeakerFeatures:   feat,
	}
}

type runner struct {
	name string
	fn   func(ctx context.Context, inputs map[string]*onnx.Tensor) (map[string]*onnx.Tensor, error)
}

func (r *runner) Run(ctx context.Context, inputs map[string]*onnx.Tensor) (map[string]*onnx.Tensor, error) {
	return r.fn(ctx, inputs)
}

func (r *runner) Name() string { return r.name }

func (r *runner) Close() {}

func (m *Model) speechEncoder(_ context.Context, inputs map[string]*onnx.Tensor) (map[string]*onnx.Tensor, error) {
	audio, ok := inputs["audio_values"]
	if !ok || len(audio.Shape()) != 2 {
		return nil, errors.New("speech_encoder: want audio_values [1, S]")
	}

	p := Profile(3, []int64{1, 2, 3, 4})
	prompt, _ := onnx.NewTensor(p.PromptTokens, []int64{1, int64(len(p.PromptTokens))})

	return map[string]*onnx.Tensor{
		"cond_emb":           p.CondEmb,
		"prompt_token":       prompt,
		"speaker_embeddings": p.SpeakerEmbeddings,
		"speaker_features":   p.SpeakerFeatures,
	}, nil
}

func (m *Model) embedTokens(_ context.Context, inputs map[string]*onnx.Tensor) (map[string]*onnx.Tensor, error) {
	ids, err := onnx.ExtractInt64(inputs["input_ids"])
	if err != nil {
		return nil, fmt.Errorf("embed_tokens: %w", err)
	}
	pos, err := onnx.ExtractInt64(inputs["position_ids"])
	if err != nil {
		return nil, fmt.Errorf("embed_tokens: %w", err)
	}
	exag, err := onnx.ExtractFloat32(inputs["exaggeration"])
	if err != nil || len(exag) != 1 {
		return nil, fmt.Errorf("embed_tokens: exaggeration must be a [1] float tensor")
	}

	shape := inputs["input_ids"].Shape()
	b, t := shape[0], shape[1]

	rows := make([][]int64, b)
	for i := range rows {
		rows[i] = append([]int64(nil), pos[int64(i)*t:int64(i+1)*t]...)
	}

	m.mu.Lock()
	m.embedPositions = append(m.embedPositions, rows)
	m.embedExaggerations = append(m.embedExaggerations, exag[0])
	m.mu.Unlock()

	data := make([]float32, 0, len(ids)*Hidden)
	for _, id := range ids {
		for range Hidden {
			data = append(data, float32(id))
		}
	}
	out, err := onnx.NewTensor(data, []int64{b, t, Hidden})
	if err != nil {
		return nil, err
	}

	return map[string]*onnx.Tensor{"inputs_embeds": out}, nil
}

func (m *Model) languageModel(ctx context.Context, inputs map[string]*onnx.Tensor) (map[string]*onnx.Tensor, error) {
	m.mu.Lock()
	step := m.lmCalls
	m.lmCalls++
	m.ctxErrs = append(m.ctxErrs, ctx.Err())
	m.mu.Unlock()

	if step == m.FailLanguageModelAt {
		return nil, ErrScripted
	}

	embeds := inputs["inputs_embeds"]
	mask := inputs["attention_mask"]
	if embeds == nil || mask == nil {
		return nil, errors.New("language_model: missing inputs_embeds or attention_mask")
	}
	b, t := embeds.Dim(0), embeds.Dim(1)

	var past int64 = -1
	for l := range m.Dims.NumLayers {
		for _, kind := range []string{"key", "value"} {
			kv, ok := inputs[fmt.Sprintf("past_key_values.%d.%s", l, kind)]
			if !ok {
				return nil, fmt.Errorf("language_model: missing past_key_values.%d.%s", l, kind)
			}
			if past >= 0 && kv.Dim(2) != past {
				return nil, fmt.Errorf("language_model: layer %d cache length %d, want %d", l, kv.Dim(2), past)
			}
			past = kv.Dim(2)
		}
	}
	if mask.Dim(1) != past+t {
		return nil, fmt.Errorf("language_model: attention mask length %d, want %d", mask.Dim(1), past+t)
	}

	total := past + t
	heads, headDim := int64(m.Dims.NumKVHeads), int64(m.Dims.HeadDim)
	out := make(map[string]*onnx.Tensor, 1+2*m.Dims.NumLayers)
	for l := range m.Dims.NumLayers {
		for _, kind := range []string{"key", "value"} {
			kv, err := onnx.NewTensor(make([]float32, b*heads*total*headDim), []int64{b, heads, total, headDim})
			if err != nil {
				return nil, err
			}
			out[fmt.Sprintf("present.%d.%s", l, kind)] = kv
		}
	}

	vocab := int64(m.Vocab)
	logits := make([]float32, b*t*vocab)
	for row := range b {
		tok := m.Script(step, int(row))
		if tok < 0 || tok >= vocab {
			return nil, fmt.Errorf("language_model: scripted token %d outside vocab %d", tok, vocab)
		}
		last := (row*t + t - 1) * vocab
		logits[last+tok] = 1
	}
	lt, err := onnx.NewTensor(logits, []int64{b, t, vocab})
	if err != nil {
		return nil, err
	}
	out["logits"] = lt

	return out, nil
}

func (m *Model) conditionalDecoder(_ context.Context, inputs map[string]*onnx.Tensor) (map[string]*onnx.Tensor, error) {
	if m.FailDecoder {
		return nil, ErrScripted
	}

	tokens, err := onnx.ExtractInt64(inputs["speech_tokens"])
	if err != nil {
		return nil, fmt.Errorf("conditional_decoder: %w", err)
	}
	if inputs["speaker_embeddings"] == nil || inputs["speaker_features"] == nil {
		return nil, errors.New("conditional_decoder: missing speaker conditioning")
	}

	m.mu.Lock()
	m.decodedTokens = append(m.decodedTokens, tokens)
	m.mu.Unlock()

	n := len(tokens) * SamplesPerToken
	pcm := make([]float32, n)
	for i := range pcm {
		pcm[i] = 0.25
	}
	wav, err := onnx.NewTensor(pcm, []int64{1, int64(n)})
	if err != nil {
		return nil, err
	}

	return map[string]*onnx.Tensor{"waveform": wav}, nil
}
