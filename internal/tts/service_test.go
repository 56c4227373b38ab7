package tts_test

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/go-chatterbox/internal/audio"
	"github.com/example/go-chatterbox/internal/config"
	"github.com/example/go-chatterbox/internal/onnx"
	"github.com/example/go-chatterbox/internal/onnx/onnxtest"
	"github.com/example/go-chatterbox/internal/text"
	"github.com/example/go-chatterbox/internal/tts"
	"github.com/example/go-chatterbox/internal/tts/ttstest"
	"github.com/example/go-chatterbox/internal/voice"
)

const stop = 6562

func request(f *ttstest.Fixture, txt, voiceID string) tts.Request {
	req := f.Service.DefaultRequest()
	req.Text = txt
	req.Voice = voiceID
	return req
}

func TestSynthesize_EnrolledVoice(t *testing.T) {
	f := ttstest.New(t, onnxtest.StopAt(3, stop))
	meta := f.EnrollVoice(t, "Ana")

	var steps int
	req := request(f, "  Hola   mundo ", meta.ID)
	req.Exaggeration = 0.7
	req.OnStep = func(onnx.StepStats) { steps++ }

	res, err := f.Service.Synthesize(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 24000, res.SampleRate)
	assert.Equal(t, 1, res.Chunks)
	assert.Equal(t, 3, res.SpeechTokens)
	assert.False(t, res.Truncated)
	assert.Len(t, res.Samples, 5*onnxtest.SamplesPerToken)
	assert.Equal(t, 4, steps)

	assert.Equal(t, []string{"[es]Hola mundo"}, f.Tokenizer.Texts())
	assert.Equal(t, [][]int64{{7, 8, 100, 101, 102}}, f.Model.DecodedTokens())
	for _, e := range f.Model.EmbedExaggerations() {
		assert.InDelta(t, 0.7, e, 1e-6)
	}
}

func TestSynthesize_SplitsIntoChunks(t *testing.T) {
	f := ttstest.New(t, onnxtest.StopAt(2, stop))
	meta := f.EnrollVoice(t, "Ana")

	req := request(f, "Hola mundo. Adiós amigo.", meta.ID)
	req.ChunkSize = 12

	res, err := f.Service.Synthesize(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Chunks)
	assert.Equal(t, []string{"[es]Hola mundo.", "[es]Adiós amigo."}, f.Tokenizer.Texts())
	assert.Len(t, f.Model.DecodedTokens(), 2)

	total := 0
	for _, seq := range f.Model.DecodedTokens() {
		total += len(seq) * onnxtest.SamplesPerToken
	}
	assert.Len(t, res.Samples, total)
}

func TestSynthesize_NoSplitKeepsOneChunk(t *testing.T) {
	f := ttstest.New(t, onnxtest.StopAt(1, stop))
	meta := f.EnrollVoice(t, "Ana")

	req := request(f, "Hola mundo. Adiós amigo.", meta.ID)
	req.ChunkSize = 12
	req.SplitText = false

	res, err := f.Service.Synthesize(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Chunks)
}

func TestSynthesize_TruncatedIsNotAnError(t *testing.T) {
	f := ttstest.New(t, onnxtest.Never())
	meta := f.EnrollVoice(t, "Ana")

	req := request(f, "Hola", meta.ID)
	req.MaxNewTokens = 5

	res, err := f.Service.Synthesize(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.Truncated)
	assert.Equal(t, 5, res.SpeechTokens)
	assert.Equal(t, 5, f.Model.LanguageModelCalls())
}

func TestSynthesize_SpeedFactor(t *testing.T) {
	f := ttstest.New(t, onnxtest.StopAt(3, stop))
	meta := f.EnrollVoice(t, "Ana")

	req := request(f, "Hola", meta.ID)
	req.SpeedFactor = 2

	res, err := f.Service.Synthesize(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, res.Samples, 5*onnxtest.SamplesPerToken/2)
}

func TestSynthesize_SpeedFactorBounds(t *testing.T) {
	f := ttstest.New(t, onnxtest.StopAt(3, stop))
	meta := f.EnrollVoice(t, "Ana")

	for _, speed := range []float64{audio.MinSpeedFactor, audio.MaxSpeedFactor} {
		req := request(f, "Hola", meta.ID)
		req.SpeedFactor = speed

		res, err := f.Service.Synthesize(context.Background(), req)
		require.NoError(t, err)
		assert.Len(t, res.Samples, int(float64(5*onnxtest.SamplesPerToken)/speed))
	}
}

func TestSynthesize_ChineseUsesCangjieMapping(t *testing.T) {
	f := ttstest.New(t, onnxtest.StopAt(1, stop))
	meta := f.EnrollVoice(t, "Ana")

	req := request(f, "明日", meta.ID)
	req.Language = "zh"

	_, err := f.Service.Synthesize(context.Background(), req)
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(f.Config.Paths.ModelDir, 0o755))
	mapping := `["日\ta", "明\tab", "曰\ta"]`
	require.NoError(t, os.WriteFile(filepath.Join(f.Config.Paths.ModelDir, text.CangjieFile), []byte(mapping), 0o644))
	require.NoError(t, f.Service.Reload(context.Background()))

	req.Text = "明日曰"
	_, err = f.Service.Synthesize(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"[zh]明日",
		"[zh][cj_a][cj_b][cj_.][cj_a][cj_.][cj_a][cj_1][cj_.]",
	}, f.Tokenizer.Texts())
}

func TestSynthesize_InvalidRequests(t *testing.T) {
	f := ttstest.New(t, onnxtest.StopAt(1, stop))
	meta := f.EnrollVoice(t, "Ana")

	tests := []struct {
		name   string
		mutate func(*tts.Request)
		target error
	}{
		{"empty text", func(r *tts.Request) { r.Text = "   " }, text.ErrEmptyText},
		{"zero penalty", func(r *tts.Request) { r.RepetitionPenalty = 0 }, onnx.ErrInvalidPenalty},
		{"negative penalty", func(r *tts.Request) { r.RepetitionPenalty = -1 }, onnx.ErrInvalidPenalty},
		{"zero max tokens", func(r *tts.Request) { r.MaxNewTokens = 0 }, tts.ErrInvalidRequest},
		{"zero speed", func(r *tts.Request) { r.SpeedFactor = 0 }, tts.ErrInvalidRequest},
		{"tiny speed", func(r *tts.Request) { r.SpeedFactor = 1e-4 }, tts.ErrInvalidRequest},
		{"huge speed", func(r *tts.Request) { r.SpeedFactor = 100 }, tts.ErrInvalidRequest},
		{"infinite speed", func(r *tts.Request) { r.SpeedFactor = math.Inf(1) }, tts.ErrInvalidRequest},
		{"nan speed", func(r *tts.Request) { r.SpeedFactor = math.NaN() }, tts.ErrInvalidRequest},
		{"unknown language", func(r *tts.Request) { r.Language = "xx" }, text.ErrUnsupportedLanguage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := request(f, "Hola", meta.ID)
			tt.mutate(&req)

			_, err := f.Service.Synthesize(context.Background(), req)
			require.Error(t, err)
			assert.ErrorIs(t, err, tts.ErrInvalidRequest)
			assert.ErrorIs(t, err, tt.target)
		})
	}

	assert.Zero(t, f.Model.LanguageModelCalls())
}

func TestSynthesize_GraphFailure(t *testing.T) {
	f := ttstest.New(t, onnxtest.StopAt(3, stop))
	f.Model.FailLanguageModelAt = 1
	meta := f.EnrollVoice(t, "Ana")

	_, err := f.Service.Synthesize(context.Background(), request(f, "Hola", meta.ID))
	assert.ErrorIs(t, err, onnx.ErrInference)
}

func TestSynthesize_VoiceResolution(t *testing.T) {
	f := ttstest.New(t, onnxtest.StopAt(1, stop))
	wav := ttstest.SineWAV(t, 1, 16000)

	_, err := f.Service.Synthesize(context.Background(), request(f, "Hola", ""))
	assert.ErrorIs(t, err, voice.ErrNotFound, "no voice and no default_voice.wav")

	_, err = f.Service.Synthesize(context.Background(), request(f, "Hola", "nobody"))
	assert.ErrorIs(t, err, voice.ErrNotFound)

	require.NoError(t, os.MkdirAll(f.Config.Paths.ModelDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(f.Config.Paths.ModelDir, "default_voice.wav"), wav, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(f.Config.Paths.VoicesDir, "narrator.wav"), wav, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(f.Config.Paths.AudioInputDir, "ref.wav"), wav, 0o644))

	for _, tc := range []struct{ name, voice, ref string }{
		{"default voice file", "", ""},
		{"predefined by stem", "narrator", ""},
		{"predefined by file name", "narrator.wav", ""},
		{"reference clip", "", "ref.wav"},
	} {
		req := request(f, "Hola", tc.voice)
		req.ReferenceAudio = tc.ref
		_, err := f.Service.Synthesize(context.Background(), req)
		require.NoError(t, err, tc.name)
	}

	for _, seq := range f.Model.DecodedTokens() {
		assert.Equal(t, []int64{1, 2, 3, 4}, seq[:4], "encoder prompt is prepended")
	}

	req := request(f, "Hola", "")
	req.ReferenceAudio = "../ref.wav"
	_, err = f.Service.Synthesize(context.Background(), req)
	assert.ErrorIs(t, err, voice.ErrNotFound)
}

func TestSynthesize_CorruptVoice(t *testing.T) {
	f := ttstest.New(t, onnxtest.StopAt(1, stop))
	meta := f.EnrollVoice(t, "Ana")
	require.NoError(t, os.WriteFile(filepath.Join(f.Config.Paths.VoicesDir, meta.ID+".safetensors"), []byte("junk"), 0o644))

	_, err := f.Service.Synthesize(context.Background(), request(f, "Hola", meta.ID))
	assert.ErrorIs(t, err, voice.ErrCorrupt)
}

func TestSynthesize_OneRequestAtATime(t *testing.T) {
	entered := make(chan struct{}, 1)
	gate := make(chan struct{})
	script := func(step, _ int) int64 {
		if step == 0 {
			entered <- struct{}{}
			<-gate
		}
		return stop
	}

	f := ttstest.New(t, script)
	meta := f.EnrollVoice(t, "Ana")

	done := make(chan error, 1)
	go func() {
		_, err := f.Service.Synthesize(context.Background(), request(f, "Hola", meta.ID))
		done <- err
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := f.Service.Synthesize(ctx, request(f, "Adiós", meta.ID))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(gate)
	require.NoError(t, <-done)
	assert.Equal(t, 1, f.Model.LanguageModelCalls())
}

func TestSynthesize_CancelledContextStillFinishesChunk(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	script := func(step, _ int) int64 {
		if step == 0 {
			cancel()
		}
		if step >= 2 {
			return stop
		}
		return int64(100 + step)
	}

	f := ttstest.New(t, script)
	meta := f.EnrollVoice(t, "Ana")

	res, err := f.Service.Synthesize(ctx, request(f, "Hola", meta.ID))
	require.NoError(t, err)
	assert.Equal(t, 2, res.SpeechTokens)
	for _, e := range f.Model.ContextErrors() {
		assert.NoError(t, e)
	}
}

func TestEnroll(t *testing.T) {
	f := ttstest.New(t, onnxtest.StopAt(1, stop))

	meta, err := f.Service.Enroll(context.Background(), "Ana María", ttstest.SineWAV(t, 2, 16000))
	require.NoError(t, err)
	assert.Contains(t, meta.ID, "anamara_")
	assert.Equal(t, "Ana María", meta.Name)
	assert.FileExists(t, filepath.Join(f.Config.Paths.AudioInputDir, meta.RefAudioPath))

	profile, err := f.Store.LoadProfile(meta.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 4}, profile.PromptTokens)

	voices, err := f.Service.ListVoices()
	require.NoError(t, err)
	require.Len(t, voices, 1)
	assert.Equal(t, meta.ID, voices[0].ID)

	require.NoError(t, f.Service.DeleteVoice(meta.ID))
	assert.ErrorIs(t, f.Service.DeleteVoice(meta.ID), voice.ErrNotFound)
}

func TestEnroll_Rejects(t *testing.T) {
	f := ttstest.New(t, onnxtest.StopAt(1, stop))

	_, err := f.Service.Enroll(context.Background(), "Ana", ttstest.SineWAV(t, 0.5, 24000))
	assert.ErrorIs(t, err, tts.ErrAudioTooShort)

	_, err = f.Service.Enroll(context.Background(), "Ana", []byte("not a wav"))
	assert.ErrorIs(t, err, audio.ErrInvalidWAV)

	_, err = f.Service.Enroll(context.Background(), "", ttstest.SineWAV(t, 2, 24000))
	assert.ErrorIs(t, err, tts.ErrInvalidRequest)
}

func TestReload_SwapsModel(t *testing.T) {
	f := ttstest.New(t, onnxtest.StopAt(1, stop))
	meta := f.EnrollVoice(t, "Ana")

	require.NoError(t, f.Service.Reload(context.Background()))
	assert.Equal(t, 2, f.Loads())
	assert.Equal(t, 1, f.Tokenizer.Closed(), "previous model closed after swap")

	_, err := f.Service.Synthesize(context.Background(), request(f, "Hola", meta.ID))
	require.NoError(t, err)
}

func TestModelInfo(t *testing.T) {
	f := ttstest.New(t, onnxtest.StopAt(1, stop))

	info := f.Service.ModelInfo()
	assert.True(t, info.Loaded)
	assert.Equal(t, "chatterbox-es-latam", info.Variant)
	assert.Empty(t, info.ParalinguisticTags)
	assert.Len(t, info.Languages, 23)
	assert.Nil(t, info.Capabilities)

	cfg := f.Config
	cfg.Variant = config.VariantTurbo
	turbo := tts.NewService(cfg, f.Handle, f.Store)
	assert.Equal(t, config.ParalinguisticTags(), turbo.ModelInfo().ParalinguisticTags)
}
