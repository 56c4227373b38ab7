package server_test

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/go-chatterbox/internal/history"
	"github.com/example/go-chatterbox/internal/onnx/onnxtest"
	"github.com/example/go-chatterbox/internal/server"
	"github.com/example/go-chatterbox/internal/testutil"
	"github.com/example/go-chatterbox/internal/tts"
	"github.com/example/go-chatterbox/internal/tts/ttstest"
)

type env struct {
	f       *ttstest.Fixture
	history *history.Store
	h       http.Handler
}

func newEnv(t *testing.T) *env {
	t.Helper()

	f := ttstest.New(t, onnxtest.StopAt(3, 6562))
	hist, err := history.NewStore(f.Config.Paths.HistoryDir, f.Config.Paths.AudioOutputDir)
	require.NoError(t, err)

	wav := ttstest.SineWAV(t, 1, 24000)
	require.NoError(t, os.WriteFile(filepath.Join(f.Config.Paths.VoicesDir, "deep_male.wav"), wav, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(f.Config.Paths.AudioInputDir, "ref.wav"), wav, 0o644))

	return &env{f: f, history: hist, h: server.NewHandler(f.Service, hist)}
}

func httptestGet(h http.Handler, path string, headers map[string]string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	h.ServeHTTP(rec, req)
	return rec
}

func doDelete(h http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, path, nil))
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	e := newEnv(t)

	rec := httptestGet(e.h, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, true, body["model_loaded"])
	assert.Equal(t, "chatterbox-es-latam", body["variant"])
}

func TestTTS_Voices(t *testing.T) {
	e := newEnv(t)
	meta := e.f.EnrollVoice(t, "Ana")

	tests := []struct {
		name string
		body string
		want int
	}{
		{"enrolled voice", `{"text":"Hola mundo","voice":"` + meta.ID + `"}`, http.StatusOK},
		{"predefined voice", `{"text":"Hola","voice_mode":"predefined","predefined_voice_id":"deep_male.wav"}`, http.StatusOK},
		{"clone", `{"text":"Hola","voice_mode":"clone","reference_audio_filename":"ref.wav"}`, http.StatusOK},
		{"explicit wav format", `{"text":"Hola","voice":"deep_male","output_format":"wav"}`, http.StatusOK},
		{"clone without file", `{"text":"Hola","voice_mode":"clone"}`, http.StatusBadRequest},
		{"clone missing file", `{"text":"Hola","voice_mode":"clone","reference_audio_filename":"nope.wav"}`, http.StatusNotFound},
		{"unknown voice mode", `{"text":"Hola","voice_mode":"whisper"}`, http.StatusBadRequest},
		{"unknown voice", `{"text":"Hola","voice":"nobody"}`, http.StatusNotFound},
		{"mp3 output", `{"text":"Hola","voice":"deep_male","output_format":"mp3"}`, http.StatusBadRequest},
		{"bad penalty", `{"text":"Hola","voice":"deep_male","repetition_penalty":0}`, http.StatusBadRequest},
		{"bad language", `{"text":"Hola","voice":"deep_male","language":"xx"}`, http.StatusBadRequest},
		{"empty text", `{"text":"  ","voice":"deep_male"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(e.h, "/tts", tt.body)
			require.Equal(t, tt.want, rec.Code, rec.Body.String())

			if tt.want == http.StatusOK {
				assert.Equal(t, "audio/wav", rec.Header().Get("Content-Type"))
				testutil.AssertValidWAV(t, rec.Body.Bytes())
			}
		})
	}
}

func TestSpeech_OpenAICompatible(t *testing.T) {
	e := newEnv(t)

	rec := postJSON(e.h, "/v1/audio/speech", `{"model":"tts-1","input":"Hola","voice":"deep_male","speed":1.0,"seed":7}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	testutil.AssertValidWAV(t, rec.Body.Bytes())

	rec = postJSON(e.h, "/v1/audio/speech", `{"model":"tts-1","input":"Hola","voice":"deep_male","response_format":"mp3"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(e.h, "/v1/audio/speech", `{"model":"tts-1","input":"Hola","voice":"alloy"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSpeech_SpeedShortensAudio(t *testing.T) {
	e := newEnv(t)

	normal := postJSON(e.h, "/v1/audio/speech", `{"input":"Hola","voice":"deep_male"}`)
	fast := postJSON(e.h, "/v1/audio/speech", `{"input":"Hola","voice":"deep_male","speed":2}`)
	require.Equal(t, http.StatusOK, normal.Code)
	require.Equal(t, http.StatusOK, fast.Code)

	assert.Less(t, testutil.WAVSampleCount(t, fast.Body.Bytes()), testutil.WAVSampleCount(t, normal.Body.Bytes()))
}

func TestModelsAndPredefinedVoices(t *testing.T) {
	e := newEnv(t)

	for _, path := range []string{"/v1/models", "/v1/audio/models"} {
		rec := httptestGet(e.h, path, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		body := decodeBody[struct {
			Object string `json:"object"`
			Data   []struct {
				ID      string `json:"id"`
				OwnedBy string `json:"owned_by"`
			} `json:"data"`
		}](t, rec)
		assert.Equal(t, "list", body.Object)
		require.Len(t, body.Data, 2)
		assert.Equal(t, "chatterbox-es-latam", body.Data[0].ID)
		assert.Equal(t, "tts-1", body.Data[1].ID)
		assert.Equal(t, "openai", body.Data[1].OwnedBy)
	}

	for _, path := range []string{"/v1/voices", "/v1/audio/voices"} {
		rec := httptestGet(e.h, path, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		body := decodeBody[map[string][]map[string]string](t, rec)
		assert.Equal(t, []map[string]string{{"id": "deep_male.wav", "name": "Deep Male"}}, body["voices"])
	}
}

func multipartEnroll(t *testing.T, name string, wav []byte) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if name != "" {
		require.NoError(t, mw.WriteField("name", name))
	}
	if wav != nil {
		fw, err := mw.CreateFormFile("file", "ref.wav")
		require.NoError(t, err)
		_, err = fw.Write(wav)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/enroll", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestEnrollListDelete(t *testing.T) {
	e := newEnv(t)

	rec := httptest.NewRecorder()
	e.h.ServeHTTP(rec, multipartEnroll(t, "Ana", ttstest.SineWAV(t, 2, 16000)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	enrolled := decodeBody[map[string]any](t, rec)
	id, _ := enrolled["voice_id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "success", enrolled["status"])

	rec = httptestGet(e.h, "/api/v1/voices", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	voices := decodeBody[[]map[string]any](t, rec)
	require.Len(t, voices, 1)
	assert.Equal(t, id, voices[0]["id"])

	rec = postJSON(e.h, "/tts", `{"text":"Hola","voice":"`+id+`"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, http.StatusOK, doDelete(e.h, "/api/v1/voices/"+id).Code)
	assert.Equal(t, http.StatusNotFound, doDelete(e.h, "/api/v1/voices/"+id).Code)
}

func TestEnroll_Rejects(t *testing.T) {
	e := newEnv(t)

	tests := []struct {
		name string
		req  *http.Request
	}{
		{"too short", multipartEnroll(t, "Ana", ttstest.SineWAV(t, 0.3, 24000))},
		{"not a wav", multipartEnroll(t, "Ana", []byte("hello"))},
		{"missing file", multipartEnroll(t, "Ana", nil)},
		{"missing name", multipartEnroll(t, "", ttstest.SineWAV(t, 2, 24000))},
	}

	for _, tt := range tests {
		rec := httptest.NewRecorder()
		e.h.ServeHTTP(rec, tt.req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, tt.name)
	}
}

func TestInferAndHistory(t *testing.T) {
	e := newEnv(t)
	meta := e.f.EnrollVoice(t, "Ana")

	rec := postJSON(e.h, "/api/v1/infer", `{"voice_id":"`+meta.ID+`","text":"Hola mundo"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	infer := decodeBody[map[string]any](t, rec)
	url, _ := infer["audio_url"].(string)
	historyID, _ := infer["history_id"].(string)
	require.NotEmpty(t, url)
	require.NotEmpty(t, historyID)

	audio := httptestGet(e.h, url, nil)
	require.Equal(t, http.StatusOK, audio.Code)
	testutil.AssertValidWAV(t, audio.Body.Bytes())

	rec = httptestGet(e.h, "/api/v1/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	items := decodeBody[[]map[string]any](t, rec)
	require.Len(t, items, 1)
	assert.Equal(t, meta.ID, items[0]["voice_id"])
	assert.Equal(t, url, items[0]["audio_url"])

	assert.Equal(t, http.StatusOK, doDelete(e.h, "/api/v1/history/"+historyID).Code)
	assert.Equal(t, http.StatusNotFound, httptestGet(e.h, url, nil).Code)
	assert.Equal(t, http.StatusNotFound, doDelete(e.h, "/api/v1/history/"+historyID).Code)

	rec = postJSON(e.h, "/api/v1/infer", `{"voice_id":"nobody","text":"Hola"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = postJSON(e.h, "/api/v1/infer", `{"text":"Hola"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestModelInfoAndReload(t *testing.T) {
	e := newEnv(t)

	rec := httptestGet(e.h, "/api/v1/model", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	info := decodeBody[tts.Info](t, rec)
	assert.True(t, info.Loaded)
	assert.Len(t, info.Languages, 23)

	rec = postJSON(e.h, "/api/v1/model/reload", ``)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 2, e.f.Loads())
}

func TestReload_FailureIs500(t *testing.T) {
	backend := &stubBackend{reloadErr: assert.AnError}
	h := server.NewHandler(backend, nil)

	rec := postJSON(h, "/api/v1/model/reload", ``)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHistoryRoutesDisabledWithoutStore(t *testing.T) {
	h := server.NewHandler(&stubBackend{}, nil)

	rec := postJSON(h, "/api/v1/infer", `{"voice_id":"a","text":"b"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTTS_DefaultsFillMissingFields(t *testing.T) {
	backend := &stubBackend{}
	h := server.NewHandler(backend, nil)

	rec := postJSON(h, "/tts", `{"text":"Hola","exaggeration":0.9}`)
	require.Equal(t, http.StatusOK, rec.Code)

	got := backend.lastRequest()
	assert.Equal(t, "default", got.Voice)
	assert.Equal(t, "es", got.Language)
	assert.InDelta(t, 0.9, got.Exaggeration, 1e-9)
	assert.Equal(t, 120, got.ChunkSize)
	assert.True(t, got.SplitText)
}
