package server

import (
	"net/http"
	"path/filepath"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/example/go-chatterbox/internal/tts"
)

// customTTSRequest is the body of POST /tts. Unset fields keep the service
// defaults.
type customTTSRequest struct {
	tts.Request

	VoiceMode         string `json:"voice_mode"`
	PredefinedVoiceID string `json:"predefined_voice_id"`
	OutputFormat      string `json:"output_format"`
}

func (h *handler) handleTTS(w http.ResponseWriter, r *http.Request) {
	body := customTTSRequest{Request: h.backend.DefaultRequest()}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if f := strings.ToLower(body.OutputFormat); f != "" && f != "wav" {
		writeError(w, http.StatusBadRequest, "unsupported output_format "+body.OutputFormat+" (only wav)")
		return
	}

	req := body.Request
	switch body.VoiceMode {
	case "", "predefined":
		req.ReferenceAudio = ""
		if body.PredefinedVoiceID != "" {
			req.Voice = body.PredefinedVoiceID
		}
	case "clone":
		if req.ReferenceAudio == "" {
			writeError(w, http.StatusBadRequest, "voice_mode clone requires reference_audio_filename")
			return
		}
	default:
		writeError(w, http.StatusBadRequest, "voice_mode must be predefined or clone")
		return
	}

	if res := h.synthesize(w, r, req); res != nil {
		h.writeWAV(w, res)
	}
}

// speechRequest is the OpenAI-compatible body of POST /v1/audio/speech.
type speechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format"`
	Speed          float64 `json:"speed"`
	Seed           *int    `json:"seed,omitempty"`
}

func (h *handler) handleSpeech(w http.ResponseWriter, r *http.Request) {
	var body speechRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if f := strings.ToLower(body.ResponseFormat); f != "" && f != "wav" {
		writeError(w, http.StatusBadRequest, "unsupported response_format "+body.ResponseFormat+" (only wav)")
		return
	}

	// Decoding is greedy, so a seed has nothing to act on.
	req := h.backend.DefaultRequest()
	req.Text = body.Input
	if body.Voice != "" {
		req.Voice = body.Voice
	}
	if body.Speed > 0 {
		req.SpeedFactor = body.Speed
	}

	if res := h.synthesize(w, r, req); res != nil {
		h.writeWAV(w, res)
	}
}

type modelCard struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

func (h *handler) handleModels(w http.ResponseWriter, _ *http.Request) {
	created := h.started.Unix()
	cards := []modelCard{
		{ID: h.backend.ModelInfo().Variant, Object: "model", Created: created, OwnedBy: "chatterbox"},
		{ID: "tts-1", Object: "model", Created: created, OwnedBy: "openai"},
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"object": "list",
		"data":   cards,
		"models": cards,
	})
}

type voiceCard struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (h *handler) handlePredefinedVoices(w http.ResponseWriter, _ *http.Request) {
	names, err := h.backend.PredefinedVoices()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	voices := make([]voiceCard, 0, len(names))
	for _, n := range names {
		voices = append(voices, voiceCard{ID: n, Name: voiceDisplayName(n)})
	}

	writeJSON(w, http.StatusOK, map[string]any{"voices": voices})
}

// voiceDisplayName turns "deep_male.wav" into "Deep Male".
func voiceDisplayName(file string) string {
	stem := strings.TrimSuffix(file, filepath.Ext(file))
	return cases.Title(language.Und).String(strings.ReplaceAll(stem, "_", " "))
}
