package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/go-chatterbox/internal/audio"
	"github.com/example/go-chatterbox/internal/history"
	"github.com/example/go-chatterbox/internal/voice"
)

const staticOutputPrefix = "/static/output/"

func (h *handler) handleEnroll(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.maxUploadBytes)
	if err := r.ParseMultipartForm(h.opts.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}

	name := r.FormValue("name")
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read upload: "+err.Error())
		return
	}

	ctx := r.Context()
	meta, err := h.backend.Enroll(ctx, name, data)
	if err != nil {
		status := statusFor(err)
		requestLogger(ctx, h.log).WarnContext(ctx, "enrollment failed",
			slog.String("name", name), slog.String("error", err.Error()))
		writeError(w, status, err.Error())
		return
	}

	requestLogger(ctx, h.log).InfoContext(ctx, "voice enrolled",
		slog.String("voice_id", meta.ID), slog.Float64("enrollment_seconds", meta.EnrollmentTimeSeconds))

	writeJSON(w, http.StatusOK, map[string]any{
		"voice_id": meta.ID,
		"metadata": meta,
		"status":   "success",
	})
}

func (h *handler) handleListVoices(w http.ResponseWriter, _ *http.Request) {
	voices, err := h.backend.ListVoices()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if voices == nil {
		voices = []voice.Metadata{}
	}

	writeJSON(w, http.StatusOK, voices)
}

func (h *handler) handleDeleteVoice(w http.ResponseWriter, r *http.Request) {
	if err := h.backend.DeleteVoice(r.PathValue("id")); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "success", "message": "Voice deleted"})
}

// inferRequest is the body of POST /api/v1/infer.
type inferRequest struct {
	VoiceID      string   `json:"voice_id"`
	Text         string   `json:"text"`
	Language     *string  `json:"language,omitempty"`
	Exaggeration *float64 `json:"exaggeration,omitempty"`
}

func (h *handler) handleInfer(w http.ResponseWriter, r *http.Request) {
	var body inferRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.VoiceID == "" {
		writeError(w, http.StatusBadRequest, "voice_id is required")
		return
	}

	req := h.backend.DefaultRequest()
	req.Text = body.Text
	req.Voice = body.VoiceID
	if body.Language != nil {
		req.Language = *body.Language
	}
	if body.Exaggeration != nil {
		req.Exaggeration = *body.Exaggeration
	}

	res := h.synthesize(w, r, req)
	if res == nil {
		return
	}

	wav, err := audio.EncodeWAV(res.Samples, res.SampleRate)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	item, err := h.history.Add(history.Item{
		VoiceID:              body.VoiceID,
		Text:                 req.Text,
		Language:             req.Language,
		DurationSeconds:      res.Duration(),
		InferenceTimeSeconds: res.Elapsed.Seconds(),
	}, wav)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"history_id":     item.ID,
		"audio_url":      staticOutputPrefix + item.AudioFile,
		"inference_time": item.InferenceTimeSeconds,
		"status":         "success",
	})
}

type historyEntry struct {
	history.Item
	AudioURL string `json:"audio_url"`
}

func (h *handler) handleListHistory(w http.ResponseWriter, _ *http.Request) {
	items, err := h.history.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]historyEntry, 0, len(items))
	for _, it := range items {
		out = append(out, historyEntry{Item: it, AudioURL: staticOutputPrefix + it.AudioFile})
	}

	writeJSON(w, http.StatusOK, out)
}

func (h *handler) handleDeleteHistory(w http.ResponseWriter, r *http.Request) {
	if err := h.history.Delete(r.PathValue("id")); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "success", "message": "History item deleted"})
}

func (h *handler) handleModelInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.backend.ModelInfo())
}

func (h *handler) handleReload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	if err := h.backend.Reload(ctx); err != nil {
		requestLogger(ctx, h.log).ErrorContext(ctx, "model reload failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	requestLogger(ctx, h.log).InfoContext(ctx, "model reloaded", slog.Duration("took", time.Since(start)))
	writeJSON(w, http.StatusOK, h.backend.ModelInfo())
}
