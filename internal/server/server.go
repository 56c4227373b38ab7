package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/example/go-chatterbox/internal/audio"
	"github.com/example/go-chatterbox/internal/config"
	"github.com/example/go-chatterbox/internal/history"
	"github.com/example/go-chatterbox/internal/onnx"
	"github.com/example/go-chatterbox/internal/tts"
	"github.com/example/go-chatterbox/internal/voice"
)

// ParseLogLevel converts a case-insensitive level string to slog.Level.
// An empty string returns slog.LevelInfo. Unknown strings return an error.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (want debug|info|warn|error)", s)
	}
}

// Backend is the synthesis and voice management surface served over HTTP.
// *tts.Service implements it.
type Backend interface {
	DefaultRequest() tts.Request
	Synthesize(ctx context.Context, req tts.Request) (*tts.Result, error)
	Enroll(ctx context.Context, name string, wav []byte) (voice.Metadata, error)
	ListVoices() ([]voice.Metadata, error)
	DeleteVoice(id string) error
	PredefinedVoices() ([]string, error)
	ModelInfo() tts.Info
	Reload(ctx context.Context) error
}

var _ Backend = (*tts.Service)(nil)

// ---------------------------------------------------------------------------
// Functional options
// ---------------------------------------------------------------------------

type options struct {
	maxTextBytes   int
	maxUploadBytes int64
	workers        int
	requestTimeout time.Duration
	logger         *slog.Logger
}

func defaultOptions() options {
	return options{
		maxTextBytes:   8192,
		maxUploadBytes: 50 << 20,
		workers:        1,
		requestTimeout: 300 * time.Second,
		logger:         slog.Default(),
	}
}

// Option configures the HTTP handler.
type Option func(*options)

// WithMaxTextBytes sets the maximum allowed text length in bytes.
func WithMaxTextBytes(n int) Option {
	return func(o *options) { o.maxTextBytes = n }
}

// WithMaxUploadBytes caps the size of enrollment uploads.
func WithMaxUploadBytes(n int64) Option {
	return func(o *options) { o.maxUploadBytes = n }
}

// WithWorkers sets how many synthesis requests are admitted at once. Admitted
// requests still run one after the other inside the service.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithRequestTimeout sets the per-request synthesis deadline.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) { o.requestTimeout = d }
}

// WithLogger sets the slog.Logger used for request logging.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// ---------------------------------------------------------------------------
// handler
// ---------------------------------------------------------------------------

type handler struct {
	backend Backend
	history *history.Store
	opts    options
	sem     chan struct{}
	log     *slog.Logger
	started time.Time
}

// NewHandler returns an http.Handler serving the synthesis, OpenAI-compatible,
// voice, history and model routes. hist may be nil, which disables the
// /api/v1/infer and history routes.
func NewHandler(backend Backend, hist *history.Store, optFns ...Option) http.Handler {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	h := &handler{
		backend: backend,
		history: hist,
		opts:    opts,
		log:     opts.logger,
		started: time.Now(),
	}
	if opts.workers > 0 {
		h.sem = make(chan struct{}, opts.workers)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.handleHealth)

	mux.HandleFunc("POST /tts", h.handleTTS)
	mux.HandleFunc("POST /v1/audio/speech", h.handleSpeech)
	mux.HandleFunc("GET /v1/models", h.handleModels)
	mux.HandleFunc("GET /v1/audio/models", h.handleModels)
	mux.HandleFunc("GET /v1/voices", h.handlePredefinedVoices)
	mux.HandleFunc("GET /v1/audio/voices", h.handlePredefinedVoices)

	mux.HandleFunc("POST /api/v1/enroll", h.handleEnroll)
	mux.HandleFunc("GET /api/v1/voices", h.handleListVoices)
	mux.HandleFunc("DELETE /api/v1/voices/{id}", h.handleDeleteVoice)
	mux.HandleFunc("GET /api/v1/model", h.handleModelInfo)
	mux.HandleFunc("POST /api/v1/model/reload", h.handleReload)

	if hist != nil {
		mux.HandleFunc("POST /api/v1/infer", h.handleInfer)
		mux.HandleFunc("GET /api/v1/history", h.handleListHistory)
		mux.HandleFunc("DELETE /api/v1/history/{id}", h.handleDeleteHistory)
		mux.Handle("GET /static/output/", http.StripPrefix("/static/output/", http.FileServer(http.Dir(hist.AudioDir()))))
	}

	return withRequestID(mux)
}

func buildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func (h *handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	info := h.backend.ModelInfo()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "healthy",
		"model_loaded": info.Loaded,
		"variant":      info.Variant,
		"device":       "cpu",
		"version":      buildVersion(),
	})
}

// synthesize admits req through the worker semaphore and runs it under the
// request timeout. On failure the error response has been written and nil is
// returned.
func (h *handler) synthesize(w http.ResponseWriter, r *http.Request, req tts.Request) *tts.Result {
	log := requestLogger(r.Context(), h.log)

	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text field is required")
		return nil
	}
	if len(req.Text) > h.opts.maxTextBytes {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("text exceeds maximum size of %d bytes", h.opts.maxTextBytes))
		return nil
	}

	// Acquire a worker slot, honouring cancellation while waiting.
	if h.sem != nil {
		select {
		case h.sem <- struct{}{}:
		case <-r.Context().Done():
			writeError(w, http.StatusServiceUnavailable, "request cancelled while waiting for worker")
			return nil
		}
		defer func() { <-h.sem }()
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.opts.requestTimeout)
	defer cancel()

	start := time.Now()
	res, err := h.backend.Synthesize(ctx, req)
	durationMS := time.Since(start).Milliseconds()

	attrs := []any{
		slog.String("voice", req.Voice),
		slog.String("language", req.Language),
		slog.Int("text_len", len(req.Text)),
		slog.Int64("duration_ms", durationMS),
	}

	if err != nil {
		status := statusFor(err)
		attrs = append(attrs, slog.String("error", err.Error()))
		switch {
		case status == http.StatusGatewayTimeout:
			log.WarnContext(r.Context(), "synthesis timed out", attrs...)
			writeError(w, status, "synthesis timed out")
		case status >= 500:
			log.ErrorContext(r.Context(), "synthesis failed", attrs...)
			writeError(w, status, err.Error())
		default:
			log.InfoContext(r.Context(), "synthesis rejected", attrs...)
			writeError(w, status, err.Error())
		}
		return nil
	}

	attrs = append(attrs,
		slog.Int("samples", len(res.Samples)),
		slog.Int("speech_tokens", res.SpeechTokens),
		slog.Bool("truncated", res.Truncated),
	)
	log.InfoContext(r.Context(), "synthesis complete", attrs...)

	return res
}

func (h *handler) writeWAV(w http.ResponseWriter, res *tts.Result) {
	wav, err := audio.EncodeWAV(res.Samples, res.SampleRate)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("X-Speech-Tokens", fmt.Sprint(res.SpeechTokens))
	if res.Truncated {
		w.Header().Set("X-Truncated", "true")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(wav)
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	case errors.Is(err, tts.ErrInvalidRequest),
		errors.Is(err, tts.ErrAudioTooShort),
		errors.Is(err, audio.ErrInvalidWAV),
		errors.Is(err, onnx.ErrInvalidPenalty):
		return http.StatusBadRequest
	case errors.Is(err, voice.ErrNotFound), errors.Is(err, history.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, tts.ErrModelNotLoaded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// ---------------------------------------------------------------------------
// Server
// ---------------------------------------------------------------------------

// Server wires the HTTP handler into a net/http.Server with graceful shutdown.
type Server struct {
	cfg             config.Config
	backend         Backend
	history         *history.Store
	shutdownTimeout time.Duration
}

func New(cfg config.Config, backend Backend, hist *history.Store) *Server {
	timeout := time.Duration(cfg.Server.ShutdownTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Server{
		cfg:             cfg,
		backend:         backend,
		history:         hist,
		shutdownTimeout: timeout,
	}
}

// WithShutdownTimeout overrides the graceful-shutdown drain period.
func (s *Server) WithShutdownTimeout(d time.Duration) *Server {
	s.shutdownTimeout = d
	return s
}

// Handler builds the HTTP handler from the server configuration.
func (s *Server) Handler() http.Handler {
	return NewHandler(s.backend, s.history,
		WithWorkers(s.cfg.Server.Workers),
		WithMaxTextBytes(s.cfg.Server.MaxTextBytes),
		WithRequestTimeout(time.Duration(s.cfg.Server.RequestTimeout)*time.Second),
	)
}

func (s *Server) Start(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.cfg.Server.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	slog.Info("http server listening", "addr", s.cfg.Server.ListenAddr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http listen: %w", err)
	}
}

func ProbeHTTP(addr string) error {
	resp, err := http.Get("http://" + addr + "/health") //nolint:noctx
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected health status: %s", resp.Status)
	}
	return nil
}
