package config

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/example/go-chatterbox/internal/audio"
)

type Config struct {
	Paths    PathsConfig   `mapstructure:"paths"`
	Runtime  RuntimeConfig `mapstructure:"runtime"`
	Server   ServerConfig  `mapstructure:"server"`
	TTS      TTSConfig     `mapstructure:"tts"`
	Model    ModelConfig   `mapstructure:"model"`
	Enroll   EnrollConfig  `mapstructure:"enroll"`
	NATS     NATSConfig    `mapstructure:"nats"`
	LogLevel string        `mapstructure:"log_level"`

	// Variant is resolved from TTS.Model by Load and never read from config sources.
	Variant ModelVariant `mapstructure:"-"`
}

type PathsConfig struct {
	ModelDir       string `mapstructure:"model_dir"`
	TokenizerPath  string `mapstructure:"tokenizer_path"`
	VoicesDir      string `mapstructure:"voices_dir"`
	AudioInputDir  string `mapstructure:"audio_input_dir"`
	AudioOutputDir string `mapstructure:"audio_output_dir"`
	HistoryDir     string `mapstructure:"history_dir"`
}

type RuntimeConfig struct {
	ORTLibraryPath string `mapstructure:"ort_library_path"`
	ORTVersion     string `mapstructure:"ort_version"`
	ORTAPIVersion  int    `mapstructure:"ort_api_version"`
}

type ServerConfig struct {
	ListenAddr      string `mapstructure:"listen_addr"`
	MaxTextBytes    int    `mapstructure:"max_text_bytes"`
	RequestTimeout  int    `mapstructure:"request_timeout"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"`
	Workers         int    `mapstructure:"workers"`
}

type TTSConfig struct {
	Model             string  `mapstructure:"model"`
	Voice             string  `mapstructure:"voice"`
	Language          string  `mapstructure:"language"`
	Exaggeration      float64 `mapstructure:"exaggeration"`
	MaxNewTokens      int     `mapstructure:"max_new_tokens"`
	RepetitionPenalty float64 `mapstructure:"repetition_penalty"`
	SplitText         bool    `mapstructure:"split_text"`
	ChunkSize         int     `mapstructure:"chunk_size"`
	SpeedFactor       float64 `mapstructure:"speed_factor"`
}

// ModelConfig carries the fixed dimensions of the exported graphs.
type ModelConfig struct {
	NumLayers        int   `mapstructure:"num_layers"`
	NumKVHeads       int   `mapstructure:"num_kv_heads"`
	HeadDim          int   `mapstructure:"head_dim"`
	StartSpeechToken int64 `mapstructure:"start_speech_token"`
	StopSpeechToken  int64 `mapstructure:"stop_speech_token"`
	SampleRate       int   `mapstructure:"sample_rate"`
}

type EnrollConfig struct {
	MinSeconds float64 `mapstructure:"min_seconds"`
	MaxSeconds float64 `mapstructure:"max_seconds"`
	TrimTopDB  float64 `mapstructure:"trim_top_db"`
}

type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
	Queue   string `mapstructure:"queue"`
	Bucket  string `mapstructure:"bucket"`
}

type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

var ErrInvalidConfig = errors.New("invalid config")

func DefaultConfig() Config {
	return Config{
		Paths: PathsConfig{
			ModelDir:       "models/chatterbox",
			TokenizerPath:  "",
			VoicesDir:      "voices",
			AudioInputDir:  "data/input",
			AudioOutputDir: "data/output",
			HistoryDir:     "data/history",
		},
		Runtime: RuntimeConfig{
			ORTLibraryPath: "",
			ORTVersion:     "",
			ORTAPIVersion:  23,
		},
		Server: ServerConfig{
			ListenAddr:      ":8000",
			MaxTextBytes:    8192,
			RequestTimeout:  300,
			ShutdownTimeout: 30,
			Workers:         1,
		},
		TTS: TTSConfig{
			Model:             "chatterbox-es-latam",
			Voice:             "",
			Language:          "es",
			Exaggeration:      0.5,
			MaxNewTokens:      256,
			RepetitionPenalty: 1.2,
			SplitText:         true,
			ChunkSize:         120,
			SpeedFactor:       1.0,
		},
		Model: ModelConfig{
			NumLayers:        30,
			NumKVHeads:       16,
			HeadDim:          64,
			StartSpeechToken: 6561,
			StopSpeechToken:  6562,
			SampleRate:       24000,
		},
		Enroll: EnrollConfig{
			MinSeconds: 1.0,
			MaxSeconds: 30.0,
			TrimTopDB:  20,
		},
		NATS: NATSConfig{
			URL:     "nats://127.0.0.1:4222",
			Subject: "chatterbox.synthesize",
			Queue:   "chatterbox-workers",
			Bucket:  "chatterbox-audio",
		},
		LogLevel: "info",
	}
}

// flagKeys maps each viper key to the flag that overrides it.
var flagKeys = []struct{ key, flag string }{
	{"paths.model_dir", "paths-model-dir"},
	{"paths.tokenizer_path", "paths-tokenizer-path"},
	{"paths.voices_dir", "paths-voices-dir"},
	{"paths.audio_input_dir", "paths-audio-input-dir"},
	{"paths.audio_output_dir", "paths-audio-output-dir"},
	{"paths.history_dir", "paths-history-dir"},
	{"runtime.ort_library_path", "ort-lib"},
	{"runtime.ort_version", "runtime-ort-version"},
	{"runtime.ort_api_version", "runtime-ort-api-version"},
	{"server.listen_addr", "server-listen-addr"},
	{"server.max_text_bytes", "max-text-bytes"},
	{"server.request_timeout", "request-timeout"},
	{"server.shutdown_timeout", "shutdown-timeout"},
	{"server.workers", "workers"},
	{"tts.model", "model"},
	{"tts.voice", "voice"},
	{"tts.language", "language"},
	{"tts.exaggeration", "exaggeration"},
	{"tts.max_new_tokens", "max-new-tokens"},
	{"tts.repetition_penalty", "repetition-penalty"},
	{"tts.split_text", "split-text"},
	{"tts.chunk_size", "chunk-size"},
	{"tts.speed_factor", "speed-factor"},
	{"nats.url", "nats-url"},
	{"nats.subject", "nats-subject"},
	{"nats.queue", "nats-queue"},
	{"nats.bucket", "nats-bucket"},
	{"log_level", "log-level"},
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("paths-model-dir", defaults.Paths.ModelDir, "Directory holding the exported ONNX graphs")
	fs.String("paths-tokenizer-path", defaults.Paths.TokenizerPath, "Tokenizer file (tokenizer.json or .model); defaults to <model-dir>/tokenizer.json")
	fs.String("paths-voices-dir", defaults.Paths.VoicesDir, "Directory of enrolled voice profiles")
	fs.String("paths-audio-input-dir", defaults.Paths.AudioInputDir, "Directory for enrollment reference audio")
	fs.String("paths-audio-output-dir", defaults.Paths.AudioOutputDir, "Directory for generated audio")
	fs.String("paths-history-dir", defaults.Paths.HistoryDir, "Directory for inference history records")
	fs.String("ort-lib", defaults.Runtime.ORTLibraryPath, "Path to ONNX Runtime shared library")
	fs.String("runtime-ort-version", defaults.Runtime.ORTVersion, "Expected ONNX Runtime version")
	fs.Int("runtime-ort-api-version", defaults.Runtime.ORTAPIVersion, "ONNX Runtime C API version")
	fs.String("server-listen-addr", defaults.Server.ListenAddr, "HTTP listen address")
	fs.Int("max-text-bytes", defaults.Server.MaxTextBytes, "Maximum request text size in bytes")
	fs.Int("request-timeout", defaults.Server.RequestTimeout, "Per-request timeout in seconds")
	fs.Int("shutdown-timeout", defaults.Server.ShutdownTimeout, "Graceful shutdown timeout in seconds")
	fs.Int("workers", defaults.Server.Workers, "Synthesis requests admitted concurrently (synthesis itself is serialised)")
	fs.String("model", defaults.TTS.Model, "Model selector (chatterbox|chatterbox-turbo|chatterbox-es-latam)")
	fs.String("voice", defaults.TTS.Voice, "Default voice id")
	fs.String("language", defaults.TTS.Language, "Default language id")
	fs.Float64("exaggeration", defaults.TTS.Exaggeration, "Emotion exaggeration")
	fs.Int("max-new-tokens", defaults.TTS.MaxNewTokens, "Maximum generated speech tokens per chunk")
	fs.Float64("repetition-penalty", defaults.TTS.RepetitionPenalty, "Repetition penalty (> 0)")
	fs.Bool("split-text", defaults.TTS.SplitText, "Split long text into sentence chunks")
	fs.Int("chunk-size", defaults.TTS.ChunkSize, "Target chunk size in characters")
	fs.Float64("speed-factor", defaults.TTS.SpeedFactor, "Playback speed factor")
	fs.String("nats-url", defaults.NATS.URL, "NATS server URL")
	fs.String("nats-subject", defaults.NATS.Subject, "NATS subject for synthesis jobs")
	fs.String("nats-queue", defaults.NATS.Queue, "NATS queue group")
	fs.String("nats-bucket", defaults.NATS.Bucket, "JetStream object store bucket for audio")
	fs.String("log-level", defaults.LogLevel, "Log level (debug|info|warn|error)")
}

func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)
	if opts.Cmd != nil {
		if err := bindFlags(v, opts.Cmd.Flags()); err != nil {
			return Config{}, err
		}
	}

	v.SetEnvPrefix("CHATTERBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	if err := v.BindEnv("runtime.ort_library_path", "CHATTERBOX_ORT_LIB", "ORT_LIBRARY_PATH"); err != nil {
		return Config{}, fmt.Errorf("bind ort env vars: %w", err)
	}
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("chatterbox")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	variant, err := ParseVariant(cfg.TTS.Model)
	if err != nil {
		return Config{}, err
	}
	cfg.Variant = variant

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate rejects values the decoding loop cannot run with.
func (c Config) Validate() error {
	p := c.TTS.RepetitionPenalty
	if p <= 0 || math.IsNaN(p) || math.IsInf(p, 0) {
		return fmt.Errorf("%w: tts.repetition_penalty must be > 0 (got %v)", ErrInvalidConfig, p)
	}
	if c.TTS.MaxNewTokens < 1 {
		return fmt.Errorf("%w: tts.max_new_tokens must be >= 1 (got %d)", ErrInvalidConfig, c.TTS.MaxNewTokens)
	}
	if !audio.ValidSpeedFactor(c.TTS.SpeedFactor) {
		return fmt.Errorf("%w: tts.speed_factor must be in [%v, %v] (got %v)",
			ErrInvalidConfig, audio.MinSpeedFactor, audio.MaxSpeedFactor, c.TTS.SpeedFactor)
	}
	if c.TTS.ChunkSize < 1 {
		return fmt.Errorf("%w: tts.chunk_size must be >= 1 (got %d)", ErrInvalidConfig, c.TTS.ChunkSize)
	}

	m := c.Model
	if m.NumLayers < 1 || m.NumKVHeads < 1 || m.HeadDim < 1 || m.SampleRate < 1 {
		return fmt.Errorf("%w: model dimensions must be >= 1 (layers=%d heads=%d head_dim=%d sample_rate=%d)",
			ErrInvalidConfig, m.NumLayers, m.NumKVHeads, m.HeadDim, m.SampleRate)
	}
	if m.StartSpeechToken == m.StopSpeechToken {
		return fmt.Errorf("%w: start and stop speech tokens must differ", ErrInvalidConfig)
	}
	if c.Enroll.MinSeconds <= 0 || c.Enroll.MaxSeconds < c.Enroll.MinSeconds {
		return fmt.Errorf("%w: enroll duration bounds [%v, %v] are invalid",
			ErrInvalidConfig, c.Enroll.MinSeconds, c.Enroll.MaxSeconds)
	}

	return nil
}

// TokenizerFile returns the configured tokenizer path, falling back to the
// tokenizer.json shipped next to the graphs.
func (c Config) TokenizerFile() string {
	if c.Paths.TokenizerPath != "" {
		return c.Paths.TokenizerPath
	}

	return filepath.Join(c.Paths.ModelDir, "tokenizer.json")
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for _, fk := range flagKeys {
		f := fs.Lookup(fk.flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(fk.key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", fk.flag, err)
		}
	}

	return nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("paths.model_dir", c.Paths.ModelDir)
	v.SetDefault("paths.tokenizer_path", c.Paths.TokenizerPath)
	v.SetDefault("paths.voices_dir", c.Paths.VoicesDir)
	v.SetDefault("paths.audio_input_dir", c.Paths.AudioInputDir)
	v.SetDefault("paths.audio_output_dir", c.Paths.AudioOutputDir)
	v.SetDefault("paths.history_dir", c.Paths.HistoryDir)
	v.SetDefault("runtime.ort_library_path", c.Runtime.ORTLibraryPath)
	v.SetDefault("runtime.ort_version", c.Runtime.ORTVersion)
	v.SetDefault("runtime.ort_api_version", c.Runtime.ORTAPIVersion)
	v.SetDefault("server.listen_addr", c.Server.ListenAddr)
	v.SetDefault("server.max_text_bytes", c.Server.MaxTextBytes)
	v.SetDefault("server.request_timeout", c.Server.RequestTimeout)
	v.SetDefault("server.shutdown_timeout", c.Server.ShutdownTimeout)
	v.SetDefault("server.workers", c.Server.Workers)
	v.SetDefault("tts.model", c.TTS.Model)
	v.SetDefault("tts.voice", c.TTS.Voice)
	v.SetDefault("tts.language", c.TTS.Language)
	v.SetDefault("tts.exaggeration", c.TTS.Exaggeration)
	v.SetDefault("tts.max_new_tokens", c.TTS.MaxNewTokens)
	v.SetDefault("tts.repetition_penalty", c.TTS.RepetitionPenalty)
	v.SetDefault("tts.split_text", c.TTS.SplitText)
	v.SetDefault("tts.chunk_size", c.TTS.ChunkSize)
	v.SetDefault("tts.speed_factor", c.TTS.SpeedFactor)
	v.SetDefault("model.num_layers", c.Model.NumLayers)
	v.SetDefault("model.num_kv_heads", c.Model.NumKVHeads)
	v.SetDefault("model.head_dim", c.Model.HeadDim)
	v.SetDefault("model.start_speech_token", c.Model.StartSpeechToken)
	v.SetDefault("model.stop_speech_token", c.Model.StopSpeechToken)
	v.SetDefault("model.sample_rate", c.Model.SampleRate)
	v.SetDefault("enroll.min_seconds", c.Enroll.MinSeconds)
	v.SetDefault("enroll.max_seconds", c.Enroll.MaxSeconds)
	v.SetDefault("enroll.trim_top_db", c.Enroll.TrimTopDB)
	v.SetDefault("nats.url", c.NATS.URL)
	v.SetDefault("nats.subject", c.NATS.Subject)
	v.SetDefault("nats.queue", c.NATS.Queue)
	v.SetDefault("nats.bucket", c.NATS.Bucket)
	v.SetDefault("log_level", c.LogLevel)
}
