// Package worker serves synthesis jobs from a NATS queue group and stores the
// rendered audio in a JetStream object store.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/example/go-chatterbox/internal/audio"
	"github.com/example/go-chatterbox/internal/config"
	"github.com/example/go-chatterbox/internal/tts"
)

const defaultJobTimeout = 5 * time.Minute

var ErrEmptyText = errors.New("job text is empty")

// Synthesizer is the part of tts.Service the worker needs.
type Synthesizer interface {
	DefaultRequest() tts.Request
	Synthesize(ctx context.Context, req tts.Request) (*tts.Result, error)
}

// Job is the request payload. Omitted fields use the service defaults.
type Job struct {
	Text         string   `json:"text"`
	Voice        string   `json:"voice,omitempty"`
	Language     *string  `json:"language,omitempty"`
	Exaggeration *float64 `json:"exaggeration,omitempty"`
	MaxNewTokens *int     `json:"max_new_tokens,omitempty"`
}

// Reply is sent back on the request's reply subject.
type Reply struct {
	AudioKey   string `json:"audio_key,omitempty"`
	Samples    int    `json:"samples,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Truncated  bool   `json:"truncated,omitempty"`
	Error      string `json:"error,omitempty"`
}

type Option func(*NatsWorker)

func WithLogger(l *slog.Logger) Option {
	return func(w *NatsWorker) { w.log = l }
}

// WithJobTimeout bounds a single job.
func WithJobTimeout(d time.Duration) Option {
	return func(w *NatsWorker) { w.timeout = d }
}

// NatsWorker listens for synthesis jobs on a NATS subject.
type NatsWorker struct {
	nc      *nats.Conn
	subject string
	queue   string
	store   ObjectStore
	synth   Synthesizer
	log     *slog.Logger
	timeout time.Duration

	sub *nats.Subscription
}

func NewNatsWorker(nc *nats.Conn, cfg config.NATSConfig, store ObjectStore, synth Synthesizer, opts ...Option) *NatsWorker {
	w := &NatsWorker{
		nc:      nc,
		subject: cfg.Subject,
		queue:   cfg.Queue,
		store:   store,
		synth:   synth,
		log:     slog.Default(),
		timeout: defaultJobTimeout,
	}
	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Connect dials the configured server and opens a JetStream context.
func Connect(cfg config.NATSConfig) (*nats.Conn, nats.JetStreamContext, error) {
	nc, err := nats.Connect(cfg.URL, nats.Name("chatterbox-worker"))
	if err != nil {
		return nil, nil, fmt.Errorf("connect to NATS at %s: %w", cfg.URL, err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("open JetStream context: %w", err)
	}

	return nc, js, nil
}

// Subscribe joins the queue group. Jobs are handled one at a time.
func (w *NatsWorker) Subscribe() error {
	sub, err := w.nc.QueueSubscribe(w.subject, w.queue, w.handleMessage)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", w.subject, err)
	}
	if err := w.nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("flush subscription: %w", err)
	}
	w.sub = sub

	w.log.Info("worker subscribed", "subject", w.subject, "queue", w.queue)

	return nil
}

// Drain stops taking new jobs and lets the in-flight one finish.
func (w *NatsWorker) Drain() error {
	if w.sub == nil {
		return nil
	}
	if err := w.sub.Drain(); err != nil {
		return fmt.Errorf("drain subscription: %w", err)
	}

	return nil
}

// Run subscribes and serves jobs until ctx is done.
func (w *NatsWorker) Run(ctx context.Context) error {
	if err := w.Subscribe(); err != nil {
		return err
	}

	<-ctx.Done()

	return w.Drain()
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	start := time.Now()
	reply, err := w.process(ctx, msg.Data)
	if err != nil {
		w.log.Error("job failed", "subject", msg.Subject, "error", err)
		reply = Reply{Error: err.Error()}
	} else {
		w.log.Info("job complete",
			"audio_key", reply.AudioKey,
			"samples", reply.Samples,
			"truncated", reply.Truncated,
			"took", time.Since(start),
		)
	}

	if msg.Reply == "" {
		return
	}

	data, err := json.Marshal(reply)
	if err != nil {
		w.log.Error("marshal reply", "error", err)
		return
	}
	if err := msg.Respond(data); err != nil {
		w.log.Error("publish reply", "error", err)
	}
}

func (w *NatsWorker) process(ctx context.Context, data []byte) (Reply, error) {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return Reply{}, fmt.Errorf("decode job: %w", err)
	}
	if job.Text == "" {
		return Reply{}, ErrEmptyText
	}

	req := w.synth.DefaultRequest()
	req.Text = job.Text
	if job.Voice != "" {
		req.Voice = job.Voice
	}
	if job.Language != nil {
		req.Language = *job.Language
	}
	if job.Exaggeration != nil {
		req.Exaggeration = *job.Exaggeration
	}
	if job.MaxNewTokens != nil {
		req.MaxNewTokens = *job.MaxNewTokens
	}

	res, err := w.synth.Synthesize(ctx, req)
	if err != nil {
		return Reply{}, fmt.Errorf("synthesize: %w", err)
	}

	wav, err := audio.EncodeWAV(res.Samples, res.SampleRate)
	if err != nil {
		return Reply{}, err
	}

	key := uuid.NewString() + ".wav"
	if err := w.store.Upload(ctx, key, wav); err != nil {
		return Reply{}, fmt.Errorf("upload audio: %w", err)
	}

	return Reply{
		AudioKey:   key,
		Samples:    len(res.Samples),
		SampleRate: res.SampleRate,
		Truncated:  res.Truncated,
	}, nil
}
