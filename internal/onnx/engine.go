package onnx

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/example/go-chatterbox/internal/config"
)

// ErrInference wraps any failure of a graph collaborator during synthesis.
var ErrInference = errors.New("inference failed")

// Engine owns the graph runners of one loaded model and the dimensions they
// were exported with.
type Engine struct {
	runners map[string]GraphRunner
	dims    config.ModelConfig
}

// NewEngine discovers the graphs under modelDir and opens an ORT session for
// each of them.
func NewEngine(modelDir string, rc RunnerConfig, dims config.ModelConfig) (*Engine, error) {
	sessions, err := DiscoverSessions(modelDir)
	if err != nil {
		return nil, err
	}

	runners, err := NewRunners(sessions, rc)
	if err != nil {
		return nil, fmt.Errorf("open graphs: %w", err)
	}

	e := &Engine{runners: runners, dims: dims}
	slog.Info("onnx engine ready", "model_dir", modelDir, "graphs", e.Graphs())

	return e, nil
}

// Dims returns the model dimensions the engine was built with.
func (e *Engine) Dims() config.ModelConfig {
	return e.dims
}

// Graphs lists the loaded graph names in sorted order.
func (e *Engine) Graphs() []string {
	names := make([]string, 0, len(e.runners))
	for name := range e.runners {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Close releases every runner. Safe to call multiple times.
func (e *Engine) Close() {
	for name, r := range e.runners {
		r.Close()
		delete(e.runners, name)
	}
}

func (e *Engine) runner(name string) (GraphRunner, error) {
	r, ok := e.runners[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGraphMissing, name)
	}

	return r, nil
}

// pickOutput returns the first output present under any of the given names.
// A graph with a single output satisfies any lookup.
func pickOutput(graph string, outputs map[string]*Tensor, names ...string) (*Tensor, error) {
	for _, n := range names {
		if t, ok := outputs[n]; ok {
			return t, nil
		}
	}
	if len(outputs) == 1 {
		for _, t := range outputs {
			return t, nil
		}
	}

	return nil, fmt.Errorf("%s: missing output %q", graph, names[0])
}
