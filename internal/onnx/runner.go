//go:build !windows

package onnx

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/shota3506/onnxruntime-purego/onnxruntime"
)

// RunnerConfig holds ORT library settings for creating runners.
type RunnerConfig struct {
	LibraryPath string
	APIVersion  uint32
}

// ortHandle is the runtime and environment shared by every graph of a model.
type ortHandle struct {
	runtime *ort.Runtime
	env     *ort.Env

	mu   sync.Mutex
	refs int
}

func openORT(cfg RunnerConfig) (*ortHandle, error) {
	if cfg.APIVersion == 0 {
		cfg.APIVersion = 23
	}

	runtime, err := ort.NewRuntime(cfg.LibraryPath, cfg.APIVersion)
	if err != nil {
		return nil, fmt.Errorf("ort runtime: %w", err)
	}

	env, err := runtime.NewEnv("chatterbox", ort.LoggingLevelWarning)
	if err != nil {
		_ = runtime.Close()
		return nil, fmt.Errorf("ort env: %w", err)
	}

	return &ortHandle{runtime: runtime, env: env}, nil
}

func (h *ortHandle) acquire() {
	h.mu.Lock()
	h.refs++
	h.mu.Unlock()
}

func (h *ortHandle) release() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.refs--
	if h.refs > 0 {
		return
	}
	if h.env != nil {
		h.env.Close()
		h.env = nil
	}
	if h.runtime != nil {
		_ = h.runtime.Close()
		h.runtime = nil
	}
}

// Runner wraps an ORT session for a single ONNX graph.
type Runner struct {
	name    string
	ort     *ortHandle
	session *ort.Session
	meta    Session
}

// NewRunners opens one ORT session per graph over a shared runtime. On error
// every session opened so far is closed.
func NewRunners(sessions []Session, cfg RunnerConfig) (map[string]GraphRunner, error) {
	h, err := openORT(cfg)
	if err != nil {
		return nil, err
	}

	h.acquire()
	defer h.release()

	runners := make(map[string]GraphRunner, len(sessions))
	for _, meta := range sessions {
		session, err := h.runtime.NewSession(h.env, meta.Path, nil)
		if err != nil {
			for _, r := range runners {
				r.Close()
			}
			return nil, fmt.Errorf("ort session for %q (%s): %w", meta.Name, meta.Path, err)
		}

		h.acquire()
		runners[meta.Name] = &Runner{name: meta.Name, ort: h, session: session, meta: meta}
	}

	return runners, nil
}

// Run executes the ONNX graph with the given named input tensors.
func (r *Runner) Run(ctx context.Context, inputs map[string]*Tensor) (map[string]*Tensor, error) {
	if r.session == nil {
		return nil, fmt.Errorf("run %q: runner is closed", r.name)
	}

	ortInputs := make(map[string]*ort.Value, len(inputs))
	for name, t := range inputs {
		v, err := tensorToORT(r.ort.runtime, t)
		if err != nil {
			closeORTValues(ortInputs)
			return nil, fmt.Errorf("input %q: %w", name, err)
		}

		ortInputs[name] = v
	}

	defer closeORTValues(ortInputs)

	ortOutputs, err := r.session.Run(ctx, ortInputs)
	if err != nil {
		return nil, fmt.Errorf("run %q: %w", r.name, err)
	}
	defer closeORTValues(ortOutputs)

	results := make(map[string]*Tensor, len(ortOutputs))
	for name, v := range ortOutputs {
		t, err := ortToTensor(v)
		if err != nil {
			return nil, fmt.Errorf("output %q: %w", name, err)
		}

		results[name] = t
	}

	return results, nil
}

// Close releases the session and drops this runner's reference on the shared
// runtime. Safe to call multiple times.
func (r *Runner) Close() {
	if r.session == nil {
		return
	}
	r.session.Close()
	r.session = nil
	r.ort.release()
}

// Name returns the graph name.
func (r *Runner) Name() string {
	return r.name
}

func tensorToORT(runtime *ort.Runtime, t *Tensor) (*ort.Value, error) {
	shape := t.Shape()
	switch data := t.Data().(type) {
	case []float32:
		if len(data) == 0 {
			// The binding needs a backing element even for zero-sized tensors.
			data = make([]float32, 1)
		}
		return ort.NewTensorValue(runtime, data, shape)
	case []int64:
		if len(data) == 0 {
			data = make([]int64, 1)
		}
		return ort.NewTensorValue(runtime, data, shape)
	default:
		return nil, fmt.Errorf("unsupported tensor dtype %T", data)
	}
}

func ortToTensor(v *ort.Value) (*Tensor, error) {
	elemType, err := v.GetTensorElementType()
	if err != nil {
		return nil, fmt.Errorf("get element type: %w", err)
	}

	switch elemType {
	case ort.ONNXTensorElementDataTypeFloat:
		data, shape, err := ort.GetTensorData[float32](v)
		if err != nil {
			return nil, err
		}

		return NewTensor(data, shape)
	case ort.ONNXTensorElementDataTypeInt64:
		data, shape, err := ort.GetTensorData[int64](v)
		if err != nil {
			return nil, err
		}

		return NewTensor(data, shape)
	default:
		return nil, fmt.Errorf("unsupported ORT element type %d", elemType)
	}
}

func closeORTValues(vals map[string]*ort.Value) {
	for _, v := range vals {
		if v != nil {
			v.Close()
		}
	}
}
