package onnx

import (
	"context"
	"maps"

	"github.com/example/go-chatterbox/internal/config"
)

// GraphRunner is the minimal runner contract required by Engine methods.
// Tests and alternate runtimes inject their own implementations.
type GraphRunner interface {
	Run(ctx context.Context, inputs map[string]*Tensor) (map[string]*Tensor, error)
	Name() string
	Close()
}

// NewEngineWithRunners builds an Engine from externally provided graph runners.
func NewEngineWithRunners(runners map[string]GraphRunner, dims config.ModelConfig) *Engine {
	internal := make(map[string]GraphRunner, len(runners))
	maps.Copy(internal, runners)

	return &Engine{runners: internal, dims: dims}
}
