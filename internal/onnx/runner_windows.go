//go:build windows

package onnx

import (
	"context"
	"fmt"
)

// RunnerConfig holds ORT library settings for creating runners.
type RunnerConfig struct {
	LibraryPath string
	APIVersion  uint32
}

// Runner is unavailable in windows builds.
type Runner struct {
	name string
}

// NewRunners always returns an error in windows builds. Inject runners with
// NewEngineWithRunners instead.
func NewRunners(sessions []Session, _ RunnerConfig) (map[string]GraphRunner, error) {
	names := make([]string, 0, len(sessions))
	for _, s := range sessions {
		names = append(names, s.Name)
	}
	return nil, fmt.Errorf("native onnx runner is unavailable on windows (graphs %v)", names)
}

func (r *Runner) Run(_ context.Context, _ map[string]*Tensor) (map[string]*Tensor, error) {
	return nil, fmt.Errorf("native onnx runner is unavailable on windows for graph %q", r.name)
}

func (r *Runner) Close() {}

func (r *Runner) Name() string { return r.name }
