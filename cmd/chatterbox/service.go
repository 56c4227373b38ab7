package main

import (
	"context"
	"fmt"

	"github.com/example/go-chatterbox/internal/config"
	"github.com/example/go-chatterbox/internal/doctor"
	"github.com/example/go-chatterbox/internal/tts"
	"github.com/example/go-chatterbox/internal/voice"
)

// openService probes the host once, loads the model and wires the synthesis
// service. The returned close func releases the model.
func openService(ctx context.Context, cfg config.Config) (*tts.Service, func(), error) {
	caps := doctor.Probe(cfg)
	if !caps.Ready() {
		for _, c := range caps.Checks {
			if !c.OK && !c.Optional {
				return nil, nil, fmt.Errorf("%s: %s (run `chatterbox doctor`)", c.Name, c.Detail)
			}
		}
	}

	voices, err := voice.NewStore(cfg.Paths.VoicesDir, cfg.Paths.AudioInputDir)
	if err != nil {
		return nil, nil, err
	}

	handle := tts.NewModelHandle(tts.DefaultLoader(cfg))
	if err := handle.Load(ctx); err != nil {
		return nil, nil, fmt.Errorf("load model: %w", err)
	}

	svc := tts.NewService(cfg, handle, voices, tts.WithCapabilities(caps))

	return svc, handle.Close, nil
}
