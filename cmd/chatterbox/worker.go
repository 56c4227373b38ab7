package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/go-chatterbox/internal/worker"
)

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Serve synthesis jobs from a NATS queue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			svc, closeModel, err := openService(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeModel()

			nc, js, err := worker.Connect(cfg.NATS)
			if err != nil {
				return err
			}
			defer nc.Close()

			store, err := worker.NewNatsObjectStore(js, cfg.NATS.Bucket)
			if err != nil {
				return err
			}

			opts := []worker.Option{}
			if cfg.Server.RequestTimeout > 0 {
				opts = append(opts, worker.WithJobTimeout(time.Duration(cfg.Server.RequestTimeout)*time.Second))
			}

			return worker.NewNatsWorker(nc, cfg.NATS, store, svc, opts...).Run(ctx)
		},
	}
}
