package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/example/go-chatterbox/internal/history"
	"github.com/example/go-chatterbox/internal/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the chatterbox HTTP server",
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

			hist, err := history.NewStore(cfg.Paths.HistoryDir, cfg.Paths.AudioOutputDir)
			if err != nil {
				return err
			}

			return server.New(cfg, svc, hist).Start(ctx)
		},
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
