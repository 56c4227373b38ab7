package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newEnrollCmd() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "enroll <reference.wav>",
		Short: "Enroll a voice profile from a reference recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			wav, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read reference: %w", err)
			}

			ctx := commandContext(cmd)
			svc, closeModel, err := openService(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeModel()

			meta, err := svc.Enroll(ctx, name, wav)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "enrolled %s (%.2fs)\n", meta.ID, meta.EnrollmentTimeSeconds)
			return err
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Voice name")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}
