package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/go-chatterbox/internal/doctor"
	"github.com/example/go-chatterbox/internal/model"
)

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run local runtime and model checks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			caps := doctor.Probe(cfg)
			result := doctor.Run(caps, out)

			var verifyErr error
			if len(caps.MissingGraphs) == 0 {
				verifyErr = model.Verify(model.VerifyOptions{ModelDir: cfg.Paths.ModelDir})
			}
			switch {
			case len(caps.MissingGraphs) > 0:
				_, _ = fmt.Fprintf(out, "%s model checksums: skipped (graphs missing)\n", doctor.WarnMark)
			case errors.Is(verifyErr, model.ErrNoLockManifest):
				_, _ = fmt.Fprintf(out, "%s model checksums: skipped (no lock manifest)\n", doctor.WarnMark)
			case verifyErr != nil:
				_, _ = fmt.Fprintf(out, "%s model checksums: %v\n", doctor.FailMark, verifyErr)
				result.AddFailure(fmt.Sprintf("model checksums: %v", verifyErr))
			default:
				_, _ = fmt.Fprintf(out, "%s model checksums: ok\n", doctor.PassMark)
			}

			if result.Failed() {
				for _, f := range result.Failures() {
					_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "FAIL: %s\n", f)
				}

				return errors.New("doctor checks failed")
			}

			_, _ = fmt.Fprintln(out, "doctor checks passed")

			return nil
		},
	}
}
