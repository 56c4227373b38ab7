package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/example/go-chatterbox/internal/config"
	"github.com/example/go-chatterbox/internal/model"
	"github.com/example/go-chatterbox/internal/onnx"
)

func newModelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Model acquisition and verification commands",
	}

	cmd.AddCommand(newModelDownloadCmd())
	cmd.AddCommand(newModelVerifyCmd())
	cmd.AddCommand(newModelInfoCmd())
	return cmd
}

func newModelDownloadCmd() *cobra.Command {
	var hfRepo string
	var outDir string
	var hfToken string
	var noProgress bool

	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download the chatterbox ONNX export from Hugging Face",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}
			if hfRepo == "" {
				hfRepo = cfg.Variant.Repo()
			}
			if outDir == "" {
				outDir = cfg.Paths.ModelDir
			}
			if hfToken == "" {
				hfToken = os.Getenv("HF_TOKEN")
			}

			err = model.Download(commandContext(cmd), model.DownloadOptions{
				Repo:     hfRepo,
				OutDir:   outDir,
				HFToken:  hfToken,
				Progress: !noProgress,
				Stdout:   cmd.OutOrStdout(),
				Stderr:   cmd.ErrOrStderr(),
			})
			if err != nil {
				var denied *model.ErrAccessDenied
				if errors.As(err, &denied) {
					return denied
				}
				return fmt.Errorf("model download failed: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&hfRepo, "hf-repo", "", "Hugging Face repository (defaults to the configured model's repo)")
	cmd.Flags().StringVar(&outDir, "out-dir", "", "Directory where model files are stored (defaults to paths.model_dir)")
	cmd.Flags().StringVar(&hfToken, "hf-token", "", "Hugging Face token (falls back to HF_TOKEN env var)")
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "Disable download progress bars")

	return cmd
}

func newModelVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Verify downloaded model files against the lock manifest",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}
			return model.Verify(model.VerifyOptions{
				ModelDir: cfg.Paths.ModelDir,
				Stdout:   cmd.OutOrStdout(),
				Stderr:   cmd.ErrOrStderr(),
			})
		},
	}
}

func newModelInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the configured model variant and local files",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(w, "variant:        %s\n", cfg.Variant)
			_, _ = fmt.Fprintf(w, "repo:           %s\n", cfg.Variant.Repo())
			_, _ = fmt.Fprintf(w, "model dir:      %s\n", cfg.Paths.ModelDir)
			_, _ = fmt.Fprintf(w, "tokenizer:      %s\n", cfg.TokenizerFile())
			_, _ = fmt.Fprintf(w, "sample rate:    %d\n", cfg.Model.SampleRate)
			_, _ = fmt.Fprintf(w, "layers:         %d (kv heads %d, head dim %d)\n",
				cfg.Model.NumLayers, cfg.Model.NumKVHeads, cfg.Model.HeadDim)

			if missing := onnx.MissingGraphs(cfg.Paths.ModelDir); len(missing) > 0 {
				_, _ = fmt.Fprintf(w, "graphs:         missing %s\n", strings.Join(missing, ", "))
			} else {
				_, _ = fmt.Fprintln(w, "graphs:         complete")
			}

			if cfg.Variant.SupportsParalinguisticTags() {
				_, _ = fmt.Fprintf(w, "tags:           %s\n", strings.Join(config.ParalinguisticTags(), ", "))
			}

			lock := model.ReadLockManifest(filepath.Join(cfg.Paths.ModelDir, model.LockFile))
			if len(lock.Files) > 0 {
				_, _ = fmt.Fprintf(w, "downloaded:     %s (%d files, %s)\n", lock.Repo, len(lock.Files), lock.Generated)
			}
			return nil
		},
	}
}
