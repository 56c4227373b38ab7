package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/example/go-chatterbox/internal/audio"
	"github.com/example/go-chatterbox/internal/onnx"
)

func newSynthCmd() *cobra.Command {
	var text string
	var out string
	var voiceID string
	var reference string
	var progress bool

	cmd := &cobra.Command{
		Use:   "synth",
		Short: "Synthesize text to WAV",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			inputText, err := readSynthText(text, cmd.InOrStdin())
			if err != nil {
				return err
			}

			ctx := commandContext(cmd)
			svc, closeModel, err := openService(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeModel()

			req := svc.DefaultRequest()
			req.Text = inputText
			if voiceID != "" {
				req.Voice = voiceID
			}
			req.ReferenceAudio = reference

			var bar *progressbar.ProgressBar
			if progress {
				bar = newDecodeBar(cmd.ErrOrStderr())
				req.OnStep = func(onnx.StepStats) { _ = bar.Add(1) }
			}

			res, err := svc.Synthesize(ctx, req)
			if bar != nil {
				_ = bar.Finish()
			}
			if err != nil {
				return err
			}

			wav, err := audio.EncodeWAV(res.Samples, res.SampleRate)
			if err != nil {
				return err
			}
			if err := writeOutput(out, wav, cmd.OutOrStdout()); err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "synthesized %.2fs of audio (%d speech tokens, %d chunk(s), truncated=%t) in %s\n",
				res.Duration(), res.SpeechTokens, res.Chunks, res.Truncated, res.Elapsed.Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().StringVar(&text, "text", "", "Text to synthesize (reads stdin when empty)")
	cmd.Flags().StringVarP(&out, "out", "o", "out.wav", "Output WAV path, or - for stdout")
	cmd.Flags().StringVar(&voiceID, "voice-id", "", "Enrolled or predefined voice (overrides --voice)")
	cmd.Flags().StringVar(&reference, "reference", "", "Reference clip in the audio input directory to clone")
	cmd.Flags().BoolVar(&progress, "progress", true, "Show a decoding progress bar on stderr")

	return cmd
}

func newDecodeBar(w io.Writer) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("decoding"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("tok"),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionOnCompletion(func() { _, _ = fmt.Fprintln(w) }),
	)
}

func readSynthText(text string, stdin io.Reader) (string, error) {
	if strings.TrimSpace(text) != "" {
		return text, nil
	}

	b, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	input := strings.TrimSpace(string(b))
	if input == "" {
		return "", fmt.Errorf("either provide --text or pipe text on stdin")
	}
	return input, nil
}

func writeOutput(path string, data []byte, stdout io.Writer) error {
	if path == "-" {
		_, err := stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

