package doctor_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/go-chatterbox/internal/config"
	"github.com/example/go-chatterbox/internal/doctor"
	"github.com/example/go-chatterbox/internal/onnx"
)

type fixture struct {
	cfg config.Config
	dir string
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Variant = config.VariantCustom
	cfg.Paths.ModelDir = filepath.Join(dir, "model")
	cfg.Paths.VoicesDir = filepath.Join(dir, "voices")
	cfg.Paths.AudioInputDir = filepath.Join(dir, "in")
	cfg.Paths.AudioOutputDir = filepath.Join(dir, "out")
	cfg.Paths.HistoryDir = filepath.Join(dir, "history")
	cfg.Paths.TokenizerPath = filepath.Join(dir, "model", "tokenizer.model")
	cfg.Runtime.ORTLibraryPath = filepath.Join(dir, "libonnxruntime.so.1.23.0")
	require.NoError(t, os.MkdirAll(cfg.Paths.ModelDir, 0o755))

	return fixture{cfg: cfg, dir: dir}
}

func (f fixture) touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func (f fixture) complete(t *testing.T) {
	t.Helper()
	f.touch(t, f.cfg.Runtime.ORTLibraryPath)
	f.touch(t, f.cfg.Paths.TokenizerPath)
	for _, g := range onnx.RequiredGraphs {
		f.touch(t, filepath.Join(f.cfg.Paths.ModelDir, g+".onnx"))
	}
}

func hasFailureContaining(failures []string, substr string) bool {
	for _, f := range failures {
		if strings.Contains(f, substr) {
			return true
		}
	}
	return false
}

func TestProbe_AllPresent(t *testing.T) {
	f := newFixture(t)
	f.complete(t)

	caps := doctor.Probe(f.cfg)

	assert.True(t, caps.Ready())
	assert.True(t, caps.ORTAvailable)
	assert.Equal(t, "1.23.0", caps.ORTVersion)
	assert.Empty(t, caps.MissingGraphs)
	assert.Equal(t, "sentencepiece", caps.TokenizerKind)
	assert.Equal(t, "chatterbox-es-latam", caps.Variant)
	assert.Empty(t, caps.DefaultVoice)

	for _, dir := range []string{f.cfg.Paths.VoicesDir, f.cfg.Paths.AudioOutputDir, f.cfg.Paths.HistoryDir} {
		assert.DirExists(t, dir)
	}
}

func TestProbe_DefaultVoiceIsOptional(t *testing.T) {
	f := newFixture(t)
	f.complete(t)

	caps := doctor.Probe(f.cfg)
	assert.True(t, caps.Ready())

	f.touch(t, filepath.Join(f.cfg.Paths.ModelDir, "default_voice.wav"))
	caps = doctor.Probe(f.cfg)
	assert.True(t, caps.Ready())
	assert.Equal(t, filepath.Join(f.cfg.Paths.ModelDir, "default_voice.wav"), caps.DefaultVoice)
}

func TestRun_Scenarios(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(t *testing.T, f *fixture)
		wantFailed  bool
		wantFailure string
	}{
		{
			name:   "complete install",
			mutate: func(*testing.T, *fixture) {},
		},
		{
			name: "missing runtime library",
			mutate: func(t *testing.T, f *fixture) {
				require.NoError(t, os.Remove(f.cfg.Runtime.ORTLibraryPath))
			},
			wantFailed:  true,
			wantFailure: "onnx runtime",
		},
		{
			name: "runtime too old for api version",
			mutate: func(t *testing.T, f *fixture) {
				f.cfg.Runtime.ORTVersion = "1.17.1"
			},
			wantFailed:  true,
			wantFailure: "requires ONNX Runtime >=1.23",
		},
		{
			name: "unknown runtime version passes",
			mutate: func(t *testing.T, f *fixture) {
				old := f.cfg.Runtime.ORTLibraryPath
				f.cfg.Runtime.ORTLibraryPath = filepath.Join(f.dir, "libonnxruntime.so")
				require.NoError(t, os.Rename(old, f.cfg.Runtime.ORTLibraryPath))
				t.Setenv("ORT_VERSION", "")
			},
		},
		{
			name: "missing graph",
			mutate: func(t *testing.T, f *fixture) {
				require.NoError(t, os.Remove(filepath.Join(f.cfg.Paths.ModelDir, onnx.GraphLanguageModel+".onnx")))
			},
			wantFailed:  true,
			wantFailure: "missing language_model",
		},
		{
			name: "missing tokenizer",
			mutate: func(t *testing.T, f *fixture) {
				require.NoError(t, os.Remove(f.cfg.Paths.TokenizerPath))
			},
			wantFailed:  true,
			wantFailure: "tokenizer",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.complete(t)
			tc.mutate(t, &f)

			var out bytes.Buffer
			res := doctor.Run(doctor.Probe(f.cfg), &out)

			if res.Failed() != tc.wantFailed {
				t.Fatalf("Failed() = %v, want %v; failures=%v\n%s", res.Failed(), tc.wantFailed, res.Failures(), out.String())
			}
			if tc.wantFailure != "" && !hasFailureContaining(res.Failures(), tc.wantFailure) {
				t.Errorf("failures %v do not mention %q", res.Failures(), tc.wantFailure)
			}

			if tc.wantFailed {
				assert.Contains(t, out.String(), doctor.FailMark)
			} else {
				assert.NotContains(t, out.String(), doctor.FailMark)
				assert.Contains(t, out.String(), doctor.PassMark)
			}
		})
	}
}

func TestRun_PrintsVariant(t *testing.T) {
	f := newFixture(t)
	f.complete(t)
	f.cfg.Variant = config.VariantTurbo

	var out bytes.Buffer
	doctor.Run(doctor.Probe(f.cfg), &out)

	assert.Contains(t, out.String(), "model variant: chatterbox-turbo (paralinguistic tags: true)")
}
