package testutil_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/example/go-chatterbox/internal/testutil"
)

func TestRequireONNXRuntime_SkipsWhenAbsent(t *testing.T) {
	t.Setenv("ORT_LIBRARY_PATH", "/nonexistent/libonnxruntime.so")

	skipped := false
	fakeT := &skipTracker{TB: t, onSkip: func() { skipped = true }}
	testutil.RequireONNXRuntime(fakeT)
	if !skipped {
		t.Error("expected RequireONNXRuntime to skip when library is absent")
	}
}

func TestRequireModelDir_SkipsWhenUnset(t *testing.T) {
	t.Setenv(testutil.ModelDirEnv, "")

	skipped := false
	fakeT := &skipTracker{TB: t, onSkip: func() { skipped = true }}
	if dir := testutil.RequireModelDir(fakeT); dir != "" || !skipped {
		t.Errorf("RequireModelDir = %q, skipped=%v; want skip", dir, skipped)
	}
}

func TestRequireModelDir_SkipsWhenGraphMissing(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "embed_tokens.onnx"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(testutil.ModelDirEnv, dir)

	skipped := false
	fakeT := &skipTracker{TB: t, onSkip: func() { skipped = true }}
	testutil.RequireModelDir(fakeT)
	if !skipped {
		t.Error("expected RequireModelDir to skip when graphs are incomplete")
	}
}

func TestRequireModelDir_AcceptsOnnxSubdir(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "onnx")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"speech_encoder", "embed_tokens", "language_model", "conditional_decoder"} {
		if err := os.WriteFile(filepath.Join(sub, name+".onnx"), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	t.Setenv(testutil.ModelDirEnv, dir)

	if got := testutil.RequireModelDir(t); got != dir {
		t.Errorf("RequireModelDir = %q; want %q", got, dir)
	}
}

// skipTracker is a minimal testing.TB implementation that intercepts Skip calls.
type skipTracker struct {
	testing.TB
	onSkip func()
}

func (s *skipTracker) Helper() {}

func (s *skipTracker) Skipf(_ string, _ ...any) {
	s.onSkip()
}
