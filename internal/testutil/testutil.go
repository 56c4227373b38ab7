// Package testutil provides shared skip helpers for integration tests.
//
// Each helper calls t.Skipf with a clear human-readable reason when the named
// prerequisite is absent, so integration tests remain runnable in partial
// environments without failing noisily.
//
// Typical usage:
//
//	func TestMyIntegration(t *testing.T) {
//	    testutil.RequireONNXRuntime(t)
//	    dir := testutil.RequireModelDir(t)
//	    ...
//	}
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// ModelDirEnv names the environment variable pointing integration tests at
// an exported chatterbox model directory.
const ModelDirEnv = "CHATTERBOX_MODEL_DIR"

var graphFiles = []string{
	"speech_encoder.onnx",
	"embed_tokens.onnx",
	"language_model.onnx",
	"conditional_decoder.onnx",
}

// RequireONNXRuntime skips the test if no ONNX Runtime shared library can be
// located. It checks ORT_LIBRARY_PATH, then common system library paths.
func RequireONNXRuntime(tb testing.TB) {
	tb.Helper()

	if p := os.Getenv("ORT_LIBRARY_PATH"); p != "" {
		if _, err := os.Stat(p); err == nil {
			return
		}

		tb.Skipf("ONNX Runtime library not found at ORT_LIBRARY_PATH=%q", p)

		return
	}

	candidates := []string{
		"/usr/lib/libonnxruntime.so",
		"/usr/local/lib/libonnxruntime.so",
		"/usr/lib/x86_64-linux-gnu/libonnxruntime.so",
		"/opt/homebrew/lib/libonnxruntime.dylib",
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return
		}
	}

	tb.Skipf("ONNX Runtime shared library not found; set ORT_LIBRARY_PATH")
}

// RequireModelDir skips the test unless CHATTERBOX_MODEL_DIR names a
// directory holding all four graphs (directly or under onnx/). It returns the
// directory.
func RequireModelDir(tb testing.TB) string {
	tb.Helper()

	dir := os.Getenv(ModelDirEnv)
	if dir == "" {
		tb.Skipf("%s not set; point it at an exported chatterbox model directory", ModelDirEnv)

		return ""
	}

	for _, name := range graphFiles {
		if !exists(filepath.Join(dir, name)) && !exists(filepath.Join(dir, "onnx", name)) {
			tb.Skipf("model graph %s not found under %s", name, dir)

			return ""
		}
	}

	return dir
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
