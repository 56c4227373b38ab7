package model

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/go-chatterbox/internal/config"
)

func TestVerify_RequiresModelDir(t *testing.T) {
	assert.Error(t, Verify(VerifyOptions{}))
}

func TestVerify_NoLockManifest(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "onnx"), 0o755))
	for _, g := range []string{"speech_encoder", "embed_tokens", "language_model", "conditional_decoder"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "onnx", g+".onnx"), []byte("x"), 0o644))
	}

	require.ErrorIs(t, Verify(VerifyOptions{ModelDir: dir}), ErrNoLockManifest)
}

func TestVerify_MissingGraphsReported(t *testing.T) {
	var stderr bytes.Buffer
	err := Verify(VerifyOptions{ModelDir: t.TempDir(), Stderr: &stderr})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "language_model")
	assert.Contains(t, stderr.String(), "FAIL speech_encoder: graph not found")
}

func TestVerify_DetectsTamperedFile(t *testing.T) {
	_, srv := newHub(t)
	dir := t.TempDir()
	require.NoError(t, Download(context.Background(), DownloadOptions{Repo: config.VariantOriginal.Repo(), OutDir: dir, BaseURL: srv.URL}))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "tokenizer.json"), []byte("{}"), 0o644))

	var stdout, stderr bytes.Buffer
	err := Verify(VerifyOptions{ModelDir: dir, Stdout: &stdout, Stderr: &stderr})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tokenizer.json")
	assert.Contains(t, stderr.String(), "FAIL tokenizer.json: missing or checksum mismatch")
	assert.Contains(t, stdout.String(), "PASS onnx/language_model.onnx")
}
