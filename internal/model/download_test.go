package model

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/go-chatterbox/internal/config"
	"github.com/example/go-chatterbox/internal/text"
)

func TestPinnedManifestChatterboxRepos(t *testing.T) {
	for _, v := range []config.ModelVariant{config.VariantOriginal, config.VariantTurbo, config.VariantCustom} {
		m, err := PinnedManifest(v.Repo())
		require.NoError(t, err, v.String())
		require.NotEmpty(t, m.Files)

		var names []string
		for _, f := range m.Files {
			assert.NotEmpty(t, f.Revision)
			names = append(names, f.Filename)
		}
		assert.Contains(t, names, "onnx/language_model.onnx")
		assert.Contains(t, names, "onnx/language_model.onnx_data")
		assert.Contains(t, names, "tokenizer.json")
	}

	_, err := PinnedManifest("someone/other-tts")
	assert.Error(t, err)
}

func TestPinnedManifest_CangjieOnlyForMultilingual(t *testing.T) {
	find := func(m Manifest) (ModelFile, bool) {
		for _, f := range m.Files {
			if f.Filename == text.CangjieFile {
				return f, true
			}
		}
		return ModelFile{}, false
	}

	multi, err := PinnedManifest(config.VariantOriginal.Repo())
	require.NoError(t, err)
	f, ok := find(multi)
	require.True(t, ok)
	assert.True(t, f.Optional)

	turbo, err := PinnedManifest(config.VariantTurbo.Repo())
	require.NoError(t, err)
	_, ok = find(turbo)
	assert.False(t, ok)
}

func TestNormalizeETag(t *testing.T) {
	got := normalizeETag(`W/"58aa704a88faad35f22c34ea1cb55c4c5629de8b8e035c6e4936e2673dc07617"`)
	assert.Equal(t, "58aa704a88faad35f22c34ea1cb55c4c5629de8b8e035c6e4936e2673dc07617", got)
	assert.True(t, isSHA256Hex(got))
}

func TestExistingMatches(t *testing.T) {
	p := filepath.Join(t.TempDir(), "x.bin")
	require.NoError(t, os.WriteFile(p, []byte("hello"), 0o644))

	ok, err := existingMatches(p, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = existingMatches(filepath.Join(t.TempDir(), "missing"), "00")
	require.NoError(t, err)
	assert.False(t, ok)
}

// fakeHub serves every manifest file except those in missing, advertising
// sha256 checksums through X-Linked-Etag.
type fakeHub struct {
	mu       sync.Mutex
	gets     map[string]int
	missing  map[string]bool
	denied   bool
	corrupt  string
	lastAuth string
}

func (h *fakeHub) content(name string) []byte {
	return []byte("contents of " + name)
}

func (h *fakeHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastAuth = r.Header.Get("Authorization")
	if h.denied {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	_, name, ok := strings.Cut(r.URL.Path, "/resolve/main/")
	if !ok || h.missing[name] {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	body := h.content(name)
	sum := sha256.Sum256(body)
	w.Header().Set("X-Linked-Etag", `"`+hex.EncodeToString(sum[:])+`"`)
	if r.Method == http.MethodHead {
		return
	}

	h.gets[name]++
	if name == h.corrupt {
		body = []byte("tampered")
	}
	_, _ = w.Write(body)
}

func newHub(t *testing.T) (*fakeHub, *httptest.Server) {
	t.Helper()

	hub := &fakeHub{gets: map[string]int{}, missing: map[string]bool{}}
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)

	return hub, srv
}

func TestDownload_FetchesVerifiesAndLocks(t *testing.T) {
	hub, srv := newHub(t)
	hub.missing["default_voice.wav"] = true
	dir := t.TempDir()
	repo := config.VariantOriginal.Repo()

	var out bytes.Buffer
	err := Download(context.Background(), DownloadOptions{
		Repo: repo, OutDir: dir, BaseURL: srv.URL, HFToken: "secret", Stdout: &out,
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret", hub.lastAuth)
	assert.Contains(t, out.String(), "skip default_voice.wav (not published)")

	got, err := os.ReadFile(filepath.Join(dir, "onnx", "embed_tokens.onnx"))
	require.NoError(t, err)
	assert.Equal(t, hub.content("onnx/embed_tokens.onnx"), got)

	lock := ReadLockManifest(filepath.Join(dir, LockFile))
	assert.Equal(t, repo, lock.Repo)
	assert.Len(t, lock.Files, 10)
	assert.True(t, isSHA256Hex(lock.Files["tokenizer.json"].SHA256))
	assert.Contains(t, lock.Files, text.CangjieFile)

	require.NoError(t, Verify(VerifyOptions{ModelDir: dir}))

	// A second run finds everything in place.
	out.Reset()
	require.NoError(t, Download(context.Background(), DownloadOptions{Repo: repo, OutDir: dir, BaseURL: srv.URL, Stdout: &out}))
	assert.Equal(t, 1, hub.gets["tokenizer.json"])
	assert.Contains(t, out.String(), "skip tokenizer.json (checksum match)")
}

func TestDownload_ChecksumMismatch(t *testing.T) {
	hub, srv := newHub(t)
	hub.corrupt = "onnx/speech_encoder.onnx"
	dir := t.TempDir()

	err := Download(context.Background(), DownloadOptions{Repo: config.VariantTurbo.Repo(), OutDir: dir, BaseURL: srv.URL})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum mismatch for onnx/speech_encoder.onnx")
	assert.NoFileExists(t, filepath.Join(dir, "onnx", "speech_encoder.onnx"))
}

func TestDownload_AccessDenied(t *testing.T) {
	hub, srv := newHub(t)
	hub.denied = true

	err := Download(context.Background(), DownloadOptions{Repo: config.VariantOriginal.Repo(), OutDir: t.TempDir(), BaseURL: srv.URL})

	var denied *ErrAccessDenied
	require.True(t, errors.As(err, &denied))
	assert.Contains(t, denied.Error(), "HF_TOKEN")
}

func TestDownload_RequiredFileMissing(t *testing.T) {
	hub, srv := newHub(t)
	hub.missing["tokenizer.json"] = true

	err := Download(context.Background(), DownloadOptions{Repo: config.VariantOriginal.Repo(), OutDir: t.TempDir(), BaseURL: srv.URL})
	require.ErrorIs(t, err, errNotPublished)
}

func TestDownload_CancelledContext(t *testing.T) {
	_, srv := newHub(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Download(ctx, DownloadOptions{Repo: config.VariantOriginal.Repo(), OutDir: t.TempDir(), BaseURL: srv.URL})
	require.ErrorIs(t, err, context.Canceled)
}

func TestDownload_Validation(t *testing.T) {
	assert.Error(t, Download(context.Background(), DownloadOptions{OutDir: t.TempDir()}))
	assert.Error(t, Download(context.Background(), DownloadOptions{Repo: "x"}))
}
