package model

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/schollz/progressbar/v3"
)

const (
	DefaultBaseURL = "https://huggingface.co"
	LockFile       = "download-manifest.lock.json"
)

type DownloadOptions struct {
	Repo    string
	OutDir  string
	HFToken string
	// BaseURL overrides the hub address; empty means DefaultBaseURL.
	BaseURL string
	Client  *http.Client
	// Progress renders a byte progress bar per file.
	Progress bool
	Stdout   io.Writer
	Stderr   io.Writer
}

type ErrAccessDenied struct {
	Repo string
	Msg  string
}

func (e *ErrAccessDenied) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return fmt.Sprintf("access denied for %s", e.Repo)
}

var errNotPublished = errors.New("file not published")

type LockManifest struct {
	Repo      string                `json:"repo"`
	Generated string                `json:"generated"`
	Files     map[string]LockRecord `json:"files"`
}

type LockRecord struct {
	Revision string `json:"revision"`
	SHA256   string `json:"sha256"`
}

var shaHexPattern = regexp.MustCompile(`(?i)^[a-f0-9]{64}$`)

type fetcher struct {
	client  *http.Client
	baseURL string
	repo    string
	token   string
}

// Download fetches every file of the repo's pinned manifest into OutDir,
// skipping files whose checksum already matches, and records the verified
// checksums in the lock manifest.
func Download(ctx context.Context, opts DownloadOptions) error {
	if opts.Repo == "" {
		return fmt.Errorf("repo is required")
	}
	if opts.OutDir == "" {
		return fmt.Errorf("out dir is required")
	}
	if opts.Stdout == nil {
		opts.Stdout = io.Discard
	}
	if opts.Stderr == nil {
		opts.Stderr = io.Discard
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 0}
	}

	manifest, err := PinnedManifest(opts.Repo)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(opts.OutDir, 0o755); err != nil {
		return fmt.Errorf("create out dir: %w", err)
	}

	lockPath := filepath.Join(opts.OutDir, LockFile)
	lock := ReadLockManifest(lockPath)
	lock.Repo = opts.Repo
	lock.Generated = time.Now().UTC().Format(time.RFC3339)

	f := fetcher{
		client:  opts.Client,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		repo:    manifest.Repo,
		token:   opts.HFToken,
	}

	for _, file := range manifest.Files {
		if err := ctx.Err(); err != nil {
			return err
		}

		expected := strings.ToLower(file.SHA256)
		if expected == "" {
			if lr, ok := lock.Files[file.Filename]; ok && lr.Revision == file.Revision && isSHA256Hex(lr.SHA256) {
				expected = strings.ToLower(lr.SHA256)
			} else {
				expected, err = f.resolveChecksum(ctx, file)
				if errors.Is(err, errNotPublished) && file.Optional {
					fmt.Fprintf(opts.Stdout, "skip %s (not published)\n", file.Filename)
					continue
				}
				if err != nil {
					return err
				}
			}
		}

		localPath := filepath.Join(opts.OutDir, filepath.FromSlash(file.Filename))
		if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
			return fmt.Errorf("create local subdir: %w", err)
		}

		if ok, err := existingMatches(localPath, expected); err != nil {
			return err
		} else if ok {
			fmt.Fprintf(opts.Stdout, "skip %s (checksum match)\n", file.Filename)
			lock.Files[file.Filename] = LockRecord{Revision: file.Revision, SHA256: expected}
			continue
		}

		fmt.Fprintf(opts.Stdout, "download %s@%s -> %s\n", file.Filename, file.Revision, localPath)
		actual, err := f.download(ctx, file, localPath, opts.Progress, opts.Stderr)
		if err != nil {
			return err
		}
		if actual != expected {
			_ = os.Remove(localPath)
			return fmt.Errorf("checksum mismatch for %s: expected %s got %s", file.Filename, expected, actual)
		}
		fmt.Fprintf(opts.Stdout, "verified %s (sha256=%s)\n", file.Filename, actual)
		lock.Files[file.Filename] = LockRecord{Revision: file.Revision, SHA256: expected}
	}

	if err := writeLockManifest(lockPath, lock); err != nil {
		return err
	}
	fmt.Fprintf(opts.Stdout, "wrote lock manifest: %s\n", lockPath)
	return nil
}

func existingMatches(path, expected string) (bool, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat existing file: %w", err)
	}
	if fi.IsDir() {
		return false, fmt.Errorf("expected file at %s, found directory", path)
	}
	actual, err := fileSHA256(path)
	if err != nil {
		return false, err
	}
	return actual == expected, nil
}

func (f fetcher) download(ctx context.Context, file ModelFile, outPath string, progress bool, progressOut io.Writer) (string, error) {
	resp, err := f.do(ctx, http.MethodGet, file)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("download failed for %s: %s", file.Filename, resp.Status)
	}

	tmp := outPath + ".tmp"
	fh, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	h := sha256.New()
	writers := []io.Writer{fh, h}
	if progress {
		bar := progressbar.NewOptions64(resp.ContentLength,
			progressbar.OptionSetWriter(progressOut),
			progressbar.OptionSetDescription(filepath.Base(file.Filename)),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(40),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionOnCompletion(func() { fmt.Fprintln(progressOut) }),
		)
		writers = append(writers, bar)
	}

	if _, err := io.Copy(io.MultiWriter(writers...), resp.Body); err != nil {
		_ = fh.Close()
		_ = os.Remove(tmp)
		return "", fmt.Errorf("download read failed: %w", err)
	}

	if err := fh.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp, outPath); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("move temp file into place: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

func (f fetcher) resolveChecksum(ctx context.Context, file ModelFile) (string, error) {
	resp, err := f.do(ctx, http.MethodHead, file)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 399 {
		return "", fmt.Errorf("metadata request failed for %s: %s", file.Filename, resp.Status)
	}

	for _, key := range []string{"X-Linked-Etag", "X-Repo-Commit", "Etag"} {
		if v := normalizeETag(resp.Header.Get(key)); isSHA256Hex(v) {
			return strings.ToLower(v), nil
		}
	}

	return "", fmt.Errorf("unable to resolve sha256 metadata for %s; provide pinned checksum", file.Filename)
}

// do issues the request and maps auth failures and 404s to typed errors.
func (f fetcher) do(ctx context.Context, method string, file ModelFile) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, f.resolveURL(file), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s failed: %w", method, file.Filename, err)
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		resp.Body.Close()
		return nil, &ErrAccessDenied{
			Repo: f.repo,
			Msg:  fmt.Sprintf("access denied for %s; provide HF_TOKEN or --hf-token", f.repo),
		}
	case http.StatusNotFound:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", errNotPublished, file.Filename)
	}

	return resp, nil
}

func (f fetcher) resolveURL(file ModelFile) string {
	return fmt.Sprintf("%s/%s/resolve/%s/%s", f.baseURL, f.repo, file.Revision, file.Filename)
}

func normalizeETag(v string) string {
	v = strings.TrimSpace(v)
	v = strings.Trim(v, "\"")
	v = strings.TrimPrefix(v, "W/")
	v = strings.Trim(v, "\"")
	return v
}

func isSHA256Hex(v string) bool {
	return shaHexPattern.MatchString(v)
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file for checksum: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("read file for checksum: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ReadLockManifest returns the lock manifest at path, or an empty one when it
// is missing or unreadable.
func ReadLockManifest(path string) LockManifest {
	out := LockManifest{Files: map[string]LockRecord{}}
	b, err := os.ReadFile(path)
	if err != nil {
		return out
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return LockManifest{Files: map[string]LockRecord{}}
	}
	if out.Files == nil {
		out.Files = map[string]LockRecord{}
	}
	return out
}

func writeLockManifest(path string, lock LockManifest) error {
	b, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return fmt.Errorf("encode lock manifest: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write lock manifest: %w", err)
	}
	return nil
}
