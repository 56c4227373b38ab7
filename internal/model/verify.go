package model

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/example/go-chatterbox/internal/onnx"
)

type VerifyOptions struct {
	ModelDir string
	Stdout   io.Writer
	Stderr   io.Writer
}

var ErrNoLockManifest = errors.New("no lock manifest; run model download first")

// Verify checks that the model directory holds every required graph and that
// each file recorded in the lock manifest still has its recorded checksum.
func Verify(opts VerifyOptions) error {
	if opts.ModelDir == "" {
		return errors.New("model dir is required")
	}
	if opts.Stdout == nil {
		opts.Stdout = io.Discard
	}
	if opts.Stderr == nil {
		opts.Stderr = io.Discard
	}

	var failures []string

	for _, name := range onnx.MissingGraphs(opts.ModelDir) {
		_, _ = fmt.Fprintf(opts.Stderr, "FAIL %s: graph not found\n", name)
		failures = append(failures, name)
	}

	lockPath := filepath.Join(opts.ModelDir, LockFile)
	if _, err := os.Stat(lockPath); err != nil {
		if len(failures) > 0 {
			return fmt.Errorf("verify failed for %d file(s): %s", len(failures), strings.Join(failures, ", "))
		}
		return ErrNoLockManifest
	}
	lock := ReadLockManifest(lockPath)

	names := make([]string, 0, len(lock.Files))
	for name := range lock.Files {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		rec := lock.Files[name]
		ok, err := existingMatches(filepath.Join(opts.ModelDir, filepath.FromSlash(name)), rec.SHA256)
		switch {
		case err != nil:
			_, _ = fmt.Fprintf(opts.Stderr, "FAIL %s: %v\n", name, err)
			failures = append(failures, name)
		case !ok:
			_, _ = fmt.Fprintf(opts.Stderr, "FAIL %s: missing or checksum mismatch\n", name)
			failures = append(failures, name)
		default:
			_, _ = fmt.Fprintf(opts.Stdout, "PASS %s\n", name)
		}
	}

	if len(failures) > 0 {
		return fmt.Errorf("verify failed for %d file(s): %s", len(failures), strings.Join(failures, ", "))
	}

	return nil
}
