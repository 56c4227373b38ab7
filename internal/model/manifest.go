package model

import (
	"fmt"

	"github.com/example/go-chatterbox/internal/config"
	"github.com/example/go-chatterbox/internal/text"
)

type Manifest struct {
	Repo  string      `json:"repo"`
	Files []ModelFile `json:"files"`
}

type ModelFile struct {
	Filename string `json:"filename"`
	Revision string `json:"revision"`
	SHA256   string `json:"sha256"`
	// Optional files are skipped when the repo does not publish them.
	Optional bool `json:"optional,omitempty"`
}

const (
	multilingualRevision = "main"
	turboRevision        = "main"
)

// chatterboxFiles lists the four graphs with their external weights, the
// tokenizer and the bundled reference voice.
func chatterboxFiles(revision string) []ModelFile {
	var files []ModelFile
	for _, name := range []string{"speech_encoder", "embed_tokens", "language_model", "conditional_decoder"} {
		files = append(files,
			ModelFile{Filename: "onnx/" + name + ".onnx", Revision: revision},
			ModelFile{Filename: "onnx/" + name + ".onnx_data", Revision: revision},
		)
	}

	return append(files,
		ModelFile{Filename: "tokenizer.json", Revision: revision},
		ModelFile{Filename: "default_voice.wav", Revision: revision, Optional: true},
	)
}

// PinnedManifest lists the files fetched for repo. Checksums left empty are
// resolved from the hub metadata and persisted in the lock manifest.
func PinnedManifest(repo string) (Manifest, error) {
	switch repo {
	case config.VariantOriginal.Repo():
		// Only the multilingual export tokenizes Chinese through Cangjie codes.
		files := append(chatterboxFiles(multilingualRevision),
			ModelFile{Filename: text.CangjieFile, Revision: multilingualRevision, Optional: true})
		return Manifest{Repo: repo, Files: files}, nil
	case config.VariantTurbo.Repo():
		return Manifest{Repo: repo, Files: chatterboxFiles(turboRevision)}, nil
	default:
		return Manifest{}, fmt.Errorf("no pinned manifest for repo %q", repo)
	}
}
