package onnx

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"
)

// Graph names of the chatterbox export.
const (
	GraphSpeechEncoder      = "speech_encoder"
	GraphEmbedTokens        = "embed_tokens"
	GraphLanguageModel      = "language_model"
	GraphConditionalDecoder = "conditional_decoder"
)

// RequiredGraphs lists the graphs a complete model directory provides.
var RequiredGraphs = []string{
	GraphSpeechEncoder,
	GraphEmbedTokens,
	GraphLanguageModel,
	GraphConditionalDecoder,
}

var ErrGraphMissing = errors.New("onnx graph missing")

type NodeInfo struct {
	Name  string `json:"name"`
	DType string `json:"dtype"`
	Shape []any  `json:"shape"`
}

type Session struct {
	Name string
	Path string

	Inputs  []NodeInfo
	Outputs []NodeInfo
}

type onnxManifest struct {
	Graphs []onnxGraph `json:"graphs"`
}

type onnxGraph struct {
	Name     string     `json:"name"`
	Filename string     `json:"filename"`
	Inputs   []NodeInfo `json:"inputs"`
	Outputs  []NodeInfo `json:"outputs"`
}

// DiscoverSessions locates the graphs of a model directory. A manifest.json
// takes precedence; otherwise the well-known file names are looked up in the
// directory itself and in its onnx/ subdirectory.
func DiscoverSessions(modelDir string) ([]Session, error) {
	if modelDir == "" {
		return nil, errors.New("model directory is required")
	}

	manifestPath := filepath.Join(modelDir, "manifest.json")
	if _, err := os.Stat(manifestPath); err == nil {
		return LoadManifest(manifestPath)
	}

	sessions := make([]Session, 0, len(RequiredGraphs))
	for _, name := range RequiredGraphs {
		path, err := findGraphFile(modelDir, name)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, Session{Name: name, Path: path})
		slog.Debug("found ONNX graph", "name", name, "path", path)
	}

	return sessions, nil
}

// LoadManifest reads a manifest listing graph names, files and node metadata.
func LoadManifest(manifestPath string) ([]Session, error) {
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("read ONNX manifest: %w", err)
	}

	var manifest onnxManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("decode ONNX manifest: %w", err)
	}

	if len(manifest.Graphs) == 0 {
		return nil, errors.New("ONNX manifest has no graphs")
	}

	baseDir := filepath.Dir(manifestPath)
	seen := make(map[string]bool, len(manifest.Graphs))
	sessions := make([]Session, 0, len(manifest.Graphs))

	for _, g := range manifest.Graphs {
		if g.Name == "" {
			return nil, errors.New("manifest graph has empty name")
		}

		if g.Filename == "" {
			return nil, fmt.Errorf("manifest graph %q has empty filename", g.Name)
		}

		if seen[g.Name] {
			return nil, fmt.Errorf("duplicate session name %q in manifest", g.Name)
		}
		seen[g.Name] = true

		sessionPath := g.Filename
		if !filepath.IsAbs(sessionPath) {
			sessionPath = filepath.Join(baseDir, g.Filename)
		}

		sessionPath = filepath.Clean(sessionPath)
		if _, err := os.Stat(sessionPath); err != nil {
			return nil, fmt.Errorf("session file for %q: %w", g.Name, err)
		}

		sessions = append(sessions, Session{
			Name:    g.Name,
			Path:    sessionPath,
			Inputs:  append([]NodeInfo(nil), g.Inputs...),
			Outputs: append([]NodeInfo(nil), g.Outputs...),
		})

		slog.Info(
			"loaded ONNX session",
			"name", g.Name,
			"path", sessionPath,
			"inputs", nodeNames(g.Inputs),
			"outputs", nodeNames(g.Outputs),
		)
	}

	for _, name := range RequiredGraphs {
		if !seen[name] {
			return nil, fmt.Errorf("%w: manifest lacks %q", ErrGraphMissing, name)
		}
	}

	return sessions, nil
}

// MissingGraphs reports which required graph files are absent from modelDir.
func MissingGraphs(modelDir string) []string {
	var missing []string
	for _, name := range RequiredGraphs {
		if _, err := findGraphFile(modelDir, name); err != nil {
			missing = append(missing, name)
		}
	}
	return missing
}

func findGraphFile(modelDir, name string) (string, error) {
	for _, dir := range []string{modelDir, filepath.Join(modelDir, "onnx")} {
		candidate := filepath.Join(dir, name+".onnx")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: %s.onnx not found under %s", ErrGraphMissing, name, modelDir)
}

func nodeNames(nodes []NodeInfo) string {
	if len(nodes) == 0 {
		return ""
	}

	names := make([]string, 0, len(nodes))
	for _, n := range nodes {
		names = append(names, n.Name)
	}

	return strings.Join(names, ",")
}
