// Package doctor probes the host once at startup and reports what the
// service can do: ONNX Runtime, model graphs, tokenizer and data directories.
package doctor

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/example/go-chatterbox/internal/config"
	"github.com/example/go-chatterbox/internal/onnx"
	"github.com/example/go-chatterbox/internal/tokenizer"
)

// PassMark and FailMark are the prefix symbols printed for each check result.
const (
	PassMark = "✓"
	FailMark = "✗"
	WarnMark = "!"
)

// Check is one probe outcome. Optional checks never fail the report.
type Check struct {
	Name     string `json:"name"`
	OK       bool   `json:"ok"`
	Detail   string `json:"detail"`
	Optional bool   `json:"optional,omitempty"`
}

// Capabilities is the snapshot taken by Probe.
type Capabilities struct {
	ORTLibrary     string   `json:"ort_library"`
	ORTVersion     string   `json:"ort_version"`
	ORTAvailable   bool     `json:"ort_available"`
	MissingGraphs  []string `json:"missing_graphs,omitempty"`
	TokenizerPath  string   `json:"tokenizer_path"`
	TokenizerKind  string   `json:"tokenizer_kind"`
	DefaultVoice   string   `json:"default_voice,omitempty"`
	Variant        string   `json:"variant"`
	Paralinguistic bool     `json:"paralinguistic_tags"`
	Checks         []Check  `json:"checks"`
}

// Ready reports whether every required check passed.
func (c Capabilities) Ready() bool {
	for _, ch := range c.Checks {
		if !ch.OK && !ch.Optional {
			return false
		}
	}
	return true
}

// Probe inspects the environment described by cfg. It creates the data
// directories as a side effect, which doubles as the writability check.
func Probe(cfg config.Config) Capabilities {
	caps := Capabilities{
		Variant:        cfg.Variant.String(),
		Paralinguistic: cfg.Variant.SupportsParalinguisticTags(),
	}

	rt, err := onnx.DetectRuntime(cfg.Runtime)
	caps.ORTLibrary, caps.ORTVersion = rt.LibraryPath, rt.Version
	switch {
	case err != nil:
		caps.add(Check{Name: "onnx runtime", Detail: err.Error()})
	default:
		if verr := checkORTVersion(rt.Version, cfg.Runtime.ORTAPIVersion); verr != nil {
			caps.add(Check{Name: "onnx runtime", Detail: fmt.Sprintf("%s: %v", rt.LibraryPath, verr)})
		} else {
			caps.ORTAvailable = true
			caps.add(Check{Name: "onnx runtime", OK: true, Detail: rt.LibraryPath + " (" + rt.Version + ")"})
		}
	}

	caps.MissingGraphs = onnx.MissingGraphs(cfg.Paths.ModelDir)
	if _, statErr := os.Stat(filepath.Join(cfg.Paths.ModelDir, "manifest.json")); statErr == nil {
		caps.MissingGraphs = nil
	}
	if len(caps.MissingGraphs) > 0 {
		caps.add(Check{Name: "model graphs", Detail: "missing " + strings.Join(caps.MissingGraphs, ", ") + " under " + cfg.Paths.ModelDir})
	} else {
		caps.add(Check{Name: "model graphs", OK: true, Detail: cfg.Paths.ModelDir})
	}

	caps.TokenizerPath = cfg.TokenizerFile()
	caps.add(probeTokenizer(&caps))

	for _, dir := range []string{cfg.Paths.VoicesDir, cfg.Paths.AudioInputDir, cfg.Paths.AudioOutputDir, cfg.Paths.HistoryDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			caps.add(Check{Name: "data directory", Detail: err.Error()})
		} else {
			caps.add(Check{Name: "data directory", OK: true, Detail: dir})
		}
	}

	defaultVoice := filepath.Join(cfg.Paths.ModelDir, "default_voice.wav")
	if _, err := os.Stat(defaultVoice); err == nil {
		caps.DefaultVoice = defaultVoice
		caps.add(Check{Name: "default voice", OK: true, Detail: defaultVoice, Optional: true})
	} else {
		caps.add(Check{Name: "default voice", Detail: "not found; requests must name a voice", Optional: true})
	}

	return caps
}

func probeTokenizer(caps *Capabilities) Check {
	path := caps.TokenizerPath
	if strings.EqualFold(filepath.Ext(path), ".model") {
		caps.TokenizerKind = "sentencepiece"
	} else {
		caps.TokenizerKind = "huggingface"
	}

	if _, err := os.Stat(path); err != nil {
		return Check{Name: "tokenizer", Detail: err.Error()}
	}

	if caps.TokenizerKind == "huggingface" && !tokenizer.SupportsJSON() {
		return Check{Name: "tokenizer", Detail: path + ": binary built without cgo cannot load tokenizer.json"}
	}

	return Check{Name: "tokenizer", OK: true, Detail: path + " (" + caps.TokenizerKind + ")"}
}

func (c *Capabilities) add(ch Check) {
	c.Checks = append(c.Checks, ch)
}

// Result collects the outcome of all checks.
type Result struct {
	failures []string
}

// Failed returns true if any check failed.
func (r *Result) Failed() bool { return len(r.failures) > 0 }

// Failures returns the list of failure messages.
func (r *Result) Failures() []string { return append([]string(nil), r.failures...) }

// AddFailure records a failure from a check run outside Probe.
func (r *Result) AddFailure(msg string) { r.failures = append(r.failures, msg) }

// Run writes one line per check to w and collects the required failures.
func Run(caps Capabilities, w io.Writer) Result {
	var res Result

	for _, ch := range caps.Checks {
		switch {
		case ch.OK:
			fmt.Fprintf(w, "%s %s: %s\n", PassMark, ch.Name, ch.Detail)
		case ch.Optional:
			fmt.Fprintf(w, "%s %s: %s\n", WarnMark, ch.Name, ch.Detail)
		default:
			res.failures = append(res.failures, ch.Name+": "+ch.Detail)
			fmt.Fprintf(w, "%s %s: %s\n", FailMark, ch.Name, ch.Detail)
		}
	}

	fmt.Fprintf(w, "  model variant: %s (paralinguistic tags: %t)\n", caps.Variant, caps.Paralinguistic)

	return res
}

// checkORTVersion requires a runtime new enough for the requested C API
// version; ORT 1.N ships API version N. Unknown versions pass.
func checkORTVersion(ver string, apiVersion int) error {
	if ver == "" || ver == "unknown" {
		return nil
	}

	major, minor, err := parseMajorMinor(ver)
	if err != nil {
		return fmt.Errorf("cannot parse %q: %w", ver, err)
	}
	if major != 1 {
		return fmt.Errorf("requires ONNX Runtime 1.x, got %d", major)
	}
	if minor < apiVersion {
		return fmt.Errorf("API version %d requires ONNX Runtime >=1.%d, got 1.%d", apiVersion, apiVersion, minor)
	}
	return nil
}

func parseMajorMinor(ver string) (major, minor int, err error) {
	parts := strings.SplitN(ver, ".", 3)
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("unexpected version format %q", ver)
	}
	major, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("bad major in %q: %w", ver, err)
	}
	minor, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("bad minor in %q: %w", ver, err)
	}
	return major, minor, nil
}
