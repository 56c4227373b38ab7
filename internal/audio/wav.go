// Package audio holds WAV encoding and decoding plus the small amount of
// signal processing the service applies before and after synthesis.
package audio

// OutputSampleRate is the rate of every waveform the decoder produces.
const OutputSampleRate = 24000

const (
	outputChannels = 1
	outputBitDepth = 16
)

// Hook post-processes a waveform.
type Hook func(samples []float32) []float32

// ApplyHooks runs hooks in order, feeding each the previous output.
func ApplyHooks(samples []float32, hooks ...Hook) []float32 {
	out := samples
	for _, hook := range hooks {
		if hook == nil {
			continue
		}
		out = hook(out)
	}

	return out
}

// Clip is a decoded mono waveform.
type Clip struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the clip length in seconds.
func (c Clip) Duration() float64 {
	if c.SampleRate <= 0 {
		return 0
	}

	return float64(len(c.Samples)) / float64(c.SampleRate)
}
