package audio

import "math"

const (
	trimFrameLength = 2048
	trimHopLength   = 512
)

// PeakNormalize scales samples so the peak amplitude reaches 1.0. Silence is
// returned unchanged.
func PeakNormalize(samples []float32) []float32 {
	var peak float32
	for _, s := range samples {
		peak = max(peak, float32(math.Abs(float64(s))))
	}

	out := append([]float32(nil), samples...)
	if peak == 0 {
		return out
	}

	for i := range out {
		out[i] /= peak
	}

	return out
}

// TrimSilence drops leading and trailing frames whose RMS is more than topDB
// below the loudest frame.
func TrimSilence(samples []float32, topDB float64) []float32 {
	if len(samples) == 0 {
		return nil
	}

	frameLen := min(trimFrameLength, len(samples))
	nFrames := 1 + (len(samples)-frameLen)/trimHopLength

	rms := make([]float64, nFrames)
	var loudest float64
	for f := range nFrames {
		start := f * trimHopLength
		var sum float64
		for _, s := range samples[start : start+frameLen] {
			sum += float64(s) * float64(s)
		}
		rms[f] = math.Sqrt(sum / float64(frameLen))
		loudest = max(loudest, rms[f])
	}

	if loudest == 0 {
		return nil
	}

	threshold := loudest * math.Pow(10, -topDB/20)
	first, last := -1, -1
	for f, v := range rms {
		if v > threshold {
			if first < 0 {
				first = f
			}
			last = f
		}
	}

	if first < 0 {
		return nil
	}

	end := min(len(samples), last*trimHopLength+frameLen)

	return append([]float32(nil), samples[first*trimHopLength:end]...)
}

// Resample converts between sample rates with linear interpolation.
func Resample(samples []float32, from, to int) []float32 {
	if from <= 0 || to <= 0 || from == to || len(samples) == 0 {
		return append([]float32(nil), samples...)
	}

	return stretch(samples, float64(from)/float64(to))
}

// Playback speed bounds accepted by ChangeSpeed.
const (
	MinSpeedFactor = 0.25
	MaxSpeedFactor = 4.0
)

// ValidSpeedFactor reports whether factor lies in [MinSpeedFactor, MaxSpeedFactor].
// NaN fails both comparisons.
func ValidSpeedFactor(factor float64) bool {
	return factor >= MinSpeedFactor && factor <= MaxSpeedFactor
}

// ChangeSpeed plays samples back faster (factor > 1) or slower (factor < 1)
// at the same rate. A factor of 1 or outside the valid range returns the
// input untouched.
func ChangeSpeed(samples []float32, factor float64) []float32 {
	if factor == 1 || !ValidSpeedFactor(factor) || len(samples) == 0 {
		return samples
	}

	return stretch(samples, factor)
}

// stretch reads the input at step samples per output sample.
func stretch(samples []float32, step float64) []float32 {
	if step <= 0 || math.IsNaN(step) || math.IsInf(step, 0) {
		return append([]float32(nil), samples...)
	}

	n := int(math.Floor(float64(len(samples)) / step))
	if n < 1 {
		n = 1
	}

	out := make([]float32, n)
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * step
		idx := int(pos)
		if idx >= last {
			out[i] = samples[last]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = samples[idx] + (samples[idx+1]-samples[idx])*frac
	}

	return out
}

// TruncateSeconds keeps at most seconds worth of samples.
func TruncateSeconds(samples []float32, sampleRate int, seconds float64) []float32 {
	limit := int(seconds * float64(sampleRate))
	if limit <= 0 || len(samples) <= limit {
		return samples
	}

	return samples[:limit]
}
