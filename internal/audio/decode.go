package audio

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/cwbudde/wav"
)

var ErrInvalidWAV = errors.New("invalid WAV")

// DecodeWAV decodes PCM WAV bytes of any rate and channel count into a mono
// clip. Multi-channel audio is averaged down to one channel.
func DecodeWAV(data []byte) (Clip, error) {
	if len(data) == 0 {
		return Clip{}, fmt.Errorf("%w: empty input", ErrInvalidWAV)
	}

	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return Clip{}, fmt.Errorf("%w: not a RIFF/WAVE PCM file", ErrInvalidWAV)
	}

	channels := int(dec.NumChans)
	if channels < 1 {
		return Clip{}, fmt.Errorf("%w: %d channels", ErrInvalidWAV, channels)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Clip{}, fmt.Errorf("reading PCM data: %w", err)
	}

	return Clip{
		Samples:    Downmix(buf.Data, channels),
		SampleRate: int(dec.SampleRate),
	}, nil
}

// ReadWAVFile decodes a WAV file from disk.
func ReadWAVFile(path string) (Clip, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Clip{}, fmt.Errorf("read %s: %w", path, err)
	}

	clip, err := DecodeWAV(data)
	if err != nil {
		return Clip{}, fmt.Errorf("decode %s: %w", path, err)
	}

	return clip, nil
}

// Downmix averages interleaved frames into one channel.
func Downmix(interleaved []float32, channels int) []float32 {
	if channels <= 1 {
		return append([]float32(nil), interleaved...)
	}

	frames := len(interleaved) / channels
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for c := range channels {
			sum += interleaved[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}

	return out
}
