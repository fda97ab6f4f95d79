package discord

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/go-audio/wav"
)

// wavToPlaybackPCM decodes a WAV clip and converts it to Discord's playback
// format: 48 kHz stereo interleaved little-endian int16.
//
// Conversion order is downmix, resample, upmix: stereo input is averaged to
// mono before resampling so the interpolation runs once, then the mono signal
// is duplicated into both output channels.
func wavToPlaybackPCM(wavAudio []byte) ([]byte, error) {
	dec := wav.NewDecoder(bytes.NewReader(wavAudio))
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("discord: decode wav: %w", err)
	}
	if buf == nil || buf.Format == nil || len(buf.Data) == 0 {
		return nil, errors.New("discord: wav clip contains no audio")
	}
	if dec.BitDepth != 16 {
		return nil, fmt.Errorf("discord: unsupported wav bit depth %d, want 16", dec.BitDepth)
	}

	samples := buf.Data
	switch buf.Format.NumChannels {
	case 1:
	case 2:
		samples = stereoToMono(samples)
	default:
		return nil, fmt.Errorf("discord: unsupported channel count %d", buf.Format.NumChannels)
	}

	if buf.Format.SampleRate != opusSampleRate {
		samples = resampleLinear(samples, buf.Format.SampleRate, opusSampleRate)
	}
	if len(samples) == 0 {
		return nil, errors.New("discord: wav clip too short to resample")
	}
	return monoToStereoBytes(samples), nil
}

// stereoToMono averages interleaved L+R sample pairs.
func stereoToMono(samples []int) []int {
	frames := len(samples) / 2
	out := make([]int, frames)
	for i := range frames {
		out[i] = (samples[i*2] + samples[i*2+1]) / 2
	}
	return out
}

// resampleLinear resamples mono samples from srcRate to dstRate using linear
// interpolation. Returns the input unchanged when the rates already match.
func resampleLinear(samples []int, srcRate, dstRate int) []int {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) < 2 {
		return samples
	}
	dstLen := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}

	out := make([]int, dstLen)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstLen {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)

		s0 := float64(samples[idx])
		s1 := s0
		if idx+1 < len(samples) {
			s1 = float64(samples[idx+1])
		}
		out[i] = int(s0*(1-frac) + s1*frac)
	}
	return out
}

// monoToStereoBytes duplicates each mono sample into an L+R pair and packs
// the result as little-endian int16, clamping out-of-range values.
func monoToStereoBytes(samples []int) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		v := clampInt16(s)
		lo, hi := byte(v), byte(v>>8)
		j := i * 4
		out[j] = lo
		out[j+1] = hi
		out[j+2] = lo
		out[j+3] = hi
	}
	return out
}

func clampInt16(v int) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
