// ABOUTME: Audio type definitions shared by decoders, outputs and the mixing backend
// ABOUTME: Defines the mixing format and float/int16 sample conversions
package audio

import "time"

const (
	// DefaultSampleRate is the rate devices are opened at unless configured otherwise
	DefaultSampleRate = 44100

	// DefaultChannels is the mixing layout; every stream is downmixed to stereo
	DefaultChannels = 2

	// BytesPerFrame is the size of one interleaved S16LE stereo frame
	BytesPerFrame = DefaultChannels * 2
)

// Format describes the PCM layout of a decoded source
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// FramesToDuration converts a frame count at the given rate to a duration
func FramesToDuration(frames, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(frames) * time.Second / time.Duration(sampleRate)
}

// SampleToInt16 converts a float sample in [-1, 1] to int16 with clipping
func SampleToInt16(sample float64) int16 {
	if sample > 1 {
		sample = 1
	} else if sample < -1 {
		sample = -1
	}
	return int16(sample * 32767)
}

// SampleFromInt16 converts an int16 sample to a float in [-1, 1]
func SampleFromInt16(sample int16) float64 {
	return float64(sample) / 32768
}

// SampleFromInt converts a signed integer sample of the given bit depth to a float
func SampleFromInt(sample int32, bitDepth int) float64 {
	if bitDepth <= 0 || bitDepth > 32 {
		return 0
	}
	return float64(sample) / float64(int64(1)<<(bitDepth-1))
}

// EncodeS16LE writes stereo float frames into dst as interleaved little-endian
// int16. dst must hold at least len(frames)*BytesPerFrame bytes.
func EncodeS16LE(dst []byte, frames [][2]float64) {
	for i, f := range frames {
		l := SampleToInt16(f[0])
		r := SampleToInt16(f[1])
		o := i * BytesPerFrame
		dst[o] = byte(l)
		dst[o+1] = byte(l >> 8)
		dst[o+2] = byte(r)
		dst[o+3] = byte(r >> 8)
	}
}
