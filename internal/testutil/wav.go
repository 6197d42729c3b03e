// ABOUTME: Test fixture helpers for generating audio files on disk
// ABOUTME: Writes 16-bit PCM WAV files with go-audio for decoder and engine tests
package testutil

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WriteWAV writes a 16-bit PCM WAV file of the given duration in frames,
// filled with a 440Hz sine at half scale, and returns its path.
func WriteWAV(t testing.TB, dir, name string, sampleRate, channels, frames int) string {
	t.Helper()

	data := make([]int, frames*channels)
	for i := 0; i < frames; i++ {
		v := int(16384 * math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate)))
		for ch := 0; ch < channels; ch++ {
			data[i*channels+ch] = v
		}
	}
	return WriteWAVSamples(t, dir, name, sampleRate, channels, data)
}

// WriteWAVSamples writes interleaved 16-bit samples to a WAV file and returns its path
func WriteWAVSamples(t testing.TB, dir, name string, sampleRate, channels int, data []int) string {
	t.Helper()

	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create fixture: %v", err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, 16, channels, 1)
	buf := &audio.IntBuffer{
		Data:           data,
		Format:         &audio.Format{SampleRate: sampleRate, NumChannels: channels},
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("failed to write fixture samples: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("failed to finalize fixture: %v", err)
	}
	return path
}
