// ABOUTME: Opus audio decoder
// ABOUTME: Pre-decodes Ogg Opus files with libopusfile into an in-memory stream
package decode

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/Resonate-Protocol/soundboard-go/pkg/audio"
	"gopkg.in/hraban/opus.v2"
)

// OpusSampleRate is the fixed decode rate of libopusfile
const OpusSampleRate = 48000

// opusChannels is the layout read from the stream. Soundboard clips are
// expected to be stereo Ogg Opus.
const opusChannels = 2

// OpenOpus decodes the whole Opus file into memory
func OpenOpus(path string) (Stream, audio.Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, audio.Format{}, fmt.Errorf("failed to open Opus file: %w", err)
	}
	defer f.Close()

	s, err := opus.NewStream(f)
	if err != nil {
		return nil, audio.Format{}, fmt.Errorf("failed to decode Opus %s: %w", filepath.Base(path), err)
	}
	defer s.Close()

	// 120ms at 48kHz is the largest Opus frame
	pcm := make([]int16, 5760*opusChannels)
	var frames [][2]float64
	for {
		n, err := s.Read(pcm)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, audio.Format{}, fmt.Errorf("opus decode failed: %w", err)
		}
		if n == 0 {
			break
		}
		for i := 0; i < n; i++ {
			frames = append(frames, [2]float64{
				audio.SampleFromInt16(pcm[i*opusChannels]),
				audio.SampleFromInt16(pcm[i*opusChannels+1]),
			})
		}
	}

	return NewPCM(frames), audio.Format{
		SampleRate: OpusSampleRate,
		Channels:   opusChannels,
		BitDepth:   16,
	}, nil
}
