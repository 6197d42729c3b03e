// ABOUTME: FLAC audio decoder
// ABOUTME: Streams FLAC files frame by frame as stereo float samples
package decode

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/Resonate-Protocol/soundboard-go/pkg/audio"
	"github.com/mewkiz/flac"
)

// FLACStream reads from a FLAC file
type FLACStream struct {
	stream   *flac.Stream
	channels int
	bitDepth int
	pending  [][2]float64
	err      error
	done     bool
}

// OpenFLAC opens a FLAC file. Mono sources are duplicated to both channels and
// channels beyond the first two are dropped.
func OpenFLAC(path string) (Stream, audio.Format, error) {
	stream, err := flac.Open(path)
	if err != nil {
		return nil, audio.Format{}, fmt.Errorf("failed to decode FLAC %s: %w", filepath.Base(path), err)
	}

	info := stream.Info
	format := audio.Format{
		SampleRate: int(info.SampleRate),
		Channels:   int(info.NChannels),
		BitDepth:   int(info.BitsPerSample),
	}
	if format.Channels == 0 {
		stream.Close()
		return nil, audio.Format{}, fmt.Errorf("FLAC %s reports no channels", filepath.Base(path))
	}

	return &FLACStream{
		stream:   stream,
		channels: format.Channels,
		bitDepth: format.BitDepth,
	}, format, nil
}

// Stream implements beep.Streamer
func (s *FLACStream) Stream(samples [][2]float64) (int, bool) {
	n := 0
	for n < len(samples) {
		if len(s.pending) == 0 {
			if s.done || !s.parseNext() {
				break
			}
		}
		c := copy(samples[n:], s.pending)
		s.pending = s.pending[c:]
		n += c
	}
	return n, n > 0
}

// parseNext decodes one FLAC frame into the pending buffer
func (s *FLACStream) parseNext() bool {
	frame, err := s.stream.ParseNext()
	if err != nil {
		s.done = true
		if !errors.Is(err, io.EOF) {
			s.err = err
		}
		return false
	}

	blockSize := int(frame.BlockSize)
	if cap(s.pending) < blockSize {
		s.pending = make([][2]float64, blockSize)
	}
	s.pending = s.pending[:blockSize]

	right := 1
	if s.channels == 1 {
		right = 0
	}
	for i := 0; i < blockSize; i++ {
		s.pending[i][0] = audio.SampleFromInt(frame.Subframes[0].Samples[i], s.bitDepth)
		s.pending[i][1] = audio.SampleFromInt(frame.Subframes[right].Samples[i], s.bitDepth)
	}
	return true
}

// Err implements beep.Streamer
func (s *FLACStream) Err() error { return s.err }

// Len returns the total number of frames reported by STREAMINFO
func (s *FLACStream) Len() int {
	return int(s.stream.Info.NSamples)
}

// Close closes the FLAC file
func (s *FLACStream) Close() error {
	return s.stream.Close()
}
