// ABOUTME: MP3 audio decoder
// ABOUTME: Streams MP3 files as stereo float frames using go-mp3
package decode

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/Resonate-Protocol/soundboard-go/pkg/audio"
	"github.com/hajimehoshi/go-mp3"
)

// MP3Stream reads from an MP3 file
type MP3Stream struct {
	file    *os.File
	decoder *mp3.Decoder
	buf     []byte
	err     error
}

// OpenMP3 opens an MP3 file. go-mp3 always decodes to 16-bit stereo.
func OpenMP3(path string) (Stream, audio.Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, audio.Format{}, fmt.Errorf("failed to open MP3 file: %w", err)
	}

	decoder, err := mp3.NewDecoder(f)
	if err != nil {
		f.Close()
		return nil, audio.Format{}, fmt.Errorf("failed to decode MP3 %s: %w", filepath.Base(path), err)
	}

	return &MP3Stream{file: f, decoder: decoder}, audio.Format{
		SampleRate: decoder.SampleRate(),
		Channels:   2,
		BitDepth:   16,
	}, nil
}

// Stream implements beep.Streamer
func (s *MP3Stream) Stream(samples [][2]float64) (int, bool) {
	if s.err != nil {
		return 0, false
	}

	need := len(samples) * audio.BytesPerFrame
	if cap(s.buf) < need {
		s.buf = make([]byte, need)
	}
	buf := s.buf[:need]

	n, err := readFull(s.decoder, buf)
	frames := n / audio.BytesPerFrame
	for i := 0; i < frames; i++ {
		o := i * audio.BytesPerFrame
		samples[i][0] = audio.SampleFromInt16(int16(binary.LittleEndian.Uint16(buf[o:])))
		samples[i][1] = audio.SampleFromInt16(int16(binary.LittleEndian.Uint16(buf[o+2:])))
	}

	if err != nil && !errors.Is(err, io.EOF) {
		s.err = err
	}
	return frames, frames > 0
}

// Err implements beep.Streamer
func (s *MP3Stream) Err() error { return s.err }

// Len returns the decoded length in frames
func (s *MP3Stream) Len() int {
	return int(s.decoder.Length() / audio.BytesPerFrame)
}

// Close closes the MP3 file
func (s *MP3Stream) Close() error {
	return s.file.Close()
}
