// ABOUTME: File decoder entry point that dispatches on file extension
// ABOUTME: Every decoder yields a stereo beep streamer with a known frame length
package decode

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Resonate-Protocol/soundboard-go/pkg/audio"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/vorbis"
	"github.com/gopxl/beep/v2/wav"
)

// ErrUnsupportedFormat is returned for file extensions no decoder handles
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// Stream is a decoded audio source. Samples are always stereo; sources with a
// different channel count are up- or downmixed by the decoder.
type Stream interface {
	beep.Streamer

	// Len returns the total number of frames in the stream
	Len() int

	// Close releases the underlying file
	Close() error
}

// Opener opens a file as a decoded stream
type Opener func(path string) (Stream, audio.Format, error)

// Supported returns the file extensions Open can decode
func Supported() []string {
	return []string{".mp3", ".flac", ".wav", ".ogg", ".opus"}
}

// Open decodes the file at path based on its extension. The returned format
// carries the source's native sample rate and channel count.
func Open(path string) (Stream, audio.Format, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, audio.Format{}, fmt.Errorf("audio file not found: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".mp3":
		return OpenMP3(path)
	case ".flac":
		return OpenFLAC(path)
	case ".opus":
		return OpenOpus(path)
	case ".wav":
		return openBeep(path, func(f *os.File) (beep.StreamSeekCloser, beep.Format, error) {
			return wav.Decode(f)
		})
	case ".ogg":
		return openBeep(path, func(f *os.File) (beep.StreamSeekCloser, beep.Format, error) {
			return vorbis.Decode(f)
		})
	default:
		return nil, audio.Format{}, fmt.Errorf("%w: %q (supported: %s)",
			ErrUnsupportedFormat, ext, strings.Join(Supported(), ", "))
	}
}

// fileStream pairs a beep decoder with the file it reads from
type fileStream struct {
	beep.StreamSeekCloser
	file *os.File
}

func (s *fileStream) Close() error {
	err := s.StreamSeekCloser.Close()
	if ferr := s.file.Close(); ferr != nil && !errors.Is(ferr, os.ErrClosed) && err == nil {
		err = ferr
	}
	return err
}

func openBeep(path string, dec func(*os.File) (beep.StreamSeekCloser, beep.Format, error)) (Stream, audio.Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, audio.Format{}, fmt.Errorf("failed to open %s: %w", filepath.Base(path), err)
	}

	s, format, err := dec(f)
	if err != nil {
		f.Close()
		return nil, audio.Format{}, fmt.Errorf("failed to decode %s: %w", filepath.Base(path), err)
	}

	return &fileStream{StreamSeekCloser: s, file: f}, audio.Format{
		SampleRate: int(format.SampleRate),
		Channels:   format.NumChannels,
		BitDepth:   format.Precision * 8,
	}, nil
}

// readFull is io.ReadFull that treats a short final read as success
func readFull(r io.Reader, buf []byte) (int, error) {
	n, err := io.ReadFull(r, buf)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}
	return n, err
}
