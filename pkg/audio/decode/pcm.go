// ABOUTME: In-memory PCM stream
// ABOUTME: Serves pre-decoded stereo frames as a seekable beep streamer
package decode

import "fmt"

// PCMStream plays back a slice of stereo frames
type PCMStream struct {
	frames [][2]float64
	pos    int
	closed bool
}

// NewPCM wraps already decoded frames in a Stream
func NewPCM(frames [][2]float64) *PCMStream {
	return &PCMStream{frames: frames}
}

// Stream implements beep.Streamer
func (s *PCMStream) Stream(samples [][2]float64) (int, bool) {
	if s.closed || s.pos >= len(s.frames) {
		return 0, false
	}
	n := copy(samples, s.frames[s.pos:])
	s.pos += n
	return n, true
}

// Err implements beep.Streamer
func (s *PCMStream) Err() error { return nil }

// Len returns the number of frames
func (s *PCMStream) Len() int { return len(s.frames) }

// Position returns the current frame offset
func (s *PCMStream) Position() int { return s.pos }

// Seek moves to frame p
func (s *PCMStream) Seek(p int) error {
	if p < 0 || p > len(s.frames) {
		return fmt.Errorf("seek position %d out of range [0, %d]", p, len(s.frames))
	}
	s.pos = p
	return nil
}

// Close marks the stream drained
func (s *PCMStream) Close() error {
	s.closed = true
	return nil
}

// Closed reports whether Close was called
func (s *PCMStream) Closed() bool { return s.closed }
