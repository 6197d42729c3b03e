// ABOUTME: Audio fundamentals package providing core types and utilities
// ABOUTME: Defines the mixing format and sample conversion functions
// Package audio provides the audio types shared by the soundboard decoders,
// output drivers and mixing backend.
//
// All mixing happens on stereo float64 frames ([2]float64, range [-1, 1]), the
// representation used by beep streamers. Output drivers convert frames to
// interleaved signed 16-bit little-endian PCM with EncodeS16LE.
//
// Example:
//
//	buf := make([]byte, len(frames)*audio.BytesPerFrame)
//	audio.EncodeS16LE(buf, frames)
package audio
