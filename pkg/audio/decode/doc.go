// ABOUTME: Audio decoder package for soundboard clip files
// ABOUTME: Provides Open and per-format decoders for MP3, FLAC, WAV, Ogg Vorbis, Opus
// Package decode opens audio files as stereo beep streamers.
//
// Supports: MP3 (go-mp3), FLAC (mewkiz/flac), WAV and Ogg Vorbis (beep),
// Opus (libopusfile via hraban/opus).
//
// Every decoder reports its length in frames up front so callers can compute
// the clip duration before playback starts.
//
// Example:
//
//	stream, format, err := decode.Open("airhorn.mp3")
//	seconds := float64(stream.Len()) / float64(format.SampleRate)
package decode
