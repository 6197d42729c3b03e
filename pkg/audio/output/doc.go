// ABOUTME: Audio output package for playing mixed audio on devices
// ABOUTME: Provides the Driver interface with malgo, oto and null implementations
// Package output provides callback-driven audio output drivers.
//
// A Driver enumerates devices and opens them with a Source callback that the
// driver's audio thread calls to pull stereo frames:
//   - malgo: miniaudio, can address every named playback device
//   - oto: default device only
//   - null: no hardware, frames are rendered on demand
//
// Example:
//
//	drv, err := output.New("malgo")
//	out, err := drv.Open(nil, 44100, func(frames [][2]float64) {
//	    mixer.Stream(frames)
//	})
//	defer out.Close()
package output
