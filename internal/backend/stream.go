// ABOUTME: Handle table entries for the beep-based backend
// ABOUTME: Mixer buses, decode streams and tempo stages with their device binding
package backend

import (
	"math"

	"github.com/Resonate-Protocol/soundboard-go/pkg/audio"
	"github.com/Resonate-Protocol/soundboard-go/pkg/audio/decode"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
)

type handleKind int

const (
	kindMixer handleKind = iota
	kindDecode
	kindTempo
)

func (k handleKind) String() string {
	switch k {
	case kindMixer:
		return "mixer"
	case kindDecode:
		return "decode"
	default:
		return "tempo"
	}
}

// entry is one issued handle. Fields read by the audio thread (ctrl, the
// resampler ratio and gain) are only written with dev.mu held.
type entry struct {
	id   int
	kind handleKind
	dev  *device

	// mixer bus and tempo stage
	ctrl *beep.Ctrl

	// mixer bus
	bus      *beep.Mixer
	children map[int]struct{}
	attached bool

	// decode stream
	src    decode.Stream
	format audio.Format
	owner  int

	// tempo stage
	source     int
	resampler  *beep.Resampler
	gain       *effects.Gain
	baseRatio  float64
	pitchRatio float64
	tempoRatio float64
	parent     int
	autoFree   bool
}

// ratio is the resampling ratio combining rate conversion, pitch and tempo
func (e *entry) ratio() float64 {
	return e.baseRatio * e.pitchRatio * e.tempoRatio
}

// semitonesToRatio converts a pitch shift to a playback speed ratio
func semitonesToRatio(semitones float64) float64 {
	return math.Pow(2, semitones/12)
}

// percentToRatio converts a tempo change in percent to a speed ratio
func percentToRatio(percent float64) float64 {
	return 1 + percent/100
}
