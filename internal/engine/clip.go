// ABOUTME: Sound clip request and playing instance types
// ABOUTME: SoundClip describes what to play, PlayingClip tracks one live stream
package engine

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// ErrZeroLength is returned when a stream reports no playable duration
var ErrZeroLength = errors.New("clip length must be positive")

// OutputTarget is one device a clip plays on, with its per-device volume (0-100)
type OutputTarget struct {
	Device string `json:"device" mapstructure:"device"`
	Volume int    `json:"volume" mapstructure:"volume"`
}

// SoundClip is a request to play a file on one or more devices. The engine
// never mutates a clip it receives.
type SoundClip struct {
	// ID identifies a queued clip; assigned by AddToQueue when empty
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
	Path string `json:"path"`

	// Volume is the clip-level multiplier (0-100) applied on top of each target's volume
	Volume  int            `json:"volume"`
	Targets []OutputTarget `json:"targets"`

	Loop      bool    `json:"loop,omitempty"`
	Exclusive bool    `json:"exclusive,omitempty"`
	Pitch     float64 `json:"pitch,omitempty"`
	Tempo     int     `json:"tempo,omitempty"`

	// ClientSendTime is when a remote client issued the request
	ClientSendTime *time.Time `json:"client_send_time,omitempty"`
}

// Clone returns a deep copy
func (c SoundClip) Clone() SoundClip {
	out := c
	if c.Targets != nil {
		out.Targets = make([]OutputTarget, len(c.Targets))
		copy(out.Targets, c.Targets)
	}
	if c.ClientSendTime != nil {
		t := *c.ClientSendTime
		out.ClientSendTime = &t
	}
	return out
}

// Equal compares clips by value, ignoring the queue ID
func (c SoundClip) Equal(o SoundClip) bool {
	if c.Name != o.Name || c.Path != o.Path || c.Volume != o.Volume ||
		c.Loop != o.Loop || c.Exclusive != o.Exclusive || c.Pitch != o.Pitch || c.Tempo != o.Tempo {
		return false
	}
	if len(c.Targets) != len(o.Targets) {
		return false
	}
	for i := range c.Targets {
		if c.Targets[i] != o.Targets[i] {
			return false
		}
	}
	switch {
	case c.ClientSendTime == nil && o.ClientSendTime == nil:
		return true
	case c.ClientSendTime == nil || o.ClientSendTime == nil:
		return false
	default:
		return c.ClientSendTime.Equal(*o.ClientSendTime)
	}
}

// DisplayName returns Name, or the file name without extension when Name is empty
func (c SoundClip) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return NameFromPath(c.Path)
}

// NameFromPath derives a clip name from a file path
func NameFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// PlayingClip is one live stream registered with the engine
type PlayingClip struct {
	Name         string        `json:"name"`
	OutputDevice string        `json:"device"`
	Handle       int           `json:"handle"`
	Length       time.Duration `json:"length"`
	Position     time.Duration `json:"position"`

	Loop      bool    `json:"loop,omitempty"`
	Exclusive bool    `json:"exclusive,omitempty"`
	Pitch     float64 `json:"pitch,omitempty"`
	Tempo     int     `json:"tempo,omitempty"`

	// RawVolume and VolumeMultiplier are the 0-100 inputs a loop restart replays with
	RawVolume        int    `json:"volume"`
	VolumeMultiplier int    `json:"volume_multiplier"`
	FilePath         string `json:"path"`

	ClientSendTime *time.Time `json:"client_send_time,omitempty"`
}

// NewPlayingClip validates and builds a playing instance at position zero
func NewPlayingClip(p PlayParams, handle int, length time.Duration) (*PlayingClip, error) {
	if length <= 0 {
		return nil, fmt.Errorf("%w: %s reported %v", ErrZeroLength, p.Path, length)
	}
	return &PlayingClip{
		Name:             p.Name,
		OutputDevice:     p.Device,
		Handle:           handle,
		Length:           length,
		Loop:             p.Loop,
		Exclusive:        p.Exclusive,
		Pitch:            p.Pitch,
		Tempo:            p.Tempo,
		RawVolume:        p.Volume,
		VolumeMultiplier: p.Multiplier,
		FilePath:         p.Path,
		ClientSendTime:   p.ClientSendTime,
	}, nil
}

// Progress returns position over length, clamped to [0, 1]
func (p *PlayingClip) Progress() float64 {
	if p.Length <= 0 {
		return 1
	}
	f := float64(p.Position) / float64(p.Length)
	if f > 1 {
		return 1
	}
	return f
}

// Done reports whether the clip has played its full length
func (p *PlayingClip) Done() bool {
	return p.Position >= p.Length
}

// Params returns the parameters that recreate this instance
func (p *PlayingClip) Params() PlayParams {
	return PlayParams{
		Path:           p.FilePath,
		Volume:         p.RawVolume,
		Multiplier:     p.VolumeMultiplier,
		Device:         p.OutputDevice,
		Loop:           p.Loop,
		Name:           p.Name,
		Pitch:          p.Pitch,
		Tempo:          p.Tempo,
		Exclusive:      p.Exclusive,
		ClientSendTime: p.ClientSendTime,
	}
}

func (p PlayingClip) String() string {
	return fmt.Sprintf("%s - %s", p.Name, p.OutputDevice)
}
