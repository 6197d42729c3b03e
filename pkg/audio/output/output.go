// ABOUTME: Audio output driver interface definition
// ABOUTME: Common interface for callback-driven playback backends and driver selection
package output

import (
	"errors"
	"fmt"
)

// ErrDeviceUnavailable is returned when a driver cannot address a device
var ErrDeviceUnavailable = errors.New("output device unavailable")

// Source fills frames with mixed audio. It is called from the driver's audio
// thread and must not block.
type Source func(frames [][2]float64)

// DeviceInfo describes an output device exposed by a driver
type DeviceInfo struct {
	Name      string
	IsDefault bool

	index int
}

// Driver enumerates and opens output devices
type Driver interface {
	// Name identifies the driver in logs and configuration
	Name() string

	// Devices lists the addressable output devices
	Devices() ([]DeviceInfo, error)

	// Open starts playback on device (nil selects the system default),
	// pulling stereo frames from src at sampleRate.
	Open(device *DeviceInfo, sampleRate int, src Source) (Output, error)

	// Close releases driver-wide resources
	Close() error
}

// Output is an open playback device
type Output interface {
	// Close stops playback and releases the device
	Close() error
}

// New returns the driver registered under name
func New(name string) (Driver, error) {
	switch name {
	case "malgo", "":
		return NewMalgo(), nil
	case "oto":
		return NewOto(), nil
	case "null":
		return NewNull(), nil
	default:
		return nil, fmt.Errorf("unknown audio driver %q (supported: malgo, oto, null)", name)
	}
}
