// ABOUTME: Audio backend capability contract consumed by the playback engine
// ABOUTME: Handle-based device, mixer and stream operations with typed errors
package backend

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyInitialized is returned by InitDevice for an open device. Callers treat it as success.
	ErrAlreadyInitialized = errors.New("device already initialized")

	// ErrUnknownHandle is returned for handles that were never issued or have been freed
	ErrUnknownHandle = errors.New("unknown handle")

	// ErrNotInitialized is returned when addressing a device that has not been opened
	ErrNotInitialized = errors.New("device not initialized")

	// ErrNoDevice is returned for device ids outside the device table
	ErrNoDevice = errors.New("no such device")

	// ErrInvalidValue is returned when an attribute value is out of range
	ErrInvalidValue = errors.New("invalid attribute value")

	// ErrUnsupported is returned when an operation does not apply to a handle's kind
	ErrUnsupported = errors.New("operation not supported for handle")

	// ErrClosed is returned after Free
	ErrClosed = errors.New("backend closed")
)

// Reserved slots at the start of the device table
const (
	NoSoundDevice = 0
	DefaultDevice = 1
)

// Reserved device table names
const (
	NoSoundName = "No sound"
	DefaultName = "Default"
)

// Attribute is a settable property of a stream
type Attribute int

const (
	// AttrPitch is a pitch shift in semitones
	AttrPitch Attribute = iota
	// AttrVolume is a linear gain where 1 is unity
	AttrVolume
	// AttrTempo is a tempo change in percent
	AttrTempo
)

func (a Attribute) String() string {
	switch a {
	case AttrPitch:
		return "pitch"
	case AttrVolume:
		return "volume"
	case AttrTempo:
		return "tempo"
	default:
		return fmt.Sprintf("attribute(%d)", int(a))
	}
}

// Attribute ranges
const (
	MaxPitchSemitones = 60
	MinTempoPercent   = -95
	MaxTempoPercent   = 5000
)

// AttachFlags control how a stream joins a mixer
type AttachFlags uint8

const (
	// AttachAutoFree releases the stream handle when it plays to the end
	AttachAutoFree AttachFlags = 1 << iota
	// AttachDownmix allows sources with more than two channels to be mixed down
	AttachDownmix
)

// Backend is the set of audio operations the engine needs. Handles are
// positive integers; implementations must be safe for concurrent use.
type Backend interface {
	// Devices returns the device table. Index 0 is the reserved "No sound"
	// slot and index 1 the system default.
	Devices() ([]string, error)

	// InitDevice opens a device. Returns ErrAlreadyInitialized if it is open.
	InitDevice(id, sampleRate int) error

	// SetCurrentDevice selects the device subsequent mixers and streams bind to
	SetCurrentDevice(id int) error

	// CreateMixer creates a paused mixer bus on the current device
	CreateMixer(sampleRate, channels int) (int, error)

	// CreateDecodeStream opens a file as a decode-only stream
	CreateDecodeStream(path string) (int, error)

	// CreateTempoStream wraps a decode stream in a pitch/tempo/volume stage.
	// Freeing the returned handle also frees the source.
	CreateTempoStream(source int) (int, error)

	// SetAttribute sets a stream attribute
	SetAttribute(handle int, attr Attribute, value float64) error

	// AttachToMixer adds a stream to a mixer bus
	AttachToMixer(mixer, stream int, flags AttachFlags) error

	// Start unpauses a mixer or stream
	Start(handle int) error

	// FreeStream releases a handle. Returns false if the handle is unknown
	// or already released.
	FreeStream(handle int) bool

	// LengthSeconds reports the playback duration of a stream
	LengthSeconds(handle int) (float64, error)

	// Free releases every handle, device and driver resource
	Free() error
}
