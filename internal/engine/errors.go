// ABOUTME: Playback error taxonomy and the reporting side channel
// ABOUTME: Failures are reported once to a Reporter and never returned to callers of Play
package engine

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
)

// ErrDeviceNotFound is returned when a device name does not resolve
var ErrDeviceNotFound = errors.New("device not found")

// ErrorKind classifies playback failures
type ErrorKind int

const (
	// DeviceNotFound means the target device name matched nothing
	DeviceNotFound ErrorKind = iota
	// DeviceInitFailure means the device could not be opened
	DeviceInitFailure
	// StreamCreationFailure means the mixer, decoder or tempo stage could not be created
	StreamCreationFailure
	// DegradedAttributeSet means pitch, volume or tempo could not be applied; playback continues
	DegradedAttributeSet
	// ConstructionError means the stream reported no usable length
	ConstructionError
)

func (k ErrorKind) String() string {
	switch k {
	case DeviceNotFound:
		return "device_not_found"
	case DeviceInitFailure:
		return "device_init_failure"
	case StreamCreationFailure:
		return "stream_creation_failure"
	case DegradedAttributeSet:
		return "degraded_attribute_set"
	case ConstructionError:
		return "construction_error"
	default:
		return fmt.Sprintf("error_kind(%d)", int(k))
	}
}

// PlaybackError describes a failed or degraded play on one device
type PlaybackError struct {
	Kind   ErrorKind
	Device string
	Path   string
	Err    error
}

func (e *PlaybackError) Error() string {
	switch {
	case e.Path != "" && e.Device != "":
		return fmt.Sprintf("%s: %s on %q: %v", e.Kind, e.Path, e.Device, e.Err)
	case e.Device != "":
		return fmt.Sprintf("%s: %q: %v", e.Kind, e.Device, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
}

func (e *PlaybackError) Unwrap() error { return e.Err }

// Warning reports whether playback continued despite the error
func (e *PlaybackError) Warning() bool {
	return e.Kind == DegradedAttributeSet
}

// Reporter receives playback failures. Implementations must not block and
// must not call back into the engine.
type Reporter interface {
	Report(err error)
}

// ReporterFunc adapts a function to Reporter
type ReporterFunc func(err error)

// Report implements Reporter
func (f ReporterFunc) Report(err error) { f(err) }

// LogReporter logs failures: degraded attributes as warnings, the rest as errors
type LogReporter struct {
	Logger *log.Logger
}

// Report implements Reporter
func (r LogReporter) Report(err error) {
	logger := r.Logger
	if logger == nil {
		logger = log.Default()
	}

	var pe *PlaybackError
	if errors.As(err, &pe) {
		if pe.Warning() {
			logger.Warn("Playback degraded", "kind", pe.Kind, "device", pe.Device, "path", pe.Path, "err", pe.Err)
			return
		}
		logger.Error("Playback failed", "kind", pe.Kind, "device", pe.Device, "path", pe.Path, "err", pe.Err)
		return
	}
	logger.Error("Playback failed", "err", err)
}

// MultiReporter fans a report out to several reporters
type MultiReporter []Reporter

// Report implements Reporter
func (m MultiReporter) Report(err error) {
	for _, r := range m {
		if r != nil {
			r.Report(err)
		}
	}
}
