// ABOUTME: Device resolver mapping user-facing device names to backend device ids
// ABOUTME: Handles the default aliases and reports profiles that reference missing devices
package engine

import (
	"fmt"

	"github.com/Resonate-Protocol/soundboard-go/internal/backend"
)

// Names that always resolve to the system default device
const (
	GlobalDefault = "Global default"
	SystemDefault = "System default"
)

// DeviceLister is the part of the backend the resolver needs
type DeviceLister interface {
	Devices() ([]string, error)
}

// Resolver resolves device names against the live device table
type Resolver struct {
	devices DeviceLister
}

// NewResolver creates a resolver over the backend's device table
func NewResolver(devices DeviceLister) *Resolver {
	return &Resolver{devices: devices}
}

// IsDefaultAlias reports whether name refers to the system default device
func IsDefaultAlias(name string) bool {
	return name == GlobalDefault || name == SystemDefault || name == backend.DefaultName
}

// Resolve returns the device id for name. The table is queried on every call
// so hot-plugged devices are seen without restarting.
func (r *Resolver) Resolve(name string) (int, error) {
	if IsDefaultAlias(name) {
		return backend.DefaultDevice, nil
	}

	names, err := r.devices.Devices()
	if err != nil {
		return 0, &PlaybackError{Kind: DeviceNotFound, Device: name, Err: fmt.Errorf("%w: %v", ErrDeviceNotFound, err)}
	}

	for id := backend.DefaultDevice; id < len(names); id++ {
		if names[id] == name {
			return id, nil
		}
	}
	return 0, &PlaybackError{Kind: DeviceNotFound, Device: name, Err: ErrDeviceNotFound}
}

// OutputDevices lists the selectable device names, default first
func (r *Resolver) OutputDevices() ([]string, error) {
	names, err := r.devices.Devices()
	if err != nil {
		return nil, err
	}
	if len(names) <= backend.DefaultDevice {
		return []string{backend.DefaultName}, nil
	}
	out := make([]string, len(names)-backend.DefaultDevice)
	copy(out, names[backend.DefaultDevice:])
	return out, nil
}

// MissingDevices returns the target devices that do not resolve, in order
func (r *Resolver) MissingDevices(targets []OutputTarget) []string {
	var missing []string
	for _, t := range targets {
		if _, err := r.Resolve(t.Device); err != nil {
			missing = append(missing, t.Device)
		}
	}
	return missing
}
