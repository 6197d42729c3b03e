// ABOUTME: Headless audio output driver
// ABOUTME: Exposes configurable device names and renders audio only when pulled
package output

import (
	"fmt"
	"sync"
)

// Null is a driver without hardware. Devices accept audio that is only
// rendered when Render is called, which makes it suitable for servers
// without a sound card and for tests.
type Null struct {
	mu      sync.Mutex
	names   []string
	outputs map[string]*NullOutput
	closed  bool
}

// NewNull creates a null driver exposing the given device names
func NewNull(names ...string) *Null {
	return &Null{
		names:   names,
		outputs: make(map[string]*NullOutput),
	}
}

// Name implements Driver
func (n *Null) Name() string { return "null" }

// SetDevices replaces the advertised device list
func (n *Null) SetDevices(names ...string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.names = names
}

// Devices implements Driver
func (n *Null) Devices() ([]DeviceInfo, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	devices := make([]DeviceInfo, len(n.names))
	for i, name := range n.names {
		devices[i] = DeviceInfo{Name: name, index: i}
	}
	return devices, nil
}

// Open implements Driver
func (n *Null) Open(device *DeviceInfo, sampleRate int, src Source) (Output, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil, fmt.Errorf("null driver closed")
	}

	name := "default"
	if device != nil {
		if device.index < 0 || device.index >= len(n.names) || n.names[device.index] != device.Name {
			return nil, fmt.Errorf("%w: %s", ErrDeviceUnavailable, device.Name)
		}
		name = device.Name
	}
	if _, ok := n.outputs[name]; ok {
		return nil, fmt.Errorf("%w: %s already open", ErrDeviceUnavailable, name)
	}

	out := &NullOutput{driver: n, name: name, sampleRate: sampleRate, src: src}
	n.outputs[name] = out
	return out, nil
}

// Output returns the open output for a device name ("default" for the system default)
func (n *Null) Output(name string) (*NullOutput, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	out, ok := n.outputs[name]
	return out, ok
}

// Close implements Driver
func (n *Null) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	return nil
}

// NullOutput is an open device of the null driver
type NullOutput struct {
	driver     *Null
	name       string
	sampleRate int
	src        Source
}

// SampleRate returns the rate the device was opened at
func (o *NullOutput) SampleRate() int { return o.sampleRate }

// Render pulls frames from the mixer as the audio thread would
func (o *NullOutput) Render(frames int) [][2]float64 {
	buf := make([][2]float64, frames)
	o.src(buf)
	return buf
}

// Close implements Output
func (o *NullOutput) Close() error {
	o.driver.mu.Lock()
	defer o.driver.mu.Unlock()
	delete(o.driver.outputs, o.name)
	return nil
}
