// ABOUTME: Beep-based implementation of the audio backend
// ABOUTME: Mixes per-device buses of resampled streams and feeds them to output drivers
package backend

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/Resonate-Protocol/soundboard-go/pkg/audio"
	"github.com/Resonate-Protocol/soundboard-go/pkg/audio/decode"
	"github.com/Resonate-Protocol/soundboard-go/pkg/audio/output"
	"github.com/charmbracelet/log"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
)

// resampleQuality is the beep interpolation quality used by tempo stages
const resampleQuality = 4

var logger = log.WithPrefix("backend")

// device is an open output with its master mixer
type device struct {
	id     int
	name   string
	rate   int
	mu     sync.Mutex
	master *beep.Mixer
	out    output.Output
}

// stream is the output driver callback
func (d *device) stream(frames [][2]float64) {
	d.mu.Lock()
	d.master.Stream(frames)
	d.mu.Unlock()
}

// Host mixes streams with beep and plays them through an output driver.
// Lock order is h.mu then device.mu; the driver's audio thread only takes
// device.mu.
type Host struct {
	driver output.Driver
	open   decode.Opener

	mu         sync.Mutex
	devices    map[int]*device
	current    int
	handles    map[int]*entry
	nextHandle int
	closed     bool
}

// New creates a backend on top of driver. A nil opener uses decode.Open.
func New(driver output.Driver, opener decode.Opener) *Host {
	if opener == nil {
		opener = decode.Open
	}
	return &Host{
		driver:  driver,
		open:    opener,
		devices: make(map[int]*device),
		handles: make(map[int]*entry),
	}
}

// Devices implements Backend
func (h *Host) Devices() ([]string, error) {
	infos, err := h.driver.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list %s devices: %w", h.driver.Name(), err)
	}

	names := make([]string, 0, len(infos)+2)
	names = append(names, NoSoundName, DefaultName)
	for _, info := range infos {
		names = append(names, info.Name)
	}
	return names, nil
}

// InitDevice implements Backend
func (h *Host) InitDevice(id, sampleRate int) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrClosed
	}
	if _, ok := h.devices[id]; ok {
		return ErrAlreadyInitialized
	}
	if id <= NoSoundDevice {
		return fmt.Errorf("%w: %d is reserved", ErrNoDevice, id)
	}
	if sampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", sampleRate)
	}

	var info *output.DeviceInfo
	name := DefaultName
	if id != DefaultDevice {
		infos, err := h.driver.Devices()
		if err != nil {
			return fmt.Errorf("failed to list %s devices: %w", h.driver.Name(), err)
		}
		idx := id - 2
		if idx >= len(infos) {
			return fmt.Errorf("%w: %d", ErrNoDevice, id)
		}
		info = &infos[idx]
		name = info.Name
	}

	dev := &device{
		id:     id,
		name:   name,
		rate:   sampleRate,
		master: &beep.Mixer{},
	}
	out, err := h.driver.Open(info, sampleRate, dev.stream)
	if err != nil {
		return fmt.Errorf("failed to open device %q: %w", name, err)
	}
	dev.out = out
	h.devices[id] = dev

	logger.Debug("Device initialized", "id", id, "name", name, "rate", sampleRate)
	return nil
}

// SetCurrentDevice implements Backend
func (h *Host) SetCurrentDevice(id int) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.devices[id]; !ok {
		return fmt.Errorf("%w: %d", ErrNotInitialized, id)
	}
	h.current = id
	return nil
}

// currentDevice returns the selected device (must hold h.mu)
func (h *Host) currentDevice() (*device, error) {
	if h.closed {
		return nil, ErrClosed
	}
	dev, ok := h.devices[h.current]
	if !ok {
		return nil, fmt.Errorf("%w: no current device", ErrNotInitialized)
	}
	return dev, nil
}

// allocate issues a new handle id (must hold h.mu)
func (h *Host) allocate() int {
	h.nextHandle++
	return h.nextHandle
}

// lookup returns the entry for a handle (must hold h.mu)
func (h *Host) lookup(handle int) (*entry, error) {
	e, ok := h.handles[handle]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownHandle, handle)
	}
	return e, nil
}

// CreateMixer implements Backend
func (h *Host) CreateMixer(sampleRate, channels int) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	dev, err := h.currentDevice()
	if err != nil {
		return 0, err
	}
	if channels != audio.DefaultChannels {
		return 0, fmt.Errorf("%w: mixer must be stereo, got %d channels", ErrUnsupported, channels)
	}
	if sampleRate != dev.rate {
		logger.Debug("Mixer rate differs from device, device rate wins", "mixer", sampleRate, "device", dev.rate)
	}

	bus := &beep.Mixer{}
	e := &entry{
		id:       h.allocate(),
		kind:     kindMixer,
		dev:      dev,
		bus:      bus,
		ctrl:     &beep.Ctrl{Streamer: bus, Paused: true},
		children: make(map[int]struct{}),
	}

	dev.mu.Lock()
	dev.master.Add(e.ctrl)
	dev.mu.Unlock()

	h.handles[e.id] = e
	return e.id, nil
}

// CreateDecodeStream implements Backend
func (h *Host) CreateDecodeStream(path string) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return 0, ErrClosed
	}

	src, format, err := h.open(path)
	if err != nil {
		return 0, err
	}
	if format.SampleRate <= 0 {
		src.Close()
		return 0, fmt.Errorf("invalid source sample rate %d", format.SampleRate)
	}

	e := &entry{
		id:     h.allocate(),
		kind:   kindDecode,
		src:    src,
		format: format,
	}
	h.handles[e.id] = e
	return e.id, nil
}

// CreateTempoStream implements Backend
func (h *Host) CreateTempoStream(source int) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	dev, err := h.currentDevice()
	if err != nil {
		return 0, err
	}
	src, err := h.lookup(source)
	if err != nil {
		return 0, err
	}
	if src.kind != kindDecode || src.owner != 0 {
		return 0, fmt.Errorf("%w: %d is not a free decode stream", ErrUnsupported, source)
	}

	e := &entry{
		id:         h.allocate(),
		kind:       kindTempo,
		dev:        dev,
		source:     source,
		src:        src.src,
		format:     src.format,
		baseRatio:  float64(src.format.SampleRate) / float64(dev.rate),
		pitchRatio: 1,
		tempoRatio: 1,
	}
	e.resampler = beep.ResampleRatio(resampleQuality, e.ratio(), src.src)
	e.gain = &effects.Gain{Streamer: e.resampler}

	id := e.id
	e.ctrl = &beep.Ctrl{
		Streamer: beep.Seq(e.gain, beep.Callback(func() {
			// runs on the audio thread with dev.mu held
			go h.finished(id)
		})),
		Paused: true,
	}

	src.owner = id
	h.handles[id] = e
	return id, nil
}

// SetAttribute implements Backend
func (h *Host) SetAttribute(handle int, attr Attribute, value float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	e, err := h.lookup(handle)
	if err != nil {
		return err
	}
	if e.kind != kindTempo {
		return fmt.Errorf("%w: %s on %s handle", ErrUnsupported, attr, e.kind)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("%w: %s=%v", ErrInvalidValue, attr, value)
	}

	switch attr {
	case AttrPitch:
		if math.Abs(value) > MaxPitchSemitones {
			return fmt.Errorf("%w: pitch %v outside ±%d semitones", ErrInvalidValue, value, MaxPitchSemitones)
		}
		e.pitchRatio = semitonesToRatio(value)
	case AttrTempo:
		if value <= MinTempoPercent || value > MaxTempoPercent {
			return fmt.Errorf("%w: tempo %v%% outside (%d, %d]", ErrInvalidValue, value, MinTempoPercent, MaxTempoPercent)
		}
		e.tempoRatio = percentToRatio(value)
	case AttrVolume:
		if value < 0 {
			return fmt.Errorf("%w: negative volume %v", ErrInvalidValue, value)
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupported, attr)
	}

	e.dev.mu.Lock()
	if attr == AttrVolume {
		e.gain.Gain = value - 1
	} else {
		e.resampler.SetRatio(e.ratio())
	}
	e.dev.mu.Unlock()
	return nil
}

// AttachToMixer implements Backend
func (h *Host) AttachToMixer(mixer, stream int, flags AttachFlags) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	m, err := h.lookup(mixer)
	if err != nil {
		return err
	}
	s, err := h.lookup(stream)
	if err != nil {
		return err
	}
	if m.kind != kindMixer || s.kind != kindTempo {
		return fmt.Errorf("%w: attach %s to %s", ErrUnsupported, s.kind, m.kind)
	}
	if s.parent != 0 {
		return fmt.Errorf("%w: stream %d already attached", ErrUnsupported, stream)
	}
	if m.dev != s.dev {
		return fmt.Errorf("%w: stream and mixer are on different devices", ErrUnsupported)
	}
	if s.format.Channels > audio.DefaultChannels && flags&AttachDownmix == 0 {
		return fmt.Errorf("%w: %d channel source needs downmix", ErrUnsupported, s.format.Channels)
	}

	s.parent = mixer
	s.autoFree = flags&AttachAutoFree != 0
	m.children[stream] = struct{}{}
	m.attached = true

	m.dev.mu.Lock()
	m.bus.Add(s.ctrl)
	m.dev.mu.Unlock()
	return nil
}

// Start implements Backend
func (h *Host) Start(handle int) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	e, err := h.lookup(handle)
	if err != nil {
		return err
	}
	if e.ctrl == nil {
		return fmt.Errorf("%w: start %s", ErrUnsupported, e.kind)
	}

	e.dev.mu.Lock()
	e.ctrl.Paused = false
	e.dev.mu.Unlock()
	return nil
}

// LengthSeconds implements Backend
func (h *Host) LengthSeconds(handle int) (float64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	e, err := h.lookup(handle)
	if err != nil {
		return 0, err
	}

	switch e.kind {
	case kindDecode:
		return float64(e.src.Len()) / float64(e.format.SampleRate), nil
	case kindTempo:
		return float64(e.src.Len()) / float64(e.format.SampleRate) / (e.pitchRatio * e.tempoRatio), nil
	default:
		return 0, fmt.Errorf("%w: length of %s", ErrUnsupported, e.kind)
	}
}

// FreeStream implements Backend
func (h *Host) FreeStream(handle int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.release(handle)
}

// finished handles a stream that played to its end
func (h *Host) finished(handle int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	e, ok := h.handles[handle]
	if !ok || !e.autoFree {
		return
	}
	logger.Debug("Stream ended, auto-freeing", "handle", handle)
	h.release(handle)
}

// release frees a handle and everything it owns (must hold h.mu)
func (h *Host) release(handle int) bool {
	e, ok := h.handles[handle]
	if !ok {
		return false
	}

	switch e.kind {
	case kindDecode:
		if e.owner != 0 {
			return h.release(e.owner)
		}
		delete(h.handles, handle)
		h.closeSource(e)

	case kindTempo:
		delete(h.handles, handle)
		delete(h.handles, e.source)
		h.detach(e)
		h.closeSource(e)

		if parent, ok := h.handles[e.parent]; ok {
			delete(parent.children, handle)
			if parent.attached && len(parent.children) == 0 {
				h.release(e.parent)
			}
		}

	case kindMixer:
		delete(h.handles, handle)
		for child := range e.children {
			if c, ok := h.handles[child]; ok {
				c.parent = 0
			}
			h.release(child)
		}
		h.detach(e)
	}
	return true
}

// detach stops the audio thread from pulling the entry's streamer. beep
// mixers drop a Ctrl whose Streamer is nil on the next pull.
func (h *Host) detach(e *entry) {
	e.dev.mu.Lock()
	e.ctrl.Streamer = nil
	e.dev.mu.Unlock()
}

func (h *Host) closeSource(e *entry) {
	if err := e.src.Close(); err != nil {
		logger.Warn("Failed to close source", "handle", e.id, "err", err)
	}
}

// Free implements Backend
func (h *Host) Free() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true

	for handle := range h.handles {
		h.release(handle)
	}

	var errs []error
	for id, dev := range h.devices {
		if err := dev.out.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close device %q: %w", dev.name, err))
		}
		delete(h.devices, id)
	}
	if err := h.driver.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close %s driver: %w", h.driver.Name(), err))
	}
	return errors.Join(errs...)
}
