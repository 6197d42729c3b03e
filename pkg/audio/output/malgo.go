// ABOUTME: Malgo-based audio output driver
// ABOUTME: Uses miniaudio via malgo to enumerate named devices and play 16-bit stereo
package output

import (
	"fmt"
	"sync"

	"github.com/Resonate-Protocol/soundboard-go/pkg/audio"
	"github.com/charmbracelet/log"
	"github.com/gen2brain/malgo"
)

// Malgo driver implementation using the malgo/miniaudio library
type Malgo struct {
	mu       sync.Mutex
	malgoCtx *malgo.AllocatedContext
	infos    []malgo.DeviceInfo
}

// NewMalgo creates a new Malgo driver. The miniaudio context is created lazily.
func NewMalgo() *Malgo {
	return &Malgo{}
}

// Name implements Driver
func (m *Malgo) Name() string { return "malgo" }

// context returns the miniaudio context (must hold m.mu)
func (m *Malgo) context() (*malgo.AllocatedContext, error) {
	if m.malgoCtx != nil {
		return m.malgoCtx, nil
	}
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		log.Debug("miniaudio", "msg", message)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize malgo context: %w", err)
	}
	m.malgoCtx = ctx
	return ctx, nil
}

// Devices implements Driver
func (m *Malgo) Devices() ([]DeviceInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, err := m.context()
	if err != nil {
		return nil, err
	}

	infos, err := ctx.Devices(malgo.Playback)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate playback devices: %w", err)
	}
	m.infos = infos

	devices := make([]DeviceInfo, len(infos))
	for i, info := range infos {
		devices[i] = DeviceInfo{
			Name:      info.Name(),
			IsDefault: info.IsDefault != 0,
			index:     i,
		}
	}
	return devices, nil
}

// Open implements Driver
func (m *Malgo) Open(device *DeviceInfo, sampleRate int, src Source) (Output, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, err := m.context()
	if err != nil {
		return nil, err
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = audio.DefaultChannels
	deviceConfig.SampleRate = uint32(sampleRate)
	deviceConfig.Alsa.NoMMap = 1

	name := "default"
	if device != nil {
		if device.index < 0 || device.index >= len(m.infos) || m.infos[device.index].Name() != device.Name {
			return nil, fmt.Errorf("%w: %s", ErrDeviceUnavailable, device.Name)
		}
		deviceConfig.Playback.DeviceID = m.infos[device.index].ID.Pointer()
		name = device.Name
	}

	out := &malgoOutput{src: src}
	deviceCallbacks := malgo.DeviceCallbacks{
		Data: func(pOutputSample, pInputSamples []byte, frameCount uint32) {
			out.dataCallback(pOutputSample, frameCount)
		},
	}

	dev, err := malgo.InitDevice(ctx.Context, deviceConfig, deviceCallbacks)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize playback device %s: %w", name, err)
	}

	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, fmt.Errorf("failed to start device %s: %w", name, err)
	}
	out.device = dev

	log.Info("Audio output initialized", "driver", "malgo", "device", name, "rate", sampleRate)
	return out, nil
}

// Close implements Driver
func (m *Malgo) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.malgoCtx != nil {
		if err := m.malgoCtx.Uninit(); err != nil {
			log.Warn("malgo context uninit error", "err", err)
		}
		m.malgoCtx.Free()
		m.malgoCtx = nil
	}
	m.infos = nil
	return nil
}

// malgoOutput is one open miniaudio playback device
type malgoOutput struct {
	device *malgo.Device
	src    Source
	frames [][2]float64
	once   sync.Once
}

// dataCallback is called by malgo to fill the audio output buffer
func (o *malgoOutput) dataCallback(pOutput []byte, frameCount uint32) {
	n := int(frameCount)
	if cap(o.frames) < n {
		o.frames = make([][2]float64, n)
	}
	frames := o.frames[:n]
	for i := range frames {
		frames[i] = [2]float64{}
	}

	o.src(frames)
	audio.EncodeS16LE(pOutput, frames)
}

// Close stops and uninitializes the device
func (o *malgoOutput) Close() error {
	var err error
	o.once.Do(func() {
		if stopErr := o.device.Stop(); stopErr != nil {
			err = fmt.Errorf("device stop error: %w", stopErr)
		}
		o.device.Uninit()
	})
	return err
}
