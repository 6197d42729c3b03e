// ABOUTME: Oto-based audio output driver
// ABOUTME: Plays the mixed stream on the system default device through an oto player
package output

import (
	"fmt"
	"sync"

	"github.com/Resonate-Protocol/soundboard-go/pkg/audio"
	"github.com/charmbracelet/log"
	"github.com/ebitengine/oto/v3"
)

// Oto driver implementation using the oto library. oto only exposes the
// default device and allows one context per process.
type Oto struct {
	mu         sync.Mutex
	otoCtx     *oto.Context
	sampleRate int
	open       bool
}

// NewOto creates a new Oto driver
func NewOto() *Oto {
	return &Oto{}
}

// Name implements Driver
func (o *Oto) Name() string { return "oto" }

// Devices implements Driver. Only the default device is reachable.
func (o *Oto) Devices() ([]DeviceInfo, error) {
	return []DeviceInfo{{Name: "System output", IsDefault: true}}, nil
}

// Open implements Driver
func (o *Oto) Open(device *DeviceInfo, sampleRate int, src Source) (Output, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if device != nil && !device.IsDefault {
		return nil, fmt.Errorf("%w: oto can only play on the default device", ErrDeviceUnavailable)
	}
	if o.open {
		return nil, fmt.Errorf("%w: oto device already in use", ErrDeviceUnavailable)
	}

	if o.otoCtx == nil {
		op := &oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: audio.DefaultChannels,
			Format:       oto.FormatSignedInt16LE,
		}
		ctx, readyChan, err := oto.NewContext(op)
		if err != nil {
			return nil, fmt.Errorf("failed to create oto context: %w", err)
		}
		<-readyChan
		o.otoCtx = ctx
		o.sampleRate = sampleRate
	} else {
		if o.sampleRate != sampleRate {
			log.Warn("oto doesn't support reinitialization, keeping existing rate",
				"have", o.sampleRate, "requested", sampleRate)
		}
		if err := o.otoCtx.Resume(); err != nil {
			return nil, fmt.Errorf("failed to resume oto context: %w", err)
		}
	}

	player := o.otoCtx.NewPlayer(&sourceReader{src: src})
	player.Play()
	o.open = true

	log.Info("Audio output initialized", "driver", "oto", "rate", o.sampleRate)
	return &otoOutput{driver: o, player: player}, nil
}

// Close implements Driver
func (o *Oto) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.otoCtx != nil {
		if err := o.otoCtx.Suspend(); err != nil {
			return fmt.Errorf("failed to suspend oto context: %w", err)
		}
	}
	return nil
}

type otoOutput struct {
	driver *Oto
	player *oto.Player
	once   sync.Once
}

func (p *otoOutput) Close() error {
	var err error
	p.once.Do(func() {
		err = p.player.Close()
		p.driver.mu.Lock()
		p.driver.open = false
		p.driver.mu.Unlock()
	})
	return err
}

// sourceReader adapts a Source to the io.Reader oto pulls PCM bytes from
type sourceReader struct {
	src    Source
	frames [][2]float64
}

func (r *sourceReader) Read(p []byte) (int, error) {
	n := len(p) / audio.BytesPerFrame
	if n == 0 {
		return 0, nil
	}
	if cap(r.frames) < n {
		r.frames = make([][2]float64, n)
	}
	frames := r.frames[:n]
	for i := range frames {
		frames[i] = [2]float64{}
	}

	r.src(frames)
	audio.EncodeS16LE(p, frames)
	return n * audio.BytesPerFrame, nil
}
