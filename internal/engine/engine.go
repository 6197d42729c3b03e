// ABOUTME: Soundboard playback engine command surface
// ABOUTME: Plays clips on resolved devices, tracks instances, queues and stops them
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Resonate-Protocol/soundboard-go/internal/backend"
	"github.com/Resonate-Protocol/soundboard-go/internal/metrics"
	"github.com/Resonate-Protocol/soundboard-go/pkg/audio"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// DefaultTickInterval is the scheduler period
const DefaultTickInterval = 200 * time.Millisecond

// Options configures an Engine
type Options struct {
	SampleRate   int
	TickInterval time.Duration
	Reporter     Reporter
	Metrics      *metrics.Metrics
	Logger       *log.Logger
}

// PlayParams are the inputs of a single-device play
type PlayParams struct {
	Path string

	// Volume and Multiplier are 0-100; the stream gain is their product
	Volume     int
	Multiplier int

	Device         string
	Loop           bool
	Name           string
	Pitch          float64
	Tempo          int
	Exclusive      bool
	ClientSendTime *time.Time
}

// Gain returns the linear stream gain for the clamped volume inputs
func (p PlayParams) Gain() float64 {
	return float64(clampPercent(p.Volume)) / 100 * float64(clampPercent(p.Multiplier)) / 100
}

func clampPercent(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// Engine is the soundboard playback engine. Commands are safe to call from any
// goroutine; failures are delivered to the Reporter.
type Engine struct {
	backend      backend.Backend
	resolver     *Resolver
	sampleRate   int
	tickInterval time.Duration
	reporter     Reporter
	metrics      *metrics.Metrics
	logger       *log.Logger

	// backendMu serializes device selection and stream construction
	backendMu sync.Mutex
	reg       registry
	watch     watchers

	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	startOnce   sync.Once
	disposeOnce sync.Once
	disposed    atomic.Bool
}

// New creates an engine on top of b. Call Start to run the scheduler.
func New(b backend.Backend, opts Options) *Engine {
	if opts.SampleRate <= 0 {
		opts.SampleRate = audio.DefaultSampleRate
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.Logger == nil {
		opts.Logger = log.WithPrefix("engine")
	}
	if opts.Reporter == nil {
		opts.Reporter = LogReporter{Logger: opts.Logger}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		backend:      b,
		resolver:     NewResolver(b),
		sampleRate:   opts.SampleRate,
		tickInterval: opts.TickInterval,
		reporter:     opts.Reporter,
		metrics:      opts.Metrics,
		logger:       opts.Logger,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Resolver returns the engine's device resolver
func (e *Engine) Resolver() *Resolver {
	return e.resolver
}

// report delivers a failure to the reporter and to watchers, and counts it
func (e *Engine) report(err error) {
	kind := "unknown"
	var pe *PlaybackError
	if errors.As(err, &pe) {
		kind = pe.Kind.String()
	}
	e.metrics.RecordError(kind)
	e.reporter.Report(err)
	e.watch.publish(Event{Kind: EventError, Err: err})
}

// Play plays clip on each of its output targets. Targets are independent: a
// failure on one is reported and the rest still play.
func (e *Engine) Play(clip SoundClip) {
	if e.disposed.Load() {
		return
	}
	if len(clip.Targets) == 0 {
		e.logger.Debug("Clip has no output targets", "clip", clip.DisplayName())
		return
	}

	for _, p := range clipParams(clip) {
		if _, err := e.play(p, 0, false); err != nil {
			e.report(err)
		}
	}
}

// clipParams expands a clip into one play per output target
func clipParams(clip SoundClip) []PlayParams {
	params := make([]PlayParams, len(clip.Targets))
	for i, t := range clip.Targets {
		params[i] = PlayParams{
			Path:           clip.Path,
			Volume:         t.Volume,
			Multiplier:     clip.Volume,
			Device:         t.Device,
			Loop:           clip.Loop,
			Name:           clip.DisplayName(),
			Pitch:          clip.Pitch,
			Tempo:          clip.Tempo,
			Exclusive:      clip.Exclusive,
			ClientSendTime: clip.ClientSendTime,
		}
	}
	return params
}

// PlayFile plays a file on a single device
func (e *Engine) PlayFile(p PlayParams) {
	if e.disposed.Load() {
		return
	}
	if _, err := e.play(p, 0, false); err != nil {
		e.report(err)
	}
}

// play runs the construction pipeline for one device and registers the
// instance. With checkGen set the instance is discarded if Reset ran since
// generation gen was observed; a nil instance and nil error mean discarded.
func (e *Engine) play(p PlayParams, gen uint64, checkGen bool) (*PlayingClip, error) {
	if p.Name == "" {
		p.Name = NameFromPath(p.Path)
	}

	devID, err := e.resolver.Resolve(p.Device)
	if err != nil {
		return nil, err
	}

	e.backendMu.Lock()
	defer e.backendMu.Unlock()

	if e.disposed.Load() {
		return nil, nil
	}

	b := e.backend
	if err := b.InitDevice(devID, e.sampleRate); err != nil && !errors.Is(err, backend.ErrAlreadyInitialized) {
		return nil, &PlaybackError{Kind: DeviceInitFailure, Device: p.Device, Path: p.Path, Err: err}
	}
	if err := b.SetCurrentDevice(devID); err != nil {
		return nil, &PlaybackError{Kind: DeviceInitFailure, Device: p.Device, Path: p.Path, Err: err}
	}

	mixer, err := b.CreateMixer(e.sampleRate, audio.DefaultChannels)
	if err != nil {
		return nil, &PlaybackError{Kind: StreamCreationFailure, Device: p.Device, Path: p.Path, Err: fmt.Errorf("create mixer: %w", err)}
	}

	dec, err := b.CreateDecodeStream(p.Path)
	if err != nil {
		b.FreeStream(mixer)
		return nil, &PlaybackError{Kind: StreamCreationFailure, Device: p.Device, Path: p.Path, Err: err}
	}

	fx, err := b.CreateTempoStream(dec)
	if err != nil {
		b.FreeStream(dec)
		b.FreeStream(mixer)
		return nil, &PlaybackError{Kind: StreamCreationFailure, Device: p.Device, Path: p.Path, Err: fmt.Errorf("create tempo stage: %w", err)}
	}

	e.setAttribute(p, fx, backend.AttrPitch, p.Pitch)
	e.setAttribute(p, fx, backend.AttrVolume, p.Gain())
	if p.Tempo != 0 {
		e.setAttribute(p, fx, backend.AttrTempo, float64(p.Tempo))
	}

	secs, err := b.LengthSeconds(fx)
	if err != nil {
		b.FreeStream(fx)
		b.FreeStream(mixer)
		return nil, &PlaybackError{Kind: ConstructionError, Device: p.Device, Path: p.Path, Err: err}
	}
	inst, err := NewPlayingClip(p, fx, time.Duration(secs*float64(time.Second)))
	if err != nil {
		b.FreeStream(fx)
		b.FreeStream(mixer)
		return nil, &PlaybackError{Kind: ConstructionError, Device: p.Device, Path: p.Path, Err: err}
	}

	if err := b.AttachToMixer(mixer, fx, backend.AttachAutoFree|backend.AttachDownmix); err != nil {
		b.FreeStream(fx)
		b.FreeStream(mixer)
		return nil, &PlaybackError{Kind: StreamCreationFailure, Device: p.Device, Path: p.Path, Err: fmt.Errorf("attach: %w", err)}
	}
	if err := b.Start(mixer); err != nil {
		b.FreeStream(fx)
		return nil, &PlaybackError{Kind: StreamCreationFailure, Device: p.Device, Path: p.Path, Err: fmt.Errorf("start mixer: %w", err)}
	}

	e.reg.playingMu.Lock()
	if checkGen && e.reg.generation != gen {
		e.reg.playingMu.Unlock()
		b.FreeStream(fx)
		e.logger.Debug("Discarding restart after reset", "clip", p.Name)
		return nil, nil
	}
	e.reg.addPlaying(inst)
	out := *inst
	e.metrics.SetPlaying(len(e.reg.playing))
	e.reg.playingMu.Unlock()

	if err := b.Start(fx); err != nil {
		e.reg.playingMu.Lock()
		e.reg.removePlaying(fx)
		e.metrics.SetPlaying(len(e.reg.playing))
		e.reg.playingMu.Unlock()
		b.FreeStream(fx)
		return nil, &PlaybackError{Kind: StreamCreationFailure, Device: p.Device, Path: p.Path, Err: fmt.Errorf("start stream: %w", err)}
	}

	e.metrics.RecordPlay(p.Device)
	e.logger.Debug("Playing", "clip", out.Name, "device", out.OutputDevice, "handle", out.Handle, "length", out.Length)
	e.watch.publish(Event{Kind: EventPlayingChanged})

	return &out, nil
}

// setAttribute applies an attribute, reporting failure as a warning
func (e *Engine) setAttribute(p PlayParams, handle int, attr backend.Attribute, value float64) {
	if err := e.backend.SetAttribute(handle, attr, value); err != nil {
		e.report(&PlaybackError{
			Kind:   DegradedAttributeSet,
			Device: p.Device,
			Path:   p.Path,
			Err:    fmt.Errorf("set %s: %w", attr, err),
		})
	}
}

// AddToQueue appends a copy of clip to the queue and returns its queue ID
func (e *Engine) AddToQueue(clip SoundClip) string {
	if e.disposed.Load() {
		return ""
	}

	c := clip.Clone()
	if c.ID == "" {
		c.ID = uuid.New().String()
	}

	e.reg.queueMu.Lock()
	e.reg.addQueued(c)
	e.metrics.SetQueued(len(e.reg.queued))
	e.reg.queueMu.Unlock()

	e.watch.publish(Event{Kind: EventQueueChanged})
	return c.ID
}

// RemoveFromQueue removes the queued clip with clip's ID, or the first one
// equal to clip when it has no ID. No-op if absent.
func (e *Engine) RemoveFromQueue(clip SoundClip) bool {
	if e.disposed.Load() {
		return false
	}

	e.reg.queueMu.Lock()
	removed := e.reg.removeQueued(clip)
	e.metrics.SetQueued(len(e.reg.queued))
	e.reg.queueMu.Unlock()

	if removed {
		e.watch.publish(Event{Kind: EventQueueChanged})
	}
	return removed
}

// StopPlaying stops the instance with handle. No-op if it is already gone.
func (e *Engine) StopPlaying(handle int) bool {
	if e.disposed.Load() {
		return false
	}

	e.reg.playingMu.Lock()
	_, removed := e.reg.removePlaying(handle)
	e.metrics.SetPlaying(len(e.reg.playing))
	e.reg.playingMu.Unlock()

	e.backend.FreeStream(handle)

	if removed {
		e.metrics.RecordStops("handle", 1)
		e.watch.publish(Event{Kind: EventPlayingChanged})
	}
	return removed
}

// StopMatchingName stops every instance whose name contains substr
// (case-sensitive) and returns how many were stopped
func (e *Engine) StopMatchingName(substr string) int {
	n := e.stopWhere(func(p *PlayingClip) bool {
		return strings.Contains(p.Name, substr)
	})
	e.metrics.RecordStops("name", n)
	return n
}

// StopExclusive stops every exclusive instance. When ref is set, instances
// carrying a client send time newer than ref are kept: a stop that was sent
// before a play must not cancel it.
func (e *Engine) StopExclusive(ref *time.Time) int {
	n := e.stopWhere(func(p *PlayingClip) bool {
		if !p.Exclusive {
			return false
		}
		if ref == nil || p.ClientSendTime == nil {
			return true
		}
		return !p.ClientSendTime.After(*ref)
	})
	e.metrics.RecordStops("exclusive", n)
	return n
}

// stopWhere removes matching instances and frees their streams
func (e *Engine) stopWhere(match func(*PlayingClip) bool) int {
	if e.disposed.Load() {
		return 0
	}

	e.reg.playingMu.Lock()
	removed := e.reg.removePlayingFunc(match)
	e.metrics.SetPlaying(len(e.reg.playing))
	e.reg.playingMu.Unlock()

	for _, p := range removed {
		e.backend.FreeStream(p.Handle)
	}
	if len(removed) > 0 {
		e.watch.publish(Event{Kind: EventPlayingChanged})
	}
	return len(removed)
}

// Reset clears the queue and stops everything that is playing
func (e *Engine) Reset() {
	if e.disposed.Load() {
		return
	}
	e.reset()
}

func (e *Engine) reset() {
	e.reg.queueMu.Lock()
	e.reg.clearQueued()
	e.metrics.SetQueued(0)
	e.reg.queueMu.Unlock()

	e.reg.playingMu.Lock()
	removed := e.reg.clearPlaying()
	e.metrics.SetPlaying(0)
	e.reg.playingMu.Unlock()

	for _, p := range removed {
		e.backend.FreeStream(p.Handle)
	}
	e.metrics.RecordStops("reset", len(removed))

	e.watch.publish(Event{Kind: EventQueueChanged})
	e.watch.publish(Event{Kind: EventPlayingChanged})
}

// Dispose stops the scheduler, stops all playback and releases the backend.
// The engine is unusable afterwards; further commands are no-ops.
func (e *Engine) Dispose() {
	e.disposeOnce.Do(func() {
		e.cancel()
		e.wg.Wait()

		e.reset()

		e.backendMu.Lock()
		e.disposed.Store(true)
		if err := e.backend.Free(); err != nil {
			e.logger.Warn("Backend teardown failed", "err", err)
		}
		e.backendMu.Unlock()

		// plays that raced the reset were released by Free
		e.reg.playingMu.Lock()
		e.reg.clearPlaying()
		e.reg.playingMu.Unlock()

		e.watch.closeAll()
		e.logger.Info("Engine disposed")
	})
}

// CurrentlyPlaying returns a snapshot of the playing instances in start order
func (e *Engine) CurrentlyPlaying() []PlayingClip {
	return e.reg.snapshotPlaying()
}

// Queued returns a snapshot of the queue, head first
func (e *Engine) Queued() []SoundClip {
	return e.reg.snapshotQueued()
}

// Watch subscribes to registry changes. Call cancel to unsubscribe; the
// channel is closed on cancel or Dispose.
func (e *Engine) Watch() (<-chan Event, func()) {
	return e.watch.subscribe()
}

// OutputDevices lists the selectable output device names
func (e *Engine) OutputDevices() ([]string, error) {
	return e.resolver.OutputDevices()
}

// MissingDevices returns the target devices that are not currently available
func (e *Engine) MissingDevices(targets []OutputTarget) []string {
	return e.resolver.MissingDevices(targets)
}
