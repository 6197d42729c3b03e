// ABOUTME: Fixed-period scheduler advancing playback positions
// ABOUTME: Removes finished clips, restarts loops and promotes the queue head when idle
package engine

import (
	"slices"
	"time"
)

// Start launches the scheduler goroutine. Calling it more than once has no effect.
func (e *Engine) Start() {
	e.startOnce.Do(func() {
		if e.disposed.Load() {
			return
		}
		e.wg.Add(1)
		go e.run()
		e.logger.Debug("Scheduler started", "interval", e.tickInterval)
	})
}

// run is the scheduler loop
func (e *Engine) run() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.tick()
		}
	}
}

// tick advances every instance by one period, retires finished ones,
// restarts loops and promotes the queue head if nothing is playing.
func (e *Engine) tick() {
	if e.disposed.Load() {
		return
	}
	start := time.Now()
	defer func() { e.metrics.ObserveTick(time.Since(start).Seconds()) }()

	e.reg.playingMu.Lock()
	gen := e.reg.generation
	advanced := len(e.reg.playing) > 0
	for _, p := range e.reg.playing {
		p.Position += e.tickInterval
	}
	completed := e.reg.removePlayingFunc((*PlayingClip).Done)
	e.metrics.SetPlaying(len(e.reg.playing))
	e.reg.playingMu.Unlock()

	for _, p := range completed {
		// auto-free normally released the handle at its natural end, so this
		// is a no-op for both finished and looping instances
		e.backend.FreeStream(p.Handle)

		if !p.Loop {
			e.metrics.RecordCompletion()
			e.logger.Debug("Clip finished", "clip", p.Name, "device", p.OutputDevice)
			continue
		}

		inst, err := e.play(p.Params(), gen, true)
		if err != nil {
			e.report(err)
			continue
		}
		if inst != nil {
			e.metrics.RecordLoopRestart()
			e.logger.Debug("Clip looped", "clip", p.Name, "old", p.Handle, "new", inst.Handle)
		}
	}

	if len(completed) > 0 {
		e.watch.publish(Event{Kind: EventPlayingChanged})
	}
	if advanced {
		e.watch.publish(Event{Kind: EventProgress})
	}

	e.promote()
}

// promote plays the queue head when nothing is playing
func (e *Engine) promote() {
	e.reg.queueMu.Lock()
	defer e.reg.queueMu.Unlock()

	if len(e.reg.queued) == 0 {
		return
	}

	e.reg.playingMu.Lock()
	idle := len(e.reg.playing) == 0
	gen := e.reg.generation
	e.reg.playingMu.Unlock()
	if !idle {
		return
	}

	head := e.reg.queued[0]
	e.logger.Debug("Promoting queued clip", "clip", head.DisplayName(), "id", head.ID)
	for _, p := range clipParams(head) {
		if _, err := e.play(p, gen, true); err != nil {
			e.report(err)
		}
	}

	e.reg.queued = slices.Delete(e.reg.queued, 0, 1)
	e.metrics.SetQueued(len(e.reg.queued))
	e.metrics.RecordPromotion()
	e.watch.publish(Event{Kind: EventQueueChanged})
}
