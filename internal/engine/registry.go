// ABOUTME: Playback registry holding the currently playing and queued collections
// ABOUTME: Each collection has its own lock; mutators expect the matching lock held
package engine

import "sync"

// registry owns CurrentlyPlaying and Queued. Lock order across the engine is
// queueMu, then the engine's backendMu, then playingMu.
type registry struct {
	playingMu  sync.Mutex
	playing    []*PlayingClip
	generation uint64

	queueMu sync.Mutex
	queued  []SoundClip
}

// addPlaying appends an instance (must hold playingMu)
func (r *registry) addPlaying(p *PlayingClip) {
	for _, existing := range r.playing {
		if existing.Handle == p.Handle {
			return
		}
	}
	r.playing = append(r.playing, p)
}

// removePlaying removes the instance with handle (must hold playingMu)
func (r *registry) removePlaying(handle int) (*PlayingClip, bool) {
	for i, p := range r.playing {
		if p.Handle == handle {
			r.playing = append(r.playing[:i], r.playing[i+1:]...)
			return p, true
		}
	}
	return nil, false
}

// removePlayingFunc removes every instance matching fn, preserving order (must hold playingMu)
func (r *registry) removePlayingFunc(fn func(*PlayingClip) bool) []*PlayingClip {
	var removed []*PlayingClip
	kept := r.playing[:0]
	for _, p := range r.playing {
		if fn(p) {
			removed = append(removed, p)
		} else {
			kept = append(kept, p)
		}
	}
	clear(r.playing[len(kept):])
	r.playing = kept
	return removed
}

// clearPlaying empties the collection and invalidates in-flight loop restarts (must hold playingMu)
func (r *registry) clearPlaying() []*PlayingClip {
	removed := r.playing
	r.playing = nil
	r.generation++
	return removed
}

// snapshotPlaying copies the collection
func (r *registry) snapshotPlaying() []PlayingClip {
	r.playingMu.Lock()
	defer r.playingMu.Unlock()

	out := make([]PlayingClip, len(r.playing))
	for i, p := range r.playing {
		out[i] = *p
	}
	return out
}

// addQueued appends a clip (must hold queueMu)
func (r *registry) addQueued(c SoundClip) {
	r.queued = append(r.queued, c)
}

// removeQueued removes the first clip with the same ID, or equal by value
// when c has no ID (must hold queueMu)
func (r *registry) removeQueued(c SoundClip) bool {
	for i, q := range r.queued {
		match := false
		if c.ID != "" {
			match = q.ID == c.ID
		} else {
			match = q.Equal(c)
		}
		if match {
			r.queued = append(r.queued[:i], r.queued[i+1:]...)
			return true
		}
	}
	return false
}

// clearQueued empties the queue (must hold queueMu)
func (r *registry) clearQueued() {
	r.queued = nil
}

// snapshotQueued deep-copies the queue
func (r *registry) snapshotQueued() []SoundClip {
	r.queueMu.Lock()
	defer r.queueMu.Unlock()

	out := make([]SoundClip, len(r.queued))
	for i, c := range r.queued {
		out[i] = c.Clone()
	}
	return out
}
