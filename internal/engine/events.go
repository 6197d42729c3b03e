// ABOUTME: Change notifications for registry observers
// ABOUTME: Non-blocking fan-out so a slow UI never stalls the tick loop
package engine

import "sync"

// EventKind identifies what changed
type EventKind int

const (
	// EventPlayingChanged fires when instances are added to or removed from CurrentlyPlaying
	EventPlayingChanged EventKind = iota
	// EventQueueChanged fires when Queued changes
	EventQueueChanged
	// EventProgress fires on ticks that advanced at least one instance
	EventProgress
	// EventError carries a reported playback failure
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventPlayingChanged:
		return "playing_changed"
	case EventQueueChanged:
		return "queue_changed"
	case EventProgress:
		return "progress"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is a registry change notification. Observers re-read the snapshots.
type Event struct {
	Kind EventKind
	// Err is set for EventError
	Err error
}

const watchBuffer = 32

type watchers struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	next   int
	closed bool
}

func (w *watchers) subscribe() (<-chan Event, func()) {
	w.mu.Lock()
	defer w.mu.Unlock()

	ch := make(chan Event, watchBuffer)
	if w.closed {
		close(ch)
		return ch, func() {}
	}
	if w.subs == nil {
		w.subs = make(map[int]chan Event)
	}
	id := w.next
	w.next++
	w.subs[id] = ch

	return ch, func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if c, ok := w.subs[id]; ok {
			delete(w.subs, id)
			close(c)
		}
	}
}

// publish delivers ev to every subscriber, dropping it for full channels
func (w *watchers) publish(ev Event) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, ch := range w.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (w *watchers) closeAll() {
	w.mu.Lock()
	defer w.mu.Unlock()

	for id, ch := range w.subs {
		close(ch)
		delete(w.subs, id)
	}
	w.closed = true
}
