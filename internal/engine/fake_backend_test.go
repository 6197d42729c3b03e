// ABOUTME: Scripted in-memory backend for engine tests
// ABOUTME: Records every call so tests can assert on the construction pipeline
package engine

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Resonate-Protocol/soundboard-go/internal/backend"
)

type fakeHandle struct {
	kind    string
	path    string
	device  int
	source  int
	parent  int
	started bool
	attrs   map[backend.Attribute]float64
}

type fakeBackend struct {
	mu sync.Mutex

	devices    []string
	devicesErr error
	initErr    map[int]error
	attrErr    map[backend.Attribute]error
	lengths    map[string]float64
	freeErr    error

	initialized map[int]bool
	current     int
	next        int
	handles     map[int]*fakeHandle
	opened      []string
	freed       []int
	freeCalls   int
}

func newFakeBackend(devices ...string) *fakeBackend {
	return &fakeBackend{
		devices:     append([]string{backend.NoSoundName, backend.DefaultName}, devices...),
		initErr:     make(map[int]error),
		attrErr:     make(map[backend.Attribute]error),
		lengths:     make(map[string]float64),
		initialized: make(map[int]bool),
		handles:     make(map[int]*fakeHandle),
	}
}

func (f *fakeBackend) Devices() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.devicesErr != nil {
		return nil, f.devicesErr
	}
	return append([]string(nil), f.devices...), nil
}

func (f *fakeBackend) InitDevice(id, sampleRate int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.initErr[id]; err != nil {
		return err
	}
	if f.initialized[id] {
		return backend.ErrAlreadyInitialized
	}
	f.initialized[id] = true
	return nil
}

func (f *fakeBackend) SetCurrentDevice(id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.initialized[id] {
		return backend.ErrNotInitialized
	}
	f.current = id
	return nil
}

func (f *fakeBackend) add(h *fakeHandle) int {
	f.next++
	f.handles[f.next] = h
	return f.next
}

func (f *fakeBackend) CreateMixer(sampleRate, channels int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.add(&fakeHandle{kind: "mixer", device: f.current}), nil
}

func (f *fakeBackend) CreateDecodeStream(path string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.lengths[path]; !ok {
		return 0, fmt.Errorf("cannot decode %s", path)
	}
	f.opened = append(f.opened, path)
	return f.add(&fakeHandle{kind: "decode", path: path, device: f.current}), nil
}

func (f *fakeBackend) CreateTempoStream(source int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	src, ok := f.handles[source]
	if !ok {
		return 0, backend.ErrUnknownHandle
	}
	return f.add(&fakeHandle{
		kind:   "tempo",
		path:   src.path,
		device: f.current,
		source: source,
		attrs:  make(map[backend.Attribute]float64),
	}), nil
}

func (f *fakeBackend) SetAttribute(handle int, attr backend.Attribute, value float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.attrErr[attr]; err != nil {
		return err
	}
	h, ok := f.handles[handle]
	if !ok {
		return backend.ErrUnknownHandle
	}
	h.attrs[attr] = value
	return nil
}

func (f *fakeBackend) AttachToMixer(mixer, stream int, flags backend.AttachFlags) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.handles[stream]
	if !ok {
		return backend.ErrUnknownHandle
	}
	h.parent = mixer
	return nil
}

func (f *fakeBackend) Start(handle int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.handles[handle]
	if !ok {
		return backend.ErrUnknownHandle
	}
	h.started = true
	return nil
}

func (f *fakeBackend) FreeStream(handle int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.handles[handle]
	if !ok {
		return false
	}
	delete(f.handles, handle)
	f.freed = append(f.freed, handle)
	if h.kind == "tempo" {
		delete(f.handles, h.source)
		if h.parent != 0 {
			delete(f.handles, h.parent)
		}
	}
	return true
}

func (f *fakeBackend) LengthSeconds(handle int) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.handles[handle]
	if !ok {
		return 0, backend.ErrUnknownHandle
	}
	length := f.lengths[h.path]
	if length < 0 {
		return 0, errors.New("length query failed")
	}
	return length, nil
}

func (f *fakeBackend) Free() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.freeCalls++
	f.handles = make(map[int]*fakeHandle)
	return f.freeErr
}

// live reports whether handle has not been freed
func (f *fakeBackend) live(handle int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.handles[handle]
	return ok
}

func (f *fakeBackend) handle(handle int) fakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.handles[handle]
}

func (f *fakeBackend) openedPaths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.opened...)
}

func (f *fakeBackend) liveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handles)
}

var _ backend.Backend = (*fakeBackend)(nil)

// recordingReporter collects reported errors
type recordingReporter struct {
	mu   sync.Mutex
	errs []error
}

func (r *recordingReporter) Report(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recordingReporter) kinds() []ErrorKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var kinds []ErrorKind
	for _, err := range r.errs {
		var pe *PlaybackError
		if errors.As(err, &pe) {
			kinds = append(kinds, pe.Kind)
		}
	}
	return kinds
}
